package gatt

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
)

// A Peripheral is a connected remote device. It is shared by every
// ClientSession connected to the same address, and caches the
// discovered services for all of them.
type Peripheral struct {
	addr BDAddr
	c    *Client

	mu        sync.Mutex
	connected bool
	sessions  map[int]*ClientSession
	svcs      []*RemoteService // nil until discovered
}

func newPeripheral(c *Client, addr BDAddr) *Peripheral {
	return &Peripheral{
		addr:      addr,
		c:         c,
		connected: true,
		sessions:  make(map[int]*ClientSession),
	}
}

// Address returns the remote device address.
func (p *Peripheral) Address() BDAddr { return p.addr }

func (p *Peripheral) attach(s *ClientSession) {
	p.mu.Lock()
	p.sessions[s.id] = s
	p.mu.Unlock()
}

// detach removes the session and returns how many remain.
func (p *Peripheral) detach(id int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
	return len(p.sessions)
}

func (p *Peripheral) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Peripheral) callbacks() []ClientCallbacks {
	p.mu.Lock()
	defer p.mu.Unlock()
	cbs := make([]ClientCallbacks, 0, len(p.sessions))
	for _, s := range p.sessions {
		cbs = append(cbs, s.cb)
	}
	return cbs
}

// services discovers the primary services on first use.
func (p *Peripheral) services() ([]*RemoteService, error) {
	p.mu.Lock()
	svcs := p.svcs
	p.mu.Unlock()
	if svcs != nil {
		return svcs, nil
	}

	aa, err := p.c.t.Attributes(p.addr, 0x0001, 0xFFFF)
	if err != nil {
		return nil, &ClientError{Op: "discover services", Err: err}
	}
	svcs = []*RemoteService{}
	var cur *RemoteService
	for _, a := range aa {
		if !a.Type.Equal(AttrPrimaryServiceUUID) {
			if cur != nil {
				cur.end = a.Handle
			}
			continue
		}
		u, ok := uuidFromBytes(a.Value)
		if !ok {
			cur = nil
			continue
		}
		cur = &RemoteService{p: p, uuid: u, start: a.Handle, end: a.Handle}
		svcs = append(svcs, cur)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.svcs == nil {
		p.svcs = svcs
	}
	return p.svcs, nil
}

func (p *Peripheral) invalidate() {
	p.mu.Lock()
	p.svcs = nil
	p.mu.Unlock()
}

// characteristic finds a discovered characteristic by value handle.
func (p *Peripheral) characteristic(vh uint16) *RemoteCharacteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.svcs {
		if vh < s.start || vh > s.end {
			continue
		}
		for _, c := range s.chars {
			if c.vh == vh {
				return c
			}
		}
	}
	return nil
}

// OnValue implements TransportEvents.
func (p *Peripheral) OnValue(addr BDAddr, h uint16, v []byte) {
	c := p.characteristic(h)
	if c == nil {
		p.c.logger.WithFields(logrus.Fields{
			"device": addr.String(),
			"handle": h,
		}).Debug("value for undiscovered characteristic")
		return
	}
	for _, cb := range p.callbacks() {
		if cb.OnNotification != nil {
			cb.OnNotification(c, v)
		}
	}
}

// OnDisconnect implements TransportEvents.
func (p *Peripheral) OnDisconnect(addr BDAddr) {
	p.c.forget(p)
	p.mu.Lock()
	p.connected = false
	p.svcs = nil
	p.mu.Unlock()
	for _, cb := range p.callbacks() {
		if cb.OnDisconnect != nil {
			cb.OnDisconnect()
		}
	}
}

// propertyChanged records a subscription change confirmed by the remote
// device and reports it to every session.
func (p *Peripheral) propertyChanged(c *RemoteCharacteristic, notifying, indicating bool) {
	p.mu.Lock()
	c.notifying, c.indicating = notifying, indicating
	p.mu.Unlock()
	for _, cb := range p.callbacks() {
		if cb.OnPropertyChanged != nil {
			cb.OnPropertyChanged(c, notifying, indicating)
		}
	}
}

// A RemoteService is a service discovered on a Peripheral.
type RemoteService struct {
	p          *Peripheral
	uuid       UUID
	start, end uint16

	chars []*RemoteCharacteristic // guarded by p.mu; nil until discovered
}

// UUID returns the service UUID.
func (s *RemoteService) UUID() UUID { return s.uuid }

// Handle returns the service declaration handle.
func (s *RemoteService) Handle() uint16 { return s.start }

// EndHandle returns the last handle of the service.
func (s *RemoteService) EndHandle() uint16 { return s.end }

// Characteristics discovers the characteristics of s on first use.
// The result is cached until Invalidate is called.
func (s *RemoteService) Characteristics() ([]*RemoteCharacteristic, error) {
	p := s.p
	p.mu.Lock()
	chars := s.chars
	p.mu.Unlock()
	if chars != nil {
		return chars, nil
	}

	aa, err := p.c.t.Attributes(p.addr, s.start, s.end)
	if err != nil {
		return nil, &ClientError{Op: "discover characteristics", Handle: s.start, Err: err}
	}
	chars = []*RemoteCharacteristic{}
	var cur *RemoteCharacteristic
	for _, a := range aa {
		switch {
		case a.Type.Equal(AttrCharacteristicUUID):
			cur = parseCharDecl(s, a)
			if cur != nil {
				chars = append(chars, cur)
			}
		case cur == nil || a.Handle <= cur.vh:
		case a.Type.Equal(AttrClientCharacteristicConfigUUID):
			cur.ccc = a.Handle
			cur.descs = append(cur.descs, &RemoteDescriptor{c: cur, uuid: a.Type, h: a.Handle})
		default:
			cur.descs = append(cur.descs, &RemoteDescriptor{c: cur, uuid: a.Type, h: a.Handle})
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.chars == nil {
		s.chars = chars
	}
	return s.chars, nil
}

// Invalidate drops the cached characteristics of s.
func (s *RemoteService) Invalidate() {
	s.p.mu.Lock()
	s.chars = nil
	s.p.mu.Unlock()
}

// parseCharDecl decodes a characteristic declaration:
// properties, value handle, UUID.
func parseCharDecl(s *RemoteService, a RemoteAttribute) *RemoteCharacteristic {
	if len(a.Value) < 5 {
		return nil
	}
	u, ok := uuidFromBytes(a.Value[3:])
	if !ok {
		return nil
	}
	return &RemoteCharacteristic{
		svc:   s,
		uuid:  u,
		props: Property(a.Value[0]),
		h:     a.Handle,
		vh:    binary.LittleEndian.Uint16(a.Value[1:3]),
	}
}

// A RemoteCharacteristic is a characteristic discovered on a Peripheral.
type RemoteCharacteristic struct {
	svc   *RemoteService
	uuid  UUID
	props Property
	h     uint16
	vh    uint16
	ccc   uint16
	descs []*RemoteDescriptor

	notifying  bool // guarded by svc.p.mu
	indicating bool
}

// UUID returns the characteristic UUID.
func (c *RemoteCharacteristic) UUID() UUID { return c.uuid }

// Service returns the service c belongs to.
func (c *RemoteCharacteristic) Service() *RemoteService { return c.svc }

// Properties returns the properties from the characteristic declaration.
func (c *RemoteCharacteristic) Properties() Property { return c.props }

// ValueHandle returns the handle of the characteristic value.
func (c *RemoteCharacteristic) ValueHandle() uint16 { return c.vh }

// Descriptors returns the descriptors of c, the CCC included.
func (c *RemoteCharacteristic) Descriptors() []*RemoteDescriptor { return c.descs }

// Subscription returns the last subscription state confirmed through
// OnPropertyChanged.
func (c *RemoteCharacteristic) Subscription() (notifying, indicating bool) {
	c.svc.p.mu.Lock()
	defer c.svc.p.mu.Unlock()
	return c.notifying, c.indicating
}

// A RemoteDescriptor is a descriptor discovered on a Peripheral.
type RemoteDescriptor struct {
	c    *RemoteCharacteristic
	uuid UUID
	h    uint16
}

// UUID returns the descriptor type.
func (d *RemoteDescriptor) UUID() UUID { return d.uuid }

// Handle returns the descriptor handle.
func (d *RemoteDescriptor) Handle() uint16 { return d.h }

// Characteristic returns the characteristic d belongs to.
func (d *RemoteDescriptor) Characteristic() *RemoteCharacteristic { return d.c }
