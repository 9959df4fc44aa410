package native

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/internal/event"
)

const maxHandle = 0xFFFF

var (
	ErrNotOperational = errors.New("attribute table is not operational")
	ErrSetupFailed    = errors.New("attribute table setup failed")
)

// A Table is an in-memory Backend. Peers connect to it through its
// gatt.Transport methods, which makes it a loopback remote device for
// a gatt.Client, or through Peer.
//
// Callbacks and peer deliveries run in order on one goroutine owned by
// the Table. Remote reads and writes of dynamic attributes call Events
// on the requesting goroutine, after the table lock is released.
type Table struct {
	logger *logrus.Logger
	loop   *event.Loop

	mu          sync.Mutex
	ev          Events
	operational bool
	failSetup   bool
	limit       uint16

	used  []bool // indexed by handle; true while reserved
	attrs map[uint16]gatt.AttributeParams

	nextSDP       uint32
	sdp           map[uint32]uint16
	invalidations int

	peers map[string]*Peer
}

// NewTable returns a Table that is not yet set up.
func NewTable(l *logrus.Logger) *Table {
	if l == nil {
		l = logrus.StandardLogger()
	}
	t := &Table{
		logger: l,
		loop:   event.NewLoop(),
		limit:  maxHandle,
		peers:  make(map[string]*Peer),
	}
	t.loop.HandleEventDefault(event.HandlerFunc(func(arg interface{}) error {
		arg.(func())()
		return nil
	}))
	t.loop.Start()
	return t
}

// Close stops the callback goroutine. Pending callbacks are dropped.
func (t *Table) Close() {
	t.loop.Stop()
}

// SetFailSetup makes the next calls to Setup fail.
func (t *Table) SetFailSetup(fail bool) {
	t.mu.Lock()
	t.failSetup = fail
	t.mu.Unlock()
}

// SetMaxHandle limits the handles FindAvailableRange hands out.
func (t *Table) SetMaxHandle(h uint16) {
	t.mu.Lock()
	t.limit = h
	t.mu.Unlock()
}

func (t *Table) post(f func()) {
	if err := t.loop.Post(0, f); err != nil {
		t.logger.WithError(err).Warn("callback dropped")
	}
}

// Setup implements Backend.
func (t *Table) Setup(ev Events) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSetup {
		return ErrSetupFailed
	}
	if t.operational {
		return errors.New("attribute table already set up")
	}
	t.ev = ev
	t.operational = true
	t.used = make([]bool, maxHandle+1)
	t.used[0] = true
	t.attrs = make(map[uint16]gatt.AttributeParams)
	t.sdp = make(map[uint32]uint16)
	t.logger.Debug("attribute table up")
	return nil
}

// Teardown implements Backend. Connected peers are disconnected.
func (t *Table) Teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational {
		return
	}
	t.operational = false
	t.ev = nil
	t.used = nil
	t.attrs = nil
	t.sdp = nil
	for key, p := range t.peers {
		if p.ev != nil {
			ev, addr := p.ev, p.addr
			t.post(func() { ev.OnDisconnect(addr) })
		}
		delete(t.peers, key)
	}
	t.logger.Debug("attribute table down")
}

// Operational implements Backend.
func (t *Table) Operational() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.operational
}

// FindAvailableRange implements Backend, first fit.
func (t *Table) FindAvailableRange(u gatt.UUID, count int) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational || count <= 0 {
		return 0
	}
	run := 0
	for h := 1; h <= int(t.limit); h++ {
		if t.used[h] {
			run = 0
			continue
		}
		run++
		if run < count {
			continue
		}
		start := h - count + 1
		for i := start; i <= h; i++ {
			t.used[i] = true
		}
		t.logger.WithFields(logrus.Fields{
			"service": u,
			"start":   start,
			"count":   count,
		}).Debug("range reserved")
		return uint16(start)
	}
	return 0
}

// AddAttribute implements Backend.
func (t *Table) AddAttribute(a gatt.AttributeParams) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational || a.Handle == 0 || !t.used[a.Handle] {
		return false
	}
	if _, dup := t.attrs[a.Handle]; dup {
		return false
	}
	a.Value = append([]byte(nil), a.Value...)
	t.attrs[a.Handle] = a
	return true
}

// RemoveAttribute implements Backend.
func (t *Table) RemoveAttribute(h uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational || h == 0 || !t.used[h] {
		return false
	}
	t.used[h] = false
	delete(t.attrs, h)
	for _, p := range t.peers {
		delete(p.ccc, h)
	}
	return true
}

// SendNotification implements Backend.
func (t *Table) SendNotification(addr gatt.BDAddr, h, ccc uint16, v []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational {
		return false
	}
	if _, ok := t.attrs[h]; !ok {
		return false
	}
	if addr.IsBroadcast() {
		for _, p := range t.peers {
			if p.ccc[ccc]&gatt.CCCNotifyFlag != 0 {
				t.deliver(p, h, v, false)
			}
		}
		return true
	}
	p, ok := t.peers[addr.String()]
	if !ok {
		return false
	}
	if p.ccc[ccc]&gatt.CCCNotifyFlag != 0 {
		t.deliver(p, h, v, false)
	}
	return true
}

// SendIndication implements Backend. Indications to a peer that has
// not subscribed complete with gatt.StatusUnlikely.
func (t *Table) SendIndication(addr gatt.BDAddr, h, ccc uint16, v []byte, cookie int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational || addr.IsBroadcast() {
		return false
	}
	if _, ok := t.attrs[h]; !ok {
		return false
	}
	p, ok := t.peers[addr.String()]
	if !ok {
		return false
	}
	st := gatt.StatusUnlikely
	if p.ccc[ccc]&gatt.CCCIndicateFlag != 0 {
		t.deliver(p, h, v, true)
		st = gatt.StatusSuccess
	}
	ev := t.ev
	t.post(func() { ev.OnIndicationResult(cookie, st) })
	return true
}

// deliver records a value sent to p and forwards it to p's transport
// events, if any. t.mu must be held.
func (t *Table) deliver(p *Peer, h uint16, v []byte, ind bool) {
	data := append([]byte(nil), v...)
	p.received = append(p.received, Value{Handle: h, Data: data, Indication: ind})
	if p.ev != nil {
		ev, addr := p.ev, p.addr
		t.post(func() { ev.OnValue(addr, h, data) })
	}
}

// RegisterSdpRecord implements Backend.
func (t *Table) RegisterSdpRecord(h uint16, name string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational {
		return 0
	}
	t.nextSDP++
	t.sdp[t.nextSDP] = h
	t.logger.WithFields(logrus.Fields{
		"handle": h,
		"name":   name,
		"record": t.nextSDP,
	}).Debug("sdp record registered")
	return t.nextSDP
}

// UnregisterSdpRecord implements Backend.
func (t *Table) UnregisterSdpRecord(sdp uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sdp, sdp)
}

// InvalidateClientCache implements Backend.
func (t *Table) InvalidateClientCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidations++
	t.logger.WithField("peers", len(t.peers)).Info("client caches invalidated")
}

// Attribute returns the attribute stored at h.
func (t *Table) Attribute(h uint16) (gatt.AttributeParams, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attrs[h]
	return a, ok
}

// Handles returns the handles of every stored attribute, in order.
func (t *Table) Handles() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	hh := make([]uint16, 0, len(t.attrs))
	for h := range t.attrs {
		hh = append(hh, h)
	}
	sort.Slice(hh, func(i, j int) bool { return hh[i] < hh[j] })
	return hh
}

// SdpRecords returns the number of published SDP records.
func (t *Table) SdpRecords() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sdp)
}

// Invalidations returns how many times client caches were invalidated.
func (t *Table) Invalidations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invalidations
}

// Peer returns the connected peer at addr, connecting one without
// transport events if needed. It returns nil if the table is not
// operational.
func (t *Table) Peer(addr gatt.BDAddr) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational {
		return nil
	}
	key := addr.String()
	p, ok := t.peers[key]
	if !ok {
		p = newPeer(t, addr, nil)
		t.peers[key] = p
	}
	return p
}

func isDeclaration(u gatt.UUID) bool {
	return u.Equal(gatt.AttrPrimaryServiceUUID) ||
		u.Equal(gatt.AttrSecondaryServiceUUID) ||
		u.Equal(gatt.AttrIncludeUUID) ||
		u.Equal(gatt.AttrCharacteristicUUID)
}

// Connect implements gatt.Transport.
func (t *Table) Connect(addr gatt.BDAddr, ev gatt.TransportEvents) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.operational {
		return ErrNotOperational
	}
	key := addr.String()
	if p, ok := t.peers[key]; ok && p.ev != nil {
		return errors.Errorf("%s already connected", key)
	}
	t.peers[key] = newPeer(t, addr, ev)
	t.logger.WithField("device", key).Debug("peer connected")
	return nil
}

// Disconnect implements gatt.Transport.
func (t *Table) Disconnect(addr gatt.BDAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := addr.String()
	if _, ok := t.peers[key]; !ok {
		return gatt.ErrNotConnected
	}
	delete(t.peers, key)
	t.logger.WithField("device", key).Debug("peer disconnected")
	return nil
}

// Attributes implements gatt.Transport. Only declaration values are returned.
func (t *Table) Attributes(addr gatt.BDAddr, start, end uint16) ([]gatt.RemoteAttribute, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[addr.String()]; !ok {
		return nil, gatt.ErrNotConnected
	}
	var aa []gatt.RemoteAttribute
	for h := int(start); h <= int(end); h++ {
		a, ok := t.attrs[uint16(h)]
		if !ok {
			continue
		}
		ra := gatt.RemoteAttribute{Handle: a.Handle, Type: a.UUID}
		if isDeclaration(a.UUID) {
			ra.Value = append([]byte(nil), a.Value...)
		}
		aa = append(aa, ra)
	}
	return aa, nil
}

// access looks up h for a request from addr and checks the permission.
// t.mu must be held.
func (t *Table) access(addr gatt.BDAddr, h uint16, write bool) (*Peer, gatt.AttributeParams, gatt.Status, error) {
	p, ok := t.peers[addr.String()]
	if !ok {
		return nil, gatt.AttributeParams{}, 0, gatt.ErrNotConnected
	}
	a, ok := t.attrs[h]
	if !ok {
		return p, a, gatt.StatusInvalidHandle, nil
	}
	auth, denied := a.Read, gatt.StatusReadNotPermitted
	if write {
		auth, denied = a.Write, gatt.StatusWriteNotPermitted
	}
	switch {
	case auth == gatt.AuthNotPermitted:
		return p, a, denied, nil
	case auth == gatt.AuthRequired && !p.authenticated:
		return p, a, gatt.StatusAuthentication, nil
	}
	return p, a, gatt.StatusSuccess, nil
}

// Read implements gatt.Transport.
func (t *Table) Read(addr gatt.BDAddr, h uint16) ([]byte, gatt.Status, error) {
	t.mu.Lock()
	p, a, st, err := t.access(addr, h, false)
	if err != nil || st != gatt.StatusSuccess {
		t.mu.Unlock()
		return nil, st, err
	}
	switch {
	case a.UUID.Equal(gatt.AttrClientCharacteristicConfigUUID):
		v := make([]byte, 2)
		binary.LittleEndian.PutUint16(v, p.ccc[h])
		t.mu.Unlock()
		return v, gatt.StatusSuccess, nil
	case !a.HasCallback:
		v := append([]byte(nil), a.Value...)
		t.mu.Unlock()
		return v, gatt.StatusSuccess, nil
	}
	ev := t.ev
	t.mu.Unlock()
	st, v := ev.OnRead(addr, h)
	return v, st, nil
}

// Write implements gatt.Transport.
func (t *Table) Write(addr gatt.BDAddr, h uint16, v []byte) (gatt.Status, error) {
	t.mu.Lock()
	p, a, st, err := t.access(addr, h, true)
	if err != nil || st != gatt.StatusSuccess {
		t.mu.Unlock()
		return st, err
	}
	switch {
	case a.UUID.Equal(gatt.AttrClientCharacteristicConfigUUID):
		defer t.mu.Unlock()
		if len(v) != 2 {
			return gatt.StatusInvalAttrValueLen, nil
		}
		p.ccc[h] = binary.LittleEndian.Uint16(v)
		return gatt.StatusSuccess, nil
	case !a.HasCallback:
		defer t.mu.Unlock()
		a.Value = append([]byte(nil), v...)
		t.attrs[h] = a
		return gatt.StatusSuccess, nil
	}
	ev := t.ev
	t.mu.Unlock()
	return ev.OnWrite(addr, h, v), nil
}

// WriteCommand implements gatt.Transport. The status is discarded.
func (t *Table) WriteCommand(addr gatt.BDAddr, h uint16, v []byte) error {
	_, err := t.Write(addr, h, v)
	return err
}

// A Value is a notification or indication received by a Peer.
type Value struct {
	Handle     uint16
	Data       []byte
	Indication bool
}

// A Peer is a remote device connected to a Table.
type Peer struct {
	t    *Table
	addr gatt.BDAddr
	ev   gatt.TransportEvents

	// guarded by t.mu
	authenticated bool
	ccc           map[uint16]uint16
	received      []Value
}

func newPeer(t *Table, addr gatt.BDAddr, ev gatt.TransportEvents) *Peer {
	return &Peer{t: t, addr: addr, ev: ev, ccc: make(map[uint16]uint16)}
}

// Address returns the peer address.
func (p *Peer) Address() gatt.BDAddr { return p.addr }

// Authenticate marks the link to the peer as authenticated.
func (p *Peer) Authenticate() {
	p.t.mu.Lock()
	p.authenticated = true
	p.t.mu.Unlock()
}

// Read reads h as the peer.
func (p *Peer) Read(h uint16) ([]byte, gatt.Status, error) {
	return p.t.Read(p.addr, h)
}

// Write writes h as the peer.
func (p *Peer) Write(h uint16, v []byte) (gatt.Status, error) {
	return p.t.Write(p.addr, h, v)
}

// Subscribe writes flags to the client characteristic configuration descriptor at ccc.
func (p *Peer) Subscribe(ccc uint16, flags uint16) (gatt.Status, error) {
	v := make([]byte, 2)
	binary.LittleEndian.PutUint16(v, flags)
	return p.Write(ccc, v)
}

// Received returns the values delivered to the peer so far.
func (p *Peer) Received() []Value {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return append([]Value(nil), p.received...)
}
