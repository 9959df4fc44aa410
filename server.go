package gatt

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A ServerSession is the profile side of a GATT server: it registers the
// profile's services with the host and sends notifications and
// indications on their characteristics.
//
// The host calls RegisterProfile whenever the profile has to be (re)built,
// typically each time the radio turns on. The Setup function declares and
// registers the services; it runs on every registration and must declare
// the same attributes in the same order each time.
type ServerSession struct {
	name         string
	setup        func(s *ServerSession) error
	logger       *logrus.Logger
	discoverable bool

	mu       sync.RWMutex
	reg      Registrar
	services []*Service
	next     int // next per-profile service index

	n notifier
}

// NewServerSession creates a ServerSession with the specified options.
func NewServerSession(name string, opts ...option) *ServerSession {
	s := &ServerSession{name: name, logger: logrus.StandardLogger()}
	s.Option(opts...)
	return s
}

type option func(*ServerSession) option

// Option sets the options specified.
// It returns an option to restore the last arg's previous value.
func (s *ServerSession) Option(opts ...option) (prev option) {
	for _, opt := range opts {
		prev = opt(s)
	}
	return prev
}

// Setup sets the function that declares and registers the profile's services.
func Setup(f func(s *ServerSession) error) option {
	return func(s *ServerSession) option {
		prev := s.setup
		s.setup = f
		return Setup(prev)
	}
}

// Logger sets the logger.
func Logger(l *logrus.Logger) option {
	return func(s *ServerSession) option {
		prev := s.logger
		s.logger = l
		return Logger(prev)
	}
}

// Discoverable requests an SDP record for every registered service, so
// the profile can be found over BR/EDR. The host may ignore it.
func Discoverable(b bool) option {
	return func(s *ServerSession) option {
		prev := s.discoverable
		s.discoverable = b
		return Discoverable(prev)
	}
}

// Name returns the profile name.
func (s *ServerSession) Name() string { return s.name }

// Services returns the services registered so far.
func (s *ServerSession) Services() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Service(nil), s.services...)
}

// Initialized reports whether the profile is registered and has completed init.
func (s *ServerSession) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg != nil && s.reg.Initialized()
}

// Start registers the session with h as a dynamic profile. l reports the
// session's liveness; pass nil for a session that lives as long as h.
func (s *ServerSession) Start(h Host, l Link) error {
	return h.AddDynamicProfile(s.name, s, l)
}

// Stop unregisters the session from h.
func (s *ServerSession) Stop(h Host) error {
	return h.RemoveDynamicProfile(s.name)
}

// RegisterProfile implements Profile.
func (s *ServerSession) RegisterProfile(r Registrar) error {
	s.mu.Lock()
	s.resetLocked()
	s.reg = r
	s.mu.Unlock()

	if s.setup != nil {
		if err := s.setup(s); err != nil {
			return errors.Wrapf(err, "profile %s", s.name)
		}
	}
	r.EndInit()
	s.logger.WithFields(logrus.Fields{
		"profile": s.name,
		"id":      r.ProfileID(),
	}).Debug("profile registered")
	return nil
}

// UnregisterProfile implements Profile.
func (s *ServerSession) UnregisterProfile() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.logger.WithField("profile", s.name).Debug("profile unregistered")
}

func (s *ServerSession) resetLocked() {
	for _, svc := range s.services {
		svc.reset()
	}
	s.services = nil
	s.next = 0
	s.reg = nil
	s.n.reset()
}

// Register assigns svc a contiguous block of handles and plays its
// attributes into the attribute table, in declaration order. It may
// only be called while the profile registers, from the Setup function.
//
// If the table rejects an attribute, the ones already added stay in the
// table until the profile is removed, and the service's handle block
// stays reserved: registering svc again fails with ErrNoHandles.
func (s *ServerSession) Register(svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.reg
	if r == nil {
		return ErrNotRegistering
	}
	if svc.registered {
		return ErrRegistered
	}
	if svc.include != nil && !svc.include.registered {
		return ErrIncludeNotRegistered
	}

	idx := s.next
	start := r.AddService(idx, svc.uuid, len(svc.attrs))
	if start == 0 {
		return errors.Wrapf(ErrNoHandles, "service %s", svc.uuid)
	}
	if err := svc.assign(start); err != nil {
		svc.reset()
		return err
	}

	// An initialized profile is being replayed; its attributes are
	// still in the table under the same handles.
	if !r.Initialized() {
		for _, a := range svc.attrs {
			if !r.AddAttribute(a.params()) {
				h := a.h
				svc.reset()
				return errors.Wrapf(ErrRejected, "attribute %s at handle 0x%04X", a.typ, h)
			}
		}
		if s.discoverable && !r.RegisterSdpRecord(start, s.name) {
			s.logger.WithFields(logrus.Fields{
				"profile": s.name,
				"service": svc.uuid,
			}).Warn("sdp record not registered")
		}
	}

	svc.registered = true
	svc.index = idx
	s.next++
	s.services = append(s.services, svc)
	s.logger.WithFields(logrus.Fields{
		"profile": s.name,
		"service": svc.uuid,
		"start":   start,
		"count":   len(svc.attrs),
	}).Debug("service registered")
	return nil
}

// ready checks the preconditions shared by notifications and indications.
func (s *ServerSession) ready(c *Characteristic, v []byte) (Registrar, bool) {
	if v == nil || len(v) > MaxAttrValueLen {
		return nil, false
	}
	if c == nil || c.ccc == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reg == nil || !s.reg.Initialized() || !c.svc.registered {
		return nil, false
	}
	return s.reg, true
}

// SendNotification notifies d, or every subscribed peer if d is
// Broadcast, of a new value of c. It returns false, without sending
// anything, if v is nil or longer than MaxAttrValueLen, if c has no
// client characteristic configuration descriptor, or if the profile
// is not registered. Peers that have not subscribed are skipped by
// the attribute table.
func (s *ServerSession) SendNotification(d BDAddr, c *Characteristic, v []byte) bool {
	r, ok := s.ready(c, v)
	if !ok {
		return false
	}
	if !r.SendNotification(d, c.value.h, c.ccc.h, v) {
		s.logger.WithFields(logrus.Fields{
			"profile": s.name,
			"handle":  c.value.h,
			"device":  d.String(),
		}).Warn("notification not sent")
	}
	return true
}

// SendIndication indicates a new value of c to d. It has the
// preconditions of SendNotification; in addition d must not be
// Broadcast and confirm must not be nil. confirm is called exactly once
// with the status the attribute table reports, if and only if
// SendIndication returns true.
func (s *ServerSession) SendIndication(d BDAddr, c *Characteristic, v []byte, confirm ConfirmFunc) bool {
	if d.IsBroadcast() || confirm == nil {
		return false
	}
	r, ok := s.ready(c, v)
	if !ok {
		return false
	}
	p := pendingIndication{d: d, c: c, confirm: confirm}
	return s.n.queue(func() int {
		return r.SendIndication(d, c.value.h, c.ccc.h, v)
	}, p)
}

func (s *ServerSession) lookup(h uint16) (*Attribute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.services {
		if a, ok := svc.r.At(h); ok {
			return a, true
		}
	}
	return nil, false
}

// OnRead implements Profile.
func (s *ServerSession) OnRead(d BDAddr, h uint16) (Status, []byte) {
	a, ok := s.lookup(h)
	if !ok {
		return StatusInvalidHandle, nil
	}
	if a.read == AuthNotPermitted {
		return StatusReadNotPermitted, nil
	}
	if a.handler == nil {
		return StatusSuccess, a.value
	}
	req := &ReadRequest{Request{Device: d, Service: a.svc, Characteristic: a.char, Attribute: a}}
	return a.handler.ServeRead(req)
}

// OnWrite implements Profile.
func (s *ServerSession) OnWrite(d BDAddr, h uint16, v []byte) Status {
	a, ok := s.lookup(h)
	if !ok {
		return StatusInvalidHandle
	}
	if a.write == AuthNotPermitted || a.handler == nil {
		return StatusWriteNotPermitted
	}
	req := &WriteRequest{
		Request: Request{Device: d, Service: a.svc, Characteristic: a.char, Attribute: a},
		Data:    v,
	}
	return a.handler.ServeWrite(req)
}

// OnIndicationResult implements Profile.
func (s *ServerSession) OnIndicationResult(cookie int, st Status) {
	p, ok := s.n.take(cookie)
	if !ok {
		return
	}
	p.confirm(p.d, p.c, st)
}
