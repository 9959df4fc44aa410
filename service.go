package gatt

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// A Service is a BLE service.
//
// A service lays its attributes out in exactly the order they were
// declared: the service declaration, an optional included service, then
// for each characteristic its declaration, its value and, when notify or
// indicate is requested, its client characteristic configuration
// descriptor. Static and dynamic attributes are interleaved in call order.
//
// Remote clients cache handles by position. Once a service has been
// registered, a profile must repeat the same sequence of calls every
// time it registers again, for instance after a crash.
type Service struct {
	uuid    UUID
	attrs   []*Attribute
	chars   []*Characteristic
	include *Service

	registered bool
	index      int
	r          attrRange
}

// NewService creates a primary service.
func NewService(u UUID) *Service {
	s := &Service{uuid: u}
	s.attrs = []*Attribute{{
		typ:   AttrPrimaryServiceUUID,
		kind:  kindService,
		read:  AuthNone,
		write: AuthNotPermitted,
		value: u.b,
		svc:   s,
	}}
	return s
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID { return s.uuid }

// Characteristics returns the characteristics, in declaration order.
func (s *Service) Characteristics() []*Characteristic { return s.chars }

// Attributes returns every attribute of s, in table order.
func (s *Service) Attributes() []*Attribute { return s.attrs }

// Registered reports whether s has been registered.
func (s *Service) Registered() bool { return s.registered }

// Handle returns the service declaration handle, or zero before registration.
func (s *Service) Handle() uint16 { return s.attrs[0].h }

// EndHandle returns the last handle of the service, or zero before registration.
func (s *Service) EndHandle() uint16 {
	if !s.registered {
		return 0
	}
	return s.attrs[len(s.attrs)-1].h
}

// Include declares other as an included service. It must be called
// before any other attribute is added, and other must be registered
// before s.
func (s *Service) Include(other *Service) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if len(s.attrs) != 1 || s.include != nil {
		return ErrIncludeOrder
	}
	s.include = other
	s.attrs = append(s.attrs, &Attribute{
		typ:   AttrIncludeUUID,
		kind:  kindInclude,
		read:  AuthNone,
		write: AuthNotPermitted,
		svc:   s,
	})
	return nil
}

// AddCharacteristic adds a characteristic whose value is served by h.
// A client characteristic configuration descriptor is created when
// props requests notify or indicate. auth marks the properties that
// require an authenticated link.
func (s *Service) AddCharacteristic(u UUID, props, auth Property, h Handler) (*Characteristic, error) {
	if err := s.checkAttr(u); err != nil {
		return nil, err
	}
	if h == nil && props&(PropRead|propWriteAny) != 0 {
		return nil, errors.Wrapf(ErrMissingHandler, "characteristic %s", u)
	}
	return s.addChar(u, props, auth, nil, h), nil
}

// AddStaticCharacteristic adds a characteristic with a static value.
// Writes, if permitted, are applied by the attribute table.
func (s *Service) AddStaticCharacteristic(u UUID, props, auth Property, value []byte) (*Characteristic, error) {
	if err := s.checkAttr(u); err != nil {
		return nil, err
	}
	if value == nil && props&(PropRead|propWriteAny) != 0 {
		return nil, errors.Wrapf(ErrMissingValue, "characteristic %s", u)
	}
	return s.addChar(u, props, auth, value, nil), nil
}

func (s *Service) addChar(u UUID, props, auth Property, value []byte, h Handler) *Characteristic {
	c := &Characteristic{uuid: u, props: props, auth: auth, svc: s}
	c.decl = &Attribute{
		typ:   AttrCharacteristicUUID,
		kind:  kindCharacteristic,
		read:  AuthNone,
		write: AuthNotPermitted,
		svc:   s,
		char:  c,
	}
	c.value = &Attribute{
		typ:     u,
		kind:    kindCharacteristicValue,
		read:    authFor(props, auth, PropRead),
		write:   authFor(props, auth, propWriteAny),
		value:   value,
		handler: h,
		svc:     s,
		char:    c,
	}
	s.attrs = append(s.attrs, c.decl, c.value)
	if props&(PropNotify|PropIndicate) != 0 {
		c.ccc = newCCC(c)
		s.attrs = append(s.attrs, c.ccc)
	}
	s.chars = append(s.chars, c)
	return c
}

// AddStaticAttribute adds an attribute with a fixed value after
// the most recently added characteristic.
func (s *Service) AddStaticAttribute(u UUID, perm, auth Property, value []byte) (*Attribute, error) {
	if err := s.checkAttr(u); err != nil {
		return nil, err
	}
	if value == nil && perm&(PropRead|propWriteAny) != 0 {
		return nil, errors.Wrapf(ErrMissingValue, "attribute %s", u)
	}
	a := newDescriptor(s, u, perm, auth, value, nil)
	s.attrs = append(s.attrs, a)
	return a, nil
}

// AddDynamicAttribute adds an attribute served by h after
// the most recently added characteristic.
func (s *Service) AddDynamicAttribute(u UUID, perm, auth Property, h Handler) (*Attribute, error) {
	if err := s.checkAttr(u); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.Wrapf(ErrMissingHandler, "attribute %s", u)
	}
	a := newDescriptor(s, u, perm, auth, nil, h)
	s.attrs = append(s.attrs, a)
	return a, nil
}

func (s *Service) checkMutable() error {
	if s.registered {
		return ErrRegistered
	}
	return nil
}

func (s *Service) checkAttr(u UUID) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if u.Equal(AttrClientCharacteristicConfigUUID) {
		return ErrReservedUUID
	}
	return nil
}

// assign fixes every attribute handle, starting at start, and fills in
// the declaration values that refer to handles.
func (s *Service) assign(start uint16) error {
	for i, a := range s.attrs {
		a.h = start + uint16(i)
	}
	for _, a := range s.attrs {
		switch a.kind {
		case kindInclude:
			inc := s.include
			if !inc.registered {
				return ErrIncludeNotRegistered
			}
			v := make([]byte, 4, 6)
			binary.LittleEndian.PutUint16(v[0:], inc.Handle())
			binary.LittleEndian.PutUint16(v[2:], inc.EndHandle())
			if inc.uuid.Len() == 2 {
				v = append(v, inc.uuid.b...)
			}
			a.value = v
		case kindCharacteristic:
			a.value = a.char.declValue()
		}
	}
	s.r = attrRange{aa: s.attrs, base: start}
	return nil
}

// reset clears handles so s can be registered again.
func (s *Service) reset() {
	for _, a := range s.attrs {
		a.h = 0
	}
	s.registered = false
	s.r = attrRange{}
}
