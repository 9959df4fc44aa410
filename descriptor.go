package gatt

// newDescriptor builds an attribute appended after the last characteristic
// value, or directly after the service declarations if there is none yet.
func newDescriptor(s *Service, u UUID, perm, auth Property, value []byte, h Handler) *Attribute {
	a := &Attribute{
		typ:     u,
		kind:    kindDescriptor,
		read:    authFor(perm, auth, PropRead),
		write:   authFor(perm, auth, propWriteAny),
		value:   value,
		handler: h,
		svc:     s,
	}
	if n := len(s.chars); n > 0 {
		c := s.chars[n-1]
		a.char = c
		c.descs = append(c.descs, a)
	}
	return a
}

// newCCC builds the client characteristic configuration descriptor
// of c. Its per-peer state is kept by the attribute table.
func newCCC(c *Characteristic) *Attribute {
	write := AuthNone
	if c.auth&(PropNotify|PropIndicate) != 0 {
		write = AuthRequired
	}
	return &Attribute{
		typ:   AttrClientCharacteristicConfigUUID,
		kind:  kindCCC,
		read:  AuthNone,
		write: write,
		value: []byte{0x00, 0x00},
		svc:   c.svc,
		char:  c,
	}
}
