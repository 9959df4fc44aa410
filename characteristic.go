package gatt

// A Request is the context for a request from a connected device.
type Request struct {
	Device         BDAddr
	Service        *Service
	Characteristic *Characteristic // nil for attributes declared before any characteristic
	Attribute      *Attribute
}

// A ReadRequest is an attribute read request from a connected device.
type ReadRequest struct {
	Request
}

// A WriteRequest is an attribute write request from a connected device.
// Write and WriteNR requests are presented identically;
// the attribute table sends a response if appropriate.
type WriteRequest struct {
	Request
	Data []byte
}

// A Handler serves remote reads and writes of a dynamic attribute.
type Handler interface {
	ServeRead(req *ReadRequest) (Status, []byte)
	ServeWrite(req *WriteRequest) Status
}

// HandlerFuncs is an adapter to allow the use of ordinary functions
// as Handlers. A nil Read or Write rejects the request.
type HandlerFuncs struct {
	Read  func(req *ReadRequest) (Status, []byte)
	Write func(req *WriteRequest) Status
}

// ServeRead calls f.Read(req).
func (f HandlerFuncs) ServeRead(req *ReadRequest) (Status, []byte) {
	if f.Read == nil {
		return StatusReadNotPermitted, nil
	}
	return f.Read(req)
}

// ServeWrite calls f.Write(req).
func (f HandlerFuncs) ServeWrite(req *WriteRequest) Status {
	if f.Write == nil {
		return StatusWriteNotPermitted
	}
	return f.Write(req)
}

// ReadHandlerFunc is a Handler that serves reads only.
type ReadHandlerFunc func(req *ReadRequest) (Status, []byte)

// ServeRead returns f(req).
func (f ReadHandlerFunc) ServeRead(req *ReadRequest) (Status, []byte) { return f(req) }

// ServeWrite rejects the write.
func (f ReadHandlerFunc) ServeWrite(req *WriteRequest) Status { return StatusWriteNotPermitted }

// WriteHandlerFunc is a Handler that serves writes only.
type WriteHandlerFunc func(req *WriteRequest) Status

// ServeRead rejects the read.
func (f WriteHandlerFunc) ServeRead(req *ReadRequest) (Status, []byte) {
	return StatusReadNotPermitted, nil
}

// ServeWrite returns f(req).
func (f WriteHandlerFunc) ServeWrite(req *WriteRequest) Status { return f(req) }

// A Characteristic is a BLE characteristic.
type Characteristic struct {
	uuid  UUID
	props Property // enabled properties
	auth  Property // properties that require authentication

	decl  *Attribute
	value *Attribute
	ccc   *Attribute
	descs []*Attribute

	svc *Service
}

// UUID returns the characteristic's UUID.
func (c *Characteristic) UUID() UUID { return c.uuid }

// Properties returns the characteristic's properties.
func (c *Characteristic) Properties() Property { return c.props }

// Service returns the service c belongs to.
func (c *Characteristic) Service() *Service { return c.svc }

// Handle returns the declaration handle, or zero before registration.
func (c *Characteristic) Handle() uint16 { return c.decl.h }

// ValueHandle returns the value handle, or zero before registration.
func (c *Characteristic) ValueHandle() uint16 { return c.value.h }

// CCCHandle returns the handle of the client characteristic configuration
// descriptor, or zero if c has none or is not registered.
func (c *Characteristic) CCCHandle() uint16 {
	if c.ccc == nil {
		return 0
	}
	return c.ccc.h
}

// Descriptors returns the attributes declared after c's value, in order.
func (c *Characteristic) Descriptors() []*Attribute { return c.descs }

// declValue is the characteristic declaration value:
// properties, value handle and UUID.
func (c *Characteristic) declValue() []byte {
	vh := c.value.h
	return append([]byte{byte(c.props), byte(vh), byte(vh >> 8)}, c.uuid.b...)
}
