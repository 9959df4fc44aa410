package gatt

// A RemoteAttribute is one entry of a remote attribute table, as
// returned by discovery. Value holds the declaration value for service,
// include and characteristic declarations, and may be empty otherwise.
type RemoteAttribute struct {
	Handle uint16
	Type   UUID
	Value  []byte
}

// TransportEvents receives the asynchronous events of one connection.
// Methods are called from the transport's own goroutine.
type TransportEvents interface {
	// OnValue delivers a notification or indication value.
	OnValue(addr BDAddr, h uint16, v []byte)

	// OnDisconnect reports that the remote device went away.
	OnDisconnect(addr BDAddr)
}

// A Transport carries client requests to remote attribute tables.
// Write and WriteCommand are the two native write primitives: the first
// waits for the remote response, the second does not.
type Transport interface {
	Connect(addr BDAddr, ev TransportEvents) error
	Disconnect(addr BDAddr) error
	Attributes(addr BDAddr, start, end uint16) ([]RemoteAttribute, error)
	Read(addr BDAddr, h uint16) ([]byte, Status, error)
	Write(addr BDAddr, h uint16, v []byte) (Status, error)
	WriteCommand(addr BDAddr, h uint16, v []byte) error
}
