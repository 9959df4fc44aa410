package gatt

// A Profile is the callback interface every registered profile
// implements. ServerSession is the usual implementation.
type Profile interface {
	// RegisterProfile declares the profile's services through r and
	// calls r.EndInit when done. The attributes it declares must be the
	// same, in the same order, every time it is called.
	RegisterProfile(r Registrar) error

	// UnregisterProfile is called when the profile is torn down,
	// either explicitly or because the radio turned off.
	UnregisterProfile()

	// OnRead serves a remote read of the attribute at handle h.
	OnRead(d BDAddr, h uint16) (Status, []byte)

	// OnWrite serves a remote write of the attribute at handle h.
	OnWrite(d BDAddr, h uint16, value []byte) Status

	// OnIndicationResult reports the confirmation status of the
	// indication identified by cookie.
	OnIndicationResult(cookie int, s Status)
}

// A Registrar is the host side of one profile registration.
type Registrar interface {
	// ProfileID returns the identifier assigned to the profile.
	ProfileID() int

	// Initialized reports whether the profile has completed EndInit.
	// Attributes of an initialized profile are already in the table.
	Initialized() bool

	// AddService reserves count contiguous handles for the service with
	// the given per-profile index, and returns the first one, or zero
	// if no range is available. An initialized profile gets back the
	// start handle it was given the first time.
	AddService(index int, u UUID, count int) uint16

	// AddAttribute adds one attribute to the table.
	AddAttribute(a AttributeParams) bool

	// RegisterSdpRecord publishes an SDP record for the service starting
	// at handle h.
	RegisterSdpRecord(h uint16, name string) bool

	// EndInit marks the profile as initialized.
	EndInit()

	// SendNotification sends v to d, or to every subscribed peer if d is Broadcast.
	SendNotification(d BDAddr, h, ccc uint16, v []byte) bool

	// SendIndication queues an indication and returns its cookie, or
	// zero if it could not be queued.
	SendIndication(d BDAddr, h, ccc uint16, v []byte) int
}

// A Link reports the liveness of a profile. Done is closed when the
// process or component behind the profile goes away. A context.Context
// is a valid Link.
type Link interface {
	Done() <-chan struct{}
}

// A Host accepts profiles registered directly, rather than bound
// through an installed package.
type Host interface {
	AddDynamicProfile(name string, p Profile, l Link) error
	RemoveDynamicProfile(name string) error
}
