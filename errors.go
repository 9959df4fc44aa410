package gatt

import "github.com/pkg/errors"

// Definition errors. These are programmer errors, reported
// synchronously when a service is built or registered.
var (
	ErrRegistered           = errors.New("service already registered")
	ErrReservedUUID         = errors.New("client characteristic configuration is declared automatically")
	ErrMissingHandler       = errors.New("readable or writable attribute needs a handler")
	ErrMissingValue         = errors.New("readable or writable attribute needs a value")
	ErrIncludeOrder         = errors.New("included service must be declared first, and only once")
	ErrIncludeNotRegistered = errors.New("included service is not registered")
)

// Registration and transport errors.
var (
	ErrNotRegistering = errors.New("services can only be registered while the profile registers")
	ErrNoHandles      = errors.New("no contiguous handle range available")
	ErrRejected       = errors.New("attribute rejected by the attribute table")
	ErrNotConnected   = errors.New("not connected")
)

// A ClientError is returned by client operations that failed, either
// at the remote device or because the session is no longer connected.
type ClientError struct {
	Op     string
	Handle uint16
	Status Status
	Err    error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Status.String()
}

// Unwrap returns the transport error or ErrNotConnected, if any.
func (e *ClientError) Unwrap() error { return e.Err }
