// Package native defines the contract of the attribute table that sits
// below the profile host, and provides an in-memory implementation.
//
// The attribute table owns handle allocation, attribute storage, the
// per-peer client characteristic configuration state and the ATT
// transport. It raises remote reads, writes and indication results
// through Events, from its own goroutine; it never calls back from
// within one of its own methods.
package native

import gatt "github.com/XC-/go-gatt"

// A Backend is an attribute table and the radio session around it.
type Backend interface {
	// Setup opens the radio session. Events receives the callbacks until Teardown.
	Setup(ev Events) error

	// Teardown closes the radio session, dropping every attribute.
	Teardown()

	// Operational reports whether the radio session is open.
	Operational() bool

	// FindAvailableRange reserves count contiguous handles for the
	// service u and returns the first one, or zero if no such range is
	// free. The handles stay reserved until removed.
	FindAvailableRange(u gatt.UUID, count int) uint16

	// AddAttribute stores an attribute in a reserved handle.
	AddAttribute(a gatt.AttributeParams) bool

	// RemoveAttribute frees a handle and the attribute it holds.
	RemoveAttribute(h uint16) bool

	// SendNotification notifies addr, or every subscribed peer if
	// addr is gatt.Broadcast. Unsubscribed peers are skipped.
	SendNotification(addr gatt.BDAddr, h, ccc uint16, v []byte) bool

	// SendIndication queues an indication to addr. Its result is
	// reported through Events.OnIndicationResult with cookie.
	SendIndication(addr gatt.BDAddr, h, ccc uint16, v []byte, cookie int) bool

	// RegisterSdpRecord publishes an SDP record for the service at h,
	// and returns the record handle, or zero.
	RegisterSdpRecord(h uint16, name string) uint32

	UnregisterSdpRecord(sdp uint32)

	// InvalidateClientCache tells connected peers that the table changed.
	InvalidateClientCache()
}

// Events receives the callbacks of a Backend.
type Events interface {
	OnRead(d gatt.BDAddr, h uint16) (gatt.Status, []byte)
	OnWrite(d gatt.BDAddr, h uint16, v []byte) gatt.Status
	OnIndicationResult(cookie int, s gatt.Status)
}
