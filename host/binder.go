package host

import gatt "github.com/XC-/go-gatt"

// A Binder binds an installed profile package to the profile it hosts.
// The Link reports when the hosting component goes away.
type Binder interface {
	Bind(name string) (gatt.Profile, gatt.Link, error)
}

// BinderFunc is an adapter to allow the use of ordinary functions as Binders.
type BinderFunc func(name string) (gatt.Profile, gatt.Link, error)

func (f BinderFunc) Bind(name string) (gatt.Profile, gatt.Link, error) { return f(name) }

// A Radio switches the adapter power. Power changes are reported back
// to the Coordinator through RadioOn and RadioOff by whoever watches
// the adapter.
type Radio interface {
	SetPowered(on bool) error
}
