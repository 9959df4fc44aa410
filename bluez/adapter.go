// Package bluez drives the power state of a BlueZ adapter over D-Bus.
package bluez

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	bluezBus        = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	propertiesIface = "org.freedesktop.DBus.Properties"
	propPowered     = "Powered"
)

// An Adapter is one local Bluetooth adapter, such as hci0.
type Adapter struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	obj    dbus.BusObject
	logger *logrus.Logger
	owned  bool
}

// Open connects to the system bus and returns the adapter named name.
func Open(name string, l *logrus.Logger) (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "system bus")
	}
	a := NewAdapter(conn, name, l)
	a.owned = true
	if _, err := a.Powered(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// NewAdapter returns the adapter named name on conn.
func NewAdapter(conn *dbus.Conn, name string, l *logrus.Logger) *Adapter {
	if l == nil {
		l = logrus.StandardLogger()
	}
	path := AdapterPath(name)
	return &Adapter{
		conn:   conn,
		path:   path,
		obj:    conn.Object(bluezBus, path),
		logger: l,
	}
}

// AdapterPath returns the object path of the adapter named name.
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// Path returns the adapter's object path.
func (a *Adapter) Path() dbus.ObjectPath { return a.path }

// Close closes the bus connection if Open created it.
func (a *Adapter) Close() error {
	if !a.owned {
		return nil
	}
	return a.conn.Close()
}

// Powered reports whether the adapter is on.
func (a *Adapter) Powered() (bool, error) {
	v, err := a.obj.GetProperty(adapterIface + "." + propPowered)
	if err != nil {
		return false, errors.Wrapf(err, "%s: get %s", a.path, propPowered)
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, errors.Errorf("%s: %s has type %T", a.path, propPowered, v.Value())
	}
	return on, nil
}

// SetPowered switches the adapter on or off. The change is observed
// through Watch.
func (a *Adapter) SetPowered(on bool) error {
	a.logger.WithFields(logrus.Fields{"adapter": a.path, "on": on}).Info("setting adapter power")
	if err := a.obj.SetProperty(adapterIface+"."+propPowered, dbus.MakeVariant(on)); err != nil {
		return errors.Wrapf(err, "%s: set %s", a.path, propPowered)
	}
	return nil
}

// Watch calls f with the current power state, then with every change,
// until ctx is done.
func (a *Adapter) Watch(ctx context.Context, f func(on bool)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(a.path),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := a.conn.AddMatchSignal(opts...); err != nil {
		return errors.Wrap(err, "add match")
	}
	defer a.conn.RemoveMatchSignal(opts...)

	sigc := make(chan *dbus.Signal, 16)
	a.conn.Signal(sigc)
	defer a.conn.RemoveSignal(sigc)

	on, err := a.Powered()
	if err != nil {
		return err
	}
	f(on)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigc:
			if !ok {
				return errors.New("bus connection closed")
			}
			if on, ok := poweredChange(sig, a.path); ok {
				a.logger.WithFields(logrus.Fields{"adapter": a.path, "on": on}).Debug("adapter power changed")
				f(on)
			}
		}
	}
}

// poweredChange extracts a Powered change of the adapter at path from
// a PropertiesChanged signal.
func poweredChange(sig *dbus.Signal, path dbus.ObjectPath) (on bool, ok bool) {
	if sig == nil || sig.Path != path || sig.Name != propertiesIface+".PropertiesChanged" {
		return false, false
	}
	if len(sig.Body) < 2 {
		return false, false
	}
	if iface, _ := sig.Body[0].(string); iface != adapterIface {
		return false, false
	}
	changed, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return false, false
	}
	v, found := changed[propPowered]
	if !found {
		return false, false
	}
	on, ok = v.Value().(bool)
	return on, ok
}
