package host

import (
	"fmt"

	"github.com/sirupsen/logrus"

	gatt "github.com/XC-/go-gatt"
)

// dispatcher routes attribute table callbacks to the owning profile.
// A panicking profile handler is answered with gatt.StatusIOError.
type dispatcher struct {
	r      *Registry
	logger *logrus.Logger
}

func (d *dispatcher) recover(rec *Record, op string, h uint16) {
	if e := recover(); e != nil {
		d.logger.WithFields(logrus.Fields{
			"profile": rec.Name,
			"op":      op,
			"handle":  h,
			"panic":   fmt.Sprint(e),
		}).Error("profile handler failed")
	}
}

func (d *dispatcher) OnRead(addr gatt.BDAddr, h uint16) (st gatt.Status, v []byte) {
	rec, ok := d.r.ResolveByHandle(h)
	if !ok {
		return gatt.StatusInvalidHandle, nil
	}
	st, v = gatt.StatusIOError, nil
	defer d.recover(rec, "read", h)
	return rec.Profile.OnRead(addr, h)
}

func (d *dispatcher) OnWrite(addr gatt.BDAddr, h uint16, v []byte) (st gatt.Status) {
	rec, ok := d.r.ResolveByHandle(h)
	if !ok {
		return gatt.StatusInvalidHandle
	}
	st = gatt.StatusIOError
	defer d.recover(rec, "write", h)
	return rec.Profile.OnWrite(addr, h, v)
}

func (d *dispatcher) OnIndicationResult(cookie int, s gatt.Status) {
	rec, ok := d.r.TakeCookie(cookie)
	if !ok {
		d.logger.WithField("cookie", cookie).Debug("indication result for unknown cookie")
		return
	}
	defer d.recover(rec, "indication result", 0)
	rec.Profile.OnIndicationResult(cookie, s)
}
