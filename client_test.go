package gatt_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/host"
	"github.com/XC-/go-gatt/native"
	"github.com/XC-/go-gatt/settings"
)

var central = gatt.MustParseBDAddr("aa:bb:cc:dd:ee:ff")

var (
	uuidEnv     = gatt.UUID16(0x181A)
	uuidTemp    = gatt.UUID16(0x2A6E)
	uuidControl = gatt.MustParseUUID("7E0A0001-3B5C-4E62-9D11-52C1F4D2A001")
	uuidAlert   = gatt.MustParseUUID("7E0A0002-3B5C-4E62-9D11-52C1F4D2A001")
	uuidBattery = gatt.UUID16(0x180F)
	uuidLevel   = gatt.UUID16(0x2A19)
)

type remote struct {
	tb *native.Table
	c  *host.Coordinator
	s  *gatt.ServerSession

	temp, alert *gatt.Characteristic
	written     chan []byte
}

// newRemote runs a two-service profile on a loopback attribute table.
//
//	0x0001 environmental sensing: temperature (read, notify),
//	       control (write), alert (indicate)
//	0x000A battery: level (read)
func newRemote(t *testing.T) *remote {
	r := &remote{written: make(chan []byte, 4)}
	r.s = gatt.NewServerSession("env", gatt.Setup(func(s *gatt.ServerSession) error {
		env := gatt.NewService(uuidEnv)
		var err error
		r.temp, err = env.AddCharacteristic(uuidTemp, gatt.PropRead|gatt.PropNotify, 0,
			gatt.ReadHandlerFunc(func(*gatt.ReadRequest) (gatt.Status, []byte) {
				return gatt.StatusSuccess, []byte{0x10, 0x09}
			}))
		if err != nil {
			return err
		}
		if _, err = env.AddCharacteristic(uuidControl, gatt.PropWrite|gatt.PropWriteNR, 0,
			gatt.WriteHandlerFunc(func(req *gatt.WriteRequest) gatt.Status {
				r.written <- req.Data
				return gatt.StatusSuccess
			})); err != nil {
			return err
		}
		if r.alert, err = env.AddStaticCharacteristic(uuidAlert, gatt.PropIndicate, 0, nil); err != nil {
			return err
		}
		if err = s.Register(env); err != nil {
			return err
		}

		bat := gatt.NewService(uuidBattery)
		if _, err = bat.AddStaticCharacteristic(uuidLevel, gatt.PropRead, 0, []byte{99}); err != nil {
			return err
		}
		return s.Register(bat)
	}))

	r.tb = native.NewTable(nil)
	t.Cleanup(r.tb.Close)
	r.c = host.NewCoordinator(r.tb, settings.NewMemStore(), host.BinderFunc(func(name string) (gatt.Profile, gatt.Link, error) {
		return nil, nil, errors.Errorf("no package %s", name)
	}), host.Config{})
	t.Cleanup(r.c.Close)
	require.NoError(t, r.c.RadioOn())
	require.NoError(t, r.s.Start(r.c, nil))
	return r
}

func discover(t *testing.T, s *gatt.ClientSession) (env, bat *gatt.RemoteService, temp, control, alert *gatt.RemoteCharacteristic) {
	svcs, err := s.Services()
	require.NoError(t, err)
	require.Len(t, svcs, 2)
	env, bat = svcs[0], svcs[1]
	cc, err := env.Characteristics()
	require.NoError(t, err)
	require.Len(t, cc, 3)
	return env, bat, cc[0], cc[1], cc[2]
}

func TestClientDiscovery(t *testing.T) {
	r := newRemote(t)
	cl := gatt.NewClient(r.tb)
	s, err := cl.Connect(central, gatt.ClientCallbacks{})
	require.NoError(t, err)

	env, bat, temp, control, alert := discover(t, s)
	assert.True(t, uuidEnv.Equal(env.UUID()))
	assert.Equal(t, uint16(1), env.Handle())
	assert.Equal(t, uint16(9), env.EndHandle())
	assert.True(t, uuidBattery.Equal(bat.UUID()))
	assert.Equal(t, uint16(10), bat.Handle())
	assert.Equal(t, uint16(12), bat.EndHandle())

	assert.True(t, uuidTemp.Equal(temp.UUID()))
	assert.Equal(t, uint16(3), temp.ValueHandle())
	assert.Equal(t, gatt.PropRead|gatt.PropNotify, temp.Properties())
	require.Len(t, temp.Descriptors(), 1)
	assert.Equal(t, uint16(4), temp.Descriptors()[0].Handle())
	assert.True(t, uuidControl.Equal(control.UUID()))
	assert.Empty(t, control.Descriptors())
	assert.True(t, uuidAlert.Equal(alert.UUID()))
	assert.Same(t, env, temp.Service())

	// Cached until invalidated.
	svcs, err := s.Services()
	require.NoError(t, err)
	assert.Same(t, env, svcs[0])
	cc, err := env.Characteristics()
	require.NoError(t, err)
	assert.Same(t, temp, cc[0])

	env.Invalidate()
	cc, err = env.Characteristics()
	require.NoError(t, err)
	assert.NotSame(t, temp, cc[0])
	assert.Equal(t, temp.ValueHandle(), cc[0].ValueHandle())

	s.Refresh()
	svcs, err = s.Services()
	require.NoError(t, err)
	assert.NotSame(t, env, svcs[0])
}

func TestClientReadWrite(t *testing.T) {
	r := newRemote(t)
	s, err := gatt.NewClient(r.tb).Connect(central, gatt.ClientCallbacks{})
	require.NoError(t, err)
	_, bat, temp, control, _ := discover(t, s)

	v, err := s.ReadCharacteristic(temp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x09}, v)

	levels, err := bat.Characteristics()
	require.NoError(t, err)
	v, err = s.ReadCharacteristic(levels[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{99}, v)

	v, err = s.ReadDescriptor(temp.Descriptors()[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, v)

	require.NoError(t, s.WriteCharacteristic(control, []byte("req"), true))
	assert.Equal(t, []byte("req"), <-r.written)
	require.NoError(t, s.WriteCharacteristic(control, []byte("cmd"), false))
	assert.Equal(t, []byte("cmd"), <-r.written)

	_, err = s.ReadCharacteristic(control)
	var ce *gatt.ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, gatt.StatusReadNotPermitted, ce.Status)
	assert.Equal(t, control.ValueHandle(), ce.Handle)

	err = s.WriteCharacteristic(temp, []byte{1}, true)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, gatt.StatusWriteNotPermitted, ce.Status)
}

func TestClientNotify(t *testing.T) {
	r := newRemote(t)
	cl := gatt.NewClient(r.tb)

	type change struct {
		c                     *gatt.RemoteCharacteristic
		notifying, indicating bool
	}
	changes := make(chan change, 4)
	values := make(chan []byte, 4)
	s, err := cl.Connect(central, gatt.ClientCallbacks{
		OnNotification: func(c *gatt.RemoteCharacteristic, v []byte) { values <- v },
		OnPropertyChanged: func(c *gatt.RemoteCharacteristic, notifying, indicating bool) {
			changes <- change{c, notifying, indicating}
		},
	})
	require.NoError(t, err)
	_, _, temp, control, alert := discover(t, s)

	var ce *gatt.ClientError
	require.True(t, errors.As(s.SetNotify(control, true, false), &ce))
	assert.Equal(t, gatt.StatusRequestNotSupported, ce.Status)

	require.NoError(t, s.SetNotify(temp, true, false))
	ch := <-changes
	assert.Same(t, temp, ch.c)
	assert.True(t, ch.notifying)
	assert.False(t, ch.indicating)
	n, i := temp.Subscription()
	assert.True(t, n)
	assert.False(t, i)

	require.True(t, r.s.SendNotification(gatt.Broadcast, r.temp, []byte{0x20, 0x09}))
	select {
	case v := <-values:
		assert.Equal(t, []byte{0x20, 0x09}, v)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	require.NoError(t, s.SetNotify(alert, true, true))
	ch = <-changes
	assert.True(t, ch.indicating)

	confirmed := make(chan gatt.Status, 1)
	require.True(t, r.s.SendIndication(central, r.alert, []byte{1}, func(d gatt.BDAddr, c *gatt.Characteristic, st gatt.Status) {
		confirmed <- st
	}))
	assert.Equal(t, []byte{1}, <-values)
	assert.Equal(t, gatt.StatusSuccess, <-confirmed)

	require.NoError(t, s.SetNotify(temp, false, false))
	ch = <-changes
	assert.False(t, ch.notifying)
	require.True(t, r.s.SendNotification(gatt.Broadcast, r.temp, []byte{0}))
	select {
	case v := <-values:
		t.Fatalf("notified after unsubscribing: %x", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestClientSharedConnection(t *testing.T) {
	r := newRemote(t)
	cl := gatt.NewClient(r.tb)

	gone := make(chan int, 2)
	a, err := cl.Connect(central, gatt.ClientCallbacks{OnDisconnect: func() { gone <- 1 }})
	require.NoError(t, err)
	b, err := cl.Connect(central, gatt.ClientCallbacks{OnDisconnect: func() { gone <- 2 }})
	require.NoError(t, err)
	assert.Equal(t, 1, a.ID())
	assert.Equal(t, 2, b.ID())
	assert.Same(t, a.Peripheral(), b.Peripheral())

	_, _, temp, _, _ := discover(t, a)
	require.NoError(t, a.Disconnect())
	assert.False(t, a.Connected())
	assert.True(t, b.Connected())
	_, err = a.ReadCharacteristic(temp)
	var ce *gatt.ClientError
	require.True(t, errors.As(err, &ce), "typed error after disconnect")
	assert.Equal(t, gatt.StatusIOError, ce.Status)
	assert.Equal(t, temp.ValueHandle(), ce.Handle)
	assert.True(t, errors.Is(err, gatt.ErrNotConnected))
	err = a.WriteCharacteristic(temp, []byte{1}, true)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "write characteristic", ce.Op)
	assert.True(t, errors.Is(err, gatt.ErrNotConnected))
	require.True(t, errors.As(a.SetNotify(temp, true, false), &ce))
	assert.True(t, errors.Is(ce, gatt.ErrNotConnected))

	v, err := b.ReadCharacteristic(temp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x09}, v)

	require.NoError(t, b.Disconnect())
	require.NoError(t, b.Disconnect(), "second disconnect")
	_, err = b.Services()
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, gatt.ErrNotConnected))
	_, err = r.tb.Attributes(central, 1, 0xFFFF)
	assert.Equal(t, gatt.ErrNotConnected, err, "transport connection closed")

	// A remote disconnect reaches every open session.
	c, err := cl.Connect(central, gatt.ClientCallbacks{OnDisconnect: func() { gone <- 3 }})
	require.NoError(t, err)
	assert.Equal(t, 3, c.ID())
	require.NoError(t, r.c.RadioOff())
	select {
	case id := <-gone:
		assert.Equal(t, 3, id)
	case <-time.After(time.Second):
		t.Fatal("no disconnect callback")
	}
	assert.False(t, c.Connected())
	require.NoError(t, c.Disconnect())

	_, err = cl.Connect(gatt.Broadcast, gatt.ClientCallbacks{})
	assert.Error(t, err)
}
