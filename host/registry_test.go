package host

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/native"
	"github.com/XC-/go-gatt/settings"
)

func newTableRegistry(t *testing.T) (*Registry, *native.Table, *Profiles) {
	tb := native.NewTable(nil)
	t.Cleanup(tb.Close)
	require.NoError(t, tb.Setup(&dispatcher{}))
	p := NewProfiles(settings.NewMemStore(), nil)
	return NewRegistry(tb, p, false, nil), tb, p
}

func attr(h uint16, u gatt.UUID) gatt.AttributeParams {
	return gatt.AttributeParams{Handle: h, UUID: u, Read: gatt.AuthNone, Write: gatt.AuthNotPermitted, Value: []byte{0}}
}

func TestRegistryAdmit(t *testing.T) {
	r, _, _ := newTableRegistry(t)

	a, err := r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	b, err := r.Admit("counter", true, nopProfile{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 2, b.ID)

	_, err = r.Admit("battery", true, nopProfile{}, nil)
	assert.Equal(t, ErrDuplicateName, errors.Cause(err))

	got, ok := r.Lookup("counter")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, []*Record{a, b}, r.Records())
}

func TestRegistryStartHandleStable(t *testing.T) {
	r, _, _ := newTableRegistry(t)
	rec, err := r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	g := r.Registrar(rec)

	counts := []int{3, 5, 2}
	starts := make([]uint16, len(counts))
	for i, n := range counts {
		starts[i] = g.AddService(i, gatt.UUID16(0x180F), n)
		require.NotZero(t, starts[i])
		for j := 0; j < n; j++ {
			require.True(t, g.AddAttribute(attr(starts[i]+uint16(j), gatt.UUID16(0x2A19))))
		}
	}
	assert.False(t, g.AddAttribute(attr(starts[2]+2, gatt.UUID16(0x2A19))), "outside the profile's ranges")
	assert.Zero(t, g.AddService(0, gatt.UUID16(0x180F), 3), "index already allocated")

	g.EndInit()
	require.True(t, g.Initialized())
	for i, n := range counts {
		assert.Equal(t, starts[i], g.AddService(i, gatt.UUID16(0x180F), n), "service %d", i)
	}
	assert.Zero(t, g.AddService(1, gatt.UUID16(0x180F), 4), "replayed with a different size")
	assert.Zero(t, g.AddService(3, gatt.UUID16(0x180F), 2), "replayed an unknown index")
	assert.Equal(t, starts[1], g.AddService(1, gatt.UUID16(0x180F), 5))
	assert.False(t, g.AddAttribute(attr(starts[0], gatt.UUID16(0x2A19))), "added after init")

	for i := range counts {
		h, ok := rec.StartHandle(i)
		assert.True(t, ok)
		assert.Equal(t, starts[i], h)
	}
}

func TestRegistryHandleExhaustion(t *testing.T) {
	r, tb, p := newTableRegistry(t)
	tb.SetMaxHandle(4)
	rec, err := r.Admit("big", false, nopProfile{}, nil)
	require.NoError(t, err)

	assert.Zero(t, r.AddService(rec, 0, gatt.UUID16(0x180F), 5))
	assert.True(t, p.Blacklisted("big"))
	assert.False(t, p.Blacklisted("other"))
}

func TestRegistryRemove(t *testing.T) {
	r, tb, _ := newTableRegistry(t)
	rec, err := r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	start := r.AddService(rec, 0, gatt.UUID16(0x180F), 2)
	require.True(t, r.AddAttribute(rec, attr(start, gatt.AttrPrimaryServiceUUID)))
	r.EndInit(rec)

	got, ok := r.ResolveByHandle(start)
	require.True(t, ok)
	assert.Same(t, rec, got)

	assert.True(t, r.Remove(rec))
	assert.False(t, r.Remove(rec), "second removal")
	assert.True(t, rec.Removed())

	_, ok = r.ResolveByHandle(start)
	assert.False(t, ok)
	_, ok = r.Lookup("battery")
	assert.False(t, ok)
	assert.Empty(t, tb.Handles())
	assert.Equal(t, start, tb.FindAvailableRange(gatt.UUID16(0x180F), 2), "range released")

	select {
	case <-rec.done:
	default:
		t.Fatal("done not closed")
	}
}

func TestRegistryRemoveNotOperational(t *testing.T) {
	be := &mockBackend{}
	be.On("FindAvailableRange", mock.Anything, 2).Return(uint16(10))
	be.On("AddAttribute", mock.Anything).Return(true)
	be.On("Operational").Return(false)
	r := NewRegistry(be, NewProfiles(settings.NewMemStore(), nil), false, nil)

	rec, err := r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(10), r.AddService(rec, 0, gatt.UUID16(0x180F), 2))
	require.True(t, r.AddAttribute(rec, attr(10, gatt.AttrPrimaryServiceUUID)))

	assert.True(t, r.Remove(rec))
	be.AssertNotCalled(t, "RemoveAttribute", mock.Anything)
	be.AssertNotCalled(t, "UnregisterSdpRecord", mock.Anything)
	_, ok := r.ResolveByHandle(10)
	assert.False(t, ok)
}

func TestRegistrySdp(t *testing.T) {
	be := &mockBackend{}
	be.On("FindAvailableRange", mock.Anything, 1).Return(uint16(1))
	be.On("RegisterSdpRecord", uint16(1), "battery").Return(uint32(7))
	be.On("Operational").Return(true)
	be.On("RemoveAttribute", uint16(1)).Return(true)
	be.On("UnregisterSdpRecord", uint32(7)).Return()

	profiles := NewProfiles(settings.NewMemStore(), nil)
	r := NewRegistry(be, profiles, true, nil)
	rec, err := r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	r.AddService(rec, 0, gatt.UUID16(0x180F), 1)
	assert.True(t, r.RegisterSdp(rec, 1, "battery"))
	assert.True(t, r.Remove(rec))
	be.AssertExpectations(t)

	// Without BR/EDR the request is accepted but not forwarded.
	off := &mockBackend{}
	r = NewRegistry(off, profiles, false, nil)
	rec, err = r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	assert.True(t, r.RegisterSdp(rec, 1, "battery"))
	off.AssertNotCalled(t, "RegisterSdpRecord", mock.Anything, mock.Anything)
}

func TestRegistryCookies(t *testing.T) {
	r, _, _ := newTableRegistry(t)

	const n = 10000
	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		c := r.NextCookie()
		require.NotZero(t, c)
		require.False(t, seen[c], "cookie %d repeated", c)
		seen[c] = true
	}

	r.setCookie(math.MaxInt32 - 1)
	assert.Equal(t, math.MaxInt32, r.NextCookie())
	assert.Equal(t, 1, r.NextCookie())
	assert.Equal(t, 2, r.NextCookie())
}

func TestRegistrySendIndication(t *testing.T) {
	be := &mockBackend{}
	be.On("FindAvailableRange", mock.Anything, 3).Return(uint16(1))
	be.On("AddAttribute", mock.Anything).Return(true)
	r := NewRegistry(be, NewProfiles(settings.NewMemStore(), nil), false, nil)

	rec, err := r.Admit("battery", false, nopProfile{}, nil)
	require.NoError(t, err)
	r.AddService(rec, 0, gatt.UUID16(0x180F), 3)
	for h := uint16(1); h <= 3; h++ {
		require.True(t, r.AddAttribute(rec, attr(h, gatt.UUID16(0x2A19))))
	}
	d := gatt.MustParseBDAddr("00:11:22:33:44:55")

	assert.Zero(t, r.SendIndication(rec, d, 2, 3, []byte{1}), "not initialized")
	r.EndInit(rec)
	assert.Zero(t, r.SendIndication(rec, d, 9, 3, []byte{1}), "not owned")

	be.On("SendIndication", d, uint16(2), uint16(3), []byte{1}, 1).Return(true).Once()
	be.On("SendIndication", d, uint16(2), uint16(3), []byte{1}, 2).Return(false).Once()

	cookie := r.SendIndication(rec, d, 2, 3, []byte{1})
	require.Equal(t, 1, cookie)
	assert.Zero(t, r.SendIndication(rec, d, 2, 3, []byte{1}))

	got, ok := r.TakeCookie(cookie)
	require.True(t, ok)
	assert.Same(t, rec, got)
	_, ok = r.TakeCookie(cookie)
	assert.False(t, ok, "cookie consumed")
	_, ok = r.TakeCookie(2)
	assert.False(t, ok, "failed send records no cookie")
}

func TestRegistryReset(t *testing.T) {
	r, _, _ := newTableRegistry(t)
	for _, name := range []string{"a", "b", "c"} {
		_, err := r.Admit(name, false, nopProfile{}, nil)
		require.NoError(t, err)
	}
	r.Reset()
	assert.Empty(t, r.Records())

	rec, err := r.Admit("c", false, nopProfile{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ID)
}
