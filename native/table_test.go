package native

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatt "github.com/XC-/go-gatt"
)

type result struct {
	cookie int
	status gatt.Status
}

type events struct {
	results chan result
	writes  chan []byte
}

func newEvents() *events {
	return &events{results: make(chan result, 8), writes: make(chan []byte, 8)}
}

func (e *events) OnRead(d gatt.BDAddr, h uint16) (gatt.Status, []byte) {
	return gatt.StatusSuccess, []byte{byte(h)}
}

func (e *events) OnWrite(d gatt.BDAddr, h uint16, v []byte) gatt.Status {
	e.writes <- v
	return gatt.StatusSuccess
}

func (e *events) OnIndicationResult(cookie int, s gatt.Status) {
	e.results <- result{cookie, s}
}

var peerAddr = gatt.MustParseBDAddr("00:11:22:33:44:55")

func newTestTable(t *testing.T) (*Table, *events) {
	tb := NewTable(nil)
	t.Cleanup(tb.Close)
	ev := newEvents()
	require.NoError(t, tb.Setup(ev))
	return tb, ev
}

func addAttr(t *testing.T, tb *Table, h uint16, u gatt.UUID, read, write gatt.Auth, v []byte, cb bool) {
	require.True(t, tb.AddAttribute(gatt.AttributeParams{
		Handle: h, UUID: u, Read: read, Write: write, Value: v, HasCallback: cb,
	}))
}

func TestTableFindAvailableRange(t *testing.T) {
	tb, _ := newTestTable(t)
	u := gatt.UUID16(0x180F)

	assert.Equal(t, uint16(1), tb.FindAvailableRange(u, 3))
	assert.Equal(t, uint16(4), tb.FindAvailableRange(u, 2))
	assert.Equal(t, uint16(6), tb.FindAvailableRange(u, 4))

	// Free the middle range; a smaller request fits in the hole.
	assert.True(t, tb.RemoveAttribute(4))
	assert.True(t, tb.RemoveAttribute(5))
	assert.False(t, tb.RemoveAttribute(5))
	assert.Equal(t, uint16(10), tb.FindAvailableRange(u, 3))
	assert.Equal(t, uint16(4), tb.FindAvailableRange(u, 2))

	assert.Equal(t, uint16(0), tb.FindAvailableRange(u, 0))
	tb.SetMaxHandle(14)
	assert.Equal(t, uint16(13), tb.FindAvailableRange(u, 2))
	assert.Equal(t, uint16(0), tb.FindAvailableRange(u, 1))
}

func TestTableAddAttribute(t *testing.T) {
	tb, _ := newTestTable(t)
	start := tb.FindAvailableRange(gatt.UUID16(0x180F), 2)

	a := gatt.AttributeParams{Handle: start, UUID: gatt.AttrPrimaryServiceUUID, Read: gatt.AuthNone, Write: gatt.AuthNotPermitted}
	assert.True(t, tb.AddAttribute(a))
	assert.False(t, tb.AddAttribute(a), "duplicate handle")

	a.Handle = start + 2
	assert.False(t, tb.AddAttribute(a), "outside the reserved range")

	a.Handle = 0
	assert.False(t, tb.AddAttribute(a))

	assert.Equal(t, []uint16{start}, tb.Handles())
}

func TestTableNotOperational(t *testing.T) {
	tb := NewTable(nil)
	defer tb.Close()

	assert.False(t, tb.Operational())
	assert.Equal(t, uint16(0), tb.FindAvailableRange(gatt.UUID16(0x180F), 1))
	assert.False(t, tb.RemoveAttribute(1))
	assert.Nil(t, tb.Peer(peerAddr))
	assert.Equal(t, ErrNotOperational, tb.Connect(peerAddr, nil))

	tb.SetFailSetup(true)
	assert.Equal(t, ErrSetupFailed, tb.Setup(newEvents()))
	tb.SetFailSetup(false)
	require.NoError(t, tb.Setup(newEvents()))
	assert.Error(t, tb.Setup(newEvents()))
}

func TestTableNotifySubscribedOnly(t *testing.T) {
	tb, _ := newTestTable(t)
	start := tb.FindAvailableRange(gatt.UUID16(0x180F), 2)
	vh, ccc := start, start+1
	addAttr(t, tb, vh, gatt.UUID16(0x2A19), gatt.AuthNone, gatt.AuthNotPermitted, []byte{50}, false)
	addAttr(t, tb, ccc, gatt.AttrClientCharacteristicConfigUUID, gatt.AuthNone, gatt.AuthNone, []byte{0, 0}, false)

	sub := tb.Peer(peerAddr)
	other := tb.Peer(gatt.MustParseBDAddr("00:11:22:33:44:66"))
	st, err := sub.Subscribe(ccc, gatt.CCCNotifyFlag)
	require.NoError(t, err)
	require.Equal(t, gatt.StatusSuccess, st)

	v, st, err := sub.Read(ccc)
	require.NoError(t, err)
	assert.Equal(t, gatt.StatusSuccess, st)
	assert.Equal(t, []byte{1, 0}, v)

	assert.True(t, tb.SendNotification(gatt.Broadcast, vh, ccc, []byte{42}))
	assert.True(t, tb.SendNotification(other.Address(), vh, ccc, []byte{43}))
	assert.False(t, tb.SendNotification(gatt.MustParseBDAddr("00:00:00:00:00:01"), vh, ccc, []byte{44}))

	assert.Equal(t, []Value{{Handle: vh, Data: []byte{42}}}, sub.Received())
	assert.Empty(t, other.Received())
}

func TestTableIndication(t *testing.T) {
	tb, ev := newTestTable(t)
	start := tb.FindAvailableRange(gatt.UUID16(0x180F), 2)
	vh, ccc := start, start+1
	addAttr(t, tb, vh, gatt.UUID16(0x2A19), gatt.AuthNone, gatt.AuthNotPermitted, []byte{50}, false)
	addAttr(t, tb, ccc, gatt.AttrClientCharacteristicConfigUUID, gatt.AuthNone, gatt.AuthNone, []byte{0, 0}, false)

	p := tb.Peer(peerAddr)
	assert.False(t, tb.SendIndication(gatt.Broadcast, vh, ccc, []byte{1}, 1))

	assert.True(t, tb.SendIndication(peerAddr, vh, ccc, []byte{1}, 7))
	assert.Equal(t, result{7, gatt.StatusUnlikely}, <-ev.results)

	_, err := p.Subscribe(ccc, gatt.CCCIndicateFlag)
	require.NoError(t, err)
	assert.True(t, tb.SendIndication(peerAddr, vh, ccc, []byte{2}, 8))
	assert.Equal(t, result{8, gatt.StatusSuccess}, <-ev.results)
	assert.Equal(t, []Value{{Handle: vh, Data: []byte{2}, Indication: true}}, p.Received())
}

func TestTableAccess(t *testing.T) {
	tb, ev := newTestTable(t)
	start := tb.FindAvailableRange(gatt.UUID16(0x180F), 3)
	addAttr(t, tb, start, gatt.UUID16(0x2A00), gatt.AuthNone, gatt.AuthNone, []byte("a"), false)
	addAttr(t, tb, start+1, gatt.UUID16(0x2A01), gatt.AuthRequired, gatt.AuthNotPermitted, []byte("b"), false)
	addAttr(t, tb, start+2, gatt.UUID16(0x2A02), gatt.AuthNone, gatt.AuthNone, nil, true)

	p := tb.Peer(peerAddr)
	tests := []struct {
		h     uint16
		want  []byte
		state gatt.Status
	}{
		{start, []byte("a"), gatt.StatusSuccess},
		{start + 1, nil, gatt.StatusAuthentication},
		{start + 2, []byte{byte(start + 2)}, gatt.StatusSuccess},
		{start + 3, nil, gatt.StatusInvalidHandle},
	}
	for _, tt := range tests {
		v, st, err := p.Read(tt.h)
		require.NoError(t, err)
		assert.Equal(t, tt.state, st, "handle %d", tt.h)
		assert.Equal(t, tt.want, v, "handle %d", tt.h)
	}

	p.Authenticate()
	v, st, _ := p.Read(start + 1)
	assert.Equal(t, gatt.StatusSuccess, st)
	assert.Equal(t, []byte("b"), v)

	st, _ = p.Write(start+1, []byte("x"))
	assert.Equal(t, gatt.StatusWriteNotPermitted, st)

	st, _ = p.Write(start, []byte("z"))
	assert.Equal(t, gatt.StatusSuccess, st)
	v, _, _ = p.Read(start)
	assert.Equal(t, []byte("z"), v)

	st, _ = p.Write(start+2, []byte("dyn"))
	assert.Equal(t, gatt.StatusSuccess, st)
	assert.Equal(t, []byte("dyn"), <-ev.writes)

	_, _, err := tb.Read(gatt.MustParseBDAddr("00:00:00:00:00:09"), start)
	assert.Equal(t, gatt.ErrNotConnected, err)
}

type transportEvents struct {
	values chan []byte
	gone   chan struct{}
}

func (e *transportEvents) OnValue(addr gatt.BDAddr, h uint16, v []byte) { e.values <- v }
func (e *transportEvents) OnDisconnect(addr gatt.BDAddr)                { close(e.gone) }

func TestTableTeardownDisconnects(t *testing.T) {
	tb, _ := newTestTable(t)
	te := &transportEvents{values: make(chan []byte, 1), gone: make(chan struct{})}
	require.NoError(t, tb.Connect(peerAddr, te))
	assert.Error(t, tb.Connect(peerAddr, te))

	tb.FindAvailableRange(gatt.UUID16(0x180F), 1)
	assert.Equal(t, uint32(1), tb.RegisterSdpRecord(1, "battery"))
	assert.Equal(t, 1, tb.SdpRecords())

	tb.Teardown()
	select {
	case <-te.gone:
	case <-time.After(time.Second):
		t.Fatal("peer not disconnected")
	}
	assert.False(t, tb.Operational())
	assert.Empty(t, tb.Handles())
	assert.Equal(t, 0, tb.SdpRecords())
}
