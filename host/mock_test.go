package host

import (
	"github.com/stretchr/testify/mock"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/native"
)

type mockBackend struct{ mock.Mock }

func (m *mockBackend) Setup(ev native.Events) error { return m.Called(ev).Error(0) }
func (m *mockBackend) Teardown()                    { m.Called() }
func (m *mockBackend) Operational() bool            { return m.Called().Bool(0) }

func (m *mockBackend) FindAvailableRange(u gatt.UUID, count int) uint16 {
	return m.Called(u, count).Get(0).(uint16)
}

func (m *mockBackend) AddAttribute(a gatt.AttributeParams) bool { return m.Called(a).Bool(0) }
func (m *mockBackend) RemoveAttribute(h uint16) bool            { return m.Called(h).Bool(0) }

func (m *mockBackend) SendNotification(addr gatt.BDAddr, h, ccc uint16, v []byte) bool {
	return m.Called(addr, h, ccc, v).Bool(0)
}

func (m *mockBackend) SendIndication(addr gatt.BDAddr, h, ccc uint16, v []byte, cookie int) bool {
	return m.Called(addr, h, ccc, v, cookie).Bool(0)
}

func (m *mockBackend) RegisterSdpRecord(h uint16, name string) uint32 {
	return m.Called(h, name).Get(0).(uint32)
}

func (m *mockBackend) UnregisterSdpRecord(sdp uint32) { m.Called(sdp) }
func (m *mockBackend) InvalidateClientCache()         { m.Called() }

var _ native.Backend = (*mockBackend)(nil)

// nopProfile is a Profile that registers nothing.
type nopProfile struct{}

func (nopProfile) RegisterProfile(r gatt.Registrar) error { r.EndInit(); return nil }
func (nopProfile) UnregisterProfile()                     {}
func (nopProfile) OnRead(d gatt.BDAddr, h uint16) (gatt.Status, []byte) {
	return gatt.StatusSuccess, nil
}
func (nopProfile) OnWrite(d gatt.BDAddr, h uint16, v []byte) gatt.Status { return gatt.StatusSuccess }
func (nopProfile) OnIndicationResult(cookie int, s gatt.Status)          {}
