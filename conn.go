package gatt

import "net"

// A BDAddr (Bluetooth Device Address) is a hardware-addressed-based net.Addr.
type BDAddr struct{ net.HardwareAddr }

func (a BDAddr) Network() string { return "BLE" }

// Broadcast addresses every connected, subscribed peer.
// It is only meaningful for notifications.
var Broadcast = BDAddr{}

// IsBroadcast reports whether a is the Broadcast address.
func (a BDAddr) IsBroadcast() bool { return len(a.HardwareAddr) == 0 }

// ParseBDAddr parses a colon separated device address, such as "00:11:22:33:44:55".
func ParseBDAddr(s string) (BDAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return BDAddr{}, err
	}
	return BDAddr{hw}, nil
}

// MustParseBDAddr is like ParseBDAddr but panics on error.
func MustParseBDAddr(s string) BDAddr {
	a, err := ParseBDAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}
