// Package gatt provides the profile and client sides of a Bluetooth Low
// Energy GATT (Generic Attribute Profile) stack.
//
// Gatt is the protocol used to expose and consume attribute tables on BLE
// peripherals. This package leaves the attribute table itself and the
// link layer to a native backend (see the native package) and handles
// everything above it: building services, laying out their attributes,
// serving remote reads and writes, and sending notifications and
// indications.
//
// STATUS
//
// Profiles run on a shared attribute table, next to other profiles, under
// the host package's Coordinator. Several independent profiles can be
// registered at once; each gets its own contiguous handle ranges.
//
// USAGE
//
// A profile is a ServerSession with a Setup function that declares and
// registers its services. Setup runs every time the host (re)builds the
// profile, for instance each time the radio turns on, and must declare the
// same attributes in the same order every time.
//
//     s := gatt.NewServerSession("counter", gatt.Setup(func(s *gatt.ServerSession) error {
//     	svc := gatt.NewService(gatt.MustParseUUID("09fc95c0-c111-11e3-9904-0002a5d5c51b"))
//
//     	// A characteristic that reports how many times it has been read.
//     	n := 0
//     	_, err := svc.AddCharacteristic(gatt.MustParseUUID("11fac9e0-c111-11e3-9246-0002a5d5c51b"),
//     		gatt.PropRead|gatt.PropNotify, 0,
//     		gatt.ReadHandlerFunc(func(req *gatt.ReadRequest) (gatt.Status, []byte) {
//     			n++
//     			return gatt.StatusSuccess, []byte(fmt.Sprintf("count: %d", n))
//     		}))
//     	if err != nil {
//     		return err
//     	}
//     	return s.Register(svc)
//     }))
//
//     // Run it on a host for as long as ctx lives.
//     err := s.Start(coordinator, ctx)
//
// Notifications and indications are sent with SendNotification and
// SendIndication. Both fail fast, without touching the attribute table,
// when the value is nil or longer than MaxAttrValueLen, when the
// characteristic has no client characteristic configuration descriptor,
// or when the profile is not registered. A peer that has not subscribed
// is skipped silently.
//
// Remote attribute tables are consumed through a Client, which shares one
// connection per remote device between all of its ClientSessions and
// caches discovered services until they are invalidated.
//
// Note that some BLE central devices, particularly iOS, may aggressively
// cache results from previous connections. The host invalidates client
// caches whenever the set of running profiles changes.
package gatt
