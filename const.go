package gatt

// This file includes constants from the BLE spec.

var (
	AttrGAPUUID  = UUID16(0x1800)
	AttrGATTUUID = UUID16(0x1801)

	AttrPrimaryServiceUUID   = UUID16(0x2800)
	AttrSecondaryServiceUUID = UUID16(0x2801)
	AttrIncludeUUID          = UUID16(0x2802)
	AttrCharacteristicUUID   = UUID16(0x2803)

	AttrClientCharacteristicConfigUUID = UUID16(0x2902)
	AttrServerCharacteristicConfigUUID = UUID16(0x2903)

	AttrDeviceNameUUID     = UUID16(0x2A00)
	AttrAppearanceUUID     = UUID16(0x2A01)
	AttrServiceChangedUUID = UUID16(0x2A05)
)

// https://developer.bluetooth.org/gatt/characteristics/Pages/CharacteristicViewer.aspx?u=org.bluetooth.characteristic.gap.appearance.xml
var AppearanceGenericComputer = []byte{0x00, 0x80}

// CCC flags, as written by a remote client.
const (
	CCCNotifyFlag   = 0x0001
	CCCIndicateFlag = 0x0002
)

// MaxAttrValueLen is the largest value that fits in a single
// notification or indication with the default ATT_MTU of 23.
const MaxAttrValueLen = 20
