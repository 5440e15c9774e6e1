package hid

import "github.com/vpelletier/go-functionfs/usb"

// HID interface subclass and protocol codes.
const (
	SubclassNone = 0
	SubclassBoot = 1

	ProtocolNone     = 0
	ProtocolKeyboard = 1
	ProtocolMouse    = 2
)

// HID class requests.
const (
	ReqGetReport   = 0x01
	ReqGetIdle     = 0x02
	ReqGetProtocol = 0x03
	ReqSetReport   = 0x09
	ReqSetIdle     = 0x0a
	ReqSetProtocol = 0x0b
)

// HID class descriptor types.
const (
	DTHID      = usb.TypeClass | 1 // 0x21
	DTReport   = usb.TypeClass | 2 // 0x22
	DTPhysical = usb.TypeClass | 3 // 0x23
)

// MaxDescriptorSize is the kernel bound on a report descriptor.
const MaxDescriptorSize = 4096

// Common Usage Pages, per HID Usage Tables.
const (
	UsagePageGenericDesktop uint16 = 0x01
	UsagePageKeyboard       uint16 = 0x07
	UsagePageLEDs           uint16 = 0x08
	UsagePageButton         uint16 = 0x09
	UsagePageConsumer       uint16 = 0x0c
)

// Generic Desktop usages.
const (
	UsagePointer  uint16 = 0x01
	UsageMouse    uint16 = 0x02
	UsageJoystick uint16 = 0x04
	UsageGamePad  uint16 = 0x05
	UsageKeyboard uint16 = 0x06
	UsageX        uint16 = 0x30
	UsageY        uint16 = 0x31
	UsageWheel    uint16 = 0x38
)

// CollectionKind values.
type CollectionKind uint8

const (
	CollectionPhysical    CollectionKind = 0x00
	CollectionApplication CollectionKind = 0x01
	CollectionLogical     CollectionKind = 0x02
)

type MainFlags uint8

const (
	MainData  MainFlags = 0x00
	MainConst MainFlags = 0x01

	MainArray MainFlags = 0x00
	MainVar   MainFlags = 0x02

	MainAbs MainFlags = 0x00
	MainRel MainFlags = 0x04
)
