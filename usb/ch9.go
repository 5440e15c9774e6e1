package usb

import "encoding/binary"

// Control request direction, in bmRequestType bit 7 and in
// endpoint descriptors' bEndpointAddress field.
const (
	DirOut = 0x00 // to device
	DirIn  = 0x80 // to host
)

// Control request type, bmRequestType bits 6:5.
const (
	TypeMask     = 0x03 << 5
	TypeStandard = 0x00 << 5
	TypeClass    = 0x01 << 5
	TypeVendor   = 0x02 << 5
	TypeReserved = 0x03 << 5
)

// Control request recipient, bmRequestType bits 4:0.
const (
	RecipMask      = 0x1f
	RecipDevice    = 0x00
	RecipInterface = 0x01
	RecipEndpoint  = 0x02
	RecipOther     = 0x03
)

// Standard request codes (bRequest), USB 2.0 spec table 9-4.
const (
	ReqGetStatus        = 0x00
	ReqClearFeature     = 0x01
	ReqSetFeature       = 0x03
	ReqSetAddress       = 0x05
	ReqGetDescriptor    = 0x06
	ReqSetDescriptor    = 0x07
	ReqGetConfiguration = 0x08
	ReqSetConfiguration = 0x09
	ReqGetInterface     = 0x0a
	ReqSetInterface     = 0x0b
	ReqSynchFrame       = 0x0c
)

// Feature selectors for CLEAR_FEATURE / SET_FEATURE.
const (
	DeviceSelfPowered  = 0
	DeviceRemoteWakeup = 1
	EndpointHalt       = 0 // IN/OUT will STALL
)

// Descriptor types, USB 2.0 spec table 9-5 (plus later additions).
const (
	DTDevice               = 0x01
	DTConfig               = 0x02
	DTString               = 0x03
	DTInterface            = 0x04
	DTEndpoint             = 0x05
	DTDeviceQualifier      = 0x06
	DTOtherSpeedConfig     = 0x07
	DTInterfacePower       = 0x08
	DTOTG                  = 0x09
	DTDebug                = 0x0a
	DTInterfaceAssociation = 0x0b
	DTBOS                  = 0x0f
	DTDeviceCapability     = 0x10
	DTSSEndpointComp       = 0x30
)

// Endpoint address fields (bEndpointAddress).
const (
	EndpointNumberMask = 0x0f
	EndpointDirMask    = 0x80
)

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	EndpointXferTypeMask = 0x03
	EndpointXferControl  = 0
	EndpointXferIsoc     = 1
	EndpointXferBulk     = 2
	EndpointXferInt      = 3
)

// Device and interface class codes.
const (
	ClassPerInterface = 0x00 // for bDeviceClass
	ClassAudio        = 0x01
	ClassComm         = 0x02
	ClassHID          = 0x03
	ClassPhysical     = 0x05
	ClassPrinter      = 0x07
	ClassMassStorage  = 0x08
	ClassHub          = 0x09
	ClassCDCData      = 0x0a
	ClassVideo        = 0x0e
	ClassMisc         = 0xef
	ClassAppSpec      = 0xfe
	ClassVendorSpec   = 0xff

	SubclassVendorSpec = 0xff
)

// SetupLen is the size of a wire-encoded SETUP packet.
const SetupLen = 8

// Setup is the decoded 8-byte SETUP packet of a USB control transfer
// (struct usb_ctrlrequest, USB 2.0 spec section 9.3 table 9-2).
// wValue, wIndex and wLength are little-endian on the wire.
type Setup struct {
	BmRequestType uint8
	BRequest      uint8
	WValue        uint16
	WIndex        uint16
	WLength       uint16
}

// DecodeSetup decodes a wire-format SETUP packet. b must hold at least
// SetupLen bytes.
func DecodeSetup(b []byte) Setup {
	return Setup{
		BmRequestType: b[0],
		BRequest:      b[1],
		WValue:        binary.LittleEndian.Uint16(b[2:4]),
		WIndex:        binary.LittleEndian.Uint16(b[4:6]),
		WLength:       binary.LittleEndian.Uint16(b[6:8]),
	}
}

// Bytes returns the wire representation of the SETUP packet.
func (s Setup) Bytes() []byte {
	b := make([]byte, SetupLen)
	b[0] = s.BmRequestType
	b[1] = s.BRequest
	binary.LittleEndian.PutUint16(b[2:4], s.WValue)
	binary.LittleEndian.PutUint16(b[4:6], s.WIndex)
	binary.LittleEndian.PutUint16(b[6:8], s.WLength)
	return b
}

// IsIn reports whether the data phase (if any) is device-to-host.
func (s Setup) IsIn() bool {
	return s.BmRequestType&DirIn == DirIn
}

// Type returns the request type field (TypeStandard, TypeClass, TypeVendor).
func (s Setup) Type() uint8 {
	return s.BmRequestType & TypeMask
}

// Recipient returns the request recipient field (RecipDevice, RecipInterface, ...).
func (s Setup) Recipient() uint8 {
	return s.BmRequestType & RecipMask
}
