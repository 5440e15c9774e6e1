// Package usb contains USB chapter 9 constants and helpers for building
// USB descriptors and control-request data.
package usb

import (
	"bytes"
	"encoding/binary"
)

// Descriptor lengths in bytes (fixed values from USB spec)
const (
	DeviceDescLen         = 18
	ConfigDescLen         = 9
	InterfaceDescLen      = 9
	InterfaceAssocDescLen = 8
	EndpointDescLen       = 7
	EndpointAudioDescLen  = 9
	SSEndpointCompDescLen = 6
)

// MaxStringDescLen bounds the payload of a string descriptor: bLength is a
// byte, so at most 126 UTF-16 code units fit after the 2-byte header.
const MaxStringDescLen = 126

type Data []uint8

// Descriptor is implemented by all serializable USB descriptors. Write
// appends the complete wire form, bLength and bDescriptorType included.
type Descriptor interface {
	Len() int
	Write(b *bytes.Buffer)
}

// EncodeStringDescriptor converts a UTF-8 string to a USB string descriptor byte array.
// The resulting descriptor has the format:
//
//	Byte 0: bLength (total descriptor length)
//	Byte 1: bDescriptorType (0x03 for string)
//	Bytes 2+: UTF-16LE encoded string
func EncodeStringDescriptor(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, 2+len(runes)*2)
	buf[0] = uint8(len(buf)) // bLength
	buf[1] = DTString
	for i, r := range runes {
		buf[2+i*2] = uint8(r)
		buf[2+i*2+1] = uint8(r >> 8)
	}
	return buf
}

// DeviceDescriptor is the standard USB device descriptor.
// BLength and BDescriptorType are implied.
type DeviceDescriptor struct {
	BcdUSB             uint16 // LE
	BDeviceClass       uint8
	BDeviceSubClass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize0    uint8
	IDVendor           uint16 // LE
	IDProduct          uint16 // LE
	BcdDevice          uint16 // LE
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
}

func (d DeviceDescriptor) Len() int { return DeviceDescLen }

func (d DeviceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(DeviceDescLen)
	b.WriteByte(DTDevice)
	_ = binary.Write(b, binary.LittleEndian, d.BcdUSB)
	b.WriteByte(d.BDeviceClass)
	b.WriteByte(d.BDeviceSubClass)
	b.WriteByte(d.BDeviceProtocol)
	b.WriteByte(d.BMaxPacketSize0)
	_ = binary.Write(b, binary.LittleEndian, d.IDVendor)
	_ = binary.Write(b, binary.LittleEndian, d.IDProduct)
	_ = binary.Write(b, binary.LittleEndian, d.BcdDevice)
	b.WriteByte(d.IManufacturer)
	b.WriteByte(d.IProduct)
	b.WriteByte(d.ISerialNumber)
	b.WriteByte(d.BNumConfigurations)
}

// InterfaceDescriptor (9 bytes) for each interface altsetting.
type InterfaceDescriptor struct {
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BNumEndpoints      uint8
	BInterfaceClass    uint8
	BInterfaceSubClass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

func (i InterfaceDescriptor) Len() int { return InterfaceDescLen }

func (i InterfaceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(InterfaceDescLen)
	b.WriteByte(DTInterface)
	b.WriteByte(i.BInterfaceNumber)
	b.WriteByte(i.BAlternateSetting)
	b.WriteByte(i.BNumEndpoints)
	b.WriteByte(i.BInterfaceClass)
	b.WriteByte(i.BInterfaceSubClass)
	b.WriteByte(i.BInterfaceProtocol)
	b.WriteByte(i.IInterface)
}

// InterfaceAssociationDescriptor (8 bytes) groups interfaces into one function.
type InterfaceAssociationDescriptor struct {
	BFirstInterface   uint8
	BInterfaceCount   uint8
	BFunctionClass    uint8
	BFunctionSubClass uint8
	BFunctionProtocol uint8
	IFunction         uint8
}

func (i InterfaceAssociationDescriptor) Len() int { return InterfaceAssocDescLen }

func (i InterfaceAssociationDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(InterfaceAssocDescLen)
	b.WriteByte(DTInterfaceAssociation)
	b.WriteByte(i.BFirstInterface)
	b.WriteByte(i.BInterfaceCount)
	b.WriteByte(i.BFunctionClass)
	b.WriteByte(i.BFunctionSubClass)
	b.WriteByte(i.BFunctionProtocol)
	b.WriteByte(i.IFunction)
}

// EndpointDescriptorNoAudio (7 bytes) is the endpoint descriptor without the
// two audio-only trailing fields. This is the variant functionfs expects for
// non-audio endpoints.
type EndpointDescriptorNoAudio struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16 // LE
	BInterval        uint8
}

func (e EndpointDescriptorNoAudio) Len() int { return EndpointDescLen }

func (e EndpointDescriptorNoAudio) Write(b *bytes.Buffer) {
	b.WriteByte(EndpointDescLen)
	b.WriteByte(DTEndpoint)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
}

// EndpointDescriptor (9 bytes) is the full endpoint descriptor including the
// audio-only BRefresh and BSynchAddress fields.
type EndpointDescriptor struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16 // LE
	BInterval        uint8
	BRefresh         uint8
	BSynchAddress    uint8
}

func (e EndpointDescriptor) Len() int { return EndpointAudioDescLen }

func (e EndpointDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(EndpointAudioDescLen)
	b.WriteByte(DTEndpoint)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
	b.WriteByte(e.BRefresh)
	b.WriteByte(e.BSynchAddress)
}

// SSEndpointCompanionDescriptor (6 bytes) follows each endpoint descriptor in
// super-speed configurations.
type SSEndpointCompanionDescriptor struct {
	BMaxBurst         uint8
	BMAttributes      uint8
	WBytesPerInterval uint16 // LE
}

func (e SSEndpointCompanionDescriptor) Len() int { return SSEndpointCompDescLen }

func (e SSEndpointCompanionDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(SSEndpointCompDescLen)
	b.WriteByte(DTSSEndpointComp)
	b.WriteByte(e.BMaxBurst)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WBytesPerInterval)
}

// ClassSpecificDescriptor represents an opaque class-specific descriptor.
//
// It auto-calculates bLength and hardcodes bDescriptorType. Payload contains
// all bytes after the (bLength, bDescriptorType) header.
type ClassSpecificDescriptor struct {
	DescriptorType uint8
	Payload        Data
}

func (d ClassSpecificDescriptor) Len() int { return 2 + len(d.Payload) }

func (d ClassSpecificDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(uint8(2 + len(d.Payload)))
	b.WriteByte(d.DescriptorType)
	b.Write(d.Payload)
}
