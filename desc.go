// Package functionfs implements the userland side of the Linux USB
// functionfs gadget protocol: descriptor and string serialization in the
// kernel wire format, the endpoint-0 control channel with its lifecycle
// state machine, asynchronous data-endpoint I/O, and an event dispatch
// loop tying them together.
package functionfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vpelletier/go-functionfs/usb"
)

// Header magic values, from linux/usb/functionfs.h.
const (
	descriptorsMagic   = 1
	stringsMagic       = 2
	descriptorsMagicV2 = 3
)

// V2 header flags.
const (
	FlagHasFSDesc    uint32 = 0x01
	FlagHasHSDesc    uint32 = 0x02
	FlagHasSSDesc    uint32 = 0x04
	FlagHasMSOSDesc  uint32 = 0x08
	FlagVirtualAddr  uint32 = 0x10
	FlagEventfd      uint32 = 0x20
	FlagAllCtrlRecip uint32 = 0x40
	FlagConfig0Setup uint32 = 0x80
)

// Format selects the descriptor block header layout. The kernel accepts
// both; which one to use is an explicit configuration choice, never
// auto-detected, since writing the wrong format is rejected outright.
type Format int

const (
	// FormatV2 is the flagged header (magic 3) supporting super-speed and
	// MS OS descriptors.
	FormatV2 Format = iota
	// FormatLegacy is the pre-3.14 header (magic 1): full- and high-speed
	// descriptor lists only.
	FormatLegacy
)

// Speed identifies one per-speed descriptor list.
type Speed int

const (
	FullSpeed Speed = iota
	HighSpeed
	SuperSpeed
)

func (s Speed) String() string {
	switch s {
	case FullSpeed:
		return "full-speed"
	case HighSpeed:
		return "high-speed"
	case SuperSpeed:
		return "super-speed"
	}
	return fmt.Sprintf("Speed(%d)", int(s))
}

// Desc is the complete descriptor configuration of one function: one
// descriptor list per supported speed plus optional MS OS descriptors.
//
// All non-empty speed lists must declare the same endpoint addresses in the
// same order; the kernel maps the list position of each endpoint descriptor
// to the epN file names, so position is part of the contract.
type Desc struct {
	FS []usb.Descriptor
	HS []usb.Descriptor
	SS []usb.Descriptor
	OS []OSDesc

	// ExtraFlags may add FlagAllCtrlRecip, FlagConfig0Setup or
	// FlagVirtualAddr to the v2 header. The per-speed presence flags are
	// derived from the lists and must not be set here.
	ExtraFlags uint32
}

// MarshalBinary encodes the descriptor block in the requested format.
func (d *Desc) MarshalBinary(format Format) ([]byte, error) {
	if err := d.validate(format); err != nil {
		return nil, err
	}
	switch format {
	case FormatV2:
		return d.marshalV2()
	case FormatLegacy:
		return d.marshalLegacy()
	}
	return nil, fmt.Errorf("functionfs: unknown descriptor format %d", format)
}

func (d *Desc) marshalV2() ([]byte, error) {
	flags := d.ExtraFlags
	if len(d.FS) > 0 {
		flags |= FlagHasFSDesc
	}
	if len(d.HS) > 0 {
		flags |= FlagHasHSDesc
	}
	if len(d.SS) > 0 {
		flags |= FlagHasSSDesc
	}
	if len(d.OS) > 0 {
		flags |= FlagHasMSOSDesc
	}

	var body bytes.Buffer
	for _, list := range [][]usb.Descriptor{d.FS, d.HS, d.SS} {
		if len(list) > 0 {
			_ = binary.Write(&body, binary.LittleEndian, uint32(len(list)))
		}
	}
	if len(d.OS) > 0 {
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(d.OS)))
	}
	for _, list := range [][]usb.Descriptor{d.FS, d.HS, d.SS} {
		writeDescriptors(&body, list)
	}
	for _, os := range d.OS {
		os.writeOS(&body)
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint32(descriptorsMagicV2))
	_ = binary.Write(&out, binary.LittleEndian, uint32(12+body.Len()))
	_ = binary.Write(&out, binary.LittleEndian, flags)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (d *Desc) marshalLegacy() ([]byte, error) {
	var body bytes.Buffer
	writeDescriptors(&body, d.FS)
	writeDescriptors(&body, d.HS)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint32(descriptorsMagic))
	_ = binary.Write(&out, binary.LittleEndian, uint32(16+body.Len()))
	_ = binary.Write(&out, binary.LittleEndian, uint32(len(d.FS)))
	_ = binary.Write(&out, binary.LittleEndian, uint32(len(d.HS)))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeDescriptors(b *bytes.Buffer, list []usb.Descriptor) {
	for _, desc := range list {
		desc.Write(b)
	}
}

func (d *Desc) validate(format Format) error {
	if format == FormatLegacy {
		if len(d.SS) > 0 || len(d.OS) > 0 {
			return &DescriptorError{Speed: SuperSpeed, Index: -1,
				Reason: "legacy format carries only full- and high-speed descriptors"}
		}
		if d.ExtraFlags != 0 {
			return &DescriptorError{Index: -1, Reason: "legacy format has no flags field"}
		}
	}
	if d.ExtraFlags&(FlagHasFSDesc|FlagHasHSDesc|FlagHasSSDesc|FlagHasMSOSDesc|FlagEventfd) != 0 {
		return &DescriptorError{Index: -1, Reason: "presence flags are derived, not set explicitly"}
	}
	if len(d.FS) == 0 && len(d.HS) == 0 && len(d.SS) == 0 {
		return &DescriptorError{Index: -1, Reason: "no descriptors for any speed"}
	}

	var ref []uint8
	var refSpeed Speed
	for speed, list := range map[Speed][]usb.Descriptor{
		FullSpeed: d.FS, HighSpeed: d.HS, SuperSpeed: d.SS,
	} {
		if len(list) == 0 {
			continue
		}
		addrs, err := endpointAddresses(speed, list)
		if err != nil {
			return err
		}
		if ref == nil {
			ref, refSpeed = addrs, speed
			continue
		}
		if !equalAddrs(ref, addrs) {
			return &DescriptorError{Speed: speed, Index: -1,
				Reason: fmt.Sprintf("endpoint addresses %v disagree with %s list %v", addrs, refSpeed, ref)}
		}
	}
	return nil
}

// endpointAddresses validates one speed list and returns its endpoint
// addresses in declaration order. Endpoint numbers are virtual: address 0
// is the control endpoint and never appears here, and the numbers must stay
// within 1..N for N declared endpoints so every address maps to an epN
// data file.
func endpointAddresses(speed Speed, list []usb.Descriptor) ([]uint8, error) {
	var addrs []uint8
	for i, desc := range list {
		if l := desc.Len(); l < 2 || l > 0xff {
			return nil, &DescriptorError{Speed: speed, Index: i,
				Reason: fmt.Sprintf("descriptor length %d does not fit bLength", l)}
		}
		addr, ok := endpointAddress(desc)
		if !ok {
			continue
		}
		if addr&usb.EndpointNumberMask == 0 {
			return nil, &DescriptorError{Speed: speed, Index: i,
				Reason: "endpoint number 0 is reserved for the control endpoint"}
		}
		for _, seen := range addrs {
			if seen == addr {
				return nil, &DescriptorError{Speed: speed, Index: i,
					Reason: fmt.Sprintf("duplicate endpoint address 0x%02x", addr)}
			}
		}
		addrs = append(addrs, addr)
	}
	for i, addr := range addrs {
		if int(addr&usb.EndpointNumberMask) > len(addrs) {
			return nil, &DescriptorError{Speed: speed, Index: i,
				Reason: fmt.Sprintf("endpoint address 0x%02x exceeds the %d declared endpoints", addr, len(addrs))}
		}
	}
	return addrs, nil
}

func endpointAddress(desc usb.Descriptor) (uint8, bool) {
	switch e := desc.(type) {
	case usb.EndpointDescriptorNoAudio:
		return e.BEndpointAddress, true
	case usb.EndpointDescriptor:
		return e.BEndpointAddress, true
	}
	return 0, false
}

func equalAddrs(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EndpointAddrs returns the endpoint addresses declared by the first
// non-empty speed list, in declaration order. Position i maps to data file
// "ep<i+1>".
func (d *Desc) EndpointAddrs() []uint8 {
	for _, list := range [][]usb.Descriptor{d.FS, d.HS, d.SS} {
		if len(list) == 0 {
			continue
		}
		var addrs []uint8
		for _, desc := range list {
			if addr, ok := endpointAddress(desc); ok {
				addrs = append(addrs, addr)
			}
		}
		return addrs
	}
	return nil
}

// MaxStringIndex returns the highest string descriptor index referenced by
// any descriptor, for cross-checking against the string table.
func (d *Desc) MaxStringIndex() uint8 {
	var maxIdx uint8
	up := func(i uint8) {
		if i > maxIdx {
			maxIdx = i
		}
	}
	for _, list := range [][]usb.Descriptor{d.FS, d.HS, d.SS} {
		for _, desc := range list {
			switch t := desc.(type) {
			case usb.InterfaceDescriptor:
				up(t.IInterface)
			case usb.InterfaceAssociationDescriptor:
				up(t.IFunction)
			case usb.DeviceDescriptor:
				up(t.IManufacturer)
				up(t.IProduct)
				up(t.ISerialNumber)
			}
		}
	}
	return maxIdx
}
