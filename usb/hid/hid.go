// Package hid provides HID-class definitions for gadget functions: the HID
// class descriptor (0x21) and a structured encoder for HID report
// descriptors (0x22).
//
// A report descriptor is a byte-coded DSL. This package models it as a tree
// of Go structs (including nested collections) and encodes it to the exact
// descriptor byte stream.
package hid

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Data is a strongly-typed byte slice used for HID descriptor payloads.
type Data []uint8

// ItemType is the HID short item "type" field.
// See HID 1.11 spec: Main=0, Global=1, Local=2, Reserved=3.
type ItemType uint8

const (
	ItemTypeMain     ItemType = 0
	ItemTypeGlobal   ItemType = 1
	ItemTypeLocal    ItemType = 2
	ItemTypeReserved ItemType = 3
)

// Item is one node in a HID report descriptor.
type Item interface {
	encode(e *encoder) error
}

// Report is a complete HID report descriptor (type 0x22).
type Report struct {
	Items []Item
}

// Bytes encodes the report descriptor.
func (r Report) Bytes() (Data, error) {
	e := &encoder{}
	for _, it := range r.Items {
		if it == nil {
			return nil, fmt.Errorf("hid: nil item")
		}
		if err := it.encode(e); err != nil {
			return nil, err
		}
	}
	if len(e.buf) > MaxDescriptorSize {
		return nil, fmt.Errorf("hid: report descriptor too large: %d", len(e.buf))
	}
	return Data(e.buf), nil
}

// SubDescriptor is one subordinate descriptor entry in the HID class
// descriptor: its type (normally DTReport) and wire length.
type SubDescriptor struct {
	Type   uint8
	Length uint16 // LE
}

// ClassDescriptor is the HID class descriptor (0x21) emitted in the
// configuration between the interface descriptor and its endpoints.
//
// bLength is auto-calculated as 6 + 3*len(Descriptors). Note: functionfs
// only supports exactly one subordinate descriptor entry as of this writing.
type ClassDescriptor struct {
	BcdHID       uint16 // LE
	BCountryCode uint8
	Descriptors  []SubDescriptor
}

func (c ClassDescriptor) Len() int { return 6 + 3*len(c.Descriptors) }

func (c ClassDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(uint8(6 + 3*len(c.Descriptors)))
	b.WriteByte(DTHID)
	_ = binary.Write(b, binary.LittleEndian, c.BcdHID)
	b.WriteByte(c.BCountryCode)
	b.WriteByte(uint8(len(c.Descriptors)))
	for _, sd := range c.Descriptors {
		b.WriteByte(sd.Type)
		_ = binary.Write(b, binary.LittleEndian, sd.Length)
	}
}

type encoder struct {
	buf []byte
}

func (e *encoder) short(tag uint8, typ ItemType, data Data) error {
	n := len(data)
	var sizeCode uint8
	switch n {
	case 0:
		sizeCode = 0
	case 1:
		sizeCode = 1
	case 2:
		sizeCode = 2
	case 4:
		sizeCode = 3
	default:
		return fmt.Errorf("hid: short item data must be 0/1/2/4 bytes, got %d", n)
	}
	header := (tag << 4) | (uint8(typ) << 2) | sizeCode
	e.buf = append(e.buf, header)
	e.buf = append(e.buf, data...)
	return nil
}

func dataU32(v uint32) Data {
	if v <= 0xFF {
		return Data{uint8(v)}
	}
	if v <= 0xFFFF {
		return Data{uint8(v), uint8(v >> 8)}
	}
	return Data{uint8(v), uint8(v >> 8), uint8(v >> 16), uint8(v >> 24)}
}

func dataI32(v int32) Data {
	if v >= -128 && v <= 127 {
		return Data{uint8(v)}
	}
	if v >= -32768 && v <= 32767 {
		uv := uint16(int16(v))
		return Data{uint8(uv), uint8(uv >> 8)}
	}
	uv := uint32(v)
	return Data{uint8(uv), uint8(uv >> 8), uint8(uv >> 16), uint8(uv >> 24)}
}
