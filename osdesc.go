package functionfs

import (
	"bytes"
	"encoding/binary"
)

// Microsoft OS feature descriptors, as carried in the v2 descriptor block.
// Layouts follow the kernel documentation for functionfs OSDesc records.

// OSDesc is either an extended-compatibility or an extended-properties
// feature descriptor.
type OSDesc interface {
	writeOS(b *bytes.Buffer)
}

// OSExtCompat is one Extended Compatibility ID entry (24 bytes on the
// wire). CompatibleID and SubCompatibleID are at most 8 bytes each and are
// zero-padded.
type OSExtCompat struct {
	FirstInterface  uint8
	CompatibleID    string
	SubCompatibleID string
}

// OSDescExtCompat is the wIndex=4 feature descriptor: a list of extended
// compatibility entries for one interface.
type OSDescExtCompat struct {
	Interface uint8
	Compat    []OSExtCompat
}

func (d OSDescExtCompat) writeOS(b *bytes.Buffer) {
	total := osDescHeaderLen + 24*len(d.Compat)
	b.WriteByte(d.Interface)
	_ = binary.Write(b, binary.LittleEndian, uint32(total))
	_ = binary.Write(b, binary.LittleEndian, uint16(1)) // bcdVersion
	_ = binary.Write(b, binary.LittleEndian, uint16(4)) // wIndex
	b.WriteByte(uint8(len(d.Compat)))                   // bCount
	b.WriteByte(0)                                      // reserved
	for _, c := range d.Compat {
		b.WriteByte(c.FirstInterface)
		b.WriteByte(0)
		writeFixed(b, c.CompatibleID, 8)
		writeFixed(b, c.SubCompatibleID, 8)
		writeFixed(b, "", 6)
	}
}

// OSExtProp is one Extended Properties entry. Name and Value are written
// verbatim; any encoding (including UTF-16LE and terminating NULs where the
// property type requires them) is the caller's responsibility.
type OSExtProp struct {
	DataType uint32
	Name     []byte
	Value    []byte
}

// OSDescExtProp is the wIndex=5 feature descriptor: a list of extended
// property entries for one interface.
type OSDescExtProp struct {
	Interface uint8
	Props     []OSExtProp
}

func (d OSDescExtProp) writeOS(b *bytes.Buffer) {
	total := osDescHeaderLen
	for _, p := range d.Props {
		total += 14 + len(p.Name) + len(p.Value)
	}
	b.WriteByte(d.Interface)
	_ = binary.Write(b, binary.LittleEndian, uint32(total))
	_ = binary.Write(b, binary.LittleEndian, uint16(1)) // bcdVersion
	_ = binary.Write(b, binary.LittleEndian, uint16(5)) // wIndex
	_ = binary.Write(b, binary.LittleEndian, uint16(len(d.Props)))
	for _, p := range d.Props {
		_ = binary.Write(b, binary.LittleEndian, uint32(14+len(p.Name)+len(p.Value)))
		_ = binary.Write(b, binary.LittleEndian, p.DataType)
		_ = binary.Write(b, binary.LittleEndian, uint16(len(p.Name)))
		b.Write(p.Name)
		_ = binary.Write(b, binary.LittleEndian, uint32(len(p.Value)))
		b.Write(p.Value)
	}
}

// osDescHeaderLen is the common OSDesc header: interface u8, dwLength
// le32, bcdVersion le16, wIndex le16, count le16 (or bCount+reserved).
const osDescHeaderLen = 11

// writeFixed writes s into a zero-padded field of n bytes, truncating if
// s is longer.
func writeFixed(b *bytes.Buffer, s string, n int) {
	if len(s) > n {
		s = s[:n]
	}
	b.WriteString(s)
	for i := len(s); i < n; i++ {
		b.WriteByte(0)
	}
}
