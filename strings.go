package functionfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vpelletier/go-functionfs/usb"
)

// Lang is the string list of one language. Position i holds string
// descriptor index i+1; index 0 is the language table itself and is
// produced by the kernel.
type Lang struct {
	ID      uint16 // e.g. 0x0409 for en-US
	Strings []string
}

// StringTable is the ordered set of per-language string lists written to
// ep0 right after the descriptor block. All languages must carry the same
// number of strings.
type StringTable []Lang

// Strings builds a single-language table, the common case.
func Strings(langID uint16, strs ...string) StringTable {
	return StringTable{{ID: langID, Strings: strs}}
}

// Count returns the number of string descriptor indexes the table provides.
func (t StringTable) Count() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0].Strings)
}

// MarshalBinary encodes the table in the kernel wire format: a header
// (magic, total length, string count, language count) followed by, for each
// language, its le16 identifier and its strings as NUL-terminated UTF-8.
func (t StringTable) MarshalBinary() ([]byte, error) {
	count := t.Count()
	var body bytes.Buffer
	for _, lang := range t {
		if len(lang.Strings) != count {
			return nil, &StringTableError{Lang: lang.ID,
				Reason: fmt.Sprintf("has %d strings, other languages have %d", len(lang.Strings), count)}
		}
		_ = binary.Write(&body, binary.LittleEndian, lang.ID)
		for _, s := range lang.Strings {
			if !utf8.ValidString(s) {
				return nil, &StringTableError{Lang: lang.ID, Reason: "string is not valid UTF-8"}
			}
			if strings.ContainsRune(s, 0) {
				return nil, &StringTableError{Lang: lang.ID, Reason: "string contains NUL"}
			}
			if len(s) > usb.MaxStringDescLen {
				return nil, &StringTableError{Lang: lang.ID,
					Reason: fmt.Sprintf("string is %d bytes, maximum is %d", len(s), usb.MaxStringDescLen)}
			}
			body.WriteString(s)
			body.WriteByte(0)
		}
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint32(stringsMagic))
	_ = binary.Write(&out, binary.LittleEndian, uint32(16+body.Len()))
	_ = binary.Write(&out, binary.LittleEndian, uint32(count))
	_ = binary.Write(&out, binary.LittleEndian, uint32(len(t)))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
