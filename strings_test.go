package functionfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringTableMarshal(t *testing.T) {
	got, err := Strings(0x0409, "ab").MarshalBinary()
	require.NoError(t, err)

	expected := []byte{
		// magic 2, length 21, str_count 1, lang_count 1
		0x02, 0x00, 0x00, 0x00,
		0x15, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		// lang 0x0409, "ab\0"
		0x09, 0x04,
		'a', 'b', 0x00,
	}
	assert.Equal(t, expected, got)
}

func TestStringTableMarshalMultiLang(t *testing.T) {
	table := StringTable{
		{ID: 0x0409, Strings: []string{"cat", "dog"}},
		{ID: 0x040c, Strings: []string{"chat", "chien"}},
	}
	got, err := table.MarshalBinary()
	require.NoError(t, err)

	expected := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x27, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x09, 0x04,
		'c', 'a', 't', 0x00,
		'd', 'o', 'g', 0x00,
		0x0c, 0x04,
		'c', 'h', 'a', 't', 0x00,
		'c', 'h', 'i', 'e', 'n', 0x00,
	}
	assert.Equal(t, expected, got)
}

func TestStringTableMarshalUTF8(t *testing.T) {
	got, err := Strings(0x0409, "héhé").MarshalBinary()
	require.NoError(t, err)
	// UTF-8 passes through unconverted; the kernel does the UTF-16
	// conversion when answering GET_DESCRIPTOR.
	assert.Equal(t, []byte("h\xc3\xa9h\xc3\xa9\x00"), got[18:])
}

func TestStringTableValidation(t *testing.T) {
	cases := []struct {
		name   string
		table  StringTable
		reason string
	}{
		{
			name: "unbalanced languages",
			table: StringTable{
				{ID: 0x0409, Strings: []string{"one", "two"}},
				{ID: 0x040c, Strings: []string{"un"}},
			},
			reason: "has 1 strings, other languages have 2",
		},
		{
			name:   "invalid utf-8",
			table:  Strings(0x0409, "\xff\xfe"),
			reason: "not valid UTF-8",
		},
		{
			name:   "embedded NUL",
			table:  Strings(0x0409, "a\x00b"),
			reason: "contains NUL",
		},
		{
			name:   "too long",
			table:  Strings(0x0409, strings.Repeat("x", 127)),
			reason: "maximum is 126",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.table.MarshalBinary()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.reason)
			var terr *StringTableError
			assert.ErrorAs(t, err, &terr)
		})
	}
}

func TestStringTableCount(t *testing.T) {
	assert.Equal(t, 0, StringTable{}.Count())
	assert.Equal(t, 2, Strings(0x0409, "a", "b").Count())
}
