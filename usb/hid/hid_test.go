package hid_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpelletier/go-functionfs/usb/hid"
)

func TestItemEncoding(t *testing.T) {
	cases := []struct {
		name     string
		item     hid.Item
		expected []byte
	}{
		{"usage page", hid.UsagePage{Page: hid.UsagePageGenericDesktop}, []byte{0x05, 0x01}},
		{"usage page 16-bit", hid.UsagePage{Page: 0xff00}, []byte{0x06, 0x00, 0xff}},
		{"usage", hid.Usage{Usage: hid.UsageKeyboard}, []byte{0x09, 0x06}},
		{"usage minimum", hid.UsageMinimum{Min: 0xe0}, []byte{0x19, 0xe0}},
		{"usage maximum", hid.UsageMaximum{Max: 0xe7}, []byte{0x29, 0xe7}},
		{"logical minimum", hid.LogicalMinimum{Min: 0}, []byte{0x15, 0x00}},
		{"logical minimum negative", hid.LogicalMinimum{Min: -127}, []byte{0x15, 0x81}},
		{"logical maximum 16-bit", hid.LogicalMaximum{Max: 255}, []byte{0x26, 0xff, 0x00}},
		{"report id", hid.ReportID{ID: 5}, []byte{0x85, 0x05}},
		{"report size", hid.ReportSize{Bits: 1}, []byte{0x75, 0x01}},
		{"report count", hid.ReportCount{Count: 8}, []byte{0x95, 0x08}},
		{"input", hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs}, []byte{0x81, 0x02}},
		{"output", hid.Output{Flags: hid.MainConst}, []byte{0x91, 0x01}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := hid.Report{Items: []hid.Item{tc.item}}.Bytes()
			require.NoError(t, err)
			assert.Equal(t, hid.Data(tc.expected), got)
		})
	}
}

func TestCollectionEncoding(t *testing.T) {
	r := hid.Report{Items: []hid.Item{
		hid.UsagePage{Page: hid.UsagePageGenericDesktop},
		hid.Usage{Usage: hid.UsageMouse},
		hid.Collection{Kind: hid.CollectionApplication, Items: []hid.Item{
			hid.Usage{Usage: hid.UsagePointer},
			hid.Collection{Kind: hid.CollectionPhysical, Items: []hid.Item{
				hid.UsagePage{Page: hid.UsagePageButton},
				hid.UsageMinimum{Min: 1},
				hid.UsageMaximum{Max: 3},
				hid.LogicalMinimum{Min: 0},
				hid.LogicalMaximum{Max: 1},
				hid.ReportCount{Count: 3},
				hid.ReportSize{Bits: 1},
				hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
			}},
		}},
	}}
	got, err := r.Bytes()
	require.NoError(t, err)
	expected := hid.Data{
		0x05, 0x01,
		0x09, 0x02,
		0xa1, 0x01,
		0x09, 0x01,
		0xa1, 0x00,
		0x05, 0x09,
		0x19, 0x01,
		0x29, 0x03,
		0x15, 0x00,
		0x25, 0x01,
		0x95, 0x03,
		0x75, 0x01,
		0x81, 0x02,
		0xc0,
		0xc0,
	}
	assert.Equal(t, expected, got)
}

func TestReportNilItem(t *testing.T) {
	_, err := hid.Report{Items: []hid.Item{nil}}.Bytes()
	assert.Error(t, err)
}

func TestClassDescriptor(t *testing.T) {
	d := hid.ClassDescriptor{
		BcdHID: 0x0111,
		Descriptors: []hid.SubDescriptor{
			{Type: hid.DTReport, Length: 63},
		},
	}
	var b bytes.Buffer
	d.Write(&b)
	assert.Equal(t, []byte{0x09, 0x21, 0x11, 0x01, 0x00, 0x01, 0x22, 0x3f, 0x00}, b.Bytes())
	assert.Equal(t, 9, d.Len())
}
