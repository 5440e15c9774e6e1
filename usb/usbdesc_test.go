package usb_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vpelletier/go-functionfs/usb"
)

func encode(d usb.Descriptor) []byte {
	var b bytes.Buffer
	d.Write(&b)
	return b.Bytes()
}

func TestDescriptorEncoding(t *testing.T) {
	cases := []struct {
		name     string
		desc     usb.Descriptor
		expected []byte
	}{
		{
			name: "device",
			desc: usb.DeviceDescriptor{
				BcdUSB:             0x0200,
				BMaxPacketSize0:    64,
				IDVendor:           0x1d6b,
				IDProduct:          0x0104,
				BcdDevice:          0x0100,
				IManufacturer:      1,
				IProduct:           2,
				ISerialNumber:      3,
				BNumConfigurations: 1,
			},
			expected: []byte{
				0x12, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x40,
				0x6b, 0x1d, 0x04, 0x01, 0x00, 0x01, 0x01, 0x02,
				0x03, 0x01,
			},
		},
		{
			name: "interface",
			desc: usb.InterfaceDescriptor{
				BInterfaceNumber:   1,
				BAlternateSetting:  2,
				BNumEndpoints:      3,
				BInterfaceClass:    usb.ClassHID,
				BInterfaceSubClass: 1,
				BInterfaceProtocol: 2,
				IInterface:         4,
			},
			expected: []byte{0x09, 0x04, 0x01, 0x02, 0x03, 0x03, 0x01, 0x02, 0x04},
		},
		{
			name: "interface association",
			desc: usb.InterfaceAssociationDescriptor{
				BFirstInterface:   0,
				BInterfaceCount:   2,
				BFunctionClass:    usb.ClassComm,
				BFunctionSubClass: 2,
				BFunctionProtocol: 1,
				IFunction:         5,
			},
			expected: []byte{0x08, 0x0b, 0x00, 0x02, 0x02, 0x02, 0x01, 0x05},
		},
		{
			name: "endpoint no audio",
			desc: usb.EndpointDescriptorNoAudio{
				BEndpointAddress: usb.DirIn | 3,
				BMAttributes:     usb.EndpointXferInt,
				WMaxPacketSize:   512,
				BInterval:        6,
			},
			expected: []byte{0x07, 0x05, 0x83, 0x03, 0x00, 0x02, 0x06},
		},
		{
			name: "endpoint with audio fields",
			desc: usb.EndpointDescriptor{
				BEndpointAddress: usb.DirOut | 4,
				BMAttributes:     usb.EndpointXferIsoc,
				WMaxPacketSize:   1023,
				BInterval:        1,
				BRefresh:         2,
				BSynchAddress:    0x85,
			},
			expected: []byte{0x09, 0x05, 0x04, 0x01, 0xff, 0x03, 0x01, 0x02, 0x85},
		},
		{
			name: "ss companion",
			desc: usb.SSEndpointCompanionDescriptor{
				BMaxBurst:         15,
				BMAttributes:      2,
				WBytesPerInterval: 0x1234,
			},
			expected: []byte{0x06, 0x30, 0x0f, 0x02, 0x34, 0x12},
		},
		{
			name: "class specific",
			desc: usb.ClassSpecificDescriptor{
				DescriptorType: 0x24,
				Payload:        usb.Data{0x00, 0x10, 0x01},
			},
			expected: []byte{0x05, 0x24, 0x00, 0x10, 0x01},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := encode(tc.desc)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, tc.desc.Len(), len(got))
		})
	}
}

func TestEncodeStringDescriptor(t *testing.T) {
	assert.Equal(t, []byte{0x06, 0x03, 'a', 0x00, 'b', 0x00}, usb.EncodeStringDescriptor("ab"))
	// Non-BMP runes would need surrogate pairs; BMP runes encode directly.
	assert.Equal(t, []byte{0x04, 0x03, 0xe9, 0x00}, usb.EncodeStringDescriptor("é"))
}
