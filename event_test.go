package functionfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpelletier/go-functionfs/usb"
)

func eventRecord(typ EventType, setup []byte) []byte {
	b := make([]byte, eventLen)
	copy(b, setup)
	b[8] = byte(typ)
	return b
}

func TestDecodeEvent(t *testing.T) {
	for _, typ := range []EventType{EventBind, EventUnbind, EventEnable, EventDisable, EventSuspend, EventResume} {
		ev, err := decodeEvent(eventRecord(typ, nil))
		require.NoError(t, err)
		assert.Equal(t, typ, ev.Type)
		assert.Equal(t, usb.Setup{}, ev.Setup)
	}
}

func TestDecodeEventSetup(t *testing.T) {
	// GET_DESCRIPTOR(DEVICE), wLength 64.
	record := eventRecord(EventSetup, []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x40, 0x00})
	ev, err := decodeEvent(record)
	require.NoError(t, err)
	assert.Equal(t, EventSetup, ev.Type)
	assert.Equal(t, usb.Setup{
		BmRequestType: 0x80,
		BRequest:      usb.ReqGetDescriptor,
		WValue:        uint16(usb.DTDevice) << 8,
		WLength:       64,
	}, ev.Setup)
	assert.True(t, ev.Setup.IsIn())
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := decodeEvent(eventRecord(EventType(42), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type 42")
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "BIND", Event{Type: EventBind}.String())
	s := Event{Type: EventSetup, Setup: usb.Setup{BmRequestType: 0x21, BRequest: 0x09, WLength: 8}}.String()
	assert.Contains(t, s, "bmRequestType=0x21")
	assert.Contains(t, s, "wLength=8")
}
