package functionfs

import (
	"fmt"

	"github.com/vpelletier/go-functionfs/usb"
)

// EventType tags the lifecycle events delivered by the kernel on ep0.
// Values match the functionfs event record type field.
type EventType uint8

const (
	EventBind EventType = iota
	EventUnbind
	EventEnable
	EventDisable
	EventSetup
	EventSuspend
	EventResume
)

func (t EventType) String() string {
	switch t {
	case EventBind:
		return "BIND"
	case EventUnbind:
		return "UNBIND"
	case EventEnable:
		return "ENABLE"
	case EventDisable:
		return "DISABLE"
	case EventSetup:
		return "SETUP"
	case EventSuspend:
		return "SUSPEND"
	case EventResume:
		return "RESUME"
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// eventLen is the fixed size of one kernel event record: an 8-byte union
// (the SETUP packet) followed by a type byte and 3 bytes of padding. The
// layout is identical on 32-bit and 64-bit kernels.
const eventLen = 12

// eventQueueDepth is how many events functionfs can queue before the reader
// drains them. One read may therefore return up to this many records.
const eventQueueDepth = 4

// Event is one decoded kernel event. Setup is only meaningful when Type is
// EventSetup.
type Event struct {
	Type  EventType
	Setup usb.Setup
}

func (e Event) String() string {
	if e.Type == EventSetup {
		s := e.Setup
		return fmt.Sprintf("SETUP bmRequestType=0x%02x bRequest=0x%02x wValue=0x%04x wIndex=0x%04x wLength=%d",
			s.BmRequestType, s.BRequest, s.WValue, s.WIndex, s.WLength)
	}
	return e.Type.String()
}

// decodeEvent decodes exactly one wire event record. b must hold eventLen
// bytes.
func decodeEvent(b []byte) (Event, error) {
	typ := EventType(b[8])
	if typ > EventResume {
		return Event{}, fmt.Errorf("functionfs: unknown event type %d", b[8])
	}
	ev := Event{Type: typ}
	if typ == EventSetup {
		ev.Setup = usb.DecodeSetup(b[:usb.SetupLen])
	}
	return ev, nil
}
