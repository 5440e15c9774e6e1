package functionfs

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilog "github.com/vpelletier/go-functionfs/internal/log"
	"github.com/vpelletier/go-functionfs/usb"
)

// newTestEp0 builds an Ep0 over one end of a pipe. The other end plays the
// kernel: write event records to feed NextEvent, or read to capture what
// the Ep0 wrote.
func newTestEp0(t *testing.T, f *os.File) *Ep0 {
	t.Helper()
	return &Ep0{f: f, logger: slog.Default(), raw: ilog.NewRaw(nil)}
}

func TestConfigureWritesDescThenStrings(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	fs, hs := bulkInterface(64, 512)
	desc := &Desc{FS: fs, HS: hs}
	table := Strings(0x0409, "test")

	e := newTestEp0(t, w)
	require.NoError(t, e.Configure(desc, table, FormatV2))
	require.NoError(t, w.Close())

	got, err := io.ReadAll(r)
	require.NoError(t, err)

	descBlock, err := desc.MarshalBinary(FormatV2)
	require.NoError(t, err)
	strBlock, err := table.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, append(descBlock, strBlock...), got)
}

func TestConfigureTwiceRejected(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fs, _ := bulkInterface(64, 512)
	desc := &Desc{FS: fs}
	table := Strings(0x0409, "test")

	e := newTestEp0(t, w)
	require.NoError(t, e.Configure(desc, table, FormatV2))
	err = e.Configure(desc, table, FormatV2)
	assert.ErrorIs(t, err, ErrConfigurationRejected)
}

func TestConfigureStringIndexOutOfRange(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fs, _ := bulkInterface(64, 512) // references string index 1
	e := newTestEp0(t, w)
	err = e.Configure(&Desc{FS: fs}, StringTable{}, FormatV2)
	require.Error(t, err)
	var terr *StringTableError
	assert.ErrorAs(t, err, &terr)
}

func TestNextEventBatchedRecords(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	e := newTestEp0(t, r)

	// The kernel can hand several queued records back in one read.
	var batch []byte
	batch = append(batch, eventRecord(EventBind, nil)...)
	batch = append(batch, eventRecord(EventEnable, nil)...)
	_, err = w.Write(batch)
	require.NoError(t, err)

	ev, err := e.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventBind, ev.Type)
	assert.Equal(t, StateBound, e.State())

	ev, err = e.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventEnable, ev.Type)
	assert.Equal(t, StateEnabled, e.State())
}

func TestNextEventPartialRecord(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	e := newTestEp0(t, r)

	record := eventRecord(EventBind, nil)
	_, err = w.Write(record[:5])
	require.NoError(t, err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write(record[5:])
	}()

	ev, err := e.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventBind, ev.Type)
}

func TestNextEventSetupWhileNotEnabled(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	e := newTestEp0(t, r)

	var batch []byte
	batch = append(batch, eventRecord(EventBind, nil)...)
	batch = append(batch, eventRecord(EventSetup, []byte{0x80, 0x06, 0, 0, 0, 0, 0, 0})...)
	_, err = w.Write(batch)
	require.NoError(t, err)

	_, err = e.NextEvent()
	require.NoError(t, err)

	_, err = e.NextEvent()
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestNextEventAfterUnbind(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	e := newTestEp0(t, r)
	_, err = w.Write(eventRecord(EventUnbind, nil))
	require.NoError(t, err)

	ev, err := e.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventUnbind, ev.Type)
	assert.Equal(t, StateUnbound, e.State())

	_, err = e.NextEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestControlRequestSendData(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	e := newTestEp0(t, w)
	req := e.Request(usb.Setup{BmRequestType: usb.DirIn | usb.TypeVendor, WLength: 4})

	// Data is truncated to the host's requested length.
	require.NoError(t, req.SendData([]byte{1, 2, 3, 4, 5, 6}))
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])
	assert.True(t, req.Answered())
}

func TestControlRequestDoubleResponse(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	e := newTestEp0(t, r)
	req := e.Request(usb.Setup{BmRequestType: usb.DirOut | usb.TypeVendor})

	require.NoError(t, req.Ack())
	err = req.Ack()
	assert.ErrorIs(t, err, ErrDoubleResponse)
	err = req.Stall()
	assert.ErrorIs(t, err, ErrDoubleResponse)
}

func TestControlRequestReadData(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	e := newTestEp0(t, r)
	req := e.Request(usb.Setup{BmRequestType: usb.DirOut | usb.TypeVendor, WLength: 4})

	_, err = w.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	data, err := req.ReadData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)
	assert.True(t, req.Answered())

	// Claiming the data phase is the response.
	err = req.Ack()
	assert.ErrorIs(t, err, ErrDoubleResponse)
}

func TestControlRequestReadDataDirectionCheck(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	e := newTestEp0(t, r)
	req := e.Request(usb.Setup{BmRequestType: usb.DirIn | usb.TypeVendor, WLength: 4})
	_, err = req.ReadData()
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.False(t, req.Answered())
}

func TestControlRequestSuperseded(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	e := newTestEp0(t, r)
	first := e.Request(usb.Setup{BmRequestType: usb.DirOut | usb.TypeVendor, WValue: 1})
	second := e.Request(usb.Setup{BmRequestType: usb.DirOut | usb.TypeVendor, WValue: 2})

	// A late response through the abandoned request must not consume the
	// status phase of its successor.
	err = first.Ack()
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.NoError(t, second.Ack())
}

func TestControlRequestDirectionCheck(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	e := newTestEp0(t, w)
	req := e.Request(usb.Setup{BmRequestType: usb.DirOut | usb.TypeVendor, WLength: 2})
	err = req.SendData([]byte{1, 2})
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.False(t, req.Answered())
}

func TestOpenControlMissing(t *testing.T) {
	_, err := OpenControl("/nonexistent/ffs/ep0", nil, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unbound", StateUnbound.String())
	assert.Equal(t, "bound", StateBound.String())
	assert.Equal(t, "enabled", StateEnabled.String())
	assert.Equal(t, "disabled", StateDisabled.String())
}
