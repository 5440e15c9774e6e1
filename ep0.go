package functionfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	ilog "github.com/vpelletier/go-functionfs/internal/log"
	"github.com/vpelletier/go-functionfs/usb"
)

// State is the gadget lifecycle state as tracked from ep0 events:
// Unbound -> Bound -> {Enabled <-> Disabled} -> Unbound (terminal).
type State int

const (
	StateUnbound State = iota
	StateBound
	StateEnabled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Ep0 owns the control file of one functionfs instance. It performs the
// one-time descriptor/strings configuration, decodes lifecycle and control
// events, and answers control requests.
//
// Event consumption and request answering must each stay on one goroutine
// or be externally serialized. State is safe to call from anywhere: it is
// the one piece read by other goroutines (endpoint opening) while events
// flow.
type Ep0 struct {
	f      *os.File
	logger *slog.Logger
	raw    ilog.RawLogger

	mu         sync.Mutex // guards state and unbound
	state      State
	unbound    bool
	configured bool

	rbuf    [eventLen * eventQueueDepth]byte
	rlen    int
	pending []Event

	current *ControlRequest
}

// OpenControl opens the ep0 control node of a mounted functionfs instance.
// logger and raw may be nil.
func OpenControl(path string, logger *slog.Logger, raw ilog.RawLogger) (*Ep0, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if raw == nil {
		raw = ilog.NewRaw(nil)
	}
	return &Ep0{f: f, logger: logger, raw: raw}, nil
}

// State returns the current lifecycle state. Safe for concurrent use.
func (e *Ep0) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Configure writes the descriptor block immediately followed by the string
// block. The kernel requires both before it reports BIND/ENABLE. A kernel
// rejection is fatal to setup: a partial write leaves the configuration
// undefined, so the caller must tear down and start over rather than retry.
//
// Configure succeeding does not imply a host is attached; ENABLE arrives
// via NextEvent once the composed gadget is bound to a UDC and enumerated.
func (e *Ep0) Configure(desc *Desc, table StringTable, format Format) error {
	if e.configured {
		return fmt.Errorf("%w: already configured", ErrConfigurationRejected)
	}
	if maxIdx := int(desc.MaxStringIndex()); maxIdx > table.Count() {
		return &StringTableError{Reason: fmt.Sprintf(
			"descriptors reference string index %d, table has %d strings", maxIdx, table.Count())}
	}
	descBlock, err := desc.MarshalBinary(format)
	if err != nil {
		return err
	}
	strBlock, err := table.MarshalBinary()
	if err != nil {
		return err
	}
	e.raw.Log(false, descBlock)
	if _, err := e.f.Write(descBlock); err != nil {
		return fmt.Errorf("%w: descriptor block: %v", ErrConfigurationRejected, err)
	}
	e.raw.Log(false, strBlock)
	if _, err := e.f.Write(strBlock); err != nil {
		return fmt.Errorf("%w: string block: %v", ErrConfigurationRejected, err)
	}
	e.configured = true
	e.logger.Debug("functionfs configured",
		"descriptors", len(descBlock), "strings", len(strBlock))
	return nil
}

// NextEvent blocks until one kernel event record is available and returns
// it decoded, applying the lifecycle state machine on the way.
//
// Returns io.EOF after UNBIND has been delivered.
func (e *Ep0) NextEvent() (Event, error) {
	if e.unbound {
		return Event{}, io.EOF
	}
	ev, err := e.readEvent()
	if err != nil {
		return Event{}, err
	}
	if err := e.applyEvent(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// readEvent blocks until one kernel event record is available and returns
// it decoded, without touching the state machine. The kernel can queue
// several records and may deliver a partial record when a read is
// interrupted, so reads are retried until at least one full record is
// buffered; surplus records are queued and returned by subsequent calls in
// arrival order.
func (e *Ep0) readEvent() (Event, error) {
	for len(e.pending) == 0 {
		n, err := e.f.Read(e.rbuf[e.rlen:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Event{}, fmt.Errorf("functionfs: ep0 read: %w", err)
		}
		if n == 0 {
			return Event{}, io.EOF
		}
		e.rlen += n
		for e.rlen >= eventLen {
			e.raw.Log(false, e.rbuf[:eventLen])
			ev, err := decodeEvent(e.rbuf[:eventLen])
			e.rlen = copy(e.rbuf[:], e.rbuf[eventLen:e.rlen])
			if err != nil {
				return Event{}, err
			}
			e.pending = append(e.pending, ev)
		}
	}
	ev := e.pending[0]
	e.pending = e.pending[1:]
	return ev, nil
}

// applyEvent advances the state machine for one event. The Serve dispatch
// loop calls it on the dispatch goroutine right before the handler callback,
// so a handler always observes the state its event established, even when
// the kernel delivered a batch of queued records in one read.
func (e *Ep0) applyEvent(ev Event) error {
	e.mu.Lock()
	switch ev.Type {
	case EventBind:
		e.state = StateBound
	case EventEnable:
		e.state = StateEnabled
	case EventDisable:
		e.state = StateDisabled
	case EventUnbind:
		e.state = StateUnbound
		e.unbound = true
	case EventSetup:
		if e.state != StateEnabled {
			state := e.state
			e.mu.Unlock()
			return fmt.Errorf("%w: SETUP while %s", ErrProtocolViolation, state)
		}
	}
	state := e.state
	e.mu.Unlock()
	e.logger.Log(context.Background(), ilog.LevelTrace, "ep0 event", "event", ev.String(), "state", state.String())
	return nil
}

// Request wraps a SETUP packet into a ControlRequest tied to this control
// channel. At most one request is outstanding at a time: a new SETUP
// supersedes an unanswered predecessor (the kernel has already given up on
// it), and any late response through the superseded request fails with
// ErrProtocolViolation.
func (e *Ep0) Request(s usb.Setup) *ControlRequest {
	if prev := e.current; prev != nil && !prev.answered {
		prev.superseded = true
		e.logger.Warn("SETUP superseded while unanswered", "setup", Event{Type: EventSetup, Setup: prev.Setup}.String())
	}
	r := &ControlRequest{Setup: s, ep0: e}
	e.current = r
	return r
}

// InterfaceRevMap returns the host-visible interface number for a function
// interface number, or -1 if there is no such interface.
func (e *Ep0) InterfaceRevMap(iface int) (int, error) {
	n, err := ioctl(e.f, reqInterfaceRevMap, uintptr(iface))
	if errors.Is(err, unix.EDOM) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("functionfs: interface revmap: %w", err)
	}
	return n, nil
}

// Close releases the control file descriptor.
func (e *Ep0) Close() error {
	return e.f.Close()
}

// halt stalls endpoint zero for the current transaction: a zero-length I/O
// in the direction of the request, which the kernel answers with EL2HLT.
func (e *Ep0) halt(requestType uint8) error {
	var err error
	if requestType&usb.DirIn == usb.DirIn {
		err = zeroRead(e.f)
	} else {
		err = zeroWrite(e.f)
	}
	if err == nil {
		return errors.New("functionfs: ep0 halt did not return EL2HLT")
	}
	if errors.Is(err, unix.EL2HLT) {
		return nil
	}
	return fmt.Errorf("functionfs: ep0 halt: %w", err)
}

// ControlRequest is one decoded SETUP transaction. Exactly one of SendData,
// ReadData, Ack or Stall must be called before the next SETUP arrives;
// answering twice is a usage error.
type ControlRequest struct {
	Setup usb.Setup

	ep0        *Ep0
	answered   bool
	superseded bool
}

func (r *ControlRequest) markAnswered() error {
	if r.superseded {
		return fmt.Errorf("%w: %s superseded by a later SETUP", ErrProtocolViolation, Event{Type: EventSetup, Setup: r.Setup})
	}
	if r.answered {
		return fmt.Errorf("%w: %s", ErrDoubleResponse, Event{Type: EventSetup, Setup: r.Setup})
	}
	r.answered = true
	return nil
}

// Answered reports whether a response has already been issued.
func (r *ControlRequest) Answered() bool { return r.answered }

// SendData answers a device-to-host request with data, truncated to the
// host's requested length.
func (r *ControlRequest) SendData(data []byte) error {
	if !r.Setup.IsIn() {
		return fmt.Errorf("%w: data response to a host-to-device request", ErrProtocolViolation)
	}
	if err := r.markAnswered(); err != nil {
		return err
	}
	if len(data) > int(r.Setup.WLength) {
		data = data[:r.Setup.WLength]
	}
	r.ep0.raw.Log(true, data)
	if _, err := r.ep0.f.Write(data); err != nil {
		return fmt.Errorf("functionfs: ep0 write: %w", err)
	}
	return nil
}

// ReadData receives the data phase of a host-to-device request: up to
// wLength bytes read from ep0. Reading the data counts as the response; the
// kernel completes the status phase once the payload is claimed. A wLength
// of zero degenerates to an Ack.
func (r *ControlRequest) ReadData() ([]byte, error) {
	if r.Setup.IsIn() {
		return nil, fmt.Errorf("%w: data read on a device-to-host request", ErrProtocolViolation)
	}
	if err := r.markAnswered(); err != nil {
		return nil, err
	}
	if r.Setup.WLength == 0 {
		if err := zeroRead(r.ep0.f); err != nil {
			return nil, fmt.Errorf("functionfs: ep0 read: %w", err)
		}
		return nil, nil
	}
	buf := make([]byte, r.Setup.WLength)
	for {
		n, err := r.ep0.f.Read(buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("functionfs: ep0 read: %w", err)
		}
		r.ep0.raw.Log(false, buf[:n])
		return buf[:n], nil
	}
}

// Ack completes the status phase of a request with no data to return: a
// zero-length I/O in the opposite direction of the request.
func (r *ControlRequest) Ack() error {
	if err := r.markAnswered(); err != nil {
		return err
	}
	var err error
	if r.Setup.IsIn() {
		err = zeroWrite(r.ep0.f)
	} else {
		err = zeroRead(r.ep0.f)
	}
	if err != nil {
		return fmt.Errorf("functionfs: ep0 ack: %w", err)
	}
	return nil
}

// Stall rejects the request at the protocol level.
func (r *ControlRequest) Stall() error {
	if err := r.markAnswered(); err != nil {
		return err
	}
	return r.ep0.halt(r.Setup.BmRequestType)
}
