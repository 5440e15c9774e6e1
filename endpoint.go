package functionfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vpelletier/go-functionfs/usb"
)

// Status classifies a transfer completion.
type Status int

const (
	// StatusOK: the transfer finished. A read completing with fewer bytes
	// than requested is still OK: that is the short-packet boundary of a
	// bulk transfer, not an error.
	StatusOK Status = iota
	// StatusAborted: the host reset the endpoint mid-transfer (e.g. a
	// configuration change). The caller may resubmit.
	StatusAborted
	// StatusCancelled: the endpoint was closed with the transfer in flight.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAborted:
		return "aborted"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Transfer is one pending asynchronous I/O operation. The buffer belongs to
// the endpoint from submission until its completion is observed.
type Transfer struct {
	Buf []byte
	In  bool // device-to-host (a write on the endpoint file)
}

// Completion reports one finished Transfer. N is the number of bytes
// actually moved. Err carries the underlying error for non-OK statuses.
type Completion struct {
	Transfer *Transfer
	N        int
	Status   Status
	Err      error
}

// DefaultQueueDepth is the per-endpoint submission queue size.
const DefaultQueueDepth = 64

// Endpoint owns the device file of one data endpoint. Submissions are
// enqueue-and-return; a worker goroutine executes them strictly in
// submission order and publishes completions in the same order.
//
// Submit and Close must be called from a single goroutine (or be
// externally serialized); completions may be consumed from another.
type Endpoint struct {
	f       *os.File
	address uint8 // bEndpointAddress, direction bit included
	index   int   // epN file number
	logger  *slog.Logger

	submitq     chan *Transfer
	completions chan Completion
	workerDone  chan struct{}

	mu     sync.Mutex
	closed bool
	halted bool
}

// OpenEndpoint opens a data endpoint file directly. Most callers go
// through Function.OpenEndpoint, which checks lifecycle state and maps
// endpoint addresses to file names.
func OpenEndpoint(path string, address uint8, logger *slog.Logger, queueDepth int) (*Endpoint, error) {
	if address&usb.EndpointNumberMask == 0 {
		return nil, fmt.Errorf("%w: address 0x%02x is the control endpoint", ErrProtocolViolation, address)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEndpointNotReady, path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	e := &Endpoint{
		f:       f,
		address: address,
		index:   int(address & usb.EndpointNumberMask),
		logger:  logger,
		submitq: make(chan *Transfer, queueDepth),
		// One extra slot: queueDepth submissions can be queued while one
		// more is already executing in the worker.
		completions: make(chan Completion, queueDepth+1),
		workerDone:  make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// Address returns the endpoint's bEndpointAddress.
func (e *Endpoint) Address() uint8 { return e.address }

// IsIn reports the endpoint direction.
func (e *Endpoint) IsIn() bool { return e.address&usb.DirIn == usb.DirIn }

// SubmitRead enqueues a host-to-device transfer into buf. The buffer must
// not be touched until the completion is observed.
func (e *Endpoint) SubmitRead(buf []byte) (*Transfer, error) {
	if e.IsIn() {
		return nil, fmt.Errorf("%w: read on IN endpoint 0x%02x", ErrProtocolViolation, e.address)
	}
	return e.submit(&Transfer{Buf: buf, In: false})
}

// SubmitWrite enqueues a device-to-host transfer of buf. The buffer must
// not be reused until the completion is observed.
func (e *Endpoint) SubmitWrite(buf []byte) (*Transfer, error) {
	if !e.IsIn() {
		return nil, fmt.Errorf("%w: write on OUT endpoint 0x%02x", ErrProtocolViolation, e.address)
	}
	return e.submit(&Transfer{Buf: buf, In: true})
}

func (e *Endpoint) submit(t *Transfer) (*Transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	select {
	case e.submitq <- t:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: endpoint 0x%02x", ErrQueueFull, e.address)
	}
}

// Completions exposes the completion queue, drained in arrival order. The
// channel is closed once the endpoint is closed and all cancellations have
// been delivered.
func (e *Endpoint) Completions() <-chan Completion {
	return e.completions
}

// PollCompletions drains currently available completions without blocking.
func (e *Endpoint) PollCompletions() []Completion {
	var out []Completion
	for {
		select {
		case c, ok := <-e.completions:
			if !ok {
				return out
			}
			out = append(out, c)
		default:
			return out
		}
	}
}

// Close cancels all in-flight transfers, then releases the descriptor.
// Cancellation completions are queued before Close returns; no completion
// fires afterwards.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.submitq)
	e.mu.Unlock()

	// Unblocks the worker if it is inside a read or write.
	err := e.f.Close()
	<-e.workerDone
	close(e.completions)
	return err
}

func (e *Endpoint) run() {
	defer close(e.workerDone)
	for t := range e.submitq {
		n, err := e.execute(t)
		c := Completion{Transfer: t, N: n}
		if err != nil {
			c.Status = e.classify(err)
			c.Err = err
			c.N = 0
		}
		e.completions <- c
	}
}

func (e *Endpoint) execute(t *Transfer) (int, error) {
	for {
		var n int
		var err error
		if t.In {
			n, err = e.f.Write(t.Buf)
		} else {
			n, err = e.f.Read(t.Buf)
		}
		if err != nil && errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

func (e *Endpoint) classify(err error) Status {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed || errors.Is(err, os.ErrClosed) {
		return StatusCancelled
	}
	return StatusAborted
}

// Halt stalls the endpoint: a zero-length I/O against the endpoint's
// direction, which the kernel answers with EBADMSG.
func (e *Endpoint) Halt() error {
	var err error
	if e.IsIn() {
		err = zeroRead(e.f)
	} else {
		err = zeroWrite(e.f)
	}
	if err == nil {
		return errors.New("functionfs: endpoint halt did not return EBADMSG")
	}
	if !errors.Is(err, unix.EBADMSG) {
		return fmt.Errorf("functionfs: endpoint halt: %w", err)
	}
	e.mu.Lock()
	e.halted = true
	e.mu.Unlock()
	return nil
}

// ClearHalt clears endpoint halt and resets the data toggle.
func (e *Endpoint) ClearHalt() error {
	if _, err := ioctl(e.f, reqClearHalt, 0); err != nil {
		return fmt.Errorf("functionfs: clear halt: %w", err)
	}
	e.mu.Lock()
	e.halted = false
	e.mu.Unlock()
	return nil
}

// IsHalted reports whether Halt has been issued without a later ClearHalt.
func (e *Endpoint) IsHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// FIFOStatus returns the number of unclaimed bytes in the endpoint FIFO.
func (e *Endpoint) FIFOStatus() (int, error) {
	n, err := ioctl(e.f, reqFIFOStatus, 0)
	if err != nil {
		return 0, fmt.Errorf("functionfs: fifo status: %w", err)
	}
	return n, nil
}

// FIFOFlush discards any unclaimed data in the endpoint FIFO.
func (e *Endpoint) FIFOFlush() error {
	if _, err := ioctl(e.f, reqFIFOFlush, 0); err != nil {
		return fmt.Errorf("functionfs: fifo flush: %w", err)
	}
	return nil
}

// RealAddress returns the host-visible bEndpointAddress.
func (e *Endpoint) RealAddress() (uint8, error) {
	n, err := ioctl(e.f, reqEndpointRevMap, 0)
	if err != nil {
		return 0, fmt.Errorf("functionfs: endpoint revmap: %w", err)
	}
	return uint8(n), nil
}

// Descriptor returns the endpoint descriptor currently active, which
// depends on the negotiated USB speed.
func (e *Endpoint) Descriptor() (usb.EndpointDescriptor, error) {
	var raw [usb.EndpointAudioDescLen]byte
	if _, err := ioctlPtr(e.f, reqEndpointDesc, unsafe.Pointer(&raw[0])); err != nil {
		return usb.EndpointDescriptor{}, fmt.Errorf("functionfs: endpoint descriptor: %w", err)
	}
	return usb.EndpointDescriptor{
		BEndpointAddress: raw[2],
		BMAttributes:     raw[3],
		WMaxPacketSize:   uint16(raw[4]) | uint16(raw[5])<<8,
		BInterval:        raw[6],
		BRefresh:         raw[7],
		BSynchAddress:    raw[8],
	}, nil
}
