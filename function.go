package functionfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	ilog "github.com/vpelletier/go-functionfs/internal/log"
	"github.com/vpelletier/go-functionfs/usb"
)

// Handler receives the lifecycle and control events of one function.
// All methods are invoked from the dispatch goroutine of Function.Serve,
// so they never run concurrently with each other.
type Handler interface {
	OnBind()
	OnUnbind()
	OnEnable()
	OnDisable()
	OnSuspend()
	OnResume()

	// OnSetup answers one control request. Returning ErrNotHandled
	// delegates to the built-in standard-request handling; any other error
	// stalls the request (if still unanswered) and terminates Serve.
	OnSetup(r *ControlRequest) error

	// OnComplete observes one finished data-endpoint transfer.
	OnComplete(ep *Endpoint, c Completion)
}

// NopHandler implements Handler with no-ops; embed it to override only the
// events a function cares about. Its OnSetup delegates every request to the
// standard-request handling.
type NopHandler struct{}

func (NopHandler) OnBind()                          {}
func (NopHandler) OnUnbind()                        {}
func (NopHandler) OnEnable()                        {}
func (NopHandler) OnDisable()                       {}
func (NopHandler) OnSuspend()                       {}
func (NopHandler) OnResume()                        {}
func (NopHandler) OnSetup(*ControlRequest) error    { return ErrNotHandled }
func (NopHandler) OnComplete(*Endpoint, Completion) {}

// Config carries everything needed to configure a functionfs instance.
type Config struct {
	Desc    *Desc
	Strings StringTable
	// Format selects the descriptor header layout; the zero value is
	// FormatV2.
	Format Format
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Raw receives hex dumps of descriptor blocks and ep0 traffic; nil
	// disables them.
	Raw ilog.RawLogger
	// QueueDepth is the per-endpoint submission queue size; zero means
	// DefaultQueueDepth.
	QueueDepth int
}

// Function is one functionfs instance: the ep0 control channel plus the
// data endpoints opened so far, with a dispatch loop multiplexing kernel
// events and transfer completions into a Handler.
type Function struct {
	dir    string
	ep0    *Ep0
	desc   *Desc
	logger *slog.Logger
	raw    ilog.RawLogger
	depth  int

	// epIndex maps a declared endpoint address to its epN file number.
	epIndex map[uint8]int

	mu      sync.Mutex
	eps     map[uint8]*Endpoint
	closing chan struct{}
	closed  bool

	sink chan endpointCompletion
	fwd  sync.WaitGroup
}

type endpointCompletion struct {
	ep *Endpoint
	c  Completion
}

// New opens the ep0 node under dir (the functionfs mount point) and writes
// the descriptor and string blocks. The returned Function is in the Unbound
// state until the kernel delivers BIND through Serve or NextEvent.
func New(dir string, cfg Config) (*Function, error) {
	if cfg.Desc == nil {
		return nil, &DescriptorError{Index: -1, Reason: "no descriptor set"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	raw := cfg.Raw
	if raw == nil {
		raw = ilog.NewRaw(nil)
	}
	ep0, err := OpenControl(filepath.Join(dir, "ep0"), logger, raw)
	if err != nil {
		return nil, err
	}
	if err := ep0.Configure(cfg.Desc, cfg.Strings, cfg.Format); err != nil {
		ep0.Close()
		return nil, err
	}
	epIndex := make(map[uint8]int)
	for i, addr := range cfg.Desc.EndpointAddrs() {
		epIndex[addr] = i + 1
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Function{
		dir:     dir,
		ep0:     ep0,
		desc:    cfg.Desc,
		logger:  logger,
		raw:     raw,
		depth:   depth,
		epIndex: epIndex,
		eps:     make(map[uint8]*Endpoint),
		closing: make(chan struct{}),
		sink:    make(chan endpointCompletion, depth),
	}, nil
}

// Ep0 exposes the control channel for direct event consumption when the
// Serve dispatch loop is not used.
func (f *Function) Ep0() *Ep0 { return f.ep0 }

// State returns the current lifecycle state.
func (f *Function) State() State { return f.ep0.State() }

// OpenEndpoint opens the data file of a declared endpoint address. Valid
// only in the Enabled state; the kernel refuses endpoint I/O before the
// host selects a configuration.
func (f *Function) OpenEndpoint(address uint8) (*Endpoint, error) {
	if address&usb.EndpointNumberMask == 0 {
		return nil, fmt.Errorf("%w: address 0x%02x is the control endpoint", ErrProtocolViolation, address)
	}
	if f.ep0.State() != StateEnabled {
		return nil, fmt.Errorf("%w: function is %s", ErrEndpointNotReady, f.ep0.State())
	}
	idx, ok := f.epIndex[address]
	if !ok {
		return nil, fmt.Errorf("%w: address 0x%02x is not declared", ErrEndpointNotReady, address)
	}
	ep, err := OpenEndpoint(filepath.Join(f.dir, fmt.Sprintf("ep%d", idx)), address, f.logger, f.depth)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if old := f.eps[address]; old != nil {
		old.Close()
	}
	f.eps[address] = ep
	f.mu.Unlock()
	f.forward(ep)
	f.logger.Debug("endpoint opened", "address", fmt.Sprintf("0x%02x", address), "file", idx)
	return ep, nil
}

// Endpoint returns an already opened endpoint, or nil.
func (f *Function) Endpoint(address uint8) *Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eps[address]
}

// forward copies the endpoint's completions into the dispatch sink until
// the endpoint closes.
func (f *Function) forward(ep *Endpoint) {
	f.fwd.Add(1)
	go func() {
		defer f.fwd.Done()
		for c := range ep.Completions() {
			select {
			case f.sink <- endpointCompletion{ep: ep, c: c}:
			case <-f.closing:
				return
			}
		}
	}()
}

// Serve runs the dispatch loop: kernel events from ep0 and completions
// from every opened endpoint, delivered to h one at a time, kernel order
// preserved within each channel.
//
// Serve returns nil after UNBIND, ctx.Err() when the context is cancelled,
// and the underlying error when a channel fails. Cancelling the context
// does not close the function; call Close.
func (f *Function) Serve(ctx context.Context, h Handler) error {
	// The reader goroutine only decodes records; the state machine is
	// applied by dispatch, so handler callbacks never race a state change
	// from a later queued event.
	events := make(chan Event)
	errs := make(chan error, 1)
	go func() {
		for {
			ev, err := f.ep0.readEvent()
			if err != nil {
				errs <- err
				return
			}
			select {
			case events <- ev:
			case <-f.closing:
				return
			}
			if ev.Type == EventUnbind {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case ev := <-events:
			done, err := f.dispatch(ev, h)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case ec := <-f.sink:
			h.OnComplete(ec.ep, ec.c)
		}
	}
}

// dispatch delivers one kernel event. done is true on UNBIND.
func (f *Function) dispatch(ev Event, h Handler) (done bool, err error) {
	if err := f.ep0.applyEvent(ev); err != nil {
		return false, err
	}
	switch ev.Type {
	case EventBind:
		h.OnBind()
	case EventUnbind:
		h.OnUnbind()
		return true, nil
	case EventEnable:
		h.OnEnable()
	case EventDisable:
		f.closeEndpoints()
		h.OnDisable()
	case EventSuspend:
		h.OnSuspend()
	case EventResume:
		h.OnResume()
	case EventSetup:
		r := f.ep0.Request(ev.Setup)
		err := h.OnSetup(r)
		if errors.Is(err, ErrNotHandled) {
			err = f.handleStandardSetup(r)
		}
		if err != nil {
			if !r.Answered() {
				if serr := r.Stall(); serr != nil {
					f.logger.Warn("stall failed", "error", serr)
				}
			}
			return false, err
		}
		if !r.Answered() {
			return false, fmt.Errorf("%w: SETUP %s left unanswered", ErrProtocolViolation, ev)
		}
	}
	return false, nil
}

// handleStandardSetup implements the standard requests a function must
// answer itself: GET_STATUS on interfaces and endpoints, and endpoint halt
// via CLEAR_FEATURE / SET_FEATURE. Everything else is stalled.
func (f *Function) handleStandardSetup(r *ControlRequest) error {
	s := r.Setup
	if s.Type() != usb.TypeStandard {
		return r.Stall()
	}
	switch s.BRequest {
	case usb.ReqGetStatus:
		if !s.IsIn() || s.WLength != 2 {
			break
		}
		switch s.Recipient() {
		case usb.RecipInterface:
			return r.SendData([]byte{0, 0})
		case usb.RecipEndpoint:
			var status byte
			if ep := f.Endpoint(uint8(s.WIndex)); ep != nil && ep.IsHalted() {
				status = 1 << usb.EndpointHalt
			}
			return r.SendData([]byte{status, 0})
		}
	case usb.ReqClearFeature:
		if s.IsIn() || s.WLength != 0 {
			break
		}
		if s.Recipient() == usb.RecipEndpoint && s.WValue == usb.EndpointHalt {
			if ep := f.Endpoint(uint8(s.WIndex)); ep != nil {
				if err := ep.ClearHalt(); err != nil {
					f.logger.Warn("clear halt failed", "error", err)
					break
				}
			}
			return r.Ack()
		}
	case usb.ReqSetFeature:
		if s.IsIn() || s.WLength != 0 {
			break
		}
		if s.Recipient() == usb.RecipEndpoint && s.WValue == usb.EndpointHalt {
			if ep := f.Endpoint(uint8(s.WIndex)); ep != nil {
				if err := ep.Halt(); err != nil {
					f.logger.Warn("halt failed", "error", err)
					break
				}
			}
			return r.Ack()
		}
	}
	return r.Stall()
}

func (f *Function) closeEndpoints() {
	f.mu.Lock()
	eps := f.eps
	f.eps = make(map[uint8]*Endpoint)
	f.mu.Unlock()
	for _, ep := range eps {
		ep.Close()
	}
}

// Close cancels all endpoint transfers and releases every file descriptor.
func (f *Function) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.closing)
	f.mu.Unlock()

	f.closeEndpoints()
	f.fwd.Wait()
	return f.ep0.Close()
}

// EndpointTemplate declares one endpoint of InterfaceAllSpeeds. Leave the
// endpoint number zero to have it assigned from the declaration position,
// and WMaxPacketSize zero for the per-speed maximum.
type EndpointTemplate struct {
	Desc usb.EndpointDescriptorNoAudio
	// Companion is the super-speed companion; its zero value declares no
	// burst capability, which is always valid.
	Companion usb.SSEndpointCompanionDescriptor
}

// maxPacketSize returns the largest wMaxPacketSize the transfer type allows
// at the given speed.
func maxPacketSize(speed Speed, xferType uint8) uint16 {
	switch speed {
	case FullSpeed:
		if xferType == usb.EndpointXferIsoc {
			return 1023
		}
		return 64
	case HighSpeed:
		if xferType == usb.EndpointXferBulk {
			return 512
		}
		return 1024
	}
	return 1024
}

// InterfaceAllSpeeds expands one interface declaration into full-, high-
// and super-speed descriptor lists sharing the same endpoint layout, the
// way a single-speed-agnostic function is normally declared. classDesc
// descriptors (HID, CDC headers, ...) are inserted between the interface
// and its endpoints at every speed. BNumEndpoints is filled in.
func InterfaceAllSpeeds(iface usb.InterfaceDescriptor, classDesc []usb.Descriptor, endpoints []EndpointTemplate) *Desc {
	iface.BNumEndpoints = uint8(len(endpoints))
	d := &Desc{}
	for _, speed := range []Speed{FullSpeed, HighSpeed, SuperSpeed} {
		list := make([]usb.Descriptor, 0, 1+len(classDesc)+2*len(endpoints))
		list = append(list, iface)
		list = append(list, classDesc...)
		for i, t := range endpoints {
			ep := t.Desc
			if ep.BEndpointAddress&usb.EndpointNumberMask == 0 {
				ep.BEndpointAddress |= uint8(i + 1)
			}
			xfer := ep.BMAttributes & usb.EndpointXferTypeMask
			if max := maxPacketSize(speed, xfer); ep.WMaxPacketSize == 0 || ep.WMaxPacketSize > max {
				ep.WMaxPacketSize = max
			}
			list = append(list, ep)
			if speed == SuperSpeed {
				list = append(list, t.Companion)
			}
		}
		switch speed {
		case FullSpeed:
			d.FS = list
		case HighSpeed:
			d.HS = list
		case SuperSpeed:
			d.SS = list
		}
	}
	return d
}
