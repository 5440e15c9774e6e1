package functionfs

import (
	"errors"
	"fmt"
)

// Error taxonomy. Codec and channel errors are returned to the immediate
// caller; the dispatch loop terminates on fatal channel errors instead of
// skipping a failed channel.
var (
	// ErrConfigurationRejected means the kernel refused the descriptor or
	// string block. Fatal to setup: a partial write leaves the kernel in an
	// undefined configuration state, so there is no retry.
	ErrConfigurationRejected = errors.New("functionfs: configuration rejected")

	// ErrDeviceUnavailable means the control node could not be opened, e.g.
	// the functionfs instance is not mounted at the given path.
	ErrDeviceUnavailable = errors.New("functionfs: device unavailable")

	// ErrEndpointNotReady means a data endpoint was opened outside the
	// Enabled lifecycle state, or the address is not declared. Recoverable:
	// retry after ENABLE.
	ErrEndpointNotReady = errors.New("functionfs: endpoint not ready")

	// ErrProtocolViolation indicates a logic bug in the integrating
	// application or an out-of-state kernel event (SETUP while disabled,
	// data endpoint at address zero).
	ErrProtocolViolation = errors.New("functionfs: protocol violation")

	// ErrDoubleResponse means a control request was answered more than once.
	ErrDoubleResponse = errors.New("functionfs: control request already answered")

	// ErrNotHandled is returned by Handler.OnSetup to delegate the request
	// to the default standard-request handling.
	ErrNotHandled = errors.New("functionfs: setup request not handled")

	// ErrClosed is returned on operations against a closed channel.
	ErrClosed = errors.New("functionfs: closed")

	// ErrQueueFull is returned when an endpoint submission queue is full.
	// The caller resubmits once completions have been drained.
	ErrQueueFull = errors.New("functionfs: submission queue full")
)

// DescriptorError reports an invalid descriptor set.
type DescriptorError struct {
	Speed  Speed
	Index  int // position within the speed's descriptor list, -1 if N/A
	Reason string
}

func (e *DescriptorError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("functionfs: invalid descriptor (%s): %s", e.Speed, e.Reason)
	}
	return fmt.Sprintf("functionfs: invalid descriptor (%s, index %d): %s", e.Speed, e.Index, e.Reason)
}

// StringTableError reports an invalid string table.
type StringTableError struct {
	Lang   uint16 // 0 if not tied to a language
	Reason string
}

func (e *StringTableError) Error() string {
	if e.Lang == 0 {
		return "functionfs: invalid string table: " + e.Reason
	}
	return fmt.Sprintf("functionfs: invalid string table (lang 0x%04x): %s", e.Lang, e.Reason)
}
