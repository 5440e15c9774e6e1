// Package cmd holds the Kong command implementations.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	functionfs "github.com/vpelletier/go-functionfs"
	"github.com/vpelletier/go-functionfs/internal/log"
	"github.com/vpelletier/go-functionfs/profile"
	"github.com/vpelletier/go-functionfs/usb"
)

// Cat bridges stdin/stdout to a bulk function: stdin is sent to the host
// over the IN endpoint, OUT endpoint traffic is written to stdout.
type Cat struct {
	Mount      string `arg:"" help:"Mounted functionfs directory (must contain ep0)" type:"existingdir"`
	Profile    string `help:"Function profile file (.yaml/.toml/.json); a plain bulk in/out function when empty" env:"USBCAT_PROFILE"`
	Legacy     bool   `help:"Write the pre-3.14 descriptor header (no super-speed support)" env:"USBCAT_LEGACY"`
	QueueDepth int    `help:"Per-endpoint transfer queue depth" default:"8" env:"USBCAT_QUEUE_DEPTH"`
	BufSize    int    `help:"Transfer buffer size in bytes" default:"4096" env:"USBCAT_BUF_SIZE"`
}

// Run is called by Kong when the cat command is executed.
func (c *Cat) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, logger, rawLogger)
}

func (c *Cat) run(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	desc, table, err := c.describe()
	if err != nil {
		return err
	}
	format := functionfs.FormatV2
	if c.Legacy {
		format = functionfs.FormatLegacy
		desc.SS = nil
	}
	fn, err := functionfs.New(c.Mount, functionfs.Config{
		Desc:       desc,
		Strings:    table,
		Format:     format,
		Logger:     logger,
		Raw:        rawLogger,
		QueueDepth: c.QueueDepth,
	})
	if err != nil {
		return err
	}
	defer fn.Close()

	logger.Info("function configured, waiting for host", "mount", c.Mount)
	h := &catHandler{fn: fn, logger: logger, bufSize: c.BufSize, depth: c.QueueDepth}
	return fn.Serve(ctx, h)
}

func (c *Cat) describe() (*functionfs.Desc, functionfs.StringTable, error) {
	if c.Profile != "" {
		p, err := profile.Load(c.Profile)
		if err != nil {
			return nil, nil, err
		}
		return p.Build()
	}
	desc := functionfs.InterfaceAllSpeeds(usb.InterfaceDescriptor{
		BInterfaceClass: usb.ClassVendorSpec,
		IInterface:      1,
	}, nil, []functionfs.EndpointTemplate{
		{Desc: usb.EndpointDescriptorNoAudio{
			BEndpointAddress: usb.DirIn,
			BMAttributes:     usb.EndpointXferBulk,
		}},
		{Desc: usb.EndpointDescriptorNoAudio{
			BEndpointAddress: usb.DirOut,
			BMAttributes:     usb.EndpointXferBulk,
		}},
	})
	return desc, functionfs.Strings(0x0409, "usbcat"), nil
}

type catHandler struct {
	functionfs.NopHandler

	fn      *functionfs.Function
	logger  *slog.Logger
	bufSize int
	depth   int

	// inTokens bounds in-flight stdin transfers: the pump takes a token
	// per submission, OnComplete returns it. Recreated on every ENABLE.
	inTokens chan struct{}
}

func (h *catHandler) OnEnable() {
	in, err := h.fn.OpenEndpoint(usb.DirIn | 1)
	if err != nil {
		h.logger.Error("open IN endpoint", "error", err)
		return
	}
	out, err := h.fn.OpenEndpoint(usb.DirOut | 2)
	if err != nil {
		h.logger.Error("open OUT endpoint", "error", err)
		return
	}
	for i := 0; i < h.depth; i++ {
		if _, err := out.SubmitRead(make([]byte, h.bufSize)); err != nil {
			h.logger.Error("submit read", "error", err)
			return
		}
	}
	h.inTokens = make(chan struct{}, h.depth)
	go h.pumpStdin(in, h.inTokens)
	h.logger.Info("host enabled function, bridging")
}

// pumpStdin feeds stdin to the host. Each chunk gets its own buffer, held
// by the endpoint until its completion; tokens bound how many are in
// flight, so stdin backpressure follows the host's consumption rate.
func (h *catHandler) pumpStdin(in *functionfs.Endpoint, tokens chan struct{}) {
	for {
		buf := make([]byte, h.bufSize)
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			tokens <- struct{}{}
			if _, serr := in.SubmitWrite(buf[:n]); serr != nil {
				if !errors.Is(serr, functionfs.ErrClosed) {
					h.logger.Error("submit write", "error", serr)
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Error("stdin read", "error", err)
			}
			return
		}
	}
}

func (h *catHandler) OnComplete(ep *functionfs.Endpoint, c functionfs.Completion) {
	if ep.IsIn() {
		select {
		case <-h.inTokens:
		default:
		}
	}
	switch c.Status {
	case functionfs.StatusOK:
	case functionfs.StatusCancelled:
		return
	case functionfs.StatusAborted:
		h.logger.Warn("transfer aborted", "endpoint", fmt.Sprintf("0x%02x", ep.Address()), "error", c.Err)
		return
	}
	if ep.IsIn() {
		return
	}
	if c.N > 0 {
		if _, err := os.Stdout.Write(c.Transfer.Buf[:c.N]); err != nil {
			h.logger.Error("stdout write", "error", err)
			return
		}
	}
	if _, err := ep.SubmitRead(c.Transfer.Buf); err != nil && !errors.Is(err, functionfs.ErrClosed) {
		h.logger.Error("resubmit read", "error", err)
	}
}

func (h *catHandler) OnDisable() {
	h.logger.Info("host disabled function")
}

func (h *catHandler) OnSuspend() {
	h.logger.Debug("bus suspended")
}

func (h *catHandler) OnResume() {
	h.logger.Debug("bus resumed")
}
