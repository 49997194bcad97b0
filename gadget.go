// Package gadget implements the device side of a USB Video Class webcam: it
// answers enumeration and PROBE/COMMIT negotiation on the control endpoint and
// streams MJPEG frames from a source to the video endpoint.
package gadget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
	"github.com/kevmo314/go-uvc-gadget/pkg/source"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Logger *slog.Logger
	Policy CommitPolicy
	// BufferCapacity is the size of the streaming buffer. Zero uses the
	// largest dwMaxVideoFrameBufferSize of the table.
	BufferCapacity int
	// MaxPayloadTransferSize is the largest payload offered in PROBE. Zero
	// uses the endpoint's wMaxPacketSize.
	MaxPayloadTransferSize uint32
	FillProbeDefaults      bool

	IdleInterval time.Duration
	RetryMin     time.Duration
	RetryMax     time.Duration
	Yield        time.Duration
	Pace         bool
}

// Gadget ties a descriptor table, a frame source and a transport together.
type Gadget struct {
	table     *descriptors.Table
	source    source.Source
	transport transport.Transport
	log       *slog.Logger

	session  *Session
	bounds   *Bounds
	control  *ControlHandler
	streamer *Streamer
	stats    *Stats

	mu  sync.Mutex
	dev device
}

// New checks the table and builds a gadget. Nothing runs until Run.
func New(table *descriptors.Table, src source.Source, tr transport.Transport, opts Options) (*Gadget, error) {
	if table == nil || len(table.FrameDescriptors) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrInvalidTable)
	}
	if err := descriptors.Validate(table.Configuration); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	log := logging.Or(opts.Logger, logging.ComponentGadget)

	maxPayload := opts.MaxPayloadTransferSize
	if maxPayload == 0 {
		maxPayload = uint32(table.MaxPacketSize)
	}
	capacity := opts.BufferCapacity
	if capacity <= 0 {
		for _, fd := range table.FrameDescriptors {
			capacity = max(capacity, int(fd.MaxVideoFrameBufferSize))
		}
	}

	g := &Gadget{
		table:     table,
		source:    src,
		transport: tr,
		log:       log,
		bounds:    NewBounds(table, maxPayload),
		stats:     &Stats{},
	}
	g.session = NewSession(g.bounds.Def)
	g.control = NewControlHandler(g.session, g.bounds, ControlOptions{
		Policy:            opts.Policy,
		FillProbeDefaults: opts.FillProbeDefaults,
		Logger:            opts.Logger,
	})
	g.streamer = NewStreamer(g.session, g.bounds, src, tr, NewStreamingBuffer(capacity), g.stats, StreamerOptions{
		Endpoint:     table.Endpoint,
		IdleInterval: opts.IdleInterval,
		RetryMin:     opts.RetryMin,
		RetryMax:     opts.RetryMax,
		Yield:        opts.Yield,
		Pace:         opts.Pace,
		Logger:       opts.Logger,
	})
	g.session.Subscribe(g.observe)
	return g, nil
}

func (g *Gadget) observe(t Transition) {
	g.log.Info("stream state", "from", t.From, "to", t.To, "reason", t.Reason, "generation", t.Generation)
	if t.To == StreamOff {
		g.stats.stops.Add(1)
	}
	if r, ok := g.transport.(transport.StateReporter); ok {
		if err := r.ReportState(t.To.String()); err != nil {
			g.log.Warn("report state failed", "error", err)
		}
	}
}

// Run serves control requests and streams until ctx is done or the transport
// fails.
func (g *Gadget) Run(ctx context.Context) error {
	g.log.Info("gadget running",
		"vendor", fmt.Sprintf("%04x", g.table.Config.VendorID),
		"product", fmt.Sprintf("%04x", g.table.Config.ProductID),
		"frames", len(g.table.Frames))
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.streamer.Run(ctx) })
	eg.Go(func() error { return g.serveControl(ctx) })
	err := eg.Wait()
	g.session.Stop("shutdown")
	return err
}

func (g *Gadget) serveControl(ctx context.Context) error {
	for {
		var setup requests.SetupPacket
		err := g.transport.ReadSetup(ctx, &setup)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, transport.ErrReset):
			g.log.Info("bus reset")
			g.resetDevice()
			g.session.Reset("bus reset")
			continue
		case errors.Is(err, transport.ErrProtocol):
			g.log.Warn("dropped malformed setup", "error", err)
			continue
		case err != nil:
			return fmt.Errorf("read setup: %w", err)
		}

		var data []byte
		if !setup.RequestType.DeviceToHost() && setup.Length > 0 {
			data = make([]byte, setup.Length)
			n, err := g.transport.ReadControlPayload(ctx, data)
			if err != nil {
				return fmt.Errorf("read control payload: %w", err)
			}
			data = data[:n]
		}

		resp, err := g.HandleSetup(ctx, setup, data)
		if err != nil {
			err = g.transport.Stall()
		} else if setup.RequestType.DeviceToHost() {
			err = g.transport.WriteControlResponse(ctx, resp)
		} else {
			err = g.transport.Ack()
		}
		if errors.Is(err, transport.ErrClosed) {
			return err
		}
		if err != nil {
			g.log.Warn("control response failed", "setup", setup.String(), "error", err)
		}
	}
}

// HandleSetup processes one control request and returns the IN data stage,
// cut to wLength. An error means the request must be stalled. Transports that
// deliver requests by callback call it directly instead of Run's control
// loop.
func (g *Gadget) HandleSetup(ctx context.Context, setup requests.SetupPacket, data []byte) ([]byte, error) {
	resp, handled, err := g.handleStandard(setup)
	if !handled {
		resp, handled, err = g.control.Handle(setup, data)
	}
	if !handled {
		if setup.RequestType.Kind() == requests.KindClass {
			g.control.unhandled()
		}
		err = fmt.Errorf("%w: %s", ErrUnsupportedRequest, setup.String())
	}
	if err != nil {
		g.log.Debug("stall", "setup", setup.String(), "error", err)
		return nil, err
	}
	if len(resp) > int(setup.Length) {
		resp = resp[:setup.Length]
	}
	return resp, nil
}

func (g *Gadget) Session() *Session         { return g.session }
func (g *Gadget) Stats() StatsSnapshot      { return g.stats.Snapshot() }
func (g *Gadget) Table() *descriptors.Table { return g.table }
func (g *Gadget) Bounds() *Bounds           { return g.bounds }
func (g *Gadget) Control() *ControlHandler  { return g.control }

func (g *Gadget) Subscribe(fn func(Transition)) func() {
	return g.session.Subscribe(fn)
}

// SourceInfo describes the frame source if it can describe itself.
func (g *Gadget) SourceInfo() (source.Info, bool) {
	d, ok := g.source.(source.Describer)
	if !ok {
		return source.Info{}, false
	}
	return d.Info(), true
}
