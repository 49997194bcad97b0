// Package monitor serves the gadget's state over HTTP: a JSON status API and
// a WebSocket stream of state transitions and counters.
package monitor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
	gadget "github.com/kevmo314/go-uvc-gadget"
	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/source"
)

// Gadget is the part of *gadget.Gadget the monitor reads.
type Gadget interface {
	Session() *gadget.Session
	Control() *gadget.ControlHandler
	Stats() gadget.StatsSnapshot
	Table() *descriptors.Table
	Subscribe(fn func(gadget.Transition)) func()
	SourceInfo() (source.Info, bool)
}

type Options struct {
	Addr   string
	Gadget Gadget
	// StatsInterval is the period of stats events on /api/v1/events.
	// Zero means one second.
	StatsInterval time.Duration
	Logger        *slog.Logger
}

type Server struct {
	app      *iris.Application
	g        Gadget
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
	done     chan struct{}
}

func New(opts Options) *Server {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	s := &Server{
		app:  iris.New(),
		g:    opts.Gadget,
		opts: opts,
		log:  logging.Or(opts.Logger, logging.ComponentMonitor),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	s.app.Logger().SetLevel("warn")

	s.app.Get("/health", s.health)
	v1 := s.app.Party("/api/v1")
	{
		v1.Get("/status", s.status)
		v1.Get("/stats", s.stats)
		v1.Get("/descriptors", s.descriptors)
		v1.Get("/events", s.events)
	}
	return s
}

// Handler builds the routes and returns them without listening.
func (s *Server) Handler() (http.Handler, error) {
	if err := s.app.Build(); err != nil {
		return nil, err
	}
	return s.app, nil
}

// Run listens on Options.Addr until ctx is done, then shuts the server down
// and closes open event streams.
func (s *Server) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.Shutdown(sctx); err != nil {
			s.log.Warn("shutdown failed", "error", err)
		}
	}()

	s.log.Info("monitor listening", "addr", s.opts.Addr)
	err := s.app.Listen(s.opts.Addr,
		iris.WithoutInterruptHandler,
		iris.WithoutStartupLog,
		iris.WithoutServerError(iris.ErrServerClosed))
	close(s.done)
	<-stopped
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

func (s *Server) health(ctx iris.Context) {
	ctx.JSON(iris.Map{"status": "ok"})
}

// Control is a probe or commit record with the interval in 100 ns units, the
// way hosts print it.
type Control struct {
	FormatIndex            uint8  `json:"format_index"`
	FrameIndex             uint8  `json:"frame_index"`
	FrameInterval          uint32 `json:"frame_interval"`
	MaxVideoFrameSize      uint32 `json:"max_video_frame_size"`
	MaxPayloadTransferSize uint32 `json:"max_payload_transfer_size"`
}

func newControl(p descriptors.VideoProbeCommitControl) Control {
	return Control{
		FormatIndex:            p.FormatIndex,
		FrameIndex:             p.FrameIndex,
		FrameInterval:          descriptors.IntervalUnits(p.FrameInterval),
		MaxVideoFrameSize:      p.MaxVideoFrameSize,
		MaxPayloadTransferSize: p.MaxPayloadTransferSize,
	}
}

type Status struct {
	State      gadget.StreamState `json:"state"`
	Generation uint64             `json:"generation"`
	Probe      Control            `json:"probe"`
	Commit     Control            `json:"commit"`
	// LastError is the request error code of the last stalled class request.
	LastError uint8        `json:"last_error"`
	Source    *source.Info `json:"source,omitempty"`
}

func (s *Server) status(ctx iris.Context) {
	st := s.g.Session().Snapshot()
	resp := Status{
		State:      st.Stream,
		Generation: st.Generation,
		Probe:      newControl(st.Probe),
		Commit:     newControl(st.Commit),
		LastError:  uint8(s.g.Control().LastError()),
	}
	if info, ok := s.g.SourceInfo(); ok {
		resp.Source = &info
	}
	ctx.JSON(resp)
}

func (s *Server) stats(ctx iris.Context) {
	ctx.JSON(s.g.Stats())
}

type Frame struct {
	Index           uint8    `json:"index"`
	Width           uint16   `json:"width"`
	Height          uint16   `json:"height"`
	Intervals       []uint32 `json:"intervals"`
	DefaultInterval uint32   `json:"default_interval"`
	MaxFrameSize    uint32   `json:"max_frame_size"`
}

type Descriptors struct {
	UVCVersion    string  `json:"uvc_version"`
	VendorID      uint16  `json:"vendor_id"`
	ProductID     uint16  `json:"product_id"`
	Device        string  `json:"device"`
	Configuration string  `json:"configuration"`
	Valid         bool    `json:"valid"`
	Error         string  `json:"error,omitempty"`
	Frames        []Frame `json:"frames"`
}

func (s *Server) descriptors(ctx iris.Context) {
	table := s.g.Table()
	resp := Descriptors{
		UVCVersion:    fmt.Sprintf("%x.%02x", table.Config.UVC>>8, table.Config.UVC&0xff),
		VendorID:      table.Config.VendorID,
		ProductID:     table.Config.ProductID,
		Device:        hex.EncodeToString(table.Device),
		Configuration: hex.EncodeToString(table.Configuration),
		Valid:         true,
	}
	if err := descriptors.Validate(table.Configuration); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	for _, fi := range table.Frames {
		f := Frame{
			Index:           fi.Index,
			Width:           fi.Width,
			Height:          fi.Height,
			DefaultInterval: descriptors.IntervalUnits(fi.DefaultInterval),
			MaxFrameSize:    fi.MaxFrameSize,
		}
		for _, d := range fi.Intervals {
			f.Intervals = append(f.Intervals, descriptors.IntervalUnits(d))
		}
		resp.Frames = append(resp.Frames, f)
	}
	ctx.JSON(resp)
}
