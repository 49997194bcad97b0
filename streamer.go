package gadget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/source"
	"github.com/kevmo314/go-uvc-gadget/pkg/transfers"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
)

type StreamerOptions struct {
	// Endpoint is the address of the video IN endpoint.
	Endpoint uint8
	// IdleInterval is how long the streamer sleeps between polls while the
	// stream is not on.
	IdleInterval time.Duration
	// RetryMin and RetryMax bound the exponential backoff after a capture or
	// write failure.
	RetryMin time.Duration
	RetryMax time.Duration
	// Yield is the pause after every frame and between retries of a packet
	// the endpoint would not take.
	Yield time.Duration
	// Pace stretches every frame to the negotiated frame interval.
	Pace   bool
	Logger *slog.Logger
}

func (o StreamerOptions) withDefaults() StreamerOptions {
	if o.IdleInterval <= 0 {
		o.IdleInterval = 10 * time.Millisecond
	}
	if o.RetryMin <= 0 {
		o.RetryMin = 5 * time.Millisecond
	}
	if o.RetryMax < o.RetryMin {
		o.RetryMax = max(o.RetryMin, 200*time.Millisecond)
	}
	o.Logger = logging.Or(o.Logger, logging.ComponentStream)
	return o
}

// errStale aborts a frame whose stream was stopped or restarted.
var errStale = errors.New("stream generation changed")

// Streamer is the single task that moves frames from the source to the video
// endpoint. It owns the streaming buffer.
type Streamer struct {
	session   *Session
	bounds    *Bounds
	source    source.Source
	transport transport.Transport
	buffer    *StreamingBuffer
	stats     *Stats
	opts      StreamerOptions
	log       *slog.Logger

	packetizer transfers.Packetizer
	params     descriptors.VideoProbeCommitControl
	width      int
	height     int

	backoff        time.Duration
	captureFailure uint64
	writeFailure   uint64
	drops          uint64
}

func NewStreamer(session *Session, bounds *Bounds, src source.Source, tr transport.Transport, buffer *StreamingBuffer, stats *Stats, opts StreamerOptions) *Streamer {
	opts = opts.withDefaults()
	return &Streamer{
		session:   session,
		bounds:    bounds,
		source:    src,
		transport: tr,
		buffer:    buffer,
		stats:     stats,
		opts:      opts,
		log:       opts.Logger,
	}
}

// Run streams until ctx is done.
func (s *Streamer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		st := s.session.Snapshot()
		if st.Stream == StreamReady {
			if !s.session.Promote(st.Generation) {
				continue
			}
			s.stats.promotions.Add(1)
			s.backoff = 0
			st.Stream = StreamOn
		}
		if st.Stream != StreamOn {
			sleep(ctx, s.opts.IdleInterval)
			continue
		}
		s.configure(st.Commit)

		start := time.Now()
		if !s.cycle(ctx, st.Generation) {
			s.sleepBackoff(ctx)
			continue
		}
		if s.opts.Pace {
			sleep(ctx, s.params.FrameInterval-time.Since(start))
		} else {
			sleep(ctx, s.opts.Yield)
		}
	}
	return nil
}

// configure applies committed parameters. Under CommitApply they can change
// while the stream is on.
func (s *Streamer) configure(commit descriptors.VideoProbeCommitControl) {
	params, fd := s.bounds.Resolve(commit)
	if params == s.params && s.packetizer.MaxPayload != 0 {
		return
	}
	s.params = params
	s.packetizer.MaxPayload = int(params.MaxPayloadTransferSize)
	if w, h := int(fd.Width), int(fd.Height); w != s.width || h != s.height {
		s.width, s.height = w, h
		if sz, ok := s.source.(source.Sizer); ok {
			sz.SetSize(w, h)
		}
	}
	s.log.Info("stream parameters",
		"frame", params.FrameIndex,
		"width", fd.Width, "height", fd.Height,
		"interval", params.FrameInterval,
		"payload", params.MaxPayloadTransferSize)
}

// cycle sends one frame. It returns false when the streamer should back off.
func (s *Streamer) cycle(ctx context.Context, gen uint64) bool {
	frame, err := s.source.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.stats.captureErrors.Add(1)
		s.captureFailure++
		if logging.Every(s.captureFailure) {
			s.log.Warn("capture failed", "error", err, "count", s.captureFailure)
		}
		return false
	}
	s.captureFailure = 0

	still := source.IsStill(frame)
	n := frame.Len()
	var loadErr error
	switch data := frame.Bytes(); {
	case n == 0:
		loadErr = transfers.ErrEmptyFrame
	case n > len(data):
		loadErr = fmt.Errorf("%w: %d of %d bytes", ErrFrameLength, n, len(data))
	default:
		loadErr = s.buffer.Load(data[:n])
	}
	// the buffer holds a copy, the source gets its frame back before any
	// packet goes out.
	if err := s.source.Release(frame); err != nil {
		s.log.Warn("release failed", "frame", frame.ID(), "error", err)
	}
	if loadErr != nil {
		s.stats.framesDropped.Add(1)
		s.drops++
		if logging.Every(s.drops) {
			s.log.Warn("frame dropped", "bytes", n, "error", loadErr, "count", s.drops)
		}
		return true
	}
	s.backoff = 0

	packets, err := s.packetizer.Packetize(s.buffer.Bytes(), still, func(p []byte) error {
		return s.write(ctx, gen, p)
	})
	s.stats.packetsSent.Add(uint64(packets))
	switch {
	case err == nil:
		s.stats.framesSent.Add(1)
		s.stats.bytesSent.Add(uint64(n))
		s.writeFailure = 0
		return true
	case errors.Is(err, errStale), ctx.Err() != nil:
		s.stats.framesAborted.Add(1)
		return true
	default:
		s.stats.framesAborted.Add(1)
		s.stats.writeErrors.Add(1)
		s.writeFailure++
		if logging.Every(s.writeFailure) {
			s.log.Warn("endpoint write failed", "error", err, "packets", packets, "count", s.writeFailure)
		}
		return false
	}
}

// write sends one packet, retrying while the endpoint is busy.
func (s *Streamer) write(ctx context.Context, gen uint64, p []byte) error {
	for {
		if state, g := s.session.Current(); g != gen || state != StreamOn {
			return errStale
		}
		err := s.transport.WriteEndpoint(ctx, s.opts.Endpoint, p)
		if !errors.Is(err, transport.ErrWouldBlock) {
			return err
		}
		s.stats.wouldBlock.Add(1)
		if !sleep(ctx, s.opts.Yield) {
			return ctx.Err()
		}
	}
}

func (s *Streamer) sleepBackoff(ctx context.Context) {
	if s.backoff == 0 {
		s.backoff = s.opts.RetryMin
	} else {
		s.backoff = min(2*s.backoff, s.opts.RetryMax)
	}
	sleep(ctx, s.backoff)
}

// sleep waits for d or until ctx is done, and reports whether ctx is still
// live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		runtime.Gosched()
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
