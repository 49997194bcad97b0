package transport

import (
	"context"
	"sync"

	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
)

// DefaultLoopbackDepth is the number of packets the loopback endpoint holds
// before writes report ErrWouldBlock.
const DefaultLoopbackDepth = 256

type controlRequest struct {
	setup requests.SetupPacket
	data  []byte
	reset bool
}

type controlResponse struct {
	data  []byte
	stall bool
}

// Loopback is an in-memory transport. The device end is the Loopback itself,
// the host end is returned by Host.
type Loopback struct {
	requests  chan controlRequest
	responses chan controlResponse
	packets   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending []byte
	blocked bool
	failErr error
	state   string
}

func NewLoopback(depth int) *Loopback {
	if depth <= 0 {
		depth = DefaultLoopbackDepth
	}
	return &Loopback{
		requests:  make(chan controlRequest),
		responses: make(chan controlResponse, 1),
		packets:   make(chan []byte, depth),
		done:      make(chan struct{}),
	}
}

func (l *Loopback) ReadSetup(ctx context.Context, setup *requests.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	case req := <-l.requests:
		if req.reset {
			return ErrReset
		}
		*setup = req.setup
		l.mu.Lock()
		l.pending = req.data
		l.mu.Unlock()
		return nil
	}
}

func (l *Loopback) ReadControlPayload(ctx context.Context, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := copy(buf, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *Loopback) respond(resp controlResponse) error {
	select {
	case <-l.done:
		return ErrClosed
	case l.responses <- resp:
		return nil
	}
}

func (l *Loopback) WriteControlResponse(ctx context.Context, data []byte) error {
	return l.respond(controlResponse{data: append([]byte{}, data...)})
}

func (l *Loopback) Stall() error {
	return l.respond(controlResponse{stall: true})
}

func (l *Loopback) Ack() error {
	return l.respond(controlResponse{})
}

func (l *Loopback) WriteEndpoint(ctx context.Context, ep uint8, data []byte) error {
	l.mu.Lock()
	blocked, failErr := l.blocked, l.failErr
	l.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	if blocked {
		return ErrWouldBlock
	}
	select {
	case <-l.done:
		return ErrClosed
	case l.packets <- append([]byte(nil), data...):
		return nil
	default:
		return ErrWouldBlock
	}
}

func (l *Loopback) ReportState(state string) error {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *Loopback) Host() *LoopbackHost {
	return &LoopbackHost{l: l}
}

// LoopbackHost drives a Loopback from the host side.
type LoopbackHost struct {
	l  *Loopback
	mu sync.Mutex
}

// Control runs one control transfer. IN requests return the response data,
// OUT requests send data and return nil on ack. A stalled request returns
// ErrStall.
func (h *LoopbackHost) Control(ctx context.Context, setup requests.SetupPacket, data []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	req := controlRequest{setup: setup}
	if !setup.RequestType.DeviceToHost() {
		req.data = append([]byte(nil), data...)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.l.done:
		return nil, ErrClosed
	case h.l.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.l.done:
		return nil, ErrClosed
	case resp := <-h.l.responses:
		if resp.stall {
			return nil, ErrStall
		}
		return resp.data, nil
	}
}

// Reset signals a bus reset and waits until the device has picked it up.
func (h *LoopbackHost) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.l.done:
		return ErrClosed
	case h.l.requests <- controlRequest{reset: true}:
		return nil
	}
}

// ReadPacket returns the next packet written to the endpoint.
func (h *LoopbackHost) ReadPacket(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-h.l.packets:
		return p, nil
	}
}

// Pending is the number of packets waiting to be read.
func (h *LoopbackHost) Pending() int {
	return len(h.l.packets)
}

// SetBlocked makes every endpoint write report ErrWouldBlock.
func (h *LoopbackHost) SetBlocked(blocked bool) {
	h.l.mu.Lock()
	h.l.blocked = blocked
	h.l.mu.Unlock()
}

// FailWrites makes every endpoint write fail with err, nil clears it.
func (h *LoopbackHost) FailWrites(err error) {
	h.l.mu.Lock()
	h.l.failErr = err
	h.l.mu.Unlock()
}

func (h *LoopbackHost) State() string {
	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	return h.l.state
}

var (
	_ Transport     = (*Loopback)(nil)
	_ StateReporter = (*Loopback)(nil)
)
