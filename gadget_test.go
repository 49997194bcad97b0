package gadget

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
	"github.com/kevmo314/go-uvc-gadget/pkg/source"
	"github.com/kevmo314/go-uvc-gadget/pkg/transfers"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
)

type fakeFrame struct {
	data []byte
	id   uint64
}

func (f *fakeFrame) Bytes() []byte { return f.data }
func (f *fakeFrame) Len() int      { return len(f.data) }
func (f *fakeFrame) ID() uint64    { return f.id }

// fakeSource hands out its frames in order. With loop set it starts over,
// otherwise it reports ErrFrameUnavailable once they are used up.
type fakeSource struct {
	mu       sync.Mutex
	frames   [][]byte
	loop     bool
	next     int
	id       uint64
	live     map[uint64]bool
	acquired int
	released int
}

func newFakeSource(loop bool, frames ...[]byte) *fakeSource {
	return &fakeSource{frames: frames, loop: loop, live: make(map[uint64]bool)}
}

func (s *fakeSource) Acquire(ctx context.Context) (source.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		if !s.loop || len(s.frames) == 0 {
			return nil, source.ErrFrameUnavailable
		}
		s.next = 0
	}
	s.id++
	f := &fakeFrame{data: s.frames[s.next], id: s.id}
	s.next++
	s.live[f.id] = true
	s.acquired++
	return f, nil
}

func (s *fakeSource) Release(f source.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[f.ID()] {
		return source.ErrDoubleRelease
	}
	delete(s.live, f.ID())
	s.released++
	return nil
}

func (s *fakeSource) counts() (acquired, released, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released, len(s.live)
}

func testFrame(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	gadget    *Gadget
	host      *transport.LoopbackHost
	assembler transfers.FrameAssembler
}

func newHarness(t *testing.T, src source.Source, opts Options) *harness {
	t.Helper()
	if opts.IdleInterval == 0 {
		opts.IdleInterval = time.Millisecond
	}
	if opts.RetryMin == 0 {
		opts.RetryMin = time.Millisecond
		opts.RetryMax = 4 * time.Millisecond
	}
	if opts.Yield == 0 {
		opts.Yield = 50 * time.Microsecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	lb := transport.NewLoopback(0)
	g, err := New(testTable(t), src, lb, opts)
	if err != nil {
		cancel()
		t.Fatalf("New failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
		lb.Close()
	})
	return &harness{t: t, ctx: ctx, gadget: g, host: lb.Host()}
}

func (h *harness) control(setup requests.SetupPacket, data []byte) ([]byte, error) {
	return h.host.Control(h.ctx, setup, data)
}

func (h *harness) set(sel requests.VideoStreamingControlSelector, p descriptors.VideoProbeCommitControl) error {
	b := p.MarshalVersion(descriptors.UVC10)
	_, err := h.control(requests.NewClassRequest(false, requests.RequestCodeSetCur, uint8(sel), descriptors.VideoStreamingInterface, uint16(len(b))), b)
	return err
}

func (h *harness) get(sel requests.VideoStreamingControlSelector, code requests.RequestCode) (descriptors.VideoProbeCommitControl, error) {
	var p descriptors.VideoProbeCommitControl
	b, err := h.control(requests.NewClassRequest(true, code, uint8(sel), descriptors.VideoStreamingInterface, 26), nil)
	if err != nil {
		return p, err
	}
	return p, p.UnmarshalBinary(b)
}

func (h *harness) start(p descriptors.VideoProbeCommitControl) {
	h.t.Helper()
	if err := h.set(requests.VideoStreamingControlSelectorProbeControl, p); err != nil {
		h.t.Fatalf("PROBE SET_CUR failed: %v", err)
	}
	if err := h.set(requests.VideoStreamingControlSelectorCommitControl, p); err != nil {
		h.t.Fatalf("COMMIT SET_CUR failed: %v", err)
	}
}

// frames reads packets until n more frames have been reassembled. The
// assembler carries over between calls so no frame is picked up halfway.
func (h *harness) frames(n int) ([][]byte, [][]byte) {
	h.t.Helper()
	a := &h.assembler
	var frames, packets [][]byte
	for len(frames) < n {
		p, err := h.host.ReadPacket(h.ctx)
		if err != nil {
			h.t.Fatalf("ReadPacket failed after %d frames: %v", len(frames), err)
		}
		packets = append(packets, p)
		frame, ok, err := a.Push(p)
		if err != nil {
			h.t.Fatalf("Push failed: %v", err)
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	return frames, packets
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	for !cond() {
		select {
		case <-h.ctx.Done():
			h.t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func (h *harness) state() StreamState {
	s, _ := h.gadget.Session().Current()
	return s
}

func TestProbe_GetCurReturnsSetCur(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(100)), Options{})
	p := record(2, 333333)
	p.HintBitmask = 1
	p.CompQuality = 5000
	p.MaxPayloadTransferSize = 256

	if err := h.set(requests.VideoStreamingControlSelectorProbeControl, p); err != nil {
		t.Fatalf("SET_CUR failed: %v", err)
	}
	got, err := h.get(requests.VideoStreamingControlSelectorProbeControl, requests.RequestCodeGetCur)
	if err != nil {
		t.Fatalf("GET_CUR failed: %v", err)
	}
	if got != p {
		t.Errorf("GET_CUR = %+v, want %+v", got, p)
	}
	if s := h.state(); s != StreamOff {
		t.Errorf("state after PROBE = %v, want off", s)
	}
}

func TestProbe_FillDefaults(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(100)), Options{FillProbeDefaults: true})
	if err := h.set(requests.VideoStreamingControlSelectorProbeControl, record(2, 0)); err != nil {
		t.Fatalf("SET_CUR failed: %v", err)
	}
	got, err := h.get(requests.VideoStreamingControlSelectorProbeControl, requests.RequestCodeGetCur)
	if err != nil {
		t.Fatalf("GET_CUR failed: %v", err)
	}
	if descriptors.IntervalUnits(got.FrameInterval) != 333333 || got.MaxPayloadTransferSize != 512 || got.MaxVideoFrameSize != descriptors.MaxFrameSize(320, 240) {
		t.Errorf("GET_CUR = %+v, want the QVGA defaults filled in", got)
	}
}

func TestProbe_Bounds(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(100)), Options{})
	sel := requests.VideoStreamingControlSelectorProbeControl

	lo, err := h.get(sel, requests.RequestCodeGetMin)
	if err != nil {
		t.Fatalf("GET_MIN failed: %v", err)
	}
	hi, err := h.get(sel, requests.RequestCodeGetMax)
	if err != nil {
		t.Fatalf("GET_MAX failed: %v", err)
	}
	def, err := h.get(sel, requests.RequestCodeGetDef)
	if err != nil {
		t.Fatalf("GET_DEF failed: %v", err)
	}
	if lo.FrameIndex != 1 || hi.FrameIndex != 2 || def.FrameIndex != 1 {
		t.Errorf("frame index min/max/def = %d/%d/%d, want 1/2/1", lo.FrameIndex, hi.FrameIndex, def.FrameIndex)
	}
	if descriptors.IntervalUnits(def.FrameInterval) != 666666 {
		t.Errorf("GET_DEF interval = %d, want 666666", descriptors.IntervalUnits(def.FrameInterval))
	}
	if hi.MaxPayloadTransferSize != 512 {
		t.Errorf("GET_MAX payload = %d, want 512", hi.MaxPayloadTransferSize)
	}

	b, err := h.control(requests.NewClassRequest(true, requests.RequestCodeGetLen, uint8(sel), 1, 2), nil)
	if err != nil || binary.LittleEndian.Uint16(b) != 26 {
		t.Errorf("GET_LEN = %v, %v, want 26", b, err)
	}
	b, err = h.control(requests.NewClassRequest(true, requests.RequestCodeGetInfo, uint8(sel), 1, 1), nil)
	if err != nil || !bytes.Equal(b, []byte{0x03}) {
		t.Errorf("GET_INFO = %v, %v, want [3]", b, err)
	}
	if _, err := h.control(requests.NewClassRequest(true, requests.RequestCodeGetRes, uint8(sel), 1, 26), nil); !errors.Is(err, transport.ErrStall) {
		t.Errorf("GET_RES = %v, want %v", err, transport.ErrStall)
	}
}

func requestErrorCode(h *harness) byte {
	h.t.Helper()
	setup := requests.NewClassRequest(true, requests.RequestCodeGetCur, uint8(requests.VideoControlSelectorRequestErrorCodeControl), descriptors.VideoControlInterface, 1)
	b, err := h.control(setup, nil)
	if err != nil || len(b) != 1 {
		h.t.Fatalf("GET_CUR request error code = %v, %v", b, err)
	}
	return b[0]
}

func TestControl_Stalls(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(100)), Options{})
	probe := uint8(requests.VideoStreamingControlSelectorProbeControl)

	r := record(1, 666666)
	short := r.MarshalVersion(descriptors.UVC10)[:20]
	if _, err := h.control(requests.NewClassRequest(false, requests.RequestCodeSetCur, probe, 1, 20), short); !errors.Is(err, transport.ErrStall) {
		t.Errorf("SET_CUR of 20 bytes = %v, want %v", err, transport.ErrStall)
	}
	if code := requestErrorCode(h); code != byte(requests.RequestErrorCodeInvalidRequest) {
		t.Errorf("error code = %#02x, want invalid request", code)
	}
	if _, err := h.control(requests.NewClassRequest(true, requests.RequestCodeGetCur, probe, 1, 10), nil); !errors.Is(err, transport.ErrStall) {
		t.Errorf("GET_CUR of 10 bytes = %v, want %v", err, transport.ErrStall)
	}

	if err := h.set(requests.VideoStreamingControlSelectorProbeControl, record(3, 666666)); !errors.Is(err, transport.ErrStall) {
		t.Errorf("SET_CUR frame 3 = %v, want %v", err, transport.ErrStall)
	}
	if code := requestErrorCode(h); code != byte(requests.RequestErrorCodeOutOfRange) {
		t.Errorf("error code = %#02x, want out of range", code)
	}
	// a stalled PROBE leaves the previous value.
	if got, _ := h.get(requests.VideoStreamingControlSelectorProbeControl, requests.RequestCodeGetCur); got.FrameIndex != 1 {
		t.Errorf("PROBE frame after stall = %d, want 1", got.FrameIndex)
	}

	still := uint8(requests.VideoStreamingControlSelectorStillProbeControl)
	if _, err := h.control(requests.NewClassRequest(true, requests.RequestCodeGetCur, still, 1, 11), nil); !errors.Is(err, transport.ErrStall) {
		t.Errorf("GET_CUR still probe = %v, want %v", err, transport.ErrStall)
	}
	if code := requestErrorCode(h); code != byte(requests.RequestErrorCodeInvalidControl) {
		t.Errorf("error code = %#02x, want invalid control", code)
	}
	if s := h.state(); s != StreamOff {
		t.Errorf("state = %v, want off", s)
	}
}

func TestControlHandler_FallThrough(t *testing.T) {
	table := testTable(t)
	b := NewBounds(table, 512)
	c := NewControlHandler(NewSession(b.Def), b, ControlOptions{})

	tests := []struct {
		name  string
		setup requests.SetupPacket
	}{
		{"still probe", requests.NewClassRequest(true, requests.RequestCodeGetCur, uint8(requests.VideoStreamingControlSelectorStillProbeControl), 1, 11)},
		{"stream error code", requests.NewClassRequest(true, requests.RequestCodeGetCur, uint8(requests.VideoStreamingControlSelectorStreamErrorCodeControl), 1, 1)},
		{"other interface", requests.NewClassRequest(true, requests.RequestCodeGetCur, uint8(requests.VideoStreamingControlSelectorProbeControl), 5, 26)},
		{"power mode", requests.NewClassRequest(true, requests.RequestCodeGetCur, uint8(requests.VideoControlSelectorVideoPowerModeControl), 0, 1)},
		{"standard", requests.SetupPacket{RequestType: requests.RequestTypeStandardDeviceIn, Request: uint8(requests.StandardRequestGetStatus), Length: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, handled, err := c.Handle(tt.setup, nil)
			if handled || err != nil {
				t.Errorf("Handle() = %v, %v, want unhandled", handled, err)
			}
		})
	}
}

func TestCommit_StartsStream(t *testing.T) {
	src := newFakeSource(true, testFrame(3000))
	h := newHarness(t, src, Options{})
	var mu sync.Mutex
	var ts []Transition
	h.gadget.Subscribe(func(t Transition) {
		mu.Lock()
		ts = append(ts, t)
		mu.Unlock()
	})

	p := record(1, 666666)
	h.start(p)
	frames, _ := h.frames(2)
	for i, f := range frames {
		if !bytes.Equal(f, src.frames[0]) {
			t.Errorf("frame %d differs from the source frame", i)
		}
	}
	if s := h.state(); s != StreamOn {
		t.Errorf("state = %v, want on", s)
	}
	got, err := h.get(requests.VideoStreamingControlSelectorCommitControl, requests.RequestCodeGetCur)
	if err != nil || got != p {
		t.Errorf("COMMIT GET_CUR = %+v, %v, want %+v", got, err, p)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ts) < 2 || ts[0].From != StreamOff || ts[0].To != StreamReady || ts[1].From != StreamReady || ts[1].To != StreamOn {
		t.Fatalf("transitions = %+v, want off -> ready -> on", ts)
	}
	for _, tr := range ts {
		if tr.From == StreamOff && tr.To == StreamOn {
			t.Errorf("direct off -> on transition %+v", tr)
		}
	}
}

func TestStream_TenThousandBytes(t *testing.T) {
	frame := testFrame(10000)
	h := newHarness(t, newFakeSource(true, frame), Options{})
	h.start(record(1, 666666))

	frames, packets := h.frames(1)
	if !bytes.Equal(frames[0], frame) {
		t.Error("reassembled frame differs from the source frame")
	}
	if len(packets) != 20 {
		t.Errorf("frame took %d packets, want 20", len(packets))
	}
	eofs := 0
	for i, p := range packets {
		if len(p) > 512 {
			t.Errorf("packet %d is %d bytes", i, len(p))
		}
		if p[1]&transfers.HeaderEndOfFrame != 0 {
			eofs++
			if i != len(packets)-1 {
				t.Errorf("EOF on packet %d of %d", i, len(packets))
			}
		}
	}
	if eofs != 1 {
		t.Errorf("%d EOF packets, want 1", eofs)
	}
}

func TestStream_NegotiatedPayload(t *testing.T) {
	frame := testFrame(1000)
	h := newHarness(t, newFakeSource(true, frame), Options{})
	p := record(2, 333333)
	p.MaxPayloadTransferSize = 102
	h.start(p)

	frames, packets := h.frames(2)
	if !bytes.Equal(frames[1], frame) {
		t.Error("reassembled frame differs from the source frame")
	}
	for i, pkt := range packets {
		if len(pkt) > 102 {
			t.Errorf("packet %d is %d bytes, want at most 102", i, len(pkt))
		}
	}
}

func TestStream_OversizeFrameDropped(t *testing.T) {
	big, small := testFrame(600000), testFrame(1000)
	src := newFakeSource(false, big, small)
	h := newHarness(t, src, Options{BufferCapacity: 32768})
	h.start(record(1, 666666))

	frames, packets := h.frames(1)
	if !bytes.Equal(frames[0], small) {
		t.Errorf("first frame on the wire is %d bytes, want the %d byte frame", len(frames[0]), len(small))
	}
	if len(packets) != transfers.PacketCount(len(small), 512) {
		t.Errorf("%d packets, want %d", len(packets), transfers.PacketCount(len(small), 512))
	}
	h.waitFor("both frames released", func() bool {
		_, released, _ := src.counts()
		return released == 2
	})
	if acquired, _, live := src.counts(); acquired != 2 || live != 0 {
		t.Errorf("acquired %d frames with %d live, want 2 and 0", acquired, live)
	}
	h.waitFor("frame counted", func() bool { return h.gadget.Stats().FramesSent == 1 })
	if s := h.gadget.Stats(); s.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", s.FramesDropped)
	}
	if n := h.host.Pending(); n != 0 {
		t.Errorf("%d packets pending after the source ran dry", n)
	}
}

func TestStream_EmptyFrameDropped(t *testing.T) {
	src := newFakeSource(false, nil, testFrame(10))
	h := newHarness(t, src, Options{})
	h.start(record(1, 666666))
	frames, _ := h.frames(1)
	if len(frames[0]) != 10 {
		t.Errorf("frame is %d bytes, want 10", len(frames[0]))
	}
	if s := h.gadget.Stats(); s.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", s.FramesDropped)
	}
}

// longFrame reports more bytes than it holds.
type longFrame struct{ *fakeFrame }

func (f longFrame) Len() int { return len(f.data) + 100 }

type lyingSource struct {
	*fakeSource
	lies int
}

func (s *lyingSource) Acquire(ctx context.Context) (source.Frame, error) {
	f, err := s.fakeSource.Acquire(ctx)
	if err != nil || s.lies == 0 {
		return f, err
	}
	s.lies--
	return longFrame{f.(*fakeFrame)}, nil
}

func TestStream_FrameLengthBeyondDataDropped(t *testing.T) {
	src := &lyingSource{fakeSource: newFakeSource(false, testFrame(100), testFrame(10)), lies: 1}
	h := newHarness(t, src, Options{})
	h.start(record(1, 666666))

	frames, _ := h.frames(1)
	if len(frames[0]) != 10 {
		t.Errorf("frame is %d bytes, want 10", len(frames[0]))
	}
	if s := h.gadget.Stats(); s.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", s.FramesDropped)
	}
	h.waitFor("both frames released", func() bool {
		_, released, _ := src.counts()
		return released == 2
	})
	if s := h.state(); s != StreamOn {
		t.Errorf("state = %v, want on", s)
	}
}

func TestCommit_TwiceWhileOn(t *testing.T) {
	frame := testFrame(5000)
	h := newHarness(t, newFakeSource(true, frame), Options{})
	p := record(1, 666666)
	h.start(p)
	h.frames(1)

	for i := 0; i < 2; i++ {
		if err := h.set(requests.VideoStreamingControlSelectorCommitControl, p); err != nil {
			t.Fatalf("COMMIT %d failed: %v", i, err)
		}
	}
	if s := h.state(); s != StreamOn {
		t.Errorf("state = %v, want on", s)
	}
	// every frame still arrives whole, the assembler fails on a cut one.
	frames, _ := h.frames(3)
	for i, f := range frames {
		if !bytes.Equal(f, frame) {
			t.Errorf("frame %d is %d bytes, want %d", i, len(f), len(frame))
		}
	}
	if s := h.gadget.Stats(); s.Stops != 0 || s.Promotions != 1 {
		t.Errorf("stats = %+v, want 0 stops and 1 promotion", s)
	}
}

func TestCommit_RestartPolicy(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(2000)), Options{Policy: CommitRestart})
	h.start(record(1, 666666))
	h.frames(1)
	_, gen := h.gadget.Session().Current()

	if err := h.set(requests.VideoStreamingControlSelectorProbeControl, record(2, 333333)); err != nil {
		t.Fatalf("PROBE failed: %v", err)
	}
	if err := h.set(requests.VideoStreamingControlSelectorCommitControl, record(2, 333333)); err != nil {
		t.Fatalf("COMMIT failed: %v", err)
	}
	h.waitFor("second promotion", func() bool { return h.gadget.Stats().Promotions == 2 })
	if s, g := h.gadget.Session().Current(); s != StreamOn || g <= gen {
		t.Errorf("state = %v generation %d, want on after %d", s, g, gen)
	}
	if s := h.gadget.Stats(); s.Stops != 1 {
		t.Errorf("Stops = %d, want 1", s.Stops)
	}
}

func TestCommit_WithoutProbeStalls(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(2000)), Options{})
	commit := requests.VideoStreamingControlSelectorCommitControl

	if err := h.set(commit, record(2, 333333)); !errors.Is(err, transport.ErrStall) {
		t.Errorf("COMMIT before any PROBE = %v, want %v", err, transport.ErrStall)
	}
	if code := requestErrorCode(h); code != byte(requests.RequestErrorCodeWrongState) {
		t.Errorf("error code = %#02x, want wrong state", code)
	}
	if s := h.state(); s != StreamOff {
		t.Errorf("state = %v, want off", s)
	}

	if err := h.set(requests.VideoStreamingControlSelectorProbeControl, record(1, 666666)); err != nil {
		t.Fatalf("PROBE failed: %v", err)
	}
	if err := h.set(commit, record(2, 333333)); !errors.Is(err, transport.ErrStall) {
		t.Errorf("COMMIT of another frame = %v, want %v", err, transport.ErrStall)
	}
	if code := requestErrorCode(h); code != byte(requests.RequestErrorCodeOutOfRange) {
		t.Errorf("error code = %#02x, want out of range", code)
	}
	if got, _ := h.get(commit, requests.RequestCodeGetCur); got.FrameIndex != 1 {
		t.Errorf("COMMIT frame after stall = %d, want the default 1", got.FrameIndex)
	}
	if s := h.state(); s != StreamOff {
		t.Errorf("state after a stalled COMMIT = %v, want off", s)
	}

	if err := h.set(commit, record(1, 666666)); err != nil {
		t.Fatalf("COMMIT matching the PROBE failed: %v", err)
	}
	h.frames(1)
	if s := h.state(); s != StreamOn {
		t.Errorf("state = %v, want on", s)
	}

	// a bus reset forgets the negotiation.
	if err := h.host.Reset(h.ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := h.set(commit, record(1, 666666)); !errors.Is(err, transport.ErrStall) {
		t.Errorf("COMMIT after reset = %v, want %v", err, transport.ErrStall)
	}
	if code := requestErrorCode(h); code != byte(requests.RequestErrorCodeWrongState) {
		t.Errorf("error code after reset = %#02x, want wrong state", code)
	}
}

func standard(rt requests.RequestType, req requests.StandardRequest, value, index, length uint16) requests.SetupPacket {
	return requests.SetupPacket{RequestType: rt, Request: uint8(req), Value: value, Index: index, Length: length}
}

func TestStop_SetInterfaceZero(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(2000)), Options{})
	setIface := func(alt uint16) {
		t.Helper()
		if _, err := h.control(standard(requests.RequestTypeStandardInterfaceOut, requests.StandardRequestSetInterface, alt, 1, 0), nil); err != nil {
			t.Fatalf("SET_INTERFACE(%d) failed: %v", alt, err)
		}
	}
	setIface(1)
	h.start(record(1, 666666))
	h.frames(1)

	setIface(0)
	if s := h.state(); s != StreamOff {
		t.Fatalf("state after SET_INTERFACE(0) = %v, want off", s)
	}
	h.waitFor("host state report", func() bool { return h.host.State() == "off" })
	if _, err := h.control(standard(requests.RequestTypeStandardInterfaceOut, requests.StandardRequestSetInterface, 2, 1, 0), nil); !errors.Is(err, transport.ErrStall) {
		t.Errorf("SET_INTERFACE(2) = %v, want %v", err, transport.ErrStall)
	}
}

func TestStop_ClearHalt(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(2000)), Options{})
	h.start(record(1, 666666))
	h.frames(1)

	clearHalt := standard(requests.RequestTypeStandardEndpointOut, requests.StandardRequestClearFeature, requests.FeatureEndpointHalt, 0x81, 0)
	if _, err := h.control(clearHalt, nil); err != nil {
		t.Fatalf("CLEAR_FEATURE failed: %v", err)
	}
	if s := h.state(); s != StreamOff {
		t.Errorf("state = %v, want off", s)
	}
}

func TestStop_BusReset(t *testing.T) {
	src := newFakeSource(true, testFrame(2000))
	h := newHarness(t, src, Options{})
	h.start(record(2, 333333))
	h.frames(1)

	if err := h.host.Reset(h.ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	// the reset is processed before the next request is read.
	got, err := h.get(requests.VideoStreamingControlSelectorCommitControl, requests.RequestCodeGetCur)
	if err != nil {
		t.Fatalf("GET_CUR failed: %v", err)
	}
	if got.FrameIndex != 1 {
		t.Errorf("COMMIT frame after reset = %d, want the default 1", got.FrameIndex)
	}
	if s := h.state(); s != StreamOff {
		t.Errorf("state = %v, want off", s)
	}
	h.waitFor("frames released", func() bool {
		_, _, live := src.counts()
		return live == 0
	})
}

func TestStandard_Enumeration(t *testing.T) {
	h := newHarness(t, newFakeSource(true, testFrame(100)), Options{})
	table := h.gadget.Table()

	dev, err := h.control(standard(requests.RequestTypeStandardDeviceIn, requests.StandardRequestGetDescriptor, uint16(descriptors.DescriptorTypeDevice)<<8, 0, 64), nil)
	if err != nil || !bytes.Equal(dev, table.Device) {
		t.Errorf("GET_DESCRIPTOR(device) = %v, %v, want %v", dev, err, table.Device)
	}
	head, err := h.control(standard(requests.RequestTypeStandardDeviceIn, requests.StandardRequestGetDescriptor, uint16(descriptors.DescriptorTypeConfiguration)<<8, 0, 9), nil)
	if err != nil || !bytes.Equal(head, table.Configuration[:9]) {
		t.Errorf("GET_DESCRIPTOR(configuration, 9) = %v, %v", head, err)
	}
	full, err := h.control(standard(requests.RequestTypeStandardDeviceIn, requests.StandardRequestGetDescriptor, uint16(descriptors.DescriptorTypeConfiguration)<<8, 0, 0xFFFF), nil)
	if err != nil || !bytes.Equal(full, table.Configuration) {
		t.Errorf("GET_DESCRIPTOR(configuration) returned %d bytes, %v, want %d", len(full), err, len(table.Configuration))
	}
	if _, err := h.control(standard(requests.RequestTypeStandardDeviceIn, requests.StandardRequestGetDescriptor, uint16(descriptors.DescriptorTypeString)<<8|9, 0, 255), nil); !errors.Is(err, transport.ErrStall) {
		t.Errorf("GET_DESCRIPTOR(string 9) = %v, want %v", err, transport.ErrStall)
	}

	if _, err := h.control(standard(requests.RequestTypeStandardDeviceOut, requests.StandardRequestSetConfiguration, 1, 0, 0), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION failed: %v", err)
	}
	cfg, err := h.control(standard(requests.RequestTypeStandardDeviceIn, requests.StandardRequestGetConfiguration, 0, 0, 1), nil)
	if err != nil || !bytes.Equal(cfg, []byte{1}) {
		t.Errorf("GET_CONFIGURATION = %v, %v, want [1]", cfg, err)
	}
	status, err := h.control(standard(requests.RequestTypeStandardEndpointIn, requests.StandardRequestGetStatus, 0, 0x81, 2), nil)
	if err != nil || !bytes.Equal(status, []byte{0, 0}) {
		t.Errorf("GET_STATUS(endpoint) = %v, %v, want [0 0]", status, err)
	}
}

func TestStream_CaptureFailureKeepsStreamOn(t *testing.T) {
	h := newHarness(t, newFakeSource(false), Options{})
	h.start(record(1, 666666))
	h.waitFor("capture errors", func() bool { return h.gadget.Stats().CaptureErrors >= 3 })
	if s := h.state(); s != StreamOn {
		t.Errorf("state = %v, want on", s)
	}
}

func TestStream_WriteFailureKeepsStreamOn(t *testing.T) {
	frame := testFrame(3000)
	h := newHarness(t, newFakeSource(true, frame), Options{})
	h.host.FailWrites(errors.New("host gone"))
	h.start(record(1, 666666))
	h.waitFor("write errors", func() bool { return h.gadget.Stats().WriteErrors >= 2 })
	if s := h.state(); s != StreamOn {
		t.Errorf("state = %v, want on", s)
	}

	h.host.FailWrites(nil)
	// the assembler reports a frame cut by a failed write as truncated, so
	// read until a whole one arrives.
	var a transfers.FrameAssembler
	for {
		p, err := h.host.ReadPacket(h.ctx)
		if err != nil {
			t.Fatalf("ReadPacket failed: %v", err)
		}
		f, ok, err := a.Push(p)
		if ok && err == nil && bytes.Equal(f, frame) {
			break
		}
	}
}

func TestStream_WouldBlockRetriesPacket(t *testing.T) {
	frame := testFrame(4000)
	h := newHarness(t, newFakeSource(true, frame), Options{})
	h.host.SetBlocked(true)
	h.start(record(1, 666666))
	h.waitFor("backpressure", func() bool { return h.gadget.Stats().WouldBlock >= 5 })
	h.host.SetBlocked(false)

	frames, _ := h.frames(2)
	for i, f := range frames {
		if !bytes.Equal(f, frame) {
			t.Errorf("frame %d is %d bytes, want %d", i, len(f), len(frame))
		}
	}
	if s := h.gadget.Stats(); s.WriteErrors != 0 {
		t.Errorf("WriteErrors = %d, want 0", s.WriteErrors)
	}
}

func TestNew_InvalidTable(t *testing.T) {
	table := testTable(t)
	broken := *table
	broken.Configuration = append([]byte(nil), table.Configuration...)
	broken.Configuration[2]++ // wTotalLength
	if _, err := New(&broken, newFakeSource(false), transport.NewLoopback(0), Options{}); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("New() = %v, want %v", err, ErrInvalidTable)
	}
}
