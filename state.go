package gadget

import (
	"fmt"
	"sync"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
)

type StreamState uint8

const (
	StreamOff StreamState = iota
	StreamReady
	StreamOn
)

func (s StreamState) String() string {
	switch s {
	case StreamOff:
		return "off"
	case StreamReady:
		return "ready"
	case StreamOn:
		return "on"
	default:
		return fmt.Sprintf("StreamState(%d)", uint8(s))
	}
}

func (s StreamState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CommitPolicy decides what a COMMIT does to a running stream.
type CommitPolicy uint8

const (
	// CommitApply stores the parameters and keeps streaming.
	CommitApply CommitPolicy = iota
	// CommitRestart stops the stream and makes it ready again, so the
	// streamer starts over with the new parameters.
	CommitRestart
)

func (p CommitPolicy) String() string {
	if p == CommitRestart {
		return "restart"
	}
	return "apply"
}

func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch s {
	case "", "apply":
		return CommitApply, nil
	case "restart":
		return CommitRestart, nil
	}
	return CommitApply, fmt.Errorf("unknown commit policy %q", s)
}

// Transition is one recorded state change.
type Transition struct {
	From       StreamState `json:"from"`
	To         StreamState `json:"to"`
	Reason     string      `json:"reason"`
	Generation uint64      `json:"generation"`
	At         time.Time   `json:"at"`
}

// State is a consistent copy of the session.
type State struct {
	Stream StreamState
	Probe  descriptors.VideoProbeCommitControl
	Commit descriptors.VideoProbeCommitControl
	// Probed is set by a PROBE SET_CUR and cleared by Reset. A COMMIT is
	// only accepted while it is set.
	Probed bool
	// Generation changes every time a stream is started or stopped, so work
	// belonging to an earlier stream can tell it is stale.
	Generation uint64
}

// Session holds the negotiated parameters and the stream state shared by the
// control handler and the streamer. The only way to ON is Promote from READY.
type Session struct {
	mu    sync.Mutex
	state State
	def   descriptors.VideoProbeCommitControl

	// notify is held while observers run so they see transitions in order.
	notify    sync.Mutex
	observers map[int]func(Transition)
	nextID    int
}

func NewSession(def descriptors.VideoProbeCommitControl) *Session {
	return &Session{
		state:     State{Probe: def, Commit: def},
		def:       def,
		observers: make(map[int]func(Transition)),
	}
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the stream state and generation without copying the
// parameter records.
func (s *Session) Current() (StreamState, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Stream, s.state.Generation
}

func (s *Session) SetProbe(p descriptors.VideoProbeCommitControl) {
	s.mu.Lock()
	s.state.Probe = p
	s.state.Probed = true
	s.mu.Unlock()
}

// Commit stores the committed parameters. OFF becomes READY. READY stays
// READY. ON stays ON under CommitApply and goes through OFF back to READY
// under CommitRestart.
func (s *Session) Commit(p descriptors.VideoProbeCommitControl, policy CommitPolicy) (from, to StreamState) {
	s.mu.Lock()
	from = s.state.Stream
	s.state.Commit = p
	var ts []Transition
	switch {
	case from == StreamOff:
		ts = append(ts, s.transition(StreamReady, "commit"))
	case from == StreamOn && policy == CommitRestart:
		ts = append(ts, s.transition(StreamOff, "commit restart"))
		ts = append(ts, s.transition(StreamReady, "commit restart"))
	}
	to = s.state.Stream
	s.publish(ts)
	return from, to
}

// Promote moves READY to ON if the session is still at generation gen.
func (s *Session) Promote(gen uint64) bool {
	s.mu.Lock()
	if s.state.Stream != StreamReady || s.state.Generation != gen {
		s.mu.Unlock()
		return false
	}
	ts := []Transition{s.transition(StreamOn, "promote")}
	s.publish(ts)
	return true
}

// Stop moves READY or ON to OFF. It reports whether a stream was stopped.
func (s *Session) Stop(reason string) bool {
	s.mu.Lock()
	if s.state.Stream == StreamOff {
		s.mu.Unlock()
		return false
	}
	ts := []Transition{s.transition(StreamOff, reason)}
	s.publish(ts)
	return true
}

// Reset stops the stream and restores the default parameters.
func (s *Session) Reset(reason string) {
	s.mu.Lock()
	var ts []Transition
	if s.state.Stream != StreamOff {
		ts = append(ts, s.transition(StreamOff, reason))
	}
	s.state.Probe = s.def
	s.state.Commit = s.def
	s.state.Probed = false
	s.publish(ts)
}

// Subscribe registers fn for every transition. The returned function
// unregisters it. fn must not call back into the session's observers.
func (s *Session) Subscribe(fn func(Transition)) func() {
	s.notify.Lock()
	defer s.notify.Unlock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.notify.Lock()
		delete(s.observers, id)
		s.notify.Unlock()
	}
}

// transition must be called with mu held.
func (s *Session) transition(to StreamState, reason string) Transition {
	t := Transition{From: s.state.Stream, To: to, Reason: reason, At: time.Now()}
	s.state.Stream = to
	if to != StreamOn {
		s.state.Generation++
	}
	t.Generation = s.state.Generation
	return t
}

// publish releases mu and delivers ts in order.
func (s *Session) publish(ts []Transition) {
	if len(ts) == 0 {
		s.mu.Unlock()
		return
	}
	s.notify.Lock()
	s.mu.Unlock()
	defer s.notify.Unlock()
	for _, t := range ts {
		for _, fn := range s.observers {
			fn(t)
		}
	}
}
