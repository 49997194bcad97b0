package monitor

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
	gadget "github.com/kevmo314/go-uvc-gadget"
)

const (
	EventTransition = "transition"
	EventStats      = "stats"

	writeWait = 2 * time.Second
	// transitions queued for a slow client before new ones are dropped.
	eventBacklog = 32
)

// Event is one message on /api/v1/events.
type Event struct {
	Type       string                `json:"type"`
	Transition *gadget.Transition    `json:"transition,omitempty"`
	Stats      *gadget.StatsSnapshot `json:"stats,omitempty"`
}

// events upgrades to a WebSocket and pushes every state transition plus the
// counters each StatsInterval. The first message is always a stats event, so
// a client knows it is subscribed once it has read one.
func (s *Server) events(ctx iris.Context) {
	ws, err := s.upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	transitions := make(chan gadget.Transition, eventBacklog)
	unsubscribe := s.g.Subscribe(func(t gadget.Transition) {
		select {
		case transitions <- t:
		default:
		}
	})
	defer unsubscribe()

	// the client never sends anything, reading only notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	remote := ctx.RemoteAddr()
	s.log.Debug("event stream opened", "remote", remote)
	defer s.log.Debug("event stream closed", "remote", remote)

	send := func(e Event) bool {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(e); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("event write failed", "remote", remote, "error", err)
			}
			return false
		}
		return true
	}
	stats := func() Event {
		st := s.g.Stats()
		return Event{Type: EventStats, Stats: &st}
	}

	if !send(stats()) {
		return
	}
	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.done:
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(writeWait))
			return
		case t := <-transitions:
			if !send(Event{Type: EventTransition, Transition: &t}) {
				return
			}
		case <-ticker.C:
			if !send(stats()) {
				return
			}
		}
	}
}
