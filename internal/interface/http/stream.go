package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE STREAM
// One websocket per session, fed by the child hub. Delivery is at-least-once:
// a client that falls behind is disconnected and re-reads current state on
// reconnect. Every message carries the event ID so clients can drop repeats.
// ══════════════════════════════════════════════════════════════════════════════

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamReadLimit  = 4096
	streamReadyEvent = "stream.ready"
)

// StreamMessage is one frame on the change stream.
type StreamMessage struct {
	ID         string                 `json:"id,omitempty"`
	Type       string                 `json:"type"`
	ChildID    string                 `json:"child_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

func newStreamMessage(event shared.Event) StreamMessage {
	return StreamMessage{
		ID:         event.EventID(),
		Type:       string(event.EventType()),
		ChildID:    event.AggregateID(),
		OccurredAt: event.OccurredAt(),
		Payload:    event.Payload(),
	}
}

// handleStream handles GET /v1/children/{childID}/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	childID := r.PathValue("childID")
	if !gate(s.deps.Realtime, childID) {
		writeJSONError(w, http.StatusForbidden, "feature_disabled", "Realtime sync is not enabled for this child")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.FromContext(r.Context()).Warn("websocket upgrade failed", "child_id", childID, "error", err)
		return
	}

	queue := make(chan StreamMessage, streamBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	sub, err := s.deps.Hub.SubscribeChild(childID, func(event shared.Event) {
		select {
		case queue <- newStreamMessage(event):
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(streamWriteWait))
		_ = conn.Close()
		return
	}

	s.streams.add(conn)
	s.deps.Metrics.StreamOpened()
	log := logger.FromContext(r.Context()).With("child_id", childID)
	log.Info("stream opened")

	defer func() {
		sub.Unsubscribe()
		s.streams.remove(conn)
		_ = conn.Close()
		s.deps.Metrics.StreamClosed()
		log.Info("stream closed")
	}()

	done := make(chan struct{})
	go s.readPump(conn, done)

	if err := s.writeFrame(conn, StreamMessage{Type: streamReadyEvent, ChildID: childID, OccurredAt: time.Now().UTC()}); err != nil {
		return
	}

	ping := time.NewTicker(s.config.StreamPing)
	defer ping.Stop()

	for {
		select {
		case msg := <-queue:
			if err := s.writeFrame(conn, msg); err != nil {
				log.Debug("stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-overflow:
			log.Warn("stream consumer too slow, closing")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync required"),
				time.Now().Add(streamWriteWait))
			return
		case <-done:
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}

// readPump consumes client frames so control messages are processed, and
// closes done when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	wait := 2 * s.config.StreamPing
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAM REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

type streamRegistry struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{conns: make(map[*websocket.Conn]struct{})}
}

func (r *streamRegistry) add(c *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *streamRegistry) remove(c *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

func (r *streamRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// closeAll sends a going-away frame to every open stream and closes it.
func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}
