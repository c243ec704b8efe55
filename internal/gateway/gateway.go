// Package gateway implements the WebSocket session protocol: hello,
// subscribe deadline, heartbeats and a single subscription per connection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"nowplaying/internal/metrics"
	"nowplaying/internal/models"
	"nowplaying/internal/tracker"
)

const (
	sendBuffer   = 16
	writeWait    = 5 * time.Second
	maxFrameSize = 1024
)

// Subscriptions is the part of the tracker registry a session needs.
type Subscriptions interface {
	Subscribe(ctx context.Context, sub tracker.Subscriber, userID string) (models.Status, error)
	Unsubscribe(sub tracker.Subscriber)
}

type Handler struct {
	subs     Subscriptions
	clock    clockwork.Clock
	upgrader websocket.Upgrader

	// frameNotify receives the op of every processed client frame (tests only)
	frameNotify chan Op
}

type Option func(*Handler)

func WithClock(clock clockwork.Clock) Option {
	return func(h *Handler) { h.clock = clock }
}

// WithCheckOrigin overrides the upgrader's origin check. Overlays are
// embedded on arbitrary sites, so every origin is accepted by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

func NewHandler(subs Subscriptions, opts ...Option) *Handler {
	h := &Handler{
		subs:  subs,
		clock: clockwork.NewRealClock(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(conn, h.clock)
	metrics.GatewayConnections.Inc()
	slog.Debug("gateway session opened", "session", s.id, "remote", r.RemoteAddr)

	// Lookups started by a session outlive it.
	ctx := context.WithoutCancel(r.Context())
	s.start()
	s.readLoop(ctx, h)

	s.stopTimers()
	h.subs.Unsubscribe(s)
	s.shutdown()
	<-s.writerDone
	metrics.GatewayConnections.Dec()
	slog.Debug("gateway session closed", "session", s.id)
}

func (h *Handler) notifyFrame(op Op) {
	if h.frameNotify == nil {
		return
	}
	select {
	case h.frameNotify <- op:
	default:
	}
}

// Session is one gateway connection. It implements tracker.Subscriber.
type Session struct {
	id    string
	conn  *websocket.Conn
	clock clockwork.Clock

	send       chan []byte
	writerDone chan struct{}

	mu             sync.Mutex
	closing        bool
	subscribed     bool
	subscribeTimer clockwork.Timer
	heartbeatTimer clockwork.Timer
}

func newSession(conn *websocket.Conn, clock clockwork.Clock) *Session {
	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		clock:      clock,
		send:       make(chan []byte, sendBuffer),
		writerDone: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Session) start() {
	s.enqueue(Frame{Op: OpHello, D: hello{HeartbeatInterval: HeartbeatInterval.Milliseconds()}})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeTimer = s.clock.AfterFunc(SubscribeDeadline, func() {
		s.mu.Lock()
		subscribed := s.subscribed
		s.mu.Unlock()
		if !subscribed {
			s.fail(ReasonNoInit)
		}
	})
	s.heartbeatTimer = s.clock.AfterFunc(HeartbeatTimeout, func() {
		s.fail(ReasonNoHeartbeat)
	})
}

func (s *Session) readLoop(ctx context.Context, h *Handler) {
	s.conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("gateway read failed", "session", s.id, "error", err)
			}
			return
		}

		op, userID, err := parseFrame(data)
		if err != nil {
			metrics.GatewayFramesReceived.WithLabelValues("invalid").Inc()
			slog.Debug("gateway bad message", "session", s.id, "error", err)
			s.fail(ReasonBadMessage)
			h.notifyFrame(op)
			return
		}
		metrics.GatewayFramesReceived.WithLabelValues(op.String()).Inc()

		switch op {
		case OpHeartbeat:
			s.mu.Lock()
			s.heartbeatTimer.Reset(HeartbeatTimeout)
			s.mu.Unlock()
		case OpSubscribe:
			s.subscribe(ctx, h.subs, userID)
		}
		h.notifyFrame(op)
	}
}

func (s *Session) subscribe(ctx context.Context, subs Subscriptions, userID string) {
	_, err := subs.Subscribe(ctx, s, userID)
	switch {
	case err == nil:
		s.mu.Lock()
		s.subscribed = true
		s.subscribeTimer.Stop()
		s.mu.Unlock()
		slog.Debug("gateway session subscribed", "session", s.id, "user_id", userID)
	case errors.Is(err, tracker.ErrAlreadySubscribed):
		s.fail(ReasonAlreadyInit)
	case errors.Is(err, tracker.ErrUnauthorized):
		slog.Debug("user has not authorized the application", "user_id", userID)
		s.fail(ReasonUnauthorized)
	case errors.Is(err, tracker.ErrTokenRefresh):
		slog.Error("fetching user access token", "user_id", userID, "error", err)
		s.fail(ReasonTokenError)
	default:
		slog.Error("fetching user status", "user_id", userID, "error", err)
		s.fail(ReasonStatusError)
	}
}

// SendStatus queues an OpStatus frame. It never blocks; a client that cannot
// keep up is disconnected.
func (s *Session) SendStatus(status models.Status) {
	s.enqueue(Frame{Op: OpStatus, D: status})
}

func (s *Session) enqueue(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("encoding gateway frame", "op", f.Op, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	select {
	case s.send <- data:
		metrics.GatewayFramesSent.WithLabelValues(f.Op.String()).Inc()
	default:
		slog.Warn("gateway client too slow, disconnecting", "session", s.id)
		metrics.GatewayClosures.WithLabelValues(reasonSlowConsumer).Inc()
		s.closeLocked()
	}
}

// fail sends a final OpError frame and closes the session. A full queue
// loses its oldest frame to make room.
func (s *Session) fail(reason string) {
	data, _ := json.Marshal(Frame{Op: OpError, D: reason})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	metrics.GatewayClosures.WithLabelValues(reason).Inc()
	// Senders hold mu, so once one frame is dropped the error fits.
	select {
	case s.send <- data:
	default:
		select {
		case <-s.send:
		default:
		}
		s.send <- data
	}
	metrics.GatewayFramesSent.WithLabelValues(OpError.String()).Inc()
	s.closeLocked()
}

func (s *Session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing {
		s.closeLocked()
	}
}

func (s *Session) closeLocked() {
	s.closing = true
	close(s.send)
}

func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeTimer != nil {
		s.subscribeTimer.Stop()
	}
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
	}
}

// writeLoop is the only goroutine writing to the connection. It drains the
// queue, then sends a close frame and closes the socket, which ends readLoop.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	defer s.conn.Close()

	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("gateway write failed", "session", s.id, "error", err)
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
