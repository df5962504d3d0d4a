// Package gateway bridges WebSocket connections to the subscription registry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localrivet/sharedcontext/internal/errortypes"
	"github.com/localrivet/sharedcontext/internal/service"
	"github.com/localrivet/sharedcontext/internal/subscription"
)

// DefaultWriteTimeout bounds a single write to a subscriber.
const DefaultWriteTimeout = 5 * time.Second

var errSinkClosed = errors.New("subscriber connection closed")

// ContextLookup reports whether a context exists.
type ContextLookup interface {
	ContextExists(ctx context.Context, contextID string) (bool, error)
}

// Gateway accepts subscription connections and publishes entry updates.
type Gateway struct {
	registry     *subscription.Registry
	lookup       ContextLookup
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	active map[*wsSink]struct{}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWriteTimeout sets the per-message write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway delivering through registry.
func New(registry *subscription.Registry, lookup ContextLookup, opts ...Option) *Gateway {
	g := &Gateway{
		registry:     registry,
		lookup:       lookup,
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
		active:       make(map[*wsSink]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// wsSink delivers messages over one WebSocket connection. Writes are serialized.
type wsSink struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
	closed  bool
}

func (s *wsSink) Deliver(msg subscription.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// ServeSubscribe upgrades the request and streams updates for contextID
// until the peer goes away. It returns an error only when nothing has been
// written to w, so the caller can still send an error response; an unknown
// context is reported this way before the upgrade.
func (g *Gateway) ServeSubscribe(w http.ResponseWriter, r *http.Request, contextID string) error {
	exists, err := g.lookup.ContextExists(r.Context(), contextID)
	if err != nil {
		return err
	}
	if !exists {
		return errortypes.ContextNotFound(contextID)
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		g.logger.Warn("WebSocket upgrade failed", "context_id", contextID, "error", err)
		return nil
	}

	sink := &wsSink{conn: conn, timeout: g.writeTimeout}
	g.mu.Lock()
	g.active[sink] = struct{}{}
	g.mu.Unlock()

	subID := g.registry.Subscribe(contextID, sink)
	g.logger.Info("Subscriber connected", "context_id", contextID, "subscription_id", subID)

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			g.registry.Unsubscribe(contextID, subID)
			sink.close()
			g.mu.Lock()
			delete(g.active, sink)
			g.mu.Unlock()
			g.logger.Info("Subscriber disconnected", "context_id", contextID, "subscription_id", subID)
		})
	}
	defer teardown()

	// Inbound messages are ignored; reading drives ping/pong and close handling.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("Subscriber read error", "context_id", contextID, "error", err)
			}
			return nil
		}
	}
}

// PublishEntry broadcasts a committed entry to the subscribers of contextID
// and returns the number of successful deliveries.
func (g *Gateway) PublishEntry(contextID string, entry service.EntryView) int {
	msg := subscription.Message{
		Type:      subscription.MessageTypeUpdate,
		ID:        entry.ID,
		Content:   entry.Content,
		Timestamp: entry.Timestamp,
	}
	n := g.registry.Broadcast(contextID, msg)
	g.logger.Debug("Entry published", "context_id", contextID, "entry_id", entry.ID, "delivered", n)
	return n
}

// Close disconnects every subscriber and clears the registry.
func (g *Gateway) Close() {
	g.mu.Lock()
	sinks := make([]*wsSink, 0, len(g.active))
	for s := range g.active {
		sinks = append(sinks, s)
	}
	g.mu.Unlock()

	for _, s := range sinks {
		s.close()
	}
	g.registry.ClearAll()
}
