package switchpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the streaming API.
type StreamConfig struct {
	// Enabled turns on WebSocket streaming
	Enabled bool `yaml:"enabled"`
	// BufferSize is the channel buffer size per subscription
	BufferSize int `yaml:"buffer_size"`
	// WriteTimeout for WebSocket writes
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
	}
}

// StreamFilter selects which analyses a subscription receives.
type StreamFilter struct {
	// MinProbability drops analyses whose detected shift has a lower
	// posterior probability
	MinProbability float64 `json:"min_probability,omitempty"`
	// OnlyPositive keeps only analyses where the two-segment model
	// beats the single-rate model (log Bayes factor above zero)
	OnlyPositive bool `json:"only_positive,omitempty"`
}

// Subscription represents an active stream subscription.
type Subscription struct {
	ID      string
	Filter  StreamFilter
	ch      chan *Analysis
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
	created time.Time
}

// C returns the channel for receiving analyses.
func (s *Subscription) C() <-chan *Analysis {
	return s.ch
}

// Close closes the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// StreamHub broadcasts completed analyses to subscribers.
type StreamHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
}

// NewStreamHub creates a new streaming hub.
func NewStreamHub(cfg StreamConfig) *StreamHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &StreamHub{
		config: cfg,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe creates a new subscription with the given filter.
func (h *StreamHub) Subscribe(filter StreamFilter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)

	sub := &Subscription{
		ID:      id,
		Filter:  filter,
		ch:      make(chan *Analysis, h.config.BufferSize),
		done:    make(chan struct{}),
		created: time.Now(),
	}

	h.subs[id] = sub
	streamClientsActive.Inc()
	return sub
}

// Unsubscribe removes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		streamClientsActive.Dec()
		sub.Close()
	}
}

// Publish sends an analysis to all matching subscriptions. Slow
// subscribers with full buffers miss the analysis rather than block
// the publisher.
func (h *StreamHub) Publish(a *Analysis) {
	if a == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchesFilter(sub.Filter, a) {
			continue
		}

		select {
		case sub.ch <- a:
		default:
			// Buffer full, drop the analysis
		}
	}
}

// matchesFilter checks if an analysis passes a subscription filter.
func matchesFilter(f StreamFilter, a *Analysis) bool {
	if a.Changepoint.Probability < f.MinProbability {
		return false
	}
	if f.OnlyPositive && !(a.Comparison.LogBayesFactor > 0) {
		return false
	}
	return true
}

// Count returns the number of active subscriptions.
func (h *StreamHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// List returns all active subscription IDs.
func (h *StreamHub) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

// WebSocket handling

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON format for WebSocket messages.
type StreamMessage struct {
	Type     string        `json:"type"`
	Filter   *StreamFilter `json:"filter,omitempty"`
	Analysis *Analysis     `json:"analysis,omitempty"`
	SubID    string        `json:"sub_id,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// WebSocketHandler returns an HTTP handler for WebSocket connections.
func (h *StreamHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Map of active subscriptions for this connection
		connSubs := make(map[string]*Subscription)
		var connMu sync.Mutex

		// Read commands from client
		go func() {
			defer cancel()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}

				var cmd StreamMessage
				if err := json.Unmarshal(msg, &cmd); err != nil {
					h.sendError(conn, "invalid message format")
					continue
				}

				switch cmd.Type {
				case "subscribe":
					var filter StreamFilter
					if cmd.Filter != nil {
						filter = *cmd.Filter
					}
					sub := h.Subscribe(filter)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()

					_ = h.send(conn, StreamMessage{
						Type:  "subscribed",
						SubID: sub.ID,
					})

					// Start forwarding analyses for this subscription
					go h.forwardAnalyses(ctx, conn, sub)

				case "unsubscribe":
					connMu.Lock()
					if sub, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(sub.ID)
					}
					connMu.Unlock()

					_ = h.send(conn, StreamMessage{
						Type:  "unsubscribed",
						SubID: cmd.SubID,
					})

				default:
					h.sendError(conn, "unknown command: "+cmd.Type)
				}
			}
		}()

		// Wait for context cancellation
		<-ctx.Done()

		// Cleanup subscriptions
		connMu.Lock()
		for _, sub := range connSubs {
			h.Unsubscribe(sub.ID)
		}
		connMu.Unlock()
	}
}

func (h *StreamHub) forwardAnalyses(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case a, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := h.send(conn, StreamMessage{
				Type:     "analysis",
				SubID:    sub.ID,
				Analysis: a,
			}); err != nil {
				return
			}
		}
	}
}

func (h *StreamHub) send(conn *websocket.Conn, msg StreamMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (h *StreamHub) sendError(conn *websocket.Conn, msg string) {
	_ = h.send(conn, StreamMessage{
		Type:  "error",
		Error: msg,
	})
}
