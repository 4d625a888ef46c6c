package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Subscription is one observer's handle on the hub. Events arrive on the
// channel returned by Events; the subscription ends when the observer is
// unsubscribed or reaped.
type Subscription struct {
	id      string
	channel *eventChannel
}

// ID returns the observer handle used with Unsubscribe and Heartbeat.
func (s *Subscription) ID() string {
	return s.id
}

// Receive blocks for the next event. The second return is false when the
// subscription is closed or ctx ends.
func (s *Subscription) Receive(ctx context.Context) (Event, bool) {
	return s.channel.Receive(ctx)
}

type registration struct {
	channel  *eventChannel
	lastSeen time.Time
}

// Hub broadcasts generation events to all current subscribers. Each
// subscriber owns a bounded buffer; when it is full the event is dropped for
// that subscriber and logged, never retried. The hub buffers nothing for
// disconnected observers: a reconnecting client resubscribes and resyncs
// from a point-in-time session query.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]*registration
	inflight   string
	bufferSize int
	logger     *slog.Logger
	metrics    *Metrics
}

// NewHub creates a Hub. bufferSize <= 0 selects the default per-subscriber
// buffer.
func NewHub(logger *slog.Logger, bufferSize int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		subs:       make(map[string]*registration),
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    NewMetrics(),
	}
}

// Subscribe registers a new observer and returns its subscription. A
// mid-generation subscriber receives only subsequent events; InFlight tells
// it which generation those events belong to.
func (h *Hub) Subscribe() *Subscription {
	id := uuid.Must(uuid.NewV7()).String()
	reg := &registration{
		channel:  newEventChannel(h.bufferSize),
		lastSeen: time.Now(),
	}

	h.mu.Lock()
	h.subs[id] = reg
	h.mu.Unlock()

	h.metrics.RecordObserver(1)
	h.logger.Debug("observer subscribed", slog.String("observer_id", id))
	return &Subscription{id: id, channel: reg.channel}
}

// Unsubscribe removes an observer and closes its channel.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	reg, exists := h.subs[id]
	if exists {
		delete(h.subs, id)
		reg.channel.Close()
	}
	h.mu.Unlock()

	if !exists {
		return fmt.Errorf("observer not found: %s", id)
	}

	h.metrics.RecordObserver(-1)
	h.logger.Debug("observer unsubscribed", slog.String("observer_id", id))
	return nil
}

// Broadcast delivers an event to every current subscriber without blocking.
// An observer whose buffer is full misses the event; terminal events are
// logged at warning level when dropped, step events at debug.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, reg := range h.subs {
		if reg.channel.TrySend(ev) {
			h.metrics.RecordDelivered(1)
			continue
		}
		h.metrics.RecordDropped(1)
		level := slog.LevelDebug
		if ev.Terminal() {
			level = slog.LevelWarn
		}
		h.logger.Log(context.Background(), level, "dropped event for slow observer",
			slog.String("observer_id", id),
			slog.String("type", string(ev.Type)),
			slog.String("generation_id", ev.GenerationID),
			slog.Int("queue_length", reg.channel.QueueLength()),
		)
	}
}

// SetInFlight records the generation currently streaming, or clears it with
// an empty id.
func (h *Hub) SetInFlight(generationID string) {
	h.mu.Lock()
	h.inflight = generationID
	h.mu.Unlock()
}

// InFlight returns the id of the generation currently streaming, or "".
func (h *Hub) InFlight() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inflight
}

// Heartbeat marks an observer as alive.
func (h *Hub) Heartbeat(id string) {
	h.mu.Lock()
	if reg, exists := h.subs[id]; exists {
		reg.lastSeen = time.Now()
	}
	h.mu.Unlock()
}

// ReapIdle drops observers that have not heartbeated within maxIdle and
// returns how many were removed.
func (h *Hub) ReapIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	h.mu.Lock()
	var reaped []string
	for id, reg := range h.subs {
		if reg.lastSeen.Before(cutoff) {
			delete(h.subs, id)
			reg.channel.Close()
			reaped = append(reaped, id)
		}
	}
	h.mu.Unlock()

	for _, id := range reaped {
		h.metrics.RecordObserver(-1)
		h.logger.Debug("reaped idle observer", slog.String("observer_id", id))
	}
	return len(reaped)
}

// ObserverCount returns the number of current subscribers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Metrics returns a snapshot of delivery counters.
func (h *Hub) Metrics() MetricsSnapshot {
	return h.metrics.Snapshot()
}
