package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spool/internal/logging"
	"spool/internal/queue"
)

// EventType discriminates the frames a subscriber receives.
type EventType string

const (
	// EventProgress carries a job snapshot after a state mutation.
	EventProgress EventType = "progress"
	// EventHeartbeat signals liveness while a job has no state change.
	EventHeartbeat EventType = "heartbeat"
)

// Event is one frame delivered to subscribers of a job.
type Event struct {
	Type EventType
	Job  *queue.Job
}

// Terminal reports whether this frame ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventProgress && e.Job != nil && e.Job.Terminal()
}

// Subscription is one subscriber's view of a job's event stream. The channel
// closes after a terminal frame or an explicit Close.
type Subscription struct {
	hub   *Hub
	jobID string
	id    uint64
	ch    chan Event

	closeOnce sync.Once
}

// Events returns the receive channel for this subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber. Idempotent; it never affects the job.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans job events out to per-job subscriber sets. Each subscriber owns a
// bounded channel; a full channel drops the frame rather than blocking the
// publisher. A terminal frame closes every subscription for that job exactly
// once.
type Hub struct {
	buffer    int
	heartbeat time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic
	nextID uint64
}

type topic struct {
	subs     map[uint64]*Subscription
	lastSent time.Time
}

// NewHub constructs a hub. buffer bounds each subscriber channel; heartbeat
// is the idle interval between liveness frames.
func NewHub(buffer int, heartbeat time.Duration, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		buffer:    buffer,
		heartbeat: heartbeat,
		logger:    logging.WithComponent(logger, "broadcast"),
		topics:    make(map[string]*topic),
	}
}

// Subscribe attaches a new subscriber to a job's stream.
func (h *Hub) Subscribe(jobID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription), lastSent: time.Now()}
		h.topics[jobID] = t
	}

	h.nextID++
	sub := &Subscription{
		hub:   h,
		jobID: jobID,
		id:    h.nextID,
		ch:    make(chan Event, h.buffer),
	}
	t.subs[sub.id] = sub
	return sub
}

// Publish fans a job snapshot out to the job's subscribers in call order.
// A terminal snapshot closes the topic.
func (h *Hub) Publish(job *queue.Job) {
	if job == nil {
		return
	}

	h.mu.Lock()
	t, ok := h.topics[job.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	t.lastSent = time.Now()
	event := Event{Type: EventProgress, Job: job}
	for _, sub := range t.subs {
		h.sendLocked(sub, event)
	}
	if job.Terminal() {
		for _, sub := range t.subs {
			h.closeLocked(sub)
		}
		delete(h.topics, job.ID)
	}
	h.mu.Unlock()
}

// SubscriberCount reports the number of live subscribers for a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[jobID]
	if !ok {
		return 0
	}
	return len(t.subs)
}

// Run emits heartbeat frames to subscribers of idle jobs until the context
// is cancelled. Intended to run as a daemon goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case now := <-ticker.C:
			h.emitHeartbeats(now)
		}
	}
}

func (h *Hub) emitHeartbeats(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.topics {
		if now.Sub(t.lastSent) < h.heartbeat {
			continue
		}
		t.lastSent = now
		for _, sub := range t.subs {
			h.sendLocked(sub, Event{Type: EventHeartbeat})
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, t := range h.topics {
		for _, sub := range t.subs {
			h.closeLocked(sub)
		}
		delete(h.topics, jobID)
	}
}

// sendLocked performs a non-blocking delivery. Slow subscribers lose frames
// instead of stalling the publisher; the store remains the source of truth.
func (h *Hub) sendLocked(sub *Subscription, event Event) {
	select {
	case sub.ch <- event:
	default:
		h.logger.Debug("dropped event for slow subscriber",
			logging.String(logging.FieldJobID, sub.jobID),
			logging.String("event_type", string(event.Type)))
	}
}

func (h *Hub) closeLocked(sub *Subscription) {
	sub.closeOnce.Do(func() {
		close(sub.ch)
	})
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[sub.jobID]; ok {
		delete(t.subs, sub.id)
		if len(t.subs) == 0 {
			delete(h.topics, sub.jobID)
		}
	}
	h.closeLocked(sub)
}
