package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"spool/internal/api"
	"spool/internal/logging"
	"spool/internal/services"
)

// Callbacks receives a subscription's lifecycle notifications. OnTerminal
// fires exactly once per job; OnError fires instead when the job's outcome
// could not be determined.
type Callbacks struct {
	OnProgress func(api.JobRecord)
	OnTerminal func(api.JobRecord)
	OnError    func(error)
}

// Handle identifies one live subscription.
type Handle struct {
	jobID string
	done  chan struct{}
}

// Done closes when the subscription has fully resolved: terminal delivered,
// error surfaced, or unsubscribed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Manager owns client-side job subscriptions: at most one live stream per
// job ID, exactly-once terminal delivery, and a single authoritative poll
// when a stream fails mid-job.
type Manager struct {
	client *Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	handle *Handle
	cancel context.CancelFunc
}

// NewManager constructs a subscription manager over an API client.
func NewManager(apiClient *Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		client: apiClient,
		logger: logging.WithComponent(logger, "subscriptions"),
		subs:   make(map[string]*subscription),
	}
}

// Subscribe attaches to a job's event stream. Subscribing to a job that is
// already terminal delivers OnTerminal synchronously and returns a resolved
// handle. Subscribing to an already-subscribed job returns the existing
// handle without side effects.
//
// The table entry is reserved before connecting and no callback runs under
// the manager lock, so callbacks may call back into the manager
// (Unsubscribe being the usual case) and a slow connect never blocks other
// subscriptions.
func (m *Manager) Subscribe(ctx context.Context, jobID string, cb Callbacks) (*Handle, error) {
	handle := &Handle{jobID: jobID, done: make(chan struct{})}
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if existing, ok := m.subs[jobID]; ok {
		m.mu.Unlock()
		cancel()
		return existing.handle, nil
	}
	m.subs[jobID] = &subscription{handle: handle, cancel: cancel}
	m.mu.Unlock()

	stream, err := m.client.StreamEvents(runCtx, jobID)
	if err != nil {
		m.remove(jobID, handle)
		cancel()
		close(handle.done)
		return nil, err
	}

	// The first frame is the current record.
	first, err := m.firstRecord(runCtx, jobID, stream)
	if err != nil {
		stream.Close()
		m.remove(jobID, handle)
		cancel()
		close(handle.done)
		return nil, err
	}

	if first.Terminal() {
		stream.Close()
		m.remove(jobID, handle)
		cancel()
		m.deliverTerminal(first, cb)
		close(handle.done)
		return handle, nil
	}
	if cb.OnProgress != nil {
		cb.OnProgress(first)
	}

	go func() {
		<-runCtx.Done()
		stream.Close()
	}()
	go m.run(runCtx, jobID, stream, cb, handle)
	return handle, nil
}

// remove drops the table entry if it still belongs to this handle.
func (m *Manager) remove(jobID string, handle *Handle) {
	m.mu.Lock()
	if sub, ok := m.subs[jobID]; ok && sub.handle == handle {
		delete(m.subs, jobID)
	}
	m.mu.Unlock()
}

// Unsubscribe detaches from a job's stream. Idempotent; it never cancels
// the job itself.
func (m *Manager) Unsubscribe(jobID string) {
	m.mu.Lock()
	sub, ok := m.subs[jobID]
	if ok {
		delete(m.subs, jobID)
	}
	m.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// Subscribed reports whether a live stream exists for the job.
func (m *Manager) Subscribed(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[jobID]
	return ok
}

// firstRecord reads the seed frame, skipping any heartbeat that raced in.
// A stream that breaks before the seed falls back to one authoritative poll.
func (m *Manager) firstRecord(ctx context.Context, jobID string, stream *EventStream) (api.JobRecord, error) {
	for {
		event, err := stream.Next()
		if err != nil {
			stream.Close()
			record, pollErr := m.client.GetJob(ctx, jobID)
			if pollErr != nil {
				return api.JobRecord{}, services.Wrap(services.ErrConnectionLost, "subscriptions", "subscribe", "job "+jobID, err)
			}
			if record.Terminal() {
				return record, nil
			}
			return api.JobRecord{}, services.Wrap(services.ErrConnectionLost, "subscriptions", "subscribe", "job "+jobID, err)
		}
		if event.Type == "progress" && event.Job != nil {
			return *event.Job, nil
		}
	}
}

func (m *Manager) run(ctx context.Context, jobID string, stream *EventStream, cb Callbacks, handle *Handle) {
	defer func() {
		stream.Close()
		m.remove(jobID, handle)
		close(handle.done)
	}()

	for {
		event, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.resolveAfterFailure(ctx, jobID, cb, err)
			return
		}

		switch event.Type {
		case "heartbeat":
			continue
		case "progress":
			if event.Job == nil {
				continue
			}
			if event.Job.Terminal() {
				m.deliverTerminal(*event.Job, cb)
				return
			}
			if cb.OnProgress != nil {
				cb.OnProgress(*event.Job)
			}
		}
	}
}

// resolveAfterFailure performs the single authoritative poll after a broken
// stream: a terminal record resolves the subscription normally, anything
// else surfaces ErrConnectionLost.
func (m *Manager) resolveAfterFailure(ctx context.Context, jobID string, cb Callbacks, cause error) {
	if errors.Is(cause, io.EOF) {
		// Server closed without a terminal frame; the poll decides.
		m.logger.Debug("stream ended without terminal frame", logging.JobID(jobID))
	} else {
		m.logger.Warn("event stream failed, polling once", logging.JobID(jobID), logging.Error(cause))
	}

	record, err := m.client.GetJob(ctx, jobID)
	if err == nil && record.Terminal() {
		m.deliverTerminal(record, cb)
		return
	}
	if cb.OnError != nil {
		cb.OnError(services.Wrap(services.ErrConnectionLost, "subscriptions", "stream", "job "+jobID, cause))
	}
}

func (m *Manager) deliverTerminal(record api.JobRecord, cb Callbacks) {
	if cb.OnTerminal != nil {
		cb.OnTerminal(record)
	}
}
