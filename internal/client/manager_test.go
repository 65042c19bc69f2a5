package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spool/internal/api"
	"spool/internal/client"
	"spool/internal/services"
)

// eventServer fakes the daemon's job endpoints: a scripted frame sequence
// on /events and a fixed record for the poll fallback.
type eventServer struct {
	mu         sync.Mutex
	frames     []api.JobEvent
	hangAfter  bool
	pollRecord api.JobRecord
	pollCalls  atomic.Int32
	release    chan struct{}
}

func newEventServer() *eventServer {
	return &eventServer{release: make(chan struct{})}
}

func (s *eventServer) setFrames(frames ...api.JobEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
}

func (s *eventServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/events"):
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			s.mu.Lock()
			frames := append([]api.JobEvent(nil), s.frames...)
			hang := s.hangAfter
			s.mu.Unlock()
			for _, frame := range frames {
				payload, _ := json.Marshal(frame)
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
			if hang {
				select {
				case <-s.release:
				case <-r.Context().Done():
				}
			}
		case strings.HasPrefix(r.URL.Path, "/api/jobs/"):
			s.pollCalls.Add(1)
			s.mu.Lock()
			record := s.pollRecord
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(record)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
}

func progressFrame(id, status string, percent float64) api.JobEvent {
	return api.JobEvent{Type: "progress", Job: &api.JobRecord{
		ID:       id,
		Status:   status,
		Progress: api.JobProgress{Percent: percent},
	}}
}

type recorder struct {
	mu        sync.Mutex
	progress  []float64
	terminals []api.JobRecord
	errs      []error
}

func (r *recorder) callbacks() client.Callbacks {
	return client.Callbacks{
		OnProgress: func(record api.JobRecord) {
			r.mu.Lock()
			r.progress = append(r.progress, record.Progress.Percent)
			r.mu.Unlock()
		},
		OnTerminal: func(record api.JobRecord) {
			r.mu.Lock()
			r.terminals = append(r.terminals, record)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]float64, []api.JobRecord, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.progress...),
		append([]api.JobRecord(nil), r.terminals...),
		append([]error(nil), r.errs...)
}

func waitDone(t *testing.T, handle *client.Handle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription never resolved")
	}
}

func TestSubscribeDeliversProgressThenTerminalOnce(t *testing.T) {
	server := newEventServer()
	server.setFrames(
		progressFrame("job-1", "queued", 0),
		progressFrame("job-1", "running", 40),
		progressFrame("job-1", "running", 80),
		progressFrame("job-1", "completed", 100),
	)
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	rec := &recorder{}
	manager := client.NewManager(client.New(ts.URL), nil)
	handle, err := manager.Subscribe(context.Background(), "job-1", rec.callbacks())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitDone(t, handle)

	progress, terminals, errs := rec.snapshot()
	if len(terminals) != 1 || terminals[0].Status != "completed" {
		t.Fatalf("terminals = %+v, want exactly one completed", terminals)
	}
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress regressed: %v", progress)
		}
	}
	if manager.Subscribed("job-1") {
		t.Fatal("subscription should be removed after terminal")
	}
}

func TestSubscribeAlreadyTerminalDeliversSynchronously(t *testing.T) {
	server := newEventServer()
	server.setFrames(progressFrame("job-1", "failed", 30))
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	rec := &recorder{}
	manager := client.NewManager(client.New(ts.URL), nil)
	handle, err := manager.Subscribe(context.Background(), "job-1", rec.callbacks())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Terminal delivery happened before Subscribe returned.
	_, terminals, _ := rec.snapshot()
	if len(terminals) != 1 || terminals[0].Status != "failed" {
		t.Fatalf("terminals = %+v", terminals)
	}
	select {
	case <-handle.Done():
	default:
		t.Fatal("handle should already be resolved")
	}
	if manager.Subscribed("job-1") {
		t.Fatal("no table entry expected for synchronous terminal")
	}
}

func TestTerminalCallbackMayReenterManager(t *testing.T) {
	server := newEventServer()
	server.setFrames(progressFrame("job-1", "completed", 100))
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	manager := client.NewManager(client.New(ts.URL), nil)
	cb := client.Callbacks{
		OnTerminal: func(record api.JobRecord) {
			// Cleanup from inside the callback must not deadlock.
			manager.Unsubscribe(record.ID)
			manager.Subscribed(record.ID)
		},
	}

	type result struct {
		handle *client.Handle
		err    error
	}
	results := make(chan result, 1)
	go func() {
		handle, err := manager.Subscribe(context.Background(), "job-1", cb)
		results <- result{handle: handle, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("Subscribe: %v", res.err)
		}
		select {
		case <-res.handle.Done():
		default:
			t.Fatal("handle should already be resolved")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Subscribe blocked on a re-entrant terminal callback")
	}
}

func TestSubscribeIsIdempotentPerJob(t *testing.T) {
	server := newEventServer()
	server.setFrames(progressFrame("job-1", "running", 10))
	server.hangAfter = true
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	rec := &recorder{}
	manager := client.NewManager(client.New(ts.URL), nil)
	first, err := manager.Subscribe(context.Background(), "job-1", rec.callbacks())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := manager.Subscribe(context.Background(), "job-1", rec.callbacks())
	if err != nil {
		t.Fatalf("re-Subscribe: %v", err)
	}
	if first != second {
		t.Fatal("re-subscribe should return the existing handle")
	}

	manager.Unsubscribe("job-1")
	manager.Unsubscribe("job-1")
	waitDone(t, first)

	_, terminals, errs := rec.snapshot()
	if len(terminals) != 0 || len(errs) != 0 {
		t.Fatalf("unsubscribe must not deliver outcomes: terminals=%v errs=%v", terminals, errs)
	}
}

func TestStreamFailurePollsOnceAndDeliversTerminal(t *testing.T) {
	server := newEventServer()
	// Stream ends after a non-terminal frame; the poll says completed.
	server.setFrames(progressFrame("job-1", "running", 50))
	server.pollRecord = api.JobRecord{ID: "job-1", Status: "completed"}
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	rec := &recorder{}
	manager := client.NewManager(client.New(ts.URL), nil)
	handle, err := manager.Subscribe(context.Background(), "job-1", rec.callbacks())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitDone(t, handle)

	_, terminals, errs := rec.snapshot()
	if len(terminals) != 1 || terminals[0].Status != "completed" {
		t.Fatalf("terminals = %+v", terminals)
	}
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if calls := server.pollCalls.Load(); calls != 1 {
		t.Fatalf("poll calls = %d, want exactly 1", calls)
	}
}

func TestStreamFailureWithoutResolutionSurfacesConnectionLost(t *testing.T) {
	server := newEventServer()
	server.setFrames(progressFrame("job-1", "running", 50))
	server.pollRecord = api.JobRecord{ID: "job-1", Status: "running"}
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	rec := &recorder{}
	manager := client.NewManager(client.New(ts.URL), nil)
	handle, err := manager.Subscribe(context.Background(), "job-1", rec.callbacks())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitDone(t, handle)

	_, terminals, errs := rec.snapshot()
	if len(terminals) != 0 {
		t.Fatalf("terminals = %+v, want none", terminals)
	}
	if len(errs) != 1 || !errors.Is(errs[0], services.ErrConnectionLost) {
		t.Fatalf("errs = %v, want one ErrConnectionLost", errs)
	}
	if calls := server.pollCalls.Load(); calls != 1 {
		t.Fatalf("poll calls = %d, want exactly 1", calls)
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "not found: job x"})
	}))
	defer ts.Close()

	manager := client.NewManager(client.New(ts.URL), nil)
	_, err := manager.Subscribe(context.Background(), "x", client.Callbacks{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
