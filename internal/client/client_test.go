package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spool/internal/api"
	"spool/internal/client"
	"spool/internal/services"
)

func TestCreateJobReportsCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req api.CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.URL != "https://youtu.be/dQw4w9WgXcQ" {
			t.Errorf("url = %q", req.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.JobRecord{ID: "job-1", Status: "queued"})
	}))
	defer server.Close()

	c := client.New(server.URL)
	record, created, err := c.CreateJob(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if !created || record.ID != "job-1" {
		t.Fatalf("created = %v, record = %+v", created, record)
	}
}

func TestErrorPayloadsMapToSentinels(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, services.ErrInvalidRequest},
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusConflict, services.ErrInvalidTransition},
	}
	for _, tc := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(api.ErrorResponse{Error: "nope"})
		}))
		c := client.New(server.URL)
		_, err := c.GetJob(context.Background(), "x")
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Fatalf("error should carry server message, got %v", err)
		}
	}
}

func TestUnreachableDaemonIsConnectionLost(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	_, err := c.Health(context.Background())
	if !errors.Is(err, services.ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", err)
	}
}

func TestStreamURLResolution(t *testing.T) {
	c := client.New("http://localhost:5180/")
	record := api.JobRecord{StreamURL: "/api/stream/abc.mp3"}
	if got := c.StreamURL(record); got != "http://localhost:5180/api/stream/abc.mp3" {
		t.Fatalf("StreamURL = %q", got)
	}
	if got := c.StreamURL(api.JobRecord{}); got != "" {
		t.Fatalf("empty record StreamURL = %q", got)
	}
}
