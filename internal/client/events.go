package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"spool/internal/api"
	"spool/internal/services"
)

// EventStream reads server-sent event frames for one job.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// StreamEvents opens the event stream for a job. The first frame is always
// the job's current record.
func (c *Client) StreamEvents(ctx context.Context, id string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Event streams outlive any sane request timeout; rely on the context.
	httpClient := &http.Client{Transport: c.http.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, connectionError("stream events", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeResponse(resp, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)
	return &EventStream{body: resp.Body, scanner: scanner}, nil
}

// Next blocks until the next frame arrives. It returns io.EOF when the
// server ends the stream and ErrConnectionLost on a broken transport.
func (s *EventStream) Next() (api.JobEvent, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event api.JobEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return api.JobEvent{}, services.Wrap(services.ErrConnectionLost, "client", "stream events", "malformed frame", err)
		}
		return event, nil
	}
	if err := s.scanner.Err(); err != nil {
		return api.JobEvent{}, services.Wrap(services.ErrConnectionLost, "client", "stream events", "stream interrupted", err)
	}
	return api.JobEvent{}, io.EOF
}

// Close releases the underlying connection.
func (s *EventStream) Close() error {
	return s.body.Close()
}
