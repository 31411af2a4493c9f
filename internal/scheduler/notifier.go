package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Ping is the payload sent to an agent asking it to acknowledge a task
type Ping struct {
	ID           string    `json:"ping_id"`
	TaskID       uint      `json:"task_id"`
	TaskName     string    `json:"task_name"`
	AssignmentID uint      `json:"assignment_id"`
	AgentID      uint      `json:"agent_id"`
	AgentName    string    `json:"agent_name"`
	Status       string    `json:"assignment_status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sent_at"`
}

// Notifier delivers a ping to an agent endpoint. Implementations must
// honour ctx and return a *TransientIOError when delivery fails.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, ping Ping) error
}

// HTTPNotifier POSTs pings as JSON
type HTTPNotifier struct {
	client *http.Client
}

// NewHTTPNotifier returns a notifier whose requests never outlive timeout
func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{client: &http.Client{Timeout: timeout}}
}

// Notify sends the ping. An empty endpoint means the agent reads the
// notification inbox instead, so there is nothing to send.
func (n *HTTPNotifier) Notify(ctx context.Context, endpoint string, ping Ping) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return &TransientIOError{Endpoint: endpoint, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &TransientIOError{Endpoint: endpoint, Err: fmt.Errorf("unsupported scheme: %s", u.Scheme)}
	}

	body, err := json.Marshal(ping)
	if err != nil {
		return fmt.Errorf("marshal ping: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return &TransientIOError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ping-ID", ping.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return &TransientIOError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	// drain a bounded amount so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransientIOError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}
