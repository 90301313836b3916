// Package status queries the hosting provider's public status endpoint for the
// server's current occupancy.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// maxBody caps the decoded response; the endpoint returns a few hundred bytes.
const maxBody = 1 << 20

// ServerStatus is one observation of the server. Never persisted.
type ServerStatus struct {
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	Online      bool      `json:"online"`
	Name        string    `json:"name,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

var ErrStatus = errors.New("unexpected status code")

// ProbeError reports a failed status fetch. The caller retries; it is never
// surfaced to players.
type ProbeError struct {
	URL  string
	Code int // HTTP status, 0 when no response was received
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("status probe %s: %d: %v", e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("status probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Config is the immutable probe configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client fetches ServerStatus over HTTP.
type Client struct {
	url  string
	http *http.Client
	now  func() time.Time
}

// NewClient builds a Client. hc may be nil.
func NewClient(cfg Config, hc *http.Client) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{}
	}
	cp := *hc
	cp.Timeout = timeout
	return &Client{url: strings.TrimSpace(cfg.URL), http: &cp, now: time.Now}
}

type queryResponse struct {
	Online         *bool  `json:"online"`
	CurrentPlayers *int   `json:"currentPlayers"`
	MaxPlayers     int    `json:"maxPlayers"`
	Name           string `json:"name"`
}

// Probe performs one GET. A missing currentPlayers field counts as zero
// players; negative counts are clamped to zero.
func (c *Client) Probe(ctx context.Context) (ServerStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return ServerStatus{}, &ProbeError{URL: c.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ServerStatus{}, &ProbeError{URL: c.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return ServerStatus{}, &ProbeError{URL: c.url, Code: resp.StatusCode, Err: ErrStatus}
	}

	var q queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&q); err != nil {
		return ServerStatus{}, &ProbeError{URL: c.url, Code: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}

	st := ServerStatus{
		MaxPlayers: q.MaxPlayers,
		Name:       q.Name,
		Online:     true,
		ObservedAt: c.now(),
	}
	if q.CurrentPlayers != nil && *q.CurrentPlayers > 0 {
		st.PlayerCount = *q.CurrentPlayers
	}
	if q.Online != nil {
		st.Online = *q.Online
	}
	return st, nil
}
