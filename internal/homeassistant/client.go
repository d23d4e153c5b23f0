// Package homeassistant reads calendar events from the Home Assistant REST API.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/normalize"
)

const (
	entityPrefix = "calendar."
	// maxErrorBody caps how much of a failed response is kept in RemoteError.
	maxErrorBody = 512
)

// RemoteError is returned when Home Assistant answers with a non-2xx status.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("home assistant %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("home assistant %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to one Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *appLog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *appLog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for baseURL authenticated with a long-lived token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: appLog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EntityID adds the "calendar." domain to bare calendar names.
func EntityID(calendarID string) string {
	if strings.HasPrefix(calendarID, entityPrefix) {
		return calendarID
	}
	return entityPrefix + calendarID
}

// FetchEvents returns the events of calendarID that overlap w.
func (c *Client) FetchEvents(ctx context.Context, calendarID string, w model.Window) ([]normalize.RawEvent, error) {
	entity := EntityID(calendarID)

	q := url.Values{}
	q.Set("start", w.Start.UTC().Format(time.RFC3339))
	q.Set("end", w.End.UTC().Format(time.RFC3339))
	endpoint := c.baseURL + "/api/calendars/" + url.PathEscape(entity) + "?" + q.Encode()

	c.logger.Debug("home assistant fetch", "entity", entity, "start", w.Start, "end", w.End)

	var events []normalize.RawEvent
	if err := c.getJSON(ctx, "fetch "+entity, endpoint, &events); err != nil {
		return nil, err
	}
	c.logger.Debug("home assistant fetch completed", "entity", entity, "events", len(events))
	return events, nil
}

// TestConnectivity checks that the API answers and the token is accepted.
func (c *Client) TestConnectivity(ctx context.Context) error {
	var status struct {
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "connectivity", c.baseURL+"/api/", &status); err != nil {
		return err
	}
	c.logger.Debug("home assistant reachable", "message", status.Message)
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("home assistant %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("home assistant %s: decode response: %w", op, err)
	}
	return nil
}
