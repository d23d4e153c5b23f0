// Package graph mirrors events into a Microsoft 365 calendar through the
// Microsoft Graph REST API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"calmirror/internal/identity"
	appLog "calmirror/internal/log"
	"calmirror/internal/mirror"
	"calmirror/internal/model"
	"calmirror/internal/normalize"
	"calmirror/internal/token"
)

const (
	DefaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultPageSize = 100
	graphTimeLayout = "2006-01-02T15:04:05.0000000"
	preferHeader    = `outlook.timezone="UTC", outlook.body-content-type="text"`
	maxErrorBody    = 1024
	selectFields    = "id,subject,body,location,start,end,isAllDay"
)

// RemoteError is returned when Graph answers with a non-2xx status.
type RemoteError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph %s: status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Settings select the mailbox and calendar to mirror into.
type Settings struct {
	// CalendarID is "primary" (or empty) for the default calendar.
	CalendarID string
	// UserPrincipalName targets /users/{upn}; empty means /me.
	UserPrincipalName string
}

// Client is a mirror.Destination backed by Microsoft Graph.
type Client struct {
	oauth    *oauth2.Config
	store    *token.FileStore
	settings Settings
	codec    identity.Codec

	baseURL  string
	base     *http.Client
	http     *http.Client
	pageSize int

	in     io.Reader
	out    io.Writer
	logger *appLog.Logger

	calendarPath string
	calendarName string
}

var _ mirror.Destination = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the base HTTP client used for token and API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.base = hc
		}
	}
}

// WithBaseURL overrides the Graph API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPrompt sets where the interactive flow reads from and writes to.
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(c *Client) {
		if in != nil {
			c.in = in
		}
		if out != nil {
			c.out = out
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

// New creates a Client. Authenticate must succeed before any calendar call.
func New(oauthCfg *oauth2.Config, store *token.FileStore, settings Settings, codec identity.Codec, opts ...Option) *Client {
	c := &Client{
		oauth:    oauthCfg,
		store:    store,
		settings: settings,
		codec:    codec,
		baseURL:  DefaultBaseURL,
		base:     &http.Client{Timeout: 30 * time.Second},
		pageSize: defaultPageSize,
		in:       os.Stdin,
		out:      os.Stdout,
		logger:   appLog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CalendarName is the display name of the resolved calendar.
func (c *Client) CalendarName() string {
	return c.calendarName
}

func (c *Client) userPath() string {
	if c.settings.UserPrincipalName != "" {
		return "/users/" + url.PathEscape(c.settings.UserPrincipalName)
	}
	return "/me"
}

func (c *Client) resolveCalendar(ctx context.Context) error {
	path := c.userPath() + "/calendar"
	if id := c.settings.CalendarID; id != "" && id != "primary" {
		path = c.userPath() + "/calendars/" + url.PathEscape(id)
	}

	var cal struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+path+"?$select=id,name", nil, &cal, "resolve calendar"); err != nil {
		return err
	}
	c.calendarPath = path
	c.calendarName = cal.Name
	c.logger.Debug("graph calendar resolved", "calendar", cal.Name, "path", path)
	return nil
}

func (c *Client) ready() error {
	if c.http == nil || c.calendarPath == "" {
		return errors.New("graph client is not authenticated")
	}
	return nil
}

// FetchTagged returns mirrored events in w keyed by source uid.
func (c *Client) FetchTagged(ctx context.Context, w model.Window, prefixes []string) (map[string]model.Event, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("startDateTime", w.Start.UTC().Format(time.RFC3339))
	q.Set("endDateTime", w.End.UTC().Format(time.RFC3339))
	q.Set("$top", strconv.Itoa(c.pageSize))
	q.Set("$select", selectFields)
	next := c.baseURL + c.calendarPath + "/calendarView?" + q.Encode()

	norm := normalize.New(time.UTC, c.logger)
	var events []model.Event
	pages := 0
	for next != "" {
		var page struct {
			Value    []graphEvent `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, http.MethodGet, next, nil, &page, "list events"); err != nil {
			return nil, err
		}
		pages++
		for _, ge := range page.Value {
			if !model.HasAnyPrefix(ge.Subject, prefixes) {
				continue
			}
			ev, err := ge.toModel(norm)
			if err != nil {
				c.logger.Warn("skipping destination event", "destination_id", ge.ID, "err", err)
				continue
			}
			events = append(events, ev)
		}
		next = page.NextLink
	}

	c.logger.Debug("graph calendar view fetched", "pages", pages, "tagged", len(events))
	return identity.Index(events, prefixes, c.codec, c.logger), nil
}

// Create inserts ev and returns its Graph id.
func (c *Client) Create(ctx context.Context, ev model.Event) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var created graphEvent
	if err := c.do(ctx, http.MethodPost, c.baseURL+c.calendarPath+"/events", fromModel(ev), &created, "create event"); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Update rewrites the event destinationID with ev.
func (c *Client) Update(ctx context.Context, destinationID string, ev model.Event) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, c.eventURL(destinationID), fromModel(ev), nil, "update event")
}

// Delete removes destinationID. A 404 reports false without error.
func (c *Client) Delete(ctx context.Context, destinationID string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	err := c.do(ctx, http.MethodDelete, c.eventURL(destinationID), nil, nil, "delete event")
	var remote *RemoteError
	if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) eventURL(id string) string {
	return c.baseURL + c.userPath() + "/events/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any, op string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("graph %s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", preferHeader)
	if id := mirror.PassID(ctx); id != "" {
		req.Header.Set("client-request-id", id)
	}

	hc := c.http
	if hc == nil {
		return errors.New("graph client is not authenticated")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("graph %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph %s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	remote := &RemoteError{Op: op, StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
		remote.Code = envelope.Error.Code
		remote.Message = envelope.Error.Message
	} else {
		remote.Message = strings.TrimSpace(string(data))
	}
	return remote
}
