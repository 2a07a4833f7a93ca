// Package client is a small HTTP client for the dialer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a dialer API server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Message extracts the server's error text when the body is the usual JSON
// envelope.
func (e *APIError) Message() string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err == nil && env.Error != "" {
		return env.Error
	}
	return e.Body
}

// ContactInput is one contact of a list import.
type ContactInput struct {
	Name         string         `json:"name" yaml:"name"`
	Phones       []string       `json:"phones" yaml:"phones"`
	Organization string         `json:"organization,omitempty" yaml:"organization"`
	Properties   map[string]any `json:"properties,omitempty" yaml:"properties"`
}

// CreateListRequest imports a contact list.
type CreateListRequest struct {
	Name     string         `json:"name" yaml:"name"`
	Contacts []ContactInput `json:"contacts" yaml:"contacts"`
}

// List is contact list metadata.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is a dialable person.
type Contact struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Phones          []string       `json:"phones"`
	Organization    string         `json:"organization,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	DialAttempts    int            `json:"dial_attempts"`
	LastAttemptedAt *time.Time     `json:"last_attempted_at,omitempty"`
}

// Line is the state of one concurrent dial slot.
type Line struct {
	Slot        int        `json:"slot"`
	Status      string     `json:"status"`
	Contact     *Contact   `json:"contact,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	CallerID    string     `json:"caller_id,omitempty"`
	AttemptID   string     `json:"attempt_id,omitempty"`
	Batch       int        `json:"batch,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Script      string     `json:"script,omitempty"`
}

// QueuedContact is a contact waiting in a run's queue.
type QueuedContact struct {
	Contact
	AttemptedToday bool `json:"attempted_today"`
	DeadLead       bool `json:"dead_lead"`
}

// Queue summarises the contacts a run still has to dial.
type Queue struct {
	Depth          int             `json:"depth"`
	Fresh          int             `json:"fresh"`
	AttemptedToday int             `json:"attempted_today"`
	Exhausted      int             `json:"exhausted"`
	Contacts       []QueuedContact `json:"contacts"`
}

// Run is a point-in-time view of a dialer run.
type Run struct {
	ID                  string     `json:"id"`
	ListID              string     `json:"list_id,omitempty"`
	Status              string     `json:"status"`
	Concurrency         int        `json:"concurrency"`
	CallerIDStrategy    string     `json:"caller_id_strategy,omitempty"`
	CallerIDs           []string   `json:"caller_ids,omitempty"`
	AwaitingDisposition bool       `json:"awaiting_disposition"`
	GateSlot            *int       `json:"gate_slot,omitempty"`
	Batches             int        `json:"batches"`
	Lines               []Line     `json:"lines"`
	Queue               Queue      `json:"queue"`
	Warnings            []string   `json:"warnings,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	Archived            bool       `json:"archived,omitempty"`
}

// StartRunRequest configures a run start.
type StartRunRequest struct {
	ListID           string   `json:"list_id"`
	Concurrency      int      `json:"concurrency"`
	CallerIDStrategy string   `json:"caller_id_strategy,omitempty"`
	CallerIDs        []string `json:"caller_ids"`
	Script           string   `json:"script,omitempty"`
}

// ResolveResult is the outcome of recording a disposition.
type ResolveResult struct {
	Line          Line   `json:"line"`
	DispositionID string `json:"disposition_id"`
	Warning       string `json:"warning,omitempty"`
}

// Disposition is a stored operator outcome.
type Disposition struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	ContactID  string    `json:"contact_id"`
	Tag        string    `json:"tag"`
	Notes      string    `json:"notes,omitempty"`
	CallerID   string    `json:"caller_id"`
	Line       Line      `json:"line"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// DispositionPage is one page of a list's dispositions.
type DispositionPage struct {
	Dispositions []Disposition `json:"dispositions"`
	NextPage     string        `json:"next_page_token,omitempty"`
}

// LineEvent is one recorded line transition.
type LineEvent struct {
	AttemptID  string    `json:"attempt_id"`
	ContactID  string    `json:"contact_id"`
	Slot       int       `json:"slot"`
	Batch      int       `json:"batch"`
	Status     string    `json:"status"`
	CallerID   string    `json:"caller_id"`
	Phone      string    `json:"phone_number"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPage is one page of a run's line events.
type EventPage struct {
	Events   []LineEvent `json:"events"`
	NextPage string      `json:"next_page_token,omitempty"`
}

// Presence reports whether the user is currently dialing.
type Presence struct {
	Active bool     `json:"active"`
	Runs   []string `json:"runs"`
}

// PageOptions selects a page of a paginated listing.
type PageOptions struct {
	Limit int
	Token string
}

func (o PageOptions) query() string {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Token != "" {
		v.Set("page_token", o.Token)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// CreateList imports a contact list.
func (c *Client) CreateList(ctx context.Context, req CreateListRequest) (*List, error) {
	var resp List
	if err := c.do(ctx, http.MethodPost, "api/v1/lists", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetList fetches list metadata.
func (c *Client) GetList(ctx context.Context, id string) (*List, error) {
	var resp List
	if err := c.do(ctx, http.MethodGet, "api/v1/lists/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDispositions pages through a list's dispositions.
func (c *Client) ListDispositions(ctx context.Context, listID string, opts PageOptions) (*DispositionPage, error) {
	var resp DispositionPage
	endpoint := "api/v1/lists/" + url.PathEscape(listID) + "/dispositions" + opts.query()
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListArchivedRuns returns summaries of a list's finished runs.
func (c *Client) ListArchivedRuns(ctx context.Context, listID string) ([]Run, error) {
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "api/v1/lists/"+url.PathEscape(listID)+"/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// CreateRun registers a run. A non-nil start request also starts it.
func (c *Client) CreateRun(ctx context.Context, start *StartRunRequest) (*Run, error) {
	var body any
	if start != nil {
		body = start
	}
	var resp Run
	if err := c.do(ctx, http.MethodPost, "api/v1/runs", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns returns every run on the server.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "api/v1/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun fetches a run snapshot.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	return c.runCall(ctx, http.MethodGet, id, "", nil)
}

// DeleteRun closes and forgets a run.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.runPath(id, ""), nil, nil)
}

// StartRun starts an idle run.
func (c *Client) StartRun(ctx context.Context, id string, req StartRunRequest) (*Run, error) {
	return c.runCall(ctx, http.MethodPost, id, "start", req)
}

// PauseRun pauses a dialing run.
func (c *Client) PauseRun(ctx context.Context, id string) (*Run, error) {
	return c.runCall(ctx, http.MethodPost, id, "pause", nil)
}

// ResumeRun resumes a paused run.
func (c *Client) ResumeRun(ctx context.Context, id string) (*Run, error) {
	return c.runCall(ctx, http.MethodPost, id, "resume", nil)
}

// StopRun stops a run and discards in-flight attempts.
func (c *Client) StopRun(ctx context.Context, id string) (*Run, error) {
	return c.runCall(ctx, http.MethodPost, id, "stop", nil)
}

// SetConcurrency changes the number of lines dialed per batch.
func (c *Client) SetConcurrency(ctx context.Context, id string, n int) (*Run, error) {
	return c.runCall(ctx, http.MethodPut, id, "concurrency", map[string]int{"concurrency": n})
}

// Hangup ends the call on a line.
func (c *Client) Hangup(ctx context.Context, runID string, slot int) (*Line, error) {
	var resp Line
	endpoint := c.runPath(runID, fmt.Sprintf("lines/%d/hangup", slot))
	if err := c.do(ctx, http.MethodPost, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve records the disposition of the line holding the operator.
func (c *Client) Resolve(ctx context.Context, runID string, slot int, tag, notes string) (*ResolveResult, error) {
	var resp ResolveResult
	body := map[string]string{"tag": tag, "notes": notes}
	endpoint := c.runPath(runID, fmt.Sprintf("lines/%d/resolve", slot))
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events pages through a run's line transitions.
func (c *Client) Events(ctx context.Context, runID string, opts PageOptions) (*EventPage, error) {
	var resp EventPage
	if err := c.do(ctx, http.MethodGet, c.runPath(runID, "events")+opts.query(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Presence reports whether any run is dialing.
func (c *Client) Presence(ctx context.Context) (*Presence, error) {
	var resp Presence
	if err := c.do(ctx, http.MethodGet, "api/v1/presence", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) runCall(ctx context.Context, method, id, action string, body any) (*Run, error) {
	var resp Run
	if err := c.do(ctx, method, c.runPath(id, action), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) runPath(id, action string) string {
	p := "api/v1/runs/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
