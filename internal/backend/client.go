package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"sportcal/internal/config"
	appLog "sportcal/internal/log"
	"sportcal/internal/model"
)

// maxBodyBytes caps how much of a backend response is read.
const maxBodyBytes = 4 << 20

// ErrUnsupported is returned for endpoints the configured schema lacks.
var ErrUnsupported = errors.New("backend: endpoint not supported by this schema")

// StatusError is a server-reported failure (non-2xx response).
type StatusError struct {
	Endpoint string
	Status   int
	// Message is the "error" field of the response body, if any.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.Status)
}

// MessageOr returns the server-provided message, or fallback when the body
// carried none.
func (e *StatusError) MessageOr(fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// Observer receives one call per backend round-trip.
type Observer interface {
	ObserveBackend(endpoint, outcome string, d time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Schema     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// Client talks to the Options Provider and the Event Store.
type Client struct {
	client   *http.Client
	baseURL  string
	schema   string
	paths    layout
	observer Observer
}

// layout is the endpoint path set of one schema. An empty path means the
// endpoint does not exist.
type layout struct {
	sports string
	venues string
	events string
	search string
	create string
}

var (
	apiLayout = layout{
		sports: "/api/sports",
		venues: "/api/venues",
		events: "/api/events",
		search: "/api/events/search",
		create: "/api/events",
	}
	// The legacy backend has no sport listing.
	legacyLayout = layout{
		venues: "/venues",
		events: "/events",
		create: "/events",
	}
)

// New creates a Client. Unknown schemas fall back to the foreign-key shape.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	schema := opts.Schema
	paths := apiLayout
	switch schema {
	case config.SchemaLegacy:
		paths = legacyLayout
	case config.SchemaPlain, config.SchemaForeignKey:
	default:
		schema = config.SchemaForeignKey
	}

	return &Client{
		client:   hc,
		baseURL:  opts.BaseURL,
		schema:   schema,
		paths:    paths,
		observer: opts.Observer,
	}
}

// BaseURL returns the configured base URL ("" for same-origin).
func (c *Client) BaseURL() string { return c.baseURL }

// Schema returns the effective schema name.
func (c *Client) Schema() string { return c.schema }

// SupportsSearch reports whether the schema has a search endpoint.
func (c *Client) SupportsSearch() bool { return c.paths.search != "" }

// ListsSports reports whether the schema has a sport list endpoint.
func (c *Client) ListsSports() bool { return c.paths.sports != "" }

// Sports fetches the sport option list.
func (c *Client) Sports(ctx context.Context) ([]model.Sport, error) {
	var out []model.Sport
	if err := c.getJSON(ctx, "sports", c.paths.sports, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// legacyVenueRow is the row shape of GET /venues on the legacy backend.
type legacyVenueRow struct {
	VenueID model.ID `json:"venue_id"`
	Name    string   `json:"name"`
	City    string   `json:"city"`
	Address string   `json:"address"`
}

// Venues fetches the venue option list.
func (c *Client) Venues(ctx context.Context) ([]model.Venue, error) {
	if c.schema != config.SchemaLegacy {
		var out []model.Venue
		if err := c.getJSON(ctx, "venues", c.paths.venues, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var rows []legacyVenueRow
	if err := c.getJSON(ctx, "venues", c.paths.venues, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Venue, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Venue{ID: r.VenueID, Name: r.Name, City: r.City})
	}
	return out, nil
}

// Options fetches sports and venues concurrently. Either failure fails the
// whole call, matching an all-or-nothing load of both selects. Without a
// sport list only venues are fetched and sports come back empty.
func (c *Client) Options(ctx context.Context) ([]model.Sport, []model.Venue, error) {
	var (
		sports []model.Sport
		venues []model.Venue
	)
	g, gctx := errgroup.WithContext(ctx)
	if c.ListsSports() {
		g.Go(func() error {
			var err error
			sports, err = c.Sports(gctx)
			return err
		})
	}
	g.Go(func() error {
		var err error
		venues, err = c.Venues(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sports, venues, nil
}

// legacyEventRow is the row shape of GET /events on the legacy backend.
type legacyEventRow struct {
	EventID   model.ID `json:"event_id"`
	EventDate string   `json:"event_date"`
	EventTime string   `json:"event_time"`
	Sport     string   `json:"sport"`
	Venue     string   `json:"venue"`
}

// Events fetches the stored events. Rows are returned as-is; rows without a
// start are the caller's to drop.
func (c *Client) Events(ctx context.Context) ([]model.Event, error) {
	if c.schema != config.SchemaLegacy {
		var out []model.Event
		if err := c.getJSON(ctx, "events", c.paths.events, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var rows []legacyEventRow
	if err := c.getJSON(ctx, "events", c.paths.events, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		ev := model.Event{
			ID:    r.EventID,
			Title: model.ComposeTitle(r.Sport, r.Venue, ""),
		}
		if r.EventDate != "" && r.EventTime != "" {
			ev.Start = model.ComposeStart(r.EventDate, r.EventTime)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Search runs a text search. A body that is not a JSON array yields no
// results rather than an error.
func (c *Client) Search(ctx context.Context, q string) ([]model.SearchResult, error) {
	if c.paths.search == "" {
		return nil, ErrUnsupported
	}
	var raw json.RawMessage
	if err := c.getJSON(ctx, "search", c.paths.search, url.Values{"q": {q}}, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var out []model.SearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("search: decode results: %w", err)
	}
	return out, nil
}

// createResponse covers both observed success bodies and the error body.
type createResponse struct {
	ID      model.ID `json:"id"`
	EventID model.ID `json:"event_id"`
	Error   string   `json:"error"`
}

// CreateEvent posts a new event and returns the ID the server assigned, if
// it reported one. A malformed success body is treated as empty.
func (c *Client) CreateEvent(ctx context.Context, req model.EventRequest) (model.ID, error) {
	body, err := json.Marshal(encodeRequest(c.schema, req))
	if err != nil {
		return "", fmt.Errorf("create: encode request: %w", err)
	}

	status, payload, err := c.do(ctx, "create", http.MethodPost, c.paths.create, nil, body)
	if err != nil {
		return "", err
	}

	var resp createResponse
	// Tolerate non-JSON bodies on both paths.
	_ = json.Unmarshal(payload, &resp)

	if status < 200 || status > 299 {
		return "", &StatusError{Endpoint: "create", Status: status, Message: resp.Error}
	}
	if resp.ID != "" {
		return resp.ID, nil
	}
	return resp.EventID, nil
}

type plainRequest struct {
	SportID     string  `json:"sport_id"`
	VenueID     string  `json:"venue_id"`
	EventDate   string  `json:"event_date"`
	EventTime   string  `json:"event_time"`
	Description *string `json:"description,omitempty"`
}

type foreignKeyRequest struct {
	SportID     string  `json:"sport_id_foreignkey"`
	VenueID     string  `json:"venue_id_foreignkey"`
	EventDate   string  `json:"event_date"`
	EventTime   string  `json:"event_time"`
	Description *string `json:"description"`
}

type legacyRequest struct {
	EventDate string `json:"event_date"`
	EventTime string `json:"event_time"`
	VenueID   *int   `json:"venue_id"`
	SportID   *int   `json:"sport_id"`
	Status    string `json:"status"`
}

func encodeRequest(schema string, req model.EventRequest) any {
	switch schema {
	case config.SchemaPlain:
		return plainRequest{
			SportID:     req.SportID,
			VenueID:     req.VenueID,
			EventDate:   req.EventDate,
			EventTime:   req.EventTime,
			Description: req.Description,
		}
	case config.SchemaLegacy:
		return legacyRequest{
			EventDate: req.EventDate,
			EventTime: req.EventTime,
			VenueID:   numericID(req.VenueID),
			SportID:   numericID(req.SportID),
			Status:    req.Status,
		}
	default:
		return foreignKeyRequest{
			SportID:     req.SportID,
			VenueID:     req.VenueID,
			EventDate:   req.EventDate,
			EventTime:   req.EventTime,
			Description: req.Description,
		}
	}
}

// numericID converts a form value to a number; non-numeric input encodes
// as null.
func numericID(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, dst any) error {
	if path == "" {
		return ErrUnsupported
	}
	status, payload, err := c.do(ctx, endpoint, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &eb)
		return &StatusError{Endpoint: endpoint, Status: status, Message: eb.Error}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// do performs one round-trip and returns the status and (bounded) body.
// Transport failures come back as errors; HTTP statuses never do.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body []byte) (int, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: failed to create request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(endpoint, "transport", start)
		appLog.Debug("backend request failed", "endpoint", endpoint, "method", method, "url", target, "err", err)
		return 0, nil, fmt.Errorf("%s: request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe(endpoint, "transport", start)
		return 0, nil, fmt.Errorf("%s: read response: %w", endpoint, err)
	}

	outcome := "ok"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "status_" + strconv.Itoa(resp.StatusCode)
	}
	c.observe(endpoint, outcome, start)
	appLog.Debug("backend request", "endpoint", endpoint, "method", method, "url", target, "status", resp.StatusCode)

	return resp.StatusCode, payload, nil
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveBackend(endpoint, outcome, time.Since(start))
}
