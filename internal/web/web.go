package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"sportcal/internal/calendar"
	"sportcal/internal/config"
	"sportcal/internal/controller"
	appLog "sportcal/internal/log"
	"sportcal/internal/metrics"
	"sportcal/internal/model"
	"sportcal/internal/view"
)

const shutdownTimeout = 5 * time.Second

// Server serves the calendar page, the form and search endpoints, and a few
// JSON/ICS exports of the in-memory calendar.
type Server struct {
	cfg     *config.Config
	ctrl    *controller.Controller
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// now is overridable in tests.
	now func() time.Time
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, ctrl *controller.Controller, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		metrics: m,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// ListenAndServe serves on cfg.Listen until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /events", s.handleCreate)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("POST /refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/calendar/events", s.handleCalendarEvents)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleIndex renders the page.
//
// GET /?view=month|week|day&date=YYYY-MM-DD
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.renderPage(w, http.StatusOK, calendar.ParseView(q.Get("view")), q.Get("date"), "")
}

func (s *Server) renderPage(w http.ResponseWriter, status int, v calendar.View, date, notice string) {
	page, err := s.ctrl.Page(v, date, s.now())
	if err != nil {
		appLog.Error("failed to build page", err, "view", v)
		http.Error(w, "failed to build page", http.StatusInternalServerError)
		return
	}
	page.Notice = notice

	var buf bytes.Buffer
	if err := view.RenderPage(&buf, page); err != nil {
		appLog.Error("failed to render page", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// createRequest is the JSON body accepted by POST /events.
type createRequest struct {
	EventDate   string `json:"event_date"`
	EventTime   string `json:"event_time"`
	SportID     string `json:"sport"`
	VenueID     string `json:"venue"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type createResponse struct {
	State  controller.State `json:"state"`
	Notice string           `json:"notice,omitempty"`
	Event  *eventDTO        `json:"event,omitempty"`
}

// handleCreate submits the event form. Browsers post a form and get the
// page back; clients posting JSON get JSON.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var sub controller.Submission
	jsonBody := isJSON(r.Header.Get("Content-Type"))
	if jsonBody {
		var body createRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		sub = controller.Submission{
			Date:        body.EventDate,
			Time:        body.EventTime,
			SportID:     body.SportID,
			VenueID:     body.VenueID,
			Description: body.Description,
			Status:      body.Status,
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		sub = controller.Submission{
			Date:        r.PostFormValue("event_date"),
			Time:        r.PostFormValue("event_time"),
			SportID:     r.PostFormValue("sport"),
			VenueID:     r.PostFormValue("venue"),
			Description: r.PostFormValue("description"),
			Status:      r.PostFormValue("status"),
		}
	}

	out := s.ctrl.Submit(r.Context(), sub)
	status := outcomeStatus(out.State)

	if jsonBody {
		resp := createResponse{State: out.State, Notice: out.Notice}
		if out.Event != nil {
			dto := toDTO(*out.Event)
			resp.Event = &dto
		}
		writeJSON(w, status, resp)
		return
	}
	q := r.URL.Query()
	s.renderPage(w, status, calendar.ParseView(q.Get("view")), q.Get("date"), out.Notice)
}

func outcomeStatus(state controller.State) int {
	switch state {
	case controller.StateSuccess:
		return http.StatusCreated
	case controller.StateFailed:
		return http.StatusBadGateway
	case controller.StateSubmitting:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleSearch runs a text search and renders the page with the results.
//
// GET /search?q=term
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.ctrl.Search(r.Context(), q.Get("q"))
	s.renderPage(w, http.StatusOK, calendar.ParseView(q.Get("view")), q.Get("date"), "")
}

// handleRefresh reloads options and events from the backend.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Reload(r.Context())
	if err != nil {
		appLog.Warn("manual reload incomplete", err)
	}

	if !isJSON(r.Header.Get("Accept")) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "reload incomplete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// eventDTO is a JSON-friendly view of a calendar event.
type eventDTO struct {
	Key         string `json:"key"`
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	Description string `json:"description,omitempty"`
}

func toDTO(ev model.Event) eventDTO {
	return eventDTO{
		Key:         ev.Key,
		ID:          ev.ID.String(),
		Title:       ev.Title,
		Start:       ev.Start,
		Description: ev.Description,
	}
}

// handleCalendarEvents returns the calendar's events in insertion order.
func (s *Server) handleCalendarEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.ctrl.CalendarEvents()
	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, toDTO(ev))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleICS exports the calendar as an iCalendar feed.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := s.ctrl.WriteICS(&buf, s.now()); err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="sportcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func isJSON(header string) bool {
	return strings.Contains(strings.ToLower(header), "application/json")
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument logs every request and records its latency per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTPRequest(r.Method, route, rec.status, elapsed)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", elapsed.Round(time.Microsecond),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
