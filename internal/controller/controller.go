package controller

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sportcal/internal/backend"
	"sportcal/internal/calendar"
	appLog "sportcal/internal/log"
	"sportcal/internal/model"
	"sportcal/internal/view"
)

// User-facing notices.
const (
	MsgMissingDateTime  = "Please provide date and time"
	MsgMissingSelection = "Please choose a sport and a venue"
	MsgInFlight         = "An event is already being saved."
	MsgSaveFailedPrefix = "Could not save event: "
	MsgSaveFallback     = "Failed to save event"
	MsgEventsLoadFailed = "Could not load events from the backend."

	hintNoServer = "Open via server (see README)."
	hintStartFmt = "Start backend at "
)

// Store is the remote side of the controller: Options Provider and Event
// Store. *backend.Client implements it.
type Store interface {
	BaseURL() string
	SupportsSearch() bool
	// ListsSports is false when the backend has no sport list and sports
	// are entered by ID.
	ListsSports() bool
	Options(ctx context.Context) ([]model.Sport, []model.Venue, error)
	Events(ctx context.Context) ([]model.Event, error)
	Search(ctx context.Context, q string) ([]model.SearchResult, error)
	CreateEvent(ctx context.Context, req model.EventRequest) (model.ID, error)
}

// Metrics receives submission outcomes and the view-model size.
type Metrics interface {
	IncSubmission(state string)
	SetEventsInView(n int)
}

// Settings are the per-deployment knobs of the controller.
type Settings struct {
	Location        *time.Location
	WeekStart       time.Weekday
	DateLayout      string
	ResetSelections bool
	TitleWithStatus bool
	SuccessNotice   string

	// OnTransition, if set, is called for every state change while the
	// controller lock is held.
	OnTransition func(from, to State)
	// NewKey generates view-model keys. Defaults to random UUIDs.
	NewKey func() string
}

// Submission is one press of the form's submit button.
type Submission struct {
	Date        string `validate:"required"`
	Time        string `validate:"required"`
	SportID     string `validate:"required"`
	VenueID     string `validate:"required"`
	Description string
	Status      string
}

// Outcome is the result of a submission.
type Outcome struct {
	State State
	// Notice is the blocking notification to show, if any.
	Notice string
	// Event is the event added to the view model on success.
	Event *model.Event
}

// Controller owns the page's view model: option lists, the event list, the
// calendar, the form and the search panel. The event list and the calendar
// are only ever changed together under mu.
type Controller struct {
	store    Store
	metrics  Metrics
	settings Settings
	validate *validator.Validate

	// loadMu serializes Init, Reload and the single loads.
	loadMu sync.Mutex

	mu          sync.Mutex
	state       State
	inFlight    bool
	sports      []model.Sport
	venues      []model.Venue
	optionsHint string
	events      []model.Event
	cal         *calendar.Calendar
	eventsNote  string
	form        view.Form
	search      view.Search
}

// New creates a controller in the idle state with an empty view model.
func New(store Store, metrics Metrics, settings Settings) *Controller {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	if settings.DateLayout == "" {
		settings.DateLayout = time.DateTime
	}
	if settings.NewKey == nil {
		settings.NewKey = uuid.NewString
	}
	return &Controller{
		store:    store,
		metrics:  metrics,
		settings: settings,
		validate: validator.New(),
		state:    StateIdle,
		cal:      calendar.New(settings.Location, settings.WeekStart),
		search:   view.Search{Enabled: store.SupportsSearch()},
	}
}

// State returns the current state of the submission flow.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Init loads options and events concurrently. The two loads are
// independent: each applies its own result, and a failure in one does not
// affect the other.
func (c *Controller) Init(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	var (
		g              errgroup.Group
		optErr, evtErr error
	)
	g.Go(func() error {
		optErr = c.applyOptions(c.store.Options(ctx))
		return nil
	})
	g.Go(func() error {
		evtErr = c.applyEvents(c.store.Events(ctx))
		return nil
	})
	_ = g.Wait()
	return errors.Join(optErr, evtErr)
}

// Reload fetches options and events again and then replaces the view model
// in one step. Reloads never overlap, so each stored event appears once.
func (c *Controller) Reload(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	var (
		g              errgroup.Group
		sports         []model.Sport
		venues         []model.Venue
		remote         []model.Event
		optErr, evtErr error
	)
	g.Go(func() error {
		sports, venues, optErr = c.store.Options(ctx)
		return nil
	})
	g.Go(func() error {
		remote, evtErr = c.store.Events(ctx)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.cal.RemoveAllEvents()
	c.form = view.Form{}
	c.search = view.Search{Enabled: c.store.SupportsSearch()}
	c.eventsNote = ""
	c.setEventsMetricLocked()

	return errors.Join(
		c.applyOptionsLocked(sports, venues, optErr),
		c.applyEventsLocked(remote, evtErr),
	)
}

// LoadOptions fetches the sport and venue lists. On failure both selects
// are disabled with a hint and the error is returned.
func (c *Controller) LoadOptions(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.applyOptions(c.store.Options(ctx))
}

func (c *Controller) applyOptions(sports []model.Sport, venues []model.Venue, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyOptionsLocked(sports, venues, err)
}

func (c *Controller) applyOptionsLocked(sports []model.Sport, venues []model.Venue, err error) error {
	if err != nil {
		c.optionsHint = c.unreachableHint()
		appLog.Error("error loading options", err, "hint", c.optionsHint)
		return err
	}
	c.sports = sports
	c.venues = venues
	c.optionsHint = ""
	appLog.Info("options loaded", "sports", len(sports), "venues", len(venues))
	return nil
}

func (c *Controller) unreachableHint() string {
	base := c.store.BaseURL()
	if base == "" {
		return hintNoServer
	}
	return hintStartFmt + base
}

// LoadEvents fetches stored events and appends every one that has a start
// to both the calendar and the list.
func (c *Controller) LoadEvents(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.applyEvents(c.store.Events(ctx))
}

func (c *Controller) applyEvents(remote []model.Event, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyEventsLocked(remote, err)
}

func (c *Controller) applyEventsLocked(remote []model.Event, err error) error {
	if err != nil {
		c.eventsNote = MsgEventsLoadFailed
		appLog.Warn("could not load events from backend", err)
		return err
	}

	added := 0
	for _, re := range remote {
		if !re.HasStart() {
			continue
		}
		c.insertLocked(model.Event{
			ID:          re.ID,
			Title:       re.Title,
			Start:       re.Start,
			Description: re.Description,
		})
		added++
	}
	c.eventsNote = ""
	appLog.Info("events loaded", "received", len(remote), "added", added)
	return nil
}

// insertLocked applies one insertion to the calendar and the list.
func (c *Controller) insertLocked(ev model.Event) model.Event {
	if ev.Key == "" {
		ev.Key = c.settings.NewKey()
	}
	c.cal.AddEvent(ev)
	c.events = append(c.events, ev)
	c.setEventsMetricLocked()
	return ev
}

func (c *Controller) setEventsMetricLocked() {
	if c.metrics != nil {
		c.metrics.SetEventsInView(len(c.events))
	}
}

// Submit runs one pass of the form flow. Validation failures never reach
// the network. A submission arriving while another is in flight is
// rejected locally.
func (c *Controller) Submit(ctx context.Context, sub Submission) Outcome {
	sub = trimSubmission(sub)

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.countSubmission("rejected")
		return Outcome{State: StateSubmitting, Notice: MsgInFlight}
	}

	c.form = view.Form{
		Date:        sub.Date,
		Time:        sub.Time,
		SportID:     sub.SportID,
		VenueID:     sub.VenueID,
		Description: sub.Description,
		Status:      sub.Status,
	}
	c.transitionLocked(StateValidating)

	if notice := c.validateSubmission(sub); notice != "" {
		c.transitionLocked(StateIdle)
		c.mu.Unlock()
		c.countSubmission("invalid")
		return Outcome{State: StateIdle, Notice: notice}
	}

	// Labels are read only once both selections are known to be present.
	sportLabel := c.labelLocked(view.SportSelect(c.sports, ""), sub.SportID)
	venueLabel := c.labelLocked(view.VenueSelect(c.venues, ""), sub.VenueID)
	status := ""
	if c.settings.TitleWithStatus {
		status = sub.Status
	}
	title := model.ComposeTitle(sportLabel, venueLabel, status)
	start := model.ComposeStart(sub.Date, sub.Time)

	req := model.EventRequest{
		SportID:   sub.SportID,
		VenueID:   sub.VenueID,
		EventDate: sub.Date,
		EventTime: sub.Time,
		Status:    sub.Status,
	}
	if sub.Description != "" {
		desc := sub.Description
		req.Description = &desc
	}

	c.transitionLocked(StateSubmitting)
	c.inFlight = true
	c.mu.Unlock()

	id, err := c.store.CreateEvent(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if err != nil {
		c.transitionLocked(StateFailed)
		c.countSubmission(string(StateFailed))
		appLog.Error("could not save event", err, "title", title, "start", start)
		return Outcome{State: StateFailed, Notice: MsgSaveFailedPrefix + saveFailureMessage(err)}
	}

	ev := c.insertLocked(model.Event{
		ID:          id,
		Title:       title,
		Start:       start,
		Description: sub.Description,
	})
	c.resetFormLocked()
	c.transitionLocked(StateSuccess)
	c.countSubmission(string(StateSuccess))
	appLog.Info("event saved", "id", id, "title", title, "start", start)

	return Outcome{State: StateSuccess, Notice: c.settings.SuccessNotice, Event: &ev}
}

func trimSubmission(s Submission) Submission {
	s.Date = strings.TrimSpace(s.Date)
	s.Time = strings.TrimSpace(s.Time)
	s.SportID = strings.TrimSpace(s.SportID)
	s.VenueID = strings.TrimSpace(s.VenueID)
	return s
}

// validateSubmission checks required fields. Date and time are reported
// before the selections.
func (c *Controller) validateSubmission(sub Submission) string {
	err := c.validate.Struct(sub)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		appLog.Error("form validation failed unexpectedly", err)
		return MsgMissingDateTime
	}
	missingSelection := false
	for _, fe := range verrs {
		switch fe.StructField() {
		case "Date", "Time":
			return MsgMissingDateTime
		case "SportID", "VenueID":
			missingSelection = true
		}
	}
	if missingSelection {
		return MsgMissingSelection
	}
	return ""
}

// labelLocked returns the visible option text for value, or value itself
// when the option list does not contain it.
func (c *Controller) labelLocked(sel view.Select, value string) string {
	if label, ok := sel.Label(value); ok {
		return label
	}
	return value
}

func (c *Controller) resetFormLocked() {
	next := view.Form{}
	if !c.settings.ResetSelections {
		next.SportID = c.form.SportID
		next.VenueID = c.form.VenueID
	}
	c.form = next
}

func saveFailureMessage(err error) string {
	var se *backend.StatusError
	if errors.As(err, &se) {
		return se.MessageOr(MsgSaveFallback)
	}
	return err.Error()
}

func (c *Controller) transitionLocked(to State) {
	from := c.state
	if !canTransition(from, to) {
		appLog.Error("state machine violation", &TransitionError{From: from, To: to})
	}
	c.state = to
	appLog.Debug("form state", "from", from, "to", to)
	if c.settings.OnTransition != nil {
		c.settings.OnTransition(from, to)
	}
}

func (c *Controller) countSubmission(state string) {
	if c.metrics != nil {
		c.metrics.IncSubmission(state)
	}
}

// Search runs a text search and stores the rendered panel. A blank query
// is answered locally with a prompt.
func (c *Controller) Search(ctx context.Context, q string) view.Search {
	var result view.Search
	switch {
	case !c.store.SupportsSearch():
		result = view.Search{Query: q, Status: view.SearchDisabled}
	case strings.TrimSpace(q) == "":
		result = view.SearchStatus(q, view.SearchPrompt)
	default:
		results, err := c.store.Search(ctx, q)
		if err != nil {
			appLog.Error("search error", err, "q", q)
			result = view.SearchStatus(q, view.SearchFailed)
		} else {
			result = view.SearchResults(q, results, c.formatter())
		}
	}

	c.mu.Lock()
	c.search = result
	c.mu.Unlock()
	return result
}

// Events returns a copy of the in-memory event list.
func (c *Controller) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

// CalendarEvents returns the calendar's events in insertion order.
func (c *Controller) CalendarEvents() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cal.Events()
}

// WriteICS exports the calendar.
func (c *Controller) WriteICS(w io.Writer, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cal.WriteICS(w, now)
}

// EventList renders the flat list from the current events.
func (c *Controller) EventList() view.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	return view.EventList(c.events, c.formatter())
}

func (c *Controller) formatter() view.Formatter {
	return view.Formatter{Location: c.settings.Location, Layout: c.settings.DateLayout}
}

// Page builds the full page view model for the given calendar view, drawn
// around date (YYYY-MM-DD or any event start). An empty or unparseable date
// means today.
func (c *Controller) Page(v calendar.View, date string, now time.Time) (view.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	focus, err := c.cal.FocusDate(date, now)
	if err != nil {
		appLog.Warn("ignoring calendar date", err, "date", date)
		focus, _ = c.cal.FocusDate("", now)
	}
	grid, err := c.cal.Grid(v, focus, now)
	if err != nil {
		return view.Page{}, err
	}

	p := view.Page{
		Form:         c.form,
		ShowStatus:   c.settings.TitleWithStatus,
		Calendar:     grid,
		List:         view.EventList(c.events, c.formatter()),
		EventsStatus: c.eventsNote,
		Search:       c.search,
	}
	if c.optionsHint != "" {
		p.Sports = view.ErrorSelect("sport", c.optionsHint)
		p.Venues = view.ErrorSelect("venue", c.optionsHint)
	} else {
		p.Sports = view.SportSelect(c.sports, c.form.SportID)
		p.Venues = view.VenueSelect(c.venues, c.form.VenueID)
	}
	if !c.store.ListsSports() {
		p.Sports = view.NumberInput("sport", c.form.SportID)
	}
	return p, nil
}
