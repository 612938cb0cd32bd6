package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportcal/internal/backend"
	"sportcal/internal/calendar"
	"sportcal/internal/model"
	"sportcal/internal/view"
)

type fakeStore struct {
	mu sync.Mutex

	base        string
	search      bool
	noSportList bool

	sports []model.Sport
	venues []model.Venue
	optErr error

	events      []model.Event
	evtErr      error
	eventsDelay time.Duration

	results   []model.SearchResult
	searchErr error
	queries   []string

	createID  model.ID
	createErr error
	created   []model.EventRequest
	entered   chan struct{}
	release   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		base:   "http://127.0.0.1:8000",
		search: true,
		sports: []model.Sport{{ID: "1", Name: "Football"}, {ID: "2", Name: "Chess"}},
		venues: []model.Venue{{ID: "7", Name: "Arena", City: "Berlin"}},
	}
}

func (f *fakeStore) BaseURL() string      { return f.base }
func (f *fakeStore) SupportsSearch() bool { return f.search }
func (f *fakeStore) ListsSports() bool    { return !f.noSportList }

func (f *fakeStore) Options(context.Context) ([]model.Sport, []model.Venue, error) {
	if f.optErr != nil {
		return nil, nil, f.optErr
	}
	return f.sports, f.venues, nil
}

func (f *fakeStore) Events(context.Context) ([]model.Event, error) {
	time.Sleep(f.eventsDelay)
	if f.evtErr != nil {
		return nil, f.evtErr
	}
	return f.events, nil
}

func (f *fakeStore) Search(_ context.Context, q string) ([]model.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.results, f.searchErr
}

func (f *fakeStore) CreateEvent(_ context.Context, req model.EventRequest) (model.ID, error) {
	f.mu.Lock()
	f.created = append(f.created, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.createID, f.createErr
}

func (f *fakeStore) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeMetrics struct {
	mu          sync.Mutex
	submissions map[string]int
	inView      int
}

func (m *fakeMetrics) IncSubmission(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submissions == nil {
		m.submissions = map[string]int{}
	}
	m.submissions[state]++
}

func (m *fakeMetrics) SetEventsInView(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inView = n
}

type transition struct{ from, to State }

func newTestController(t *testing.T, store *fakeStore, mod func(*Settings)) (*Controller, *[]transition) {
	t.Helper()
	var (
		mu    sync.Mutex
		trace []transition
		seq   int
	)
	s := Settings{
		Location:        time.UTC,
		WeekStart:       time.Monday,
		DateLayout:      "1/2/2006, 3:04:05 PM",
		ResetSelections: true,
		SuccessNotice:   "Event saved.",
		OnTransition: func(from, to State) {
			mu.Lock()
			trace = append(trace, transition{from, to})
			mu.Unlock()
		},
		NewKey: func() string {
			seq++
			return fmt.Sprintf("key-%d", seq)
		},
	}
	if mod != nil {
		mod(&s)
	}
	c := New(store, nil, s)
	require.NoError(t, c.LoadOptions(context.Background()))
	return c, &trace
}

func validSubmission() Submission {
	return Submission{Date: "2024-05-01", Time: "14:30", SportID: "1", VenueID: "7"}
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateValidating))
	assert.True(t, canTransition(StateValidating, StateIdle))
	assert.True(t, canTransition(StateValidating, StateSubmitting))
	assert.True(t, canTransition(StateSubmitting, StateSuccess))
	assert.True(t, canTransition(StateSubmitting, StateFailed))
	assert.True(t, canTransition(StateFailed, StateValidating))
	assert.False(t, canTransition(StateIdle, StateSubmitting))
	assert.False(t, canTransition(StateSubmitting, StateValidating))
	assert.False(t, canTransition(StateSuccess, StateFailed))
}

func TestSubmitMissingDateOrTime(t *testing.T) {
	for _, sub := range []Submission{
		{Time: "14:30", SportID: "1", VenueID: "7"},
		{Date: "2024-05-01", SportID: "1", VenueID: "7"},
		{Date: "  ", Time: "14:30", SportID: "1", VenueID: "7"},
		{},
	} {
		store := newFakeStore()
		c, trace := newTestController(t, store, nil)

		out := c.Submit(context.Background(), sub)
		assert.Equal(t, StateIdle, out.State)
		assert.Equal(t, MsgMissingDateTime, out.Notice)
		assert.Nil(t, out.Event)
		assert.Zero(t, store.createCalls())
		assert.Equal(t, []transition{{StateIdle, StateValidating}, {StateValidating, StateIdle}}, *trace)
	}
}

func TestSubmitMissingSelection(t *testing.T) {
	for _, sub := range []Submission{
		{Date: "2024-05-01", Time: "14:30", VenueID: "7"},
		{Date: "2024-05-01", Time: "14:30", SportID: "1"},
	} {
		store := newFakeStore()
		c, _ := newTestController(t, store, nil)

		out := c.Submit(context.Background(), sub)
		assert.Equal(t, MsgMissingSelection, out.Notice)
		assert.Zero(t, store.createCalls())
		assert.Empty(t, c.Events())
		assert.Equal(t, StateIdle, c.State())
	}
}

func TestSubmitSuccess(t *testing.T) {
	store := newFakeStore()
	store.createID = "42"
	c, trace := newTestController(t, store, nil)

	sub := validSubmission()
	sub.Description = "Final"
	out := c.Submit(context.Background(), sub)

	require.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "Event saved.", out.Notice)
	require.NotNil(t, out.Event)
	assert.Equal(t, model.Event{
		Key:         "key-1",
		ID:          "42",
		Title:       "Football @ Arena — Berlin",
		Start:       "2024-05-01T14:30",
		Description: "Final",
	}, *out.Event)

	require.Len(t, store.created, 1)
	req := store.created[0]
	assert.Equal(t, "1", req.SportID)
	assert.Equal(t, "7", req.VenueID)
	assert.Equal(t, "2024-05-01", req.EventDate)
	assert.Equal(t, "14:30", req.EventTime)
	require.NotNil(t, req.Description)
	assert.Equal(t, "Final", *req.Description)

	assert.Equal(t, []model.Event{*out.Event}, c.Events())
	assert.Equal(t, c.Events(), c.CalendarEvents())
	assert.Equal(t, []transition{
		{StateIdle, StateValidating},
		{StateValidating, StateSubmitting},
		{StateSubmitting, StateSuccess},
	}, *trace)

	page, err := c.Page(calendar.ViewMonth, "", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, view.Form{}, page.Form)
	assert.Equal(t, view.List{Rows: []view.ListRow{{
		Text:        "Football @ Arena — Berlin — 5/1/2024, 2:30:00 PM",
		Description: "Final",
	}}}, page.List)
}

func TestSubmitEmptyDescriptionIsNil(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, nil)

	out := c.Submit(context.Background(), validSubmission())
	require.Equal(t, StateSuccess, out.State)
	require.Len(t, store.created, 1)
	assert.Nil(t, store.created[0].Description)
	assert.Equal(t, model.ID(""), out.Event.ID)
}

func TestSubmitKeepsSelectionsWhenConfigured(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, func(s *Settings) { s.ResetSelections = false })

	require.Equal(t, StateSuccess, c.Submit(context.Background(), validSubmission()).State)

	page, err := c.Page(calendar.ViewDay, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, view.Form{SportID: "1", VenueID: "7"}, page.Form)
	assert.True(t, page.Sports.Options[1].Selected)
}

func TestSubmitTitleWithStatus(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, func(s *Settings) { s.TitleWithStatus = true })

	sub := validSubmission()
	sub.Status = "Tentative"
	out := c.Submit(context.Background(), sub)
	require.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "Football @ Arena — Berlin (Tentative)", out.Event.Title)
	assert.Equal(t, "Tentative", store.created[0].Status)
}

func TestSubmitLabelFallsBackToID(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, nil)

	sub := validSubmission()
	sub.SportID = "99"
	out := c.Submit(context.Background(), sub)
	require.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "99 @ Arena — Berlin", out.Event.Title)
}

func TestSubmitFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "server message",
			err:  &backend.StatusError{Endpoint: "create", Status: 409, Message: "Venue already booked"},
			want: "Could not save event: Venue already booked",
		},
		{
			name: "no message",
			err:  &backend.StatusError{Endpoint: "create", Status: 500},
			want: "Could not save event: Failed to save event",
		},
		{
			name: "transport",
			err:  errors.New("connection refused"),
			want: "Could not save event: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.createErr = tt.err
			c, _ := newTestController(t, store, nil)

			sub := validSubmission()
			sub.Description = "Final"
			out := c.Submit(context.Background(), sub)

			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, tt.want, out.Notice)
			assert.Nil(t, out.Event)
			assert.Empty(t, c.Events())
			assert.Empty(t, c.CalendarEvents())

			page, err := c.Page(calendar.ViewMonth, "", time.Now())
			require.NoError(t, err)
			assert.Equal(t, view.Form{
				Date:        "2024-05-01",
				Time:        "14:30",
				SportID:     "1",
				VenueID:     "7",
				Description: "Final",
			}, page.Form)
		})
	}
}

func TestSubmitAfterFailureRevalidates(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("boom")
	c, trace := newTestController(t, store, nil)

	require.Equal(t, StateFailed, c.Submit(context.Background(), validSubmission()).State)
	store.createErr = nil
	require.Equal(t, StateSuccess, c.Submit(context.Background(), validSubmission()).State)

	assert.Equal(t, transition{StateFailed, StateValidating}, (*trace)[3])
	assert.Len(t, c.Events(), 1)
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	store := newFakeStore()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	metrics := &fakeMetrics{}
	c, _ := newTestController(t, store, nil)
	c.metrics = metrics

	done := make(chan Outcome)
	go func() { done <- c.Submit(context.Background(), validSubmission()) }()
	<-store.entered

	second := c.Submit(context.Background(), validSubmission())
	assert.Equal(t, MsgInFlight, second.Notice)
	assert.Equal(t, StateSubmitting, c.State())

	close(store.release)
	first := <-done
	assert.Equal(t, StateSuccess, first.State)
	assert.Equal(t, 1, store.createCalls())
	assert.Len(t, c.Events(), 1)
	assert.Equal(t, map[string]int{"rejected": 1, "success": 1}, metrics.submissions)
	assert.Equal(t, 1, metrics.inView)
}

func TestLoadOptionsFailureHints(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "", want: "(error) Open via server (see README)."},
		{base: "http://127.0.0.1:8000", want: "(error) Start backend at http://127.0.0.1:8000"},
	}
	for _, tt := range tests {
		store := newFakeStore()
		store.base = tt.base
		store.optErr = errors.New("unreachable")
		c := New(store, nil, Settings{Location: time.UTC})

		require.Error(t, c.LoadOptions(context.Background()))
		page, err := c.Page(calendar.ViewMonth, "", time.Now())
		require.NoError(t, err)
		for _, sel := range []view.Select{page.Sports, page.Venues} {
			assert.True(t, sel.Disabled)
			require.Len(t, sel.Options, 1)
			assert.Equal(t, tt.want, sel.Options[0].Label)
		}
	}
}

func TestLoadOptionsPopulatesSelects(t *testing.T) {
	c, _ := newTestController(t, newFakeStore(), nil)
	page, err := c.Page(calendar.ViewMonth, "", time.Now())
	require.NoError(t, err)
	assert.Len(t, page.Sports.Options, 3)
	assert.Len(t, page.Venues.Options, 2)
	assert.False(t, page.Sports.Disabled)
}

func TestLoadEventsDropsEventsWithoutStart(t *testing.T) {
	store := newFakeStore()
	store.events = []model.Event{
		{ID: "1", Title: "A", Start: "2024-05-01T10:00"},
		{ID: "2", Title: "B"},
		{ID: "3", Title: "C", Start: "2024-05-03"},
		{ID: "4", Title: "D", Start: "garbage"},
	}
	c, _ := newTestController(t, store, nil)

	require.NoError(t, c.LoadEvents(context.Background()))
	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []model.ID{"1", "3", "4"}, []model.ID{events[0].ID, events[1].ID, events[2].ID})
	assert.Equal(t, events, c.CalendarEvents())
	for _, ev := range events {
		assert.NotEmpty(t, ev.Key)
	}

	list := c.EventList()
	require.Len(t, list.Rows, 3)
	assert.Equal(t, "D — Invalid Date", list.Rows[2].Text)
}

func TestLoadEventsFailureKeepsPageUsable(t *testing.T) {
	store := newFakeStore()
	store.evtErr = errors.New("down")
	c, _ := newTestController(t, store, nil)

	require.Error(t, c.Init(context.Background()))
	page, err := c.Page(calendar.ViewMonth, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, MsgEventsLoadFailed, page.EventsStatus)
	assert.Equal(t, view.EmptyList, page.List.Empty)
	assert.False(t, page.Sports.Disabled)
}

func TestInitLoadsIndependently(t *testing.T) {
	store := newFakeStore()
	store.optErr = errors.New("no options")
	store.events = []model.Event{{Title: "A", Start: "2024-05-01"}}
	c := New(store, nil, Settings{Location: time.UTC})

	err := c.Init(context.Background())
	require.Error(t, err)
	assert.Len(t, c.Events(), 1)
}

func TestReloadReplacesViewModel(t *testing.T) {
	store := newFakeStore()
	store.events = []model.Event{{Title: "A", Start: "2024-05-01"}}
	c, _ := newTestController(t, store, nil)
	require.NoError(t, c.Init(context.Background()))
	require.Equal(t, StateSuccess, c.Submit(context.Background(), validSubmission()).State)
	require.Len(t, c.Events(), 2)

	store.events = []model.Event{{Title: "A", Start: "2024-05-01"}, {Title: "B", Start: "2024-05-02"}}
	require.NoError(t, c.Reload(context.Background()))

	events := c.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "B", events[1].Title)
	assert.Equal(t, events, c.CalendarEvents())
}

func TestSearchBlankQueryMakesNoRequest(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, nil)

	got := c.Search(context.Background(), "   ")
	assert.Equal(t, view.SearchPrompt, got.Status)
	assert.Empty(t, store.queries)
}

func TestSearchResultsAndFailure(t *testing.T) {
	store := newFakeStore()
	store.results = []model.SearchResult{{Title: "Football @ Arena", Start: "2024-05-01T14:30"}}
	c, _ := newTestController(t, store, nil)

	got := c.Search(context.Background(), "foot")
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "2024-05-01", got.Rows[0].Focus)
	assert.Equal(t, []string{"foot"}, store.queries)

	store.results = nil
	assert.Equal(t, view.SearchNoResults, c.Search(context.Background(), "zzz").Status)

	store.searchErr = errors.New("boom")
	got = c.Search(context.Background(), "foot")
	assert.Equal(t, view.SearchFailed, got.Status)
	assert.Empty(t, got.Rows)

	page, err := c.Page(calendar.ViewMonth, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, got, page.Search)
}

func TestSearchUnsupported(t *testing.T) {
	store := newFakeStore()
	store.search = false
	c, _ := newTestController(t, store, nil)

	got := c.Search(context.Background(), "foot")
	assert.False(t, got.Enabled)
	assert.Equal(t, view.SearchDisabled, got.Status)
	assert.Empty(t, store.queries)
}

func TestPageDateIsPerRequest(t *testing.T) {
	c, _ := newTestController(t, newFakeStore(), nil)
	now := time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)

	page, err := c.Page(calendar.ViewDay, "2024-05-01", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", page.Calendar.Focus)

	page, err = c.Page(calendar.ViewDay, "", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-08-15", page.Calendar.Focus)

	page, err = c.Page(calendar.ViewDay, "nope", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-08-15", page.Calendar.Focus)
}

func TestConcurrentReloadsDoNotDuplicate(t *testing.T) {
	store := newFakeStore()
	store.events = []model.Event{{ID: "1", Title: "A", Start: "2024-05-01T10:00"}}
	store.eventsDelay = 50 * time.Millisecond
	c, _ := newTestController(t, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Reload(context.Background()))
		}()
	}
	wg.Wait()

	assert.Len(t, c.Events(), 1)
	assert.Len(t, c.CalendarEvents(), 1)
}

func TestSubmitKeepsDescriptionAndStatusVerbatim(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, nil)

	sub := validSubmission()
	sub.Date = " 2024-05-01 "
	sub.SportID = " 1 "
	sub.Description = "  Final  "
	sub.Status = " Tentative "
	out := c.Submit(context.Background(), sub)
	require.Equal(t, StateSuccess, out.State)

	require.Len(t, store.created, 1)
	req := store.created[0]
	assert.Equal(t, "2024-05-01", req.EventDate)
	assert.Equal(t, "1", req.SportID)
	require.NotNil(t, req.Description)
	assert.Equal(t, "  Final  ", *req.Description)
	assert.Equal(t, " Tentative ", req.Status)
	assert.Equal(t, "  Final  ", out.Event.Description)
}

func TestSubmitWithoutSportList(t *testing.T) {
	store := newFakeStore()
	store.noSportList = true
	store.sports = nil
	store.venues = []model.Venue{{ID: "3", Name: "Arena", City: "Oslo"}}
	c, _ := newTestController(t, store, nil)

	page, err := c.Page(calendar.ViewMonth, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, view.NumberInput("sport", ""), page.Sports)
	require.Len(t, page.Venues.Options, 2)

	sub := validSubmission()
	sub.SportID = "5"
	sub.VenueID = "3"
	out := c.Submit(context.Background(), sub)
	require.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "5 @ Arena — Oslo", out.Event.Title)
	require.Len(t, store.created, 1)
	assert.Equal(t, "5", store.created[0].SportID)
	assert.Equal(t, "3", store.created[0].VenueID)
}
