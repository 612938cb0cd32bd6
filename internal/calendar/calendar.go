package calendar

import (
	"errors"
	"strings"
	"time"

	"sportcal/internal/model"
)

// startLayouts are the start formats the Event Store and the form produce,
// tried in order.
var startLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
}

// ParseStart interprets an event start. Values without a zone are taken as
// wall-clock time in loc; zoned values are converted into loc. dateOnly is
// true for plain YYYY-MM-DD values.
func ParseStart(s string, loc *time.Location) (t time.Time, dateOnly bool, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range startLayouts {
		parsed, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		return parsed.In(loc), layout == "2006-01-02", true
	}
	return time.Time{}, false, false
}

// Entry is one event as placed on the calendar.
type Entry struct {
	Event    model.Event
	At       time.Time
	DateOnly bool
	// Placed is false when Start could not be parsed; such entries are
	// kept in order but never drawn on a grid.
	Placed bool
}

// Calendar is the in-process stand-in for the calendar widget: an ordered
// event set. The focus date belongs to each request, not to the calendar.
// It is not safe for concurrent use.
type Calendar struct {
	loc       *time.Location
	weekStart time.Weekday
	entries   []Entry
}

// New creates an empty calendar.
func New(loc *time.Location, weekStart time.Weekday) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{
		loc:       loc,
		weekStart: weekStart,
	}
}

// WeekStartFromString maps "sunday"/"monday" to a weekday.
func WeekStartFromString(s string) time.Weekday {
	if strings.EqualFold(s, "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// AddEvent appends ev to the calendar.
func (c *Calendar) AddEvent(ev model.Event) {
	at, dateOnly, ok := ParseStart(ev.Start, c.loc)
	c.entries = append(c.entries, Entry{Event: ev, At: at, DateOnly: dateOnly, Placed: ok})
}

// RemoveAllEvents empties the calendar.
func (c *Calendar) RemoveAllEvents() {
	c.entries = nil
}

// Events returns the events in insertion order.
func (c *Calendar) Events() []model.Event {
	out := make([]model.Event, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Event
	}
	return out
}

// FocusDate resolves the day a grid is drawn around: the day of date, or
// today (per now) when date is empty.
func (c *Calendar) FocusDate(date string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		return truncateDay(now.In(c.loc)), nil
	}
	t, _, ok := ParseStart(date, c.loc)
	if !ok {
		return time.Time{}, errors.New("calendar: unparseable date " + date)
	}
	return truncateDay(t), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
