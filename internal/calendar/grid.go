package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// View is one of the calendar's display modes.
type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
	ViewDay   View = "day"
)

// ParseView maps a query value to a View, defaulting to the month grid.
func ParseView(s string) View {
	switch View(s) {
	case ViewWeek, ViewDay:
		return View(s)
	default:
		return ViewMonth
	}
}

const isoDate = "2006-01-02"

// Day is one cell of a grid.
type Day struct {
	Date    time.Time
	ISO     string
	InRange bool
	Today   bool
	Entries []Entry
}

// Grid is a renderable view of the calendar around its focus date.
type Grid struct {
	View  View
	Title string
	Focus string
	Prev  string
	Next  string
	Today string
	Weeks [][]Day
}

// Grid lays out the calendar for view around the focus day (see
// FocusDate). now marks today's cell.
func (c *Calendar) Grid(view View, focus, now time.Time) (Grid, error) {
	focus = truncateDay(focus.In(c.loc))
	today := truncateDay(now.In(c.loc))

	var (
		first    time.Time
		count    int
		prev     time.Time
		next     time.Time
		title    string
		inRange  func(time.Time) bool
		rowWidth int
	)
	switch view {
	case ViewDay:
		first, count, rowWidth = focus, 1, 1
		prev, next = focus.AddDate(0, 0, -1), focus.AddDate(0, 0, 1)
		title = focus.Format("January 2, 2006")
		inRange = func(time.Time) bool { return true }
	case ViewWeek:
		first = c.startOfWeek(focus)
		count, rowWidth = 7, 7
		prev, next = focus.AddDate(0, 0, -7), focus.AddDate(0, 0, 7)
		title = weekTitle(first, first.AddDate(0, 0, 6))
		inRange = func(time.Time) bool { return true }
	default:
		view = ViewMonth
		monthStart := time.Date(focus.Year(), focus.Month(), 1, 0, 0, 0, 0, c.loc)
		first = c.startOfWeek(monthStart)
		count, rowWidth = 42, 7
		prev, next = monthStart.AddDate(0, -1, 0), monthStart.AddDate(0, 1, 0)
		title = monthStart.Format("January 2006")
		inRange = func(d time.Time) bool { return d.Month() == monthStart.Month() }
	}

	days, err := enumerateDays(first, count)
	if err != nil {
		return Grid{}, err
	}

	byDay := c.entriesByDay()
	grid := Grid{
		View:  view,
		Title: title,
		Focus: focus.Format(isoDate),
		Prev:  prev.Format(isoDate),
		Next:  next.Format(isoDate),
		Today: today.Format(isoDate),
	}
	var week []Day
	for _, d := range days {
		iso := d.Format(isoDate)
		week = append(week, Day{
			Date:    d,
			ISO:     iso,
			InRange: inRange(d),
			Today:   d.Equal(today),
			Entries: byDay[iso],
		})
		if len(week) == rowWidth {
			grid.Weeks = append(grid.Weeks, week)
			week = nil
		}
	}
	return grid, nil
}

// enumerateDays lists count consecutive days starting at first.
func enumerateDays(first time.Time, count int) ([]time.Time, error) {
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: first,
		Count:   count,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: day rule: %w", err)
	}
	return rule.All(), nil
}

func (c *Calendar) startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) - int(c.weekStart) + 7) % 7
	return truncateDay(t).AddDate(0, 0, -offset)
}

// entriesByDay groups placed entries by local day, ordered by start time
// and then insertion order.
func (c *Calendar) entriesByDay() map[string][]Entry {
	out := make(map[string][]Entry)
	for _, e := range c.entries {
		if !e.Placed {
			continue
		}
		key := e.At.Format(isoDate)
		out[key] = append(out[key], e)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].DateOnly != list[j].DateOnly {
				return list[i].DateOnly
			}
			return list[i].At.Before(list[j].At)
		})
	}
	return out
}

func weekTitle(from, to time.Time) string {
	switch {
	case from.Year() != to.Year():
		return from.Format("Jan 2, 2006") + " – " + to.Format("Jan 2, 2006")
	case from.Month() != to.Month():
		return from.Format("Jan 2") + " – " + to.Format("Jan 2, 2006")
	default:
		return from.Format("Jan 2") + " – " + to.Format("2, 2006")
	}
}
