// Package view turns the controller's view model into renderable
// structures. Everything here is a pure function of its inputs: rendering
// the same events twice yields identical output.
package view

import (
	"time"

	"sportcal/internal/calendar"
	"sportcal/internal/model"
)

// Messages shown in place of list or search content.
const (
	EmptyList       = "No events yet."
	UnknownDate     = "Unknown date"
	InvalidDate     = "Invalid Date"
	SearchPrompt    = "Enter a search term."
	SearchNoResults = "No results."
	SearchFailed    = "Error running search."
	SearchDisabled  = "Search is not available."
)

// Placeholders of the two selects.
const (
	SportPlaceholder = "Select sport"
	VenuePlaceholder = "Select venue"
)

// Option is one entry of a select control.
type Option struct {
	Value    string
	Label    string
	Selected bool
}

// Select is a rendered select control. A Numeric select renders as a free
// number input holding Value instead of a list.
type Select struct {
	Name     string
	Options  []Option
	Disabled bool
	Numeric  bool
	Value    string
}

// Label returns the visible text of the option with the given value.
func (s Select) Label(value string) (string, bool) {
	for _, o := range s.Options {
		if o.Value == value {
			return o.Label, true
		}
	}
	return "", false
}

// SportSelect lists a placeholder followed by one option per sport.
func SportSelect(sports []model.Sport, selected string) Select {
	opts := make([]Option, 0, len(sports)+1)
	opts = append(opts, Option{Value: "", Label: SportPlaceholder, Selected: selected == ""})
	for _, s := range sports {
		opts = append(opts, Option{Value: s.ID.String(), Label: s.Name, Selected: selected != "" && s.ID.String() == selected})
	}
	return Select{Name: "sport", Options: opts}
}

// VenueSelect lists a placeholder followed by one option per venue.
func VenueSelect(venues []model.Venue, selected string) Select {
	opts := make([]Option, 0, len(venues)+1)
	opts = append(opts, Option{Value: "", Label: VenuePlaceholder, Selected: selected == ""})
	for _, v := range venues {
		opts = append(opts, Option{Value: v.ID.String(), Label: v.Label(), Selected: selected != "" && v.ID.String() == selected})
	}
	return Select{Name: "venue", Options: opts}
}

// NumberInput asks for a raw numeric ID, for backends without a list.
func NumberInput(name, value string) Select {
	return Select{Name: name, Numeric: true, Value: value}
}

// ErrorSelect is a disabled select carrying a single "(error) hint" entry.
func ErrorSelect(name, hint string) Select {
	return Select{
		Name:     name,
		Options:  []Option{{Value: "", Label: "(error) " + hint, Selected: true}},
		Disabled: true,
	}
}

// ListRow is one line of the flat event list.
type ListRow struct {
	Text        string
	Description string
}

// List is the rendered flat event list. Empty holds the placeholder text
// when there are no rows.
type List struct {
	Empty string
	Rows  []ListRow
}

// Formatter formats event starts as local dates.
type Formatter struct {
	Location *time.Location
	Layout   string
}

// Format renders start as a local date, "Unknown date" when absent and
// "Invalid Date" when it cannot be parsed.
func (f Formatter) Format(start string) string {
	if start == "" {
		return UnknownDate
	}
	t, dateOnly, ok := calendar.ParseStart(start, f.Location)
	if !ok {
		return InvalidDate
	}
	if dateOnly {
		// Date-only values are UTC midnight to a browser.
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).In(f.loc())
	}
	return t.Format(f.Layout)
}

func (f Formatter) loc() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// EventList rebuilds the whole list from events.
func EventList(events []model.Event, f Formatter) List {
	if len(events) == 0 {
		return List{Empty: EmptyList}
	}
	rows := make([]ListRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, ListRow{
			Text:        ev.Title + " — " + f.Format(ev.Start),
			Description: ev.Description,
		})
	}
	return List{Rows: rows}
}

// SearchRow is one search hit. Focus is the day the calendar jumps to when
// the row is activated; Details is the full text shown on activation.
type SearchRow struct {
	Text        string
	Description string
	Focus       string
	Details     string
}

// Search is the rendered search panel.
type Search struct {
	Enabled bool
	Query   string
	Status  string
	Rows    []SearchRow
}

// SearchStatus renders a panel holding only a status message.
func SearchStatus(query, status string) Search {
	return Search{Enabled: true, Query: query, Status: status}
}

// SearchResults renders hits, or the "No results." status when there are
// none.
func SearchResults(query string, results []model.SearchResult, f Formatter) Search {
	if len(results) == 0 {
		return SearchStatus(query, SearchNoResults)
	}
	rows := make([]SearchRow, 0, len(results))
	for _, r := range results {
		row := SearchRow{
			Text:        r.Title + " — " + f.Format(r.Start),
			Description: r.Description,
			Details:     r.Title + "\n" + r.Start,
		}
		if r.Description != "" {
			row.Details += "\n" + r.Description
		}
		if t, _, ok := calendar.ParseStart(r.Start, f.Location); ok {
			row.Focus = t.Format("2006-01-02")
		}
		rows = append(rows, row)
	}
	return Search{Enabled: true, Query: query, Rows: rows}
}

// Form holds the values the creation form is rendered with.
type Form struct {
	Date        string
	Time        string
	SportID     string
	VenueID     string
	Description string
	Status      string
}

// Page is the full view model of the calendar page.
type Page struct {
	Sports Select
	Venues Select
	Form   Form

	ShowStatus bool

	Calendar     calendar.Grid
	List         List
	EventsStatus string
	Search       Search

	// Notice is a blocking notification (validation or save failure).
	Notice string
}
