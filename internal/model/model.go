package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is a backend identifier. The Event Store emits integers for some
// variants and strings for others; both decode into the same string form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Event is a scheduled sport/venue booking as held in the view model.
type Event struct {
	// Key identifies the event inside this process (calendar entry, ICS UID).
	// It is assigned when the event enters the view model.
	Key string `json:"-"`

	ID          ID     `json:"id,omitempty"`
	Title       string `json:"title"`
	Start       string `json:"start,omitempty"`
	Description string `json:"description,omitempty"`
}

// HasStart reports whether the event carries a usable start value.
func (e Event) HasStart() bool {
	return strings.TrimSpace(e.Start) != ""
}

// Sport is reference data for the sport select.
type Sport struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Venue is reference data for the venue select.
type Venue struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	City string `json:"city,omitempty"`
}

// Label is the visible option text for the venue select.
func (v Venue) Label() string {
	if v.City == "" {
		return v.Name
	}
	return v.Name + " — " + v.City
}

// EventRequest is the single create-event schema. Optional fields stay
// empty/nil when a variant does not send them.
type EventRequest struct {
	SportID     string
	VenueID     string
	EventDate   string
	EventTime   string
	Description *string
	Status      string
}

// SearchResult is one row of a text search over the Event Store.
type SearchResult struct {
	Title       string `json:"title"`
	Start       string `json:"start,omitempty"`
	Description string `json:"description,omitempty"`
}

// ComposeStart joins a date and a time with a literal "T". No timezone
// normalization happens here.
func ComposeStart(date, clock string) string {
	return date + "T" + clock
}

// ComposeTitle builds the display title "{sport} @ {venue}", with an
// optional " ({status})" suffix.
func ComposeTitle(sport, venue, status string) string {
	title := sport + " @ " + venue
	if status != "" {
		title += " (" + status + ")"
	}
	return title
}
