package calendar

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
)

const (
	icsProductID = "-//sportcal//Sport Events//EN"
	icsUIDDomain = "@sportcal"

	// defaultDuration is the length given to timed events, which carry no
	// end in this domain.
	defaultDuration = time.Hour
)

// WriteICS serializes every placed event as a VEVENT. Events whose start
// could not be parsed are skipped.
func (c *Calendar) WriteICS(w io.Writer, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, e := range c.entries {
		if !e.Placed {
			continue
		}
		uid := e.Event.Key
		if uid == "" {
			uid = e.At.UTC().Format("20060102T150405Z")
		}
		ve := cal.AddEvent(uid + icsUIDDomain)
		ve.SetDtStampTime(now.UTC())
		if e.DateOnly {
			ve.SetAllDayStartAt(e.At)
			ve.SetAllDayEndAt(e.At.AddDate(0, 0, 1))
		} else {
			ve.SetStartAt(e.At)
			ve.SetEndAt(e.At.Add(defaultDuration))
		}
		ve.SetSummary(e.Event.Title)
		if e.Event.Description != "" {
			ve.SetDescription(e.Event.Description)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
