package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calmirror/internal/model"
	"calmirror/internal/normalize"
)

const (
	propRecurrenceID = "RECURRENCE-ID"
	utcLayout        = "20060102T150405Z"
	localLayout      = "20060102T150405"
	dateLayout       = "20060102"
)

// ParsedEvent is a VEVENT with its bounds resolved.
type ParsedEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time // zero when DTEND is absent
	AllDay bool

	RawRRule   string
	IsOverride bool // RECURRENCE-ID present
}

// Raw converts p into the form consumed by the normalizer.
func (p ParsedEvent) Raw() normalize.RawEvent {
	raw := normalize.RawEvent{
		UID:         p.UID,
		Title:       p.Summary,
		Description: p.Description,
		Location:    p.Location,
	}
	if p.AllDay {
		raw.Start = normalize.DateOnly(p.Start)
		if !p.End.IsZero() {
			raw.End = normalize.DateOnly(p.End)
		}
		return raw
	}
	raw.Start = normalize.Instant(p.Start)
	if !p.End.IsZero() {
		raw.End = normalize.Instant(p.End)
	}
	return raw
}

// overlaps reports whether p intersects w. A missing end counts as a
// zero-length timed event or a single all-day date.
func (p ParsedEvent) overlaps(w model.Window) bool {
	end := p.End
	if end.IsZero() {
		end = p.Start
		if p.AllDay {
			end = p.Start.AddDate(0, 0, 1)
		}
	}
	return w.Overlaps(p.Start, end)
}

// ParseICS parses a single ICS payload. Floating DATE-TIME values and DATE
// values are interpreted in loc. VEVENTs that cannot be parsed are returned
// as errors alongside the events that could.
func ParseICS(body []byte, loc *time.Location) ([]ParsedEvent, []error, error) {
	if len(body) == 0 {
		return nil, nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse calendar: %w", err)
	}

	var (
		events []ParsedEvent
		errs   []error
	)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		events = append(events, ev)
	}
	return events, errs, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("vevent: missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, fmt.Errorf("vevent %s: missing DTSTART", out.UID)
	}
	start, allDay, err := propTime(startProp, loc)
	if err != nil {
		return out, fmt.Errorf("vevent %s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, _, err := propTime(endProp, loc)
		if err != nil {
			return out, fmt.Errorf("vevent %s: DTEND: %w", out.UID, err)
		}
		out.End = end
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	if ve.GetProperty(propRecurrenceID) != nil {
		out.IsOverride = true
	}

	return out, nil
}

// propTime resolves a DATE or DATE-TIME property, honoring VALUE and TZID.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	isDate := len(v) == len(dateLayout)
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		t, err := time.ParseInLocation(dateLayout, v, loc)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(utcLayout, v)
		return t, false, err
	}

	zone := loc
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if tl, err := time.LoadLocation(strings.Trim(tzs[0], `"`)); err == nil {
			zone = tl
		}
	}
	t, err := time.ParseInLocation(localLayout, v, zone)
	return t, false, err
}
