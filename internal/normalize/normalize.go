package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// ErrMalformedEvent marks a payload that cannot become a model.Event.
var ErrMalformedEvent = errors.New("malformed event")

const dateLayout = "2006-01-02"

// Offset-less layouts; parsed in the Normalizer's default location.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"20060102T150405",
}

// Layouts carrying an explicit offset or Z suffix.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"20060102T150405Z07:00",
	"20060102T150405Z",
}

// RawEvent is one backend-native event before normalization.
type RawEvent struct {
	UID         string       `json:"uid"`
	Title       string       `json:"summary"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Start       RawTimestamp `json:"start"`
	End         RawTimestamp `json:"end"`
}

// Normalizer turns RawEvents into model.Events. Timestamps without an offset
// are interpreted in the configured default location.
type Normalizer struct {
	loc    *time.Location
	now    func() time.Time
	logger *appLog.Logger
}

// New creates a Normalizer. A nil loc falls back to time.Local.
func New(loc *time.Location, logger *appLog.Logger) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = appLog.Nop()
	}
	return &Normalizer{loc: loc, now: time.Now, logger: logger}
}

// WithClock overrides the clock used for substituted timestamps.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	c := *n
	c.now = now
	return &c
}

// Location returns the default location.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize converts raw into a model.Event. Only a missing UID is fatal;
// unparseable timestamps are replaced with the current time and logged.
func (n *Normalizer) Normalize(raw RawEvent) (model.Event, error) {
	uid := strings.TrimSpace(raw.UID)
	if uid == "" {
		return model.Event{}, fmt.Errorf("%w: missing uid (summary %q)", ErrMalformedEvent, raw.Title)
	}

	ev := model.Event{
		UID:         uid,
		Title:       raw.Title,
		Description: raw.Description,
		Location:    raw.Location,
	}

	start, startDateOnly := n.timestampOrNow(uid, "start", raw.Start)
	ev.AllDay = startDateOnly
	ev.Start = start

	if raw.End.IsZero() {
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start
		}
		return ev, nil
	}

	end, _ := n.timestampOrNow(uid, "end", raw.End)
	if ev.AllDay {
		end = midnight(end.In(n.loc))
		if !end.After(ev.Start) {
			end = ev.Start.AddDate(0, 0, 1)
		}
	} else if end.Before(ev.Start) {
		n.logger.Warn("event ends before it starts; clamping end to start",
			"uid", uid, "start", ev.Start, "end", end)
		end = ev.Start
	}
	ev.End = end

	return ev, nil
}

// ParseTimestamp decodes ts. dateOnly is true when the raw value carried no
// time-of-day component.
func (n *Normalizer) ParseTimestamp(ts RawTimestamp) (t time.Time, dateOnly bool, err error) {
	switch ts.kind {
	case KindDateOnly:
		return time.Date(ts.year, ts.month, ts.day, 0, 0, 0, 0, n.loc), true, nil
	case KindInstant:
		if ts.instant.IsZero() {
			return time.Time{}, false, errors.New("zero instant")
		}
		return ts.instant, false, nil
	case KindText:
		return n.parseText(ts.text, ts.zone)
	default:
		return time.Time{}, false, errors.New("missing timestamp")
	}
}

func (n *Normalizer) parseText(s, zone string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, errors.New("empty timestamp")
	}

	loc := n.loc
	if zone != "" {
		if zl, err := time.LoadLocation(zone); err == nil {
			loc = zl
		}
	}

	if len(s) == len(dateLayout) {
		if d, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
			return d, true, nil
		}
	}
	if len(s) == len("20060102") {
		if d, err := time.ParseInLocation("20060102", s, loc); err == nil {
			return d, true, nil
		}
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised timestamp %q", s)
}

func (n *Normalizer) timestampOrNow(uid, field string, ts RawTimestamp) (time.Time, bool) {
	t, dateOnly, err := n.ParseTimestamp(ts)
	if err != nil {
		n.logger.Warn("could not parse timestamp; substituting current time",
			"uid", uid, "field", field, "kind", ts.Kind(), "raw", ts.String(), "err", err)
		return n.now().In(n.loc), false
	}
	return t, dateOnly
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
