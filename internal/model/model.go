package model

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Event is the canonical in-memory shape of a calendar event, shared by
// source and destination backends.
type Event struct {
	// UID is assigned by the source system and stable for the event's lifetime.
	UID string

	Title       string
	Description string
	Location    string

	// Start / End carry the offset they were parsed with. For all-day events
	// both are midnight and only the date is meaningful.
	Start  time.Time
	End    time.Time
	AllDay bool

	// SourceTag labels the source calendar the event came from (e.g. "Ian").
	SourceTag string

	// DestinationID is set only for events read back from the destination.
	DestinationID string
}

// Window is the [Start, End) range covered by one sync pass.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow computes [now - past, now + future).
func NewWindow(now time.Time, past, future time.Duration) Window {
	return Window{
		Start: now.Add(-past),
		End:   now.Add(future),
	}
}

// Overlaps reports whether [start, end] intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(start) {
		end = start
	}
	if !start.Before(w.End) {
		return false
	}
	return !end.Before(w.Start)
}

// Update pairs a destination id with the content it should be rewritten to.
type Update struct {
	DestinationID string
	Event         Event
}

// ActionSet is the reconciliation result for one pass.
type ActionSet struct {
	Create []Event
	Update []Update
	Delete []string
}

// Empty reports whether no action is needed.
func (a ActionSet) Empty() bool {
	return len(a.Create) == 0 && len(a.Update) == 0 && len(a.Delete) == 0
}

// Summary counts the outcome of one pass.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// SourceTag derives the tag for a source calendar id:
// "calendar.ian" -> "Ian", "family" -> "Family".
func SourceTag(calendarID string) string {
	name := strings.TrimSpace(calendarID)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(first)) + strings.ToLower(name[size:])
}

// TitlePrefix is the bracketed marker placed in front of mirrored titles.
func TitlePrefix(tag string) string {
	return "[" + tag + "]"
}

// PrefixedTitle returns title as it appears on the destination.
func PrefixedTitle(tag, title string) string {
	return TitlePrefix(tag) + " " + title
}

// HasAnyPrefix reports whether title starts with one of prefixes.
func HasAnyPrefix(title string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(title, p) {
			return true
		}
	}
	return false
}
