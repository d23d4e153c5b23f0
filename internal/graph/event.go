package graph

import (
	"time"

	"calmirror/internal/model"
	"calmirror/internal/normalize"
)

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type location struct {
	DisplayName string `json:"displayName"`
}

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID       string            `json:"id,omitempty"`
	Subject  string            `json:"subject"`
	Body     *itemBody         `json:"body,omitempty"`
	Location *location         `json:"location,omitempty"`
	Start    *dateTimeTimeZone `json:"start,omitempty"`
	End      *dateTimeTimeZone `json:"end,omitempty"`
	IsAllDay bool              `json:"isAllDay"`
}

// fromModel renders ev for POST/PATCH. All-day bounds become UTC midnights
// of their own calendar dates, which is the form Graph requires.
func fromModel(ev model.Event) graphEvent {
	ge := graphEvent{
		Subject:  ev.Title,
		Body:     &itemBody{ContentType: "text", Content: ev.Description},
		Location: &location{DisplayName: ev.Location},
		IsAllDay: ev.AllDay,
	}
	if ev.AllDay {
		ge.Start = &dateTimeTimeZone{DateTime: dateAsUTC(ev.Start).Format(graphTimeLayout), TimeZone: "UTC"}
		end := dateAsUTC(ev.End)
		if !end.After(dateAsUTC(ev.Start)) {
			end = dateAsUTC(ev.Start).AddDate(0, 0, 1)
		}
		ge.End = &dateTimeTimeZone{DateTime: end.Format(graphTimeLayout), TimeZone: "UTC"}
		return ge
	}
	ge.Start = &dateTimeTimeZone{DateTime: ev.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
	ge.End = &dateTimeTimeZone{DateTime: ev.End.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
	return ge
}

func dateAsUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// toModel converts a calendarView item. norm must use UTC, matching the
// Prefer header sent with every request.
func (ge graphEvent) toModel(norm *normalize.Normalizer) (model.Event, error) {
	raw := normalize.RawEvent{
		UID:   ge.ID,
		Title: ge.Subject,
	}
	if ge.Body != nil {
		raw.Description = ge.Body.Content
	}
	if ge.Location != nil {
		raw.Location = ge.Location.DisplayName
	}
	if ge.Start != nil {
		raw.Start = normalize.TextInZone(ge.Start.DateTime, ge.Start.TimeZone)
	}
	if ge.End != nil {
		raw.End = normalize.TextInZone(ge.End.DateTime, ge.End.TimeZone)
	}

	ev, err := norm.Normalize(raw)
	if err != nil {
		return model.Event{}, err
	}
	ev.AllDay = ge.IsAllDay
	ev.DestinationID = ge.ID
	return ev, nil
}
