package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/model"
	"calmirror/internal/normalize"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:timed-1\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"SUMMARY:Dentist\r\n" +
	"LOCATION:High St\r\n" +
	"DTSTART:20250603T090000Z\r\n" +
	"DTEND:20250603T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allday-1\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20250605\r\n" +
	"DTEND;VALUE=DATE:20250606\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:zoned-1\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART;TZID=Europe/London:20250604T093000\r\n" +
	"DTEND;TZID=Europe/London:20250604T094500\r\n" +
	"RRULE:FREQ=DAILY\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:zoned-1\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"RECURRENCE-ID;TZID=Europe/London:20250605T093000\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"DTSTART;TZID=Europe/London:20250605T110000\r\n" +
	"DTEND;TZID=Europe/London:20250605T111500\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:old-1\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"SUMMARY:Long ago\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20250601T000000Z\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART:20250603T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	events, errs, err := ParseICS([]byte(sampleICS), london)
	require.NoError(t, err)
	assert.Len(t, errs, 1)
	require.Len(t, events, 5)

	byUID := map[string]ParsedEvent{}
	for _, ev := range events {
		if ev.IsOverride {
			continue
		}
		byUID[ev.UID] = ev
	}

	timed := byUID["timed-1"]
	assert.False(t, timed.AllDay)
	assert.True(t, timed.Start.Equal(time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "High St", timed.Location)

	allDay := byUID["allday-1"]
	assert.True(t, allDay.AllDay)
	assert.Equal(t, normalize.KindDateOnly, allDay.Raw().Start.Kind())
	assert.Equal(t, "2025-06-05", allDay.Raw().Start.String())

	zoned := byUID["zoned-1"]
	assert.Equal(t, "FREQ=DAILY", zoned.RawRRule)
	assert.True(t, zoned.Start.Equal(time.Date(2025, 6, 4, 8, 30, 0, 0, time.UTC)))
}

func TestParseICSRejectsEmptyBody(t *testing.T) {
	_, _, err := ParseICS(nil, time.UTC)
	assert.Error(t, err)
}

func TestFetcherUsesETagCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client(), nil)
	feed := Feed{ID: "family", URL: srv.URL + "/cal.ics"}

	first, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcherFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client(), nil)
	feed := Feed{ID: "family", URL: srv.URL}

	_, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	empty := NewFetcher(t.TempDir(), srv.Client(), nil)
	_, err = empty.Fetch(context.Background(), feed)
	assert.Error(t, err)
}

func TestSourceFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	src := NewSource(
		NewFetcher(t.TempDir(), srv.Client(), nil),
		[]Feed{{ID: "family", URL: srv.URL}},
		time.UTC,
		nil,
	)
	w := model.Window{
		Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	events, err := src.FetchEvents(context.Background(), "family", w)
	require.NoError(t, err)

	var uids []string
	for _, ev := range events {
		uids = append(uids, ev.UID)
	}
	assert.Equal(t, []string{"timed-1", "allday-1", "zoned-1"}, uids)
	assert.Equal(t, "Standup", events[2].Title)

	_, err = src.FetchEvents(context.Background(), "unknown", w)
	assert.Error(t, err)

	assert.NoError(t, src.TestConnectivity(context.Background()))
	assert.Equal(t, []string{"family"}, src.CalendarIDs())
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private.ics?token=abc"))
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com?token=abc"))
	assert.True(t, strings.HasPrefix(redactURL("not a url"), "ics://"))
}
