// Package ics reads mirror source events from ICS subscription feeds.
package ics

import (
	"context"
	"fmt"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/normalize"
)

// Source serves a fixed set of feeds keyed by feed id.
type Source struct {
	fetcher *Fetcher
	feeds   map[string]Feed
	order   []string
	loc     *time.Location
	logger  *appLog.Logger
}

// NewSource creates a Source over feeds. loc is used for floating times.
func NewSource(fetcher *Fetcher, feeds []Feed, loc *time.Location, logger *appLog.Logger) *Source {
	if logger == nil {
		logger = appLog.Nop()
	}
	s := &Source{
		fetcher: fetcher,
		feeds:   make(map[string]Feed, len(feeds)),
		loc:     loc,
		logger:  logger,
	}
	for _, f := range feeds {
		if _, dup := s.feeds[f.ID]; !dup {
			s.order = append(s.order, f.ID)
		}
		s.feeds[f.ID] = f
	}
	return s
}

// CalendarIDs returns the ids of all served feeds in configuration order.
func (s *Source) CalendarIDs() []string {
	return append([]string(nil), s.order...)
}

// FetchEvents returns the VEVENTs of calendarID overlapping w. Recurrence
// overrides are skipped and recurring events contribute only their first
// occurrence.
func (s *Source) FetchEvents(ctx context.Context, calendarID string, w model.Window) ([]normalize.RawEvent, error) {
	feed, ok := s.feeds[calendarID]
	if !ok {
		return nil, fmt.Errorf("unknown ics feed %q", calendarID)
	}

	res, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}

	parsed, perrs, err := ParseICS(res.Body, s.loc)
	if err != nil {
		return nil, err
	}
	for _, perr := range perrs {
		s.logger.Warn("skipping unparseable vevent", "id", feed.ID, "err", perr)
	}

	out := make([]normalize.RawEvent, 0, len(parsed))
	skipped := 0
	for _, p := range parsed {
		if p.IsOverride {
			skipped++
			continue
		}
		if !p.overlaps(w) {
			continue
		}
		if p.RawRRule != "" {
			s.logger.Debug("recurring event mirrored as single occurrence", "id", feed.ID, "uid", p.UID)
		}
		out = append(out, p.Raw())
	}

	s.logger.Info("ics events parsed",
		"id", feed.ID,
		"from_cache", res.FromCache,
		"total", len(parsed),
		"in_window", len(out),
		"overrides_skipped", skipped,
	)
	return out, nil
}

// TestConnectivity fetches every feed through the conditional cache, so a
// feed that is down but has a cached copy still counts as reachable.
func (s *Source) TestConnectivity(ctx context.Context) error {
	for _, id := range s.order {
		if _, err := s.fetcher.Fetch(ctx, s.feeds[id]); err != nil {
			return fmt.Errorf("ics feed %q: %w", id, err)
		}
	}
	return nil
}
