// Package mirror runs sync passes: fetch source events, fetch previously
// mirrored destination events, reconcile, apply.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calmirror/internal/identity"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/normalize"
	"calmirror/internal/reconcile"
)

// Source reads raw events from one backend. Implementations must be
// comparable (pointer receivers) so connectivity is checked once per backend.
type Source interface {
	FetchEvents(ctx context.Context, calendarID string, w model.Window) ([]normalize.RawEvent, error)
	TestConnectivity(ctx context.Context) error
}

// Destination mutates the mirror calendar.
type Destination interface {
	Authenticate(ctx context.Context, allowInteractive bool) error
	// FetchTagged returns destination events whose title carries one of
	// prefixes, keyed by decoded uid, each with DestinationID set.
	FetchTagged(ctx context.Context, w model.Window, prefixes []string) (map[string]model.Event, error)
	Create(ctx context.Context, ev model.Event) (string, error)
	Update(ctx context.Context, destinationID string, ev model.Event) error
	// Delete reports false when the event no longer exists.
	Delete(ctx context.Context, destinationID string) (bool, error)
}

// Calendar binds a source calendar id to the backend serving it.
type Calendar struct {
	ID     string
	Source Source
}

// Options are the operating parameters of a pass.
type Options struct {
	PastHorizon   time.Duration
	FutureHorizon time.Duration
	DeleteRemoved bool
	Policy        reconcile.UpdatePolicy
}

// PassResult describes one finished pass.
type PassResult struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Summary  model.Summary
	Err      error
}

// Observer is notified after every pass.
type Observer interface {
	ObservePass(PassResult)
}

type passIDKey struct{}

// PassID returns the id of the pass running under ctx, if any.
func PassID(ctx context.Context) string {
	id, _ := ctx.Value(passIDKey{}).(string)
	return id
}

// Orchestrator executes sync passes. It holds no event state between passes;
// the destination calendar is the only record of what was mirrored.
type Orchestrator struct {
	calendars  []Calendar
	dest       Destination
	codec      identity.Codec
	normalizer *normalize.Normalizer
	opts       Options
	logger     *appLog.Logger
	observers  []Observer
	now        func() time.Time
}

// New creates an Orchestrator.
func New(calendars []Calendar, dest Destination, codec identity.Codec, normalizer *normalize.Normalizer, opts Options, logger *appLog.Logger, observers ...Observer) *Orchestrator {
	if logger == nil {
		logger = appLog.Nop()
	}
	if opts.Policy == nil {
		opts.Policy = reconcile.NeverUpdate
	}
	return &Orchestrator{
		calendars:  calendars,
		dest:       dest,
		codec:      codec,
		normalizer: normalizer,
		opts:       opts,
		logger:     logger,
		observers:  observers,
		now:        time.Now,
	}
}

// Prefixes returns the title prefixes of all configured calendars.
func (o *Orchestrator) Prefixes() []string {
	seen := make(map[string]struct{}, len(o.calendars))
	out := make([]string, 0, len(o.calendars))
	for _, cal := range o.calendars {
		p := model.TitlePrefix(model.SourceTag(cal.ID))
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// CheckSources tests connectivity of every distinct source backend.
func (o *Orchestrator) CheckSources(ctx context.Context) error {
	var checked []Source
outer:
	for _, cal := range o.calendars {
		for _, s := range checked {
			if s == cal.Source {
				continue outer
			}
		}
		checked = append(checked, cal.Source)
		if err := cal.Source.TestConnectivity(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	}
	return nil
}

// RunOnce performs one pass. Only source connectivity, source fetch,
// authentication and mirrored-event fetch failures abort it; individual
// create/update/delete failures are logged and counted in Summary.Failed.
func (o *Orchestrator) RunOnce(ctx context.Context) (model.Summary, error) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, passIDKey{}, id)
	logger := o.logger.With("pass_id", id)
	started := o.now()

	summary, err := o.runOnce(ctx, logger)

	res := PassResult{
		ID:       id,
		Started:  started,
		Duration: o.now().Sub(started),
		Summary:  summary,
		Err:      err,
	}
	for _, obs := range o.observers {
		obs.ObservePass(res)
	}

	if err != nil {
		logger.Error("sync pass failed", err, "duration", res.Duration)
		return summary, err
	}
	logger.Info("sync pass completed",
		"created", summary.Created,
		"updated", summary.Updated,
		"deleted", summary.Deleted,
		"failed", summary.Failed,
		"duration", res.Duration,
	)
	return summary, nil
}

func (o *Orchestrator) runOnce(ctx context.Context, logger *appLog.Logger) (model.Summary, error) {
	var summary model.Summary

	logger.Info("sync pass starting", "calendars", len(o.calendars))

	if err := o.CheckSources(ctx); err != nil {
		return summary, err
	}

	if err := o.dest.Authenticate(ctx, false); err != nil {
		return summary, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	window := model.NewWindow(o.now(), o.opts.PastHorizon, o.opts.FutureHorizon)

	source, err := o.fetchSource(ctx, window, logger)
	if err != nil {
		return summary, err
	}

	prefixes := o.Prefixes()
	logger.Debug("fetching mirrored events", "prefixes", prefixes)
	mirrored, err := o.dest.FetchTagged(ctx, window, prefixes)
	if err != nil {
		return summary, fmt.Errorf("fetch mirrored events: %w", err)
	}
	logger.Info("fetched events", "source", len(source), "mirrored", len(mirrored))

	actions := reconcile.Reconcile(source, mirrored, reconcile.Options{
		DeleteRemoved: o.opts.DeleteRemoved,
		Policy:        o.opts.Policy,
	})
	logger.Info("reconciled",
		"to_create", len(actions.Create),
		"to_update", len(actions.Update),
		"to_delete", len(actions.Delete),
	)

	o.apply(ctx, actions, &summary, logger)
	return summary, nil
}

// fetchSource merges every calendar's events into one uid-keyed list. A uid
// repeated across calendars keeps its first position and the last content.
func (o *Orchestrator) fetchSource(ctx context.Context, w model.Window, logger *appLog.Logger) ([]model.Event, error) {
	var order []string
	byUID := make(map[string]model.Event)

	for _, cal := range o.calendars {
		tag := model.SourceTag(cal.ID)
		raws, err := cal.Source.FetchEvents(ctx, cal.ID, w)
		if err != nil {
			return nil, &FetchError{Calendar: cal.ID, Err: err}
		}

		kept := 0
		for _, raw := range raws {
			ev, err := o.normalizer.Normalize(raw)
			if err != nil {
				logger.Warn("skipping source event", "calendar", cal.ID, "err", err)
				continue
			}
			ev.SourceTag = tag

			prev, exists := byUID[ev.UID]
			if !exists {
				order = append(order, ev.UID)
			} else if prev.SourceTag != tag {
				logger.Debug("uid present in several calendars; last calendar wins",
					"uid", ev.UID, "previous_tag", prev.SourceTag, "tag", tag)
			}
			byUID[ev.UID] = ev
			kept++

			logger.Debug("source event",
				"calendar", cal.ID, "uid", ev.UID, "title", ev.Title,
				"start", ev.Start, "end", ev.End, "all_day", ev.AllDay)
		}
		logger.Info("fetched source calendar", "calendar", cal.ID, "tag", tag, "events", kept)
	}

	out := make([]model.Event, 0, len(order))
	for _, uid := range order {
		out = append(out, byUID[uid])
	}
	return out, nil
}

func (o *Orchestrator) apply(ctx context.Context, actions model.ActionSet, summary *model.Summary, logger *appLog.Logger) {
	for _, ev := range actions.Create {
		destID, err := o.dest.Create(ctx, o.codec.Encode(ev))
		if err != nil {
			summary.Failed++
			logger.Error("create failed", err, "uid", ev.UID, "title", ev.Title)
			continue
		}
		summary.Created++
		logger.Info("created event", "uid", ev.UID, "title", ev.Title, "start", ev.Start, "destination_id", destID)
	}

	for _, u := range actions.Update {
		if err := o.dest.Update(ctx, u.DestinationID, o.codec.Encode(u.Event)); err != nil {
			summary.Failed++
			logger.Error("update failed", err, "uid", u.Event.UID, "destination_id", u.DestinationID)
			continue
		}
		summary.Updated++
		logger.Info("updated event", "uid", u.Event.UID, "title", u.Event.Title, "destination_id", u.DestinationID)
	}

	if !o.opts.DeleteRemoved {
		return
	}
	for _, destID := range actions.Delete {
		ok, err := o.dest.Delete(ctx, destID)
		if err != nil {
			summary.Failed++
			logger.Error("delete failed", err, "destination_id", destID)
			continue
		}
		if !ok {
			logger.Warn("event already gone from destination", "destination_id", destID)
			continue
		}
		summary.Deleted++
		logger.Info("deleted event", "destination_id", destID)
	}
}

// Purge deletes every mirrored destination event in the current window.
// confirm, if non-nil, is asked before anything is deleted.
func (o *Orchestrator) Purge(ctx context.Context, allowInteractive bool, confirm func(n int) bool) (int, error) {
	if err := o.dest.Authenticate(ctx, allowInteractive); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	window := model.NewWindow(o.now(), o.opts.PastHorizon, o.opts.FutureHorizon)
	prefixes := o.Prefixes()
	mirrored, err := o.dest.FetchTagged(ctx, window, prefixes)
	if err != nil {
		return 0, fmt.Errorf("fetch mirrored events: %w", err)
	}
	if len(mirrored) == 0 {
		o.logger.Info("no mirrored events found to delete", "prefixes", prefixes)
		return 0, nil
	}
	if confirm != nil && !confirm(len(mirrored)) {
		o.logger.Info("purge cancelled")
		return 0, nil
	}

	deleted := 0
	var errs []error
	for uid, ev := range mirrored {
		ok, err := o.dest.Delete(ctx, ev.DestinationID)
		if err != nil {
			errs = append(errs, err)
			o.logger.Error("delete failed", err, "uid", uid, "title", ev.Title)
			continue
		}
		if ok {
			deleted++
			o.logger.Info("deleted event", "uid", uid, "title", ev.Title)
		}
	}
	o.logger.Info("purge complete", "deleted", deleted, "failed", len(errs))
	return deleted, errors.Join(errs...)
}
