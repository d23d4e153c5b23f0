// Package reconcile computes the create/update/delete actions that make the
// mirrored destination events match the source events.
package reconcile

import (
	"sort"
	"strings"
	"time"

	"calmirror/internal/identity"
	"calmirror/internal/model"
)

// UpdatePolicy decides whether a mirrored destination event must be rewritten
// with the (already prefixed) source content.
type UpdatePolicy interface {
	NeedsUpdate(source, mirrored model.Event) bool
}

// UpdatePolicyFunc adapts a function to UpdatePolicy.
type UpdatePolicyFunc func(source, mirrored model.Event) bool

func (f UpdatePolicyFunc) NeedsUpdate(source, mirrored model.Event) bool {
	return f(source, mirrored)
}

// NeverUpdate only ever creates and deletes.
var NeverUpdate UpdatePolicy = UpdatePolicyFunc(func(model.Event, model.Event) bool { return false })

// ContentChanged compares title, description, location, all-day flag and
// bounds. Descriptions are compared with identity markers stripped and line
// endings and trailing whitespace normalized.
type ContentChanged struct {
	Codec identity.Codec
}

func (p ContentChanged) NeedsUpdate(source, mirrored model.Event) bool {
	if source.Title != mirrored.Title {
		return true
	}
	if strings.TrimSpace(source.Location) != strings.TrimSpace(mirrored.Location) {
		return true
	}
	if p.cleanDescription(source.Description) != p.cleanDescription(mirrored.Description) {
		return true
	}
	if source.AllDay != mirrored.AllDay {
		return true
	}
	if source.AllDay {
		return !sameDate(source.Start, mirrored.Start) || !sameDate(source.End, mirrored.End)
	}
	return !source.Start.Equal(mirrored.Start) || !source.End.Equal(mirrored.End)
}

func (p ContentChanged) cleanDescription(s string) string {
	if p.Codec != nil {
		s = p.Codec.Strip(s)
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Options controls one reconciliation.
type Options struct {
	// DeleteRemoved propagates source deletions to the destination.
	DeleteRemoved bool
	// Policy decides updates; nil means NeverUpdate.
	Policy UpdatePolicy
}

// Prefixed returns ev with its title carrying the source tag prefix.
func Prefixed(ev model.Event) model.Event {
	if ev.SourceTag != "" {
		ev.Title = model.PrefixedTitle(ev.SourceTag, ev.Title)
	}
	return ev
}

// Reconcile computes the actions for source (raw titles, in fetch order)
// against mirrored (keyed by uid, each carrying a DestinationID).
//
// Titles are prefixed once here, so created events and update comparisons see
// the same form. Creates and updates follow source order; deletes are sorted
// by uid.
func Reconcile(source []model.Event, mirrored map[string]model.Event, opts Options) model.ActionSet {
	policy := opts.Policy
	if policy == nil {
		policy = NeverUpdate
	}

	var actions model.ActionSet
	seen := make(map[string]struct{}, len(source))

	for _, raw := range source {
		ev := Prefixed(raw)
		seen[ev.UID] = struct{}{}

		existing, ok := mirrored[ev.UID]
		if !ok {
			actions.Create = append(actions.Create, ev)
			continue
		}
		if policy.NeedsUpdate(ev, existing) {
			ev.DestinationID = existing.DestinationID
			actions.Update = append(actions.Update, model.Update{
				DestinationID: existing.DestinationID,
				Event:         ev,
			})
		}
	}

	if !opts.DeleteRemoved {
		return actions
	}

	uids := make([]string, 0, len(mirrored))
	for uid := range mirrored {
		if _, ok := seen[uid]; !ok {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)
	for _, uid := range uids {
		actions.Delete = append(actions.Delete, mirrored[uid].DestinationID)
	}

	return actions
}
