// Package identity embeds source uids into destination event content and
// recovers them, so a destination with no notion of the source can still be
// matched event-for-event.
package identity

import (
	"regexp"
	"strings"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// DefaultMarkerName is the label used inside description markers.
const DefaultMarkerName = "HA_UID"

// Codec carries a source uid through a destination event.
type Codec interface {
	// Encode returns ev with its UID embedded. Encoding twice is a no-op.
	Encode(ev model.Event) model.Event
	// Decode recovers the uid of a destination event. embedded is false when
	// the value is the destination id fallback.
	Decode(ev model.Event) (uid string, embedded bool)
	// Strip removes any identity marker from a description.
	Strip(description string) string
}

// MarkerCodec appends "[NAME:uid]" to the event description.
type MarkerCodec struct {
	name    string
	pattern *regexp.Regexp
}

// NewMarkerCodec returns a MarkerCodec; an empty name uses DefaultMarkerName.
func NewMarkerCodec(name string) *MarkerCodec {
	if name == "" {
		name = DefaultMarkerName
	}
	return &MarkerCodec{
		name:    name,
		pattern: regexp.MustCompile(`\[` + regexp.QuoteMeta(name) + `:([^\]]+)\]`),
	}
}

// Marker renders the marker token for uid.
func (c *MarkerCodec) Marker(uid string) string {
	return "[" + c.name + ":" + uid + "]"
}

func (c *MarkerCodec) Encode(ev model.Event) model.Event {
	if ev.UID == "" {
		return ev
	}
	marker := c.Marker(ev.UID)
	if strings.Contains(ev.Description, marker) {
		return ev
	}
	if strings.TrimSpace(ev.Description) != "" {
		ev.Description = ev.Description + "\n\n" + marker
	} else {
		ev.Description = marker
	}
	return ev
}

func (c *MarkerCodec) Decode(ev model.Event) (string, bool) {
	if m := c.pattern.FindStringSubmatch(ev.Description); m != nil {
		return m[1], true
	}
	return ev.DestinationID, false
}

func (c *MarkerCodec) Strip(description string) string {
	out := c.pattern.ReplaceAllString(description, "")
	return strings.TrimRight(out, " \t\r\n")
}

// Index builds the mirrored map consumed by the reconciler: destination
// events whose title carries one of prefixes, keyed by decoded uid. Other
// events are ignored. A uid seen twice is logged and the later event wins.
func Index(events []model.Event, prefixes []string, codec Codec, logger *appLog.Logger) map[string]model.Event {
	if logger == nil {
		logger = appLog.Nop()
	}
	out := make(map[string]model.Event, len(events))
	for _, ev := range events {
		if !model.HasAnyPrefix(ev.Title, prefixes) {
			continue
		}
		uid, embedded := codec.Decode(ev)
		if uid == "" {
			continue
		}
		if !embedded {
			logger.Debug("no identity marker; using destination id", "title", ev.Title, "destination_id", ev.DestinationID)
		}
		if prev, dup := out[uid]; dup {
			logger.Warn("duplicate uid among mirrored events; keeping the later one",
				"uid", uid, "title", ev.Title,
				"previous_destination_id", prev.DestinationID,
				"destination_id", ev.DestinationID)
		}
		ev.UID = uid
		out[uid] = ev
	}
	return out
}
