package identity

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

func TestMarkerCodecRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewMarkerCodec("")
	uids := []string{"A", "abc-123@homeassistant", "with spaces", "ünïcode", "a:b:c", "[leading"}

	for _, uid := range uids {
		uid := uid
		t.Run(uid, func(t *testing.T) {
			t.Parallel()
			for _, desc := range []string{"", "   ", "notes", "line1\nline2"} {
				enc := c.Encode(model.Event{UID: uid, Description: desc, DestinationID: "dest-1"})
				got, embedded := c.Decode(enc)
				assert.True(t, embedded)
				assert.Equal(t, uid, got)
			}
		})
	}
}

func TestMarkerCodecEncode(t *testing.T) {
	t.Parallel()

	c := NewMarkerCodec("")

	ev := c.Encode(model.Event{UID: "A"})
	assert.Equal(t, "[HA_UID:A]", ev.Description)

	ev = c.Encode(model.Event{UID: "A", Description: "Bring snacks"})
	assert.Equal(t, "Bring snacks\n\n[HA_UID:A]", ev.Description)

	again := c.Encode(ev)
	assert.Equal(t, ev.Description, again.Description, "encoding is idempotent")

	noUID := c.Encode(model.Event{Description: "x"})
	assert.Equal(t, "x", noUID.Description)
}

func TestMarkerCodecDecodeFallback(t *testing.T) {
	t.Parallel()

	c := NewMarkerCodec("")

	tests := []struct {
		name         string
		desc         string
		wantUID      string
		wantEmbedded bool
	}{
		{name: "no marker", desc: "hello", wantUID: "dest-9"},
		{name: "empty marker", desc: "[HA_UID:]", wantUID: "dest-9"},
		{name: "unterminated marker", desc: "[HA_UID:abc", wantUID: "dest-9"},
		{name: "other marker name", desc: "[XX_UID:abc]", wantUID: "dest-9"},
		{name: "marker in middle", desc: "a [HA_UID:abc] b", wantUID: "abc", wantEmbedded: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			uid, embedded := c.Decode(model.Event{Description: tt.desc, DestinationID: "dest-9"})
			assert.Equal(t, tt.wantUID, uid)
			assert.Equal(t, tt.wantEmbedded, embedded)
		})
	}
}

func TestMarkerCodecStrip(t *testing.T) {
	t.Parallel()

	c := NewMarkerCodec("")
	enc := c.Encode(model.Event{UID: "A", Description: "Bring snacks"})
	assert.Equal(t, "Bring snacks", c.Strip(enc.Description))
	assert.Equal(t, "", c.Strip("[HA_UID:A]"))
	assert.Equal(t, "untouched", c.Strip("untouched"))
}

func TestCustomMarkerName(t *testing.T) {
	t.Parallel()

	c := NewMarkerCodec("SRC.ID")
	ev := c.Encode(model.Event{UID: "u1"})
	assert.Equal(t, "[SRC.ID:u1]", ev.Description)

	_, embedded := c.Decode(model.Event{Description: "[SRCxID:u1]"})
	assert.False(t, embedded, "name is matched literally")
}

func TestIndex(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := appLog.New(&buf, appLog.LevelDebug)
	c := NewMarkerCodec("")

	events := []model.Event{
		{Title: "[Ian] Standup", Description: "[HA_UID:A]", DestinationID: "d1"},
		{Title: "[Bob] Gym", Description: "legs\n\n[HA_UID:B]", DestinationID: "d2"},
		{Title: "Dentist", Description: "[HA_UID:C]", DestinationID: "d3"},
		{Title: "[Ian] Legacy", Description: "made by hand", DestinationID: "d4"},
		{Title: "[Ian] Standup copy", Description: "[HA_UID:A]", DestinationID: "d5"},
	}

	got := Index(events, []string{"[Ian]", "[Bob]"}, c, logger)

	require.Len(t, got, 3)
	assert.Equal(t, "d5", got["A"].DestinationID, "later duplicate wins")
	assert.Equal(t, "A", got["A"].UID)
	assert.Equal(t, "d2", got["B"].DestinationID)
	assert.Equal(t, "d4", got["d4"].DestinationID, "legacy event keyed by destination id")
	assert.NotContains(t, got, "C", "unprefixed events are invisible")
	assert.Contains(t, buf.String(), "duplicate uid")
}
