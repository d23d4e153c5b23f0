package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the variant held by a RawTimestamp.
type Kind int

const (
	KindNone Kind = iota
	KindDateOnly
	KindInstant
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindDateOnly:
		return "date"
	case KindInstant:
		return "instant"
	case KindText:
		return "text"
	default:
		return "none"
	}
}

// RawTimestamp is one backend-native timestamp: a civil date, a full instant,
// or unparsed text (optionally qualified by an IANA zone name).
type RawTimestamp struct {
	kind Kind

	year  int
	month time.Month
	day   int

	instant time.Time

	text string
	zone string
}

// DateOnly builds a date-only timestamp from t's calendar date.
func DateOnly(t time.Time) RawTimestamp {
	y, m, d := t.Date()
	return RawTimestamp{kind: KindDateOnly, year: y, month: m, day: d}
}

// Instant wraps a time value that already carries its own location.
func Instant(t time.Time) RawTimestamp {
	return RawTimestamp{kind: KindInstant, instant: t}
}

// Text wraps an ISO-8601-like string to be parsed by the Normalizer.
func Text(s string) RawTimestamp {
	return RawTimestamp{kind: KindText, text: s}
}

// TextInZone wraps a string whose offset-less form is local to zone.
func TextInZone(s, zone string) RawTimestamp {
	return RawTimestamp{kind: KindText, text: s, zone: zone}
}

func (r RawTimestamp) Kind() Kind {
	return r.kind
}

func (r RawTimestamp) IsZero() bool {
	return r.kind == KindNone
}

func (r RawTimestamp) String() string {
	switch r.kind {
	case KindDateOnly:
		return fmt.Sprintf("%04d-%02d-%02d", r.year, r.month, r.day)
	case KindInstant:
		return r.instant.Format(time.RFC3339Nano)
	case KindText:
		return r.text
	default:
		return ""
	}
}

// structuredTimestamp is the object form: {"dateTime": ...} or {"date": ...}.
type structuredTimestamp struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	TimeZone string `json:"timeZone"`
}

// UnmarshalJSON accepts null, a string, or a structured date/dateTime object.
func (r *RawTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = RawTimestamp{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*r = RawTimestamp{}
			return nil
		}
		*r = Text(s)
		return nil
	case '{':
		var st structuredTimestamp
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		switch {
		case st.DateTime != "":
			*r = TextInZone(st.DateTime, st.TimeZone)
		case st.Date != "":
			d, err := time.Parse(dateLayout, st.Date)
			if err != nil {
				// Left as text; the Normalizer fails soft on it.
				*r = Text(st.Date)
				return nil
			}
			*r = DateOnly(d)
		default:
			*r = RawTimestamp{}
		}
		return nil
	default:
		return fmt.Errorf("normalize: unsupported timestamp payload %s", string(data))
	}
}
