package normalize

import (
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// fallbackLayouts is the ordered list tried after the format-native RFC-822
// date parse. Order matters: the first successful parse wins.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
}

// ParseTimestamp interprets a raw timestamp string from an adapter. It tries
// the RFC-822 mail date first, then the fallback layouts, then unix epoch
// (seconds or milliseconds by magnitude). Unparseable input returns nil:
// an unknown timestamp is recorded as unknown, never guessed.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if t, err := mail.ParseDate(raw); err == nil {
		u := t.UTC()
		return &u
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		var t time.Time
		switch {
		case n >= 1e12: // milliseconds
			t = time.UnixMilli(n)
		case n >= 1e8: // seconds
			t = time.Unix(n, 0)
		default:
			return nil
		}
		u := t.UTC()
		return &u
	}

	return nil
}
