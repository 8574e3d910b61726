package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc822 mail date", "Mon, 04 Mar 2024 10:00:00 +0000", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
		{"rfc822 with zone offset", "Mon, 04 Mar 2024 10:00:00 +0200", time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"rfc3339", "2024-03-04T10:00:00Z", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
		{"sql datetime", "2024-03-04 10:00:00", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
		{"date only", "2024-03-04", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"epoch seconds", "1709546400", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
		{"epoch milliseconds", "1709546400000", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.raw)
			require.NotNil(t, got)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimestamp_UnknownStaysUnknown(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"yesterday",
		"13/45/9999",
		"12345", // too small for an epoch
	} {
		assert.Nil(t, ParseTimestamp(raw), "%q should not parse", raw)
	}
}
