package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseward/forensics-cli/internal/model"
)

// drain collects the full record stream and the terminal error, mirroring how
// the normalizer consumes an adapter.
func drain(t *testing.T, records <-chan RawRecord, errs <-chan error) ([]RawRecord, error) {
	t.Helper()
	var out []RawRecord
	for rec := range records {
		out = append(out, rec)
	}
	return out, <-errs
}

func countCorrupt(recs []RawRecord) int {
	n := 0
	for _, r := range recs {
		if r.Corrupt {
			n++
		}
	}
	return n
}

func TestFor(t *testing.T) {
	for _, kind := range []model.SourceKind{
		model.KindMailbox, model.KindMessageFile, model.KindBackupDB, model.KindVault,
	} {
		adp, err := For(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, adp.Kind())
	}

	_, err := For(model.SourceKind("zip"))
	assert.Error(t, err)
}

func TestSourceUnreadableError(t *testing.T) {
	err := unreadable(model.KindVault, "bad magic bytes", nil)
	assert.True(t, IsSourceUnreadable(err))
	assert.Contains(t, err.Error(), "vault")
	assert.Contains(t, err.Error(), "bad magic bytes")

	assert.False(t, IsSourceUnreadable(context.Canceled))
	assert.False(t, IsSourceUnreadable(nil))
}
