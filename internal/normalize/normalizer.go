package normalize

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseward/forensics-cli/internal/adapter"
	"github.com/caseward/forensics-cli/internal/model"
)

// Result is the outcome of normalizing one source's record stream. The
// integrity counts always satisfy Attempted == Extracted + Skipped.
type Result struct {
	Messages     []model.Message
	Participants []model.Participant
	Attempted    int
	Extracted    int
	Skipped      int
	Earliest     *time.Time
	Latest       *time.Time
}

// Consume drains an adapter record stream into canonical Messages for the
// given source. Corrupt records are counted and dropped; a container-level
// error from the adapter aborts with the counts accumulated so far. Identity
// resolution runs after the stream ends so the phone-number country-code
// heuristic sees the whole source.
func Consume(ctx context.Context, sourceID string, records <-chan adapter.RawRecord, errs <-chan error) (*Result, error) {
	res := &Result{}
	var raws []adapter.RawRecord

	for rec := range records {
		res.Attempted++
		if rec.Corrupt {
			res.Skipped++
			zap.L().Debug("normalize: skipping corrupt record",
				zap.String("source_id", sourceID),
				zap.String("reason", rec.CorruptReason),
			)
			continue
		}
		res.Extracted++
		raws = append(raws, rec)
	}

	// The adapter closes both channels when done; a buffered fatal error (if
	// any) is still readable here.
	if err := <-errs; err != nil {
		return res, err
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	resolver := NewResolver(collectIdentifiers(raws))
	seen := map[string]model.Participant{}

	resolve := func(raw string) string {
		id := resolver.Resolve(raw)
		if _, ok := seen[id.Resolved]; !ok {
			seen[id.Resolved] = model.Participant{
				ID:       uuid.New().String(),
				SourceID: sourceID,
				Raw:      id.Raw,
				Resolved: id.Resolved,
				Kind:     id.Kind,
			}
		}
		return id.Resolved
	}

	for _, rec := range raws {
		msg := model.Message{
			ID:        uuid.New().String(),
			SourceID:  sourceID,
			Sender:    resolve(rec.Sender),
			Body:      rec.Body,
			RawHeader: rec.RawHeader,
			Deleted:   rec.Deleted,
			SentAt:    ParseTimestamp(rec.Timestamp),
		}
		for _, r := range rec.Recipients {
			msg.Recipients = append(msg.Recipients, resolve(r))
		}

		if msg.SentAt != nil {
			if res.Earliest == nil || msg.SentAt.Before(*res.Earliest) {
				res.Earliest = msg.SentAt
			}
			if res.Latest == nil || msg.SentAt.After(*res.Latest) {
				res.Latest = msg.SentAt
			}
		}
		res.Messages = append(res.Messages, msg)
	}

	res.Participants = make([]model.Participant, 0, len(seen))
	for _, p := range seen {
		res.Participants = append(res.Participants, p)
	}
	sort.Slice(res.Participants, func(i, j int) bool {
		return res.Participants[i].Resolved < res.Participants[j].Resolved
	})

	return res, nil
}

func collectIdentifiers(raws []adapter.RawRecord) []string {
	var ids []string
	for _, rec := range raws {
		ids = append(ids, rec.Sender)
		ids = append(ids, rec.Recipients...)
	}
	return ids
}
