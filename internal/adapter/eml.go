package adapter

import (
	"context"
	"io"

	"github.com/caseward/forensics-cli/internal/model"
)

// MessageFileAdapter parses a single RFC-822 message file (.eml): exactly one
// record per invocation. It shares the mailbox adapter's header parsing.
type MessageFileAdapter struct{}

// NewMessageFile creates the single-message-file adapter.
func NewMessageFile() *MessageFileAdapter {
	return &MessageFileAdapter{}
}

func (a *MessageFileAdapter) Kind() model.SourceKind {
	return model.KindMessageFile
}

func (a *MessageFileAdapter) Parse(ctx context.Context, r io.Reader) (<-chan RawRecord, <-chan error) {
	recCh := make(chan RawRecord, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		raw, err := io.ReadAll(r)
		if err != nil {
			errCh <- unreadable(model.KindMessageFile, "read file", err)
			return
		}
		if len(raw) == 0 {
			errCh <- unreadable(model.KindMessageFile, "empty file", nil)
			return
		}

		rec := parseMailMessage(raw)
		if rec.Corrupt {
			// A single-message file with unparseable headers is an unreadable
			// container, not a skippable record: there is nothing else in it.
			errCh <- unreadable(model.KindMessageFile, rec.CorruptReason, nil)
			return
		}
		send(ctx, recCh, rec)
	}()

	return recCh, errCh
}
