// Package adapter turns raw communication archives into lazy streams of
// extracted records, one adapter per supported container format.
package adapter

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/caseward/forensics-cli/internal/model"
)

// RawRecord is one extracted communication record before normalization.
// Corrupt records are delivered on the stream too (with Corrupt set) so the
// consumer can count them; every record the container holds yields exactly
// one stream item.
type RawRecord struct {
	Sender     string
	Recipients []string
	// Timestamp is the format's native representation, verbatim. Empty means
	// the source carried no timestamp for this record.
	Timestamp string
	Body      string
	// RawHeader preserves header material (or unaccounted trailing bytes for
	// binary formats) exactly as read.
	RawHeader []byte
	Deleted   bool

	Corrupt       bool
	CorruptReason string
}

// Adapter parses one container format into a stream of raw records.
//
// Parse returns a record channel and an error channel. Malformed records are
// emitted with Corrupt set and parsing continues; only a container-level
// failure sends a SourceUnreadableError on the error channel. Both channels
// are closed when parsing ends. The stream is lazy and single-pass; callers
// restart it on a fresh reader.
type Adapter interface {
	Kind() model.SourceKind
	Parse(ctx context.Context, r io.Reader) (<-chan RawRecord, <-chan error)
}

// SourceUnreadableError means the container itself could not be opened:
// wrong magic bytes, truncated framing, unreadable database. Fatal for the
// source; the extraction is marked failed.
type SourceUnreadableError struct {
	Kind   model.SourceKind
	Reason string
	Err    error
}

func (e *SourceUnreadableError) Error() string {
	msg := "source unreadable (" + string(e.Kind) + "): " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceUnreadableError) Unwrap() error {
	return e.Err
}

// IsSourceUnreadable reports whether err is (or wraps) a SourceUnreadableError.
func IsSourceUnreadable(err error) bool {
	var sue *SourceUnreadableError
	return errors.As(err, &sue)
}

func unreadable(kind model.SourceKind, reason string, err error) *SourceUnreadableError {
	return &SourceUnreadableError{Kind: kind, Reason: reason, Err: err}
}

// For returns the adapter for the given source kind.
func For(kind model.SourceKind) (Adapter, error) {
	switch kind {
	case model.KindMailbox:
		return NewMailbox(), nil
	case model.KindMessageFile:
		return NewMessageFile(), nil
	case model.KindBackupDB:
		return NewBackupDB(), nil
	case model.KindVault:
		return NewVault(), nil
	default:
		return nil, eris.Errorf("adapter: unsupported source kind %q", kind)
	}
}

// send delivers rec unless the context is cancelled first.
func send(ctx context.Context, ch chan<- RawRecord, rec RawRecord) bool {
	select {
	case ch <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}
