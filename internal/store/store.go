// Package store persists canonical messages, analysis artifacts, and the
// integrity ledger, keyed by (source, version).
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/caseward/forensics-cli/internal/model"
)

// ErrNotFound is returned when a requested source does not exist.
var ErrNotFound = eris.New("source not found")

// ErrNotAnalyzed is returned by GetAnalysis when no complete analysis
// version exists yet for the source.
var ErrNotAnalyzed = eris.New("source not yet analyzed")

// SourceFilter narrows ListSources. Zero-valued fields are ignored.
type SourceFilter struct {
	CaseID string             `json:"case_id,omitempty"`
	Status model.SourceStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store is the persistence contract for the pipeline.
//
// Messages are immutable once CommitExtraction returns: later analysis runs
// only ever add annotation rows and new analysis versions. SaveAnalysis
// replaces the current analysis version atomically; readers observe either
// the prior version or the new one in full, never a mix.
type Store interface {
	// Sources
	CreateSource(ctx context.Context, src model.ForensicSource) error
	UpdateSourceStatus(ctx context.Context, sourceID string, status model.SourceStatus, errMsg string) error
	GetSource(ctx context.Context, sourceID string) (*model.ForensicSource, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]model.ForensicSource, error)

	// CommitExtraction writes the source's messages and participants, the
	// extraction ledger entry, and the extracted status in one transaction.
	CommitExtraction(ctx context.Context, src model.ForensicSource, msgs []model.Message, participants []model.Participant, entry model.LedgerEntry) error

	// Integrity ledger (append-only)
	AppendLedger(ctx context.Context, entry model.LedgerEntry) error
	GetLedger(ctx context.Context, sourceID string) ([]model.LedgerEntry, error)

	// Annotations are keyed per message and survive re-analysis: a version
	// produced during a collaborator outage keeps previously written scores.
	UpsertAnnotations(ctx context.Context, sourceID string, byMessageID map[string]model.Annotation) error

	// GetMessages returns the source's annotated messages, filtered.
	GetMessages(ctx context.Context, sourceID string, filter model.MessageFilter) ([]model.AnnotatedMessage, error)

	// SaveAnalysis writes graph+alerts as the next version and promotes it
	// atomically, returning the assigned version number.
	SaveAnalysis(ctx context.Context, sourceID string, graph *model.NetworkGraph, alerts []model.PatternAlert) (int, error)

	// GetAnalysis returns the latest complete version, or ErrNotAnalyzed.
	GetAnalysis(ctx context.Context, sourceID string) (*model.AnalysisVersion, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
