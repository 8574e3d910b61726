// Package model defines the canonical data types shared across the forensic
// communication pipeline: sources, messages, participants, analysis artifacts.
package model

import "time"

// SourceKind identifies which format adapter applies to an uploaded archive.
type SourceKind string

const (
	// KindMailbox is an mboxrd-style mailbox archive with RFC-822 headers.
	KindMailbox SourceKind = "mailbox"
	// KindMessageFile is a single RFC-822 message file (.eml).
	KindMessageFile SourceKind = "message_file"
	// KindBackupDB is an exported chat/phone backup SQLite database.
	KindBackupDB SourceKind = "backup_db"
	// KindVault is the proprietary fixed-layout binary archive format.
	KindVault SourceKind = "vault"
)

// Valid reports whether k names a supported source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case KindMailbox, KindMessageFile, KindBackupDB, KindVault:
		return true
	}
	return false
}

// SourceStatus tracks a source through the extraction/analysis lifecycle.
type SourceStatus string

const (
	SourceStatusReceived   SourceStatus = "received"
	SourceStatusExtracting SourceStatus = "extracting"
	SourceStatusExtracted  SourceStatus = "extracted"
	SourceStatusAnalyzing  SourceStatus = "analyzing"
	SourceStatusAnalyzed   SourceStatus = "analyzed"
	SourceStatusFailed     SourceStatus = "failed"
)

// ForensicSource represents one uploaded communication archive. Once the
// status reaches analyzed the record is immutable apart from appended
// re-analysis versions.
type ForensicSource struct {
	ID               string       `json:"id"`
	CaseID           string       `json:"case_id"`
	Kind             SourceKind   `json:"kind"`
	Status           SourceStatus `json:"status"`
	OriginalName     string       `json:"original_name,omitempty"`
	ContentSHA256    string       `json:"content_sha256"`
	MessageCount     int          `json:"message_count"`
	ParticipantCount int          `json:"participant_count"`
	// EarliestMessage/LatestMessage bound the covered date range; nil when no
	// message in the source carried a parseable timestamp.
	EarliestMessage *time.Time `json:"earliest_message,omitempty"`
	LatestMessage   *time.Time `json:"latest_message,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LedgerEntry is one append-only chain-of-custody record for a source
// extraction. attempted == extracted + skipped always holds.
type LedgerEntry struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	Event         string    `json:"event"`
	ContentSHA256 string    `json:"content_sha256"`
	Attempted     int       `json:"attempted"`
	Extracted     int       `json:"extracted"`
	Skipped       int       `json:"skipped"`
	Detail        string    `json:"detail,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Ledger event names.
const (
	LedgerEventExtraction = "extraction_complete"
	LedgerEventFailure    = "extraction_failed"
	LedgerEventAnalysis   = "analysis_complete"
)
