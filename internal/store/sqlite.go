package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/caseward/forensics-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                TEXT PRIMARY KEY,
	case_id           TEXT NOT NULL,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'received',
	original_name     TEXT,
	content_sha256    TEXT NOT NULL,
	message_count     INTEGER NOT NULL DEFAULT 0,
	participant_count INTEGER NOT NULL DEFAULT 0,
	earliest_message  DATETIME,
	latest_message    DATETIME,
	current_version   INTEGER NOT NULL DEFAULT 0,
	error             TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL REFERENCES sources(id),
	sender     TEXT NOT NULL,
	recipients TEXT NOT NULL,
	sent_at    DATETIME,
	body       TEXT NOT NULL,
	raw_header BLOB,
	deleted    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS participants (
	id        TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES sources(id),
	raw       TEXT NOT NULL,
	resolved  TEXT NOT NULL,
	kind      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS annotations (
	message_id TEXT PRIMARY KEY REFERENCES messages(id),
	source_id  TEXT NOT NULL,
	sentiment  REAL NOT NULL,
	entities   TEXT,
	model      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id             TEXT PRIMARY KEY,
	source_id      TEXT NOT NULL,
	event          TEXT NOT NULL,
	content_sha256 TEXT NOT NULL,
	attempted      INTEGER NOT NULL,
	extracted      INTEGER NOT NULL,
	skipped        INTEGER NOT NULL,
	detail         TEXT,
	recorded_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analyses (
	source_id  TEXT NOT NULL,
	version    INTEGER NOT NULL,
	graph      TEXT NOT NULL,
	alerts     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (source_id, version)
);

CREATE INDEX IF NOT EXISTS idx_sources_case ON sources(case_id);
CREATE INDEX IF NOT EXISTS idx_messages_source ON messages(source_id);
CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(source_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_participants_source ON participants(source_id);
CREATE INDEX IF NOT EXISTS idx_ledger_source ON ledger_entries(source_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSource(ctx context.Context, src model.ForensicSource) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, case_id, kind, status, original_name, content_sha256, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.CaseID, string(src.Kind), string(src.Status), src.OriginalName,
		src.ContentSHA256, src.CreatedAt, src.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert source")
}

func (s *SQLiteStore) UpdateSourceStatus(ctx context.Context, sourceID string, status model.SourceStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source status %s", sourceID)
	}
	return checkRowsAffected(res, sourceID)
}

func (s *SQLiteStore) GetSource(ctx context.Context, sourceID string) (*model.ForensicSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, kind, status, original_name, content_sha256, message_count,
		        participant_count, earliest_message, latest_message, error, created_at, updated_at
		 FROM sources WHERE id = ?`, sourceID)
	return scanSource(row)
}

func (s *SQLiteStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.ForensicSource, error) {
	query := `SELECT id, case_id, kind, status, original_name, content_sha256, message_count,
	                 participant_count, earliest_message, latest_message, error, created_at, updated_at
	          FROM sources WHERE 1=1`
	var args []any

	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []model.ForensicSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) CommitExtraction(ctx context.Context, src model.ForensicSource, msgs []model.Message, participants []model.Participant, entry model.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin extraction commit")
	}
	defer tx.Rollback()

	for _, m := range msgs {
		recipients, err := json.Marshal(m.Recipients)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal recipients")
		}
		var sentAt any
		if m.SentAt != nil {
			sentAt = m.SentAt.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, source_id, sender, recipients, sent_at, body, raw_header, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, src.ID, m.Sender, string(recipients), sentAt, m.Body, m.RawHeader, boolToInt(m.Deleted),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert message")
		}
	}

	for _, p := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (id, source_id, raw, resolved, kind) VALUES (?, ?, ?, ?, ?)`,
			p.ID, src.ID, p.Raw, p.Resolved, p.Kind,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert participant")
		}
	}

	if err := insertLedgerTx(ctx, tx, entry); err != nil {
		return err
	}

	var earliest, latest any
	if src.EarliestMessage != nil {
		earliest = src.EarliestMessage.UTC()
	}
	if src.LatestMessage != nil {
		latest = src.LatestMessage.UTC()
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sources SET status = ?, message_count = ?, participant_count = ?,
		        earliest_message = ?, latest_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.SourceStatusExtracted), len(msgs), len(participants),
		earliest, latest, time.Now().UTC(), src.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: finalize source extraction")
	}
	if err := checkRowsAffected(res, src.ID); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit extraction")
}

func (s *SQLiteStore) AppendLedger(ctx context.Context, entry model.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin ledger append")
	}
	defer tx.Rollback()
	if err := insertLedgerTx(ctx, tx, entry); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit ledger append")
}

func insertLedgerTx(ctx context.Context, tx *sql.Tx, entry model.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, source_id, event, content_sha256, attempted, extracted, skipped, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SourceID, entry.Event, entry.ContentSHA256,
		entry.Attempted, entry.Extracted, entry.Skipped, entry.Detail, entry.RecordedAt,
	)
	return eris.Wrap(err, "sqlite: insert ledger entry")
}

func (s *SQLiteStore) GetLedger(ctx context.Context, sourceID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, event, content_sha256, attempted, extracted, skipped, detail, recorded_at
		 FROM ledger_entries WHERE source_id = ? ORDER BY recorded_at, id`, sourceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get ledger")
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Event, &e.ContentSHA256,
			&e.Attempted, &e.Extracted, &e.Skipped, &detail, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: get ledger iterate")
}

func (s *SQLiteStore) UpsertAnnotations(ctx context.Context, sourceID string, byMessageID map[string]model.Annotation) error {
	if len(byMessageID) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin annotations")
	}
	defer tx.Rollback()

	for msgID, a := range byMessageID {
		entities, err := json.Marshal(a.Entities)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal entities")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO annotations (message_id, source_id, sentiment, entities, model)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (message_id) DO UPDATE SET sentiment = excluded.sentiment,
			        entities = excluded.entities, model = excluded.model`,
			msgID, sourceID, a.Sentiment, string(entities), a.Model,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert annotation")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit annotations")
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sourceID string, filter model.MessageFilter) ([]model.AnnotatedMessage, error) {
	query := `SELECT m.id, m.source_id, m.sender, m.recipients, m.sent_at, m.body, m.raw_header, m.deleted,
	                 a.sentiment, a.entities, a.model
	          FROM messages m LEFT JOIN annotations a ON a.message_id = m.id
	          WHERE m.source_id = ?`
	args := []any{sourceID}

	if filter.After != nil {
		query += ` AND m.sent_at >= ?`
		args = append(args, filter.After.UTC())
	}
	if filter.Before != nil {
		query += ` AND m.sent_at <= ?`
		args = append(args, filter.Before.UTC())
	}
	if filter.Participant != "" {
		query += ` AND (m.sender = ? OR m.recipients LIKE ?)`
		args = append(args, filter.Participant, `%"`+filter.Participant+`"%`)
	}
	if filter.TextContains != "" {
		query += ` AND m.body LIKE ?`
		args = append(args, "%"+filter.TextContains+"%")
	}
	if filter.MinSentiment != nil {
		query += ` AND a.sentiment >= ?`
		args = append(args, *filter.MinSentiment)
	}
	if filter.MaxSentiment != nil {
		query += ` AND a.sentiment <= ?`
		args = append(args, *filter.MaxSentiment)
	}

	query += ` ORDER BY m.sent_at IS NULL, m.sent_at, m.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get messages")
	}
	defer rows.Close()

	var msgs []model.AnnotatedMessage
	for rows.Next() {
		m, err := scanAnnotatedMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: get messages iterate")
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, sourceID string, graph *model.NetworkGraph, alerts []model.PatternAlert) (int, error) {
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal graph")
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal alerts")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin analysis save")
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM analyses WHERE source_id = ?`, sourceID,
	).Scan(&version); err != nil {
		return 0, eris.Wrap(err, "sqlite: next analysis version")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analyses (source_id, version, graph, alerts, created_at) VALUES (?, ?, ?, ?, ?)`,
		sourceID, version, string(graphJSON), string(alertsJSON), time.Now().UTC(),
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert analysis version")
	}

	// Promoting current_version in the same transaction is the atomic
	// replace: readers resolve the pointer first, so they see either the
	// prior version or this one in full.
	res, err := tx.ExecContext(ctx,
		`UPDATE sources SET current_version = ?, status = ?, updated_at = ? WHERE id = ?`,
		version, string(model.SourceStatusAnalyzed), time.Now().UTC(), sourceID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: promote analysis version")
	}
	if err := checkRowsAffected(res, sourceID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit analysis save")
	}
	return version, nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, sourceID string) (*model.AnalysisVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT a.source_id, a.version, a.graph, a.alerts, a.created_at
		 FROM sources s JOIN analyses a ON a.source_id = s.id AND a.version = s.current_version
		 WHERE s.id = ?`, sourceID)

	var av model.AnalysisVersion
	var graphJSON, alertsJSON string
	err := row.Scan(&av.SourceID, &av.Version, &graphJSON, &alertsJSON, &av.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotAnalyzed
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get analysis")
	}
	if err := json.Unmarshal([]byte(graphJSON), &av.Graph); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal graph")
	}
	if err := json.Unmarshal([]byte(alertsJSON), &av.Alerts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal alerts")
	}
	return &av, nil
}

// helpers

func checkRowsAffected(res sql.Result, sourceID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s", sourceID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.ForensicSource, error) {
	var src model.ForensicSource
	var originalName, errMsg sql.NullString
	var earliest, latest sql.NullTime

	err := row.Scan(&src.ID, &src.CaseID, &src.Kind, &src.Status, &originalName,
		&src.ContentSHA256, &src.MessageCount, &src.ParticipantCount,
		&earliest, &latest, &errMsg, &src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan source")
	}

	src.OriginalName = originalName.String
	src.Error = errMsg.String
	if earliest.Valid {
		t := earliest.Time.UTC()
		src.EarliestMessage = &t
	}
	if latest.Valid {
		t := latest.Time.UTC()
		src.LatestMessage = &t
	}
	return &src, nil
}

func scanAnnotatedMessage(row scannable) (*model.AnnotatedMessage, error) {
	var m model.AnnotatedMessage
	var recipientsJSON string
	var sentAt sql.NullTime
	var deleted int
	var sentiment sql.NullFloat64
	var entitiesJSON, annModel sql.NullString

	err := row.Scan(&m.ID, &m.SourceID, &m.Sender, &recipientsJSON, &sentAt,
		&m.Body, &m.RawHeader, &deleted, &sentiment, &entitiesJSON, &annModel)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan message")
	}

	if err := json.Unmarshal([]byte(recipientsJSON), &m.Recipients); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal recipients")
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		m.SentAt = &t
	}
	m.Deleted = deleted != 0

	if sentiment.Valid {
		m.Annotation = &model.Annotation{
			Sentiment: sentiment.Float64,
			Model:     annModel.String,
		}
		if entitiesJSON.Valid && entitiesJSON.String != "" {
			if err := json.Unmarshal([]byte(entitiesJSON.String), &m.Annotation.Entities); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal entities")
			}
		}
	}
	return &m, nil
}
