package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/caseward/forensics-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store depends on. pgxmock
// implements the same surface, which is what the tests run against.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_source":        `INSERT INTO sources (id, case_id, kind, status, original_name, content_sha256, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"update_source_status": `UPDATE sources SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_source":           `SELECT id, case_id, kind, status, original_name, content_sha256, message_count, participant_count, earliest_message, latest_message, error, created_at, updated_at FROM sources WHERE id = $1`,
	"insert_ledger":        `INSERT INTO ledger_entries (id, source_id, event, content_sha256, attempted, extracted, skipped, detail, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_ledger":           `SELECT id, source_id, event, content_sha256, attempted, extracted, skipped, detail, recorded_at FROM ledger_entries WHERE source_id = $1 ORDER BY recorded_at, id`,
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                TEXT PRIMARY KEY,
	case_id           TEXT NOT NULL,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'received',
	original_name     TEXT,
	content_sha256    TEXT NOT NULL,
	message_count     INTEGER NOT NULL DEFAULT 0,
	participant_count INTEGER NOT NULL DEFAULT 0,
	earliest_message  TIMESTAMPTZ,
	latest_message    TIMESTAMPTZ,
	current_version   INTEGER NOT NULL DEFAULT 0,
	error             TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL REFERENCES sources(id),
	sender     TEXT NOT NULL,
	recipients JSONB NOT NULL,
	sent_at    TIMESTAMPTZ,
	body       TEXT NOT NULL,
	raw_header BYTEA,
	deleted    BOOLEAN NOT NULL DEFAULT false
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
	sentiment  DOUBLE PRECISION NOT NULL,
	entities   JSONB,
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
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyses (
	source_id  TEXT NOT NULL,
	version    INTEGER NOT NULL,
	graph      JSONB NOT NULL,
	alerts     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source_id, version)
);

CREATE INDEX IF NOT EXISTS idx_sources_case ON sources(case_id);
CREATE INDEX IF NOT EXISTS idx_messages_source ON messages(source_id);
CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(source_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_participants_source ON participants(source_id);
CREATE INDEX IF NOT EXISTS idx_ledger_source ON ledger_entries(source_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, src model.ForensicSource) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, case_id, kind, status, original_name, content_sha256, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		src.ID, src.CaseID, string(src.Kind), string(src.Status), src.OriginalName,
		src.ContentSHA256, src.CreatedAt, src.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert source")
}

func (s *PostgresStore) UpdateSourceStatus(ctx context.Context, sourceID string, status model.SourceStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source status %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", sourceID)
	}
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, sourceID string) (*model.ForensicSource, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, case_id, kind, status, original_name, content_sha256, message_count, participant_count, earliest_message, latest_message, error, created_at, updated_at FROM sources WHERE id = $1`,
		sourceID)

	src, err := scanSourcePgx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return src, err
}

func (s *PostgresStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.ForensicSource, error) {
	query := `SELECT id, case_id, kind, status, original_name, content_sha256, message_count, participant_count, earliest_message, latest_message, error, created_at, updated_at FROM sources WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CaseID != "" {
		query += fmt.Sprintf(` AND case_id = $%d`, argIdx)
		args = append(args, filter.CaseID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var sources []model.ForensicSource
	for rows.Next() {
		src, err := scanSourcePgx(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) CommitExtraction(ctx context.Context, src model.ForensicSource, msgs []model.Message, participants []model.Participant, entry model.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin extraction commit")
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		recipients, err := json.Marshal(m.Recipients)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal recipients")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, source_id, sender, recipients, sent_at, body, raw_header, deleted) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, src.ID, m.Sender, recipients, m.SentAt, m.Body, m.RawHeader, m.Deleted,
		); err != nil {
			return eris.Wrap(err, "postgres: insert message")
		}
	}

	for _, p := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO participants (id, source_id, raw, resolved, kind) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, src.ID, p.Raw, p.Resolved, p.Kind,
		); err != nil {
			return eris.Wrap(err, "postgres: insert participant")
		}
	}

	if err := insertLedgerPgx(ctx, tx, entry); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sources SET status = $1, message_count = $2, participant_count = $3, earliest_message = $4, latest_message = $5, updated_at = $6 WHERE id = $7`,
		string(model.SourceStatusExtracted), len(msgs), len(participants),
		src.EarliestMessage, src.LatestMessage, time.Now().UTC(), src.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: finalize source extraction")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", src.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit extraction")
}

func (s *PostgresStore) AppendLedger(ctx context.Context, entry model.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin ledger append")
	}
	defer tx.Rollback(ctx)
	if err := insertLedgerPgx(ctx, tx, entry); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit ledger append")
}

func insertLedgerPgx(ctx context.Context, tx pgx.Tx, entry model.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, source_id, event, content_sha256, attempted, extracted, skipped, detail, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.SourceID, entry.Event, entry.ContentSHA256,
		entry.Attempted, entry.Extracted, entry.Skipped, entry.Detail, entry.RecordedAt,
	)
	return eris.Wrap(err, "postgres: insert ledger entry")
}

func (s *PostgresStore) GetLedger(ctx context.Context, sourceID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, event, content_sha256, attempted, extracted, skipped, detail, recorded_at FROM ledger_entries WHERE source_id = $1 ORDER BY recorded_at, id`,
		sourceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get ledger")
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var detail *string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Event, &e.ContentSHA256,
			&e.Attempted, &e.Extracted, &e.Skipped, &detail, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		if detail != nil {
			e.Detail = *detail
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: get ledger iterate")
}

func (s *PostgresStore) UpsertAnnotations(ctx context.Context, sourceID string, byMessageID map[string]model.Annotation) error {
	if len(byMessageID) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin annotations")
	}
	defer tx.Rollback(ctx)

	for msgID, a := range byMessageID {
		entities, err := json.Marshal(a.Entities)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal entities")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO annotations (message_id, source_id, sentiment, entities, model) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (message_id) DO UPDATE SET sentiment = excluded.sentiment, entities = excluded.entities, model = excluded.model`,
			msgID, sourceID, a.Sentiment, entities, a.Model,
		); err != nil {
			return eris.Wrap(err, "postgres: upsert annotation")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit annotations")
}

func (s *PostgresStore) GetMessages(ctx context.Context, sourceID string, filter model.MessageFilter) ([]model.AnnotatedMessage, error) {
	query := `SELECT m.id, m.source_id, m.sender, m.recipients, m.sent_at, m.body, m.raw_header, m.deleted, a.sentiment, a.entities, a.model
	          FROM messages m LEFT JOIN annotations a ON a.message_id = m.id
	          WHERE m.source_id = $1`
	args := []any{sourceID}
	argIdx := 2

	if filter.After != nil {
		query += fmt.Sprintf(` AND m.sent_at >= $%d`, argIdx)
		args = append(args, filter.After.UTC())
		argIdx++
	}
	if filter.Before != nil {
		query += fmt.Sprintf(` AND m.sent_at <= $%d`, argIdx)
		args = append(args, filter.Before.UTC())
		argIdx++
	}
	if filter.Participant != "" {
		query += fmt.Sprintf(` AND (m.sender = $%d OR m.recipients ? $%d)`, argIdx, argIdx)
		args = append(args, filter.Participant)
		argIdx++
	}
	if filter.TextContains != "" {
		query += fmt.Sprintf(` AND m.body ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.TextContains+"%")
		argIdx++
	}
	if filter.MinSentiment != nil {
		query += fmt.Sprintf(` AND a.sentiment >= $%d`, argIdx)
		args = append(args, *filter.MinSentiment)
		argIdx++
	}
	if filter.MaxSentiment != nil {
		query += fmt.Sprintf(` AND a.sentiment <= $%d`, argIdx)
		args = append(args, *filter.MaxSentiment)
		argIdx++
	}

	query += ` ORDER BY m.sent_at NULLS LAST, m.id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get messages")
	}
	defer rows.Close()

	var msgs []model.AnnotatedMessage
	for rows.Next() {
		m, err := scanAnnotatedMessagePgx(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: get messages iterate")
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, sourceID string, graph *model.NetworkGraph, alerts []model.PatternAlert) (int, error) {
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal graph")
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal alerts")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin analysis save")
	}
	defer tx.Rollback(ctx)

	var version int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM analyses WHERE source_id = $1`, sourceID,
	).Scan(&version); err != nil {
		return 0, eris.Wrap(err, "postgres: next analysis version")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO analyses (source_id, version, graph, alerts, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sourceID, version, graphJSON, alertsJSON, time.Now().UTC(),
	); err != nil {
		return 0, eris.Wrap(err, "postgres: insert analysis version")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sources SET current_version = $1, status = $2, updated_at = $3 WHERE id = $4`,
		version, string(model.SourceStatusAnalyzed), time.Now().UTC(), sourceID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: promote analysis version")
	}
	if tag.RowsAffected() == 0 {
		return 0, eris.Wrapf(ErrNotFound, "%s", sourceID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit analysis save")
	}
	return version, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, sourceID string) (*model.AnalysisVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT a.source_id, a.version, a.graph, a.alerts, a.created_at
		 FROM sources s JOIN analyses a ON a.source_id = s.id AND a.version = s.current_version
		 WHERE s.id = $1`, sourceID)

	var av model.AnalysisVersion
	var graphJSON, alertsJSON []byte
	err := row.Scan(&av.SourceID, &av.Version, &graphJSON, &alertsJSON, &av.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotAnalyzed
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get analysis")
	}
	if err := json.Unmarshal(graphJSON, &av.Graph); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal graph")
	}
	if err := json.Unmarshal(alertsJSON, &av.Alerts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal alerts")
	}
	return &av, nil
}

func scanSourcePgx(row pgx.Row) (*model.ForensicSource, error) {
	var src model.ForensicSource
	var originalName, errMsg *string
	var earliest, latest *time.Time

	err := row.Scan(&src.ID, &src.CaseID, &src.Kind, &src.Status, &originalName,
		&src.ContentSHA256, &src.MessageCount, &src.ParticipantCount,
		&earliest, &latest, &errMsg, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan source")
	}

	if originalName != nil {
		src.OriginalName = *originalName
	}
	if errMsg != nil {
		src.Error = *errMsg
	}
	src.EarliestMessage = earliest
	src.LatestMessage = latest
	return &src, nil
}

func scanAnnotatedMessagePgx(row pgx.Row) (*model.AnnotatedMessage, error) {
	var m model.AnnotatedMessage
	var recipientsJSON []byte
	var sentAt *time.Time
	var sentiment *float64
	var entitiesJSON []byte
	var annModel *string

	err := row.Scan(&m.ID, &m.SourceID, &m.Sender, &recipientsJSON, &sentAt,
		&m.Body, &m.RawHeader, &m.Deleted, &sentiment, &entitiesJSON, &annModel)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan message")
	}

	if err := json.Unmarshal(recipientsJSON, &m.Recipients); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal recipients")
	}
	m.SentAt = sentAt

	if sentiment != nil {
		m.Annotation = &model.Annotation{Sentiment: *sentiment}
		if annModel != nil {
			m.Annotation.Model = *annModel
		}
		if len(entitiesJSON) > 0 {
			if err := json.Unmarshal(entitiesJSON, &m.Annotation.Entities); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal entities")
			}
		}
	}
	return &m, nil
}
