package adapter

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/caseward/forensics-cli/internal/model"
)

// sqliteMagic is the first 16 bytes of every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// BackupDBAdapter extracts messages from exported chat/phone backup SQLite
// databases. Export tools disagree on table and column names across
// versions, so the adapter probes a candidate list and degrades to the
// minimal required field set (sender, body) when optional columns are
// missing, marking the rest absent rather than failing.
type BackupDBAdapter struct{}

// NewBackupDB creates the structured-backup-database adapter.
func NewBackupDB() *BackupDBAdapter {
	return &BackupDBAdapter{}
}

func (a *BackupDBAdapter) Kind() model.SourceKind {
	return model.KindBackupDB
}

var backupTableCandidates = []string{"messages", "message", "chat_messages", "sms"}

var backupColumnCandidates = map[string][]string{
	"sender":     {"sender", "from_id", "author", "address"},
	"body":       {"body", "text", "content"},
	"timestamp":  {"timestamp", "date", "sent_at", "created_at"},
	"recipients": {"recipients", "recipient", "to_id"},
	"deleted":    {"deleted", "is_deleted", "recovered"},
}

func (a *BackupDBAdapter) Parse(ctx context.Context, r io.Reader) (<-chan RawRecord, <-chan error) {
	recCh := make(chan RawRecord, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		// The sql driver needs a file, so the stream is spooled to a
		// temporary copy and opened read-only. The copy is removed on exit.
		path, err := spoolSQLite(r)
		if err != nil {
			errCh <- err
			return
		}
		defer os.Remove(path)

		db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
		if err != nil {
			errCh <- unreadable(model.KindBackupDB, "open database", err)
			return
		}
		defer db.Close()

		table, cols, err := probeSchema(ctx, db)
		if err != nil {
			errCh <- err
			return
		}

		if err := streamRows(ctx, db, table, cols, recCh); err != nil {
			errCh <- err
		}
	}()

	return recCh, errCh
}

func spoolSQLite(r io.Reader) (string, error) {
	head := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, sqliteMagic) {
		return "", unreadable(model.KindBackupDB, "not a SQLite database (bad magic)", err)
	}

	f, err := os.CreateTemp("", "forensics-backupdb-*.db")
	if err != nil {
		return "", unreadable(model.KindBackupDB, "spool to temp file", err)
	}
	if _, err := f.Write(head); err == nil {
		_, err = io.Copy(f, r)
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", unreadable(model.KindBackupDB, "spool to temp file", err)
	}
	return f.Name(), nil
}

// probeSchema finds the message table and maps logical fields to whatever
// columns this schema version actually has. Sender and body are required;
// everything else is optional.
func probeSchema(ctx context.Context, db *sql.DB) (string, map[string]string, error) {
	for _, table := range backupTableCandidates {
		rows, err := db.QueryContext(ctx,
			`SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return "", nil, unreadable(model.KindBackupDB, "read schema", err)
		}

		present := map[string]bool{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return "", nil, unreadable(model.KindBackupDB, "read schema", err)
			}
			present[strings.ToLower(name)] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return "", nil, unreadable(model.KindBackupDB, "read schema", err)
		}
		rows.Close()

		if len(present) == 0 {
			continue
		}

		cols := map[string]string{}
		for field, candidates := range backupColumnCandidates {
			for _, c := range candidates {
				if present[c] {
					cols[field] = c
					break
				}
			}
		}
		if cols["sender"] == "" || cols["body"] == "" {
			continue
		}
		return table, cols, nil
	}
	return "", nil, unreadable(model.KindBackupDB, "no recognizable message table", nil)
}

func streamRows(ctx context.Context, db *sql.DB, table string, cols map[string]string, recCh chan<- RawRecord) error {
	// Everything is cast to TEXT so scanning is uniform regardless of the
	// column's declared affinity; the normalizer interprets timestamps.
	selected := []string{"sender", "body", "timestamp", "recipients", "deleted"}
	exprs := make([]string, len(selected))
	for i, field := range selected {
		if col, ok := cols[field]; ok {
			exprs[i] = fmt.Sprintf("CAST(%s AS TEXT)", col)
		} else {
			exprs[i] = "NULL"
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return unreadable(model.KindBackupDB, "query messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sender, body, ts, recips, deleted sql.NullString
		if err := rows.Scan(&sender, &body, &ts, &recips, &deleted); err != nil {
			send(ctx, recCh, RawRecord{Corrupt: true, CorruptReason: "unscannable row: " + err.Error()})
			continue
		}
		if !sender.Valid || strings.TrimSpace(sender.String) == "" || !body.Valid {
			send(ctx, recCh, RawRecord{Corrupt: true, CorruptReason: "row missing required sender/body"})
			continue
		}

		rec := RawRecord{
			Sender:    strings.TrimSpace(sender.String),
			Body:      body.String,
			Timestamp: strings.TrimSpace(ts.String),
			Deleted:   isTruthy(deleted.String),
		}
		for _, part := range strings.FieldsFunc(recips.String, func(r rune) bool { return r == ',' || r == ';' }) {
			if part = strings.TrimSpace(part); part != "" {
				rec.Recipients = append(rec.Recipients, part)
			}
		}
		if !send(ctx, recCh, rec) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return unreadable(model.KindBackupDB, "iterate messages", err)
	}
	return nil
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
