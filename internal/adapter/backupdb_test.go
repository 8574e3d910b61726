package adapter

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBackupDB writes a SQLite file with the given schema and rows and
// returns its contents.
func buildBackupDB(t *testing.T, schema string, inserts ...string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	for _, ins := range inserts {
		_, err = db.Exec(ins)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestBackupDB_FullSchema(t *testing.T) {
	data := buildBackupDB(t,
		`CREATE TABLE messages (sender TEXT, body TEXT, timestamp TEXT, recipients TEXT, deleted INTEGER)`,
		`INSERT INTO messages VALUES ('+15550001111', 'see you at 8', '2024-03-04 10:00:00', '+15550002222;+15550003333', 0)`,
		`INSERT INTO messages VALUES ('+15550002222', 'confirmed', '1709546400', '+15550001111', 1)`,
	)

	records, errs := NewBackupDB().Parse(context.Background(), strings.NewReader(string(data)))
	recs, err := drain(t, records, errs)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "+15550001111", recs[0].Sender)
	assert.Equal(t, "see you at 8", recs[0].Body)
	assert.Equal(t, "2024-03-04 10:00:00", recs[0].Timestamp)
	assert.Equal(t, []string{"+15550002222", "+15550003333"}, recs[0].Recipients)
	assert.False(t, recs[0].Deleted)
	assert.True(t, recs[1].Deleted)
}

func TestBackupDB_AlternateSchemaNames(t *testing.T) {
	// Older export tools use different table and column names; the probe
	// degrades to whatever required fields it can find.
	data := buildBackupDB(t,
		`CREATE TABLE sms (address TEXT, date INTEGER, text TEXT)`,
		`INSERT INTO sms VALUES ('+15550001111', 1709546400000, 'running late')`,
	)

	records, errs := NewBackupDB().Parse(context.Background(), strings.NewReader(string(data)))
	recs, err := drain(t, records, errs)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, "+15550001111", recs[0].Sender)
	assert.Equal(t, "running late", recs[0].Body)
	assert.Equal(t, "1709546400000", recs[0].Timestamp)
	assert.Empty(t, recs[0].Recipients)
}

func TestBackupDB_RowsMissingRequiredFields(t *testing.T) {
	data := buildBackupDB(t,
		`CREATE TABLE messages (sender TEXT, body TEXT)`,
		`INSERT INTO messages VALUES ('+15550001111', 'fine')`,
		`INSERT INTO messages VALUES (NULL, 'no sender')`,
		`INSERT INTO messages VALUES ('   ', 'blank sender')`,
	)

	records, errs := NewBackupDB().Parse(context.Background(), strings.NewReader(string(data)))
	recs, err := drain(t, records, errs)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 2, countCorrupt(recs))
}

func TestBackupDB_NoMessageTable(t *testing.T) {
	data := buildBackupDB(t, `CREATE TABLE contacts (name TEXT, phone TEXT)`)

	records, errs := NewBackupDB().Parse(context.Background(), strings.NewReader(string(data)))
	recs, err := drain(t, records, errs)

	assert.Empty(t, recs)
	require.Error(t, err)
	assert.True(t, IsSourceUnreadable(err))
}

func TestBackupDB_NotSQLite(t *testing.T) {
	records, errs := NewBackupDB().Parse(context.Background(), strings.NewReader("plain text, not a database"))
	recs, err := drain(t, records, errs)

	assert.Empty(t, recs)
	require.Error(t, err)
	assert.True(t, IsSourceUnreadable(err))
}
