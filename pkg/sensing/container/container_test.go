package container

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeContainer creates a sqlite file shaped like the phone app's uploads.
func writeContainer(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "events.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE events (id1 TEXT, id2 TEXT, timestamp INTEGER, event_id INTEGER, data BLOB)`,
		`CREATE TABLE more_events (a TEXT, b TEXT, ts TEXT, code TEXT, payload TEXT)`,
		`CREATE TABLE meta (key TEXT, value TEXT)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO events VALUES (?, ?, ?, ?, ?)`, "a", "b", int64(1690000000000), 152, []byte(`{"latitude":1,"longitude":2}`))
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO more_events VALUES (?, ?, ?, ?, ?)`, "c", "d", "1690000000", "21", "1690000300,10,5,0,0")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO meta VALUES ('version', '3')`)
	require.NoError(t, err)
	return path
}

func TestReaderEach(t *testing.T) {
	path := writeContainer(t, t.TempDir())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	tables, err := r.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "meta", "more_events"}, tables)

	var records []types.RawRecord
	n, err := r.Each(context.Background(), func(rec types.RawRecord) error {
		records = append(records, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, records, 2)

	assert.Equal(t, 152, records[0].TypeCode)
	assert.Equal(t, int64(1690000000000), records[0].Timestamp)
	assert.Equal(t, []byte(`{"latitude":1,"longitude":2}`), records[0].Payload)

	assert.Equal(t, 21, records[1].TypeCode)
	assert.Equal(t, "1690000000", records[1].Timestamp)
}

func TestReaderCallbackErrorStops(t *testing.T) {
	path := writeContainer(t, t.TempDir())
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	stop := errors.New("stop")
	n, err := r.Each(context.Background(), func(types.RawRecord) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 0, n)
}

func TestOpenRejectsNonSqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database"), 0o644))

	r, err := Open(path)
	if err == nil {
		// the driver opens lazily, the first query reports the problem
		defer r.Close()
		_, err = r.Tables(context.Background())
	}
	assert.ErrorIs(t, err, ErrNotAContainer)
}

func TestReaderQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT name FROM sqlite_master`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("events"))
	mock.ExpectQuery(`SELECT \* FROM "events"`).
		WillReturnError(errors.New("disk I/O error"))

	r := NewReader(db, "mock.db")
	_, err = r.Each(context.Background(), func(types.RawRecord) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT name FROM sqlite_master`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("events"))
	rows := sqlmock.NewRows([]string{"id1", "id2", "timestamp", "event_id", "data"}).
		AddRow("a", "b", int64(1690000000), int64(13), []byte(`{"brightness":0.5}`)).
		AddRow("a", "b", int64(1690000001), int64(13), []byte(`{"brightness":0.6}`)).
		RowError(1, errors.New("truncated page"))
	mock.ExpectQuery(`SELECT \* FROM "events"`).WillReturnRows(rows)

	r := NewReader(db, "mock.db")
	n, err := r.Each(context.Background(), func(types.RawRecord) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestTypeCode(t *testing.T) {
	tests := []struct {
		in       any
		expected int
	}{
		{int64(152), 152},
		{float64(21), 21},
		{"503", 503},
		{[]byte(" 16 "), 16},
		{"gps", -1},
		{nil, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, typeCode(tt.in), "input %v", tt.in)
	}
}
