// Package container reads the raw event rows of the SQLite databases uploaded by the phone app.
package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	_ "github.com/mattn/go-sqlite3"
)

// number of columns of an event table: id, id, timestamp, type code, payload
const eventColumns = 5

var ErrNotAContainer = errors.New("file is not a readable sqlite container")

type Reader struct {
	db   *sql.DB
	path string
}

// Open opens a container read-only.
func Open(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAContainer, err.Error())
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotAContainer, err.Error())
	}
	return &Reader{db: db, path: path}, nil
}

// NewReader wraps an already opened database.
func NewReader(db *sql.DB, path string) *Reader {
	return &Reader{db: db, path: path}
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Tables lists the user tables of the container.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAContainer, err.Error())
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Each streams every event row of every table to fn. Tables with a different shape are
// skipped. An error returned by fn stops the iteration.
func (r *Reader) Each(ctx context.Context, fn func(types.RawRecord) error) (int, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, table := range tables {
		n, err := r.eachInTable(ctx, table, fn)
		total += n
		if err != nil {
			return total, fmt.Errorf("table %s: %w", table, err)
		}
	}
	return total, nil
}

func (r *Reader) eachInTable(ctx context.Context, table string, fn func(types.RawRecord) error) (int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	if len(cols) != eventColumns {
		slog.Warn("skipping table with unexpected shape", slog.String("path", r.path), slog.String("table", table), slog.Int("columns", len(cols)))
		return 0, nil
	}

	count := 0
	for rows.Next() {
		values := make([]any, eventColumns)
		ptrs := make([]any, eventColumns)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return count, err
		}

		if err := fn(types.RawRecord{
			ID1:       values[0],
			ID2:       values[1],
			Timestamp: normalizeCell(values[2]),
			TypeCode:  typeCode(values[3]),
			Payload:   values[4],
		}); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

// timestamps stored as text are handed on as strings, blobs included
func normalizeCell(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// typeCode returns -1 for values that are not integers, which routes them to unknown.
func typeCode(v any) int {
	switch c := v.(type) {
	case int64:
		return int(c)
	case float64:
		return int(c)
	case []byte:
		return typeCode(string(c))
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(c)); err == nil {
			return i
		}
	}
	return -1
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
