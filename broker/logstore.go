package broker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	weblink "github.com/duke1swd/weblinkGo/library"
)

// Column order of the filter match: timestamp, urn, category, msg.
var logColumns = []string{"Timestamp", "Urn", "Category", "Msg"}

// LogRow is a log entry as it goes on the wire. Timestamp is milliseconds
// since the epoch.
type LogRow struct {
	Timestamp int64  `json:"timestamp"`
	URN       string `json:"urn"`
	Category  string `json:"category"`
	Msg       string `json:"msg"`
}

// LogStore is the core's log database. It starts empty every run.
type LogStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLogStore opens the sqlite database at path, or an in-memory one when
// path is empty, and recreates the Logger table.
func OpenLogStore(ctx context.Context, path string) (*LogStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	// One connection: sqlite serialises writers and :memory: is per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"DROP TABLE IF EXISTS Logger",
		"CREATE TABLE Logger(Timestamp INT, Urn TEXT, Category TEXT, Msg TEXT)",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init log store: %w", err)
		}
	}

	return &LogStore{db: db, now: time.Now}, nil
}

func (s *LogStore) Append(ctx context.Context, urn, category, msg string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO Logger VALUES(?, ?, ?, ?)",
		s.now().UnixMilli(), urn, category, msg)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}

	return nil
}

// Query returns the rows matching every non-empty filter field as a
// substring, oldest first.
func (s *LogStore) Query(ctx context.Context, f weblink.LogFilter) ([]LogRow, error) {
	params := []string{f.Time, f.URN, f.Category, f.Message}

	var (
		where []string
		args  []any
	)

	for i, p := range params {
		if p == "" {
			continue
		}

		where = append(where, logColumns[i]+" LIKE ?")
		args = append(args, "%"+p+"%")
	}

	query := "SELECT Timestamp, Urn, Category, Msg FROM Logger"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	out := []LogRow{}
	for rows.Next() {
		var r LogRow
		if err := rows.Scan(&r.Timestamp, &r.URN, &r.Category, &r.Msg); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *LogStore) Close() error {
	return s.db.Close()
}
