package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

// Store persists link events to an on-disk SQLite log so operators can
// reconstruct what the adaptive loop and safety monitor did after the fact.
// It implements core.EventSink.
type Store struct {
	db     *sql.DB
	linkID string
}

// Record is one persisted event row.
type Record struct {
	ID        int64             `json:"ID"`
	LinkID    string            `json:"LinkID"`
	Type      string            `json:"Type"`
	Timestamp time.Time         `json:"Timestamp"`
	Message   string            `json:"Message"`
	Attrs     map[string]string `json:"Attrs,omitempty"`
}

// Open creates or opens the audit database at path and ensures the schema.
func Open(ctx context.Context, path, linkID string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS link_events(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	link_id TEXT NOT NULL,
	type TEXT NOT NULL,
	ts TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	attrs TEXT
);
CREATE INDEX IF NOT EXISTS idx_link_events_ts ON link_events(ts);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return &Store{db: db, linkID: linkID}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Publish implements core.EventSink. Write failures are swallowed: the audit
// trail must never take down the control loop.
func (s *Store) Publish(e core.Event) {
	if s == nil || s.db == nil {
		return
	}
	var attrs any
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			attrs = string(b)
		}
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, _ = s.db.Exec(`INSERT INTO link_events(link_id, type, ts, message, attrs) VALUES (?, ?, ?, ?, ?)`,
		s.linkID, string(e.Type), ts.UTC().Format(time.RFC3339Nano), e.Message, attrs)
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, link_id, type, ts, message, attrs
FROM link_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		var attrs sql.NullString
		if err := rows.Scan(&r.ID, &r.LinkID, &r.Type, &ts, &r.Message, &attrs); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			r.Timestamp = parsed
		}
		if attrs.Valid && attrs.String != "" {
			if jerr := json.Unmarshal([]byte(attrs.String), &r.Attrs); jerr != nil {
				return nil, fmt.Errorf("decode audit attrs: %w", jerr)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

// CountByType returns how many events of each type the log holds.
func (s *Store) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM link_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}
