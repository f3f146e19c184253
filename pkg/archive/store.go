// Package archive keeps a copy of every iteration exchange in SQLite so a
// trace can be inspected or replayed later. The engine never reads from it.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for a trace id.
var ErrNotFound = errors.New("trace not found")

// Record is one archived iteration.
type Record struct {
	TraceID   string          `json:"traceId"`
	Model     string          `json:"model"`
	Iteration int             `json:"iteration"`
	Status    string          `json:"status"`
	Success   bool            `json:"success"`
	CreatedAt time.Time       `json:"createdAt"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
}

// Summary is a Record without the payloads.
type Summary struct {
	TraceID   string    `json:"traceId"`
	Model     string    `json:"model"`
	Iteration int       `json:"iteration"`
	Status    string    `json:"status"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is a SQLite-backed archive.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at dsn. A plain path is created with
// owner-only permissions.
func Open(dsn string) (*Store, error) {
	filePath, onDisk := sqliteFilePathFromDSN(dsn)
	if onDisk {
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create archive directory: %w", err)
			}
		}
		if err := ensurePrivateFile(filePath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if onDisk {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	} else {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS iterations (
		trace_id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		status TEXT NOT NULL,
		success INTEGER NOT NULL,
		request TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_iterations_created ON iterations(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores rec, replacing any record with the same trace id.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.TraceID) == "" {
		return fmt.Errorf("archive record requires a trace id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO iterations (trace_id, model, iteration, status, success, request, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Model, rec.Iteration, rec.Status, rec.Success,
		string(rec.Request), string(rec.Response), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save trace %s: %w", rec.TraceID, err)
	}
	return nil
}

// Get loads the record for traceID.
func (s *Store) Get(ctx context.Context, traceID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, model, iteration, status, success, request, response, created_at
		FROM iterations WHERE trace_id = ?`, traceID)

	var (
		rec      Record
		request  string
		response string
	)
	err := row.Scan(&rec.TraceID, &rec.Model, &rec.Iteration, &rec.Status, &rec.Success, &request, &response, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", traceID, err)
	}
	rec.Request = json.RawMessage(request)
	rec.Response = json.RawMessage(response)
	return &rec, nil
}

// Recent lists the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, model, iteration, status, success, created_at
		FROM iterations ORDER BY created_at DESC, trace_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.TraceID, &sum.Model, &sum.Iteration, &sum.Status, &sum.Success, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := strings.TrimSpace(u.Path)
		if path == "" {
			path = strings.TrimSpace(u.Opaque)
		}
		if path == "" || path == ":memory:" || u.Query().Get("mode") == "memory" {
			return "", false
		}
		return path, true
	}
	return dsn, true
}

func ensurePrivateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat archive path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create archive file: %w", err)
	}
	return f.Close()
}
