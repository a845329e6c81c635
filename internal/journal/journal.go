// Package journal keeps a local, best-effort ledger of sync outcomes in
// SQLite. It backs the status endpoint; the authoritative audit trail lives
// in the spreadsheet's Audit tab.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Entry is one recorded sync outcome.
type Entry struct {
	ID        string    `json:"id"`
	DealID    int64     `json:"deal_id"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	Trigger   string    `json:"trigger"`
	CreatedAt time.Time `json:"created_at"`
}

// Counts aggregates journal outcomes.
type Counts struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Journal is the SQLite-backed sync ledger.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database, applies pragmas and
// runs migrations.
func Open(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSync inserts one outcome row.
func (j *Journal) RecordSync(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, deal_id, action, success, reason, trigger_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.DealID, e.Action, boolToInt(e.Success), e.Reason, e.Trigger, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, deal_id, action, success, reason, trigger_by, created_at
		FROM sync_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent syncs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			success   int
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.DealID, &e.Action, &success, &e.Reason, &e.Trigger, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync entry: %w", err)
		}
		e.Success = success != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate outcome counts.
func (j *Journal) Stats(ctx context.Context) (*Counts, error) {
	var c Counts
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(1 - success), 0)
		FROM sync_log
	`).Scan(&c.Total, &c.Succeeded, &c.Failed)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
