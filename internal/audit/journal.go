package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"github.com/aulakube/classdb/internal/core"
)

// Compile-time check that Journal implements core.Journal.
var _ core.Journal = (*Journal)(nil)

// schema is applied on every Open; CREATE TABLE IF NOT EXISTS makes it
// idempotent. "release" is an SQL keyword, hence release_name.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	at           TEXT NOT NULL,
	action       TEXT NOT NULL,
	release_name TEXT NOT NULL,
	namespace    TEXT NOT NULL,
	kind         TEXT NOT NULL,
	detail       TEXT NOT NULL
)`

// Journal is an append-only event log backed by SQLite. Safe for concurrent
// use; writes are serialized over a single connection.
type Journal struct {
	db  *sql.DB
	log *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// Open opens (creating if needed) the journal database at path and ensures
// the schema exists. If logger is nil, slog.Default() is used.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// WAL keeps concurrent readers cheap; NORMAL synchronous is enough for
	// an advisory journal.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}

	return &Journal{db: db, log: logger, now: time.Now}, nil
}

// RecordDeploy appends a deploy event with the full assignment list as a
// JSON detail payload. Implements core.Journal.
func (j *Journal) RecordDeploy(ctx context.Context, release, namespace, kind string, assignments []core.Assignment) error {
	detail, err := json.Marshal(assignments)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	return j.insert(ctx, "deploy", release, namespace, kind, string(detail))
}

// RecordDestroy appends a destroy event noting how many registry entries
// the teardown removed. Implements core.Journal.
func (j *Journal) RecordDestroy(ctx context.Context, release, namespace, kind string, removed int) error {
	detail, err := json.Marshal(map[string]int{"removed": removed})
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	return j.insert(ctx, "destroy", release, namespace, kind, string(detail))
}

func (j *Journal) insert(ctx context.Context, action, release, namespace, kind, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (at, action, release_name, namespace, kind, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		j.now().UTC().Format(time.RFC3339), action, release, namespace, kind, detail,
	)
	if err != nil {
		return fmt.Errorf("append %s event for %q: %w", action, release, err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}
