// Package sqlite is the embedded document status store for single-node
// installs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"docsearch/internal/db/sqlite/migrations"
	"docsearch/internal/domain/rag"
	applog "docsearch/internal/platform/log"
)

// ErrNotFound is returned by Get for unknown document ids.
var ErrNotFound = errors.New("document not found")

// DocumentRow is the persisted metadata of one document.
type DocumentRow struct {
	ID         string
	MediaKind  string
	Status     string
	SizeBytes  int
	TotalPages int
	ChunkCount int
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StatusRecord is one entry of a document's status history.
type StatusRecord struct {
	Status     string
	Reason     string
	OccurredAt time.Time
}

// DocumentStore keeps document metadata and the status history in a local
// SQLite file. It implements rag.StatusSink.
type DocumentStore struct {
	db   *sql.DB
	path string
}

var _ rag.StatusSink = (*DocumentStore)(nil)

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*DocumentStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; busy_timeout covers readers.
	db.SetMaxOpenConns(1)

	s := &DocumentStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *DocumentStore) Close() error {
	return s.db.Close()
}

func (s *DocumentStore) Path() string {
	return s.path
}

func (s *DocumentStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		applog.Info("[Storage/SQLite] Applied migration", "name", name)
	}
	return nil
}

// RecordStatus upserts the document row and appends the event to the
// history, in one transaction.
func (s *DocumentStore) RecordStatus(ctx context.Context, ev rag.StatusEvent) error {
	at := ev.At.UTC()
	if ev.At.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, media_kind, status, size_bytes, total_pages, chunk_count, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			media_kind = excluded.media_kind,
			status = excluded.status,
			size_bytes = excluded.size_bytes,
			total_pages = excluded.total_pages,
			chunk_count = excluded.chunk_count,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		ev.DocumentID, string(ev.MediaKind), string(ev.Status), ev.ByteLength, ev.Pages, ev.ChunkCount, ev.Reason, at, at,
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", ev.DocumentID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_events (doc_id, status, reason, occurred_at) VALUES (?, ?, ?, ?)`,
		ev.DocumentID, string(ev.Status), ev.Reason, at,
	)
	if err != nil {
		return fmt.Errorf("saving document event %s: %w", ev.DocumentID, err)
	}
	return tx.Commit()
}

// Get loads the metadata row of docID.
func (s *DocumentStore) Get(ctx context.Context, docID string) (*DocumentRow, error) {
	var r DocumentRow
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, media_kind, status, size_bytes, total_pages, chunk_count, reason, created_at, updated_at
		FROM documents WHERE doc_id = ?`, docID,
	).Scan(&r.ID, &r.MediaKind, &r.Status, &r.SizeBytes, &r.TotalPages, &r.ChunkCount, &r.Reason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", docID, err)
	}
	return &r, nil
}

// History returns the status changes of docID, oldest first.
func (s *DocumentStore) History(ctx context.Context, docID string) ([]StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, reason, occurred_at FROM document_events
		WHERE doc_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", docID, err)
	}
	defer rows.Close()

	var out []StatusRecord
	for rows.Next() {
		var r StatusRecord
		if err := rows.Scan(&r.Status, &r.Reason, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning history of %s: %w", docID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
