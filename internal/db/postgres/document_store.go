package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

// DocumentStore keeps document metadata and the status history in
// PostgreSQL. It implements rag.StatusSink.
type DocumentStore struct {
	db *sql.DB
}

var _ rag.StatusSink = (*DocumentStore)(nil)

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// EnsureTables creates the documents and document_events tables.
func (s *DocumentStore) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id      VARCHAR(255) PRIMARY KEY,
		media_kind  VARCHAR(32) NOT NULL DEFAULT '',
		status      VARCHAR(32) NOT NULL,
		size_bytes  BIGINT NOT NULL DEFAULT 0,
		total_pages INT NOT NULL DEFAULT 0,
		chunk_count INT NOT NULL DEFAULT 0,
		reason      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS document_events (
		id          BIGSERIAL PRIMARY KEY,
		doc_id      VARCHAR(255) NOT NULL,
		status      VARCHAR(32) NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_document_events_doc ON document_events(doc_id, occurred_at);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// RecordStatus upserts the document row and appends the event to the
// history, in one transaction.
func (s *DocumentStore) RecordStatus(ctx context.Context, ev rag.StatusEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, media_kind, status, size_bytes, total_pages, chunk_count, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (doc_id) DO UPDATE SET
			media_kind  = EXCLUDED.media_kind,
			status      = EXCLUDED.status,
			size_bytes  = EXCLUDED.size_bytes,
			total_pages = EXCLUDED.total_pages,
			chunk_count = EXCLUDED.chunk_count,
			reason      = EXCLUDED.reason,
			updated_at  = EXCLUDED.updated_at`,
		ev.DocumentID, string(ev.MediaKind), string(ev.Status), ev.ByteLength, ev.Pages, ev.ChunkCount, ev.Reason, ev.At,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", ev.DocumentID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_events (doc_id, status, reason, occurred_at) VALUES ($1, $2, $3, $4)`,
		ev.DocumentID, string(ev.Status), ev.Reason, ev.At,
	)
	if err != nil {
		return fmt.Errorf("insert document event %s: %w", ev.DocumentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document status %s: %w", ev.DocumentID, err)
	}
	applog.Debug("[Storage/Postgres] Recorded document status", "doc_id", ev.DocumentID, "status", ev.Status)
	return nil
}

// Get loads the metadata row of docID.
func (s *DocumentStore) Get(ctx context.Context, docID string) (*DocumentRow, error) {
	var r DocumentRow
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, media_kind, status, size_bytes, total_pages, chunk_count, reason, created_at, updated_at
		FROM documents WHERE doc_id = $1`, docID,
	).Scan(&r.ID, &r.MediaKind, &r.Status, &r.SizeBytes, &r.TotalPages, &r.ChunkCount, &r.Reason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docID, err)
	}
	return &r, nil
}
