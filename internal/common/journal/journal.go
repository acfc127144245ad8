// Package journal records stage transitions per document in Postgres.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/pkg/registry"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var ErrJournalDisabled = errors.New("JOURNAL_DISABLED")

// Entry is one stage outcome for a document.
type Entry struct {
	DocID     string         `json:"docId"`
	Stage     registry.Stage `json:"stage"`
	Status    string         `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Journal stores stage outcomes.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	History(ctx context.Context, docID string) ([]Entry, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS stage_events (
	id         BIGSERIAL PRIMARY KEY,
	doc_id     TEXT        NOT NULL,
	stage      TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	detail     TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS stage_events_doc_id_idx ON stage_events (doc_id, created_at)`

type PostgresJournal struct {
	db  *sql.DB
	now func() time.Time
}

var _ Journal = (*PostgresJournal)(nil)

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db, now: time.Now}
}

// EnsureSchema creates the stage_events table when missing.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return apperrors.NewJournalWriteFailedError(fmt.Errorf("create schema: %w", err))
	}
	return nil
}

func (j *PostgresJournal) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO stage_events (doc_id, stage, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.DocID, string(e.Stage), e.Status, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return apperrors.NewJournalWriteFailedError(err)
	}
	return nil
}

// History returns the entries of docID, oldest first.
func (j *PostgresJournal) History(ctx context.Context, docID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT doc_id, stage, status, detail, created_at
		FROM stage_events
		WHERE doc_id = $1
		ORDER BY created_at, id`, docID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var stage string
		if err := rows.Scan(&e.DocID, &stage, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Stage = registry.Stage(stage)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// NoopJournal is used when the journal is disabled.
type NoopJournal struct{}

func (NoopJournal) Record(ctx context.Context, e Entry) error { return nil }

func (NoopJournal) History(ctx context.Context, docID string) ([]Entry, error) {
	return nil, ErrJournalDisabled
}
