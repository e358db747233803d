package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type processedStore struct {
	db *sql.DB
}

func newProcessedStore(db *sql.DB) storage.ProcessedStore {
	return &processedStore{db: db}
}

const processedColumns = `id, raw_id, source_id, source_weight, normalized_text, language, score, duplicate_of,
	translated_text, translated_from, image_ref, enrich_errors,
	state, scheduled_at, overflow, fail_reason, created_at, updated_at`

func (s *processedStore) Create(ctx context.Context, item *types.ProcessedItem) error {
	enrichErrs, _ := json.Marshal(item.Enrichment.Errors)

	query := `
		INSERT INTO processed_items (` + processedColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.RawID, item.SourceID, item.SourceWeight, item.NormalizedText, item.Language,
		item.Score, item.DuplicateOf,
		item.Enrichment.TranslatedText, item.Enrichment.TranslatedFrom,
		item.Enrichment.ImageRef, string(enrichErrs),
		item.State, item.ScheduledAt, item.Overflow, item.FailReason,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create processed item: %w", err)
	}
	return nil
}

func (s *processedStore) Transition(ctx context.Context, item *types.ProcessedItem, next types.State) error {
	if !item.State.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for item %s", item.State, next, item.ID)
	}

	enrichErrs, _ := json.Marshal(item.Enrichment.Errors)
	now := time.Now().UTC()

	query := `
		UPDATE processed_items
		SET score = ?, duplicate_of = ?, translated_text = ?, translated_from = ?,
			image_ref = ?, enrich_errors = ?, state = ?, scheduled_at = ?,
			overflow = ?, fail_reason = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		item.Score, item.DuplicateOf,
		item.Enrichment.TranslatedText, item.Enrichment.TranslatedFrom,
		item.Enrichment.ImageRef, string(enrichErrs),
		next, item.ScheduledAt, item.Overflow, item.FailReason, now,
		item.ID, item.State)
	if err != nil {
		return fmt.Errorf("failed to transition item %s to %s: %w", item.ID, next, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("item %s no longer in state %s, transition to %s lost the race", item.ID, item.State, next)
	}

	item.State = next
	item.UpdatedAt = now
	return nil
}

func (s *processedStore) Get(ctx context.Context, id string) (*types.ProcessedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+processedColumns+` FROM processed_items WHERE id = ?`, id)
	return scanProcessed(row)
}

func (s *processedStore) ExistsForRaw(ctx context.Context, rawID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_items WHERE raw_id = ?`, rawID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check raw mapping: %w", err)
	}
	return count > 0, nil
}

func (s *processedStore) ListByState(ctx context.Context, state types.State, limit int) ([]*types.ProcessedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+processedColumns+` FROM processed_items WHERE state = ? ORDER BY created_at LIMIT ?`,
		state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list items in state %s: %w", state, err)
	}
	defer rows.Close()
	return scanProcessedRows(rows)
}

func (s *processedStore) ListStale(ctx context.Context, olderThan time.Duration) ([]*types.ProcessedItem, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	// A scheduled item legitimately sits untouched until its slot; it is only
	// stale once the slot has passed.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+processedColumns+` FROM processed_items
		WHERE state NOT IN (?, ?, ?, ?) AND updated_at < ?
			AND (state != ? OR scheduled_at IS NULL OR scheduled_at < ?)
		ORDER BY updated_at
	`, types.StateDuplicate, types.StateRejected, types.StatePublished, types.StatePublishFailed, cutoff,
		types.StateScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale items: %w", err)
	}
	defer rows.Close()
	return scanProcessedRows(rows)
}

func (s *processedStore) ListRecentAccepted(ctx context.Context, since time.Time, limit int) ([]*types.ProcessedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+processedColumns+` FROM processed_items
		WHERE duplicate_of = '' AND state != ? AND created_at >= ?
		ORDER BY created_at LIMIT ?
	`, types.StateRejected, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent accepted items: %w", err)
	}
	defer rows.Close()
	return scanProcessedRows(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProcessed(row rowScanner) (*types.ProcessedItem, error) {
	var item types.ProcessedItem
	var enrichErrs string
	var scheduledAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.RawID, &item.SourceID, &item.SourceWeight, &item.NormalizedText, &item.Language,
		&item.Score, &item.DuplicateOf,
		&item.Enrichment.TranslatedText, &item.Enrichment.TranslatedFrom,
		&item.Enrichment.ImageRef, &enrichErrs,
		&item.State, &scheduledAt, &item.Overflow, &item.FailReason,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan processed item: %w", err)
	}

	if scheduledAt.Valid {
		t := scheduledAt.Time
		item.ScheduledAt = &t
	}
	if err := json.Unmarshal([]byte(enrichErrs), &item.Enrichment.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment errors for %s: %w", item.ID, err)
	}
	return &item, nil
}

func scanProcessedRows(rows *sql.Rows) ([]*types.ProcessedItem, error) {
	var items []*types.ProcessedItem
	for rows.Next() {
		item, err := scanProcessed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
