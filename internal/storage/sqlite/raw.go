package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type rawStore struct {
	db *sql.DB
}

func newRawStore(db *sql.DB) storage.RawStore {
	return &rawStore{db: db}
}

func (s *rawStore) InsertIfAbsent(ctx context.Context, item *types.RawItem) (bool, error) {
	media, _ := json.Marshal(item.MediaURLs)

	query := `
		INSERT INTO raw_items (id, source_id, external_id, text, media_urls, language, source_weight, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		item.ID, item.SourceID, item.ExternalID, item.Text, string(media),
		item.Language, item.SourceWeight, item.IngestedAt)
	if err != nil {
		return false, fmt.Errorf("failed to store raw item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert result: %w", err)
	}
	return rows > 0, nil
}

func (s *rawStore) Get(ctx context.Context, id string) (*types.RawItem, error) {
	query := `
		SELECT id, source_id, external_id, text, media_urls, language, source_weight, ingested_at
		FROM raw_items WHERE id = ?
	`

	var item types.RawItem
	var media string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.SourceID, &item.ExternalID, &item.Text, &media,
		&item.Language, &item.SourceWeight, &item.IngestedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get raw item %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(media), &item.MediaURLs); err != nil {
		return nil, fmt.Errorf("failed to decode media urls for %s: %w", id, err)
	}
	return &item, nil
}

func (s *rawStore) ListUnprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]*types.RawItem, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query := `
		SELECT r.id, r.source_id, r.external_id, r.text, r.media_urls, r.language, r.source_weight, r.ingested_at
		FROM raw_items r
		LEFT JOIN processed_items p ON p.raw_id = r.id
		WHERE p.id IS NULL AND r.ingested_at < ?
		ORDER BY r.ingested_at LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed raw items: %w", err)
	}
	defer rows.Close()

	var items []*types.RawItem
	for rows.Next() {
		var item types.RawItem
		var media string
		if err := rows.Scan(&item.ID, &item.SourceID, &item.ExternalID, &item.Text, &media,
			&item.Language, &item.SourceWeight, &item.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw item: %w", err)
		}
		if err := json.Unmarshal([]byte(media), &item.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to decode media urls for %s: %w", item.ID, err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (s *rawStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)

	result, err := s.db.ExecContext(ctx, `DELETE FROM raw_items WHERE ingested_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old raw items: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil {
		slog.Debug("Deleted old raw items", "count", rows, "cutoff", cutoff.Format(time.RFC3339))
	}

	return nil
}
