package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type sourceStore struct {
	db *sql.DB
}

func newSourceStore(db *sql.DB) storage.SourceStore {
	return &sourceStore{db: db}
}

func (s *sourceStore) Upsert(ctx context.Context, source *types.Source) error {
	query := `
		INSERT INTO sources (name, platform, identifier, weight, active, language)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			platform = excluded.platform,
			identifier = excluded.identifier,
			weight = excluded.weight,
			active = excluded.active,
			language = excluded.language
	`

	_, err := s.db.ExecContext(ctx, query,
		source.Name, source.Platform, source.Identifier, source.Weight, source.Active, source.Language)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", source.Name, err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE name = ?`, source.Name).Scan(&source.ID)
	if err != nil {
		return fmt.Errorf("failed to read back source id for %s: %w", source.Name, err)
	}
	return nil
}

func (s *sourceStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to set source %d active=%v: %w", id, active, err)
	}
	return nil
}

func (s *sourceStore) Get(ctx context.Context, id int64) (*types.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, platform, identifier, weight, active, language, created_at
		FROM sources WHERE id = ?
	`, id)

	var src types.Source
	err := row.Scan(&src.ID, &src.Name, &src.Platform, &src.Identifier,
		&src.Weight, &src.Active, &src.Language, &src.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get source %d: %w", id, err)
	}
	return &src, nil
}

func (s *sourceStore) List(ctx context.Context) ([]*types.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, platform, identifier, weight, active, language, created_at
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*types.Source
	for rows.Next() {
		var src types.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Platform, &src.Identifier,
			&src.Weight, &src.Active, &src.Language, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}
