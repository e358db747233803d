package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type linkStore struct {
	db *sql.DB
}

func newLinkStore(db *sql.DB) storage.LinkStore {
	return &linkStore{db: db}
}

// ReplaceAll syncs the configured links into the store, preserving insertion
// counters for links that already exist.
func (s *linkStore) ReplaceAll(ctx context.Context, links []types.AffiliateLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin link sync: %w", err)
	}
	defer tx.Rollback()

	names := make([]interface{}, 0, len(links))
	placeholders := ""
	for i, link := range links {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		names = append(names, link.Name)
	}
	if len(names) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM affiliate_links`); err != nil {
			return fmt.Errorf("failed to clear links: %w", err)
		}
	} else {
		query := fmt.Sprintf(`DELETE FROM affiliate_links WHERE name NOT IN (%s)`, placeholders)
		if _, err := tx.ExecContext(ctx, query, names...); err != nil {
			return fmt.Errorf("failed to prune removed links: %w", err)
		}
	}

	for _, link := range links {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO affiliate_links (name, url, text, weight, insertions)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(name) DO UPDATE SET
				url = excluded.url,
				text = excluded.text,
				weight = excluded.weight
		`, link.Name, link.URL, link.Text, link.Weight)
		if err != nil {
			return fmt.Errorf("failed to sync link %s: %w", link.Name, err)
		}
	}

	return tx.Commit()
}

func (s *linkStore) List(ctx context.Context) ([]types.AffiliateLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, url, text, weight, insertions FROM affiliate_links ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list affiliate links: %w", err)
	}
	defer rows.Close()

	var links []types.AffiliateLink
	for rows.Next() {
		var link types.AffiliateLink
		if err := rows.Scan(&link.Name, &link.URL, &link.Text, &link.Weight, &link.Insertions); err != nil {
			return nil, fmt.Errorf("failed to scan affiliate link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *linkStore) IncrementInsertions(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE affiliate_links SET insertions = insertions + 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to increment insertions for %s: %w", name, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("affiliate link %s not found", name)
	}
	return nil
}
