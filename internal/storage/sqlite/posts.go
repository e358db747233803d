package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type postStore struct {
	db *sql.DB
}

func newPostStore(db *sql.DB) storage.PostStore {
	return &postStore{db: db}
}

func (s *postStore) Create(ctx context.Context, post *types.PublishedPost) error {
	query := `
		INSERT INTO published_posts (id, item_id, final_text, external_post_id, contains_affiliate, affiliate_name, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		post.ID, post.ItemID, post.FinalText, post.ExternalPostID,
		post.ContainsAffiliate, post.AffiliateName, post.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to record published post: %w", err)
	}
	return nil
}

func (s *postStore) CountPublished(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM published_posts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count published posts: %w", err)
	}
	return count, nil
}

func (s *postStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published_posts WHERE published_at >= ?`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent posts: %w", err)
	}
	return count, nil
}
