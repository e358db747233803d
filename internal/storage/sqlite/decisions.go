package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type decisionStore struct {
	db *sql.DB
}

func newDecisionStore(db *sql.DB) storage.DecisionStore {
	return &decisionStore{db: db}
}

func (s *decisionStore) Create(ctx context.Context, decision *types.ModerationDecision) error {
	query := `
		INSERT INTO moderation_decisions (id, item_id, approver, verdict, comment, reason, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		decision.ID, decision.ItemID, decision.Approver, decision.Verdict,
		decision.Comment, decision.Reason, decision.DecidedAt)
	if err != nil {
		// The unique index on item_id enforces one decision per item.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return types.ErrAlreadyDecided
		}
		return fmt.Errorf("failed to record decision for item %s: %w", decision.ItemID, err)
	}
	return nil
}

func (s *decisionStore) GetByItem(ctx context.Context, itemID string) (*types.ModerationDecision, error) {
	query := `
		SELECT id, item_id, approver, verdict, comment, reason, decided_at
		FROM moderation_decisions WHERE item_id = ?
	`

	var d types.ModerationDecision
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(
		&d.ID, &d.ItemID, &d.Approver, &d.Verdict, &d.Comment, &d.Reason, &d.DecidedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision for item %s: %w", itemID, err)
	}
	return &d, nil
}
