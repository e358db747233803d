package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autopost/internal/config"
	"autopost/internal/metrics"
	"autopost/internal/storage"
	"autopost/internal/types"
)

// escalationReason marks decisions produced by the timeout fallback, so a
// reviewer can tell an auto-resolution from a human call.
const (
	autoApprover     = "auto"
	escalationReason = "timeout"
)

// Gate holds items whose score landed in the uncertain band until a human
// decision arrives or the escalation window elapses. The pending set is
// durable: items rest in the content store in pending_moderation state, and
// the gate polls for items to escalate.
//
// Exactly one decision is recorded per item. A race between a human decision
// and the escalation fallback is settled by the decision store's unique
// insert: whichever lands first wins, and a human decision attempted in the
// same instant as the timeout wins because the fallback checks for an
// existing decision before applying.
type Gate struct {
	store    storage.Store
	approved chan<- *types.ProcessedItem
	logger   *slog.Logger
	now      func() time.Time
}

func NewGate(store storage.Store, approved chan<- *types.ProcessedItem, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:    store,
		approved: approved,
		logger:   logger,
		now:      time.Now,
	}
}

// Hold persists the item into the pending set. The pipeline stops forwarding
// it; the gate takes over until the item is decided.
func (g *Gate) Hold(ctx context.Context, item *types.ProcessedItem) error {
	if err := g.store.Processed().Transition(ctx, item, types.StatePendingModeration); err != nil {
		return fmt.Errorf("failed to hold item for moderation: %w", err)
	}
	g.logger.Info("Item held for moderation", "item", item.ID, "score", item.Score)
	return nil
}

// Decide records a reviewer's verdict. A second decision for the same item
// returns types.ErrAlreadyDecided.
func (g *Gate) Decide(ctx context.Context, itemID, approver string, verdict types.Verdict, comment string) error {
	return g.resolve(ctx, itemID, approver, verdict, comment, "")
}

func (g *Gate) resolve(ctx context.Context, itemID, approver string, verdict types.Verdict, comment, reason string) error {
	item, err := g.store.Processed().Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.State != types.StatePendingModeration {
		return types.ErrAlreadyDecided
	}

	decision := &types.ModerationDecision{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Approver:  approver,
		Verdict:   verdict,
		Comment:   comment,
		Reason:    reason,
		DecidedAt: g.now().UTC(),
	}

	if err := g.store.Decisions().Create(ctx, decision); err != nil {
		return err
	}

	next := types.StateRejected
	if verdict == types.VerdictApprove {
		next = types.StateApproved
	}
	if err := g.store.Processed().Transition(ctx, item, next); err != nil {
		return fmt.Errorf("decision recorded but state transition failed: %w", err)
	}

	g.logger.Info("Moderation decision recorded",
		"item", itemID, "verdict", verdict, "approver", approver, "reason", reason)

	if next == types.StateApproved {
		select {
		case g.approved <- item:
		case <-ctx.Done():
			// The item is persisted as approved; recovery re-enqueues it.
			return ctx.Err()
		}
	}
	return nil
}

// Run polls the pending set and applies the fallback policy to items whose
// escalation window has elapsed. Blocks until ctx is cancelled.
func (g *Gate) Run(ctx context.Context, cfgStore *config.Store) {
	for {
		cfg := cfgStore.Current()
		interval := config.Duration(cfg.Moderation.PollInterval)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := g.escalateOverdue(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Error("Escalation sweep failed", "error", err)
		}
	}
}

func (g *Gate) escalateOverdue(ctx context.Context, cfg *config.Config) error {
	window := config.Duration(cfg.Moderation.EscalationWindow)
	cutoff := g.now().UTC().Add(-window)

	pending, err := g.store.Processed().ListByState(ctx, types.StatePendingModeration, 100)
	if err != nil {
		return err
	}

	for _, item := range pending {
		if item.UpdatedAt.After(cutoff) {
			continue
		}

		verdict := types.VerdictReject
		if cfg.Moderation.FallbackPolicy == "approve" {
			verdict = types.VerdictApprove
		}

		err := g.resolve(ctx, item.ID, autoApprover, verdict,
			fmt.Sprintf("no decision within %s", window), escalationReason)
		if errors.Is(err, types.ErrAlreadyDecided) {
			// A human decision landed between the listing and the fallback.
			continue
		}
		if err != nil {
			return err
		}

		metrics.ModerationEscalations.Inc()
		g.logger.Warn("Moderation escalated by timeout",
			"item", item.ID, "fallback", cfg.Moderation.FallbackPolicy)
	}
	return nil
}
