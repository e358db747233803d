package pipeline

import (
	"context"
	"strconv"
	"time"

	"autopost/internal/config"
	"autopost/internal/metrics"
	"autopost/internal/types"
)

// recoveryLoop periodically re-enqueues work that stalled mid-stage: raw
// items that never produced a processed item, and processed items whose
// state has not advanced within the staleness threshold. An item that is
// still in flight may be picked up twice; the state-guarded transition in
// the store drops the losing replay, so double delivery cannot happen.
func (p *Pipeline) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		cfg := p.cfgStore.Current()
		interval := config.Duration(cfg.App.RecoveryEvery)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := p.recoverOnce(ctx, cfg); err != nil && ctx.Err() == nil {
			p.logger.Error("Recovery sweep failed", "error", err)
		}
	}
}

func (p *Pipeline) recoverOnce(ctx context.Context, cfg *config.Config) error {
	stale := config.Duration(cfg.App.StaleAfter)

	orphans, err := p.store.Raw().ListUnprocessed(ctx, stale, 100)
	if err != nil {
		return err
	}
	for _, raw := range orphans {
		if err := p.submitRaw(ctx, raw); err != nil {
			return err
		}
		metrics.RecoveredItems.Inc()
	}

	items, err := p.store.Processed().ListStale(ctx, stale)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := p.resume(ctx, item); err != nil {
			p.logger.Warn("Failed to resume stale item",
				"item", item.ID, "state", item.State, "error", err)
			continue
		}
		metrics.RecoveredItems.Inc()
		p.logger.Info("Stale item resumed", "item", item.ID, "state", item.State)
	}
	return nil
}

// resume routes a stale item back into the stage matching its stored state.
func (p *Pipeline) resume(ctx context.Context, item *types.ProcessedItem) error {
	switch item.State {
	case types.StateRaw:
		return p.routeRaw(ctx, item)

	case types.StateScored:
		return p.routeScored(ctx, item)

	case types.StateEnriching:
		return p.enrichQ.push(ctx, strconv.FormatInt(item.SourceID, 10), item)

	case types.StatePendingModeration:
		// The moderation gate polls the pending set itself.
		return nil

	case types.StateApproved:
		select {
		case p.scheduleQ <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case types.StateScheduled:
		select {
		case p.publishQ <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
