package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"autopost/internal/affiliate"
	"autopost/internal/config"
	"autopost/internal/metrics"
	"autopost/internal/storage"
	"autopost/internal/types"
)

// OutputChannel delivers a finished post to one destination platform.
type OutputChannel interface {
	Name() string
	// Send returns the platform's post id on success. Transient failures
	// come back as PipelineError with kind transient_delivery_failure and an
	// optional retry_after detail.
	Send(ctx context.Context, text string, mediaRef string) (string, error)
}

// Publisher drains scheduled items: it waits out each item's slot, reserves
// an affiliate position, delivers with bounded retries under a global rate
// limit, and records the terminal outcome.
type Publisher struct {
	store    storage.Store
	channel  OutputChannel
	injector *affiliate.Injector
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPublisher(store storage.Store, channel OutputChannel, injector *affiliate.Injector, perMinute int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:    store,
		channel:  channel,
		injector: injector,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Publish carries one scheduled item to its terminal state. It blocks until
// the item's slot arrives, then attempts delivery up to the configured
// attempt budget with exponential backoff between attempts.
func (p *Publisher) Publish(ctx context.Context, cfg *config.Config, item *types.ProcessedItem) error {
	if item.ScheduledAt != nil {
		if wait := item.ScheduledAt.Sub(p.now()); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	// A recovery sweep can enqueue a second copy of an item already handled
	// by the first. The stored state decides before anything is delivered.
	stored, err := p.store.Processed().Get(ctx, item.ID)
	if err != nil {
		return err
	}
	if stored.State != types.StateScheduled {
		p.logger.Info("Skipping replayed item, already handled",
			"item", item.ID, "state", stored.State)
		return nil
	}

	reservation, err := p.injector.Reserve(ctx, &cfg.Affiliate)
	if err != nil {
		p.logger.Warn("Affiliate reservation failed, publishing without link",
			"item", item.ID, "error", err)
		reservation = &affiliate.Reservation{}
	}

	text := item.NormalizedText
	if item.Enrichment.TranslatedText != "" {
		text = item.Enrichment.TranslatedText
	}
	finalText := affiliate.Compose(text, reservation.Link, cfg.Affiliate.Disclosure)

	externalID, err := p.deliver(ctx, cfg, item, finalText)
	if err != nil {
		p.injector.Release(reservation)
		item.FailReason = err.Error()
		if terr := p.store.Processed().Transition(ctx, item, types.StatePublishFailed); terr != nil {
			return errors.Join(err, terr)
		}
		metrics.ItemsByOutcome.WithLabelValues(string(types.StatePublishFailed)).Inc()
		return err
	}

	post := &types.PublishedPost{
		ID:                uuid.NewString(),
		ItemID:            item.ID,
		FinalText:         finalText,
		ExternalPostID:    externalID,
		ContainsAffiliate: reservation.Link != nil,
		PublishedAt:       p.now().UTC(),
	}
	if reservation.Link != nil {
		post.AffiliateName = reservation.Link.Name
	}

	if err := p.store.Posts().Create(ctx, post); err != nil {
		return fmt.Errorf("delivered but failed to record post for %s: %w", item.ID, err)
	}
	if err := p.store.Processed().Transition(ctx, item, types.StatePublished); err != nil {
		return fmt.Errorf("delivered but failed to mark %s published: %w", item.ID, err)
	}
	if err := p.injector.Commit(ctx, reservation); err != nil {
		p.logger.Error("Failed to commit affiliate position", "item", item.ID, "error", err)
	}
	if reservation.Link != nil {
		metrics.AffiliateInsertions.Inc()
	}
	metrics.ItemsByOutcome.WithLabelValues(string(types.StatePublished)).Inc()

	p.logger.Info("Item published",
		"item", item.ID, "channel", p.channel.Name(), "post", externalID,
		"affiliate", reservation.Link != nil)
	return nil
}

func (p *Publisher) deliver(ctx context.Context, cfg *config.Config, item *types.ProcessedItem, text string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= cfg.Publish.MaxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}

		externalID, err := p.channel.Send(ctx, text, item.Enrichment.ImageRef)
		if err == nil {
			metrics.PublishAttempts.WithLabelValues("success").Inc()
			return externalID, nil
		}
		lastErr = err

		if !types.IsTransient(err) {
			metrics.PublishAttempts.WithLabelValues("permanent").Inc()
			return "", types.NewPipelineError(types.KindDeliveryExhausted, item.ID,
				"permanent delivery failure").WithCause(err)
		}
		metrics.PublishAttempts.WithLabelValues("transient").Inc()

		p.logger.Warn("Delivery attempt failed",
			"item", item.ID, "attempt", attempt, "error", err)

		if attempt < cfg.Publish.MaxAttempts {
			if err := p.sleep(ctx, backoffFor(err, attempt)); err != nil {
				return "", err
			}
		}
	}

	return "", types.NewPipelineError(types.KindDeliveryExhausted, item.ID,
		fmt.Sprintf("delivery failed after %d attempts", cfg.Publish.MaxAttempts)).
		WithCause(lastErr)
}

// backoffFor honors a platform-provided retry_after detail when present,
// otherwise doubles from one second per attempt.
func backoffFor(err error, attempt int) time.Duration {
	var pe *types.PipelineError
	if errors.As(err, &pe) {
		if v, ok := pe.Details["retry_after"]; ok {
			if secs, ok := v.(int); ok && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Second << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
