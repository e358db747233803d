package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autopost/internal/cache"
	"autopost/internal/metrics"
	"autopost/internal/storage"
	"autopost/internal/types"
)

const seenTTL = 72 * time.Hour

// Intake is the single entry point for new content. Every submission passes
// an exact-identity check first: a cache probe on (source, external id) and,
// on miss, a conditional insert into the raw store. An item seen before is
// suppressed without side effects, so watchers can re-deliver freely.
type Intake struct {
	store  storage.Store
	cache  cache.Cache
	out    chan<- *types.RawItem
	logger *slog.Logger
}

func NewIntake(store storage.Store, seenCache cache.Cache, out chan<- *types.RawItem, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: store, cache: seenCache, out: out, logger: logger}
}

// Submit offers one unit of content from a source. Returns true when the
// item was accepted into the pipeline.
func (in *Intake) Submit(ctx context.Context, source *types.Source, externalID, text string, mediaURLs []string) (bool, error) {
	if !source.Active {
		return false, nil
	}
	if externalID == "" || text == "" {
		return false, fmt.Errorf("source %s delivered item without id or text", source.Name)
	}

	key := fmt.Sprintf("seen:%d:%s", source.ID, externalID)
	if _, hit := in.cache.Get(ctx, key); hit {
		metrics.ItemsSuppressed.WithLabelValues(source.Name).Inc()
		return false, nil
	}

	item := &types.RawItem{
		ID:           uuid.NewString(),
		SourceID:     source.ID,
		ExternalID:   externalID,
		Text:         text,
		MediaURLs:    mediaURLs,
		Language:     source.Language,
		SourceWeight: source.Weight,
		IngestedAt:   time.Now().UTC(),
	}

	inserted, err := in.store.Raw().InsertIfAbsent(ctx, item)
	if err != nil {
		return false, fmt.Errorf("failed to store raw item from %s: %w", source.Name, err)
	}

	in.cache.Set(ctx, key, "1", seenTTL)

	if !inserted {
		metrics.ItemsSuppressed.WithLabelValues(source.Name).Inc()
		return false, nil
	}

	metrics.ItemsIngested.WithLabelValues(source.Name).Inc()
	in.logger.Debug("Item ingested", "source", source.Name, "external_id", externalID)

	select {
	case in.out <- item:
	case <-ctx.Done():
		// Persisted already; recovery picks it up on the next sweep.
		return true, ctx.Err()
	}
	return true, nil
}
