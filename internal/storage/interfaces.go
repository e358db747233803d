package storage

import (
	"context"
	"database/sql"
	"time"

	"autopost/internal/types"
)

// Store is the content store, the single source of truth for item state.
// Every stage persists its transition here before handing the item to the
// next queue.
type Store interface {
	GetConnection() *sql.DB
	Raw() RawStore
	Processed() ProcessedStore
	Decisions() DecisionStore
	Posts() PostStore
	Sources() SourceStore
	Links() LinkStore
	Close(ctx context.Context) error
}

type RawStore interface {
	// InsertIfAbsent stores the item unless one with the same source and
	// external id already exists. Returns false when suppressed.
	InsertIfAbsent(ctx context.Context, item *types.RawItem) (bool, error)
	Get(ctx context.Context, id string) (*types.RawItem, error)
	// ListUnprocessed returns raw items that never produced a processed item,
	// for crash recovery re-enqueueing.
	ListUnprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]*types.RawItem, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}

type ProcessedStore interface {
	Create(ctx context.Context, item *types.ProcessedItem) error
	Get(ctx context.Context, id string) (*types.ProcessedItem, error)
	// Transition validates the lifecycle step, stamps UpdatedAt, and persists
	// the item's mutable fields together with the new state.
	Transition(ctx context.Context, item *types.ProcessedItem, next types.State) error
	ExistsForRaw(ctx context.Context, rawID string) (bool, error)
	ListByState(ctx context.Context, state types.State, limit int) ([]*types.ProcessedItem, error)
	// ListStale returns non-terminal items not updated within the threshold,
	// for crash recovery re-enqueueing.
	ListStale(ctx context.Context, olderThan time.Duration) ([]*types.ProcessedItem, error)
	// ListRecentAccepted returns non-duplicate items newer than since, used to
	// rebuild the similarity index on restart.
	ListRecentAccepted(ctx context.Context, since time.Time, limit int) ([]*types.ProcessedItem, error)
}

type DecisionStore interface {
	// Create records the one decision an item may have. A second attempt
	// returns types.ErrAlreadyDecided.
	Create(ctx context.Context, decision *types.ModerationDecision) error
	GetByItem(ctx context.Context, itemID string) (*types.ModerationDecision, error)
}

type PostStore interface {
	Create(ctx context.Context, post *types.PublishedPost) error
	CountPublished(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

type SourceStore interface {
	Upsert(ctx context.Context, source *types.Source) error
	SetActive(ctx context.Context, id int64, active bool) error
	Get(ctx context.Context, id int64) (*types.Source, error)
	List(ctx context.Context) ([]*types.Source, error)
}

type LinkStore interface {
	ReplaceAll(ctx context.Context, links []types.AffiliateLink) error
	List(ctx context.Context) ([]types.AffiliateLink, error)
	IncrementInsertions(ctx context.Context, name string) error
}
