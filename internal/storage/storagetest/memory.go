// Package storagetest provides an in-memory storage.Store for tests. It
// mirrors the sqlite store's semantics, including the state-guarded
// transition and the one-decision-per-item constraint.
package storagetest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"autopost/internal/storage"
	"autopost/internal/types"
)

type MemoryStore struct {
	mu        sync.Mutex
	raw       map[string]*types.RawItem
	rawSeen   map[string]bool
	processed map[string]*types.ProcessedItem
	decisions map[string]*types.ModerationDecision
	posts     []*types.PublishedPost
	sources   map[int64]*types.Source
	links     map[string]*types.AffiliateLink
	nextSrcID int64
}

func New() *MemoryStore {
	return &MemoryStore{
		raw:       make(map[string]*types.RawItem),
		rawSeen:   make(map[string]bool),
		processed: make(map[string]*types.ProcessedItem),
		decisions: make(map[string]*types.ModerationDecision),
		sources:   make(map[int64]*types.Source),
		links:     make(map[string]*types.AffiliateLink),
	}
}

func (m *MemoryStore) GetConnection() *sql.DB          { return nil }
func (m *MemoryStore) Raw() storage.RawStore           { return (*rawStore)(m) }
func (m *MemoryStore) Processed() storage.ProcessedStore { return (*processedStore)(m) }
func (m *MemoryStore) Decisions() storage.DecisionStore  { return (*decisionStore)(m) }
func (m *MemoryStore) Posts() storage.PostStore          { return (*postStore)(m) }
func (m *MemoryStore) Sources() storage.SourceStore      { return (*sourceStore)(m) }
func (m *MemoryStore) Links() storage.LinkStore          { return (*linkStore)(m) }
func (m *MemoryStore) Close(ctx context.Context) error   { return nil }

type rawStore MemoryStore

func (s *rawStore) InsertIfAbsent(ctx context.Context, item *types.RawItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%d:%s", item.SourceID, item.ExternalID)
	if s.rawSeen[key] {
		return false, nil
	}
	s.rawSeen[key] = true
	copied := *item
	s.raw[item.ID] = &copied
	return true, nil
}

func (s *rawStore) Get(ctx context.Context, id string) (*types.RawItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.raw[id]
	if !ok {
		return nil, fmt.Errorf("raw item %s not found", id)
	}
	copied := *item
	return &copied, nil
}

func (s *rawStore) ListUnprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]*types.RawItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	hasProcessed := make(map[string]bool)
	for _, p := range s.processed {
		hasProcessed[p.RawID] = true
	}

	var items []*types.RawItem
	for _, r := range s.raw {
		if !hasProcessed[r.ID] && r.IngestedAt.Before(cutoff) {
			copied := *r
			items = append(items, &copied)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].IngestedAt.Before(items[j].IngestedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *rawStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-age)
	for id, r := range s.raw {
		if r.IngestedAt.Before(cutoff) {
			delete(s.raw, id)
		}
	}
	return nil
}

type processedStore MemoryStore

func (s *processedStore) Create(ctx context.Context, item *types.ProcessedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processed[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	copied := *item
	s.processed[item.ID] = &copied
	return nil
}

func (s *processedStore) Get(ctx context.Context, id string) (*types.ProcessedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.processed[id]
	if !ok {
		return nil, fmt.Errorf("item %s not found", id)
	}
	copied := *item
	return &copied, nil
}

func (s *processedStore) Transition(ctx context.Context, item *types.ProcessedItem, next types.State) error {
	if !item.State.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for item %s", item.State, next, item.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.processed[item.ID]
	if !ok {
		return fmt.Errorf("item %s not found", item.ID)
	}
	if stored.State != item.State {
		return fmt.Errorf("item %s no longer in state %s, transition to %s lost the race", item.ID, item.State, next)
	}

	now := time.Now().UTC()
	copied := *item
	copied.State = next
	copied.UpdatedAt = now
	s.processed[item.ID] = &copied

	item.State = next
	item.UpdatedAt = now
	return nil
}

func (s *processedStore) ExistsForRaw(ctx context.Context, rawID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.processed {
		if p.RawID == rawID {
			return true, nil
		}
	}
	return false, nil
}

func (s *processedStore) ListByState(ctx context.Context, state types.State, limit int) ([]*types.ProcessedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*types.ProcessedItem
	for _, p := range s.processed {
		if p.State == state {
			copied := *p
			items = append(items, &copied)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *processedStore) ListStale(ctx context.Context, olderThan time.Duration) ([]*types.ProcessedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	var items []*types.ProcessedItem
	for _, p := range s.processed {
		if p.State.Terminal() || !p.UpdatedAt.Before(cutoff) {
			continue
		}
		// A scheduled item waiting out a future slot is not stale.
		if p.State == types.StateScheduled && p.ScheduledAt != nil && p.ScheduledAt.After(now) {
			continue
		}
		copied := *p
		items = append(items, &copied)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	return items, nil
}

func (s *processedStore) ListRecentAccepted(ctx context.Context, since time.Time, limit int) ([]*types.ProcessedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*types.ProcessedItem
	for _, p := range s.processed {
		if p.DuplicateOf == "" && p.State != types.StateRejected && !p.CreatedAt.Before(since) {
			copied := *p
			items = append(items, &copied)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type decisionStore MemoryStore

func (s *decisionStore) Create(ctx context.Context, decision *types.ModerationDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.decisions[decision.ItemID]; exists {
		return types.ErrAlreadyDecided
	}
	copied := *decision
	s.decisions[decision.ItemID] = &copied
	return nil
}

func (s *decisionStore) GetByItem(ctx context.Context, itemID string) (*types.ModerationDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.decisions[itemID]
	if !ok {
		return nil, fmt.Errorf("no decision for item %s", itemID)
	}
	copied := *d
	return &copied, nil
}

type postStore MemoryStore

func (s *postStore) Create(ctx context.Context, post *types.PublishedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *post
	s.posts = append(s.posts, &copied)
	return nil
}

func (s *postStore) CountPublished(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.posts)), nil
}

func (s *postStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, p := range s.posts {
		if !p.PublishedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type sourceStore MemoryStore

func (s *sourceStore) Upsert(ctx context.Context, source *types.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sources {
		if existing.Name == source.Name {
			source.ID = existing.ID
			copied := *source
			s.sources[existing.ID] = &copied
			return nil
		}
	}
	s.nextSrcID++
	source.ID = s.nextSrcID
	copied := *source
	s.sources[source.ID] = &copied
	return nil
}

func (s *sourceStore) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %d not found", id)
	}
	src.Active = active
	return nil
}

func (s *sourceStore) Get(ctx context.Context, id int64) (*types.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %d not found", id)
	}
	copied := *src
	return &copied, nil
}

func (s *sourceStore) List(ctx context.Context) ([]*types.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []*types.Source
	for _, src := range s.sources {
		copied := *src
		sources = append(sources, &copied)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

type linkStore MemoryStore

func (s *linkStore) ReplaceAll(ctx context.Context, links []types.AffiliateLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]bool, len(links))
	for _, l := range links {
		keep[l.Name] = true
		if existing, ok := s.links[l.Name]; ok {
			l.Insertions = existing.Insertions
		}
		copied := l
		s.links[l.Name] = &copied
	}
	for name := range s.links {
		if !keep[name] {
			delete(s.links, name)
		}
	}
	return nil
}

func (s *linkStore) List(ctx context.Context) ([]types.AffiliateLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var links []types.AffiliateLink
	for _, l := range s.links {
		links = append(links, *l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	return links, nil
}

func (s *linkStore) IncrementInsertions(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[name]
	if !ok {
		return fmt.Errorf("affiliate link %s not found", name)
	}
	l.Insertions++
	return nil
}
