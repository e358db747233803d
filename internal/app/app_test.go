package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"autopost/internal/cache"
	"autopost/internal/config"
	"autopost/internal/ingest"
	"autopost/internal/storage/storagetest"
	"autopost/internal/types"
)

func TestBuildWatchers_OnlyFeedPlatformsGetAWatcher(t *testing.T) {
	store := storagetest.New()
	intake := ingest.NewIntake(store, cache.NewMemoryCache(time.Hour), make(chan *types.RawItem, 1), nil)

	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{Name: "coindesk", Platform: "feed", Identifier: "https://example.com/rss", Weight: 0.8, Enabled: true, Poll: "5m"},
			{Name: "trader-chat", Platform: "chat_channel", Identifier: "@traders", Weight: 0.5, Enabled: true},
		},
	}

	watchers, err := buildWatchers(context.Background(), cfg, store, intake, slog.Default())
	if err != nil {
		t.Fatalf("build watchers: %v", err)
	}
	if len(watchers) != 1 {
		t.Errorf("watchers = %d, want 1; only feed sources have a watcher", len(watchers))
	}

	// Both sources are still registered so their weights apply when items
	// arrive by other means.
	sources, err := store.Sources().List(context.Background())
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("registered sources = %d, want 2", len(sources))
	}
}

func TestBuildWatchers_DeactivatesUnconfiguredSources(t *testing.T) {
	store := storagetest.New()
	intake := ingest.NewIntake(store, cache.NewMemoryCache(time.Hour), make(chan *types.RawItem, 1), nil)
	ctx := context.Background()

	stale := &types.Source{Name: "old-feed", Platform: types.PlatformFeed, Identifier: "https://example.com/old", Active: true}
	if err := store.Sources().Upsert(ctx, stale); err != nil {
		t.Fatalf("seeding source: %v", err)
	}

	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{Name: "coindesk", Platform: "feed", Identifier: "https://example.com/rss", Weight: 0.8, Enabled: true, Poll: "5m"},
		},
	}
	if _, err := buildWatchers(ctx, cfg, store, intake, slog.Default()); err != nil {
		t.Fatalf("build watchers: %v", err)
	}

	got, err := store.Sources().Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.Active {
		t.Error("unconfigured source still active")
	}
}
