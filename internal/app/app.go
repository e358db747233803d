package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autopost/internal/affiliate"
	"autopost/internal/cache"
	"autopost/internal/config"
	"autopost/internal/enrich"
	"autopost/internal/ingest"
	"autopost/internal/normalize"
	"autopost/internal/pipeline"
	"autopost/internal/publish"
	"autopost/internal/schedule"
	"autopost/internal/scoring"
	"autopost/internal/server"
	"autopost/internal/similarity"
	"autopost/internal/storage"
	"autopost/internal/storage/sqlite"
	"autopost/internal/types"
)

// App assembles the whole service from configuration: storage, caches, the
// scoring and enrichment collaborators, the pipeline, the source watchers,
// and the admin server.
type App struct {
	cfgStore *config.Store
	store    storage.Store
	cache    cache.Cache
	pipeline *pipeline.Pipeline
	intake   *ingest.Intake
	watchers []ingest.Watcher
	admin    *server.Admin
	logger   *slog.Logger
}

func Build(ctx context.Context, cfgStore *config.Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := cfgStore.Current()

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	sharedCache, err := buildCache(cfg, logger)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}

	index := similarity.NewIndex(config.Duration(cfg.Dedup.Horizon), cfg.Dedup.MaxEntries)
	if err := rebuildIndex(ctx, cfg, store, index); err != nil {
		logger.Warn("Similarity window rebuild incomplete", "error", err)
	}

	var embedder similarity.Embedder
	if cfg.Dedup.EmbedModel != "" {
		ollamaEmbedder, err := similarity.NewOllamaEmbedder(cfg.Dedup.EmbedModel, 0)
		if err != nil {
			logger.Warn("Embedder unavailable, duplicate check degrades to token overlap", "error", err)
		} else {
			embedder = similarity.NewCachedEmbedder(ollamaEmbedder, sharedCache, 0)
		}
	}

	engine := scoring.NewEngine(index, embedder, logger)

	var translator enrich.Translator
	if cfg.Enrich.TranslationModel != "" {
		translator, err = enrich.NewLLMTranslator(cfg.Enrich.TranslationModel)
		if err != nil {
			return nil, fmt.Errorf("failed to build translator: %w", err)
		}
	}
	enricher := enrich.NewCoordinator(translator, nil, logger)

	scheduler := schedule.NewScheduler()
	if err := restoreSchedule(ctx, store, scheduler); err != nil {
		return nil, err
	}

	injector := affiliate.NewInjector(store.Links(), time.Now().UnixNano(), logger)
	published, err := store.Posts().CountPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore publication count: %w", err)
	}
	injector.Restore(published)

	if err := syncAffiliateLinks(ctx, cfg, store); err != nil {
		return nil, err
	}

	channel, err := buildChannel(cfg, logger)
	if err != nil {
		return nil, err
	}
	publisher := publish.NewPublisher(store, channel, injector, cfg.Publish.PerMinute, logger)

	pipe := pipeline.New(cfgStore, store, engine, enricher, scheduler, publisher, logger)

	intake := ingest.NewIntake(store, sharedCache, pipe.Intake(), logger)
	watchers, err := buildWatchers(ctx, cfg, store, intake, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfgStore: cfgStore,
		store:    store,
		cache:    sharedCache,
		pipeline: pipe,
		intake:   intake,
		watchers: watchers,
		logger:   logger,
	}
	if cfg.App.MetricsListen != "" {
		app.admin = server.NewAdmin(cfg.App.MetricsListen, pipe.Gate(), logger)
	}
	return app, nil
}

func (a *App) Name() string {
	return a.cfgStore.Current().App.Name
}

// Start launches the pipeline, the watchers, and the admin server, then
// blocks until ctx is cancelled and every worker has drained.
func (a *App) Start(ctx context.Context) error {
	a.pipeline.Start(ctx)

	for _, w := range a.watchers {
		go w.Run(ctx)
	}

	if a.admin != nil {
		if err := a.admin.Start(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	a.pipeline.Wait()
	return ctx.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.admin != nil {
		if err := a.admin.Shutdown(ctx); err != nil {
			a.logger.Warn("Admin server shutdown failed", "error", err)
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("Cache close failed", "error", err)
	}
	return a.store.Close(ctx)
}

func buildCache(cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryCache(time.Hour), nil
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to in-process cache",
			"addr", cfg.Redis.Addr, "error", err)
		return cache.NewMemoryCache(time.Hour), nil
	}
	return redisCache, nil
}

func buildChannel(cfg *config.Config, logger *slog.Logger) (publish.OutputChannel, error) {
	if cfg.Publish.BotToken == "" {
		return nil, fmt.Errorf("publish bot_token is required")
	}
	if cfg.Publish.ChannelName == "" {
		return nil, fmt.Errorf("publish channel is required")
	}
	return publish.NewTelegramChannel(cfg.Publish.BotToken, cfg.Publish.ChannelName)
}

// rebuildIndex replays recently accepted items into the similarity window so
// a restart does not forget what was already published or queued.
func rebuildIndex(ctx context.Context, cfg *config.Config, store storage.Store, index *similarity.Index) error {
	since := time.Now().UTC().Add(-config.Duration(cfg.Dedup.Horizon))
	items, err := store.Processed().ListRecentAccepted(ctx, since, cfg.Dedup.MaxEntries)
	if err != nil {
		return err
	}

	for _, item := range items {
		index.Add(similarity.Entry{
			ID:        item.ID,
			CreatedAt: item.CreatedAt,
			Tokens:    similarity.TokenSet(normalize.Tokens(item.NormalizedText)),
		})
	}
	return nil
}

// restoreSchedule replays slots already promised to scheduled items so new
// assignments keep honoring the interval and daily cap across restarts.
func restoreSchedule(ctx context.Context, store storage.Store, scheduler *schedule.Scheduler) error {
	items, err := store.Processed().ListByState(ctx, types.StateScheduled, 1000)
	if err != nil {
		return fmt.Errorf("failed to restore schedule: %w", err)
	}

	var slots []time.Time
	for _, item := range items {
		if item.ScheduledAt != nil {
			slots = append(slots, *item.ScheduledAt)
		}
	}
	scheduler.RestoreCommitted(slots)
	return nil
}

func syncAffiliateLinks(ctx context.Context, cfg *config.Config, store storage.Store) error {
	links := make([]types.AffiliateLink, 0, len(cfg.Affiliate.Links))
	for _, l := range cfg.Affiliate.Links {
		links = append(links, types.AffiliateLink{
			Name:   l.Name,
			URL:    l.URL,
			Text:   l.Text,
			Weight: l.Weight,
		})
	}
	if err := store.Links().ReplaceAll(ctx, links); err != nil {
		return fmt.Errorf("failed to sync affiliate links: %w", err)
	}
	return nil
}

// buildWatchers upserts configured sources and starts a watcher per active
// feed source. Sources removed from config are deactivated, never deleted.
func buildWatchers(ctx context.Context, cfg *config.Config, store storage.Store, intake *ingest.Intake, logger *slog.Logger) ([]ingest.Watcher, error) {
	configured := make(map[string]bool, len(cfg.Sources))
	var watchers []ingest.Watcher

	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		configured[sc.Name] = true

		source := &types.Source{
			Name:       sc.Name,
			Platform:   types.Platform(sc.Platform),
			Identifier: sc.Identifier,
			Weight:     sc.Weight,
			Active:     sc.Enabled,
			Language:   sc.Language,
		}
		if err := store.Sources().Upsert(ctx, source); err != nil {
			return nil, fmt.Errorf("failed to register source %s: %w", sc.Name, err)
		}

		if source.Active && source.Platform == types.PlatformFeed {
			watchers = append(watchers, ingest.NewFeedWatcher(source, sc, intake, logger))
		} else if source.Active {
			logger.Warn("No watcher available for source platform, source will not be ingested",
				"source", sc.Name, "platform", sc.Platform)
		}
	}

	existing, err := store.Sources().List(ctx)
	if err != nil {
		return nil, err
	}
	for _, src := range existing {
		if !configured[src.Name] && src.Active {
			if err := store.Sources().SetActive(ctx, src.ID, false); err != nil {
				return nil, err
			}
			logger.Info("Source deactivated, no longer configured", "source", src.Name)
		}
	}

	return watchers, nil
}
