package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"autopost/internal/config"
	"autopost/internal/types"
)

// Watcher continuously delivers one source's content into the intake.
type Watcher interface {
	Run(ctx context.Context)
}

// FeedWatcher polls one RSS or Atom feed and submits new entries through the
// intake. The feed's guid (falling back to the link) serves as the stable
// external id, so re-polling an unchanged feed produces no new items.
type FeedWatcher struct {
	source *types.Source
	poll   time.Duration
	intake *Intake
	parser *gofeed.Parser
	logger *slog.Logger
}

func NewFeedWatcher(source *types.Source, cfg *config.SourceConfig, intake *Intake, logger *slog.Logger) *FeedWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedWatcher{
		source: source,
		poll:   config.Duration(cfg.Poll),
		intake: intake,
		parser: gofeed.NewParser(),
		logger: logger,
	}
}

// Run polls until ctx is cancelled. Fetch failures are logged and retried on
// the next tick; a broken feed never stops the watcher.
func (w *FeedWatcher) Run(ctx context.Context) {
	w.logger.Info("Feed watcher started", "source", w.source.Name, "poll", w.poll)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.fetchOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.fetchOnce(ctx)
		}
	}
}

func (w *FeedWatcher) fetchOnce(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	feed, err := w.parser.ParseURLWithContext(w.source.Identifier, fetchCtx)
	if err != nil {
		w.logger.Warn("Feed fetch failed", "source", w.source.Name, "error", err)
		return
	}

	for _, entry := range feed.Items {
		externalID := entry.GUID
		if externalID == "" {
			externalID = entry.Link
		}

		text := entry.Title
		if desc := strings.TrimSpace(entry.Description); desc != "" {
			text = text + "\n\n" + desc
		}

		var media []string
		if entry.Image != nil && entry.Image.URL != "" {
			media = append(media, entry.Image.URL)
		}

		if _, err := w.intake.Submit(ctx, w.source, externalID, text, media); err != nil {
			w.logger.Warn("Feed entry rejected",
				"source", w.source.Name, "entry", externalID, "error", err)
		}
	}
}
