package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autopost/internal/config"
	"autopost/internal/types"
)

// Translator renders item text into the configured post language.
type Translator interface {
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}

// ImageGenerator produces a cover image reference for an item headline.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Coordinator invokes the enrichment collaborators for one item. Each call
// is independent: a failed best-effort enrichment is recorded on the item
// and the item proceeds without that attribute. Translation is the one
// required enrichment — when the item language differs from the post
// language and translation fails, the item hard-fails with
// enrichment_required_missing.
type Coordinator struct {
	translator Translator
	images     ImageGenerator
	logger     *slog.Logger
}

func NewCoordinator(translator Translator, images ImageGenerator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{translator: translator, images: images, logger: logger}
}

func (c *Coordinator) Enrich(ctx context.Context, cfg *config.Config, item *types.ProcessedItem) error {
	timeout := config.Duration(cfg.Enrich.Timeout)
	backoff := config.Duration(cfg.Enrich.RetryBackoff)

	needsTranslation := item.Language != "" && item.Language != cfg.Scoring.PostLanguage

	if needsTranslation {
		if c.translator == nil {
			return types.NewPipelineError(types.KindRequiredEnrichmentMissing, item.ID,
				"no translator configured for required translation")
		}

		translated, err := callWithRetry(ctx, timeout, backoff, func(ctx context.Context) (string, error) {
			return c.translator.Translate(ctx, item.NormalizedText, item.Language, cfg.Scoring.PostLanguage)
		})
		if err != nil {
			return types.NewPipelineError(types.KindRequiredEnrichmentMissing, item.ID,
				"translation failed and target language differs from post language").
				WithDetail("from", item.Language).
				WithDetail("to", cfg.Scoring.PostLanguage).
				WithCause(err)
		}

		item.Enrichment.TranslatedText = translated
		item.Enrichment.TranslatedFrom = item.Language
	}

	if c.images != nil {
		prompt := imagePrompt(item)
		ref, err := callWithRetry(ctx, timeout, backoff, func(ctx context.Context) (string, error) {
			return c.images.Generate(ctx, prompt)
		})
		if err != nil {
			c.logger.Warn("Image generation failed, continuing without image",
				"item", item.ID, "error", err)
			item.Enrichment.Errors = append(item.Enrichment.Errors,
				fmt.Sprintf("image: %v", err))
		} else {
			item.Enrichment.ImageRef = ref
		}
	}

	return nil
}

// callWithRetry bounds each collaborator attempt with a timeout and allows
// at most one retry after a backoff pause.
func callWithRetry(ctx context.Context, timeout, backoff time.Duration, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return "", lastErr
}

func imagePrompt(item *types.ProcessedItem) string {
	text := item.Enrichment.TranslatedText
	if text == "" {
		text = item.NormalizedText
	}
	// Truncate on rune boundaries so multi-byte text is never cut
	// mid-character.
	if runes := []rune(text); len(runes) > 200 {
		text = string(runes[:200])
	}
	return fmt.Sprintf("Editorial cover illustration for a short news post: %s. No logos, no real faces.", text)
}
