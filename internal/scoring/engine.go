package scoring

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"autopost/internal/config"
	"autopost/internal/normalize"
	"autopost/internal/similarity"
	"autopost/internal/types"
)

// Result is the engine's verdict for one candidate: a bounded quality score
// and, when the similarity window holds a close enough match, the id of the
// item this one duplicates.
type Result struct {
	Score       float64
	DuplicateOf string
	Similarity  float64
}

// Engine combines the weighted scoring formula with the duplicate check
// against the shared similarity index. Evaluating the same normalized text
// under the same config twice yields the same score, so crash-recovery
// replays are safe.
type Engine struct {
	index    *similarity.Index
	embedder similarity.Embedder
	logger   *slog.Logger
}

func NewEngine(index *similarity.Index, embedder similarity.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{index: index, embedder: embedder, logger: logger}
}

// Evaluate scores the item and runs the duplicate check. The item joins the
// similarity window if and only if it is not a duplicate; that decision and
// the insertion happen atomically inside the index.
func (e *Engine) Evaluate(ctx context.Context, cfg *config.Config, item *types.ProcessedItem) Result {
	score := computeScore(cfg.Scoring, item)

	tokens := normalize.Tokens(item.NormalizedText)
	entry := similarity.Entry{
		ID:        item.ID,
		CreatedAt: item.CreatedAt,
		Tokens:    similarity.TokenSet(tokens),
	}

	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, item.NormalizedText)
		if err != nil {
			// Token overlap still gives a usable duplicate signal.
			e.logger.Warn("Embedding unavailable, falling back to token similarity",
				"item", item.ID, "error", err)
		} else {
			entry.Vec = vec
		}
	}

	dupID, sim := e.index.Evaluate(entry, cfg.Dedup.Threshold)

	return Result{Score: score, DuplicateOf: dupID, Similarity: sim}
}

func computeScore(cfg config.ScoringConfig, item *types.ProcessedItem) float64 {
	score := item.SourceWeight*cfg.SourceWeightFactor +
		lengthScore(item.NormalizedText, cfg.TargetLength)*cfg.LengthWeight +
		keywordScore(item.NormalizedText, cfg.Keywords)*cfg.KeywordWeight +
		languageScore(item.Language, cfg.PostLanguage)*cfg.LanguageWeight

	return clamp(score)
}

func lengthScore(text string, target int) float64 {
	if target <= 0 {
		return 0
	}
	n := utf8.RuneCountInString(text)
	if n >= target {
		return 1
	}
	return float64(n) / float64(target)
}

func keywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, keyword := range keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	// One hit already signals topical relevance; additional hits push the
	// score toward 1 without requiring the full allow-list.
	score := 0.5 + 0.5*float64(matched)/float64(len(keywords))
	return clamp(score)
}

func languageScore(itemLang, postLang string) float64 {
	if itemLang == "" || postLang == "" {
		return 0
	}

	target, err := language.Parse(postLang)
	if err != nil {
		return 0
	}
	candidate, err := language.Parse(itemLang)
	if err != nil {
		return 0
	}

	matcher := language.NewMatcher([]language.Tag{target})
	_, _, confidence := matcher.Match(candidate)

	switch confidence {
	case language.Exact:
		return 1
	case language.High:
		return 0.8
	case language.Low:
		return 0.4
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
