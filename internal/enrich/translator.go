package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LLMTranslator translates through a local language model. Output quality is
// the collaborator's concern; the pipeline only cares about success or
// failure within the bounded call.
type LLMTranslator struct {
	model llms.Model
}

func NewLLMTranslator(modelName string) (*LLMTranslator, error) {
	model, err := ollama.New(ollama.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to create translation model: %w", err)
	}
	return &LLMTranslator{model: model}, nil
}

func (t *LLMTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following %s text to %s. Reply with the translation only, no commentary.\n\n%s",
		fromLang, toLang, text)

	out, err := llms.GenerateFromSinglePrompt(ctx, t.model, prompt, llms.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("translation call failed: %w", err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("translation returned empty text")
	}
	return out, nil
}
