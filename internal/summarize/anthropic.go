package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/ppiankov/postcast/internal/apierr"
)

const anthropicService = "anthropic"

// anthropicPrompt sends one system+user exchange and returns the first
// content block. Tests replace it.
var anthropicPrompt = func(system, user, apiKey string, settings types.RequestSettings) (string, error) {
	resp, err := anthropic.PromptWithSettings(system, user, "", apiKey, settings)
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", ErrEmptyResult
	}
	return resp.Content[0].Text, nil
}

// Anthropic calls the Messages API through llmkit.
type Anthropic struct {
	apiKey   string
	settings types.RequestSettings
}

// NewAnthropic creates a Messages API summarizer.
func NewAnthropic(opts Options) *Anthropic {
	return &Anthropic{
		apiKey: opts.APIKey,
		settings: types.RequestSettings{
			Model:       opts.Model,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		},
	}
}

type anthropicResult struct {
	text string
	err  error
}

// Summarize runs the request on its own goroutine so ctx cancellation is
// honored; llmkit takes no context.
func (a *Anthropic) Summarize(ctx context.Context, instruction, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prompt := anthropicPrompt
	done := make(chan anthropicResult, 1)
	go func() {
		out, err := prompt(instruction, text, a.apiKey, a.settings)
		done <- anthropicResult{text: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		switch {
		case errors.Is(r.err, ErrEmptyResult):
			return "", fmt.Errorf("anthropic: %w", ErrEmptyResult)
		case r.err != nil:
			return "", apierr.Wrap(anthropicService, "messages", r.err)
		}
		out := strings.TrimSpace(r.text)
		if out == "" {
			return "", fmt.Errorf("anthropic: %w", ErrEmptyResult)
		}
		return out, nil
	}
}
