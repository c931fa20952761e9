// Package summarize turns an item's text into a short announcement using a
// hosted language model.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrEmptyResult is returned when the model answers without any text.
var ErrEmptyResult = errors.New("summarizer returned no content")

// Summarizer produces a summary of text following instruction.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// Options configures a provider.
type Options struct {
	Provider    string
	APIKey      string
	Model       string
	Endpoint    string // OpenAI-compatible endpoint override
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New returns the summarizer for opts.Provider.
func New(opts Options) (Summarizer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("summarize: %s API key is empty", opts.Provider)
	}
	switch opts.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(opts), nil
	case ProviderAnthropic:
		return NewAnthropic(opts), nil
	default:
		return nil, fmt.Errorf("summarize: unknown provider %q", opts.Provider)
	}
}
