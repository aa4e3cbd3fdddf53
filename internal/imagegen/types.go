package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
)

var (
	ErrNotConfigured = errors.New("image provider not configured")
	ErrEmptyResult   = errors.New("image provider returned no image")
)

// SourceImage is the reference photo. Providers that upload bytes need Data;
// URL-based providers accept either.
type SourceImage struct {
	URL      string
	Data     []byte
	MIMEType string
	Name     string
}

type Request struct {
	Source SourceImage
	Prompt string
	Size   string
}

// Result holds either the image bytes or a URL the caller must fetch.
type Result struct {
	Data     []byte
	URL      string
	MIMEType string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

type Options struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	QwenAPIKey    string
	QwenBaseURL   string
	Timeout       time.Duration
}

// NewGenerator returns the client for the configured provider.
func NewGenerator(opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderOpenAI:
		if strings.TrimSpace(opts.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("%w: openai api key is missing", ErrNotConfigured)
		}
		return NewOpenAIClient(OpenAIOptions{
			BaseURL: opts.OpenAIBaseURL,
			APIKey:  opts.OpenAIAPIKey,
			Model:   opts.OpenAIModel,
			Timeout: opts.Timeout,
		}), nil
	case ProviderQwen:
		if strings.TrimSpace(opts.QwenAPIKey) == "" {
			return nil, fmt.Errorf("%w: qwen api key is missing", ErrNotConfigured)
		}
		return NewQwenClient(QwenOptions{
			BaseURL: opts.QwenBaseURL,
			APIKey:  opts.QwenAPIKey,
			Timeout: opts.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, opts.Provider)
	}
}
