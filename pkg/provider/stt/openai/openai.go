// Package openai provides a BatchProvider backed by the OpenAI
// audio transcription API (Whisper-family hosted models).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Provider implements stt.BatchProvider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// Compile-time assertion that Provider implements stt.BatchProvider.
var _ stt.BatchProvider = (*Provider)(nil)

// config holds optional configuration collected before the client is built.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the default transcription model ("whisper-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL, e.g. to point at a
// compatible self-hosted gateway.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI-backed BatchProvider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Transcribe uploads wav to the OpenAI transcription endpoint and returns the
// resulting text. opts.Prompt is forwarded as the model's context-steering
// prompt (useful for biasing toward campaign-specific proper nouns);
// opts.Language is forwarded as an ISO-639-1 hint.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, opts stt.TranscribeOptions) (stt.Transcript, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(model),
		File:  bytes.NewReader(wav),
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = param.NewOpt(opts.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(reqCtx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	return stt.Transcript{Text: resp.Text, IsFinal: true}, nil
}
