// Package whisper provides a local whisper.cpp-backed BatchProvider.
//
// It connects to a running whisper-server binary, which exposes a REST API at
// POST /inference, and submits each already-segmented WAV chunk as a single
// multipart inference request. Because whisper.cpp is a batch transcription
// engine there is nothing to stream: the audio segmenter upstream owns all
// chunking decisions, so this provider has no internal buffering or silence
// detection left to do.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
)

const defaultTimeout = 30 * time.Second

// Compile-time assertion that Provider implements stt.BatchProvider.
var _ stt.BatchProvider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty, the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient overrides the default HTTP client, e.g. to set a custom
// transport for testing.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.BatchProvider backed by a local whisper.cpp HTTP
// server. It is safe for concurrent use; each call to Transcribe is an
// independent HTTP request.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts wav to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the resulting text. opts.Language and
// opts.Model, when set, override the provider-level model and are forwarded
// as form fields; opts.Prompt is not supported by whisper.cpp's HTTP API and
// is ignored. opts.Timeout, when set, bounds the request through its
// context; the HTTP client's own timeout (30s for the default client) still
// applies, so a longer opts.Timeout does not extend it.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, opts stt.TranscribeOptions) (stt.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := opts.Language
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Transcript{Text: result.Text, IsFinal: true}, nil
}
