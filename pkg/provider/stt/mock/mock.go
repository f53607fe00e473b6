// Package mock provides a test double for stt.BatchProvider.
//
// Example:
//
//	p := &mock.Provider{Transcript: stt.Transcript{Text: "the dragon awakens"}}
//	got, _ := p.Transcribe(ctx, wav, stt.TranscribeOptions{})
package mock

import (
	"context"
	"sync"

	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// WAV is a copy of the audio bytes passed to Transcribe.
	WAV []byte
	// Opts is the TranscribeOptions passed to Transcribe.
	Opts stt.TranscribeOptions
}

// Provider is a mock implementation of stt.BatchProvider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by every call to Transcribe, unless TranscribeFunc
	// is set.
	Transcript stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, overrides Transcript/TranscribeErr and is called
	// directly for each Transcribe invocation.
	TranscribeFunc func(ctx context.Context, wav []byte, opts stt.TranscribeOptions) (stt.Transcript, error)

	// Calls records every invocation of Transcribe, in order.
	Calls []TranscribeCall
}

// Compile-time assertion that Provider implements stt.BatchProvider.
var _ stt.BatchProvider = (*Provider)(nil)

// Transcribe records the call and returns Transcript, TranscribeErr, or
// delegates to TranscribeFunc if set.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, opts stt.TranscribeOptions) (stt.Transcript, error) {
	p.mu.Lock()
	cp := make([]byte, len(wav))
	copy(cp, wav)
	p.Calls = append(p.Calls, TranscribeCall{WAV: cp, Opts: opts})
	fn := p.TranscribeFunc
	transcript, err := p.Transcript, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, wav, opts)
	}
	return transcript, err
}

// CallCount returns the number of Transcribe calls recorded so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
