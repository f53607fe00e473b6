package resilience

import (
	"context"

	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
)

// STTFallback is an [stt.BatchProvider] that fails over between transcription
// backends, typically a hosted API primary with a local whisper.cpp server
// as the offline fallback. Each backend sits behind its own breaker.
type STTFallback struct {
	group *FallbackGroup[stt.BatchProvider]
}

var _ stt.BatchProvider = (*STTFallback)(nil)

// NewSTTFallback builds an STTFallback preferring primary.
func NewSTTFallback(primary stt.BatchProvider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a lower-priority backend.
func (f *STTFallback) AddFallback(name string, provider stt.BatchProvider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs wav through the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, wav []byte, opts stt.TranscribeOptions) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.BatchProvider) (stt.Transcript, error) {
		return p.Transcribe(ctx, wav, opts)
	})
}
