package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/storage"
)

// transcriptionSaver is the one gateway operation the recorder needs.
type transcriptionSaver interface {
	SaveTranscription(ctx context.Context, t storage.TranscriptionRecord) (int64, error)
}

// recorder bridges the event bus to the storage gateway for one session:
// every final transcription published on the bus is written through to the
// transcriptions table, so the admin surface and later sessions can read
// the full transcript back in timestamp order.
//
// Partial transcriptions are never persisted. A write failure is logged and
// dropped; persistence is best-effort and must not disturb the pipeline.
type recorder struct {
	bus       *bus.Bus
	gw        transcriptionSaver
	sessionID string

	stopOnce sync.Once
}

func newRecorder(b *bus.Bus, gw transcriptionSaver, sessionID string) *recorder {
	return &recorder{bus: b, gw: gw, sessionID: sessionID}
}

func (r *recorder) subscriberID() string {
	return "recorder:" + r.sessionID
}

// Start subscribes to events.Transcription.
func (r *recorder) Start() {
	bus.Subscribe[events.Transcription](r.bus, r.subscriberID(), func(ctx context.Context, ev events.Transcription) error {
		if ev.IsPartial || ev.SessionID != r.sessionID {
			return nil
		}
		_, err := r.gw.SaveTranscription(ctx, storage.TranscriptionRecord{
			SessionID:   ev.SessionID,
			SpeakerID:   ev.SpeakerID,
			SpeakerName: ev.SpeakerName,
			Text:        ev.Text,
			Timestamp:   ev.Timestamp,
			Confidence:  ev.Confidence,
			IsInGame:    true,
		})
		if err != nil {
			slog.Warn("recorder: failed to persist transcription",
				"session_id", ev.SessionID,
				"speaker_id", ev.SpeakerID,
				"error", err,
			)
		}
		return nil
	})
}

// Stop unsubscribes. Idempotent.
func (r *recorder) Stop() {
	r.stopOnce.Do(func() {
		bus.Unsubscribe[events.Transcription](r.bus, r.subscriberID())
	})
}
