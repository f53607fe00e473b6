package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/storage"
)

type savedTranscriptions struct {
	mu      sync.Mutex
	records []storage.TranscriptionRecord
	err     error
}

func (s *savedTranscriptions) SaveTranscription(_ context.Context, t storage.TranscriptionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.records = append(s.records, t)
	return int64(len(s.records)), nil
}

func (s *savedTranscriptions) all() []storage.TranscriptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.TranscriptionRecord, len(s.records))
	copy(out, s.records)
	return out
}

func TestRecorderPersistsFinalTranscriptions(t *testing.T) {
	t.Parallel()

	b := bus.New()
	saver := &savedTranscriptions{}
	rec := newRecorder(b, saver, "s1")
	rec.Start()
	defer rec.Stop()

	ts := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	bus.Publish(b, context.Background(), events.Transcription{
		SessionID:   "s1",
		SpeakerID:   "u1",
		SpeakerName: "Alice",
		Text:        "We enter the crypt.",
		Timestamp:   ts,
		Confidence:  0.95,
	})

	got := saver.all()
	if len(got) != 1 {
		t.Fatalf("saved %d records, want 1", len(got))
	}
	r := got[0]
	if r.SessionID != "s1" || r.SpeakerID != "u1" || r.Text != "We enter the crypt." {
		t.Errorf("unexpected record: %+v", r)
	}
	if !r.Timestamp.Equal(ts) {
		t.Errorf("timestamp: got %v, want %v", r.Timestamp, ts)
	}
	if !r.IsInGame {
		t.Error("expected IsInGame to default to true")
	}
}

func TestRecorderSkipsPartialAndForeignSessions(t *testing.T) {
	t.Parallel()

	b := bus.New()
	saver := &savedTranscriptions{}
	rec := newRecorder(b, saver, "s1")
	rec.Start()
	defer rec.Stop()

	bus.Publish(b, context.Background(), events.Transcription{SessionID: "s1", Text: "partial", IsPartial: true})
	bus.Publish(b, context.Background(), events.Transcription{SessionID: "other", Text: "foreign"})

	if got := saver.all(); len(got) != 0 {
		t.Fatalf("saved %d records, want 0: %+v", len(got), got)
	}
}

func TestRecorderSwallowsWriteFailures(t *testing.T) {
	t.Parallel()

	b := bus.New()
	saver := &savedTranscriptions{err: errors.New("disk on fire")}
	rec := newRecorder(b, saver, "s1")
	rec.Start()
	defer rec.Stop()

	// Must not panic or surface the error to the publisher.
	bus.Publish(b, context.Background(), events.Transcription{SessionID: "s1", Text: "lost"})
}

func TestRecorderStopUnsubscribes(t *testing.T) {
	t.Parallel()

	b := bus.New()
	saver := &savedTranscriptions{}
	rec := newRecorder(b, saver, "s1")
	rec.Start()
	rec.Stop()
	rec.Stop()

	bus.Publish(b, context.Background(), events.Transcription{SessionID: "s1", Text: "after stop"})

	if got := saver.all(); len(got) != 0 {
		t.Fatalf("saved %d records after Stop, want 0", len(got))
	}
}
