package segmenter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/config"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/segmenter"
	"github.com/rpgscribe/rpgscribe/pkg/audio"
	audiomock "github.com/rpgscribe/rpgscribe/pkg/audio/mock"
	"github.com/rpgscribe/rpgscribe/pkg/provider/vad"
	vadmock "github.com/rpgscribe/rpgscribe/pkg/provider/vad/mock"
)

const testSampleRate = 48000

// monoFrame20ms returns a 20ms mono 16-bit silent PCM frame at testSampleRate.
func monoFrame20ms() []byte {
	n := testSampleRate * 20 / 1000 * 2
	return make([]byte, n)
}

func newHarness(t *testing.T, cfg segmenter.Config, now func() time.Time) (*segmenter.Segmenter, *bus.Bus, chan events.AudioChunk, chan audio.AudioFrame, *audiomock.Connection) {
	t.Helper()
	b := bus.New()
	chunks := make(chan events.AudioChunk, 64)
	bus.Subscribe[events.AudioChunk](b, "test", func(_ context.Context, ev events.AudioChunk) error {
		chunks <- ev
		return nil
	})

	frames := make(chan audio.AudioFrame, 64)
	conn := &audiomock.Connection{
		InputStreamsResult: map[string]<-chan audio.AudioFrame{
			"speaker-1": frames,
		},
	}

	vadEngine := &vadmock.Engine{Session: &vadmock.Session{
		EventResult: vad.VADEvent{Type: vad.VADSpeechContinue},
	}}

	s := segmenter.New(b, vadEngine, "session-1", cfg,
		segmenter.WithNow(now),
		segmenter.WithTickInterval(time.Millisecond),
	)
	return s, b, chunks, frames, conn
}

func TestSegmenter_EmitsOnMaxDuration(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cfg := segmenter.Config{
		ChunkDuration:         200 * time.Millisecond,
		SilenceThreshold:      10 * time.Second,
		ShortSilenceThreshold: 1500 * time.Millisecond,
		MinChunkDuration:      50 * time.Millisecond,
		SampleRate:            testSampleRate,
	}
	s, _, chunks, frames, conn := newHarness(t, cfg, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, conn)

	frame := audio.AudioFrame{Data: monoFrame20ms(), Channels: 1, SampleRate: testSampleRate}
	// 20ms per frame; 11 frames = 220ms >= 200ms chunk duration.
	for i := 0; i < 11; i++ {
		frames <- frame
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case chunk := <-chunks:
		if chunk.SessionID != "session-1" || chunk.SpeakerID != "speaker-1" {
			t.Errorf("unexpected chunk: %+v", chunk)
		}
		if chunk.DurationMS < 200 {
			t.Errorf("expected duration >= 200ms, got %d", chunk.DurationMS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emitted chunk")
	}

	s.Stop()
}

func TestSegmenter_EmitsOnSilenceThreshold(t *testing.T) {
	clk := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	cfg := segmenter.Config{
		ChunkDuration:         10 * time.Second,
		SilenceThreshold:      100 * time.Millisecond,
		ShortSilenceThreshold: 1500 * time.Millisecond,
		MinChunkDuration:      10 * time.Millisecond,
		SampleRate:            testSampleRate,
	}
	b := bus.New()
	chunks := make(chan events.AudioChunk, 8)
	bus.Subscribe[events.AudioChunk](b, "test", func(_ context.Context, ev events.AudioChunk) error {
		chunks <- ev
		return nil
	})
	frames := make(chan audio.AudioFrame, 8)
	conn := &audiomock.Connection{
		InputStreamsResult: map[string]<-chan audio.AudioFrame{"speaker-1": frames},
	}
	vadEngine := &vadmock.Engine{Session: &vadmock.Session{
		EventResult: vad.VADEvent{Type: vad.VADSpeechContinue},
	}}
	s := segmenter.New(b, vadEngine, "session-1", cfg,
		segmenter.WithNow(clk.Now),
		segmenter.WithTickInterval(5*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, conn)

	frames <- audio.AudioFrame{Data: monoFrame20ms(), Channels: 1, SampleRate: testSampleRate}
	time.Sleep(20 * time.Millisecond)

	// With the clock frozen, no silence has elapsed since the last voice
	// frame, so nothing may emit yet even though d >= MinChunkDuration.
	select {
	case chunk := <-chunks:
		t.Fatalf("chunk emitted before any silence elapsed: %+v", chunk)
	case <-time.After(50 * time.Millisecond):
	}

	// advance clock past silence threshold without sending more voice activity
	clk.Advance(200 * time.Millisecond)

	select {
	case <-chunks:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for silence-triggered chunk")
	}
	s.Stop()
}

func TestSegmenter_NoVoiceEverDetectedDoesNotEmitOnSilence(t *testing.T) {
	clk := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	cfg := segmenter.Config{
		ChunkDuration:         10 * time.Second,
		SilenceThreshold:      100 * time.Millisecond,
		ShortSilenceThreshold: 50 * time.Millisecond,
		MinChunkDuration:      10 * time.Millisecond,
		SampleRate:            testSampleRate,
	}
	b := bus.New()
	chunks := make(chan events.AudioChunk, 8)
	bus.Subscribe[events.AudioChunk](b, "test", func(_ context.Context, ev events.AudioChunk) error {
		chunks <- ev
		return nil
	})
	frames := make(chan audio.AudioFrame, 8)
	conn := &audiomock.Connection{
		InputStreamsResult: map[string]<-chan audio.AudioFrame{"speaker-1": frames},
	}
	// Every frame is classified as silence, so the last-voice timestamp is
	// never set. That must count as zero observed silence, not as silence
	// stretching back to the epoch.
	vadEngine := &vadmock.Engine{Session: &vadmock.Session{
		EventResult: vad.VADEvent{Type: vad.VADSilence},
	}}
	s := segmenter.New(b, vadEngine, "session-1", cfg,
		segmenter.WithNow(clk.Now),
		segmenter.WithTickInterval(5*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, conn)

	frames <- audio.AudioFrame{Data: monoFrame20ms(), Channels: 1, SampleRate: testSampleRate}
	time.Sleep(20 * time.Millisecond)

	select {
	case chunk := <-chunks:
		t.Fatalf("spurious emit for a buffer with no detected voice: %+v", chunk)
	case <-time.After(100 * time.Millisecond):
	}
	s.Stop()
}

func TestSegmenter_FlushesRemainingBufferOnStop(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cfg := segmenter.Config{
		ChunkDuration:         10 * time.Second,
		SilenceThreshold:      10 * time.Second,
		ShortSilenceThreshold: 1500 * time.Millisecond,
		MinChunkDuration:      10 * time.Millisecond,
		SampleRate:            testSampleRate,
	}
	s, _, chunks, frames, conn := newHarness(t, cfg, now)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, conn)

	frames <- audio.AudioFrame{Data: monoFrame20ms(), Channels: 1, SampleRate: testSampleRate}
	time.Sleep(20 * time.Millisecond)

	cancel()
	s.Stop()

	select {
	case chunk := <-chunks:
		if chunk.DurationMS < 10 {
			t.Errorf("expected non-trivial duration, got %d", chunk.DurationMS)
		}
	default:
		t.Fatal("expected a flushed chunk on stop, got none")
	}
}

func TestSegmenter_DoesNotEmitBelowMinChunkDuration(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cfg := segmenter.Config{
		ChunkDuration:         10 * time.Second,
		SilenceThreshold:      1 * time.Millisecond,
		ShortSilenceThreshold: 1 * time.Millisecond,
		MinChunkDuration:      5 * time.Second,
		SampleRate:            testSampleRate,
	}
	s, _, chunks, frames, conn := newHarness(t, cfg, now)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, conn)

	frames <- audio.AudioFrame{Data: monoFrame20ms(), Channels: 1, SampleRate: testSampleRate}
	time.Sleep(20 * time.Millisecond)

	cancel()
	s.Stop()

	select {
	case chunk := <-chunks:
		t.Fatalf("expected no chunk below min_chunk_duration, got %+v", chunk)
	default:
	}
}

func TestSegmenter_ConvertsStereoToMono(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cfg := segmenter.Config{
		ChunkDuration:         50 * time.Millisecond,
		SilenceThreshold:      10 * time.Second,
		ShortSilenceThreshold: 1500 * time.Millisecond,
		MinChunkDuration:      10 * time.Millisecond,
		SampleRate:            testSampleRate,
	}
	s, _, chunks, frames, conn := newHarness(t, cfg, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, conn)

	stereo := make([]byte, testSampleRate*20/1000*2*2) // 20ms stereo frame
	for i := 0; i+3 < len(stereo); i += 4 {
		stereo[i] = 0x10  // left low byte
		stereo[i+2] = 0x20 // right low byte
	}
	for i := 0; i < 3; i++ {
		frames <- audio.AudioFrame{Data: stereo, Channels: 2, SampleRate: testSampleRate}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case chunk := <-chunks:
		wantBytes := testSampleRate * 20 / 1000 * 2 * 3 // mono, 2 bytes/sample, 3 frames
		if len(chunk.PCM) != wantBytes {
			t.Errorf("expected mono-converted PCM length %d, got %d", wantBytes, len(chunk.PCM))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
	s.Stop()
}

func TestSegmenter_SpeakerNameFromJoinEvent(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cfg := segmenter.Config{
		ChunkDuration:         50 * time.Millisecond,
		SilenceThreshold:      10 * time.Second,
		ShortSilenceThreshold: 1500 * time.Millisecond,
		MinChunkDuration:      10 * time.Millisecond,
		SampleRate:            testSampleRate,
	}
	s, _, chunks, frames, conn := newHarness(t, cfg, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, conn)

	conn.EmitEvent(audio.Event{Type: audio.EventJoin, UserID: "speaker-1", Username: "Kira"})

	frame := audio.AudioFrame{Data: monoFrame20ms(), Channels: 1, SampleRate: testSampleRate}
	for i := 0; i < 3; i++ {
		frames <- frame
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case chunk := <-chunks:
		if chunk.SpeakerName != "Kira" {
			t.Errorf("expected speaker name %q, got %q", "Kira", chunk.SpeakerName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
	s.Stop()
}

// testClock is a concurrency-safe mutable clock for tests that need to
// advance time from the test goroutine while the segmenter reads it from its
// own per-speaker goroutine.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestConfigFromListener(t *testing.T) {
	lc := config.ListenerConfig{
		ChunkDurationS:         30,
		SilenceThresholdS:      2,
		ShortSilenceThresholdS: 0.8,
		MinChunkDurationS:      0.5,
		SampleRate:             48000,
		VADAggressiveness:      2,
	}
	got := segmenter.ConfigFromListener(lc)
	if got.ChunkDuration != 30*time.Second {
		t.Errorf("ChunkDuration: got %v, want 30s", got.ChunkDuration)
	}
	if got.SilenceThreshold != 2*time.Second {
		t.Errorf("SilenceThreshold: got %v, want 2s", got.SilenceThreshold)
	}
	if got.ShortSilenceThreshold != 800*time.Millisecond {
		t.Errorf("ShortSilenceThreshold: got %v, want 800ms", got.ShortSilenceThreshold)
	}
	if got.SampleRate != 48000 {
		t.Errorf("SampleRate: got %d, want 48000", got.SampleRate)
	}
	if got.VADAggressiveness != 2 {
		t.Errorf("VADAggressiveness: got %d, want 2", got.VADAggressiveness)
	}
}
