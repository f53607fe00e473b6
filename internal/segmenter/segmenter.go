// Package segmenter implements the audio segmenter: it accumulates raw voice
// frames per speaker and emits completed chunks onto the event bus once a
// buffer crosses one of its emission thresholds.
//
// Each speaker's buffer is owned exclusively by the single goroutine that
// both reads its incoming audio.AudioFrame channel and runs its periodic
// emission check, so no mutex guards the buffer itself — a goroutine never
// hands its buffer to another goroutine.
package segmenter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/config"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/observe"
	"github.com/rpgscribe/rpgscribe/pkg/audio"
	"github.com/rpgscribe/rpgscribe/pkg/provider/vad"
)

// vadFrameMS is the frame size fed to the VAD session. 20ms is the frame
// size webrtcvad-style detectors operate on.
const vadFrameMS = 20

// Config tunes the segmenter's per-speaker buffering and emission policy.
// Durations are expressed as time.Duration so callers don't re-derive them
// from the TOML float-seconds representation at every call site.
type Config struct {
	ChunkDuration         time.Duration
	SilenceThreshold      time.Duration
	ShortSilenceThreshold time.Duration
	MinChunkDuration      time.Duration
	SampleRate            int
	VADAggressiveness     int
}

// ConfigFromListener converts a config.ListenerConfig's float-seconds fields
// into a Config.
func ConfigFromListener(c config.ListenerConfig) Config {
	return Config{
		ChunkDuration:         secondsToDuration(c.ChunkDurationS),
		SilenceThreshold:      secondsToDuration(c.SilenceThresholdS),
		ShortSilenceThreshold: secondsToDuration(c.ShortSilenceThresholdS),
		MinChunkDuration:      secondsToDuration(c.MinChunkDurationS),
		SampleRate:            c.SampleRate,
		VADAggressiveness:     c.VADAggressiveness,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Option configures a Segmenter at construction time.
type Option func(*Segmenter)

// WithNow overrides the clock used for buffer timestamps and silence
// calculations. Intended for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// WithMetrics attaches a metrics recorder. If unset, DefaultMetrics is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithTickInterval overrides the periodic emission-check interval. Intended
// for tests that don't want to wait 250ms of wall-clock time.
func WithTickInterval(d time.Duration) Option {
	return func(s *Segmenter) { s.tickInterval = d }
}

// Segmenter accumulates per-speaker audio and publishes events.AudioChunk to
// a bus.Bus once a buffer's emission policy is satisfied.
type Segmenter struct {
	cfg       Config
	bus       *bus.Bus
	vadEngine vad.Engine
	sessionID string
	now       func() time.Time
	metrics   *observe.Metrics

	tickInterval time.Duration

	namesMu sync.RWMutex
	names   map[string]string

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New creates a Segmenter for a single recording session. vadEngine drives
// per-frame speech detection; pass energy.New() for the dependency-free
// default or mock.Engine in tests.
func New(b *bus.Bus, vadEngine vad.Engine, sessionID string, cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{
		cfg:          cfg,
		bus:          b,
		vadEngine:    vadEngine,
		sessionID:    sessionID,
		now:          time.Now,
		tickInterval: 250 * time.Millisecond,
		names:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetSpeakerName records the display name to attach to chunks emitted for
// speakerID. Safe to call concurrently with Start.
func (s *Segmenter) SetSpeakerName(speakerID, name string) {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	s.names[speakerID] = name
}

func (s *Segmenter) speakerName(speakerID string) string {
	s.namesMu.RLock()
	defer s.namesMu.RUnlock()
	if name, ok := s.names[speakerID]; ok && name != "" {
		return name
	}
	return speakerID
}

// Start begins consuming conn's per-participant audio streams, spawning one
// goroutine per speaker stream: those InputStreams reports now, and any that
// appears later alongside a join event. The participant-change callback also
// records display names from join events. A speaker's buffer is flushed when
// their stream closes or on Stop. Start returns immediately; use Stop to
// tear down.
func (s *Segmenter) Start(ctx context.Context, conn audio.Connection) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	var startedMu sync.Mutex
	started := make(map[string]bool)
	startSpeaker := func(speakerID string, frames <-chan audio.AudioFrame) {
		startedMu.Lock()
		defer startedMu.Unlock()
		if started[speakerID] || ctx.Err() != nil {
			return
		}
		started[speakerID] = true
		s.wg.Add(1)
		go s.runSpeaker(ctx, speakerID, frames)
	}

	conn.OnParticipantChange(func(ev audio.Event) {
		if ev.Type == audio.EventJoin {
			s.SetSpeakerName(ev.UserID, ev.Username)
			if frames, ok := conn.InputStreams()[ev.UserID]; ok {
				startSpeaker(ev.UserID, frames)
			}
		}
	})

	for speakerID, frames := range conn.InputStreams() {
		s.SetSpeakerName(speakerID, speakerID)
		startSpeaker(speakerID, frames)
	}
}

// Stop cancels all per-speaker goroutines, each of which flushes its
// non-empty buffer once before exiting, and waits for them to finish.
// Stop is idempotent.
func (s *Segmenter) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

func (s *Segmenter) runSpeaker(ctx context.Context, speakerID string, frames <-chan audio.AudioFrame) {
	defer s.wg.Done()

	vadSess, err := s.vadEngine.NewSession(vad.Config{
		SampleRate:     s.cfg.SampleRate,
		FrameSizeMs:    vadFrameMS,
		Aggressiveness: s.cfg.VADAggressiveness,
	})
	if err != nil {
		slog.Error("segmenter: failed to create VAD session", "speaker_id", speakerID, "error", err)
		return
	}
	defer vadSess.Close()

	buf := &speakerBuffer{}
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				s.flush(buf, speakerID, "disconnect")
				return
			}
			s.ingest(buf, vadSess, frame)
			s.checkEmit(buf, speakerID)
		case <-ticker.C:
			s.checkEmit(buf, speakerID)
		case <-ctx.Done():
			s.flush(buf, speakerID, "disconnect")
			return
		}
	}
}

// speakerBuffer holds one speaker's accumulated mono PCM and voice-activity
// bookkeeping. It is owned exclusively by the goroutine running runSpeaker
// for that speaker.
type speakerBuffer struct {
	pcm           []byte
	firstSampleTS time.Time
	lastVoiceTS   time.Time
}

func (b *speakerBuffer) reset() {
	b.pcm = nil
	b.firstSampleTS = time.Time{}
	b.lastVoiceTS = time.Time{}
}

func (s *Segmenter) durationOf(nBytes int) time.Duration {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	samples := nBytes / 2 // 16-bit mono PCM
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}

// vadFrameBytes returns the byte length of one vadFrameMS mono 16-bit frame
// at the segmenter's configured sample rate.
func (s *Segmenter) vadFrameBytes() int {
	samples := s.cfg.SampleRate * vadFrameMS / 1000
	return samples * 2
}

func (s *Segmenter) ingest(buf *speakerBuffer, vadSess vad.SessionHandle, frame audio.AudioFrame) {
	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}

	now := s.now()
	if len(buf.pcm) == 0 {
		buf.firstSampleTS = now
	}
	buf.pcm = append(buf.pcm, pcm...)

	frameBytes := s.vadFrameBytes()
	if frameBytes <= 0 || len(pcm) < frameBytes {
		// Too little data for one VAD frame; degrade to treating it as
		// speech so the silence heuristics don't falsely fire.
		buf.lastVoiceTS = now
		return
	}

	ev, err := vadSess.ProcessFrame(pcm[:frameBytes])
	if err != nil {
		// VAD can fail on edge cases; treat as speech rather than silently
		// dropping the speaker's activity.
		buf.lastVoiceTS = now
		return
	}
	if ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue {
		buf.lastVoiceTS = now
	}
}

func (s *Segmenter) checkEmit(buf *speakerBuffer, speakerID string) {
	if len(buf.pcm) == 0 {
		return
	}
	now := s.now()
	d := s.durationOf(len(buf.pcm))
	if d < s.cfg.MinChunkDuration {
		return
	}

	// An unset voice timestamp means no frame has been classified yet;
	// that is zero observed silence, not silence since the epoch.
	var silence time.Duration
	if !buf.lastVoiceTS.IsZero() {
		silence = now.Sub(buf.lastVoiceTS)
	}

	var reason string
	switch {
	case d >= s.cfg.ChunkDuration:
		reason = "max_duration"
	case silence >= s.cfg.SilenceThreshold:
		reason = "silence"
	case d >= 5*time.Second && silence >= s.cfg.ShortSilenceThreshold:
		reason = "short_silence"
	default:
		return
	}
	s.flush(buf, speakerID, reason)
}

// flush publishes buf's contents as an events.AudioChunk (if non-empty,
// respecting MinChunkDuration) and resets buf for reuse.
func (s *Segmenter) flush(buf *speakerBuffer, speakerID, reason string) {
	if len(buf.pcm) == 0 {
		return
	}
	d := s.durationOf(len(buf.pcm))
	if d < s.cfg.MinChunkDuration {
		return
	}

	pcm := buf.pcm
	startTS := buf.firstSampleTS
	durationMS := int(d / time.Millisecond)
	buf.reset()

	chunk := events.AudioChunk{
		SessionID:   s.sessionID,
		SpeakerID:   speakerID,
		SpeakerName: s.speakerName(speakerID),
		PCM:         pcm,
		StartTS:     startTS,
		DurationMS:  durationMS,
		Source:      "discord",
	}
	bus.Publish(s.bus, context.Background(), chunk)
	s.metrics.RecordAudioChunkEmitted(context.Background(), reason)

	slog.Debug("segmenter: emitted chunk",
		"component", "segmenter",
		"session_id", s.sessionID,
		"speaker_id", speakerID,
		"duration_ms", durationMS,
		"reason", reason,
	)
}
