// Package transcriber implements the transcription worker: a bounded pool
// that drains queued events.AudioChunk events, calls a speech-to-text
// provider, and republishes the result as events.Transcription.
package transcriber

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/config"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/observe"
	"github.com/rpgscribe/rpgscribe/internal/resilience"
	"github.com/rpgscribe/rpgscribe/pkg/audio"
	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
)

const defaultTimeout = 30 * time.Second

// Config tunes the transcription worker's request shape and concurrency.
type Config struct {
	Model          string
	Language       string
	PromptHint     string
	Timeout        time.Duration
	SampleRate     int
	Concurrency    int
	QueueMaxSize   int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// ConfigFromTranscriber converts a config.TranscriberConfig's float-seconds
// fields into a Config. sampleRate is the segmenter's output sample rate,
// since TranscriberConfig itself carries no sample rate.
func ConfigFromTranscriber(c config.TranscriberConfig, sampleRate int) Config {
	return Config{
		Model:          c.Model,
		Language:       c.Language,
		PromptHint:     c.PromptHint,
		Timeout:        secondsToDuration(c.APITimeoutS),
		SampleRate:     sampleRate,
		Concurrency:    c.MaxConcurrentRequests,
		QueueMaxSize:   c.QueueMaxSize,
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: secondsToDuration(c.RetryBaseDelayS),
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TextCorrector fixes known entity-name misrecognitions in a transcribed
// line before it is cached and published. internal/correct.Corrector
// satisfies this interface.
type TextCorrector interface {
	Correct(text string) string
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithMetrics attaches a metrics recorder. If unset, DefaultMetrics is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithNow overrides the clock used to timestamp SystemStatus events.
// Intended for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithCorrector attaches a TextCorrector that runs against the raw STT
// output before it is cached or published. Results are cached post-
// correction, so a repeated chunk never pays for correction twice.
func WithCorrector(c TextCorrector) Option {
	return func(w *Worker) { w.corrector = c }
}

// Worker transcribes AudioChunks for a single session. It subscribes to the
// bus on Start and drains a bounded queue through a weighted semaphore of
// width Concurrency. A burst of chunks backs up in the queue; once the queue
// is full the bus handler blocks until a slot frees, applying backpressure
// to the publisher rather than dropping audio that can never be recovered.
type Worker struct {
	bus       *bus.Bus
	provider  stt.BatchProvider
	sessionID string
	cfg       Config
	metrics   *observe.Metrics
	now       func() time.Time
	corrector TextCorrector

	queue chan events.AudioChunk
	sem   *semaphore.Weighted

	cacheMu sync.Mutex
	cache   map[string]string // md5(pcm) -> transcript text

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New creates a Worker for a single recording session.
func New(b *bus.Bus, provider stt.BatchProvider, sessionID string, cfg Config, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = 50
	}
	w := &Worker{
		bus:       b,
		provider:  provider,
		sessionID: sessionID,
		cfg:       cfg,
		now:       time.Now,
		queue:     make(chan events.AudioChunk, cfg.QueueMaxSize),
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

func (w *Worker) subscriberID() string {
	return "transcriber:" + w.sessionID
}

// Start subscribes to events.AudioChunk and launches the dispatcher.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.runDispatcher(ctx)

	bus.Subscribe[events.AudioChunk](w.bus, w.subscriberID(), func(_ context.Context, chunk events.AudioChunk) error {
		if chunk.SessionID != w.sessionID {
			return nil
		}
		// A full queue blocks here until a slot frees: dropped audio is
		// unrecoverable, so backpressure on the publisher is the lesser
		// evil. The worker's own lifecycle context unblocks a send caught
		// mid-Stop.
		select {
		case w.queue <- chunk:
		case <-ctx.Done():
		}
		return nil
	})
}

// Stop unsubscribes from the bus, cancels the dispatcher, and waits for
// in-flight transcriptions to finish. Chunks still sitting in the queue when
// Stop is called may be abandoned; Stop is idempotent.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		bus.Unsubscribe[events.AudioChunk](w.bus, w.subscriberID())
		if w.cancel != nil {
			w.cancel()
		}
	})
	w.wg.Wait()
}

// runDispatcher drains the queue, gating each chunk on a semaphore slot so
// at most Concurrency STT calls are in flight at once. Each chunk is then
// processed on its own goroutine; the dispatcher goes back to the queue
// immediately after the slot is acquired.
func (w *Worker) runDispatcher(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case chunk := <-w.queue:
			if err := w.sem.Acquire(ctx, 1); err != nil {
				return
			}
			w.wg.Add(1)
			go func(chunk events.AudioChunk) {
				defer w.wg.Done()
				defer w.sem.Release(1)
				w.process(ctx, chunk)
			}(chunk)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) timeout() time.Duration {
	if w.cfg.Timeout > 0 {
		return w.cfg.Timeout
	}
	return defaultTimeout
}

func (w *Worker) process(ctx context.Context, chunk events.AudioChunk) {
	hash := hashPCM(chunk.PCM)

	w.cacheMu.Lock()
	cached, hit := w.cache[hash]
	w.cacheMu.Unlock()
	if hit {
		// A cache hit republishes known-good text; confidence is absolute.
		w.publish(chunk, cached, 1.0)
		return
	}

	wav := audio.EncodeWAV(chunk.PCM, w.cfg.SampleRate, 1)

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()

	var transcript stt.Transcript
	err := resilience.Retry(reqCtx, resilience.RetryConfig{
		MaxAttempts: w.cfg.MaxRetries + 1,
		BaseDelay:   w.cfg.RetryBaseDelay,
	}, func() error {
		var err error
		transcript, err = w.provider.Transcribe(reqCtx, wav, stt.TranscribeOptions{
			Model:    w.cfg.Model,
			Language: w.cfg.Language,
			Prompt:   w.cfg.PromptHint,
			Timeout:  w.timeout(),
		})
		return err
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	w.metrics.RecordProviderRequest(ctx, "stt", w.cfg.Model, status)

	if err != nil {
		slog.Error("transcriber: transcription failed",
			"component", "transcriber",
			"session_id", w.sessionID,
			"speaker_id", chunk.SpeakerID,
			"error", err,
		)
		w.metrics.RecordProviderError(ctx, "stt", "transcribe")
		bus.Publish(w.bus, context.Background(), events.SystemStatus{
			Component: "transcriber",
			Status:    events.StatusError,
			Message:   err.Error(),
			Timestamp: w.now(),
		})
		return
	}

	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		// Provider heard silence; no event to publish.
		return
	}
	if w.corrector != nil {
		text = w.corrector.Correct(text)
	}

	w.cacheMu.Lock()
	w.cache[hash] = text
	w.cacheMu.Unlock()

	confidence := transcript.Confidence
	if confidence == 0 {
		confidence = 0.95
	}
	w.publish(chunk, text, confidence)
}

func (w *Worker) publish(chunk events.AudioChunk, text string, confidence float64) {
	bus.Publish(w.bus, context.Background(), events.Transcription{
		SessionID:   chunk.SessionID,
		SpeakerID:   chunk.SpeakerID,
		SpeakerName: chunk.SpeakerName,
		Text:        text,
		Timestamp:   chunk.StartTS,
		Confidence:  confidence,
		IsPartial:   false,
	})
}

func hashPCM(pcm []byte) string {
	sum := md5.Sum(pcm)
	return hex.EncodeToString(sum[:])
}
