// Package summarizer implements the incremental summarizer: it accumulates
// transcriptions for a session, periodically rewrites the running session
// summary via an LLM, extracts follow-up questions, injects answers on the
// next pass, and produces a final structured summary at session end.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/campaign"
	"github.com/rpgscribe/rpgscribe/internal/config"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/observe"
	"github.com/rpgscribe/rpgscribe/internal/resilience"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/types"
)

const (
	defaultUpdateInterval = 120 * time.Second
	defaultMaxPending     = 20
	defaultTimeout        = 30 * time.Second
)

// questionPattern extracts `[QUESTION: ...]` markers from summarizer output.
var questionPattern = regexp.MustCompile(`\[QUESTION:\s*(.+?)\]`)

// collapseNewlines squashes runs of 3+ newlines left behind by marker
// removal down to a single blank line.
var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// Config tunes the summarizer's update cadence and LLM call shape.
type Config struct {
	Model          string
	MaxTokens      int
	UpdateInterval time.Duration
	MaxPending     int
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// ConfigFromSummarizer converts a config.SummarizerConfig's float-seconds
// fields into a Config.
func ConfigFromSummarizer(c config.SummarizerConfig) Config {
	return Config{
		Model:          c.Model,
		MaxTokens:      c.MaxTokens,
		UpdateInterval: secondsToDuration(c.UpdateIntervalS),
		MaxPending:     c.MaxPendingTranscriptions,
		Timeout:        secondsToDuration(c.APITimeoutS),
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: secondsToDuration(c.RetryBaseDelayS),
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Storage is the subset of the storage gateway the summarizer depends on: it
// injects answered questions into the next pass's prompt and persists newly
// extracted questions and newly mentioned NPCs. A nil Storage degrades
// gracefully — passes simply never inject answers or persist anything.
type Storage interface {
	GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error)
	MarkQuestionsProcessed(ctx context.Context, ids []int64) error
	SaveQuestion(ctx context.Context, sessionID, text string) (int64, error)
	UpdateCampaignSummary(ctx context.Context, campaignID, summary string) error
	NPCExists(ctx context.Context, campaignID, name string) (bool, error)
	SaveNPC(ctx context.Context, campaignID string, npc campaign.NPC) error
}

// pendingEntry is one buffered transcription awaiting a summary pass.
type pendingEntry struct {
	SpeakerID   string
	SpeakerName string
	Text        string
	Timestamp   time.Time
}

// Option configures a Summarizer at construction time.
type Option func(*Summarizer)

// WithMetrics attaches a metrics recorder. If unset, DefaultMetrics is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Summarizer) { s.metrics = m }
}

// WithNow overrides the clock used for update-interval checks and event
// timestamps. Intended for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Summarizer) { s.now = now }
}

// Summarizer accumulates transcriptions for a single session and
// periodically rewrites its summary via an LLM. All exported methods are
// safe for concurrent use.
type Summarizer struct {
	bus       *bus.Bus
	llm       llm.Provider
	storage   Storage
	sessionID string
	camp      campaign.Context
	cfg       Config
	metrics   *observe.Metrics
	now       func() time.Time

	// stateMu guards every field below. It is held only long enough to
	// snapshot or mutate state, never across an LLM call.
	stateMu         sync.Mutex
	pending         []pendingEntry
	lastUpdateTS    time.Time
	sessionSummary  string
	campaignSummary string

	// passMu serializes full summarization passes: only one may run at a
	// time per Summarizer, and a trigger that arrives mid-pass simply waits
	// its turn and then operates on whatever is pending at that point,
	// rather than duplicating work.
	passMu sync.Mutex

	stopOnce sync.Once
}

// New creates a Summarizer for a single session. camp is the campaign
// context (including any campaign summary carried forward from prior
// sessions); storage may be nil.
func New(b *bus.Bus, llmProvider llm.Provider, storage Storage, sessionID string, camp campaign.Context, cfg Config, opts ...Option) *Summarizer {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	s := &Summarizer{
		bus:             b,
		llm:             llmProvider,
		storage:         storage,
		sessionID:       sessionID,
		camp:            camp,
		cfg:             cfg,
		now:             time.Now,
		campaignSummary: camp.CampaignSummary,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

func (s *Summarizer) subscriberID() string {
	return "summarizer:" + s.sessionID
}

// Start resets per-session state and subscribes to events.Transcription.
func (s *Summarizer) Start(ctx context.Context) {
	s.stateMu.Lock()
	s.sessionSummary = ""
	s.pending = nil
	s.lastUpdateTS = s.now()
	s.stateMu.Unlock()

	bus.Subscribe[events.Transcription](s.bus, s.subscriberID(), func(ctx context.Context, ev events.Transcription) error {
		return s.handleTranscription(ctx, ev)
	})

	bus.Publish(s.bus, ctx, events.SystemStatus{
		Component: "summarizer",
		Status:    events.StatusRunning,
		Message:   "summarizer started for session " + s.sessionID,
		Timestamp: s.now(),
	})
}

// Stop unsubscribes from the bus. It does not wait for an in-flight pass to
// finish; callers that need the final summary should call Finalize first.
func (s *Summarizer) Stop() {
	s.stopOnce.Do(func() {
		bus.Unsubscribe[events.Transcription](s.bus, s.subscriberID())
		bus.Publish(s.bus, context.Background(), events.SystemStatus{
			Component: "summarizer",
			Status:    events.StatusIdle,
			Message:   "summarizer stopped",
			Timestamp: s.now(),
		})
	})
}

func (s *Summarizer) handleTranscription(ctx context.Context, ev events.Transcription) error {
	if ev.IsPartial || ev.SessionID != s.sessionID {
		return nil
	}

	speakerName := ev.SpeakerName
	if name, ok := s.camp.CharacterName(ev.SpeakerID); ok {
		speakerName = name
	}

	s.stateMu.Lock()
	s.pending = append(s.pending, pendingEntry{
		SpeakerID:   ev.SpeakerID,
		SpeakerName: speakerName,
		Text:        ev.Text,
		Timestamp:   ev.Timestamp,
	})
	trigger := s.shouldUpdateLocked()
	s.stateMu.Unlock()

	if trigger {
		s.runPass(ctx)
	}
	return nil
}

// shouldUpdateLocked decides whether a pass should run. Callers must hold
// s.stateMu.
func (s *Summarizer) shouldUpdateLocked() bool {
	if len(s.pending) == 0 {
		return false
	}
	if len(s.pending) >= s.cfg.MaxPending {
		return true
	}
	return s.now().Sub(s.lastUpdateTS) >= s.cfg.UpdateInterval
}

func (s *Summarizer) timeout() time.Duration {
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return defaultTimeout
}

// runPass serializes entry into doPass via passMu: a trigger that arrives
// while a pass is already running blocks here and, once admitted, operates
// on whatever has accumulated since — it never races a concurrent pass.
func (s *Summarizer) runPass(ctx context.Context) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.doPass(ctx)
}

// doPass is the one-pass critical section described in the package doc:
// snapshot pending, inject answered questions, build prompts, call the LLM,
// extract questions, and publish the updated summary. On any failure the
// snapshot is restored to pending so no transcription is lost.
func (s *Summarizer) doPass(ctx context.Context) {
	s.stateMu.Lock()
	entries := s.pending
	s.pending = nil
	s.stateMu.Unlock()

	if len(entries) == 0 {
		return
	}

	answersBlock := s.consumeAnsweredQuestions(ctx)

	s.stateMu.Lock()
	currentSummary := s.sessionSummary
	s.stateMu.Unlock()

	system := s.buildSystemPrompt()
	user := buildUpdateUserPrompt(entries, currentSummary, answersBlock)

	content, err := s.callLLM(ctx, system, user)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(ctx, "llm", s.cfg.Model, status)

	if err != nil {
		s.stateMu.Lock()
		s.pending = append(entries, s.pending...)
		s.stateMu.Unlock()

		slog.Error("summarizer: update pass failed",
			"component", "summarizer",
			"session_id", s.sessionID,
			"error", err,
		)
		s.metrics.RecordProviderError(ctx, "llm", "summarize")
		bus.Publish(s.bus, context.Background(), events.SystemStatus{
			Component: "summarizer",
			Status:    events.StatusError,
			Message:   err.Error(),
			Timestamp: s.now(),
		})
		return
	}

	cleaned, questions := extractQuestions(content)
	s.saveQuestions(ctx, questions)

	s.stateMu.Lock()
	s.sessionSummary = cleaned
	s.lastUpdateTS = s.now()
	s.stateMu.Unlock()

	s.publish(events.SummaryIncremental)
}

// consumeAnsweredQuestions fetches answered-but-unprocessed questions,
// formats them for the prompt, and marks them processed immediately — so
// they are injected exactly once, even if the pass's own LLM call later
// fails. A nil Storage or a fetch error yields an empty block.
func (s *Summarizer) consumeAnsweredQuestions(ctx context.Context) string {
	if s.storage == nil {
		return ""
	}
	answered, err := s.storage.GetAnsweredUnprocessedQuestions(ctx, s.sessionID)
	if err != nil {
		slog.Warn("summarizer: failed to fetch answered questions",
			"component", "summarizer",
			"session_id", s.sessionID,
			"error", err,
		)
		return ""
	}
	if len(answered) == 0 {
		return ""
	}

	var sb strings.Builder
	ids := make([]int64, 0, len(answered))
	for _, q := range answered {
		fmt.Fprintf(&sb, "- Q: %s\n  A: %s\n", q.Text, q.Answer)
		ids = append(ids, q.ID)
	}

	if err := s.storage.MarkQuestionsProcessed(ctx, ids); err != nil {
		slog.Warn("summarizer: failed to mark questions processed",
			"component", "summarizer",
			"session_id", s.sessionID,
			"error", err,
		)
	}
	return sb.String()
}

func (s *Summarizer) saveQuestions(ctx context.Context, questions []string) {
	if s.storage == nil || len(questions) == 0 {
		return
	}
	for _, q := range questions {
		if _, err := s.storage.SaveQuestion(ctx, s.sessionID, q); err != nil {
			slog.Warn("summarizer: failed to save question",
				"component", "summarizer",
				"session_id", s.sessionID,
				"error", err,
			)
			continue
		}
		s.metrics.RecordQuestionExtracted(ctx)
	}
}

// callLLM issues a retried, timeout-bounded completion request. MaxRetries
// is the total attempt budget here, unlike the transcriber's
// retries-on-top-of-the-first-call convention.
func (s *Summarizer) callLLM(ctx context.Context, system, user string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	attempts := s.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var resp *llm.CompletionResponse
	err := resilience.Retry(reqCtx, resilience.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   s.cfg.RetryBaseDelay,
	}, func() error {
		var err error
		resp, err = s.llm.Complete(reqCtx, llm.CompletionRequest{
			SystemPrompt: system,
			Messages: []types.Message{
				{Role: "user", Content: user},
			},
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: 0.3,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("summarizer: provider returned no completion")
	}
	return resp.Content, nil
}

func (s *Summarizer) publish(updateType events.SummaryUpdateType) {
	s.stateMu.Lock()
	sessionSummary := s.sessionSummary
	campaignSummary := s.campaignSummary
	s.stateMu.Unlock()

	bus.Publish(s.bus, context.Background(), events.SummaryUpdate{
		SessionID:       s.sessionID,
		SessionSummary:  sessionSummary,
		CampaignSummary: campaignSummary,
		LastUpdated:     s.now(),
		UpdateType:      updateType,
	})
}

// extractQuestions pulls every `[QUESTION: ...]` marker out of text,
// returning the cleaned text (markers removed, runs of 3+ newlines
// collapsed to one blank line) and the extracted question strings in order.
func extractQuestions(text string) (cleaned string, questions []string) {
	for _, m := range questionPattern.FindAllStringSubmatch(text, -1) {
		questions = append(questions, strings.TrimSpace(m[1]))
	}
	cleaned = questionPattern.ReplaceAllString(text, "")
	cleaned = collapseNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned), questions
}
