// Package session implements the composition root that ties the event bus,
// audio segmenter, transcription worker, incremental summarizer, and
// storage gateway together into one active recording session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/campaign"
	"github.com/rpgscribe/rpgscribe/internal/config"
	"github.com/rpgscribe/rpgscribe/internal/correct"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/internal/observe"
	"github.com/rpgscribe/rpgscribe/internal/segmenter"
	"github.com/rpgscribe/rpgscribe/internal/storage"
	"github.com/rpgscribe/rpgscribe/internal/summarizer"
	"github.com/rpgscribe/rpgscribe/internal/transcriber"
	"github.com/rpgscribe/rpgscribe/pkg/audio"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
	"github.com/rpgscribe/rpgscribe/pkg/provider/vad"
)

// Providers holds the remote-service clients an Orchestrator wires into its
// components. All three are required: the orchestrator has no built-in
// fallback provider.
type Providers struct {
	VAD vad.Engine
	STT stt.BatchProvider
	LLM llm.Provider
}

// Info describes the currently active session.
type Info struct {
	SessionID  string
	CampaignID string
	StartedAt  time.Time
	ChannelID  string
	StartedBy  string
}

// Orchestrator owns one active recording session at a time: it connects to
// the voice platform, wires the segmenter/transcriber/summarizer around the
// shared bus, and tears everything down in reverse order on Stop.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	bus       *bus.Bus
	platform  audio.Platform
	storage   storage.Gateway
	providers Providers
	cfg       *config.Config
	metrics   *observe.Metrics
	now       func() time.Time

	mu     sync.Mutex
	active bool
	info   Info
	conn   audio.Connection
	seg    *segmenter.Segmenter
	worker *transcriber.Worker
	summ   *summarizer.Summarizer
	rec    *recorder
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithMetrics attaches a metrics recorder. If unset, DefaultMetrics is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNow overrides the clock used for session ID timestamps. Intended for
// deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. b, platform, gw and providers must all be
// non-nil; cfg supplies the per-stage tuning tables and campaign roster.
func New(b *bus.Bus, platform audio.Platform, gw storage.Gateway, providers Providers, cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:       b,
		platform:  platform,
		storage:   gw,
		providers: providers,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// IsActive reports whether a session is currently running.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Info returns metadata about the active session. Returns the zero value if
// no session is active.
func (o *Orchestrator) Info() Info {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info
}

// Start begins a new recording session on channelID. Only one session may
// be active at a time; Start returns an error if one already is.
//
// Start loads (or creates) the campaign row, connects to the voice
// platform, and wires the segmenter, transcription worker, and summarizer
// around the shared bus before returning.
func (o *Orchestrator) Start(ctx context.Context, channelID, startedBy string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active {
		return fmt.Errorf("session: a session is already active (id=%s)", o.info.SessionID)
	}

	camp, err := o.loadCampaignLocked(ctx)
	if err != nil {
		return fmt.Errorf("session: load campaign: %w", err)
	}

	sessionID := newSessionID(camp.Name, o.now())

	if err := o.storage.CreateSession(ctx, storage.Session{
		ID:         sessionID,
		CampaignID: camp.CampaignID,
		StartedAt:  o.now(),
		Status:     storage.SessionActive,
	}); err != nil {
		return fmt.Errorf("session: create session row: %w", err)
	}

	conn, err := o.platform.Connect(ctx, channelID)
	if err != nil {
		return fmt.Errorf("session: connect to voice channel: %w", err)
	}

	seg := segmenter.New(o.bus, o.providers.VAD, sessionID, segmenter.ConfigFromListener(o.cfg.Listener), segmenter.WithMetrics(o.metrics))
	for _, p := range camp.Players {
		seg.SetSpeakerName(p.SpeakerID, p.DisplayName)
	}

	promptHint := buildPromptHint(o.cfg.Transcriber.PromptHint, camp)
	transCfg := transcriber.ConfigFromTranscriber(o.cfg.Transcriber, o.cfg.Listener.SampleRate)
	transCfg.PromptHint = promptHint

	var corrector transcriber.TextCorrector
	if names := camp.EntityNames(); len(names) > 0 {
		corrector = correct.NewCorrector(correct.NewMatcher(), names)
	}

	worker := transcriber.New(o.bus, o.providers.STT, sessionID, transCfg,
		transcriber.WithMetrics(o.metrics),
		transcriber.WithCorrector(corrector),
	)

	summ := summarizer.New(o.bus, o.providers.LLM, newStorageAdapter(o.storage, sessionID), sessionID, camp, summarizer.ConfigFromSummarizer(o.cfg.Summarizer), summarizer.WithMetrics(o.metrics))

	rec := newRecorder(o.bus, o.storage, sessionID)

	seg.Start(ctx, conn)
	worker.Start(ctx)
	summ.Start(ctx)
	rec.Start()

	o.active = true
	o.conn = conn
	o.seg = seg
	o.worker = worker
	o.summ = summ
	o.rec = rec
	o.info = Info{
		SessionID:  sessionID,
		CampaignID: camp.CampaignID,
		StartedAt:  o.now(),
		ChannelID:  channelID,
		StartedBy:  startedBy,
	}

	bus.Publish(o.bus, ctx, events.SystemStatus{
		Component: "orchestrator",
		Status:    events.StatusRunning,
		Message:   "session " + sessionID + " started",
		Timestamp: o.now(),
	})

	slog.Info("session started", "session_id", sessionID, "channel_id", channelID, "started_by", startedBy)
	return nil
}

// Stop ends the active session: it stops new audio from entering the
// pipeline (segmenter, then transcription worker), runs Finalize on the
// summarizer to fold any remaining pending transcriptions into a final
// summary, persists it, and only then disconnects from the voice platform.
//
// Returns the final session summary.
func (o *Orchestrator) Stop(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.active {
		return "", fmt.Errorf("session: no active session to stop")
	}

	sessionID := o.info.SessionID

	// Stop feeding new audio/transcriptions before finalizing so Finalize's
	// snapshot of pending is the last word.
	o.seg.Stop()
	o.worker.Stop()
	o.rec.Stop()

	summary, err := o.summ.Finalize(ctx)
	if err != nil {
		slog.Warn("session: finalize failed, sealing with best-effort summary", "session_id", sessionID, "error", err)
	}
	o.summ.Stop()

	if endErr := o.storage.EndSession(ctx, sessionID, summary); endErr != nil {
		slog.Warn("session: failed to seal session row", "session_id", sessionID, "error", endErr)
	}

	if discErr := o.conn.Disconnect(); discErr != nil {
		slog.Warn("session: voice disconnect error", "session_id", sessionID, "error", discErr)
	}

	o.active = false
	o.conn = nil
	o.seg = nil
	o.worker = nil
	o.summ = nil
	o.rec = nil
	o.info = Info{}

	bus.Publish(o.bus, ctx, events.SystemStatus{
		Component: "orchestrator",
		Status:    events.StatusIdle,
		Message:   "session " + sessionID + " stopped",
		Timestamp: o.now(),
	})

	slog.Info("session stopped", "session_id", sessionID)
	return summary, err
}

// AnswerQuestion records text as the answer to question id. The next
// summarizer pass picks it up via Storage.GetAnsweredUnprocessedQuestions.
func (o *Orchestrator) AnswerQuestion(ctx context.Context, id int64, text string) error {
	return o.storage.AnswerQuestion(ctx, id, text)
}

// loadCampaignLocked fetches the campaign row (creating it from config on
// first run) and returns the immutable per-session Context built from it.
// Callers must hold o.mu.
func (o *Orchestrator) loadCampaignLocked(ctx context.Context) (campaign.Context, error) {
	cc := o.cfg.Campaign
	existing, err := o.storage.GetCampaign(ctx, cc.ID)
	if err != nil {
		return campaign.Context{}, err
	}

	carriedSummary := cc.CampaignSummary
	if existing != nil {
		carriedSummary = existing.CampaignSummary
	} else {
		speakerMap := make(map[string]string, len(cc.Players))
		for _, p := range cc.Players {
			speakerMap[p.DiscordID] = p.CharacterName
		}
		if err := o.storage.UpsertCampaign(ctx, storage.Campaign{
			ID:                 cc.ID,
			Name:               cc.Name,
			GameSystem:         cc.GameSystem,
			Language:           cc.Language,
			Description:        cc.Description,
			CampaignSummary:    cc.CampaignSummary,
			SpeakerMap:         speakerMap,
			DMSpeakerID:        cc.DM.DiscordID,
			CustomInstructions: cc.CustomInstructions.Text,
		}); err != nil {
			return campaign.Context{}, err
		}
	}

	camp := campaign.FromConfig(cc, carriedSummary)

	npcs, err := o.storage.GetNPCs(ctx, cc.ID)
	if err != nil {
		slog.Warn("session: failed to load persisted npcs, using config-only roster", "error", err)
	} else {
		camp.KnownNPCs = mergeNPCs(camp.KnownNPCs, npcs)
	}

	return camp, nil
}

// mergeNPCs appends any persisted NPC not already present (by name) in
// configured, so NPCs discovered in prior sessions' finalize passes are
// known to later sessions too.
func mergeNPCs(configured, persisted []campaign.NPC) []campaign.NPC {
	seen := make(map[string]bool, len(configured))
	for _, n := range configured {
		seen[n.Name] = true
	}
	merged := configured
	for _, n := range persisted {
		if !seen[n.Name] {
			merged = append(merged, n)
			seen[n.Name] = true
		}
	}
	return merged
}

// buildPromptHint builds the "Expected names: ..." contextual prompt (spec
// §4.4) from the campaign roster, prefixed by any static hint configured in
// [transcriber].prompt_hint.
func buildPromptHint(staticHint string, camp campaign.Context) string {
	names := camp.EntityNames()
	if len(names) == 0 {
		return staticHint
	}
	hint := "Expected names: " + strings.Join(names, ", ")
	if staticHint == "" {
		return hint
	}
	return staticHint + ". " + hint
}

// newSessionID builds a collision-resistant session identifier. The UUID
// suffix avoids collisions when two sessions for the same campaign start
// within the same second, which happens routinely in tests that drive an
// injected clock.
func newSessionID(campaignName string, now time.Time) string {
	name := sanitizeName(campaignName)
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("session-%s-%s-%s", name, now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// sanitizeName lowercases name and replaces spaces with hyphens for use in
// session IDs.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
