package summarizer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/campaign"
	"github.com/rpgscribe/rpgscribe/internal/events"
)

const (
	sessionSummaryMarker  = "---SESSION_SUMMARY---"
	campaignSummaryMarker = "---CAMPAIGN_SUMMARY---"
)

// Finalize runs the single end-of-session pass: it folds any remaining
// pending transcription into one last LLM call that produces a polished
// session summary and an updated campaign summary, publishes a
// SummaryUpdate with UpdateType=final, and returns the session summary.
//
// Finalize does not take passMu: it is the caller's responsibility to stop
// the components that publish transcriptions before calling Finalize, so
// there is no concurrent incremental pass to serialize against. Stop is
// called after Finalize.
func (s *Summarizer) Finalize(ctx context.Context) (string, error) {
	s.stateMu.Lock()
	entries := s.pending
	s.pending = nil
	currentSummary := s.sessionSummary
	s.stateMu.Unlock()

	system := s.buildSystemPrompt()
	user := buildFinalizeUserPrompt(currentSummary, formatTranscriptions(entries))

	content, err := s.callLLM(ctx, system, user)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(ctx, "llm", s.cfg.Model, status)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "finalize")
		bus.Publish(s.bus, context.Background(), events.SystemStatus{
			Component: "summarizer",
			Status:    events.StatusError,
			Message:   "finalize failed: " + err.Error(),
			Timestamp: s.now(),
		})
		return "", err
	}

	sessionSummary, campaignSummary := splitFinalizeResponse(content)

	s.stateMu.Lock()
	s.sessionSummary = sessionSummary
	if campaignSummary != "" {
		s.campaignSummary = campaignSummary
	}
	finalCampaignSummary := s.campaignSummary
	s.stateMu.Unlock()

	if campaignSummary != "" && s.storage != nil {
		if err := s.storage.UpdateCampaignSummary(ctx, s.camp.CampaignID, finalCampaignSummary); err != nil {
			slog.Warn("summarizer: failed to persist campaign summary",
				"component", "summarizer",
				"session_id", s.sessionID,
				"error", err,
			)
		}
	}

	s.publish(events.SummaryFinal)

	s.extractEntities(ctx, sessionSummary)

	return sessionSummary, nil
}

// splitFinalizeResponse splits a finalize response on the two literal
// markers the finalize prompt asks for. If either marker is absent, the
// entire response is treated as the session summary and the campaign
// summary is left unchanged (returned as "").
func splitFinalizeResponse(content string) (sessionSummary, campaignSummary string) {
	if !strings.Contains(content, sessionSummaryMarker) || !strings.Contains(content, campaignSummaryMarker) {
		return strings.TrimSpace(content), ""
	}

	parts := strings.SplitN(content, campaignSummaryMarker, 2)
	sessionPart := strings.Replace(parts[0], sessionSummaryMarker, "", 1)
	sessionSummary = strings.TrimSpace(sessionPart)
	if len(parts) > 1 {
		campaignSummary = strings.TrimSpace(parts[1])
	}
	return sessionSummary, campaignSummary
}

// extractionResult is the defensively-parsed shape of the optional
// second-pass NPC/location extraction response.
type extractionResult struct {
	NPCs      []extractedNPC `json:"npcs"`
	Locations []string       `json:"locations"`
}

type extractedNPC struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// extractEntities issues the optional second LLM call that asks for newly
// mentioned NPCs and locations as JSON, and persists any NPC not already
// known to the campaign. Failures here are logged and swallowed: a broken
// extraction pass must never mask a successful finalize.
func (s *Summarizer) extractEntities(ctx context.Context, sessionSummary string) {
	if s.storage == nil || sessionSummary == "" {
		return
	}

	content, err := s.callLLM(ctx, s.buildSystemPrompt(), buildExtractionUserPrompt(sessionSummary))
	if err != nil {
		slog.Warn("summarizer: entity extraction call failed",
			"component", "summarizer",
			"session_id", s.sessionID,
			"error", err,
		)
		return
	}

	result, ok := parseExtractionResult(content)
	if !ok {
		slog.Warn("summarizer: entity extraction response was not parseable",
			"component", "summarizer",
			"session_id", s.sessionID,
		)
		return
	}

	for _, npc := range result.NPCs {
		if npc.Name == "" {
			continue
		}
		exists, err := s.storage.NPCExists(ctx, s.camp.CampaignID, npc.Name)
		if err != nil {
			slog.Warn("summarizer: npc_exists check failed",
				"component", "summarizer",
				"session_id", s.sessionID,
				"npc", npc.Name,
				"error", err,
			)
			continue
		}
		if exists {
			continue
		}
		if err := s.storage.SaveNPC(ctx, s.camp.CampaignID, campaign.NPC{
			Name:        npc.Name,
			Description: npc.Description,
		}); err != nil {
			slog.Warn("summarizer: failed to save extracted npc",
				"component", "summarizer",
				"session_id", s.sessionID,
				"npc", npc.Name,
				"error", err,
			)
		}
	}
}

// parseExtractionResult defensively locates the first `{`...`}` block in
// content and parses it as an extractionResult, ignoring malformed fields.
// A model response wrapping the JSON in prose must not fail the whole
// extraction pass.
func parseExtractionResult(content string) (extractionResult, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end < start {
		return extractionResult{}, false
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return extractionResult{}, false
	}
	return result, true
}
