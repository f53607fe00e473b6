package summarizer

import (
	"fmt"
	"strings"
)

// buildSystemPrompt assembles the narrative-chronicler system prompt from
// the campaign context: game system, name, description, the running
// campaign summary (or a "(first session)" placeholder), the player
// roster with character names, known NPCs, the DM's display name, and any
// custom instructions verbatim.
func (s *Summarizer) buildSystemPrompt() string {
	c := s.camp

	campaignSummary := c.CampaignSummary
	s.stateMu.Lock()
	if s.campaignSummary != "" {
		campaignSummary = s.campaignSummary
	}
	s.stateMu.Unlock()
	if campaignSummary == "" {
		campaignSummary = "(first session)"
	}

	var players strings.Builder
	for _, p := range c.Players {
		fmt.Fprintf(&players, "- %s plays %s", p.DisplayName, p.CharacterName)
		if p.Description != "" {
			fmt.Fprintf(&players, " (%s)", p.Description)
		}
		players.WriteByte('\n')
	}

	npcsBlock := "(none known)"
	if len(c.KnownNPCs) > 0 {
		var npcs strings.Builder
		for _, n := range c.KnownNPCs {
			fmt.Fprintf(&npcs, "- %s: %s\n", n.Name, n.Description)
		}
		npcsBlock = strings.TrimRight(npcs.String(), "\n")
	}

	custom := ""
	if c.CustomInstructions != "" {
		custom = "ADDITIONAL INSTRUCTIONS:\n" + c.CustomInstructions
	}

	return fmt.Sprintf(systemPromptTemplate,
		c.GameSystem,
		c.Name,
		c.Description,
		campaignSummary,
		strings.TrimRight(players.String(), "\n"),
		npcsBlock,
		c.DMDisplayName(),
		custom,
	)
}

const systemPromptTemplate = `You are an expert chronicler of tabletop role-playing sessions. Your job is to write a narrative summary of what happens in the session.

CAMPAIGN CONTEXT:
- System: %s
- Campaign: %s — %s
- Summary so far: %s

PLAYERS:
%s

KNOWN NPCS:
%s

The DM (%s) speaks as multiple NPCs. Try to identify which NPC is speaking based on context.

%s

INSTRUCTIONS:
1. Write in third person, narrative style.
2. Distinguish between what characters say in-game and out-of-character player discussion. Out-of-character content does not belong in the narrative summary, but you may note it as [META] if relevant (group decisions, rules questions, etc.).
3. Keep the summary coherent and fluid. Rewrite previous sections if new information clarifies them.
4. If something is unclear, mark it with [QUESTION: ...].`

// formatTranscriptions renders buffered transcription entries as
// `[speaker]: text` lines, one per entry, in buffer order.
func formatTranscriptions(entries []pendingEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s]: %s\n", e.SpeakerName, e.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildUpdateUserPrompt builds the user-turn prompt for one incremental
// pass: the freshly snapshotted transcriptions, the current session
// summary, and the formatted user-answers block (if any).
func buildUpdateUserPrompt(entries []pendingEntry, currentSummary, answersBlock string) string {
	summary := currentSummary
	if summary == "" {
		summary = "(start of session)"
	}
	answers := "\n"
	if answersBlock != "" {
		answers = "\nUSER ANSWERS:\n" + answersBlock + "\n"
	}
	return fmt.Sprintf(updateUserTemplate, formatTranscriptions(entries), summary, answers)
}

const updateUserTemplate = `RECENT TRANSCRIPTION:
%s

CURRENT SESSION SUMMARY:
%s
%s
Update the summary incorporating the new transcription. Return ONLY the updated summary, with no additional explanation.`

// buildFinalizeUserPrompt builds the user-turn prompt for the end-of-session
// finalize pass.
func buildFinalizeUserPrompt(currentSummary, pendingText string) string {
	summary := currentSummary
	if summary == "" {
		summary = "(no summary yet)"
	}
	if pendingText == "" {
		pendingText = "(none)"
	}
	return fmt.Sprintf(finalizeUserTemplate, summary, pendingText)
}

const finalizeUserTemplate = `The session has ended. Below is the current session summary and the remaining pending transcription.

CURRENT SESSION SUMMARY:
%s

PENDING TRANSCRIPTION:
%s

Produce:
1. A final polished session summary (narrative, detailed).
2. An updated campaign summary incorporating this session.

Respond using exactly this format:

---SESSION_SUMMARY---
(final session summary)

---CAMPAIGN_SUMMARY---
(updated campaign summary)
`

// buildExtractionUserPrompt asks the model for a JSON object naming NPCs
// and locations newly mentioned in the session, for the optional
// second-pass extraction in Finalize.
func buildExtractionUserPrompt(sessionSummary string) string {
	return fmt.Sprintf(extractionUserTemplate, sessionSummary)
}

const extractionUserTemplate = `Below is a finished session summary.

SESSION SUMMARY:
%s

List every NPC and every location mentioned in this summary that is worth remembering for future sessions. Respond with ONLY a JSON object of the exact shape:

{"npcs": [{"name": "...", "description": "..."}], "locations": ["..."]}

If there are none, return empty arrays. Do not include any other text.`
