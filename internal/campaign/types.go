// Package campaign defines the campaign-level domain types shared by the
// summarizer and storage gateway: the immutable per-session context fed to
// the LLM, and the questions it raises along the way.
package campaign

import (
	"time"

	"github.com/rpgscribe/rpgscribe/internal/config"
)

// Player maps a session speaker to the player character they control.
type Player struct {
	// SpeakerID is the upstream voice-platform user identifier.
	SpeakerID string

	// CharacterName is the player character's name, used in summarizer
	// prompts in place of the speaker's platform display name.
	CharacterName string

	// DisplayName is the speaker's platform display name (e.g. Discord
	// username), used to address the DM by name in the system prompt.
	DisplayName string

	// Description is optional flavor text about the character (class,
	// race, notable traits) included verbatim in the system prompt.
	Description string
}

// NPC is a non-player character known to the campaign ahead of a session,
// so the summarizer can recognize when the DM speaks as them.
type NPC struct {
	Name        string
	Description string
}

// Context is the immutable per-session campaign context: everything the
// summarizer needs to build its system prompt that does not change during
// the session itself. It is loaded once at session start and carried
// forward (via CampaignSummary) across sessions.
type Context struct {
	CampaignID  string
	Name        string
	GameSystem  string
	Language    string
	Description string

	// Players maps speaker IDs to their player characters.
	Players []Player

	// KnownNPCs lists NPCs established before this session started.
	KnownNPCs []NPC

	// CampaignSummary is the running summary carried forward from prior
	// sessions. Empty for a campaign's first session.
	CampaignSummary string

	// CustomInstructions is free-form DM guidance included verbatim in
	// the system prompt (tone, house rules, content boundaries).
	CustomInstructions string

	// DMSpeakerID identifies which speaker is the dungeon master, so the
	// prompt can address them by their display name rather than a
	// character name.
	DMSpeakerID string
}

// CharacterName returns the player character name for speakerID, or ok=false
// if speakerID is not a known player (e.g. the DM or an unmapped guest).
func (c Context) CharacterName(speakerID string) (name string, ok bool) {
	for _, p := range c.Players {
		if p.SpeakerID == speakerID {
			return p.CharacterName, true
		}
	}
	return "", false
}

// DMDisplayName returns the display name of the player whose SpeakerID
// matches DMSpeakerID, or "DM" if no such player is known.
func (c Context) DMDisplayName() string {
	for _, p := range c.Players {
		if p.SpeakerID == c.DMSpeakerID {
			if p.DisplayName != "" {
				return p.DisplayName
			}
			return p.CharacterName
		}
	}
	return "DM"
}

// EntityNames returns every known player character name and NPC name, for
// use as the phonetic correction entity list.
func (c Context) EntityNames() []string {
	names := make([]string, 0, len(c.Players)+len(c.KnownNPCs))
	for _, p := range c.Players {
		if p.CharacterName != "" {
			names = append(names, p.CharacterName)
		}
	}
	for _, n := range c.KnownNPCs {
		if n.Name != "" {
			names = append(names, n.Name)
		}
	}
	return names
}

// FromConfig builds a Context from the TOML-loaded campaign configuration.
// campaignSummary is passed separately rather than read from cfg because the
// running summary is carried forward by Storage across sessions and may be
// newer than whatever value happens to be in the config file.
func FromConfig(cfg config.CampaignConfig, campaignSummary string) Context {
	players := make([]Player, 0, len(cfg.Players))
	for _, p := range cfg.Players {
		players = append(players, Player{
			SpeakerID:     p.DiscordID,
			CharacterName: p.CharacterName,
			DisplayName:   p.DiscordName,
			Description:   p.CharacterDescription,
		})
	}

	npcs := make([]NPC, 0, len(cfg.NPCs))
	for _, n := range cfg.NPCs {
		npcs = append(npcs, NPC{Name: n.Name, Description: n.Description})
	}

	return Context{
		CampaignID:         cfg.ID,
		Name:               cfg.Name,
		GameSystem:         cfg.GameSystem,
		Language:           cfg.Language,
		Description:        cfg.Description,
		Players:            players,
		KnownNPCs:          npcs,
		CampaignSummary:    campaignSummary,
		CustomInstructions: cfg.CustomInstructions.Text,
		DMSpeakerID:        cfg.DM.DiscordID,
	}
}

// QuestionStatus tracks a Question through its lifecycle. A question only
// ever moves forward: Pending -> Answered -> Processed.
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionAnswered  QuestionStatus = "answered"
	QuestionProcessed QuestionStatus = "processed"
)

// Question is a clarification the summarizer raised via a `[QUESTION: ...]`
// marker in its output. It is answered externally (by a DM-facing surface)
// and consumed by a later summarizer pass.
type Question struct {
	ID        int64
	SessionID string
	Text      string
	Answer    string
	Status    QuestionStatus
	CreatedAt time.Time
}
