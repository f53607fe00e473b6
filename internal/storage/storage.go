// Package storage defines the storage gateway: the narrow persistence
// interface the pipeline calls through, plus a PostgreSQL-backed
// implementation. The pipeline never imports
// *PostgresGateway directly — every consumer (summarizer, transcript
// recorder, admin surface) depends on the narrower interface it actually needs.
package storage

import (
	"context"
	"time"

	"github.com/rpgscribe/rpgscribe/internal/campaign"
)

// Campaign is the persisted row shape for the campaigns table.
type Campaign struct {
	ID                 string
	Name               string
	GameSystem         string
	Language           string
	Description        string
	CampaignSummary    string
	SpeakerMap         map[string]string
	DMSpeakerID        string
	CustomInstructions string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SessionStatus is the lifecycle state of a recording session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is the persisted row shape for the sessions table.
type Session struct {
	ID             string
	CampaignID     string
	StartedAt      time.Time
	EndedAt        *time.Time
	SessionSummary string
	Status         SessionStatus
}

// TranscriptionRecord is the persisted row shape for the transcriptions
// table. IsInGame distinguishes narrative content from [META] asides; the
// pipeline itself does not classify this — it is left for a publish
// adapter or manual curation, and defaults to true on insert.
type TranscriptionRecord struct {
	ID          int64
	SessionID   string
	SpeakerID   string
	SpeakerName string
	Text        string
	Timestamp   time.Time
	Confidence  float64
	IsInGame    bool
}

// Gateway is the full storage contract the pipeline depends on. All
// operations are safe for concurrent use; a concrete implementation
// serializes its own writes.
type Gateway interface {
	UpsertCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, campaignID string) (*Campaign, error)
	UpdateCampaignSummary(ctx context.Context, campaignID, summary string) error

	CreateSession(ctx context.Context, s Session) error
	EndSession(ctx context.Context, sessionID, summary string) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, campaignID string) ([]Session, error)

	SaveTranscription(ctx context.Context, t TranscriptionRecord) (int64, error)
	GetTranscriptions(ctx context.Context, sessionID string) ([]TranscriptionRecord, error)

	SaveNPC(ctx context.Context, campaignID string, npc campaign.NPC, firstSeenSession string) error
	GetNPCs(ctx context.Context, campaignID string) ([]campaign.NPC, error)
	NPCExists(ctx context.Context, campaignID, name string) (bool, error)

	SaveQuestion(ctx context.Context, sessionID, text string) (int64, error)
	AnswerQuestion(ctx context.Context, id int64, answer string) error
	GetPendingQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error)
	GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error)
	MarkQuestionsProcessed(ctx context.Context, ids []int64) error
}
