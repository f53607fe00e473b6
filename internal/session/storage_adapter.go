package session

import (
	"context"

	"github.com/rpgscribe/rpgscribe/internal/campaign"
	"github.com/rpgscribe/rpgscribe/internal/storage"
)

// storageAdapter narrows a storage.Gateway to the summarizer.Storage
// interface for one session. Most methods forward the IDs the summarizer
// passes in; SaveNPC additionally fills the gateway's firstSeenSession
// parameter with this session's ID, which the summarizer's narrower
// interface does not carry.
type storageAdapter struct {
	gw        storage.Gateway
	sessionID string
}

func newStorageAdapter(gw storage.Gateway, sessionID string) *storageAdapter {
	return &storageAdapter{gw: gw, sessionID: sessionID}
}

func (a *storageAdapter) GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error) {
	return a.gw.GetAnsweredUnprocessedQuestions(ctx, sessionID)
}

func (a *storageAdapter) MarkQuestionsProcessed(ctx context.Context, ids []int64) error {
	return a.gw.MarkQuestionsProcessed(ctx, ids)
}

func (a *storageAdapter) SaveQuestion(ctx context.Context, sessionID, text string) (int64, error) {
	return a.gw.SaveQuestion(ctx, sessionID, text)
}

func (a *storageAdapter) UpdateCampaignSummary(ctx context.Context, campaignID, summary string) error {
	return a.gw.UpdateCampaignSummary(ctx, campaignID, summary)
}

func (a *storageAdapter) NPCExists(ctx context.Context, campaignID, name string) (bool, error) {
	return a.gw.NPCExists(ctx, campaignID, name)
}

func (a *storageAdapter) SaveNPC(ctx context.Context, campaignID string, npc campaign.NPC) error {
	return a.gw.SaveNPC(ctx, campaignID, npc, a.sessionID)
}
