package summarizer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/campaign"
	"github.com/rpgscribe/rpgscribe/internal/events"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm/mock"
)

const testSession = "s1"

func newTestCampaign() campaign.Context {
	return campaign.Context{
		CampaignID: "c1",
		Name:       "The Sunken Vault",
		GameSystem: "D&D 5e",
		Players: []campaign.Player{
			{SpeakerID: "u1", CharacterName: "Aelar", DisplayName: "TestUser"},
		},
		DMSpeakerID: "dm1",
	}
}

// fakeStorage is a minimal in-memory Storage double for summarizer tests.
type fakeStorage struct {
	mu sync.Mutex

	answered           []campaign.Question
	processedIDs       [][]int64
	savedQuestions     []string
	updatedCampaignIDs []string
	campaignSummaries  []string
	npcExists          map[string]bool
	savedNPCs          []campaign.NPC
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{npcExists: map[string]bool{}}
}

func (f *fakeStorage) GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answered, nil
}

func (f *fakeStorage) MarkQuestionsProcessed(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedIDs = append(f.processedIDs, ids)
	return nil
}

func (f *fakeStorage) SaveQuestion(ctx context.Context, sessionID, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedQuestions = append(f.savedQuestions, text)
	return int64(len(f.savedQuestions)), nil
}

func (f *fakeStorage) UpdateCampaignSummary(ctx context.Context, campaignID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedCampaignIDs = append(f.updatedCampaignIDs, campaignID)
	f.campaignSummaries = append(f.campaignSummaries, summary)
	return nil
}

func (f *fakeStorage) NPCExists(ctx context.Context, campaignID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.npcExists[name], nil
}

func (f *fakeStorage) SaveNPC(ctx context.Context, campaignID string, npc campaign.NPC) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedNPCs = append(f.savedNPCs, npc)
	return nil
}

// recordingSub subscribes to SummaryUpdate and records every event published.
func recordingSub(b *bus.Bus, id string) *[]events.SummaryUpdate {
	var mu sync.Mutex
	var got []events.SummaryUpdate
	bus.Subscribe[events.SummaryUpdate](b, id, func(ctx context.Context, ev events.SummaryUpdate) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	})
	return &got
}

// TestBasicTranscriptionIngestion_NoTriggerYet exercises the ingestion
// policy alone: a single transcription below MaxPending/UpdateInterval must
// not trigger a pass.
func TestBasicTranscriptionIngestion_NoTriggerYet(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "should not be called"}}
	sum := New(b, llmMock, nil, testSession, newTestCampaign(), Config{MaxPending: 20, UpdateInterval: time.Hour})
	sum.Start(context.Background())
	defer sum.Stop()

	bus.Publish(b, context.Background(), events.Transcription{
		SessionID:   testSession,
		SpeakerID:   "u1",
		SpeakerName: "TestUser",
		Text:        "[Transcribed from TestUser]",
		Timestamp:   time.Now(),
	})

	if len(llmMock.CompleteCalls) != 0 {
		t.Fatalf("expected no LLM call before threshold, got %d", len(llmMock.CompleteCalls))
	}
}

// TestIgnoresPartialAndForeignSession covers the filtering rule in spec
// §4.5: partial transcriptions and foreign-session events must never reach
// the pending buffer.
func TestIgnoresPartialAndForeignSession(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}}
	sum := New(b, llmMock, nil, testSession, newTestCampaign(), Config{MaxPending: 1, UpdateInterval: time.Hour})
	sum.Start(context.Background())
	defer sum.Stop()

	bus.Publish(b, context.Background(), events.Transcription{SessionID: testSession, Text: "partial", IsPartial: true})
	bus.Publish(b, context.Background(), events.Transcription{SessionID: "other-session", Text: "foreign"})

	if len(llmMock.CompleteCalls) != 0 {
		t.Fatalf("expected no pass triggered by partial/foreign events, got %d calls", len(llmMock.CompleteCalls))
	}
}

// TestSummarizerCoalescing is end-to-end scenario 3: with MaxPending=2,
// three transcriptions published in quick succession trigger exactly one
// pass, leaving exactly one entry buffered.
func TestSummarizerCoalescing(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "A narrative summary."}}
	sum := New(b, llmMock, nil, testSession, newTestCampaign(), Config{MaxPending: 2, UpdateInterval: time.Hour})
	updates := recordingSub(b, "test-sub")
	sum.Start(context.Background())
	defer sum.Stop()

	for i := range 3 {
		bus.Publish(b, context.Background(), events.Transcription{
			SessionID:   testSession,
			SpeakerID:   "u1",
			SpeakerName: "TestUser",
			Text:        "line",
			Timestamp:   time.Now(),
			IsPartial:   false,
		})
		_ = i
	}

	if len(llmMock.CompleteCalls) != 1 {
		t.Fatalf("CompleteCalls = %d, want exactly 1", len(llmMock.CompleteCalls))
	}
	if len(*updates) != 1 {
		t.Fatalf("SummaryUpdate count = %d, want exactly 1", len(*updates))
	}
	sum.stateMu.Lock()
	pendingLen := len(sum.pending)
	sum.stateMu.Unlock()
	if pendingLen != 1 {
		t.Fatalf("pending after pass = %d, want exactly 1", pendingLen)
	}
}

// TestQuestionRoundTrip is end-to-end scenario 4.
func TestQuestionRoundTrip(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "The party entered. [QUESTION: Who leads?] They found an inn.",
	}}
	storage := newFakeStorage()
	sum := New(b, llmMock, storage, testSession, newTestCampaign(), Config{MaxPending: 1, UpdateInterval: time.Hour})
	updates := recordingSub(b, "test-sub")
	sum.Start(context.Background())
	defer sum.Stop()

	bus.Publish(b, context.Background(), events.Transcription{
		SessionID: testSession, SpeakerID: "u1", SpeakerName: "TestUser",
		Text: "We enter the tavern.", Timestamp: time.Now(),
	})

	if len(storage.savedQuestions) != 1 || storage.savedQuestions[0] != "Who leads?" {
		t.Fatalf("savedQuestions = %v, want exactly one \"Who leads?\"", storage.savedQuestions)
	}
	if len(*updates) != 1 {
		t.Fatalf("expected exactly one SummaryUpdate")
	}
	summary := (*updates)[0].SessionSummary
	if strings.Contains(summary, "[QUESTION") {
		t.Fatalf("published summary still contains a [QUESTION marker: %q", summary)
	}
	if strings.Contains(summary, "\n\n\n") {
		t.Fatalf("published summary contains 3+ consecutive newlines: %q", summary)
	}
}

// TestAnswerInjection is end-to-end scenario 5.
func TestAnswerInjection(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Aelar leads the party onward."}}
	storage := newFakeStorage()
	storage.answered = []campaign.Question{
		{ID: 1, SessionID: testSession, Text: "Who leads?", Answer: "Aelar leads"},
	}
	sum := New(b, llmMock, storage, testSession, newTestCampaign(), Config{MaxPending: 1, UpdateInterval: time.Hour})
	sum.Start(context.Background())
	defer sum.Stop()

	bus.Publish(b, context.Background(), events.Transcription{
		SessionID: testSession, SpeakerID: "u1", SpeakerName: "TestUser",
		Text: "Who should go first?", Timestamp: time.Now(),
	})

	if len(llmMock.CompleteCalls) != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", len(llmMock.CompleteCalls))
	}
	userMsg := llmMock.CompleteCalls[0].Req.Messages[len(llmMock.CompleteCalls[0].Req.Messages)-1].Content
	if !strings.Contains(userMsg, "Aelar leads") {
		t.Fatalf("user prompt missing answer text, got: %q", userMsg)
	}
	if len(storage.processedIDs) != 1 || len(storage.processedIDs[0]) != 1 || storage.processedIDs[0][0] != 1 {
		t.Fatalf("MarkQuestionsProcessed calls = %v, want exactly one call with [1]", storage.processedIDs)
	}
}

// TestPendingRestoreOnFailure checks the pending-restore invariant:
// a terminal LLM failure during a pass must not lose any transcription.
func TestPendingRestoreOnFailure(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteErr: errTerminal}
	sum := New(b, llmMock, nil, testSession, newTestCampaign(), Config{MaxPending: 1, UpdateInterval: time.Hour, MaxRetries: 0})
	sum.Start(context.Background())
	defer sum.Stop()

	bus.Publish(b, context.Background(), events.Transcription{
		SessionID: testSession, SpeakerID: "u1", SpeakerName: "TestUser",
		Text: "unrecoverable line", Timestamp: time.Now(),
	})

	sum.stateMu.Lock()
	pendingLen := len(sum.pending)
	sum.stateMu.Unlock()
	if pendingLen < 1 {
		t.Fatalf("pending after failed pass = %d, want >= 1 (no transcription lost)", pendingLen)
	}
}

// TestRetryBudgetIsMaxRetriesAttempts pins the summarizer's attempt budget:
// MaxRetries is the total number of LLM attempts per pass, with a floor of
// one so a zero config still makes the call.
func TestRetryBudgetIsMaxRetriesAttempts(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteErr: errTerminal}
	sum := New(b, llmMock, nil, testSession, newTestCampaign(), Config{
		MaxPending:     1,
		UpdateInterval: time.Hour,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	})
	sum.Start(context.Background())
	defer sum.Stop()

	bus.Publish(b, context.Background(), events.Transcription{
		SessionID: testSession, SpeakerID: "u1", SpeakerName: "TestUser",
		Text: "a line", Timestamp: time.Now(),
	})

	if got := len(llmMock.CompleteCalls); got != 2 {
		t.Fatalf("LLM attempts = %d, want 2 (MaxRetries is the total budget)", got)
	}
}

// TestFinalizeSplit is end-to-end scenario 6.
func TestFinalizeSplit(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "---SESSION_SUMMARY---\nEnd of session.\n---CAMPAIGN_SUMMARY---\nCampaign marches on.",
	}}
	storage := newFakeStorage()
	sum := New(b, llmMock, storage, testSession, newTestCampaign(), Config{})
	updates := recordingSub(b, "test-sub")
	sum.Start(context.Background())

	summary, err := sum.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if summary != "End of session." {
		t.Fatalf("Finalize() = %q, want %q", summary, "End of session.")
	}
	sum.stateMu.Lock()
	campaignSummary := sum.campaignSummary
	sum.stateMu.Unlock()
	if campaignSummary != "Campaign marches on." {
		t.Fatalf("campaignSummary = %q, want %q", campaignSummary, "Campaign marches on.")
	}

	var finals int
	for _, u := range *updates {
		if u.UpdateType == events.SummaryFinal {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("final SummaryUpdate count = %d, want exactly 1", finals)
	}
}

// TestFinalizeWithoutMarkersFallsBackToFullText covers the
// "either marker absent" branch.
func TestFinalizeWithoutMarkersFallsBackToFullText(t *testing.T) {
	b := bus.New()
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Just a plain summary, no markers."}}
	sum := New(b, llmMock, nil, testSession, newTestCampaign(), Config{})
	camp := sum.camp
	camp.CampaignSummary = "unchanged"
	sum.camp = camp
	sum.campaignSummary = "unchanged"
	sum.Start(context.Background())

	summary, err := sum.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if summary != "Just a plain summary, no markers." {
		t.Fatalf("Finalize() = %q", summary)
	}
	if sum.campaignSummary != "unchanged" {
		t.Fatalf("campaignSummary should be left unchanged, got %q", sum.campaignSummary)
	}
}

// TestFinalizeEntityExtraction exercises the optional second-pass
// extraction: Finalize issues the extraction call, and an extraction
// response with no JSON object saves no NPC and does not fail Finalize.
func TestFinalizeEntityExtraction(t *testing.T) {
	b := bus.New()
	storage := newFakeStorage()
	storage.npcExists["Old Man Higgins"] = true

	// mock.Provider returns one fixed response for every call, so the
	// extraction call (the second Complete invocation) receives the same
	// finalize-shaped text. parseExtractionResult correctly rejects it (no
	// valid JSON object) without erroring the whole finalize pass.
	llmMock := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "---SESSION_SUMMARY---\nThey met a new NPC named Old Man Higgins and a stranger named Vex.\n---CAMPAIGN_SUMMARY---\nCampaign continues.",
	}}
	sum := New(b, llmMock, storage, testSession, newTestCampaign(), Config{})
	sum.Start(context.Background())

	_, err := sum.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if len(llmMock.CompleteCalls) != 2 {
		t.Fatalf("expected finalize + extraction calls = 2, got %d", len(llmMock.CompleteCalls))
	}
	if len(storage.savedNPCs) != 0 {
		t.Fatalf("expected no NPCs saved from unparsable extraction response, got %v", storage.savedNPCs)
	}
}

// TestParseExtractionResult_DefensiveParsing exercises the defensive JSON
// parsing directly: prose wrapped around a valid object must still parse.
func TestParseExtractionResult_DefensiveParsing(t *testing.T) {
	content := "Here you go:\n{\"npcs\": [{\"name\": \"Vex\", \"description\": \"a stranger\"}], \"locations\": [\"The Sunken Vault\"]}\nHope that helps!"
	result, ok := parseExtractionResult(content)
	if !ok {
		t.Fatalf("expected successful parse")
	}
	if len(result.NPCs) != 1 || result.NPCs[0].Name != "Vex" {
		t.Fatalf("unexpected npcs: %+v", result.NPCs)
	}
	if len(result.Locations) != 1 || result.Locations[0] != "The Sunken Vault" {
		t.Fatalf("unexpected locations: %+v", result.Locations)
	}
}

func TestParseExtractionResult_NoJSONObject(t *testing.T) {
	if _, ok := parseExtractionResult("no json here"); ok {
		t.Fatalf("expected parse failure for content with no braces")
	}
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errTerminal = staticErr("terminal failure")
