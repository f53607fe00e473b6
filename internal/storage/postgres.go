package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpgscribe/rpgscribe/internal/campaign"
)

// Schema is the SQL DDL for the gateway's five tables: campaigns, sessions,
// transcriptions, npcs, questions.
const Schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    game_system         TEXT NOT NULL DEFAULT '',
    language            TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    campaign_summary    TEXT NOT NULL DEFAULT '',
    speaker_map         JSONB NOT NULL DEFAULT '{}',
    dm_speaker_id       TEXT NOT NULL DEFAULT '',
    custom_instructions TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    campaign_id     TEXT NOT NULL REFERENCES campaigns(id),
    started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at        TIMESTAMPTZ,
    session_summary TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_sessions_campaign ON sessions(campaign_id);

CREATE TABLE IF NOT EXISTS transcriptions (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    speaker_id   TEXT NOT NULL,
    speaker_name TEXT NOT NULL,
    text         TEXT NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_ingame    BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_session ON transcriptions(session_id, timestamp);

CREATE TABLE IF NOT EXISTS npcs (
    id                  BIGSERIAL PRIMARY KEY,
    campaign_id         TEXT NOT NULL REFERENCES campaigns(id),
    name                TEXT NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    first_seen_session  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_npcs_campaign ON npcs(campaign_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_npcs_campaign_name ON npcs(campaign_id, name);

CREATE TABLE IF NOT EXISTS questions (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    question     TEXT NOT NULL,
    answer       TEXT NOT NULL DEFAULT '',
    answered_at  TIMESTAMPTZ,
    status       TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_questions_session_status ON questions(session_id, status);
`

// DB is the database interface used by [PostgresGateway]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresGateway is a [Gateway] backed by PostgreSQL.
type PostgresGateway struct {
	db DB
}

var _ Gateway = (*PostgresGateway)(nil)

// NewPostgresGateway creates a PostgresGateway over db. Call [PostgresGateway.Migrate]
// before issuing queries.
func NewPostgresGateway(db DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// Migrate executes [Schema] against the database.
func (g *PostgresGateway) Migrate(ctx context.Context) error {
	if _, err := g.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// --- Campaigns ---

func (g *PostgresGateway) UpsertCampaign(ctx context.Context, c Campaign) error {
	speakerMapJSON, err := json.Marshal(emptyMap(c.SpeakerMap))
	if err != nil {
		return fmt.Errorf("storage: marshal speaker_map: %w", err)
	}

	const query = `
		INSERT INTO campaigns (
			id, name, game_system, language, description, campaign_summary,
			speaker_map, dm_speaker_id, custom_instructions, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			game_system = EXCLUDED.game_system,
			language = EXCLUDED.language,
			description = EXCLUDED.description,
			campaign_summary = EXCLUDED.campaign_summary,
			speaker_map = EXCLUDED.speaker_map,
			dm_speaker_id = EXCLUDED.dm_speaker_id,
			custom_instructions = EXCLUDED.custom_instructions,
			updated_at = now()`

	_, err = g.db.Exec(ctx, query,
		c.ID, c.Name, c.GameSystem, c.Language, c.Description, c.CampaignSummary,
		speakerMapJSON, c.DMSpeakerID, c.CustomInstructions,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert_campaign: %w", err)
	}
	return nil
}

func (g *PostgresGateway) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	const query = `
		SELECT id, name, game_system, language, description, campaign_summary,
		       speaker_map, dm_speaker_id, custom_instructions, created_at, updated_at
		FROM campaigns WHERE id = $1`

	var c Campaign
	var speakerMapJSON []byte
	err := g.db.QueryRow(ctx, query, campaignID).Scan(
		&c.ID, &c.Name, &c.GameSystem, &c.Language, &c.Description, &c.CampaignSummary,
		&speakerMapJSON, &c.DMSpeakerID, &c.CustomInstructions, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get_campaign %q: %w", campaignID, err)
	}
	if err := json.Unmarshal(speakerMapJSON, &c.SpeakerMap); err != nil {
		return nil, fmt.Errorf("storage: unmarshal speaker_map: %w", err)
	}
	return &c, nil
}

func (g *PostgresGateway) UpdateCampaignSummary(ctx context.Context, campaignID, summary string) error {
	const query = `UPDATE campaigns SET campaign_summary = $2, updated_at = now() WHERE id = $1`
	if _, err := g.db.Exec(ctx, query, campaignID, summary); err != nil {
		return fmt.Errorf("storage: update_campaign_summary %q: %w", campaignID, err)
	}
	return nil
}

// --- Sessions ---

func (g *PostgresGateway) CreateSession(ctx context.Context, s Session) error {
	status := s.Status
	if status == "" {
		status = SessionActive
	}
	startedAt := s.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	const query = `
		INSERT INTO sessions (id, campaign_id, started_at, status)
		VALUES ($1, $2, $3, $4)`
	_, err := g.db.Exec(ctx, query, s.ID, s.CampaignID, startedAt, status)
	if err != nil {
		return fmt.Errorf("storage: create_session %q: %w", s.ID, err)
	}
	return nil
}

func (g *PostgresGateway) EndSession(ctx context.Context, sessionID, summary string) error {
	const query = `
		UPDATE sessions SET ended_at = now(), session_summary = $2, status = $3
		WHERE id = $1`
	_, err := g.db.Exec(ctx, query, sessionID, summary, SessionCompleted)
	if err != nil {
		return fmt.Errorf("storage: end_session %q: %w", sessionID, err)
	}
	return nil
}

func (g *PostgresGateway) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	const query = `
		SELECT id, campaign_id, started_at, ended_at, session_summary, status
		FROM sessions WHERE id = $1`

	var s Session
	var status string
	err := g.db.QueryRow(ctx, query, sessionID).Scan(
		&s.ID, &s.CampaignID, &s.StartedAt, &s.EndedAt, &s.SessionSummary, &status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get_session %q: %w", sessionID, err)
	}
	s.Status = SessionStatus(status)
	return &s, nil
}

func (g *PostgresGateway) ListSessions(ctx context.Context, campaignID string) ([]Session, error) {
	const query = `
		SELECT id, campaign_id, started_at, ended_at, session_summary, status
		FROM sessions WHERE campaign_id = $1 ORDER BY started_at DESC`

	rows, err := g.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("storage: list_sessions %q: %w", campaignID, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var status string
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.StartedAt, &s.EndedAt, &s.SessionSummary, &status); err != nil {
			return nil, fmt.Errorf("storage: list_sessions scan: %w", err)
		}
		s.Status = SessionStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list_sessions: %w", err)
	}
	return out, nil
}

// --- Transcriptions ---

func (g *PostgresGateway) SaveTranscription(ctx context.Context, t TranscriptionRecord) (int64, error) {
	const query = `
		INSERT INTO transcriptions (session_id, speaker_id, speaker_name, text, timestamp, confidence, is_ingame)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`

	var id int64
	err := g.db.QueryRow(ctx, query,
		t.SessionID, t.SpeakerID, t.SpeakerName, t.Text, t.Timestamp, t.Confidence, t.IsInGame,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: save_transcription: %w", err)
	}
	return id, nil
}

func (g *PostgresGateway) GetTranscriptions(ctx context.Context, sessionID string) ([]TranscriptionRecord, error) {
	const query = `
		SELECT id, session_id, speaker_id, speaker_name, text, timestamp, confidence, is_ingame
		FROM transcriptions WHERE session_id = $1 ORDER BY timestamp ASC`

	rows, err := g.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: get_transcriptions %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []TranscriptionRecord
	for rows.Next() {
		var t TranscriptionRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SpeakerID, &t.SpeakerName, &t.Text, &t.Timestamp, &t.Confidence, &t.IsInGame); err != nil {
			return nil, fmt.Errorf("storage: get_transcriptions scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get_transcriptions: %w", err)
	}
	return out, nil
}

// --- NPCs ---

// SaveNPC inserts an NPC, recording the session it was first seen in.
// Populated by the summarizer's finalize-time entity extraction.
func (g *PostgresGateway) SaveNPC(ctx context.Context, campaignID string, npc campaign.NPC, firstSeenSession string) error {
	const query = `
		INSERT INTO npcs (campaign_id, name, description, first_seen_session)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_id, name) DO NOTHING`
	_, err := g.db.Exec(ctx, query, campaignID, npc.Name, npc.Description, firstSeenSession)
	if err != nil {
		return fmt.Errorf("storage: save_npc %q: %w", npc.Name, err)
	}
	return nil
}

func (g *PostgresGateway) GetNPCs(ctx context.Context, campaignID string) ([]campaign.NPC, error) {
	const query = `SELECT name, description FROM npcs WHERE campaign_id = $1 ORDER BY name`

	rows, err := g.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("storage: get_npcs %q: %w", campaignID, err)
	}
	defer rows.Close()

	var out []campaign.NPC
	for rows.Next() {
		var n campaign.NPC
		if err := rows.Scan(&n.Name, &n.Description); err != nil {
			return nil, fmt.Errorf("storage: get_npcs scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get_npcs: %w", err)
	}
	return out, nil
}

func (g *PostgresGateway) NPCExists(ctx context.Context, campaignID, name string) (bool, error) {
	const query = `SELECT 1 FROM npcs WHERE campaign_id = $1 AND name = $2 LIMIT 1`
	var x int
	err := g.db.QueryRow(ctx, query, campaignID, name).Scan(&x)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("storage: npc_exists %q: %w", name, err)
	}
	return true, nil
}

// --- Questions ---

func (g *PostgresGateway) SaveQuestion(ctx context.Context, sessionID, text string) (int64, error) {
	const query = `
		INSERT INTO questions (session_id, question, status)
		VALUES ($1, $2, $3)
		RETURNING id`
	var id int64
	err := g.db.QueryRow(ctx, query, sessionID, text, campaign.QuestionPending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: save_question: %w", err)
	}
	return id, nil
}

func (g *PostgresGateway) AnswerQuestion(ctx context.Context, id int64, answer string) error {
	const query = `
		UPDATE questions SET answer = $2, answered_at = now(), status = $3
		WHERE id = $1`
	_, err := g.db.Exec(ctx, query, id, answer, campaign.QuestionAnswered)
	if err != nil {
		return fmt.Errorf("storage: answer_question %d: %w", id, err)
	}
	return nil
}

func (g *PostgresGateway) GetPendingQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error) {
	return g.getQuestionsByStatus(ctx, sessionID, campaign.QuestionPending)
}

func (g *PostgresGateway) GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]campaign.Question, error) {
	return g.getQuestionsByStatus(ctx, sessionID, campaign.QuestionAnswered)
}

func (g *PostgresGateway) getQuestionsByStatus(ctx context.Context, sessionID string, status campaign.QuestionStatus) ([]campaign.Question, error) {
	const query = `
		SELECT id, session_id, question, answer, status
		FROM questions WHERE session_id = $1 AND status = $2
		ORDER BY id ASC`

	rows, err := g.db.Query(ctx, query, sessionID, status)
	if err != nil {
		return nil, fmt.Errorf("storage: get_questions(%s) %q: %w", status, sessionID, err)
	}
	defer rows.Close()

	var out []campaign.Question
	for rows.Next() {
		var q campaign.Question
		var qStatus string
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Text, &q.Answer, &qStatus); err != nil {
			return nil, fmt.Errorf("storage: get_questions scan: %w", err)
		}
		q.Status = campaign.QuestionStatus(qStatus)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get_questions: %w", err)
	}
	return out, nil
}

func (g *PostgresGateway) MarkQuestionsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE questions SET status = $1 WHERE id = ANY($2)`
	_, err := g.db.Exec(ctx, query, campaign.QuestionProcessed, ids)
	if err != nil {
		return fmt.Errorf("storage: mark_questions_processed: %w", err)
	}
	return nil
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
