// Package events defines the typed payloads that flow across the event bus.
//
// Every event carries a SessionID so handlers can filter out events that
// belong to a different recording session.
package events

import "time"

// AudioChunk is emitted by the audio segmenter when a per-speaker buffer
// crosses one of its emission thresholds.
type AudioChunk struct {
	SessionID   string
	SpeakerID   string
	SpeakerName string
	PCM         []byte // 16-bit LE, mono, 48kHz
	StartTS     time.Time
	DurationMS  int
	Source      string
}

// Transcription is emitted by the transcription worker once STT returns
// text for an AudioChunk.
type Transcription struct {
	SessionID   string
	SpeakerID   string
	SpeakerName string
	Text        string
	Timestamp   time.Time
	Confidence  float64
	IsPartial   bool
}

// SummaryUpdateType classifies a SummaryUpdate event.
type SummaryUpdateType string

const (
	SummaryIncremental SummaryUpdateType = "incremental"
	SummaryRevision    SummaryUpdateType = "revision"
	SummaryFinal       SummaryUpdateType = "final"
)

// SummaryUpdate is emitted by the summarizer whenever the session or
// campaign summary changes.
type SummaryUpdate struct {
	SessionID       string
	SessionSummary  string
	CampaignSummary string
	LastUpdated     time.Time
	UpdateType      SummaryUpdateType
}

// SystemStatusLevel classifies a SystemStatus event.
type SystemStatusLevel string

const (
	StatusRunning SystemStatusLevel = "running"
	StatusIdle    SystemStatusLevel = "idle"
	StatusError   SystemStatusLevel = "error"
)

// SystemStatus reports component health for operator visibility. It is
// consumed by the admin HTTP surface only; no component translates it back
// into control flow.
type SystemStatus struct {
	Component string
	Status    SystemStatusLevel
	Message   string
	Timestamp time.Time
}
