// Package admin implements the administrative web surface: a thin REST
// layer over the storage gateway plus a live event stream that mirrors the
// event bus to connected operators. Every payload here is derived
// mechanically from events already defined in internal/events — this
// package adds no new domain semantics of its own.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/session"
	"github.com/rpgscribe/rpgscribe/internal/storage"
)

// Handler serves the admin REST API and live event stream. It is safe for
// concurrent use.
type Handler struct {
	gw   storage.Gateway
	orch *session.Orchestrator
	hub  *hub
}

// New creates a Handler backed by gw for read queries and orch for session
// lifecycle and question-answer mutations. orch may be nil if this surface
// is deployed read-only (e.g. pointed at a replica).
func New(gw storage.Gateway, orch *session.Orchestrator) *Handler {
	return &Handler{gw: gw, orch: orch, hub: newHub()}
}

// Register adds every admin route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/campaigns/{id}", h.getCampaign)
	mux.HandleFunc("GET /api/campaigns/{id}/npcs", h.listNPCs)
	mux.HandleFunc("GET /api/campaigns/{id}/sessions", h.listSessions)

	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("GET /api/sessions/{id}/transcriptions", h.listTranscriptions)
	mux.HandleFunc("GET /api/sessions/{id}/questions", h.listPendingQuestions)
	mux.HandleFunc("GET /api/sessions/{id}/events", h.streamSSE)

	mux.HandleFunc("POST /api/sessions/start", h.startSession)
	mux.HandleFunc("POST /api/sessions/stop", h.stopSession)
	mux.HandleFunc("POST /api/questions/{id}/answer", h.answerQuestion)

	mux.HandleFunc("GET /ws", h.streamWS)
}

// AttachBus wires the handler's stream hub to b. Call this once at startup
// alongside Register; it is separated from New so tests can construct a
// Handler without a live bus when they only exercise the REST surface.
func (h *Handler) AttachBus(b *bus.Bus) {
	h.hub.attach(b)
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := h.gw.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, errors.New("campaign not found"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) listNPCs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	npcs, err := h.gw.GetNPCs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, npcs)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sessions, err := h.gw.ListSessions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.gw.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) listTranscriptions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.gw.GetTranscriptions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// listPendingQuestions returns the questions the summarizer has raised for
// this session that nobody has answered yet — the operator's to-do list.
func (h *Handler) listPendingQuestions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	qs, err := h.gw.GetPendingQuestions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

type startSessionRequest struct {
	ChannelID string `json:"channel_id"`
	StartedBy string `json:"started_by"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("session control is not available on this surface"))
		return
	}
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel_id is required"))
		return
	}
	if err := h.orch.Start(r.Context(), req.ChannelID, req.StartedBy); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Info())
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("session control is not available on this surface"))
		return
	}
	summary, err := h.orch.Stop(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_summary": summary})
}

type answerQuestionRequest struct {
	Text string `json:"text"`
}

func (h *Handler) answerQuestion(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid question id"))
		return
	}
	var req answerQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	var answerErr error
	if h.orch != nil {
		answerErr = h.orch.AnswerQuestion(r.Context(), id, req.Text)
	} else {
		answerErr = h.gw.AnswerQuestion(r.Context(), id, req.Text)
	}
	if answerErr != nil {
		writeError(w, http.StatusInternalServerError, answerErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── JSON helpers ─────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
