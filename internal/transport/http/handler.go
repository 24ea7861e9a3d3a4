package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"boss-battle-service/internal/app"
	"boss-battle-service/internal/domain"
)

// Handler exposes the battle engine over REST. The caller's identity arrives
// in X-User-Id and X-User-Role headers; authentication itself happens
// upstream at the gateway.
type Handler struct {
	service *app.BattleService
	log     *slog.Logger
}

func NewHandler(service *app.BattleService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/battles", h.createBattle).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}", h.getBattle).Methods(http.MethodGet)
	r.HandleFunc("/classes/{classId}/battles", h.listByClass).Methods(http.MethodGet)
	r.HandleFunc("/templates/{templateId}/battles", h.listByTemplate).Methods(http.MethodGet)

	r.HandleFunc("/battles/{id}/lobby", h.openLobby).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/join", h.join).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/spectate", h.spectate).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/leave", h.leave).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/kick", h.kick).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/participants", h.listParticipants).Methods(http.MethodGet)

	r.HandleFunc("/battles/{id}/start", h.startCountdown).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/advance", h.advance).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/next-guild", h.selectNextGuild).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/abort", h.abort).Methods(http.MethodPost)

	r.HandleFunc("/battles/{id}/attempts", h.submit).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/attempts", h.listAttempts).Methods(http.MethodGet)
	r.HandleFunc("/battles/{id}/plan", h.getPlan).Methods(http.MethodGet)
	r.HandleFunc("/battles/{id}/snapshot", h.createSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/snapshot", h.getSnapshot).Methods(http.MethodGet)

	r.HandleFunc("/battles/{id}/results", h.computeResults).Methods(http.MethodPost)
	r.HandleFunc("/battles/{id}/results", h.getResults).Methods(http.MethodGet)
	r.HandleFunc("/students/{studentId}/results", h.listStudentResults).Methods(http.MethodGet)
	r.HandleFunc("/students/{studentId}/attempts", h.listStudentAttempts).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return r
}

func principal(r *http.Request) (domain.Principal, bool) {
	p := domain.Principal{
		ID:   r.Header.Get("X-User-Id"),
		Role: domain.Role(r.Header.Get("X-User-Role")),
	}
	if p.ID == "" || (p.Role != domain.RoleTeacher && p.Role != domain.RoleStudent) {
		return domain.Principal{}, false
	}
	return p, true
}

type createBattleRequest struct {
	ClassID       string  `json:"classId"`
	TemplateID    string  `json:"templateId"`
	Mode          string  `json:"mode"`
	SelectionMode string  `json:"selectionMode"`
	TurnPolicy    string  `json:"turnPolicy"`
	Seed          string  `json:"seed"`
	BossHP        int     `json:"bossHp"`
	SpeedBonus    bool    `json:"speedBonus"`
	FloorMult     float64 `json:"floorMultiplier"`
	StudentHearts int     `json:"studentHearts"`
	GuildHearts   int     `json:"guildHearts"`
	CountdownSec  int     `json:"countdownSeconds"`
	QuestionSec   int     `json:"questionSeconds"`
	IntermSec     int     `json:"intermissionSeconds"`
	AntiSpamMs    int     `json:"antiSpamMinIntervalMs"`
	FreezeSec     int     `json:"freezeOnWrongSeconds"`
}

func (h *Handler) createBattle(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	battle, err := h.service.CreateBattle(r.Context(), p, app.CreateBattleInput{
		ClassID:               req.ClassID,
		TemplateID:            req.TemplateID,
		Mode:                  domain.BattleMode(req.Mode),
		SelectionMode:         domain.SelectionMode(req.SelectionMode),
		TurnPolicy:            domain.TurnPolicy(req.TurnPolicy),
		Seed:                  req.Seed,
		BossHP:                req.BossHP,
		SpeedBonus:            req.SpeedBonus,
		FloorMultiplier:       req.FloorMult,
		StudentHearts:         req.StudentHearts,
		GuildHearts:           req.GuildHearts,
		CountdownSeconds:      req.CountdownSec,
		QuestionSeconds:       req.QuestionSec,
		IntermissionSeconds:   req.IntermSec,
		AntiSpamMinIntervalMs: req.AntiSpamMs,
		FreezeOnWrongSeconds:  req.FreezeSec,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, battle)
}

func (h *Handler) getBattle(w http.ResponseWriter, r *http.Request) {
	battle, err := h.service.GetBattle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battle)
}

type battlePage struct {
	Battles    []*domain.Battle `json:"battles"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

func (h *Handler) listByClass(w http.ResponseWriter, r *http.Request) {
	battles, next, err := h.service.ListByClass(r.Context(), mux.Vars(r)["classId"], r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battlePage{Battles: battles, NextCursor: next})
}

func (h *Handler) listByTemplate(w http.ResponseWriter, r *http.Request) {
	battles, next, err := h.service.ListByTemplate(r.Context(), mux.Vars(r)["templateId"], r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battlePage{Battles: battles, NextCursor: next})
}

func (h *Handler) openLobby(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	battle, err := h.service.OpenLobby(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battle)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req struct {
		GuildID string `json:"guildId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	participant, err := h.service.Join(r.Context(), p, mux.Vars(r)["id"], req.GuildID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participant)
}

func (h *Handler) spectate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	participant, err := h.service.Spectate(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participant)
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	participant, err := h.service.Leave(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participant)
}

func (h *Handler) kick(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req struct {
		StudentID string `json:"studentId"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	participant, err := h.service.Kick(r.Context(), p, mux.Vars(r)["id"], req.StudentID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participant)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.ListParticipants(r.Context(), mux.Vars(r)["id"],
		domain.ParticipantState(r.URL.Query().Get("state")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"participants": participants})
}

func (h *Handler) startCountdown(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	battle, err := h.service.StartCountdown(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battle)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	battle, err := h.service.Advance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battle)
}

func (h *Handler) selectNextGuild(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req struct {
		GuildID string `json:"guildId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	battle, err := h.service.SelectNextGuild(r.Context(), p, mux.Vars(r)["id"], req.GuildID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battle)
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for abort.
	_ = json.NewDecoder(r.Body).Decode(&req)
	battle, err := h.service.Abort(r.Context(), p, mux.Vars(r)["id"], domain.FailReason(req.Reason))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, battle)
}

type submitRequest struct {
	AttemptID       string `json:"attemptId"`
	QuestionID      string `json:"questionId"`
	Answer          string `json:"answer"`
	ClientElapsedMs int64  `json:"clientElapsedMs"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	outcome, err := h.service.Submit(r.Context(), p, app.SubmitInput{
		AttemptID:       req.AttemptID,
		BattleID:        mux.Vars(r)["id"],
		QuestionID:      req.QuestionID,
		StudentID:       p.ID,
		Answer:          req.Answer,
		ClientElapsedMs: req.ClientElapsedMs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, outcome)
}

type attemptPage struct {
	Attempts   []*domain.AnswerAttempt `json:"attempts"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, next, err := h.service.ListAttemptsByBattle(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, attemptPage{Attempts: attempts, NextCursor: next})
}

func (h *Handler) listStudentAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, next, err := h.service.ListAttemptsByStudent(r.Context(), mux.Vars(r)["studentId"], r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, attemptPage{Attempts: attempts, NextCursor: next})
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	plan, err := h.service.GetPlan(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	snap, err := h.service.CreateSnapshot(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) computeResults(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	meta, err := h.service.ComputeResults(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, meta)
}

type resultsResponse struct {
	Meta     *domain.ResultMeta      `json:"meta"`
	Students []*domain.StudentResult `json:"students"`
	Guilds   []*domain.GuildResult   `json:"guilds"`
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	meta, students, guilds, err := h.service.GetResults(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resultsResponse{Meta: meta, Students: students, Guilds: guilds})
}

type studentResultPage struct {
	Results    []*domain.StudentResult `json:"results"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

func (h *Handler) listStudentResults(w http.ResponseWriter, r *http.Request) {
	results, next, err := h.service.ListStudentResults(r.Context(), mux.Vars(r)["studentId"], r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, studentResultPage{Results: results, NextCursor: next})
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the domain error categories onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid X-User-Id / X-User-Role"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write response", "err", err)
	}
}
