package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boss-battle-service/internal/app"
	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/infra/memory"
	memstore "boss-battle-service/internal/store/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	loader := memory.NewStaticTemplateLoader(map[string]domain.BattleTemplate{
		"t1": {
			ID:     "t1",
			BossHP: 100,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Order:  1,
					Format: domain.FormatMultipleChoice,
					Options: []domain.Option{
						{ID: "o1", Correct: false},
						{ID: "o2", Correct: true},
					},
					DamageToBoss: 30,
				},
			},
		},
	})
	templates := memory.NewTemplateRepository(loader, time.Minute)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaults := app.BattleDefaults{
		CountdownSeconds:      5,
		QuestionSeconds:       30,
		IntermissionSeconds:   8,
		AntiSpamMinIntervalMs: 2000,
		FreezeOnWrongSeconds:  3,
		FloorMultiplier:       0.5,
		StudentHearts:         3,
		GuildHearts:           5,
	}
	service := app.NewBattleService(memstore.New(), templates, nil, defaults, log, nil)
	return NewHandler(service, log).Router()
}

func doJSON(t *testing.T, router http.Handler, method, path, userID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(context.Background())
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRequiresIdentity(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/battles", "", "", map[string]string{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/battles", "s1", "STUDENT", map[string]interface{}{
		"classId": "c1", "templateId": "t1", "mode": "SIMULTANEOUS_ALL", "selectionMode": "ORDERED",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student create, got %d", rec.Code)
	}
}

func TestCreateAndFetchBattle(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/battles", "t1", "TEACHER", map[string]interface{}{
		"classId": "c1", "templateId": "t1", "mode": "SIMULTANEOUS_ALL", "selectionMode": "ORDERED",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var battle domain.Battle
	if err := json.Unmarshal(rec.Body.Bytes(), &battle); err != nil {
		t.Fatalf("decode battle: %v", err)
	}
	if battle.ID == "" || battle.Status != domain.StatusDraft {
		t.Fatalf("unexpected battle: %+v", battle)
	}

	rec = doJSON(t, router, http.MethodGet, "/battles/"+battle.ID, "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/battles/does-not-exist", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestErrorTaxonomyMapping(t *testing.T) {
	router := newTestRouter(t)

	// Unknown mode -> validation -> 400.
	rec := doJSON(t, router, http.MethodPost, "/battles", "t1", "TEACHER", map[string]interface{}{
		"classId": "c1", "templateId": "t1", "mode": "NOPE", "selectionMode": "ORDERED",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mode, got %d", rec.Code)
	}

	// Create then open lobby twice: the second is a state conflict -> 409.
	rec = doJSON(t, router, http.MethodPost, "/battles", "t1", "TEACHER", map[string]interface{}{
		"classId": "c1", "templateId": "t1", "mode": "SIMULTANEOUS_ALL", "selectionMode": "ORDERED",
	})
	var battle domain.Battle
	_ = json.Unmarshal(rec.Body.Bytes(), &battle)

	rec = doJSON(t, router, http.MethodPost, "/battles/"+battle.ID+"/lobby", "t1", "TEACHER", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 opening lobby, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/battles/"+battle.ID+"/lobby", "t1", "TEACHER", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double open, got %d", rec.Code)
	}

	// Another teacher touching the battle -> 403.
	rec = doJSON(t, router, http.MethodPost, "/battles/"+battle.ID+"/start", "t2", "TEACHER", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign teacher, got %d", rec.Code)
	}
}

func TestJoinAndParticipants(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/battles", "t1", "TEACHER", map[string]interface{}{
		"classId": "c1", "templateId": "t1", "mode": "SIMULTANEOUS_ALL", "selectionMode": "ORDERED",
	})
	var battle domain.Battle
	_ = json.Unmarshal(rec.Body.Bytes(), &battle)
	_ = doJSON(t, router, http.MethodPost, "/battles/"+battle.ID+"/lobby", "t1", "TEACHER", nil)

	rec = doJSON(t, router, http.MethodPost, "/battles/"+battle.ID+"/join", "s1", "STUDENT", map[string]string{"guildId": "g1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 join, got %d body=%s", rec.Code, rec.Body.String())
	}
	var p domain.Participant
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode participant: %v", err)
	}
	if p.State != domain.ParticipantJoined || p.GuildID != "g1" {
		t.Fatalf("unexpected participant: %+v", p)
	}

	rec = doJSON(t, router, http.MethodGet, "/battles/"+battle.ID+"/participants?state=JOINED", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 list, got %d", rec.Code)
	}
	var page struct {
		Participants []domain.Participant `json:"participants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(page.Participants) != 1 {
		t.Fatalf("expected one participant, got %d", len(page.Participants))
	}
}
