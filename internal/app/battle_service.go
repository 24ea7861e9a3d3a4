package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/store"
)

// TemplateRepository loads boss-battle templates (from cache/backing store).
type TemplateRepository interface {
	GetTemplate(ctx context.Context, templateID string) (domain.BattleTemplate, error)
}

// BattleDefaults are the configured fallbacks applied when a create request
// leaves a knob unset.
type BattleDefaults struct {
	CountdownSeconds         int
	QuestionSeconds          int
	IntermissionSeconds      int
	AntiSpamMinIntervalMs    int
	FreezeOnWrongSeconds     int
	FloorMultiplier          float64
	StudentHearts            int
	GuildHearts              int
	NextGuildFallbackSeconds int
}

// BattleService owns the battle lifecycle state machine and orchestrates the
// registry, plan generator, snapshot service, attempt ledger and results
// aggregator. Every transition is a conditional write keyed on the current
// status: concurrent racers produce one winner and one harmless no-op.
type BattleService struct {
	store     store.Store
	templates TemplateRepository
	registry  *ParticipantRegistry
	plans     *PlanGenerator
	snapshots *SnapshotService
	ledger    *AttemptLedger
	results   *ResultsAggregator
	defaults  BattleDefaults
	log       *slog.Logger
	now       func() time.Time

	randMu    sync.Mutex
	randIndex func(n int) int
}

func NewBattleService(st store.Store, templates TemplateRepository, grader Grader, defaults BattleDefaults, log *slog.Logger, now func() time.Time) *BattleService {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	registry := NewParticipantRegistry(st, now)
	ledger := NewAttemptLedger(st, registry, grader, now)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &BattleService{
		store:     st,
		templates: templates,
		registry:  registry,
		plans:     NewPlanGenerator(st, now),
		snapshots: NewSnapshotService(st, registry, now),
		ledger:    ledger,
		results:   NewResultsAggregator(st, ledger, now),
		defaults:  defaults,
		log:       log,
		now:       now,
		randIndex: rnd.Intn,
	}
}

// CreateBattleInput carries the teacher's create request. Zero values fall
// back to the configured defaults.
type CreateBattleInput struct {
	ClassID       string
	TemplateID    string
	Mode          domain.BattleMode
	SelectionMode domain.SelectionMode
	TurnPolicy    domain.TurnPolicy
	Seed          string
	BossHP        int
	SpeedBonus    bool

	FloorMultiplier       float64
	StudentHearts         int
	GuildHearts           int
	CountdownSeconds      int
	QuestionSeconds       int
	IntermissionSeconds   int
	AntiSpamMinIntervalMs int
	FreezeOnWrongSeconds  int
}

// CreateBattle validates the request against the template and writes a new
// battle in DRAFT.
func (s *BattleService) CreateBattle(ctx context.Context, p domain.Principal, in CreateBattleInput) (*domain.Battle, error) {
	if err := requireTeacher(p); err != nil {
		return nil, err
	}
	if in.ClassID == "" || in.TemplateID == "" {
		return nil, fmt.Errorf("%w: class id and template id are required", domain.ErrValidation)
	}
	if !in.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown battle mode %q", domain.ErrValidation, in.Mode)
	}
	if !in.SelectionMode.Valid() {
		return nil, fmt.Errorf("%w: unknown selection mode %q", domain.ErrValidation, in.SelectionMode)
	}
	if in.Mode == domain.ModeTurnBasedGuild {
		if in.TurnPolicy == "" {
			in.TurnPolicy = domain.TurnRoundRobin
		}
		if !in.TurnPolicy.Valid() {
			return nil, fmt.Errorf("%w: unknown turn policy %q", domain.ErrValidation, in.TurnPolicy)
		}
	}

	template, err := s.templates.GetTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	if len(template.Questions) == 0 {
		return nil, fmt.Errorf("%w: template %q has no questions", domain.ErrValidation, in.TemplateID)
	}

	bossHP := in.BossHP
	if bossHP <= 0 {
		bossHP = template.BossHP
	}
	if bossHP <= 0 {
		return nil, fmt.Errorf("%w: boss hp must be positive", domain.ErrValidation)
	}

	now := s.now()
	b := &domain.Battle{
		ID:            uuid.NewString(),
		ClassID:       in.ClassID,
		TemplateID:    in.TemplateID,
		TeacherID:     p.ID,
		Status:        domain.StatusDraft,
		Mode:          in.Mode,
		SelectionMode: in.SelectionMode,
		TurnPolicy:    in.TurnPolicy,
		InitialBossHP: bossHP,
		CurrentBossHP: bossHP,
		SpeedBonus:    in.SpeedBonus,
		Seed:          in.Seed,
		CreatedAt:     now,
		UpdatedAt:     now,

		FloorMultiplier:       defaultFloat(in.FloorMultiplier, s.defaults.FloorMultiplier),
		StudentHearts:         defaultInt(in.StudentHearts, s.defaults.StudentHearts),
		GuildHearts:           defaultInt(in.GuildHearts, s.defaults.GuildHearts),
		CountdownSeconds:      defaultInt(in.CountdownSeconds, s.defaults.CountdownSeconds),
		QuestionSeconds:       defaultInt(in.QuestionSeconds, s.defaults.QuestionSeconds),
		IntermissionSeconds:   defaultInt(in.IntermissionSeconds, s.defaults.IntermissionSeconds),
		AntiSpamMinIntervalMs: defaultInt(in.AntiSpamMinIntervalMs, s.defaults.AntiSpamMinIntervalMs),
		FreezeOnWrongSeconds:  defaultInt(in.FreezeOnWrongSeconds, s.defaults.FreezeOnWrongSeconds),
	}
	if b.Seed == "" {
		b.Seed = uuid.NewString()
	}

	rec, err := encodeBattle(b)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutIfAbsent(ctx, rec); err != nil {
		return nil, err
	}

	// Listing indexes; pointer rows resolved on read.
	ts := now.UnixMilli()
	ptr := map[string]string{fieldRefID: b.ID}
	_ = s.store.Put(ctx, store.Record{PK: classBattlePK(b.ClassID), SK: timelineSK(ts, b.ID), Fields: ptr})
	_ = s.store.Put(ctx, store.Record{PK: templateBattlePK(b.TemplateID), SK: timelineSK(ts, b.ID), Fields: ptr})

	s.log.Info("battle created", "battle", b.ID, "class", b.ClassID, "mode", b.Mode)
	return b, nil
}

// GetBattle loads a battle by id.
func (s *BattleService) GetBattle(ctx context.Context, battleID string) (*domain.Battle, error) {
	rec, err := s.store.Get(ctx, battlePK(battleID), battleStateSK)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrBattleNotFound
		}
		return nil, err
	}
	return decodeBattle(rec)
}

// ListByClass pages a class's battles, newest first.
func (s *BattleService) ListByClass(ctx context.Context, classID, cursor string, limit int) ([]*domain.Battle, string, error) {
	return s.listByIndex(ctx, classBattlePK(classID), cursor, limit)
}

// ListByTemplate pages a template's battles, newest first.
func (s *BattleService) ListByTemplate(ctx context.Context, templateID, cursor string, limit int) ([]*domain.Battle, string, error) {
	return s.listByIndex(ctx, templateBattlePK(templateID), cursor, limit)
}

func (s *BattleService) listByIndex(ctx context.Context, pk, cursor string, limit int) ([]*domain.Battle, string, error) {
	recs, next, err := s.store.List(ctx, pk, store.Query{Cursor: cursor, Limit: limit, Descending: true})
	if err != nil {
		return nil, "", err
	}
	battles := make([]*domain.Battle, 0, len(recs))
	for _, rec := range recs {
		b, err := s.GetBattle(ctx, rec.Fields[fieldRefID])
		if err != nil {
			if errors.Is(err, domain.ErrBattleNotFound) {
				continue
			}
			return nil, "", err
		}
		battles = append(battles, b)
	}
	return battles, next, nil
}

// OpenLobby moves DRAFT to LOBBY.
func (s *BattleService) OpenLobby(ctx context.Context, p domain.Principal, battleID string) (*domain.Battle, error) {
	b, err := s.ownedBattle(ctx, p, battleID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(b.Status, domain.StatusLobby) {
		return nil, domain.ErrInvalidTransition
	}
	from := b.Status
	b.Status = domain.StatusLobby
	b.LobbyOpenedAt = s.now()
	if err := s.saveTransition(ctx, b, from); err != nil {
		return nil, err
	}
	return b, nil
}

// Join adds the calling student to the lobby.
func (s *BattleService) Join(ctx context.Context, p domain.Principal, battleID, guildID string) (*domain.Participant, error) {
	b, err := s.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.StatusLobby {
		return nil, domain.ErrLobbyClosed
	}
	return s.registry.Join(ctx, battleID, p.ID, guildID, b.StudentHearts)
}

// Spectate flips the calling student to spectator.
func (s *BattleService) Spectate(ctx context.Context, p domain.Principal, battleID string) (*domain.Participant, error) {
	return s.registry.Spectate(ctx, battleID, p.ID)
}

// Leave marks the calling student as having left.
func (s *BattleService) Leave(ctx context.Context, p domain.Principal, battleID string) (*domain.Participant, error) {
	return s.registry.Leave(ctx, battleID, p.ID)
}

// Kick removes a student from the battle. Teacher only.
func (s *BattleService) Kick(ctx context.Context, p domain.Principal, battleID, studentID, reason string) (*domain.Participant, error) {
	if _, err := s.ownedBattle(ctx, p, battleID); err != nil {
		return nil, err
	}
	return s.registry.Kick(ctx, battleID, studentID, reason)
}

// ListParticipants lists a battle's participants, optionally by state.
func (s *BattleService) ListParticipants(ctx context.Context, battleID string, filter domain.ParticipantState) ([]*domain.Participant, error) {
	if filter != "" && !filter.Valid() {
		return nil, fmt.Errorf("%w: unknown participant state %q", domain.ErrValidation, filter)
	}
	if _, err := s.GetBattle(ctx, battleID); err != nil {
		return nil, err
	}
	return s.registry.List(ctx, battleID, filter)
}

// StartCountdown closes the lobby: snapshots the roster, generates the
// question plan, seeds the shared counters and moves LOBBY to COUNTDOWN.
// Retries after a partial failure reuse the already-written snapshot/plan.
func (s *BattleService) StartCountdown(ctx context.Context, p domain.Principal, battleID string) (*domain.Battle, error) {
	b, err := s.ownedBattle(ctx, p, battleID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(b.Status, domain.StatusCountdown) {
		return nil, domain.ErrInvalidTransition
	}

	snap, err := s.snapshots.Create(ctx, battleID)
	if errors.Is(err, domain.ErrSnapshotExists) {
		// The battle is still in LOBBY, so a previous start attempt died
		// between snapshot and transition; resume with the stored roster.
		snap, err = s.snapshots.Get(ctx, battleID)
	}
	if err != nil {
		return nil, err
	}

	template, err := s.templates.GetTemplate(ctx, b.TemplateID)
	if err != nil {
		return nil, err
	}
	if _, err := s.plans.Generate(ctx, b, &template, snap.GuildOrder); err != nil && !errors.Is(err, domain.ErrPlanExists) {
		return nil, err
	}

	if err := s.seedCounters(ctx, b, snap); err != nil {
		return nil, err
	}

	now := s.now()
	from := b.Status
	b.Status = domain.StatusCountdown
	b.SnapshotID = snap.ID
	b.PlanID = battleID
	b.CountdownEndsAt = now.Add(time.Duration(b.CountdownSeconds) * time.Second)
	if b.Mode.PerGuildPlan() {
		b.GuildQuestionIndex = make(map[string]int, len(snap.GuildOrder))
		for _, g := range snap.GuildOrder {
			b.GuildQuestionIndex[g] = 0
		}
	}
	if b.Mode == domain.ModeTurnBasedGuild {
		b.ActiveGuildID = snap.GuildOrder[0]
	}
	if err := s.saveTransition(ctx, b, from); err != nil {
		return nil, err
	}
	s.log.Info("countdown started", "battle", b.ID, "participants", snap.JoinedCount, "guilds", len(snap.GuildOrder))
	return b, nil
}

// seedCounters creates the downed and guild-hearts counter records so later
// atomic adds always find them. Idempotent: an existing record is kept.
func (s *BattleService) seedCounters(ctx context.Context, b *domain.Battle, snap *domain.Snapshot) error {
	downed := map[string]string{"created": "1"}
	for _, g := range snap.GuildOrder {
		downed["downed#"+g] = "0"
	}
	err := s.store.PutIfAbsent(ctx, store.Record{PK: battlePK(b.ID), SK: downedSK, Fields: downed})
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return err
	}

	if b.Mode == domain.ModeTurnBasedGuild {
		hearts := map[string]string{"created": "1"}
		for _, g := range snap.GuildOrder {
			hearts["hearts#"+g] = strconv.Itoa(b.GuildHearts)
		}
		err = s.store.PutIfAbsent(ctx, store.Record{PK: battlePK(b.ID), SK: guildHeartsSK, Fields: hearts})
		if err != nil && !errors.Is(err, store.ErrConditionFailed) {
			return err
		}
	}
	return nil
}

// Advance is the poll-driven tick: it evaluates stored deadlines against the
// clock and moves the battle forward when one has elapsed. Losing a
// transition race is not an error; someone else advanced.
func (s *BattleService) Advance(ctx context.Context, battleID string) (*domain.Battle, error) {
	b, err := s.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	switch b.Status {
	case domain.StatusCountdown:
		if now.Before(b.CountdownEndsAt) {
			return b, nil
		}
		return s.beginQuestion(ctx, b, domain.StatusCountdown)

	case domain.StatusQuestionActive:
		if now.Before(b.QuestionEndsAt) {
			return b, nil
		}
		return s.resolveQuestion(ctx, b)

	case domain.StatusResolving:
		// A previous resolver died mid-way; finish its work.
		return s.finishResolving(ctx, b)

	case domain.StatusIntermission:
		if now.Before(b.IntermissionEndsAt) {
			return b, nil
		}
		return s.advanceFromIntermission(ctx, b)
	}
	return b, nil
}

// beginQuestion moves into QUESTION_ACTIVE and stamps the question deadline.
func (s *BattleService) beginQuestion(ctx context.Context, b *domain.Battle, from domain.BattleStatus) (*domain.Battle, error) {
	deadline, err := s.questionDeadline(ctx, b)
	if err != nil {
		return nil, err
	}
	b.Status = domain.StatusQuestionActive
	b.QuestionEndsAt = deadline
	if err := s.saveTransition(ctx, b, from); err != nil {
		return s.absorbRace(ctx, b.ID, err)
	}
	return b, nil
}

func (s *BattleService) questionDeadline(ctx context.Context, b *domain.Battle) (time.Time, error) {
	seconds := b.QuestionSeconds
	if b.Mode != domain.ModeRandomizedByGuild {
		plan, err := s.plans.Get(ctx, b.ID)
		if err != nil {
			return time.Time{}, err
		}
		template, err := s.templates.GetTemplate(ctx, b.TemplateID)
		if err != nil {
			return time.Time{}, err
		}
		qid := plan.QuestionAt(b.ActiveGuildID, b.QuestionIndexFor(b.ActiveGuildID))
		if q := template.QuestionByID(qid); q != nil && q.TimeLimitSeconds > 0 {
			seconds = q.TimeLimitSeconds
		}
	}
	return s.now().Add(time.Duration(seconds) * time.Second), nil
}

// resolveQuestion freezes submissions (QUESTION_ACTIVE -> RESOLVING) and then
// applies the end-condition checks.
func (s *BattleService) resolveQuestion(ctx context.Context, b *domain.Battle) (*domain.Battle, error) {
	from := b.Status
	b.Status = domain.StatusResolving
	if err := s.saveTransition(ctx, b, from); err != nil {
		return s.absorbRace(ctx, b.ID, err)
	}
	return s.finishResolving(ctx, b)
}

// finishResolving checks end conditions and either completes the battle or
// enters INTERMISSION.
func (s *BattleService) finishResolving(ctx context.Context, b *domain.Battle) (*domain.Battle, error) {
	// Re-read: concurrent attempts may have landed right before RESOLVING.
	fresh, err := s.GetBattle(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b = fresh
	if b.Status != domain.StatusResolving {
		return b, nil
	}

	if b.CurrentBossHP <= 0 {
		return s.complete(ctx, b, domain.OutcomeWin, "")
	}

	allDown, err := s.allGuildsDown(ctx, b)
	if err != nil {
		return nil, err
	}
	if allDown {
		return s.complete(ctx, b, domain.OutcomeFail, domain.FailAllGuildsDown)
	}

	plan, err := s.plans.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if !s.questionsRemain(b, plan) {
		return s.complete(ctx, b, domain.OutcomeFail, domain.FailOutOfQuestions)
	}

	from := b.Status
	b.Status = domain.StatusIntermission
	b.IntermissionEndsAt = s.now().Add(time.Duration(b.IntermissionSeconds) * time.Second)
	if err := s.saveTransition(ctx, b, from); err != nil {
		return s.absorbRace(ctx, b.ID, err)
	}
	return b, nil
}

// questionsRemain reports whether any sequence still has a question after the
// one just resolved.
func (s *BattleService) questionsRemain(b *domain.Battle, plan *domain.QuestionPlan) bool {
	switch b.Mode {
	case domain.ModeSimultaneousAll:
		return plan.Remaining("", b.QuestionIndex+1)
	case domain.ModeRandomizedByGuild:
		for g, idx := range b.GuildQuestionIndex {
			if plan.Remaining(g, idx+1) {
				return true
			}
		}
		return false
	case domain.ModeTurnBasedGuild:
		for g, idx := range b.GuildQuestionIndex {
			next := idx
			if g == b.ActiveGuildID {
				next++
			}
			if plan.Remaining(g, next) {
				return true
			}
		}
		return false
	}
	return false
}

func (s *BattleService) allGuildsDown(ctx context.Context, b *domain.Battle) (bool, error) {
	snap, err := s.snapshots.Get(ctx, b.ID)
	if err != nil {
		return false, err
	}
	rec, err := s.store.Get(ctx, battlePK(b.ID), downedSK)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for g, members := range snap.GuildCounts {
		downed, _ := strconv.Atoi(rec.Fields["downed#"+g])
		if downed < members {
			return false, nil
		}
	}
	return true, nil
}

// advanceFromIntermission advances the question cursor (and, in turn-based
// mode, the active guild) and re-enters QUESTION_ACTIVE.
func (s *BattleService) advanceFromIntermission(ctx context.Context, b *domain.Battle) (*domain.Battle, error) {
	plan, err := s.plans.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	switch b.Mode {
	case domain.ModeSimultaneousAll:
		b.QuestionIndex++
	case domain.ModeRandomizedByGuild:
		for g := range b.GuildQuestionIndex {
			b.GuildQuestionIndex[g]++
		}
	case domain.ModeTurnBasedGuild:
		snap, err := s.snapshots.Get(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		b.GuildQuestionIndex[b.ActiveGuildID]++
		next, hold := s.nextGuild(b, plan, snap)
		if hold {
			return b, nil
		}
		if next == "" {
			return s.abortFromIntermission(ctx, b)
		}
		b.ActiveGuildID = next
		b.NextGuildID = ""
	}

	return s.beginQuestion(ctx, b, domain.StatusIntermission)
}

// nextGuild picks the guild for the next turn. With TEACHER_SELECTS_NEXT the
// intermission holds for a bounded wait and then falls back to round-robin
// rather than blocking forever.
func (s *BattleService) nextGuild(b *domain.Battle, plan *domain.QuestionPlan, snap *domain.Snapshot) (guildID string, hold bool) {
	if b.TurnPolicy == domain.TurnTeacherSelects {
		if b.NextGuildID != "" {
			return b.NextGuildID, false
		}
		fallbackAt := b.IntermissionEndsAt.Add(time.Duration(s.defaults.NextGuildFallbackSeconds) * time.Second)
		if s.now().Before(fallbackAt) {
			return "", true
		}
		s.log.Warn("no guild selected before fallback deadline, using round-robin", "battle", b.ID)
	}

	eligible := func(g string) bool {
		return plan.Remaining(g, b.GuildQuestionIndex[g])
	}

	if b.TurnPolicy == domain.TurnRandomNextGuild {
		candidates := make([]string, 0, len(snap.GuildOrder))
		for _, g := range snap.GuildOrder {
			if g != b.ActiveGuildID && eligible(g) {
				candidates = append(candidates, g)
			}
		}
		if len(candidates) > 0 {
			s.randMu.Lock()
			pick := candidates[s.randIndex(len(candidates))]
			s.randMu.Unlock()
			return pick, false
		}
		if eligible(b.ActiveGuildID) {
			return b.ActiveGuildID, false
		}
		return "", false
	}

	// Round-robin over the cyclic order fixed at snapshot time, skipping
	// guilds with nothing left to answer.
	start := 0
	for i, g := range snap.GuildOrder {
		if g == b.ActiveGuildID {
			start = i
			break
		}
	}
	for step := 1; step <= len(snap.GuildOrder); step++ {
		g := snap.GuildOrder[(start+step)%len(snap.GuildOrder)]
		if eligible(g) {
			return g, false
		}
	}
	return "", false
}

func (s *BattleService) abortFromIntermission(ctx context.Context, b *domain.Battle) (*domain.Battle, error) {
	from := b.Status
	b.Status = domain.StatusAborted
	b.Outcome = domain.OutcomeAborted
	b.FailReason = domain.FailTimeout
	b.CompletedAt = s.now()
	if err := s.saveTransition(ctx, b, from); err != nil {
		return s.absorbRace(ctx, b.ID, err)
	}
	s.triggerResults(ctx, b)
	return b, nil
}

// SelectNextGuild records the teacher's pick for the next turn while the
// battle sits in INTERMISSION under TEACHER_SELECTS_NEXT.
func (s *BattleService) SelectNextGuild(ctx context.Context, p domain.Principal, battleID, guildID string) (*domain.Battle, error) {
	b, err := s.ownedBattle(ctx, p, battleID)
	if err != nil {
		return nil, err
	}
	if b.Mode != domain.ModeTurnBasedGuild || b.TurnPolicy != domain.TurnTeacherSelects {
		return nil, fmt.Errorf("%w: battle does not use teacher-selected turns", domain.ErrValidation)
	}
	if b.Status != domain.StatusIntermission {
		return nil, domain.ErrInvalidTransition
	}
	snap, err := s.snapshots.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.GuildCounts[guildID]; !ok {
		return nil, fmt.Errorf("%w: guild %q is not in this battle", domain.ErrValidation, guildID)
	}
	plan, err := s.plans.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	nextIndex := b.GuildQuestionIndex[guildID]
	if guildID == b.ActiveGuildID {
		// The cursor of the guild that just played advances when the
		// intermission ends.
		nextIndex++
	}
	if !plan.Remaining(guildID, nextIndex) {
		return nil, fmt.Errorf("%w: guild %q has no questions left", domain.ErrValidation, guildID)
	}

	b.NextGuildID = guildID
	b.UpdatedAt = s.now()
	data, err := battleData(b)
	if err != nil {
		return nil, err
	}
	err = s.store.UpdateIf(ctx, battlePK(b.ID), battleStateSK,
		fieldStatus, string(domain.StatusIntermission),
		map[string]string{fieldData: data})
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, domain.ErrAlreadyAdvanced
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Abort ends a battle from any non-terminal state past DRAFT.
func (s *BattleService) Abort(ctx context.Context, p domain.Principal, battleID string, reason domain.FailReason) (*domain.Battle, error) {
	b, err := s.ownedBattle(ctx, p, battleID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = domain.FailAbortedByTeacher
	}
	if !domain.CanTransition(b.Status, domain.StatusAborted) {
		return nil, domain.ErrInvalidTransition
	}
	from := b.Status
	b.Status = domain.StatusAborted
	b.Outcome = domain.OutcomeAborted
	b.FailReason = reason
	b.CompletedAt = s.now()
	if err := s.saveTransition(ctx, b, from); err != nil {
		return nil, err
	}
	s.log.Info("battle aborted", "battle", b.ID, "reason", reason)
	s.triggerResults(ctx, b)
	return b, nil
}

// Submit records one answer attempt and, when it tripped an end condition or
// the early-resolve threshold, advances the battle.
func (s *BattleService) Submit(ctx context.Context, p domain.Principal, in SubmitInput) (*SubmitOutcome, error) {
	if p.Role == domain.RoleStudent {
		in.StudentID = p.ID
	}
	b, err := s.GetBattle(ctx, in.BattleID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.Get(ctx, in.BattleID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Get(ctx, in.BattleID)
	if err != nil {
		return nil, err
	}
	template, err := s.templates.GetTemplate(ctx, b.TemplateID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.ledger.Submit(ctx, b, plan, snap, &template, in)
	if err != nil {
		return nil, err
	}
	if outcome.AllSubmitted || outcome.BossDefeated {
		if _, err := s.resolveQuestion(ctx, b); err != nil {
			s.log.Error("early resolve failed", "battle", b.ID, "err", err)
		}
	}
	return outcome, nil
}

// GetPlan exposes the stored question plan for audit. Teacher only.
func (s *BattleService) GetPlan(ctx context.Context, p domain.Principal, battleID string) (*domain.QuestionPlan, error) {
	if _, err := s.ownedBattle(ctx, p, battleID); err != nil {
		return nil, err
	}
	return s.plans.Get(ctx, battleID)
}

// CreateSnapshot is the explicit snapshot trigger. A duplicate call fails
// with a distinct already-created conflict.
func (s *BattleService) CreateSnapshot(ctx context.Context, p domain.Principal, battleID string) (*domain.Snapshot, error) {
	if _, err := s.ownedBattle(ctx, p, battleID); err != nil {
		return nil, err
	}
	return s.snapshots.Create(ctx, battleID)
}

// GetSnapshot reads the stored roster snapshot.
func (s *BattleService) GetSnapshot(ctx context.Context, battleID string) (*domain.Snapshot, error) {
	return s.snapshots.Get(ctx, battleID)
}

// ComputeResults triggers aggregation; safe to call repeatedly.
func (s *BattleService) ComputeResults(ctx context.Context, p domain.Principal, battleID string) (*domain.ResultMeta, error) {
	b, err := s.ownedBattle(ctx, p, battleID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	return s.results.ComputeAndWrite(ctx, b, snap)
}

// GetResults returns the aggregated rows for a battle.
func (s *BattleService) GetResults(ctx context.Context, battleID string) (*domain.ResultMeta, []*domain.StudentResult, []*domain.GuildResult, error) {
	return s.results.Results(ctx, battleID)
}

// ListStudentResults pages a student's results across battles.
func (s *BattleService) ListStudentResults(ctx context.Context, studentID, cursor string, limit int) ([]*domain.StudentResult, string, error) {
	return s.results.ListByStudent(ctx, studentID, cursor, limit)
}

// ListAttemptsByBattle pages a battle's ledger.
func (s *BattleService) ListAttemptsByBattle(ctx context.Context, battleID, cursor string, limit int) ([]*domain.AnswerAttempt, string, error) {
	return s.ledger.ListByBattle(ctx, battleID, cursor, limit)
}

// ListAttemptsByStudent pages a student's ledger entries.
func (s *BattleService) ListAttemptsByStudent(ctx context.Context, studentID, cursor string, limit int) ([]*domain.AnswerAttempt, string, error) {
	return s.ledger.ListByStudent(ctx, studentID, cursor, limit)
}

// complete finishes the battle and triggers aggregation.
func (s *BattleService) complete(ctx context.Context, b *domain.Battle, outcome domain.Outcome, reason domain.FailReason) (*domain.Battle, error) {
	from := b.Status
	b.Status = domain.StatusCompleted
	b.Outcome = outcome
	b.FailReason = reason
	b.CompletedAt = s.now()
	if err := s.saveTransition(ctx, b, from); err != nil {
		return s.absorbRace(ctx, b.ID, err)
	}
	s.log.Info("battle completed", "battle", b.ID, "outcome", outcome, "reason", reason)
	s.triggerResults(ctx, b)
	return b, nil
}

// triggerResults runs aggregation after a terminal transition. Failures are
// logged, not fatal: the manual trigger is idempotent and can catch up.
func (s *BattleService) triggerResults(ctx context.Context, b *domain.Battle) {
	snap, err := s.snapshots.Get(ctx, b.ID)
	if err != nil {
		s.log.Warn("results aggregation skipped", "battle", b.ID, "err", err)
		return
	}
	if _, err := s.results.ComputeAndWrite(ctx, b, snap); err != nil && !errors.Is(err, domain.ErrAlreadyComputed) {
		s.log.Error("results aggregation failed", "battle", b.ID, "err", err)
	}
}

// saveTransition persists a status change conditioned on the status the
// caller loaded. A concurrent winner turns this into ErrAlreadyAdvanced.
func (s *BattleService) saveTransition(ctx context.Context, b *domain.Battle, from domain.BattleStatus) error {
	b.UpdatedAt = s.now()
	data, err := battleData(b)
	if err != nil {
		return err
	}
	err = s.store.UpdateIf(ctx, battlePK(b.ID), battleStateSK,
		fieldStatus, string(from),
		map[string]string{fieldStatus: string(b.Status), fieldData: data})
	if errors.Is(err, store.ErrConditionFailed) {
		return domain.ErrAlreadyAdvanced
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrBattleNotFound
	}
	return err
}

// absorbRace converts a lost transition race into the fresh battle state.
func (s *BattleService) absorbRace(ctx context.Context, battleID string, err error) (*domain.Battle, error) {
	if !errors.Is(err, domain.ErrAlreadyAdvanced) {
		return nil, err
	}
	return s.GetBattle(ctx, battleID)
}

func (s *BattleService) ownedBattle(ctx context.Context, p domain.Principal, battleID string) (*domain.Battle, error) {
	if err := requireTeacher(p); err != nil {
		return nil, err
	}
	b, err := s.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.TeacherID != p.ID {
		return nil, fmt.Errorf("%w: battle belongs to another teacher", domain.ErrForbidden)
	}
	return b, nil
}

func requireTeacher(p domain.Principal) error {
	if p.Role != domain.RoleTeacher {
		return fmt.Errorf("%w: teacher role required", domain.ErrForbidden)
	}
	return nil
}

func defaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func defaultFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
