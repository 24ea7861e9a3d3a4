package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/store"
)

// Grader scores answers the engine cannot grade locally (free text). It is an
// external collaborator; the ledger only records its verdict.
type Grader interface {
	Grade(ctx context.Context, question domain.Question, answer string) (bool, error)
}

// AttemptLedger is the append-only record of submissions. It owns every
// mutation of the hot shared counters: boss HP, hearts and per-guild
// submission counts all change through atomic clamped adds, never through a
// read-modify-write.
type AttemptLedger struct {
	store    store.Store
	registry *ParticipantRegistry
	grader   Grader
	now      func() time.Time
}

func NewAttemptLedger(st store.Store, registry *ParticipantRegistry, grader Grader, now func() time.Time) *AttemptLedger {
	if now == nil {
		now = time.Now
	}
	return &AttemptLedger{store: st, registry: registry, grader: grader, now: now}
}

// SubmitInput is one physical submission. AttemptID is generated by the
// client, so retried deliveries of the same submission collapse onto one
// ledger record.
type SubmitInput struct {
	AttemptID       string
	BattleID        string
	QuestionID      string
	StudentID       string
	Answer          string
	ClientElapsedMs int64
}

// SubmitOutcome reports the recorded attempt plus whether this submission
// completed the early-resolve threshold for the active question.
type SubmitOutcome struct {
	Attempt      *domain.AnswerAttempt
	AllSubmitted bool
	BossDefeated bool
}

// Submit validates, grades, applies effects and records one attempt. The
// battle, plan, snapshot and template are loaded by the caller; the ledger
// never advances the state machine itself.
func (l *AttemptLedger) Submit(ctx context.Context, battle *domain.Battle, plan *domain.QuestionPlan, snap *domain.Snapshot, template *domain.BattleTemplate, in SubmitInput) (*SubmitOutcome, error) {
	if in.AttemptID == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	if battle.Status != domain.StatusQuestionActive {
		return nil, domain.ErrBattleNotActive
	}

	// The snapshot, not the live registry, decides roster membership.
	guildID := snap.MemberGuild(in.StudentID)
	if guildID == "" {
		return nil, domain.ErrNotJoined
	}
	participant, err := l.registry.Get(ctx, battle.ID, in.StudentID)
	if err != nil {
		return nil, err
	}
	if participant.State != domain.ParticipantJoined {
		return nil, domain.ErrNotJoined
	}
	if participant.IsDowned {
		return nil, domain.ErrParticipantDowned
	}

	if battle.Mode == domain.ModeTurnBasedGuild && battle.ActiveGuildID != guildID {
		return nil, domain.ErrNotYourTurn
	}
	activeQuestion := plan.QuestionAt(guildID, battle.QuestionIndexFor(guildID))
	if activeQuestion == "" || activeQuestion != in.QuestionID {
		return nil, domain.ErrNotActiveQuestion
	}

	now := l.now()
	if err := l.registry.CheckSubmitAllowed(participant, now, battle.AntiSpamMinIntervalMs); err != nil {
		return nil, err
	}

	question := template.QuestionByID(in.QuestionID)
	if question == nil {
		return nil, domain.ErrQuestionNotFound
	}

	// Grading has no side effects, so it runs before the attempt id is
	// claimed; a grader failure leaves nothing behind and the same id can
	// simply retry.
	correct, err := l.grade(ctx, *question, in.Answer)
	if err != nil {
		return nil, err
	}

	// Claim the attempt id before applying any effect. The claim is
	// completed with the attempt body as the very last step, so a claim
	// without a body marks an interrupted submission: a redelivery of the
	// same attempt id resumes it, while a body means the original record
	// stands and the duplicate is rejected.
	recordedAt := now
	claimed := true
	claim := store.Record{
		PK: attemptPK(battle.ID),
		SK: dedupSK(in.AttemptID),
		Fields: map[string]string{
			fieldRefID: in.AttemptID,
			"ts":       strconv.FormatInt(now.UnixMilli(), 10),
		},
	}
	if err := l.store.PutIfAbsent(ctx, claim); err != nil {
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, err
		}
		prior, err := l.store.Get(ctx, attemptPK(battle.ID), dedupSK(in.AttemptID))
		if err != nil {
			return nil, err
		}
		if prior.Fields[fieldData] != "" {
			return nil, domain.ErrDuplicateAttempt
		}
		claimed = false
		if ms, perr := strconv.ParseInt(prior.Fields["ts"], 10, 64); perr == nil {
			recordedAt = time.UnixMilli(ms).UTC()
		}
	}

	limitMs := int64(question.TimeLimitSeconds) * 1000
	if limitMs <= 0 {
		limitMs = int64(battle.QuestionSeconds) * 1000
	}
	elapsed := in.ClientElapsedMs
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > limitMs {
		elapsed = limitMs
	}

	multiplier := 1.0
	if battle.SpeedBonus && limitMs > 0 {
		multiplier = speedMultiplier(elapsed, limitMs, battle.FloorMultiplier)
	}

	attempt := &domain.AnswerAttempt{
		AttemptID:            in.AttemptID,
		BattleID:             battle.ID,
		QuestionID:           in.QuestionID,
		StudentID:            in.StudentID,
		GuildID:              guildID,
		RawAnswer:            in.Answer,
		Correct:              correct,
		SubmittedAt:          recordedAt,
		ElapsedMs:            elapsed,
		SpeedMultiplier:      multiplier,
		BattleStatusAtSubmit: battle.Status,
	}

	if err := l.registry.RecordSubmit(ctx, participant, now); err != nil {
		return nil, err
	}

	bossDefeated := false
	if correct {
		// One damaging answer per student per question. Retrying after a
		// wrong answer stays open; re-solving does not. The marker holder
		// owns the damage application, so a resumed submission that already
		// holds the marker never deals damage twice.
		damage := int(math.Floor(float64(question.DamageToBoss) * multiplier))
		solved := store.Record{
			PK:     attemptPK(battle.ID),
			SK:     solvedMarkSK(in.QuestionID, in.StudentID),
			Fields: map[string]string{fieldRefID: in.AttemptID},
		}
		switch err := l.store.PutIfAbsent(ctx, solved); {
		case err == nil:
			if damage > 0 {
				_, updated, err := l.store.AddClamped(ctx, battlePK(battle.ID), battleStateSK, fieldBossHP, -int64(damage), 0)
				if err != nil {
					return nil, err
				}
				bossDefeated = updated == 0
			}
		case errors.Is(err, store.ErrConditionFailed):
			mark, gerr := l.store.Get(ctx, attemptPK(battle.ID), solvedMarkSK(in.QuestionID, in.StudentID))
			if gerr != nil {
				return nil, gerr
			}
			if mark.Fields[fieldRefID] != in.AttemptID {
				return nil, domain.ErrAlreadyAnswered
			}
		default:
			return nil, err
		}
		attempt.DamageDealt = damage
	} else if claimed {
		if err := l.applyWrongAnswer(ctx, battle, participant, question, guildID, attempt, now); err != nil {
			return nil, err
		}
	}

	if err := l.persistAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	allSubmitted, err := l.bumpSubmitCounter(ctx, battle, plan, snap, guildID, in.StudentID, in.QuestionID)
	if err != nil {
		return nil, err
	}

	if err := l.completeClaim(ctx, battle.ID, attempt); err != nil {
		return nil, err
	}

	return &SubmitOutcome{Attempt: attempt, AllSubmitted: allSubmitted, BossDefeated: bossDefeated}, nil
}

func (l *AttemptLedger) grade(ctx context.Context, q domain.Question, answer string) (bool, error) {
	switch q.Format {
	case domain.FormatMultipleChoice:
		for _, opt := range q.Options {
			if opt.ID == answer {
				return opt.Correct, nil
			}
		}
		return false, fmt.Errorf("%w: unknown option %q", domain.ErrValidation, answer)
	case domain.FormatExactMatch:
		return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.Answer)), nil
	case domain.FormatFreeText:
		if l.grader == nil {
			return false, fmt.Errorf("%w: no grader configured for free-text questions", domain.ErrValidation)
		}
		return l.grader.Grade(ctx, q, answer)
	}
	return false, fmt.Errorf("%w: unsupported question format %q", domain.ErrValidation, q.Format)
}

func (l *AttemptLedger) applyWrongAnswer(ctx context.Context, battle *domain.Battle, participant *domain.Participant, question *domain.Question, guildID string, attempt *domain.AnswerAttempt, now time.Time) error {
	if battle.FreezeOnWrongSeconds > 0 {
		until := now.Add(time.Duration(battle.FreezeOnWrongSeconds) * time.Second)
		if err := l.registry.Freeze(ctx, participant, until); err != nil {
			return err
		}
	}

	heartsLost := question.HeartsLostStudent
	if heartsLost <= 0 {
		heartsLost = 1
	}
	old, updated, err := l.registry.LoseHearts(ctx, battle.ID, participant.StudentID, heartsLost)
	if err != nil {
		return err
	}
	attempt.HeartsLostStudent = int(old - updated)
	if old > 0 && updated == 0 {
		if err := l.registry.MarkDowned(ctx, participant); err != nil {
			return err
		}
		if _, _, err := l.store.AddClamped(ctx, battlePK(battle.ID), downedSK, "downed#"+guildID, 1, 0); err != nil {
			return err
		}
	}

	if battle.Mode == domain.ModeTurnBasedGuild && question.HeartsLostGuild > 0 {
		gOld, gUpdated, err := l.store.AddClamped(ctx, battlePK(battle.ID), guildHeartsSK, "hearts#"+guildID, -int64(question.HeartsLostGuild), 0)
		if err != nil {
			return err
		}
		attempt.HeartsLostGuild = int(gOld - gUpdated)
	}
	return nil
}

func (l *AttemptLedger) persistAttempt(ctx context.Context, attempt *domain.AnswerAttempt) error {
	// Keys derive from the recorded submission time, so a resumed submission
	// lands on the same keys as its first pass.
	ts := attempt.SubmittedAt.UnixMilli()
	rec, err := encodeJSONRecord(attemptPK(attempt.BattleID), attemptSK(ts, attempt.AttemptID), attempt)
	if err != nil {
		return err
	}
	if err := l.store.PutIfAbsent(ctx, rec); err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return err
	}
	// Per-student index for chronological listing across battles.
	idx, err := encodeJSONRecord(studentAttemptPK(attempt.StudentID), attemptSK(ts, attempt.BattleID+"#"+attempt.AttemptID), attempt)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, idx)
}

// completeClaim stores the finished attempt on its dedupe claim. Only a
// completed claim rejects redelivery; an incomplete one resumes.
func (l *AttemptLedger) completeClaim(ctx context.Context, battleID string, attempt *domain.AnswerAttempt) error {
	rec, err := encodeJSONRecord(attemptPK(battleID), dedupSK(attempt.AttemptID), attempt)
	if err != nil {
		return err
	}
	return l.store.Update(ctx, rec.PK, rec.SK, rec.Fields)
}

// bumpSubmitCounter counts this submission toward the early-resolve
// threshold. Only a student's first submission for a question counts, and the
// threshold is always the snapshot's member count, so neither retries nor a
// member leaving mid-question can resolve the question early.
func (l *AttemptLedger) bumpSubmitCounter(ctx context.Context, battle *domain.Battle, plan *domain.QuestionPlan, snap *domain.Snapshot, guildID, studentID, questionID string) (bool, error) {
	mark := store.Record{
		PK:     attemptPK(battle.ID),
		SK:     submitMarkSK(questionID, studentID),
		Fields: map[string]string{fieldRefID: studentID},
	}
	if err := l.store.PutIfAbsent(ctx, mark); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			// A retry; the first submission already counted.
			return false, nil
		}
		return false, err
	}

	pk := battlePK(battle.ID)
	sk := counterSK(questionID)
	seed := store.Record{PK: pk, SK: sk, Fields: map[string]string{"created": "1"}}
	if err := l.store.PutIfAbsent(ctx, seed); err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return false, err
	}
	_, guildCount, err := l.store.AddClamped(ctx, pk, sk, "submitted#"+guildID, 1, 0)
	if err != nil {
		return false, err
	}
	_, total, err := l.store.AddClamped(ctx, pk, sk, "submitted", 1, 0)
	if err != nil {
		return false, err
	}

	switch battle.Mode {
	case domain.ModeSimultaneousAll:
		return total >= int64(snap.JoinedCount), nil
	case domain.ModeTurnBasedGuild:
		return guildCount >= int64(snap.GuildCounts[guildID]), nil
	case domain.ModeRandomizedByGuild:
		if guildCount < int64(snap.GuildCounts[guildID]) {
			return false, nil
		}
		return l.allGuildsSubmitted(ctx, battle, plan, snap)
	}
	return false, nil
}

func (l *AttemptLedger) allGuildsSubmitted(ctx context.Context, battle *domain.Battle, plan *domain.QuestionPlan, snap *domain.Snapshot) (bool, error) {
	for _, g := range snap.GuildOrder {
		qid := plan.QuestionAt(g, battle.QuestionIndexFor(g))
		if qid == "" {
			continue
		}
		rec, err := l.store.Get(ctx, battlePK(battle.ID), counterSK(qid))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		count, _ := strconv.ParseInt(rec.Fields["submitted#"+g], 10, 64)
		if count < int64(snap.GuildCounts[g]) {
			return false, nil
		}
	}
	return true, nil
}

// ListByBattle returns a chronological page of a battle's attempts.
func (l *AttemptLedger) ListByBattle(ctx context.Context, battleID, cursor string, limit int) ([]*domain.AnswerAttempt, string, error) {
	return l.listAttempts(ctx, attemptPK(battleID), cursor, limit)
}

// ListByStudent returns a chronological page of a student's attempts across
// battles.
func (l *AttemptLedger) ListByStudent(ctx context.Context, studentID, cursor string, limit int) ([]*domain.AnswerAttempt, string, error) {
	return l.listAttempts(ctx, studentAttemptPK(studentID), cursor, limit)
}

func (l *AttemptLedger) listAttempts(ctx context.Context, pk, cursor string, limit int) ([]*domain.AnswerAttempt, string, error) {
	recs, next, err := l.store.List(ctx, pk, store.Query{Prefix: attemptTSPrefix, Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, "", err
	}
	attempts := make([]*domain.AnswerAttempt, 0, len(recs))
	for _, rec := range recs {
		var a domain.AnswerAttempt
		if err := decodeJSONRecord(rec, &a); err != nil {
			return nil, "", err
		}
		attempts = append(attempts, &a)
	}
	return attempts, next, nil
}

// speedMultiplier decays linearly from 1.0 at time zero to the floor at the
// deadline, never below the floor.
func speedMultiplier(elapsedMs, limitMs int64, floor float64) float64 {
	if floor < 0 {
		floor = 0
	}
	if floor > 1 {
		floor = 1
	}
	m := 1 - float64(elapsedMs)/float64(limitMs)*(1-floor)
	return math.Max(floor, m)
}
