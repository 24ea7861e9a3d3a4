package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/store"
)

// ParticipantRegistry tracks who is in a battle and in what state, plus the
// anti-spam timers. Participant records are never deleted; leave and kick
// are state transitions so the history stays auditable.
type ParticipantRegistry struct {
	store store.Store
	now   func() time.Time
}

func NewParticipantRegistry(st store.Store, now func() time.Time) *ParticipantRegistry {
	if now == nil {
		now = time.Now
	}
	return &ParticipantRegistry{store: st, now: now}
}

// Join creates or reactivates a participant. Re-joining with the same guild
// is a no-op; the guild assignment is fixed at first join. A kicked student
// cannot rejoin.
func (r *ParticipantRegistry) Join(ctx context.Context, battleID, studentID, guildID string, hearts int) (*domain.Participant, error) {
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", domain.ErrValidation)
	}

	existing, err := r.Get(ctx, battleID, studentID)
	if err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
		return nil, err
	}
	if existing != nil {
		return r.rejoin(ctx, existing, guildID)
	}

	now := r.now()
	p := &domain.Participant{
		BattleID:  battleID,
		StudentID: studentID,
		GuildID:   guildID,
		State:     domain.ParticipantJoined,
		Hearts:    hearts,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	rec, err := encodeParticipant(p)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutIfAbsent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			// Lost a create race; the other writer's record wins.
			existing, err := r.Get(ctx, battleID, studentID)
			if err != nil {
				return nil, err
			}
			return r.rejoin(ctx, existing, guildID)
		}
		return nil, err
	}
	return p, nil
}

func (r *ParticipantRegistry) rejoin(ctx context.Context, p *domain.Participant, guildID string) (*domain.Participant, error) {
	if p.GuildID != guildID {
		return nil, fmt.Errorf("%w: guild assignment is fixed at join time", domain.ErrValidation)
	}
	switch p.State {
	case domain.ParticipantJoined:
		return p, nil
	case domain.ParticipantKicked:
		return nil, domain.ErrParticipantKicked
	}
	if err := r.setState(ctx, p, domain.ParticipantJoined, ""); err != nil {
		return nil, err
	}
	return p, nil
}

// Spectate moves a JOINED participant to SPECTATE.
func (r *ParticipantRegistry) Spectate(ctx context.Context, battleID, studentID string) (*domain.Participant, error) {
	p, err := r.Get(ctx, battleID, studentID)
	if err != nil {
		return nil, err
	}
	if p.State != domain.ParticipantJoined {
		return nil, domain.ErrNotJoined
	}
	if err := r.setState(ctx, p, domain.ParticipantSpectate, ""); err != nil {
		return nil, err
	}
	return p, nil
}

// Leave moves a participant to LEFT. Leaving while downed still succeeds.
func (r *ParticipantRegistry) Leave(ctx context.Context, battleID, studentID string) (*domain.Participant, error) {
	p, err := r.Get(ctx, battleID, studentID)
	if err != nil {
		return nil, err
	}
	switch p.State {
	case domain.ParticipantLeft:
		return p, nil
	case domain.ParticipantKicked:
		return nil, domain.ErrParticipantKicked
	}
	if err := r.setState(ctx, p, domain.ParticipantLeft, ""); err != nil {
		return nil, err
	}
	return p, nil
}

// Kick moves a participant to KICKED with the teacher's reason. Kicking a
// downed or already-left student still succeeds; kicks are final.
func (r *ParticipantRegistry) Kick(ctx context.Context, battleID, studentID, reason string) (*domain.Participant, error) {
	p, err := r.Get(ctx, battleID, studentID)
	if err != nil {
		return nil, err
	}
	if p.State == domain.ParticipantKicked {
		return p, nil
	}
	if err := r.setState(ctx, p, domain.ParticipantKicked, reason); err != nil {
		return nil, err
	}
	return p, nil
}

// setState writes a state change conditioned on the state the caller saw, so
// concurrent flips serialize into one winner.
func (r *ParticipantRegistry) setState(ctx context.Context, p *domain.Participant, next domain.ParticipantState, kickReason string) error {
	prev := p.State
	p.State = next
	p.UpdatedAt = r.now()
	if kickReason != "" {
		p.KickReason = kickReason
	}
	data, err := encodeJSON(p)
	if err != nil {
		return err
	}
	err = r.store.UpdateIf(ctx, participantPK(p.BattleID), participantSK(p.StudentID),
		fieldState, string(prev),
		map[string]string{fieldState: string(next), fieldData: data})
	if errors.Is(err, store.ErrConditionFailed) {
		return fmt.Errorf("%w: participant state changed concurrently", domain.ErrConflict)
	}
	return err
}

// Get loads one participant.
func (r *ParticipantRegistry) Get(ctx context.Context, battleID, studentID string) (*domain.Participant, error) {
	rec, err := r.store.Get(ctx, participantPK(battleID), participantSK(studentID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrParticipantNotFound
		}
		return nil, err
	}
	return decodeParticipant(rec)
}

// List returns a battle's participants, optionally filtered by state.
func (r *ParticipantRegistry) List(ctx context.Context, battleID string, filter domain.ParticipantState) ([]*domain.Participant, error) {
	var out []*domain.Participant
	cursor := ""
	for {
		recs, next, err := r.store.List(ctx, participantPK(battleID), store.Query{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			p, err := decodeParticipant(rec)
			if err != nil {
				return nil, err
			}
			if filter != "" && p.State != filter {
				continue
			}
			out = append(out, p)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// CheckSubmitAllowed enforces the anti-spam rules: a minimum interval between
// submissions and the freeze window applied after a wrong answer.
func (r *ParticipantRegistry) CheckSubmitAllowed(p *domain.Participant, now time.Time, minIntervalMs int) error {
	if !p.FrozenUntil.IsZero() && now.Before(p.FrozenUntil) {
		return domain.ErrParticipantFrozen
	}
	if minIntervalMs > 0 && !p.LastSubmitAt.IsZero() {
		if now.Before(p.LastSubmitAt.Add(time.Duration(minIntervalMs) * time.Millisecond)) {
			return domain.ErrSubmitTooSoon
		}
	}
	return nil
}

// RecordSubmit stamps last_submit_at after an accepted submission.
func (r *ParticipantRegistry) RecordSubmit(ctx context.Context, p *domain.Participant, at time.Time) error {
	p.LastSubmitAt = at
	p.UpdatedAt = at
	return r.updateData(ctx, p)
}

// Freeze locks a participant out of submissions until the given time.
func (r *ParticipantRegistry) Freeze(ctx context.Context, p *domain.Participant, until time.Time) error {
	p.FrozenUntil = until
	p.UpdatedAt = r.now()
	return r.updateData(ctx, p)
}

// MarkDowned flags a participant whose hearts hit zero.
func (r *ParticipantRegistry) MarkDowned(ctx context.Context, p *domain.Participant) error {
	p.IsDowned = true
	p.UpdatedAt = r.now()
	data, err := encodeJSON(p)
	if err != nil {
		return err
	}
	return r.store.Update(ctx, participantPK(p.BattleID), participantSK(p.StudentID),
		map[string]string{fieldData: data, fieldDowned: "true"})
}

// LoseHearts applies an atomic clamped decrement to a participant's hearts
// and reports the value before and after.
func (r *ParticipantRegistry) LoseHearts(ctx context.Context, battleID, studentID string, delta int) (old, updated int64, err error) {
	return r.store.AddClamped(ctx, participantPK(battleID), participantSK(studentID),
		fieldHearts, -int64(delta), 0)
}

func (r *ParticipantRegistry) updateData(ctx context.Context, p *domain.Participant) error {
	data, err := encodeJSON(p)
	if err != nil {
		return err
	}
	return r.store.Update(ctx, participantPK(p.BattleID), participantSK(p.StudentID),
		map[string]string{fieldData: data})
}
