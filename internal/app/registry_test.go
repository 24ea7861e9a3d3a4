package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"boss-battle-service/internal/domain"
	memstore "boss-battle-service/internal/store/memory"
)

func TestJoinIsIdempotentPerGuild(t *testing.T) {
	ctx := context.Background()
	reg := NewParticipantRegistry(memstore.New(), fixedNow(t))

	p, err := reg.Join(ctx, "b1", "s1", "g1", 3)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.State != domain.ParticipantJoined || p.Hearts != 3 {
		t.Fatalf("unexpected participant: %+v", p)
	}

	again, err := reg.Join(ctx, "b1", "s1", "g1", 3)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.State != domain.ParticipantJoined {
		t.Fatalf("rejoin changed state: %+v", again)
	}

	if _, err := reg.Join(ctx, "b1", "s1", "g2", 3); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected guild mismatch validation error, got %v", err)
	}
}

func TestLeaveThenRejoin(t *testing.T) {
	ctx := context.Background()
	reg := NewParticipantRegistry(memstore.New(), fixedNow(t))

	if _, err := reg.Join(ctx, "b1", "s1", "g1", 3); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := reg.Leave(ctx, "b1", "s1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	p, err := reg.Get(ctx, "b1", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.State != domain.ParticipantLeft {
		t.Fatalf("expected LEFT, got %s", p.State)
	}

	p, err = reg.Join(ctx, "b1", "s1", "g1", 3)
	if err != nil {
		t.Fatalf("rejoin after leave: %v", err)
	}
	if p.State != domain.ParticipantJoined {
		t.Fatalf("expected JOINED after rejoin, got %s", p.State)
	}
}

func TestKickIsFinal(t *testing.T) {
	ctx := context.Background()
	reg := NewParticipantRegistry(memstore.New(), fixedNow(t))

	if _, err := reg.Join(ctx, "b1", "s1", "g1", 3); err != nil {
		t.Fatalf("join: %v", err)
	}
	kicked, err := reg.Kick(ctx, "b1", "s1", "disruptive")
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	if kicked.State != domain.ParticipantKicked || kicked.KickReason != "disruptive" {
		t.Fatalf("unexpected kicked participant: %+v", kicked)
	}

	if _, err := reg.Join(ctx, "b1", "s1", "g1", 3); !errors.Is(err, domain.ErrParticipantKicked) {
		t.Fatalf("expected kicked error on rejoin, got %v", err)
	}
	if _, err := reg.Leave(ctx, "b1", "s1"); !errors.Is(err, domain.ErrParticipantKicked) {
		t.Fatalf("expected kicked error on leave, got %v", err)
	}
}

func TestListFiltersByState(t *testing.T) {
	ctx := context.Background()
	reg := NewParticipantRegistry(memstore.New(), fixedNow(t))

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := reg.Join(ctx, "b1", id, "g1", 3); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	if _, err := reg.Spectate(ctx, "b1", "s3"); err != nil {
		t.Fatalf("spectate: %v", err)
	}

	joined, err := reg.List(ctx, "b1", domain.ParticipantJoined)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(joined) != 2 {
		t.Fatalf("expected 2 joined, got %d", len(joined))
	}
	all, err := reg.List(ctx, "b1", "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 total, got %d", len(all))
	}
}

func TestCheckSubmitAllowedWindows(t *testing.T) {
	reg := NewParticipantRegistry(memstore.New(), fixedNow(t))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	p := &domain.Participant{LastSubmitAt: base}
	if err := reg.CheckSubmitAllowed(p, base.Add(time.Second), 2000); !errors.Is(err, domain.ErrSubmitTooSoon) {
		t.Fatalf("expected too-soon at t+1000ms, got %v", err)
	}
	if err := reg.CheckSubmitAllowed(p, base.Add(2001*time.Millisecond), 2000); err != nil {
		t.Fatalf("expected allowed at t+2001ms, got %v", err)
	}

	frozen := &domain.Participant{FrozenUntil: base.Add(3 * time.Second)}
	if err := reg.CheckSubmitAllowed(frozen, base.Add(time.Second), 0); !errors.Is(err, domain.ErrParticipantFrozen) {
		t.Fatalf("expected frozen, got %v", err)
	}
	if err := reg.CheckSubmitAllowed(frozen, base.Add(3*time.Second), 0); err != nil {
		t.Fatalf("expected thawed at freeze deadline, got %v", err)
	}
}

func TestLoseHeartsClampsAndReportsCrossing(t *testing.T) {
	ctx := context.Background()
	reg := NewParticipantRegistry(memstore.New(), fixedNow(t))

	if _, err := reg.Join(ctx, "b1", "s1", "g1", 2); err != nil {
		t.Fatalf("join: %v", err)
	}
	old, updated, err := reg.LoseHearts(ctx, "b1", "s1", 1)
	if err != nil {
		t.Fatalf("lose hearts: %v", err)
	}
	if old != 2 || updated != 1 {
		t.Fatalf("expected 2->1, got %d->%d", old, updated)
	}
	old, updated, err = reg.LoseHearts(ctx, "b1", "s1", 5)
	if err != nil {
		t.Fatalf("lose hearts 2: %v", err)
	}
	if old != 1 || updated != 0 {
		t.Fatalf("expected clamp 1->0, got %d->%d", old, updated)
	}
	// The crossing already happened; further losses report 0->0.
	old, updated, _ = reg.LoseHearts(ctx, "b1", "s1", 1)
	if old != 0 || updated != 0 {
		t.Fatalf("expected 0->0, got %d->%d", old, updated)
	}
}
