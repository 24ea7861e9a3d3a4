package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"boss-battle-service/internal/domain"
)

func TestLeavingDoesNotShrinkResolveThreshold(t *testing.T) {
	ctx := context.Background()
	clk := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(clk, staticTemplates{"t-frac": lifecycleTemplate()})

	b := startedBattle(t, ctx, svc, clk, domain.ModeSimultaneousAll, "", []string{"s1", "s2"})

	if _, err := svc.Leave(ctx, student("s2"), b.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	// The roster was snapshotted at lobby close, so one submission out of two
	// must not resolve the question early.
	if _, err := svc.Submit(ctx, student("s1"), SubmitInput{AttemptID: "a1", BattleID: b.ID, QuestionID: "q1", Answer: "o2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	b, err := svc.GetBattle(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != domain.StatusQuestionActive {
		t.Fatalf("expected question still active after departure, got %s", b.Status)
	}

	// It resolves by timeout instead.
	clk.Advance(30 * time.Second)
	b, err = svc.Advance(ctx, b.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if b.Status != domain.StatusIntermission {
		t.Fatalf("expected timeout resolution, got %s", b.Status)
	}
}

func TestSnapshotIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	clk := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(clk, staticTemplates{"t-frac": lifecycleTemplate()})

	b, err := svc.CreateBattle(ctx, teacher, CreateBattleInput{
		ClassID:       "c1",
		TemplateID:    "t-frac",
		Mode:          domain.ModeSimultaneousAll,
		SelectionMode: domain.SelectionOrdered,
		Seed:          "seed",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.OpenLobby(ctx, teacher, b.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Join(ctx, student("s1"), b.ID, "g1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	snap, err := svc.CreateSnapshot(ctx, teacher, b.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.JoinedCount != 1 || snap.GuildCounts["g1"] != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := svc.CreateSnapshot(ctx, teacher, b.ID); !errors.Is(err, domain.ErrSnapshotExists) {
		t.Fatalf("expected write-once snapshot, got %v", err)
	}

	// A later join never changes the captured counts.
	if _, err := svc.Join(ctx, student("s2"), b.ID, "g1"); err != nil {
		t.Fatalf("late join: %v", err)
	}
	got, err := svc.GetSnapshot(ctx, b.ID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got.JoinedCount != 1 {
		t.Fatalf("snapshot mutated after late join: %+v", got)
	}
}
