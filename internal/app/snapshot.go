package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/store"
)

// SnapshotService captures the immutable roster used for scoring and results
// once a battle leaves the lobby. A snapshot is written at most once per
// battle; later joins and leaves never touch it.
type SnapshotService struct {
	store    store.Store
	registry *ParticipantRegistry
	now      func() time.Time
}

func NewSnapshotService(st store.Store, registry *ParticipantRegistry, now func() time.Time) *SnapshotService {
	if now == nil {
		now = time.Now
	}
	return &SnapshotService{store: st, registry: registry, now: now}
}

// Create reads all JOINED participants, groups them by guild and writes the
// snapshot guarded by a must-not-exist precondition. A second call fails with
// ErrSnapshotExists, distinctly from a first-time failure.
func (s *SnapshotService) Create(ctx context.Context, battleID string) (*domain.Snapshot, error) {
	joined, err := s.registry.List(ctx, battleID, domain.ParticipantJoined)
	if err != nil {
		return nil, err
	}
	if len(joined) == 0 {
		return nil, fmt.Errorf("%w: no joined participants to snapshot", domain.ErrValidation)
	}

	snap := &domain.Snapshot{
		ID:          uuid.NewString(),
		BattleID:    battleID,
		Members:     make([]domain.SnapshotMember, 0, len(joined)),
		GuildCounts: make(map[string]int),
		JoinedCount: len(joined),
		CreatedAt:   s.now(),
	}
	for _, p := range joined {
		snap.Members = append(snap.Members, domain.SnapshotMember{StudentID: p.StudentID, GuildID: p.GuildID})
		snap.GuildCounts[p.GuildID]++
	}
	// The cyclic turn order is established here, once, in sorted guild-id
	// order so every process derives the same rotation.
	for guildID := range snap.GuildCounts {
		snap.GuildOrder = append(snap.GuildOrder, guildID)
	}
	sort.Strings(snap.GuildOrder)

	rec, err := encodeJSONRecord(battlePK(battleID), snapshotSK, snap)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutIfAbsent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, domain.ErrSnapshotExists
		}
		return nil, err
	}
	return snap, nil
}

// Get loads the snapshot for a battle.
func (s *SnapshotService) Get(ctx context.Context, battleID string) (*domain.Snapshot, error) {
	rec, err := s.store.Get(ctx, battlePK(battleID), snapshotSK)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, err
	}
	var snap domain.Snapshot
	if err := decodeJSONRecord(rec, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
