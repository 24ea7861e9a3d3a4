package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/store"
)

// PlanGenerator produces the reproducible question ordering for a battle.
// The shuffle is bit-exact: the same seed and question set yield the same
// order on every run, which is what makes plans auditable after the fact.
type PlanGenerator struct {
	store store.Store
	now   func() time.Time
}

func NewPlanGenerator(st store.Store, now func() time.Time) *PlanGenerator {
	if now == nil {
		now = time.Now
	}
	return &PlanGenerator{store: st, now: now}
}

// Generate builds and persists the plan for a battle. Plans are written once;
// a second call fails with ErrPlanExists and the stored plan stays untouched.
func (g *PlanGenerator) Generate(ctx context.Context, battle *domain.Battle, template *domain.BattleTemplate, guilds []string) (*domain.QuestionPlan, error) {
	questionIDs := orderedQuestionIDs(template)
	if len(questionIDs) == 0 {
		return nil, errors.New("template has no questions")
	}

	plan := &domain.QuestionPlan{
		BattleID:      battle.ID,
		PerGuild:      battle.Mode.PerGuildPlan(),
		Seed:          battle.Seed,
		SourceHash:    sourceHash(questionIDs),
		QuestionCount: len(questionIDs),
		CreatedAt:     g.now(),
	}

	if plan.PerGuild {
		plan.GuildSequences = make(map[string][]string, len(guilds))
		for _, guildID := range guilds {
			plan.GuildSequences[guildID] = sequenceFor(questionIDs, battle.SelectionMode, DeriveGuildSeed(battle.Seed, guildID))
		}
	} else {
		plan.Sequence = sequenceFor(questionIDs, battle.SelectionMode, battle.Seed)
	}

	rec, err := encodeJSONRecord(battlePK(battle.ID), planSK, plan)
	if err != nil {
		return nil, err
	}
	if err := g.store.PutIfAbsent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, domain.ErrPlanExists
		}
		return nil, err
	}
	return plan, nil
}

// Get loads the stored plan for a battle.
func (g *PlanGenerator) Get(ctx context.Context, battleID string) (*domain.QuestionPlan, error) {
	rec, err := g.store.Get(ctx, battlePK(battleID), planSK)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	var plan domain.QuestionPlan
	if err := decodeJSONRecord(rec, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func sequenceFor(questionIDs []string, mode domain.SelectionMode, seed string) []string {
	seq := make([]string, len(questionIDs))
	copy(seq, questionIDs)
	if mode == domain.SelectionRandomNoRepeat {
		ShuffleDeterministic(seq, seed)
	}
	return seq
}

func orderedQuestionIDs(template *domain.BattleTemplate) []string {
	questions := make([]domain.Question, len(template.Questions))
	copy(questions, template.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids
}

func sourceHash(questionIDs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(questionIDs, "\n")))
	return hex.EncodeToString(sum[:8])
}

// DeriveGuildSeed derives a guild's shuffle seed from the battle's base seed,
// so each guild gets a different but reproducible order.
func DeriveGuildSeed(baseSeed, guildID string) string {
	return baseSeed + ":" + guildID
}

// HashSeed reduces a seed string to 32 bits: h = h*31 + code unit, wrapping
// unsigned. The walk is over UTF-16 code units, so supplementary characters
// contribute their surrogate pair. The exact arithmetic is part of the
// reproducibility contract.
func HashSeed(seed string) uint32 {
	var h uint32
	for _, u := range utf16.Encode([]rune(seed)) {
		h = h*31 + uint32(u)
	}
	return h
}

// mulberry32 is a counter-based PRNG over 32-bit state. The operation
// sequence below must not be altered: plan reproducibility depends on
// matching it bit for bit.
type mulberry32 struct {
	state uint32
}

func (m *mulberry32) next() float64 {
	m.state += 0x6D2B79F5
	z := m.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	z ^= z >> 14
	return float64(z) / 4294967296.0
}

// ShuffleDeterministic permutes ids in place with a Fisher-Yates walk from
// the last index down to 1, drawing swap targets from the seeded PRNG.
func ShuffleDeterministic(ids []string, seed string) {
	rng := &mulberry32{state: HashSeed(seed)}
	for i := len(ids) - 1; i >= 1; i-- {
		j := int(rng.next() * float64(i+1))
		ids[i], ids[j] = ids[j], ids[i]
	}
}
