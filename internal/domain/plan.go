package domain

import "time"

// QuestionPlan is the immutable, reproducible question ordering for a battle.
// Exactly one of Sequence or GuildSequences is populated, discriminated by
// PerGuild: a single global order, or one order per guild derived from the
// base seed plus the guild id.
type QuestionPlan struct {
	BattleID string `json:"battleId"`
	PerGuild bool   `json:"perGuild"`

	Sequence       []string            `json:"sequence,omitempty"`
	GuildSequences map[string][]string `json:"guildSequences,omitempty"`

	Seed          string    `json:"seed"`
	SourceHash    string    `json:"sourceHash"`
	QuestionCount int       `json:"questionCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// QuestionAt returns the question id at the given index for a guild, or ""
// when the index is past the end of the relevant sequence.
func (p *QuestionPlan) QuestionAt(guildID string, index int) string {
	seq := p.Sequence
	if p.PerGuild {
		seq = p.GuildSequences[guildID]
	}
	if index < 0 || index >= len(seq) {
		return ""
	}
	return seq[index]
}

// Remaining reports whether any questions remain at the given index for the
// guild (or globally when the plan is not per-guild).
func (p *QuestionPlan) Remaining(guildID string, index int) bool {
	return p.QuestionAt(guildID, index) != ""
}
