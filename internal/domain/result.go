package domain

import "time"

// StudentResult is the per-student aggregate written once per battle.
type StudentResult struct {
	BattleID  string `json:"battleId"`
	StudentID string `json:"studentId"`
	GuildID   string `json:"guildId"`

	Attempts       int `json:"attempts"`
	CorrectAnswers int `json:"correctAnswers"`
	DamageDealt    int `json:"damageDealt"`
	HeartsLost     int `json:"heartsLost"`
	Reward         int `json:"reward"`

	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"createdAt"`
}

// GuildResult is the per-guild aggregate written once per battle.
type GuildResult struct {
	BattleID string `json:"battleId"`
	GuildID  string `json:"guildId"`

	Members        int `json:"members"`
	Attempts       int `json:"attempts"`
	CorrectAnswers int `json:"correctAnswers"`
	DamageDealt    int `json:"damageDealt"`
	HeartsLost     int `json:"heartsLost"`

	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResultMeta is the idempotency marker: its existence proves aggregation
// already ran for the battle and must not run again.
type ResultMeta struct {
	BattleID    string    `json:"battleId"`
	StudentRows int       `json:"studentRows"`
	GuildRows   int       `json:"guildRows"`
	ComputedAt  time.Time `json:"computedAt"`
	Outcome     Outcome   `json:"outcome"`
}
