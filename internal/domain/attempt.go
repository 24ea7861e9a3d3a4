package domain

import "time"

// AnswerAttempt is one immutable submission record. Attempts are append-only:
// they are written once under the client-generated AttemptID and never
// mutated, which absorbs at-least-once delivery of the same submission.
type AnswerAttempt struct {
	AttemptID  string `json:"attemptId"`
	BattleID   string `json:"battleId"`
	QuestionID string `json:"questionId"`
	StudentID  string `json:"studentId"`
	GuildID    string `json:"guildId"`

	RawAnswer string `json:"rawAnswer"`
	Correct   bool   `json:"correct"`

	SubmittedAt     time.Time `json:"submittedAt"`
	ElapsedMs       int64     `json:"elapsedMs"`
	SpeedMultiplier float64   `json:"speedMultiplier"`

	DamageDealt       int `json:"damageDealt"`
	HeartsLostStudent int `json:"heartsLostStudent"`
	HeartsLostGuild   int `json:"heartsLostGuild"`

	// Battle status observed at submit time, kept for audit.
	BattleStatusAtSubmit BattleStatus `json:"battleStatusAtSubmit"`
}
