package domain

import "time"

// ParticipantState tracks how a student relates to a battle. Transitions are
// one-directional except JOINED and SPECTATE, which may flip back and forth.
type ParticipantState string

const (
	ParticipantJoined   ParticipantState = "JOINED"
	ParticipantSpectate ParticipantState = "SPECTATE"
	ParticipantKicked   ParticipantState = "KICKED"
	ParticipantLeft     ParticipantState = "LEFT"
)

func (s ParticipantState) Valid() bool {
	switch s {
	case ParticipantJoined, ParticipantSpectate, ParticipantKicked, ParticipantLeft:
		return true
	}
	return false
}

// Participant is one (battle, student) membership. Records are never deleted;
// leaving and kicking are state changes so the audit trail survives.
type Participant struct {
	BattleID  string           `json:"battleId"`
	StudentID string           `json:"studentId"`
	GuildID   string           `json:"guildId"`
	State     ParticipantState `json:"state"`

	Hearts   int  `json:"hearts"`
	IsDowned bool `json:"isDowned"`

	LastSubmitAt time.Time `json:"lastSubmitAt,omitempty"`
	FrozenUntil  time.Time `json:"frozenUntil,omitempty"`

	KickReason string    `json:"kickReason,omitempty"`
	JoinedAt   time.Time `json:"joinedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Role is the caller's role as asserted by the upstream identity layer.
type Role string

const (
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Principal is the already-authenticated caller handed to the engine.
type Principal struct {
	ID   string
	Role Role
}
