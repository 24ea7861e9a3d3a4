package domain

import "time"

// BattleStatus is the lifecycle state of a battle instance.
type BattleStatus string

const (
	StatusDraft          BattleStatus = "DRAFT"
	StatusLobby          BattleStatus = "LOBBY"
	StatusCountdown      BattleStatus = "COUNTDOWN"
	StatusQuestionActive BattleStatus = "QUESTION_ACTIVE"
	StatusResolving      BattleStatus = "RESOLVING"
	StatusIntermission   BattleStatus = "INTERMISSION"
	StatusCompleted      BattleStatus = "COMPLETED"
	StatusAborted        BattleStatus = "ABORTED"
)

// transitions is the directed graph of permitted forward moves. ABORTED is
// additionally reachable from every non-terminal state except DRAFT.
var transitions = map[BattleStatus][]BattleStatus{
	StatusDraft:          {StatusLobby},
	StatusLobby:          {StatusCountdown},
	StatusCountdown:      {StatusQuestionActive},
	StatusQuestionActive: {StatusResolving},
	StatusResolving:      {StatusIntermission, StatusCompleted},
	StatusIntermission:   {StatusQuestionActive},
	StatusCompleted:      {},
	StatusAborted:        {},
}

// CanTransition reports whether moving from one status to the next is legal.
func CanTransition(from, to BattleStatus) bool {
	if to == StatusAborted {
		return !from.Terminal() && from != StatusDraft
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s BattleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

func (s BattleStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// BattleMode controls which students answer which questions at once.
type BattleMode string

const (
	ModeSimultaneousAll   BattleMode = "SIMULTANEOUS_ALL"
	ModeTurnBasedGuild    BattleMode = "TURN_BASED_GUILD"
	ModeRandomizedByGuild BattleMode = "RANDOMIZED_PER_GUILD"
)

func (m BattleMode) Valid() bool {
	switch m {
	case ModeSimultaneousAll, ModeTurnBasedGuild, ModeRandomizedByGuild:
		return true
	}
	return false
}

// PerGuildPlan reports whether each guild gets its own question sequence.
func (m BattleMode) PerGuildPlan() bool {
	return m == ModeTurnBasedGuild || m == ModeRandomizedByGuild
}

// SelectionMode controls how the question plan orders questions.
type SelectionMode string

const (
	SelectionOrdered        SelectionMode = "ORDERED"
	SelectionRandomNoRepeat SelectionMode = "RANDOM_NO_REPEAT"
)

func (m SelectionMode) Valid() bool {
	return m == SelectionOrdered || m == SelectionRandomNoRepeat
}

// TurnPolicy picks the next guild in TURN_BASED_GUILD mode.
type TurnPolicy string

const (
	TurnRoundRobin      TurnPolicy = "ROUND_ROBIN"
	TurnRandomNextGuild TurnPolicy = "RANDOM_NEXT_GUILD"
	TurnTeacherSelects  TurnPolicy = "TEACHER_SELECTS_NEXT"
)

func (p TurnPolicy) Valid() bool {
	switch p {
	case TurnRoundRobin, TurnRandomNextGuild, TurnTeacherSelects:
		return true
	}
	return false
}

// Outcome is the terminal result of a battle.
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeFail    Outcome = "FAIL"
	OutcomeAborted Outcome = "ABORTED"
)

// FailReason explains a FAIL or ABORTED outcome.
type FailReason string

const (
	FailAllGuildsDown    FailReason = "ALL_GUILDS_DOWN"
	FailOutOfQuestions   FailReason = "OUT_OF_QUESTIONS"
	FailAbortedByTeacher FailReason = "ABORTED_BY_TEACHER"
	FailTimeout          FailReason = "TIMEOUT"
)

// Battle is one run of a boss-battle template against a class.
// CurrentBossHP lives in a dedicated store counter so concurrent damage is
// applied with atomic decrements; the struct value is merged in on load.
type Battle struct {
	ID         string `json:"id"`
	ClassID    string `json:"classId"`
	TemplateID string `json:"templateId"`
	TeacherID  string `json:"teacherId"`

	Status        BattleStatus  `json:"status"`
	Mode          BattleMode    `json:"mode"`
	SelectionMode SelectionMode `json:"selectionMode"`
	TurnPolicy    TurnPolicy    `json:"turnPolicy,omitempty"`

	InitialBossHP int `json:"initialBossHp"`
	CurrentBossHP int `json:"currentBossHp"`

	StudentHearts int `json:"studentHearts"`
	GuildHearts   int `json:"guildHearts"`

	SpeedBonus      bool    `json:"speedBonus"`
	FloorMultiplier float64 `json:"floorMultiplier"`

	Seed string `json:"seed"`

	// Question cursor: global index for SIMULTANEOUS_ALL, per-guild indexes
	// otherwise. ActiveGuildID is set only in TURN_BASED_GUILD mode.
	QuestionIndex      int            `json:"questionIndex"`
	GuildQuestionIndex map[string]int `json:"guildQuestionIndex,omitempty"`
	ActiveGuildID      string         `json:"activeGuildId,omitempty"`
	NextGuildID        string         `json:"nextGuildId,omitempty"`

	CountdownSeconds      int `json:"countdownSeconds"`
	QuestionSeconds       int `json:"questionSeconds"`
	IntermissionSeconds   int `json:"intermissionSeconds"`
	AntiSpamMinIntervalMs int `json:"antiSpamMinIntervalMs"`
	FreezeOnWrongSeconds  int `json:"freezeOnWrongSeconds"`

	LobbyOpenedAt      time.Time `json:"lobbyOpenedAt,omitempty"`
	CountdownEndsAt    time.Time `json:"countdownEndsAt,omitempty"`
	QuestionEndsAt     time.Time `json:"questionEndsAt,omitempty"`
	IntermissionEndsAt time.Time `json:"intermissionEndsAt,omitempty"`
	CompletedAt        time.Time `json:"completedAt,omitempty"`

	SnapshotID string `json:"snapshotId,omitempty"`
	PlanID     string `json:"planId,omitempty"`

	Outcome    Outcome    `json:"outcome,omitempty"`
	FailReason FailReason `json:"failReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QuestionIndexFor returns the question cursor that applies to the guild:
// the global index in SIMULTANEOUS_ALL, the guild's own index otherwise.
func (b *Battle) QuestionIndexFor(guildID string) int {
	if !b.Mode.PerGuildPlan() {
		return b.QuestionIndex
	}
	return b.GuildQuestionIndex[guildID]
}
