package domain

import "time"

// SnapshotMember is one (student, guild) pair frozen at lobby close.
type SnapshotMember struct {
	StudentID string `json:"studentId"`
	GuildID   string `json:"guildId"`
}

// Snapshot is the immutable roster captured when the lobby closes. It is
// authoritative for turn order, early-resolve thresholds and results once the
// battle has moved past LOBBY, regardless of later joins or leaves.
type Snapshot struct {
	ID          string           `json:"id"`
	BattleID    string           `json:"battleId"`
	Members     []SnapshotMember `json:"members"`
	GuildCounts map[string]int   `json:"guildCounts"`
	GuildOrder  []string         `json:"guildOrder"`
	JoinedCount int              `json:"joinedCount"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// MemberGuild returns the guild the student was in at snapshot time,
// or "" if the student is not part of the snapshot.
func (s *Snapshot) MemberGuild(studentID string) string {
	for _, m := range s.Members {
		if m.StudentID == studentID {
			return m.GuildID
		}
	}
	return ""
}
