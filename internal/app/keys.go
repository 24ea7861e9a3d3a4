package app

import "fmt"

// Composite key scheme: "<EntityPrefix>#<id>#<SubPrefix>" partition keys and
// "<Timestamp>#<Disambiguator>" sort keys, so attempts and index rows scan
// chronologically within a partition.

func battlePK(battleID string) string      { return "BATTLE#" + battleID }
func participantPK(battleID string) string { return "BATTLE#" + battleID + "#PARTICIPANT" }
func attemptPK(battleID string) string     { return "BATTLE#" + battleID + "#ATTEMPT" }
func resultPK(battleID string) string      { return "BATTLE#" + battleID + "#RESULT" }

func studentAttemptPK(studentID string) string  { return "STUDENT#" + studentID + "#ATTEMPT" }
func studentResultPK(studentID string) string   { return "STUDENT#" + studentID + "#RESULT" }
func classBattlePK(classID string) string       { return "CLASS#" + classID + "#BATTLE" }
func templateBattlePK(templateID string) string { return "TEMPLATE#" + templateID + "#BATTLE" }

const (
	battleStateSK   = "STATE"
	planSK          = "PLAN"
	snapshotSK      = "SNAPSHOT"
	resultMetaSK    = "META"
	downedSK        = "DOWNED"
	guildHeartsSK   = "GUILDHEARTS"
	attemptTSPrefix = "TS#"
)

func participantSK(studentID string) string { return "STUDENT#" + studentID }
func counterSK(questionID string) string    { return "COUNTER#" + questionID }
func dedupSK(attemptID string) string       { return "DEDUP#" + attemptID }

// Per-question-per-student markers, kept in the attempt partition. The submit
// marker makes the early-resolve counter count distinct students; the solved
// marker blocks a second correct answer from dealing damage twice.
func submitMarkSK(questionID, studentID string) string {
	return "SUBMITTED#" + questionID + "#" + studentID
}

func solvedMarkSK(questionID, studentID string) string {
	return "SOLVED#" + questionID + "#" + studentID
}

func attemptSK(unixMs int64, attemptID string) string {
	return fmt.Sprintf("%s%013d#%s", attemptTSPrefix, unixMs, attemptID)
}

func timelineSK(unixMs int64, id string) string {
	return fmt.Sprintf("%013d#%s", unixMs, id)
}

func resultStudentSK(studentID string) string { return "STUDENT#" + studentID }
func resultGuildSK(guildID string) string     { return "GUILD#" + guildID }
