package domain

import (
	"errors"
	"fmt"
)

// Error categories. Specific errors below wrap one of these so transports can
// map a failure to a status with errors.Is without enumerating every cause.
var (
	// ErrValidation marks malformed or out-of-range input; retrying without
	// correcting the request cannot succeed.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks state conflicts: invalid transitions, duplicate
	// creates, anti-spam rejections. Callers should re-fetch and decide.
	ErrConflict = errors.New("state conflict")
	// ErrNotFound marks an unknown id.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a role or ownership mismatch.
	ErrForbidden = errors.New("forbidden")
	// ErrTransient marks a store fault; safe to retry with backoff since all
	// mutating operations are idempotent or conditionally guarded.
	ErrTransient = errors.New("transient store fault")
)

var (
	ErrBattleNotFound      = fmt.Errorf("battle %w", ErrNotFound)
	ErrTemplateNotFound    = fmt.Errorf("battle template %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrQuestionNotFound    = fmt.Errorf("question %w", ErrNotFound)
	ErrPlanNotFound        = fmt.Errorf("question plan %w", ErrNotFound)
	ErrSnapshotNotFound    = fmt.Errorf("snapshot %w", ErrNotFound)
	ErrResultsNotFound     = fmt.Errorf("results %w", ErrNotFound)

	ErrInvalidTransition = fmt.Errorf("%w: transition not permitted from current status", ErrConflict)
	ErrSnapshotExists    = fmt.Errorf("%w: snapshot already created", ErrConflict)
	ErrPlanExists        = fmt.Errorf("%w: question plan already created", ErrConflict)
	ErrAlreadyComputed   = fmt.Errorf("%w: results already computed", ErrConflict)
	ErrDuplicateAttempt  = fmt.Errorf("%w: attempt already recorded", ErrConflict)
	ErrAlreadyAnswered   = fmt.Errorf("%w: question already answered correctly", ErrConflict)
	ErrAlreadyAdvanced   = fmt.Errorf("%w: battle already advanced", ErrConflict)

	ErrNotJoined         = fmt.Errorf("%w: participant is not in JOINED state", ErrConflict)
	ErrParticipantDowned = fmt.Errorf("%w: participant is downed", ErrConflict)
	ErrBattleNotFinished = fmt.Errorf("%w: battle has not finished", ErrConflict)
	ErrParticipantKicked = fmt.Errorf("%w: participant was kicked", ErrConflict)
	ErrSubmitTooSoon     = fmt.Errorf("%w: submitted again too quickly", ErrConflict)
	ErrParticipantFrozen = fmt.Errorf("%w: participant is frozen after a wrong answer", ErrConflict)
	ErrNotActiveQuestion = fmt.Errorf("%w: question is not currently active for this participant", ErrConflict)
	ErrBattleNotActive   = fmt.Errorf("%w: battle is not accepting submissions", ErrConflict)
	ErrNotYourTurn       = fmt.Errorf("%w: another guild holds the active turn", ErrConflict)
	ErrLobbyClosed       = fmt.Errorf("%w: lobby is not open", ErrConflict)
)
