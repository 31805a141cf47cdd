package room

import "github.com/mcdev12/showdown/go/internal/apperrors"

var (
	ErrAlreadyStarted     = apperrors.InvalidState("room has already started")
	ErrNoActiveTimer      = apperrors.InvalidState("room has no active timer")
	ErrTimerNotPaused     = apperrors.InvalidState("room timer is not paused")
	ErrNoPreparationTimer = apperrors.InvalidState("no preparation timer is running")
	ErrNotParticipant     = apperrors.InvalidInput("user is not a participant of this room")
)
