package bracket

import "github.com/mcdev12/showdown/go/internal/apperrors"

var (
	ErrTournamentNotFound  = apperrors.NotFound("tournament not found")
	ErrRoomNotFound        = apperrors.NotFound("room not found")
	ErrParticipantNotFound = apperrors.NotFound("participant is not part of this tournament")

	ErrRegistrationClosed = apperrors.InvalidState("registration is closed")
	ErrAlreadyInProgress  = apperrors.InvalidState("tournament is already in progress")
	ErrTournamentFinished = apperrors.InvalidState("tournament has already finished")
	ErrStartNotScheduled  = apperrors.InvalidState("tournament has no scheduled start")
	ErrRoomClosed         = apperrors.InvalidState("room has already completed")

	ErrNameRequired          = apperrors.InvalidInput("tournament name is required")
	ErrUserRequired          = apperrors.InvalidInput("user id is required")
	ErrRoomTooSmall          = apperrors.InvalidInput("rooms must hold at least two participants")
	ErrInvalidAdvance        = apperrors.InvalidInput("at least one participant per room must advance")
	ErrInvalidDuration       = apperrors.InvalidInput("stage durations must be positive")
	ErrNotEnoughParticipants = apperrors.InvalidInput("at least two connected participants are required")

	ErrRoundOutOfSync = apperrors.Internal("completed round is not the tournament's current round")
)
