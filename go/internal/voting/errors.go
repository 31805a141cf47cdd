package voting

import "github.com/mcdev12/showdown/go/internal/apperrors"

var (
	ErrNotVoting             = apperrors.InvalidState("room is not in the voting stage")
	ErrPerformanceInProgress = apperrors.InvalidState("performances have not finished")
	ErrSelfVote              = apperrors.InvalidInput("cannot vote for yourself")
	ErrForeignParticipant    = apperrors.InvalidInput("voter and targets must be participants of the room")
	ErrInvalidScore          = apperrors.InvalidInput("score must be between 1 and 5")
	ErrEmptyBallot           = apperrors.InvalidInput("at least one vote is required")
)
