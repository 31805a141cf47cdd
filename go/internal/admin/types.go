package admin

import (
	"time"

	"github.com/mcdev12/showdown/go/internal/bracket"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/voting"
)

// ServiceName prefixes every procedure path.
const ServiceName = "showdown.admin.v1.AdminService"

const (
	CreateTournamentProcedure    = "/" + ServiceName + "/CreateTournament"
	RegisterParticipantProcedure = "/" + ServiceName + "/RegisterParticipant"
	ScheduleStartProcedure       = "/" + ServiceName + "/ScheduleStart"
	StartCountdownProcedure      = "/" + ServiceName + "/StartCountdown"
	StartTournamentProcedure     = "/" + ServiceName + "/StartTournament"
	GetTournamentProcedure       = "/" + ServiceName + "/GetTournament"
	ListTournamentsProcedure     = "/" + ServiceName + "/ListTournaments"
	GetRoundHistoryProcedure     = "/" + ServiceName + "/GetRoundHistory"
	GetRoomProcedure             = "/" + ServiceName + "/GetRoom"
	ParticipantStatusProcedure   = "/" + ServiceName + "/ParticipantStatus"
	KickParticipantProcedure     = "/" + ServiceName + "/KickParticipant"
	PauseRoomTimerProcedure      = "/" + ServiceName + "/PauseRoomTimer"
	ResumeRoomTimerProcedure     = "/" + ServiceName + "/ResumeRoomTimer"
	SkipPreparationProcedure     = "/" + ServiceName + "/SkipPreparation"
	SubmitVoteProcedure          = "/" + ServiceName + "/SubmitVote"
	JoinRoomProcedure            = "/" + ServiceName + "/JoinRoom"
	LeaveRoomProcedure           = "/" + ServiceName + "/LeaveRoom"
)

type CreateTournamentRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	CreatedBy   string                     `json:"created_by,omitempty"`
	Settings    *models.TournamentSettings `json:"settings,omitempty"`
	StartAt     *time.Time                 `json:"start_at,omitempty"`
}

type TournamentRequest struct {
	TournamentID string `json:"tournament_id"`
}

type TournamentResponse struct {
	Success    bool               `json:"success"`
	Tournament *models.Tournament `json:"tournament,omitempty"`
}

type RegisterParticipantRequest struct {
	TournamentID string `json:"tournament_id"`
	UserID       string `json:"user_id"`
}

type RegisterParticipantResponse struct {
	Success bool `json:"success"`
	// Registered is false when the user was already registered.
	Registered bool `json:"registered"`
}

// ScheduleStartRequest with no start_at schedules the default delay from now.
type ScheduleStartRequest struct {
	TournamentID string     `json:"tournament_id"`
	StartAt      *time.Time `json:"start_at,omitempty"`
}

type ListTournamentsRequest struct {
	Statuses []models.TournamentStatus `json:"statuses,omitempty"`
}

type ListTournamentsResponse struct {
	Success     bool                `json:"success"`
	Tournaments []models.Tournament `json:"tournaments"`
}

type RoundHistoryResponse struct {
	Success bool                  `json:"success"`
	Rounds  []bracket.RoundResult `json:"rounds"`
}

type RoomRequest struct {
	RoomID string `json:"room_id"`
}

type RoomResponse struct {
	Success bool         `json:"success"`
	Room    *models.Room `json:"room,omitempty"`
}

type ParticipantStatusRequest struct {
	TournamentID string `json:"tournament_id"`
	UserID       string `json:"user_id"`
}

type ParticipantStatusResponse struct {
	Success     bool                      `json:"success"`
	Participant *bracket.ParticipantState `json:"participant,omitempty"`
}

// KickParticipantRequest removes a user from a tournament and its rooms.
type KickParticipantRequest struct {
	TournamentID string `json:"tournament_id"`
	UserID       string `json:"user_id"`
}

type SubmitVoteRequest struct {
	RoomID  string          `json:"room_id"`
	VoterID string          `json:"voter_id"`
	Votes   []voting.Ballot `json:"votes"`
}

type SubmitVoteResponse struct {
	Success bool `json:"success"`
	// AllVoted reports that the submission completed voting for the room.
	AllVoted bool `json:"all_voted"`
}

type RoomMembershipRequest struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// AckResponse answers commands that return no data.
type AckResponse struct {
	Success bool `json:"success"`
}
