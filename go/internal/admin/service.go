// Package admin exposes tournament administration over connect with a JSON codec.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/showdown/go/internal/apperrors"
	"github.com/mcdev12/showdown/go/internal/bracket"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/rs/zerolog/log"
)

// Orchestrator defines what the admin service needs from the bracket orchestrator
type Orchestrator interface {
	CreateTournament(ctx context.Context, req bracket.CreateTournamentRequest) (*models.Tournament, error)
	RegisterParticipant(ctx context.Context, tournamentID uuid.UUID, userID string) (bool, error)
	ScheduleStart(ctx context.Context, tournamentID uuid.UUID, at time.Time) (*models.Tournament, error)
	StartCountdown(ctx context.Context, tournamentID uuid.UUID) error
	StartTournament(ctx context.Context, tournamentID uuid.UUID) (*models.Tournament, error)
	GetTournament(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	ListTournaments(ctx context.Context, statuses ...models.TournamentStatus) ([]models.Tournament, error)
	RoundHistory(ctx context.Context, tournamentID uuid.UUID) ([]bracket.RoundResult, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ParticipantStatus(ctx context.Context, tournamentID uuid.UUID, userID string) (*bracket.ParticipantState, error)
	KickParticipant(ctx context.Context, tournamentID uuid.UUID, userID string) error
	PauseRoomTimer(ctx context.Context, roomID uuid.UUID) error
	ResumeRoomTimer(ctx context.Context, roomID uuid.UUID) error
	SkipPreparation(ctx context.Context, roomID uuid.UUID) error
	SubmitVote(ctx context.Context, roomID uuid.UUID, voterID string, ballots []voting.Ballot) (bool, error)
	JoinRoom(ctx context.Context, roomID uuid.UUID, userID string) error
	LeaveRoom(ctx context.Context, roomID uuid.UUID, userID string) error
}

// Service implements the admin procedures
type Service struct {
	orch Orchestrator
}

func NewService(orch Orchestrator) *Service {
	return &Service{orch: orch}
}

func (s *Service) CreateTournament(ctx context.Context, req *connect.Request[CreateTournamentRequest]) (*connect.Response[TournamentResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	appReq := bracket.CreateTournamentRequest{
		Name:        req.Msg.Name,
		Description: req.Msg.Description,
		CreatedBy:   req.Msg.CreatedBy,
		StartAt:     req.Msg.StartAt,
	}
	if req.Msg.Settings != nil {
		appReq.Settings = *req.Msg.Settings
	}
	if appReq.CreatedBy == "" {
		appReq.CreatedBy = callerID(ctx)
	}

	t, err := s.orch.CreateTournament(ctx, appReq)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TournamentResponse{Success: true, Tournament: t}), nil
}

func (s *Service) RegisterParticipant(ctx context.Context, req *connect.Request[RegisterParticipantRequest]) (*connect.Response[RegisterParticipantResponse], error) {
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := requireSelf(ctx, req.Msg.UserID); err != nil {
		return nil, err
	}

	added, err := s.orch.RegisterParticipant(ctx, id, req.Msg.UserID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RegisterParticipantResponse{Success: true, Registered: added}), nil
}

func (s *Service) ScheduleStart(ctx context.Context, req *connect.Request[ScheduleStartRequest]) (*connect.Response[TournamentResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	var at time.Time
	if req.Msg.StartAt != nil {
		at = *req.Msg.StartAt
	}

	t, err := s.orch.ScheduleStart(ctx, id, at)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TournamentResponse{Success: true, Tournament: t}), nil
}

func (s *Service) StartCountdown(ctx context.Context, req *connect.Request[TournamentRequest]) (*connect.Response[AckResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.orch.StartCountdown(ctx, id); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AckResponse{Success: true}), nil
}

func (s *Service) StartTournament(ctx context.Context, req *connect.Request[TournamentRequest]) (*connect.Response[TournamentResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}

	t, err := s.orch.StartTournament(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	log.Info().
		Str("tournament_id", id.String()).
		Int("participants", len(t.Participants)).
		Msg("tournament started by admin")
	return connect.NewResponse(&TournamentResponse{Success: true, Tournament: t}), nil
}

func (s *Service) GetTournament(ctx context.Context, req *connect.Request[TournamentRequest]) (*connect.Response[TournamentResponse], error) {
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	t, err := s.orch.GetTournament(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TournamentResponse{Success: true, Tournament: t}), nil
}

func (s *Service) ListTournaments(ctx context.Context, req *connect.Request[ListTournamentsRequest]) (*connect.Response[ListTournamentsResponse], error) {
	ts, err := s.orch.ListTournaments(ctx, req.Msg.Statuses...)
	if err != nil {
		return nil, toConnectError(err)
	}
	if ts == nil {
		ts = []models.Tournament{}
	}
	return connect.NewResponse(&ListTournamentsResponse{Success: true, Tournaments: ts}), nil
}

func (s *Service) GetRoundHistory(ctx context.Context, req *connect.Request[TournamentRequest]) (*connect.Response[RoundHistoryResponse], error) {
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	rounds, err := s.orch.RoundHistory(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	if rounds == nil {
		rounds = []bracket.RoundResult{}
	}
	return connect.NewResponse(&RoundHistoryResponse{Success: true, Rounds: rounds}), nil
}

func (s *Service) GetRoom(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[RoomResponse], error) {
	id, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}
	room, err := s.orch.GetRoom(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RoomResponse{Success: true, Room: room}), nil
}

func (s *Service) ParticipantStatus(ctx context.Context, req *connect.Request[ParticipantStatusRequest]) (*connect.Response[ParticipantStatusResponse], error) {
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	state, err := s.orch.ParticipantStatus(ctx, id, req.Msg.UserID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ParticipantStatusResponse{Success: true, Participant: state}), nil
}

func (s *Service) KickParticipant(ctx context.Context, req *connect.Request[KickParticipantRequest]) (*connect.Response[AckResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("tournament_id", req.Msg.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.orch.KickParticipant(ctx, id, req.Msg.UserID); err != nil {
		return nil, toConnectError(err)
	}
	log.Info().
		Str("tournament_id", id.String()).
		Str("user_id", req.Msg.UserID).
		Str("by", callerID(ctx)).
		Msg("participant kicked by admin")
	return connect.NewResponse(&AckResponse{Success: true}), nil
}

func (s *Service) PauseRoomTimer(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[AckResponse], error) {
	return s.roomCommand(ctx, req.Msg.RoomID, s.orch.PauseRoomTimer)
}

func (s *Service) ResumeRoomTimer(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[AckResponse], error) {
	return s.roomCommand(ctx, req.Msg.RoomID, s.orch.ResumeRoomTimer)
}

func (s *Service) SkipPreparation(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[AckResponse], error) {
	return s.roomCommand(ctx, req.Msg.RoomID, s.orch.SkipPreparation)
}

func (s *Service) roomCommand(ctx context.Context, rawID string, fn func(context.Context, uuid.UUID) error) (*connect.Response[AckResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("room_id", rawID)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, id); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AckResponse{Success: true}), nil
}

func (s *Service) SubmitVote(ctx context.Context, req *connect.Request[SubmitVoteRequest]) (*connect.Response[SubmitVoteResponse], error) {
	id, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}
	if err := requireSelf(ctx, req.Msg.VoterID); err != nil {
		return nil, err
	}

	allVoted, err := s.orch.SubmitVote(ctx, id, req.Msg.VoterID, req.Msg.Votes)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SubmitVoteResponse{Success: true, AllVoted: allVoted}), nil
}

func (s *Service) JoinRoom(ctx context.Context, req *connect.Request[RoomMembershipRequest]) (*connect.Response[AckResponse], error) {
	return s.membership(ctx, req.Msg, s.orch.JoinRoom)
}

func (s *Service) LeaveRoom(ctx context.Context, req *connect.Request[RoomMembershipRequest]) (*connect.Response[AckResponse], error) {
	return s.membership(ctx, req.Msg, s.orch.LeaveRoom)
}

func (s *Service) membership(ctx context.Context, msg *RoomMembershipRequest, fn func(context.Context, uuid.UUID, string) error) (*connect.Response[AckResponse], error) {
	id, err := parseID("room_id", msg.RoomID)
	if err != nil {
		return nil, err
	}
	if err := requireSelf(ctx, msg.UserID); err != nil {
		return nil, err
	}
	if err := fn(ctx, id, msg.UserID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AckResponse{Success: true}), nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s: %w", field, err))
	}
	return id, nil
}

// toConnectError maps the error taxonomy onto connect codes.
func toConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	var code connect.Code
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		code = connect.CodeNotFound
	case apperrors.KindInvalidState:
		code = connect.CodeFailedPrecondition
	case apperrors.KindInvalidInput:
		code = connect.CodeInvalidArgument
	default:
		code = connect.CodeInternal
		log.Error().Err(err).Msg("admin request failed")
	}
	return connect.NewError(code, err)
}
