package admin

import (
	"net/http"

	"connectrpc.com/connect"
)

// NewHandler returns the path prefix and handler serving every admin procedure.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateTournamentProcedure, connect.NewUnaryHandler(CreateTournamentProcedure, svc.CreateTournament, opts...))
	mux.Handle(RegisterParticipantProcedure, connect.NewUnaryHandler(RegisterParticipantProcedure, svc.RegisterParticipant, opts...))
	mux.Handle(ScheduleStartProcedure, connect.NewUnaryHandler(ScheduleStartProcedure, svc.ScheduleStart, opts...))
	mux.Handle(StartCountdownProcedure, connect.NewUnaryHandler(StartCountdownProcedure, svc.StartCountdown, opts...))
	mux.Handle(StartTournamentProcedure, connect.NewUnaryHandler(StartTournamentProcedure, svc.StartTournament, opts...))
	mux.Handle(GetTournamentProcedure, connect.NewUnaryHandler(GetTournamentProcedure, svc.GetTournament, opts...))
	mux.Handle(ListTournamentsProcedure, connect.NewUnaryHandler(ListTournamentsProcedure, svc.ListTournaments, opts...))
	mux.Handle(GetRoundHistoryProcedure, connect.NewUnaryHandler(GetRoundHistoryProcedure, svc.GetRoundHistory, opts...))
	mux.Handle(GetRoomProcedure, connect.NewUnaryHandler(GetRoomProcedure, svc.GetRoom, opts...))
	mux.Handle(ParticipantStatusProcedure, connect.NewUnaryHandler(ParticipantStatusProcedure, svc.ParticipantStatus, opts...))
	mux.Handle(KickParticipantProcedure, connect.NewUnaryHandler(KickParticipantProcedure, svc.KickParticipant, opts...))
	mux.Handle(PauseRoomTimerProcedure, connect.NewUnaryHandler(PauseRoomTimerProcedure, svc.PauseRoomTimer, opts...))
	mux.Handle(ResumeRoomTimerProcedure, connect.NewUnaryHandler(ResumeRoomTimerProcedure, svc.ResumeRoomTimer, opts...))
	mux.Handle(SkipPreparationProcedure, connect.NewUnaryHandler(SkipPreparationProcedure, svc.SkipPreparation, opts...))
	mux.Handle(SubmitVoteProcedure, connect.NewUnaryHandler(SubmitVoteProcedure, svc.SubmitVote, opts...))
	mux.Handle(JoinRoomProcedure, connect.NewUnaryHandler(JoinRoomProcedure, svc.JoinRoom, opts...))
	mux.Handle(LeaveRoomProcedure, connect.NewUnaryHandler(LeaveRoomProcedure, svc.LeaveRoom, opts...))

	return "/" + ServiceName + "/", mux
}
