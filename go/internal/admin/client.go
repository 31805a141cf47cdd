package admin

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the admin procedures of a showdown server.
type Client struct {
	createTournament    *connect.Client[CreateTournamentRequest, TournamentResponse]
	registerParticipant *connect.Client[RegisterParticipantRequest, RegisterParticipantResponse]
	scheduleStart       *connect.Client[ScheduleStartRequest, TournamentResponse]
	startCountdown      *connect.Client[TournamentRequest, AckResponse]
	startTournament     *connect.Client[TournamentRequest, TournamentResponse]
	getTournament       *connect.Client[TournamentRequest, TournamentResponse]
	listTournaments     *connect.Client[ListTournamentsRequest, ListTournamentsResponse]
	getRoundHistory     *connect.Client[TournamentRequest, RoundHistoryResponse]
	getRoom             *connect.Client[RoomRequest, RoomResponse]
	participantStatus   *connect.Client[ParticipantStatusRequest, ParticipantStatusResponse]
	kickParticipant     *connect.Client[KickParticipantRequest, AckResponse]
	pauseRoomTimer      *connect.Client[RoomRequest, AckResponse]
	resumeRoomTimer     *connect.Client[RoomRequest, AckResponse]
	skipPreparation     *connect.Client[RoomRequest, AckResponse]
	submitVote          *connect.Client[SubmitVoteRequest, SubmitVoteResponse]
	joinRoom            *connect.Client[RoomMembershipRequest, AckResponse]
	leaveRoom           *connect.Client[RoomMembershipRequest, AckResponse]
}

// NewClient builds a client for the server at baseURL. A non-empty token is sent as
// a bearer token on every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(NewTokenInterceptor(token)),
	}, opts...)

	return &Client{
		createTournament:    connect.NewClient[CreateTournamentRequest, TournamentResponse](httpClient, baseURL+CreateTournamentProcedure, opts...),
		registerParticipant: connect.NewClient[RegisterParticipantRequest, RegisterParticipantResponse](httpClient, baseURL+RegisterParticipantProcedure, opts...),
		scheduleStart:       connect.NewClient[ScheduleStartRequest, TournamentResponse](httpClient, baseURL+ScheduleStartProcedure, opts...),
		startCountdown:      connect.NewClient[TournamentRequest, AckResponse](httpClient, baseURL+StartCountdownProcedure, opts...),
		startTournament:     connect.NewClient[TournamentRequest, TournamentResponse](httpClient, baseURL+StartTournamentProcedure, opts...),
		getTournament:       connect.NewClient[TournamentRequest, TournamentResponse](httpClient, baseURL+GetTournamentProcedure, opts...),
		listTournaments:     connect.NewClient[ListTournamentsRequest, ListTournamentsResponse](httpClient, baseURL+ListTournamentsProcedure, opts...),
		getRoundHistory:     connect.NewClient[TournamentRequest, RoundHistoryResponse](httpClient, baseURL+GetRoundHistoryProcedure, opts...),
		getRoom:             connect.NewClient[RoomRequest, RoomResponse](httpClient, baseURL+GetRoomProcedure, opts...),
		participantStatus:   connect.NewClient[ParticipantStatusRequest, ParticipantStatusResponse](httpClient, baseURL+ParticipantStatusProcedure, opts...),
		kickParticipant:     connect.NewClient[KickParticipantRequest, AckResponse](httpClient, baseURL+KickParticipantProcedure, opts...),
		pauseRoomTimer:      connect.NewClient[RoomRequest, AckResponse](httpClient, baseURL+PauseRoomTimerProcedure, opts...),
		resumeRoomTimer:     connect.NewClient[RoomRequest, AckResponse](httpClient, baseURL+ResumeRoomTimerProcedure, opts...),
		skipPreparation:     connect.NewClient[RoomRequest, AckResponse](httpClient, baseURL+SkipPreparationProcedure, opts...),
		submitVote:          connect.NewClient[SubmitVoteRequest, SubmitVoteResponse](httpClient, baseURL+SubmitVoteProcedure, opts...),
		joinRoom:            connect.NewClient[RoomMembershipRequest, AckResponse](httpClient, baseURL+JoinRoomProcedure, opts...),
		leaveRoom:           connect.NewClient[RoomMembershipRequest, AckResponse](httpClient, baseURL+LeaveRoomProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) CreateTournament(ctx context.Context, req *CreateTournamentRequest) (*TournamentResponse, error) {
	return call(ctx, c.createTournament, req)
}

func (c *Client) RegisterParticipant(ctx context.Context, req *RegisterParticipantRequest) (*RegisterParticipantResponse, error) {
	return call(ctx, c.registerParticipant, req)
}

func (c *Client) ScheduleStart(ctx context.Context, req *ScheduleStartRequest) (*TournamentResponse, error) {
	return call(ctx, c.scheduleStart, req)
}

func (c *Client) StartCountdown(ctx context.Context, req *TournamentRequest) (*AckResponse, error) {
	return call(ctx, c.startCountdown, req)
}

func (c *Client) StartTournament(ctx context.Context, req *TournamentRequest) (*TournamentResponse, error) {
	return call(ctx, c.startTournament, req)
}

func (c *Client) GetTournament(ctx context.Context, req *TournamentRequest) (*TournamentResponse, error) {
	return call(ctx, c.getTournament, req)
}

func (c *Client) ListTournaments(ctx context.Context, req *ListTournamentsRequest) (*ListTournamentsResponse, error) {
	return call(ctx, c.listTournaments, req)
}

func (c *Client) GetRoundHistory(ctx context.Context, req *TournamentRequest) (*RoundHistoryResponse, error) {
	return call(ctx, c.getRoundHistory, req)
}

func (c *Client) GetRoom(ctx context.Context, req *RoomRequest) (*RoomResponse, error) {
	return call(ctx, c.getRoom, req)
}

func (c *Client) ParticipantStatus(ctx context.Context, req *ParticipantStatusRequest) (*ParticipantStatusResponse, error) {
	return call(ctx, c.participantStatus, req)
}

func (c *Client) KickParticipant(ctx context.Context, req *KickParticipantRequest) (*AckResponse, error) {
	return call(ctx, c.kickParticipant, req)
}

func (c *Client) PauseRoomTimer(ctx context.Context, req *RoomRequest) (*AckResponse, error) {
	return call(ctx, c.pauseRoomTimer, req)
}

func (c *Client) ResumeRoomTimer(ctx context.Context, req *RoomRequest) (*AckResponse, error) {
	return call(ctx, c.resumeRoomTimer, req)
}

func (c *Client) SkipPreparation(ctx context.Context, req *RoomRequest) (*AckResponse, error) {
	return call(ctx, c.skipPreparation, req)
}

func (c *Client) SubmitVote(ctx context.Context, req *SubmitVoteRequest) (*SubmitVoteResponse, error) {
	return call(ctx, c.submitVote, req)
}

func (c *Client) JoinRoom(ctx context.Context, req *RoomMembershipRequest) (*AckResponse, error) {
	return call(ctx, c.joinRoom, req)
}

func (c *Client) LeaveRoom(ctx context.Context, req *RoomMembershipRequest) (*AckResponse, error) {
	return call(ctx, c.leaveRoom, req)
}
