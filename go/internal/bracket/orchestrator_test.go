package bracket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showdown/go/internal/apperrors"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/mcdev12/showdown/go/internal/events"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/repository"
	"github.com/mcdev12/showdown/go/internal/timer"
	"github.com/mcdev12/showdown/go/internal/timer/timertest"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConns struct {
	mu      sync.Mutex
	offline map[string]bool
}

func (c *fakeConns) IsConnected(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.offline[userID]
}

func (c *fakeConns) drop(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline[userID] = true
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	orch   *Orchestrator
	repo   *repository.Repository
	sched  *timertest.Manual
	rec    *broadcast.Recorder
	conns  *fakeConns
	clock  *clockwork.FakeClock
	onTick timer.TickFunc
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		repo:  repository.NewRepository(docstore.NewMemory()),
		sched: timertest.NewManual(),
		rec:   broadcast.NewRecorder(),
		conns: &fakeConns{offline: make(map[string]bool)},
		clock: clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)),
	}
	h.build(h.repo)
	return h
}

// build replaces the orchestrator with one backed by repo.
func (h *harness) build(repo Repository) {
	h.orch = NewOrchestrator(Config{
		Repo:        repo,
		Publisher:   h.rec,
		Connections: h.conns,
		Clock:       h.clock,
		NewScheduler: func(onTick timer.TickFunc) Scheduler {
			h.onTick = onTick
			return h.sched
		},
		Scorer:  voting.NewSeededScorer(7),
		Shuffle: func([]string) {},
	})
}

type roundStatusLog struct {
	*repository.Repository

	mu       sync.Mutex
	statuses []models.RoundStatus
}

func (r *roundStatusLog) SaveRound(ctx context.Context, round *models.Round) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, round.Status)
	r.mu.Unlock()
	return r.Repository.SaveRound(ctx, round)
}

func (h *harness) tournament(settings models.TournamentSettings, userIDs ...string) uuid.UUID {
	h.t.Helper()
	tour, err := h.orch.CreateTournament(h.ctx, CreateTournamentRequest{Name: "friday night", Settings: settings})
	require.NoError(h.t, err)
	for _, id := range userIDs {
		ok, err := h.orch.RegisterParticipant(h.ctx, tour.ID, id)
		require.NoError(h.t, err)
		require.True(h.t, ok)
	}
	return tour.ID
}

func (h *harness) rounds(tournamentID uuid.UUID) []models.Round {
	h.t.Helper()
	rounds, err := h.repo.ListRounds(h.ctx, tournamentID)
	require.NoError(h.t, err)
	return rounds
}

func (h *harness) currentRooms(tournamentID uuid.UUID) []uuid.UUID {
	h.t.Helper()
	rounds := h.rounds(tournamentID)
	require.NotEmpty(h.t, rounds)
	return rounds[len(rounds)-1].RoomIDs
}

func (h *harness) room(id uuid.UUID) *models.Room {
	h.t.Helper()
	r, err := h.orch.GetRoom(h.ctx, id)
	require.NoError(h.t, err)
	return r
}

// performAll expires preparation and performance timers until the room votes.
func (h *harness) performAll(roomID uuid.UUID) {
	h.t.Helper()
	key := models.RoomTimerKey(roomID)
	for i := 0; i < 100 && h.room(roomID).Stage == models.RoomStagePerformance; i++ {
		require.True(h.t, h.sched.Fire(key))
	}
	require.Equal(h.t, models.RoomStageVoting, h.room(roomID).Stage)
}

// voteAll has every participant score every other participant by weight.
func (h *harness) voteAll(roomID uuid.UUID, weight map[string]int) {
	h.t.Helper()
	r := h.room(roomID)
	for _, voter := range r.ParticipantIDs {
		var ballots []voting.Ballot
		for _, target := range r.ParticipantIDs {
			if target != voter {
				ballots = append(ballots, voting.Ballot{TargetID: target, Score: weight[target]})
			}
		}
		_, err := h.orch.SubmitVote(h.ctx, roomID, voter, ballots)
		require.NoError(h.t, err)
	}
}

func TestCreateTournamentValidation(t *testing.T) {
	h := newHarness(t)

	tour, err := h.orch.CreateTournament(h.ctx, CreateTournamentRequest{Name: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusCreated, tour.Status)
	assert.Equal(t, models.DefaultTournamentSettings(), tour.Settings)

	stored, err := h.repo.GetTournament(h.ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, "defaults", stored.Name)
	assert.Len(t, h.rec.On(broadcast.GlobalTopic, events.TournamentCreated), 1)

	tests := []struct {
		name     string
		req      CreateTournamentRequest
		expected error
	}{
		{"missing name", CreateTournamentRequest{Name: "  "}, ErrNameRequired},
		{"room of one", CreateTournamentRequest{Name: "x", Settings: models.TournamentSettings{MaxParticipantsPerRoom: 1}}, ErrRoomTooSmall},
		{"negative advance", CreateTournamentRequest{Name: "x", Settings: models.TournamentSettings{AdvancePerRoom: -1}}, ErrInvalidAdvance},
		{"negative duration", CreateTournamentRequest{Name: "x", Settings: models.TournamentSettings{VotingTimeSec: -5}}, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.CreateTournament(h.ctx, tt.req)
			assert.ErrorIs(t, err, tt.expected)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestRegisterParticipant(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{})

	ok, err := h.orch.RegisterParticipant(h.ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.orch.RegisterParticipant(h.ctx, id, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "duplicate registration is not an error")

	_, err = h.orch.RegisterParticipant(h.ctx, id, "")
	assert.ErrorIs(t, err, ErrUserRequired)

	_, err = h.orch.RegisterParticipant(h.ctx, uuid.New(), "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusRegistration, tour.Status)
	assert.Equal(t, []string{"alice"}, tour.Participants)

	_, err = h.orch.RegisterParticipant(h.ctx, id, "bob")
	require.NoError(t, err)
	_, err = h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)

	_, err = h.orch.RegisterParticipant(h.ctx, id, "carol")
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestStartTournamentNarrowsToConnectedUsers(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b", "c")

	h.conns.drop("b")
	h.conns.drop("c")
	_, err := h.orch.StartTournament(h.ctx, id)
	assert.ErrorIs(t, err, ErrNotEnoughParticipants)

	h.conns.mu.Lock()
	delete(h.conns.offline, "c")
	h.conns.mu.Unlock()

	tour, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusInProgress, tour.Status)
	assert.Equal(t, 1, tour.CurrentRound)
	assert.Equal(t, []string{"a", "c"}, tour.Participants)

	rooms := h.currentRooms(id)
	require.Len(t, rooms, 1)
	r := h.room(rooms[0])
	assert.Equal(t, []string{"a", "c"}, r.ParticipantIDs)
	assert.Equal(t, models.RoomStagePerformance, r.Stage)
	assert.Equal(t, "a", r.CurrentPerformerID)

	assert.Len(t, h.rec.On(broadcast.UserTopic("a"), events.RoomAssigned), 1)
	assert.Empty(t, h.rec.On(broadcast.UserTopic("b"), events.RoomAssigned))

	_, err = h.orch.StartTournament(h.ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
}

func TestSixParticipantsPlayToOneWinner(t *testing.T) {
	h := newHarness(t)
	players := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	weight := map[string]int{"u1": 5, "u2": 4, "u3": 3, "u4": 2, "u5": 1, "u6": 1}
	id := h.tournament(models.TournamentSettings{MaxParticipantsPerRoom: 5, AdvancePerRoom: 2}, players...)

	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)

	first := h.currentRooms(id)
	require.Len(t, first, 1, "six participants at capacity five share one room")
	assert.Len(t, h.room(first[0]).ParticipantIDs, 6)

	h.performAll(first[0])
	h.voteAll(first[0], weight)

	assert.Equal(t, []string{"u1", "u2"}, h.room(first[0]).Winners)
	assert.Equal(t, models.RoomStageCompleted, h.room(first[0]).Stage)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, tour.CurrentRound)
	assert.Equal(t, []string{"u1", "u2"}, tour.Participants)
	for _, u := range []string{"u3", "u4", "u5", "u6"} {
		assert.Len(t, h.rec.On(broadcast.UserTopic(u), events.RoundParticipantEliminated), 1, u)
	}

	second := h.currentRooms(id)
	require.Len(t, second, 1)
	h.performAll(second[0])
	h.voteAll(second[0], weight)

	tour, err = h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusCompleted, tour.Status)
	assert.Equal(t, "u1", tour.WinnerID)
	assert.NotNil(t, tour.CompletedAt)

	rounds := h.rounds(id)
	require.Len(t, rounds, 2)
	for _, r := range rounds {
		assert.Equal(t, models.RoundStatusCompleted, r.Status)
	}
	assert.Len(t, h.rec.On(broadcast.GlobalTopic, events.TournamentWinnerAnnounced), 1)
	assert.Empty(t, h.sched.Keys(), "no timer outlives the tournament")

	state, err := h.orch.ParticipantStatus(h.ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusWinner, state.Status)
	state, err = h.orch.ParticipantStatus(h.ctx, id, "u4")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusEliminated, state.Status)
}

func TestRoundHistoryIncludesStoredResults(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{MaxParticipantsPerRoom: 5, AdvancePerRoom: 1}, "a", "b", "c")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)

	roomID := h.currentRooms(id)[0]
	h.performAll(roomID)
	h.voteAll(roomID, map[string]int{"a": 5, "b": 3, "c": 1})

	history, err := h.orch.RoundHistory(h.ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoundStatusCompleted, history[0].Round.Status)
	require.Len(t, history[0].Rooms, 1)

	r := history[0].Rooms[0]
	assert.Equal(t, []string{"a"}, r.Winners)
	require.Len(t, r.Scores, 3)
	assert.Equal(t, "a", r.Scores[0].UserID)
	assert.Equal(t, 10, r.Scores[0].TotalScore)
	assert.Len(t, r.Votes, 6)

	_, err = h.orch.RoundHistory(h.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestManyRoomsAdvanceUntilOneWinner(t *testing.T) {
	h := newHarness(t)
	var players []string
	weight := make(map[string]int)
	for i, id := range users(12) {
		players = append(players, id)
		weight[id] = 5 - i/3
		if weight[id] < 1 {
			weight[id] = 1
		}
	}
	id := h.tournament(models.TournamentSettings{MaxParticipantsPerRoom: 5, AdvancePerRoom: 2}, players...)

	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)

	var roomCounts, roundSizes []int
	for round := 0; round < 10; round++ {
		tour, err := h.orch.GetTournament(h.ctx, id)
		require.NoError(t, err)
		if tour.Status != models.TournamentStatusInProgress {
			break
		}
		rooms := h.currentRooms(id)
		roomCounts = append(roomCounts, len(rooms))
		roundSizes = append(roundSizes, len(tour.Participants))
		for _, roomID := range rooms {
			h.performAll(roomID)
		}
		for _, roomID := range rooms {
			h.voteAll(roomID, weight)
		}
	}

	assert.Equal(t, []int{3, 1, 1}, roomCounts)
	assert.Equal(t, []int{12, 6, 2}, roundSizes)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusCompleted, tour.Status)
	assert.Contains(t, players, tour.WinnerID)
	assert.Len(t, h.rec.Named(events.RoundCompleted), 3)
}

func TestRoundBarrierRunsOnceUnderConcurrentCompletion(t *testing.T) {
	h := newHarness(t)
	weight := map[string]int{"a": 5, "b": 1, "c": 5, "d": 1}
	id := h.tournament(models.TournamentSettings{MaxParticipantsPerRoom: 2, AdvancePerRoom: 1}, "a", "b", "c", "d")

	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	rooms := h.currentRooms(id)
	require.Len(t, rooms, 2)
	for _, roomID := range rooms {
		h.performAll(roomID)
	}

	h.voteAll(rooms[0], weight)
	assert.Len(t, h.rounds(id), 1, "the round waits for its second room")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.orch.OnRoomCompleted(h.ctx, rooms[0]))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.orch.SubmitVote(h.ctx, rooms[1], "c", []voting.Ballot{{TargetID: "d", Score: 1}})
		assert.NoError(t, err)
		_, err = h.orch.SubmitVote(h.ctx, rooms[1], "d", []voting.Ballot{{TargetID: "c", Score: 5}})
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.NoError(t, h.orch.OnRoomCompleted(h.ctx, rooms[1]))
	require.NoError(t, h.orch.OnRoomCompleted(h.ctx, rooms[0]))

	rounds := h.rounds(id)
	require.Len(t, rounds, 2, "exactly one next round")
	assert.Equal(t, []string{"a", "c"}, rounds[1].ParticipantIDs)
	assert.Len(t, h.rec.Named(events.RoundCompleted), 1)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, tour.CurrentRound)
}

func TestCountdownStartsTournament(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b")
	key := models.TournamentTimerKey(id)

	assert.ErrorIs(t, h.orch.StartCountdown(h.ctx, id), ErrStartNotScheduled)

	tour, err := h.orch.ScheduleStart(h.ctx, id, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, tour.StartAt)
	assert.Equal(t, h.clock.Now().Add(DefaultStartDelay), *tour.StartAt)
	assert.Equal(t, models.TournamentStatusCreated, tour.Status)

	require.NoError(t, h.orch.StartCountdown(h.ctx, id))
	remaining, ok := h.sched.Remaining(key)
	require.True(t, ok)
	assert.Equal(t, 10, remaining)
	assert.Len(t, h.rec.On(broadcast.UserTopic("b"), events.TournamentCountdown), 1)

	h.onTick(key, 9)
	ticks := h.rec.On(broadcast.TournamentTopic(id), events.TournamentStartTimerTick)
	require.Len(t, ticks, 1)
	assert.JSONEq(t, `{"tournament_id":"`+id.String()+`","time_left_sec":9,"start_at":"2026-05-01T18:00:10Z"}`, string(ticks[0].Data))
	assert.Len(t, h.rec.On(broadcast.UserTopic("a"), events.TournamentStartTimerTick), 1)

	require.True(t, h.sched.Fire(key))
	tour, err = h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusInProgress, tour.Status)
	assert.Len(t, h.rec.Named(events.TournamentAutoStarted), 1)

	_, err = h.orch.ScheduleStart(h.ctx, id, time.Time{})
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
}

func TestCountdownInThePastStartsImmediately(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b")

	_, err := h.orch.ScheduleStart(h.ctx, id, h.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, h.orch.StartCountdown(h.ctx, id))

	assert.False(t, h.sched.Active(models.TournamentTimerKey(id)))
	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusInProgress, tour.Status)
}

func TestRoomTicksArePublishedToTheRoom(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	roomID := h.currentRooms(id)[0]

	h.onTick(models.RoomTimerKey(roomID), 4)
	h.onTick("room:not-a-uuid", 4)

	ticks := h.rec.On(broadcast.RoomTopic(roomID), events.TimerTick)
	require.Len(t, ticks, 1)
	assert.JSONEq(t, `{"owner_key":"`+models.RoomTimerKey(roomID)+`","remaining_sec":4}`, string(ticks[0].Data))
}

func TestDisconnectDuringPerformance(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b", "c")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	roomID := h.currentRooms(id)[0]
	require.True(t, h.sched.Fire(models.RoomTimerKey(roomID)))
	require.Equal(t, "a", h.room(roomID).CurrentPerformerID)

	h.conns.drop("a")
	h.orch.HandleDisconnect(h.ctx, "a")

	r := h.room(roomID)
	assert.Equal(t, []string{"b", "c"}, r.ParticipantIDs)
	assert.Equal(t, "b", r.CurrentPerformerID)
	assert.NotNil(t, r.PreparationTimer)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, tour.Participants)
	assert.Len(t, h.rec.On(broadcast.TournamentTopic(id), events.ParticipantDisconnected), 1)

	states := map[string]models.ParticipantStatus{
		"a": models.ParticipantStatusEliminated,
		"b": models.ParticipantStatusPerforming,
		"c": models.ParticipantStatusActive,
	}
	for user, want := range states {
		state, err := h.orch.ParticipantStatus(h.ctx, id, user)
		require.NoError(t, err)
		assert.Equal(t, want, state.Status, user)
	}
	state, err := h.orch.ParticipantStatus(h.ctx, id, "c")
	require.NoError(t, err)
	require.NotNil(t, state.RoomID)
	assert.Equal(t, roomID, *state.RoomID)

	h.conns.drop("c")
	state, err = h.orch.ParticipantStatus(h.ctx, id, "c")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusOffline, state.Status)

	_, err = h.orch.ParticipantStatus(h.ctx, id, "zed")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestWinnerWhoLeavesWhileRoundWaitsDoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	weight := map[string]int{"a": 5, "b": 1, "c": 5, "d": 1, "e": 5, "f": 1}
	id := h.tournament(models.TournamentSettings{MaxParticipantsPerRoom: 2, AdvancePerRoom: 1}, "a", "b", "c", "d", "e", "f")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)

	rooms := h.currentRooms(id)
	require.Len(t, rooms, 3)
	for _, roomID := range rooms {
		h.performAll(roomID)
	}
	h.voteAll(rooms[0], weight)
	require.Equal(t, models.RoomStageResults, h.room(rooms[0]).Stage)
	require.Equal(t, []string{"a"}, h.room(rooms[0]).Winners)

	h.conns.drop("a")
	h.orch.HandleDisconnect(h.ctx, "a")
	state, err := h.orch.ParticipantStatus(h.ctx, id, "a")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusEliminated, state.Status)

	h.voteAll(rooms[1], weight)
	h.voteAll(rooms[2], weight)

	rounds := h.rounds(id)
	require.Len(t, rounds, 2)
	assert.Equal(t, []string{"c", "e"}, rounds[1].ParticipantIDs)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, tour.CurrentRound)
	assert.Equal(t, []string{"c", "e"}, tour.Participants)

	assert.Equal(t, []string{"a"}, h.room(rooms[0]).Winners, "the room result is kept")
	assert.Len(t, h.rec.On(broadcast.UserTopic("a"), events.RoundParticipantEliminated), 1)
	assert.Empty(t, h.rec.On(broadcast.UserTopic("a"), events.RoundParticipantAdvances))
}

func TestKickParticipant(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b", "c", "d")

	require.NoError(t, h.orch.KickParticipant(h.ctx, id, "d"))
	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tour.Participants)

	assert.ErrorIs(t, h.orch.KickParticipant(h.ctx, id, "d"), ErrParticipantNotFound)
	assert.ErrorIs(t, h.orch.KickParticipant(h.ctx, id, ""), ErrUserRequired)
	assert.ErrorIs(t, h.orch.KickParticipant(h.ctx, uuid.New(), "a"), ErrTournamentNotFound)

	_, err = h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	roomID := h.currentRooms(id)[0]
	require.True(t, h.sched.Fire(models.RoomTimerKey(roomID)))
	require.Equal(t, "a", h.room(roomID).CurrentPerformerID)

	require.NoError(t, h.orch.KickParticipant(h.ctx, id, "a"))

	r := h.room(roomID)
	assert.Equal(t, []string{"b", "c"}, r.ParticipantIDs)
	assert.Equal(t, "b", r.CurrentPerformerID)

	tour, err = h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, tour.Participants)

	assert.Len(t, h.rec.On(broadcast.TournamentTopic(id), events.ParticipantKicked), 2)
	assert.Empty(t, h.rec.On(broadcast.TournamentTopic(id), events.ParticipantDisconnected))
	for _, user := range []string{"a", "d"} {
		removed := h.rec.On(broadcast.UserTopic(user), events.TournamentRemoved)
		require.Len(t, removed, 1, user)
		assert.JSONEq(t, `{"tournament_id":"`+id.String()+`","user_id":"`+user+`","reason":"kicked"}`, string(removed[0].Data))
	}

	state, err := h.orch.ParticipantStatus(h.ctx, id, "a")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusEliminated, state.Status)
}

func TestFinishedTournamentIsReleased(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{AdvancePerRoom: 1}, "a", "b")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	roomID := h.currentRooms(id)[0]
	h.performAll(roomID)
	h.voteAll(roomID, map[string]int{"a": 5, "b": 1})

	h.orch.mu.RLock()
	assert.Empty(t, h.orch.runs)
	assert.Empty(t, h.orch.rooms)
	h.orch.mu.RUnlock()

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusCompleted, tour.Status)
	assert.Equal(t, "a", tour.WinnerID)

	r := h.room(roomID)
	assert.Equal(t, models.RoomStageCompleted, r.Stage)
	assert.Equal(t, []string{"a"}, r.Winners)

	assert.NoError(t, h.orch.OnRoomCompleted(h.ctx, roomID))
	assert.ErrorIs(t, h.orch.PauseRoomTimer(h.ctx, roomID), ErrRoomClosed)
	_, err = h.orch.SubmitVote(h.ctx, roomID, "a", []voting.Ballot{{TargetID: "b", Score: 3}})
	assert.ErrorIs(t, err, ErrRoomClosed)

	state, err := h.orch.ParticipantStatus(h.ctx, id, "a")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusWinner, state.Status)
	state, err = h.orch.ParticipantStatus(h.ctx, id, "b")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusEliminated, state.Status)
	_, err = h.orch.ParticipantStatus(h.ctx, id, "zed")
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	_, err = h.orch.RegisterParticipant(h.ctx, id, "c")
	assert.ErrorIs(t, err, ErrTournamentFinished)
	assert.ErrorIs(t, h.orch.KickParticipant(h.ctx, id, "a"), ErrTournamentFinished)
}

func TestRoundIsStoredPendingBeforeItsRoomsStart(t *testing.T) {
	h := newHarness(t)
	saves := &roundStatusLog{Repository: h.repo}
	h.build(saves)
	id := h.tournament(models.TournamentSettings{}, "a", "b")

	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []models.RoundStatus{models.RoundStatusPending, models.RoundStatusInProgress}, saves.statuses)
	round := h.rounds(id)[0]
	assert.Equal(t, models.RoundStatusInProgress, round.Status)
	require.NotNil(t, round.StartedAt)
	assert.True(t, round.StartedAt.Equal(h.clock.Now()))
}

func TestEveryoneLeavingCancelsTournament(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	roomID := h.currentRooms(id)[0]

	h.orch.HandleDisconnect(h.ctx, "a")
	h.orch.HandleDisconnect(h.ctx, "b")
	h.orch.HandleDisconnect(h.ctx, "b")

	r := h.room(roomID)
	assert.Equal(t, models.RoomStageCompleted, r.Stage)
	assert.Empty(t, r.Winners)

	tour, err := h.orch.GetTournament(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusCancelled, tour.Status)
	assert.Len(t, h.rec.On(broadcast.TournamentTopic(id), events.TournamentStopped), 1)
}

func TestRoomCommands(t *testing.T) {
	h := newHarness(t)
	id := h.tournament(models.TournamentSettings{}, "a", "b")
	_, err := h.orch.StartTournament(h.ctx, id)
	require.NoError(t, err)
	roomID := h.currentRooms(id)[0]
	unknown := uuid.New()

	require.NoError(t, h.orch.SkipPreparation(h.ctx, roomID))
	assert.Equal(t, models.TimerKindPerformance, h.room(roomID).Timer.Kind)

	require.NoError(t, h.orch.PauseRoomTimer(h.ctx, roomID))
	assert.True(t, h.room(roomID).Timer.IsPaused)
	require.NoError(t, h.orch.ResumeRoomTimer(h.ctx, roomID))
	assert.False(t, h.room(roomID).Timer.IsPaused)

	require.NoError(t, h.orch.JoinRoom(h.ctx, roomID, "a"))
	require.NoError(t, h.orch.LeaveRoom(h.ctx, roomID, "b"))
	assert.Len(t, h.rec.On(broadcast.RoomTopic(roomID), events.ParticipantJoined), 1)
	assert.Len(t, h.rec.On(broadcast.RoomTopic(roomID), events.ParticipantLeft), 1)

	_, err = h.orch.SubmitVote(h.ctx, roomID, "a", []voting.Ballot{{TargetID: "b", Score: 3}})
	assert.ErrorIs(t, err, voting.ErrNotVoting)

	assert.ErrorIs(t, h.orch.PauseRoomTimer(h.ctx, unknown), ErrRoomNotFound)
	assert.ErrorIs(t, h.orch.ResumeRoomTimer(h.ctx, unknown), ErrRoomNotFound)
	assert.ErrorIs(t, h.orch.SkipPreparation(h.ctx, unknown), ErrRoomNotFound)
	assert.ErrorIs(t, h.orch.JoinRoom(h.ctx, unknown, "a"), ErrRoomNotFound)
	assert.ErrorIs(t, h.orch.OnRoomCompleted(h.ctx, unknown), ErrRoomNotFound)
	_, err = h.orch.GetRoom(h.ctx, unknown)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = h.orch.GetTournament(h.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestListTournamentsAndShutdown(t *testing.T) {
	h := newHarness(t)
	open := h.tournament(models.TournamentSettings{}, "a")
	running := h.tournament(models.TournamentSettings{}, "a", "b")
	_, err := h.orch.StartTournament(h.ctx, running)
	require.NoError(t, err)

	all, err := h.orch.ListTournaments(h.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	live, err := h.orch.ListTournaments(h.ctx, models.TournamentStatusInProgress)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, running, live[0].ID)
	assert.NotEqual(t, open, live[0].ID)

	require.NotEmpty(t, h.sched.Keys())
	h.orch.Shutdown()
	assert.Empty(t, h.sched.Keys())
}

func TestRestoreLoadsStoredTournaments(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()

	open := &models.Tournament{
		ID:           uuid.New(),
		Name:         "seeded",
		Status:       models.TournamentStatusRegistration,
		Settings:     models.DefaultTournamentSettings(),
		Participants: []string{"u1", "u2"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	stale := &models.Tournament{
		ID:           uuid.New(),
		Name:         "interrupted",
		Status:       models.TournamentStatusInProgress,
		Settings:     models.DefaultTournamentSettings(),
		Participants: []string{"u3", "u4"},
		CurrentRound: 1,
		CreatedAt:    now.Add(time.Second),
		UpdatedAt:    now,
	}
	done := &models.Tournament{
		ID:        uuid.New(),
		Name:      "finished",
		Status:    models.TournamentStatusCompleted,
		Settings:  models.DefaultTournamentSettings(),
		CreatedAt: now.Add(2 * time.Second),
		UpdatedAt: now,
	}
	for _, tour := range []*models.Tournament{open, stale, done} {
		require.NoError(t, h.repo.SaveTournament(h.ctx, tour))
	}

	restored, err := h.orch.Restore(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	ok, err := h.orch.RegisterParticipant(h.ctx, open.ID, "u5")
	require.NoError(t, err)
	assert.True(t, ok)

	started, err := h.orch.StartTournament(h.ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusInProgress, started.Status)

	got, err := h.orch.GetTournament(h.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusCancelled, got.Status)
	assert.Len(t, h.rec.On(broadcast.TournamentTopic(stale.ID), events.TournamentStopped), 1)

	_, err = h.orch.StartTournament(h.ctx, done.ID)
	assert.ErrorIs(t, err, ErrTournamentFinished)
	_, err = h.orch.StartTournament(h.ctx, stale.ID)
	assert.ErrorIs(t, err, ErrTournamentFinished)

	again, err := h.orch.Restore(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}
