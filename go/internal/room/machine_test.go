package room

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showdown/go/internal/apperrors"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/events"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/timer/timertest"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu     sync.Mutex
	rooms  int
	votes  []models.VoteRecord
	scores []models.ParticipantScore
}

func (f *fakeRepo) SaveRoom(context.Context, *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms++
	return nil
}

func (f *fakeRepo) SaveVotes(_ context.Context, votes []models.VoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, votes...)
	return nil
}

func (f *fakeRepo) SaveScores(_ context.Context, scores []models.ParticipantScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, scores...)
	return nil
}

type scorer int

func (s scorer) Score(string, string) int { return int(s) }

type harness struct {
	m         *Machine
	sched     *timertest.Manual
	rec       *broadcast.Recorder
	repo      *fakeRepo
	key       string
	mu        sync.Mutex
	completed []uuid.UUID
}

func newHarness(t *testing.T, participants ...string) *harness {
	t.Helper()
	h := &harness{
		sched: timertest.NewManual(),
		rec:   broadcast.NewRecorder(),
		repo:  &fakeRepo{},
	}
	clock := clockwork.NewFakeClock()
	room := &models.Room{
		ID:               uuid.New(),
		TournamentID:     uuid.New(),
		RoundID:          uuid.New(),
		RoundNumber:      1,
		RoomNumber:       1,
		Stage:            models.RoomStageWaiting,
		ParticipantIDs:   participants,
		PerformanceOrder: append([]string(nil), participants...),
	}
	settings := models.TournamentSettings{
		MaxParticipantsPerRoom: 5,
		PerformanceTimeSec:     60,
		VotingTimeSec:          20,
		PreparationTimeSec:     10,
		AdvancePerRoom:         2,
	}
	deps := Deps{
		Scheduler: h.sched,
		Votes:     voting.NewAggregator(clock, scorer(4)),
		Repo:      h.repo,
		Publisher: h.rec,
		Clock:     clock,
	}
	h.m = NewMachine(room, settings, deps, func(_ context.Context, id uuid.UUID) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.completed = append(h.completed, id)
	})
	h.key = models.RoomTimerKey(room.ID)
	return h
}

func (h *harness) fire(t *testing.T) {
	t.Helper()
	require.True(t, h.sched.Fire(h.key), "expected a running timer")
}

func (h *harness) completions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.completed)
}

func TestRoomRunsEveryStageInOrder(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	ctx := context.Background()

	require.NoError(t, h.m.Start(ctx))
	assert.ErrorIs(t, h.m.Start(ctx), ErrAlreadyStarted)

	for i, performer := range []string{"a", "b", "c"} {
		snap := h.m.Snapshot()
		assert.Equal(t, models.RoomStagePerformance, snap.Stage)
		assert.Equal(t, performer, snap.CurrentPerformerID)
		assert.Equal(t, i, snap.CurrentPerformanceIndex)
		require.NotNil(t, snap.PreparationTimer)
		assert.Equal(t, 10, snap.PreparationTimer.DurationSec)
		assert.Nil(t, snap.Timer)

		h.fire(t)
		snap = h.m.Snapshot()
		assert.Nil(t, snap.PreparationTimer)
		require.NotNil(t, snap.Timer)
		assert.Equal(t, models.TimerKindPerformance, snap.Timer.Kind)
		assert.Equal(t, 60, snap.Timer.DurationSec)

		h.fire(t)
	}

	snap := h.m.Snapshot()
	assert.Equal(t, models.RoomStageVoting, snap.Stage)
	require.NotNil(t, snap.Timer)
	assert.Equal(t, models.TimerKindVoting, snap.Timer.Kind)
	assert.Equal(t, 0, h.completions())

	h.fire(t)

	snap = h.m.Snapshot()
	assert.Equal(t, models.RoomStageResults, snap.Stage)
	assert.Len(t, snap.Winners, 2)
	assert.Len(t, snap.Scores, 3)
	assert.Len(t, snap.Votes, 6)
	assert.Equal(t, 1, h.completions())
	assert.Empty(t, h.sched.Keys())

	assert.Len(t, h.repo.votes, 6)
	assert.Len(t, h.repo.scores, 3)
	assert.Len(t, h.rec.Named(events.PerformanceStarted), 3)
	assert.Len(t, h.rec.Named(events.PerformanceNext), 2)
	assert.Len(t, h.rec.Named(events.VotingAutoScored), 1)
	assert.Len(t, h.rec.On(broadcast.RoomTopic(snap.ID), events.ResultsWinnersAnnounced), 1)
	assert.Equal(t, 7, h.sched.Starts(h.key))
}

func TestVotingCompletesEarlyWhenEveryoneVoted(t *testing.T) {
	h := newHarness(t, "a", "b")
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))
	for i := 0; i < 4; i++ {
		h.fire(t)
	}

	all, err := h.m.SubmitVote(ctx, "a", []voting.Ballot{{TargetID: "b", Score: 5}})
	require.NoError(t, err)
	assert.False(t, all)
	assert.Equal(t, 0, h.completions())

	_, err = h.m.SubmitVote(ctx, "a", []voting.Ballot{{TargetID: "a", Score: 5}})
	assert.ErrorIs(t, err, voting.ErrSelfVote)

	all, err = h.m.SubmitVote(ctx, "b", []voting.Ballot{{TargetID: "a", Score: 2}})
	require.NoError(t, err)
	assert.True(t, all)

	snap := h.m.Snapshot()
	assert.Equal(t, models.RoomStageResults, snap.Stage)
	assert.Equal(t, []string{"b", "a"}, snap.Winners)
	assert.Equal(t, 1, h.completions())
	assert.False(t, h.sched.Active(h.key), "voting timer is cancelled")

	_, err = h.m.SubmitVote(ctx, "a", []voting.Ballot{{TargetID: "b", Score: 1}})
	assert.ErrorIs(t, err, voting.ErrNotVoting)
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, "a", "b")
	ctx := context.Background()

	assert.ErrorIs(t, h.m.PauseTimer(ctx), ErrNoActiveTimer)
	assert.ErrorIs(t, h.m.ResumeTimer(ctx), ErrNoActiveTimer)

	require.NoError(t, h.m.Start(ctx))
	h.fire(t)

	assert.ErrorIs(t, h.m.ResumeTimer(ctx), ErrTimerNotPaused)
	require.NoError(t, h.m.PauseTimer(ctx))
	assert.ErrorIs(t, h.m.PauseTimer(ctx), ErrNoActiveTimer)
	assert.False(t, h.sched.Fire(h.key), "paused timers do not expire")

	snap := h.m.Snapshot()
	require.NotNil(t, snap.Timer)
	assert.True(t, snap.Timer.IsPaused)
	assert.Equal(t, 60, snap.Timer.RemainingSec)

	require.NoError(t, h.m.ResumeTimer(ctx))
	h.fire(t)

	snap = h.m.Snapshot()
	assert.Equal(t, "b", snap.CurrentPerformerID)
	require.NotNil(t, snap.PreparationTimer)
	assert.Len(t, h.rec.Named(events.TimerPaused), 1)
	assert.Len(t, h.rec.Named(events.TimerResumed), 1)
}

func TestSkipPreparation(t *testing.T) {
	h := newHarness(t, "a", "b")
	ctx := context.Background()

	assert.ErrorIs(t, h.m.SkipPreparation(ctx), ErrNoPreparationTimer)
	require.NoError(t, h.m.Start(ctx))

	stale := h.sched.Callback(h.key)
	require.NotNil(t, stale)
	require.NoError(t, h.m.SkipPreparation(ctx))

	snap := h.m.Snapshot()
	assert.Nil(t, snap.PreparationTimer)
	require.NotNil(t, snap.Timer)
	assert.Equal(t, models.TimerKindPerformance, snap.Timer.Kind)
	assert.ErrorIs(t, h.m.SkipPreparation(ctx), ErrNoPreparationTimer)

	// the preparation callback may already be running when the skip happens
	starts := h.sched.Starts(h.key)
	stale()
	assert.Equal(t, starts, h.sched.Starts(h.key))
	assert.Equal(t, models.TimerKindPerformance, h.m.Snapshot().Timer.Kind)
}

func TestDepartureOfCurrentPerformerAdvancesTurn(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))
	h.fire(t)

	require.NoError(t, h.m.HandleDeparture(ctx, "a"))

	snap := h.m.Snapshot()
	assert.Equal(t, []string{"b", "c"}, snap.ParticipantIDs)
	assert.Equal(t, []string{"b", "c"}, snap.PerformanceOrder)
	assert.Equal(t, 0, snap.CurrentPerformanceIndex)
	assert.Equal(t, "b", snap.CurrentPerformerID)
	require.NotNil(t, snap.PreparationTimer)
	assert.Nil(t, snap.Timer)
	assert.Len(t, h.rec.Named(events.ParticipantDisconnected), 1)

	assert.ErrorIs(t, h.m.HandleDeparture(ctx, "a"), ErrNotParticipant)
}

func TestDepartureBeforePointerKeepsCurrentPerformer(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))
	h.fire(t)
	h.fire(t)

	require.Equal(t, "b", h.m.Snapshot().CurrentPerformerID)
	require.NoError(t, h.m.HandleDeparture(ctx, "a"))

	snap := h.m.Snapshot()
	assert.Equal(t, "b", snap.CurrentPerformerID)
	assert.Equal(t, 0, snap.CurrentPerformanceIndex)
	require.NotNil(t, snap.PreparationTimer, "the running turn is not restarted")
}

func TestDepartureOfLastPerformerOpensVoting(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))
	for i := 0; i < 4; i++ {
		h.fire(t)
	}
	require.Equal(t, "c", h.m.Snapshot().CurrentPerformerID)

	require.NoError(t, h.m.HandleDeparture(ctx, "c"))

	snap := h.m.Snapshot()
	assert.Equal(t, models.RoomStageVoting, snap.Stage)
	assert.Equal(t, []string{"a", "b"}, snap.ParticipantIDs)
}

func TestRoomEmptiedByDeparturesCompletesWithoutWinners(t *testing.T) {
	h := newHarness(t, "a", "b")
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))

	require.NoError(t, h.m.HandleDeparture(ctx, "b"))
	assert.Equal(t, 0, h.completions())
	require.NoError(t, h.m.HandleDeparture(ctx, "a"))

	snap := h.m.Snapshot()
	assert.Equal(t, models.RoomStageCompleted, snap.Stage)
	assert.Empty(t, snap.Winners)
	assert.Equal(t, 1, h.completions())
	assert.Empty(t, h.sched.Keys())
}

func TestDepartureDuringVotingCanFinishTheVote(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))
	for i := 0; i < 6; i++ {
		h.fire(t)
	}

	_, err := h.m.SubmitVote(ctx, "a", []voting.Ballot{{TargetID: "b", Score: 5}})
	require.NoError(t, err)
	_, err = h.m.SubmitVote(ctx, "b", []voting.Ballot{{TargetID: "a", Score: 3}})
	require.NoError(t, err)

	require.NoError(t, h.m.HandleDeparture(ctx, "c"))

	snap := h.m.Snapshot()
	assert.Equal(t, models.RoomStageResults, snap.Stage)
	assert.Equal(t, []string{"b", "a"}, snap.Winners)
	assert.Equal(t, 1, h.completions())

	require.NoError(t, h.m.HandleDeparture(ctx, "a"), "terminal rooms ignore departures")
	assert.Equal(t, []string{"b", "a"}, h.m.Snapshot().Winners)
}

func TestJoinAndLeave(t *testing.T) {
	h := newHarness(t, "a", "b")
	ctx := context.Background()

	require.NoError(t, h.m.Join(ctx, "a"))
	require.NoError(t, h.m.Leave(ctx, "a"))
	err := h.m.Join(ctx, "z")
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Len(t, h.rec.Named(events.ParticipantJoined), 1)
	assert.Len(t, h.rec.Named(events.ParticipantLeft), 1)
	assert.Equal(t, []string{"a", "b"}, h.m.Snapshot().ParticipantIDs)
}

func TestMarkCompletedArchivesResults(t *testing.T) {
	h := newHarness(t, "a", "b")
	ctx := context.Background()
	h.m.MarkCompleted(ctx)
	assert.Equal(t, models.RoomStageWaiting, h.m.Snapshot().Stage)

	require.NoError(t, h.m.Start(ctx))
	for i := 0; i < 5; i++ {
		h.fire(t)
	}
	require.True(t, h.m.Settled())

	h.m.MarkCompleted(ctx)
	assert.Equal(t, models.RoomStageCompleted, h.m.Snapshot().Stage)
	assert.Len(t, h.m.Snapshot().Winners, 2)
}
