// Package room drives a single room through its stages:
// waiting → performance (preparation and performance per performer) → voting → results.
//
// A Machine owns its room document. All mutations happen under the machine's lock;
// timer callbacks re-enter through the same lock and carry a sequence token so a
// callback scheduled for a stage that has since been left is ignored. Completion is
// reported to the owner exactly once, after the lock is released.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/events"
	"github.com/mcdev12/showdown/go/internal/metrics"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/rs/zerolog/log"
)

// Scheduler is the timer contract a room needs.
type Scheduler interface {
	Start(key string, seconds int, onExpire func()) error
	Pause(key string) (int, bool)
	Resume(key string, onExpire func()) bool
	Stop(key string)
	Remaining(key string) (int, bool)
}

// Repository persists room state. Failures are logged and never stall the room.
type Repository interface {
	SaveRoom(ctx context.Context, room *models.Room) error
	SaveVotes(ctx context.Context, votes []models.VoteRecord) error
	SaveScores(ctx context.Context, scores []models.ParticipantScore) error
}

// CompletionFunc is invoked once when a room reaches a terminal stage.
type CompletionFunc func(ctx context.Context, roomID uuid.UUID)

// Deps are the collaborators shared by every room of a tournament.
type Deps struct {
	Scheduler Scheduler
	Votes     *voting.Aggregator
	Repo      Repository
	Publisher broadcast.Publisher
	Clock     clockwork.Clock
}

// Machine is the state machine of one room.
type Machine struct {
	id       uuid.UUID
	key      string
	topic    broadcast.Topic
	settings models.TournamentSettings

	sched      Scheduler
	votes      *voting.Aggregator
	repo       Repository
	pub        broadcast.Publisher
	clock      clockwork.Clock
	onComplete CompletionFunc

	mu       sync.Mutex
	room     *models.Room
	ctx      context.Context
	seq      uint64
	reported bool
}

// NewMachine wraps room, which must be in the waiting stage.
func NewMachine(room *models.Room, settings models.TournamentSettings, deps Deps, onComplete CompletionFunc) *Machine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Publisher == nil {
		deps.Publisher = broadcast.LogPublisher{}
	}
	metrics.RoomStarted()
	return &Machine{
		id:         room.ID,
		key:        models.RoomTimerKey(room.ID),
		topic:      broadcast.RoomTopic(room.ID),
		settings:   settings,
		sched:      deps.Scheduler,
		votes:      deps.Votes,
		repo:       deps.Repo,
		pub:        deps.Publisher,
		clock:      deps.Clock,
		onComplete: onComplete,
		room:       room,
		ctx:        context.Background(),
	}
}

func (m *Machine) ID() uuid.UUID { return m.id }

// Start selects the first performer and opens their preparation timer.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.room.Stage != models.RoomStageWaiting {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.ctx = context.WithoutCancel(ctx)

	now := m.clock.Now()
	m.room.StartedAt = &now

	if len(m.room.PerformanceOrder) == 0 {
		m.unlockAndReport(m.abandonLocked())
		return nil
	}

	m.room.CurrentPerformanceIndex = 0
	m.room.CurrentPerformerID = m.room.PerformanceOrder[0]
	m.enterStageLocked(models.RoomStagePerformance)
	log.Info().
		Str("room_id", m.id.String()).
		Strs("order", m.room.PerformanceOrder).
		Msg("room started")
	err := m.beginPreparationLocked()
	m.mu.Unlock()
	return err
}

// PauseTimer freezes the room's active timer.
func (m *Machine) PauseTimer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.activeTimerLocked()
	if t == nil || !t.IsRunning {
		return ErrNoActiveTimer
	}
	remaining, ok := m.sched.Pause(m.key)
	if !ok {
		return ErrNoActiveTimer
	}

	now := m.clock.Now()
	t.IsRunning = false
	t.IsPaused = true
	t.RemainingSec = remaining
	t.PausedAt = &now

	m.pub.Publish(ctx, m.topic, events.TimerPaused, events.TimerPayload{
		OwnerKey:     m.key,
		Kind:         string(t.Kind),
		RemainingSec: remaining,
	})
	m.persistLocked()
	return nil
}

// ResumeTimer restarts a paused timer from where it stopped.
func (m *Machine) ResumeTimer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.activeTimerLocked()
	if t == nil {
		return ErrNoActiveTimer
	}
	if !t.IsPaused {
		return ErrTimerNotPaused
	}

	var onExpire func() bool
	switch t.Kind {
	case models.TimerKindPreparation:
		onExpire = m.onPreparationExpiredLocked
	case models.TimerKindPerformance:
		onExpire = m.onPerformanceExpiredLocked
	default:
		onExpire = m.onVotingExpiredLocked
	}
	if !m.sched.Resume(m.key, m.expiry(m.nextSeqLocked(), onExpire)) {
		return ErrNoActiveTimer
	}

	t.IsRunning = true
	t.IsPaused = false
	t.PausedAt = nil

	m.pub.Publish(ctx, m.topic, events.TimerResumed, events.TimerPayload{
		OwnerKey:     m.key,
		Kind:         string(t.Kind),
		RemainingSec: t.RemainingSec,
	})
	m.persistLocked()
	return nil
}

// SkipPreparation ends the current preparation early and starts the performance.
func (m *Machine) SkipPreparation(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.room.Stage != models.RoomStagePerformance || m.room.PreparationTimer == nil {
		return ErrNoPreparationTimer
	}
	m.sched.Stop(m.key)
	m.room.PreparationTimer = nil

	log.Info().
		Str("room_id", m.id.String()).
		Str("performer", m.room.CurrentPerformerID).
		Msg("preparation skipped")
	return m.beginPerformanceLocked()
}

// SubmitVote records a voter's ballots. When every participant has voted the room
// finishes without waiting for the voting timer.
func (m *Machine) SubmitVote(ctx context.Context, voterID string, ballots []voting.Ballot) (bool, error) {
	m.mu.Lock()

	allVoted, err := m.votes.SubmitVote(m.room, voterID, ballots)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	metrics.VotesRecorded(false, len(ballots))

	var cast []models.VoteRecord
	voters := make(map[string]bool)
	for _, v := range m.room.Votes {
		voters[v.VoterID] = true
		if v.VoterID == voterID {
			cast = append(cast, v)
		}
	}
	if err := m.repo.SaveVotes(m.ctx, cast); err != nil {
		log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to save votes")
	}
	m.pub.Publish(ctx, m.topic, events.VotingReceived, events.VotePayload{
		RoomID:   m.id.String(),
		VoterID:  voterID,
		Count:    len(voters),
		AllVoted: allVoted,
	})

	done := false
	if allVoted {
		done = m.finishVotingLocked()
	} else {
		m.persistLocked()
	}
	m.unlockAndReport(done)
	return allVoted, nil
}

// HandleDeparture removes a participant who left the tournament. Rooms that already
// reached a terminal stage are not changed.
func (m *Machine) HandleDeparture(ctx context.Context, userID string) error {
	m.mu.Lock()

	if !m.room.HasParticipant(userID) {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	if m.room.Stage.Terminal() {
		m.mu.Unlock()
		return nil
	}

	stage := m.room.Stage
	wasPerforming := stage == models.RoomStagePerformance && m.room.CurrentPerformerID == userID
	pos := indexOf(m.room.PerformanceOrder, userID)
	m.room.ParticipantIDs = without(m.room.ParticipantIDs, userID)
	m.room.PerformanceOrder = without(m.room.PerformanceOrder, userID)
	if pos >= 0 && pos < m.room.CurrentPerformanceIndex {
		m.room.CurrentPerformanceIndex--
	}

	m.pub.Publish(ctx, m.topic, events.ParticipantDisconnected, events.ParticipantPayload{
		TournamentID: m.room.TournamentID.String(),
		RoomID:       m.id.String(),
		UserID:       userID,
	})
	log.Info().
		Str("room_id", m.id.String()).
		Str("user_id", userID).
		Str("stage", string(stage)).
		Int("remaining", len(m.room.ParticipantIDs)).
		Msg("participant left room")

	done := false
	switch {
	case len(m.room.ParticipantIDs) == 0:
		done = m.abandonLocked()
	case wasPerforming:
		// the pointer now names the next performer in order
		m.sched.Stop(m.key)
		m.nextSeqLocked()
		m.room.PreparationTimer = nil
		m.room.Timer = nil
		done = m.continueFromIndexLocked()
	case stage == models.RoomStageVoting && m.votes.AllVoted(m.room):
		done = m.finishVotingLocked()
	default:
		m.persistLocked()
	}
	m.unlockAndReport(done)
	return nil
}

// Join announces a participant's presence in the room.
func (m *Machine) Join(ctx context.Context, userID string) error {
	return m.announce(ctx, userID, events.ParticipantJoined)
}

// Leave announces that a participant stopped watching the room. It does not remove
// them from the room; departures go through HandleDeparture.
func (m *Machine) Leave(ctx context.Context, userID string) error {
	return m.announce(ctx, userID, events.ParticipantLeft)
}

func (m *Machine) announce(ctx context.Context, userID, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.room.HasParticipant(userID) {
		return ErrNotParticipant
	}
	m.pub.Publish(ctx, m.topic, event, events.ParticipantPayload{
		TournamentID: m.room.TournamentID.String(),
		RoomID:       m.id.String(),
		UserID:       userID,
	})
	return nil
}

// MarkCompleted archives a room whose round has completed.
func (m *Machine) MarkCompleted(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.room.Stage != models.RoomStageResults {
		return
	}
	m.enterStageLocked(models.RoomStageCompleted)
	m.persistLocked()
}

// Abandon stops the room's timers without reporting completion.
func (m *Machine) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sched.Stop(m.key)
	m.nextSeqLocked()
	if !m.reported {
		m.reported = true
		metrics.RoomFinished()
	}
}

// Snapshot returns a copy of the room with live timer values.
func (m *Machine) Snapshot() models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.room.Clone()
	if t := activeTimer(&c); t != nil && t.IsRunning {
		if remaining, ok := m.sched.Remaining(m.key); ok {
			t.RemainingSec = remaining
		}
	}
	return c
}

// Settled reports whether the room reached a terminal stage.
func (m *Machine) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room.Stage.Terminal()
}

func (m *Machine) beginPreparationLocked() error {
	secs := m.settings.PreparationTimeSec
	m.room.Timer = nil
	m.room.PreparationTimer = models.NewTimerState(m.key, models.TimerKindPreparation, secs, m.clock.Now())
	if err := m.sched.Start(m.key, secs, m.expiry(m.nextSeqLocked(), m.onPreparationExpiredLocked)); err != nil {
		return fmt.Errorf("failed to start preparation timer: %w", err)
	}

	m.pub.Publish(m.ctx, m.topic, events.PerformancePreparationStarted, m.performancePayloadLocked(secs))
	m.publishTimerStartedLocked(m.room.PreparationTimer)
	m.persistLocked()
	return nil
}

func (m *Machine) beginPerformanceLocked() error {
	secs := m.settings.PerformanceTimeSec
	m.room.PreparationTimer = nil
	m.room.Timer = models.NewTimerState(m.key, models.TimerKindPerformance, secs, m.clock.Now())
	if err := m.sched.Start(m.key, secs, m.expiry(m.nextSeqLocked(), m.onPerformanceExpiredLocked)); err != nil {
		return fmt.Errorf("failed to start performance timer: %w", err)
	}

	m.pub.Publish(m.ctx, m.topic, events.PerformanceStarted, m.performancePayloadLocked(secs))
	m.publishTimerStartedLocked(m.room.Timer)
	m.persistLocked()
	return nil
}

func (m *Machine) onPreparationExpiredLocked() bool {
	metrics.TimerExpired(string(models.TimerKindPreparation))
	if err := m.beginPerformanceLocked(); err != nil {
		log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to begin performance")
	}
	return false
}

func (m *Machine) onPerformanceExpiredLocked() bool {
	metrics.TimerExpired(string(models.TimerKindPerformance))
	m.pub.Publish(m.ctx, m.topic, events.PerformanceCompleted, m.performancePayloadLocked(0))

	m.room.Timer = nil
	m.room.CurrentPerformanceIndex++
	return m.continueFromIndexLocked()
}

// continueFromIndexLocked starts the performer at the current index, or opens voting
// once the order is exhausted.
func (m *Machine) continueFromIndexLocked() bool {
	if m.room.CurrentPerformanceIndex < len(m.room.PerformanceOrder) {
		m.room.CurrentPerformerID = m.room.PerformanceOrder[m.room.CurrentPerformanceIndex]
		m.pub.Publish(m.ctx, m.topic, events.PerformanceNext, m.performancePayloadLocked(0))
		if err := m.beginPreparationLocked(); err != nil {
			log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to begin preparation")
		}
		return false
	}
	return m.openVotingLocked()
}

func (m *Machine) openVotingLocked() bool {
	t, err := m.votes.OpenVoting(m.room, m.settings.VotingTimeSec)
	if err != nil {
		log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to open voting")
		return false
	}
	if err := m.sched.Start(m.key, t.DurationSec, m.expiry(m.nextSeqLocked(), m.onVotingExpiredLocked)); err != nil {
		log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to start voting timer")
	}

	m.enterStageLocked(models.RoomStageVoting)
	m.pub.Publish(m.ctx, m.topic, events.VotingStarted, events.TimerPayload{
		OwnerKey:     m.key,
		Kind:         string(t.Kind),
		RemainingSec: t.RemainingSec,
		DurationSec:  t.DurationSec,
	})
	m.publishTimerStartedLocked(t)
	m.persistLocked()
	return false
}

func (m *Machine) onVotingExpiredLocked() bool {
	metrics.TimerExpired(string(models.TimerKindVoting))
	return m.finishVotingLocked()
}

// finishVotingLocked fills in missing votes, computes the results and reports whether
// the room just finished.
func (m *Machine) finishVotingLocked() bool {
	m.sched.Stop(m.key)
	m.nextSeqLocked()

	if filled := m.votes.AutoFillMissing(m.room); len(filled) > 0 {
		metrics.VotesRecorded(true, len(filled))
		if err := m.repo.SaveVotes(m.ctx, filled); err != nil {
			log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to save auto votes")
		}
		m.pub.Publish(m.ctx, m.topic, events.VotingAutoScored, events.VotePayload{
			RoomID: m.id.String(),
			Count:  len(filled),
		})
	}
	m.pub.Publish(m.ctx, m.topic, events.VotingCompleted, events.StagePayload{
		RoomID: m.id.String(),
		Stage:  string(m.room.Stage),
	})

	winners := m.votes.ComputeResults(m.room, m.settings.AdvancePerRoom)
	m.enterStageLocked(models.RoomStageResults)
	if err := m.repo.SaveScores(m.ctx, m.room.Scores); err != nil {
		log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to save scores")
	}
	m.persistLocked()

	scores := make([]events.ScoreEntry, 0, len(m.room.Scores))
	for _, s := range m.room.Scores {
		scores = append(scores, events.ScoreEntry{
			UserID:     s.UserID,
			TotalScore: s.TotalScore,
			Average:    s.AverageScore,
			Rank:       s.Rank,
			Advances:   s.Advances,
		})
	}
	payload := events.ResultsPayload{RoomID: m.id.String(), Scores: scores, Winners: winners}
	m.pub.Publish(m.ctx, m.topic, events.ResultsCalculated, payload)
	m.pub.Publish(m.ctx, m.topic, events.ResultsWinnersAnnounced, payload)

	log.Info().
		Str("room_id", m.id.String()).
		Strs("winners", winners).
		Msg("room results calculated")
	return m.markFinishedLocked()
}

// abandonLocked completes a room that has nobody left in it.
func (m *Machine) abandonLocked() bool {
	m.sched.Stop(m.key)
	m.nextSeqLocked()

	now := m.clock.Now()
	m.room.Timer = nil
	m.room.PreparationTimer = nil
	m.room.CurrentPerformerID = ""
	m.room.Winners = []string{}
	m.room.CompletedAt = &now
	m.enterStageLocked(models.RoomStageCompleted)
	m.persistLocked()

	log.Warn().Str("room_id", m.id.String()).Msg("room emptied, completing without winners")
	return m.markFinishedLocked()
}

func (m *Machine) markFinishedLocked() bool {
	if m.reported {
		return false
	}
	m.reported = true
	metrics.RoomFinished()
	return true
}

// expiry wraps a stage callback so it only runs if no other timer was scheduled since.
func (m *Machine) expiry(seq uint64, fn func() bool) func() {
	return func() {
		m.mu.Lock()
		if seq != m.seq {
			m.mu.Unlock()
			log.Debug().Str("room_id", m.id.String()).Msg("ignoring stale timer callback")
			return
		}
		m.unlockAndReport(fn())
	}
}

func (m *Machine) nextSeqLocked() uint64 {
	m.seq++
	return m.seq
}

// unlockAndReport releases the lock and, if done, notifies the owner.
func (m *Machine) unlockAndReport(done bool) {
	ctx := m.ctx
	m.mu.Unlock()
	if done && m.onComplete != nil {
		m.onComplete(ctx, m.id)
	}
}

func (m *Machine) enterStageLocked(stage models.RoomStage) {
	m.room.Stage = stage
	metrics.StageEntered(string(stage))
	m.pub.Publish(m.ctx, m.topic, events.RoomStageChanged, events.StagePayload{
		RoomID:    m.id.String(),
		Stage:     string(stage),
		Performer: m.room.CurrentPerformerID,
	})
}

func (m *Machine) publishTimerStartedLocked(t *models.TimerState) {
	m.pub.Publish(m.ctx, m.topic, events.TimerStarted, events.TimerPayload{
		OwnerKey:     t.OwnerKey,
		Kind:         string(t.Kind),
		RemainingSec: t.RemainingSec,
		DurationSec:  t.DurationSec,
	})
}

func (m *Machine) performancePayloadLocked(secs int) events.PerformancePayload {
	return events.PerformancePayload{
		RoomID:      m.id.String(),
		PerformerID: m.room.CurrentPerformerID,
		Index:       m.room.CurrentPerformanceIndex,
		Total:       len(m.room.PerformanceOrder),
		DurationSec: secs,
	}
}

func (m *Machine) activeTimerLocked() *models.TimerState {
	return activeTimer(m.room)
}

func (m *Machine) persistLocked() {
	if err := m.repo.SaveRoom(m.ctx, m.room); err != nil {
		log.Error().Err(err).Str("room_id", m.id.String()).Msg("failed to persist room")
	}
}

func activeTimer(r *models.Room) *models.TimerState {
	if r.PreparationTimer != nil {
		return r.PreparationTimer
	}
	if r.Timer != nil && !r.Stage.Terminal() {
		return r.Timer
	}
	return nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
