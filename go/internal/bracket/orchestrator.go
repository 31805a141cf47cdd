// Package bracket owns the tournament and round lifecycle. It partitions participants
// into rooms, runs one room.Machine per room, waits on the round completion barrier
// and advances winners until a single participant remains.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showdown/go/internal/apperrors"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/events"
	"github.com/mcdev12/showdown/go/internal/metrics"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/room"
	"github.com/mcdev12/showdown/go/internal/timer"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/rs/zerolog/log"
)

// DefaultStartDelay is used by ScheduleStart when no start instant is given.
const DefaultStartDelay = 10 * time.Second

// Repository defines what the orchestrator needs from the persistence layer
type Repository interface {
	room.Repository
	SaveTournament(ctx context.Context, t *models.Tournament) error
	GetTournament(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	UpdateTournamentStatus(ctx context.Context, id uuid.UUID, status models.TournamentStatus, at time.Time) error
	ListTournaments(ctx context.Context, statuses ...models.TournamentStatus) ([]models.Tournament, error)
	SaveRound(ctx context.Context, round *models.Round) error
	ListRounds(ctx context.Context, tournamentID uuid.UUID) ([]models.Round, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListRooms(ctx context.Context, roundID uuid.UUID) ([]models.Room, error)
	ListVotes(ctx context.Context, roomID uuid.UUID) ([]models.VoteRecord, error)
	ListScores(ctx context.Context, roomID uuid.UUID) ([]models.ParticipantScore, error)
}

// ConnectionRegistry reports which users currently hold a live connection.
type ConnectionRegistry interface {
	IsConnected(userID string) bool
}

// Scheduler is the timer registry of one running tournament.
type Scheduler interface {
	room.Scheduler
	StopAll()
}

// SchedulerFactory builds the scheduler for a new tournament. onTick receives every
// tick of the tournament's timers.
type SchedulerFactory func(onTick timer.TickFunc) Scheduler

// Config holds the orchestrator's collaborators. Only Repo is required.
type Config struct {
	Repo         Repository
	Publisher    broadcast.Publisher
	Connections  ConnectionRegistry
	Clock        clockwork.Clock
	NewScheduler SchedulerFactory
	Scorer       voting.AutoScoreStrategy
	Defaults     models.TournamentSettings
	StartDelay   time.Duration
	// Shuffle reorders a round's participants before packing. Defaults to a uniform shuffle.
	Shuffle func([]string)
}

// CreateTournamentRequest describes a new tournament. Zero settings fall back to the
// orchestrator defaults.
type CreateTournamentRequest struct {
	Name        string
	Description string
	CreatedBy   string
	Settings    models.TournamentSettings
	StartAt     *time.Time
}

// ParticipantState is where a user stands in a tournament.
type ParticipantState struct {
	TournamentID uuid.UUID                `json:"tournament_id"`
	UserID       string                   `json:"user_id"`
	Status       models.ParticipantStatus `json:"status"`
	RoundNumber  int                      `json:"round_number"`
	RoomID       *uuid.UUID               `json:"room_id,omitempty"`
}

type tournamentRun struct {
	id    uuid.UUID
	sched Scheduler

	mu     sync.Mutex
	t      *models.Tournament
	rounds []*roundRun
}

// roundRun is the barrier state of one round. mu serializes completion checks.
type roundRun struct {
	mu        sync.Mutex
	round     *models.Round
	machines  []*room.Machine
	completed bool
}

type roomRef struct {
	run     *tournamentRun
	round   *roundRun
	machine *room.Machine
}

// Orchestrator runs every tournament of the process. Each tournament has its own
// scheduler; rooms of a tournament share it.
type Orchestrator struct {
	repo         Repository
	pub          broadcast.Publisher
	conns        ConnectionRegistry
	clock        clockwork.Clock
	newScheduler SchedulerFactory
	votes        *voting.Aggregator
	defaults     models.TournamentSettings
	startDelay   time.Duration
	shuffle      func([]string)

	mu    sync.RWMutex
	runs  map[uuid.UUID]*tournamentRun
	rooms map[uuid.UUID]*roomRef
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = broadcast.LogPublisher{}
	}
	if cfg.NewScheduler == nil {
		clock := cfg.Clock
		cfg.NewScheduler = func(onTick timer.TickFunc) Scheduler {
			return timer.NewScheduler(clock, onTick)
		}
	}
	if cfg.Defaults == (models.TournamentSettings{}) {
		cfg.Defaults = models.DefaultTournamentSettings()
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		}
	}
	return &Orchestrator{
		repo:         cfg.Repo,
		pub:          cfg.Publisher,
		conns:        cfg.Connections,
		clock:        cfg.Clock,
		newScheduler: cfg.NewScheduler,
		votes:        voting.NewAggregator(cfg.Clock, cfg.Scorer),
		defaults:     cfg.Defaults,
		startDelay:   cfg.StartDelay,
		shuffle:      cfg.Shuffle,
		runs:         make(map[uuid.UUID]*tournamentRun),
		rooms:        make(map[uuid.UUID]*roomRef),
	}
}

// CreateTournament validates the settings and stores a tournament in the created status.
func (o *Orchestrator) CreateTournament(ctx context.Context, req CreateTournamentRequest) (*models.Tournament, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrNameRequired
	}
	settings, err := o.resolveSettings(req.Settings)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	t := &models.Tournament{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		CreatedBy:    req.CreatedBy,
		Status:       models.TournamentStatusCreated,
		Settings:     settings,
		Participants: []string{},
		StartAt:      req.StartAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.repo.SaveTournament(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}

	o.register(t)

	log.Info().
		Str("tournament_id", t.ID.String()).
		Str("name", t.Name).
		Int("room_size", settings.MaxParticipantsPerRoom).
		Int("advance", settings.AdvancePerRoom).
		Msg("tournament created")
	o.pub.Publish(ctx, broadcast.GlobalTopic, events.TournamentCreated, tournamentPayload(t, o.clock.Now()))

	c := t.Clone()
	return &c, nil
}

func (o *Orchestrator) register(t *models.Tournament) *tournamentRun {
	run := &tournamentRun{id: t.ID, t: t}
	run.sched = o.newScheduler(o.tickHandler(t.ID))

	o.mu.Lock()
	o.runs[t.ID] = run
	o.mu.Unlock()
	return run
}

// Restore loads stored tournaments that have not started so they can be started by
// this process. Tournaments left in progress by a previous process are cancelled,
// since their timers and room state did not survive it.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	stored, err := o.repo.ListTournaments(ctx,
		models.TournamentStatusCreated,
		models.TournamentStatusRegistration,
		models.TournamentStatusInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to restore tournaments: %w", err)
	}

	restored := 0
	for i := range stored {
		t := stored[i]
		if _, err := o.lookupRun(t.ID); err == nil {
			continue
		}
		if t.Status == models.TournamentStatusInProgress {
			o.cancelStale(ctx, &t)
			continue
		}
		if t.Participants == nil {
			t.Participants = []string{}
		}
		o.register(&t)
		restored++
	}

	log.Info().
		Int("restored", restored).
		Int("stored", len(stored)).
		Msg("tournaments restored")
	return restored, nil
}

// cancelStale marks a tournament interrupted by a previous process as cancelled
// without taking it back into the running set.
func (o *Orchestrator) cancelStale(ctx context.Context, t *models.Tournament) {
	now := o.clock.Now()
	if err := o.repo.UpdateTournamentStatus(ctx, t.ID, models.TournamentStatusCancelled, now); err != nil {
		log.Error().Err(err).Str("tournament_id", t.ID.String()).Msg("failed to cancel interrupted tournament")
		return
	}
	t.Status = models.TournamentStatusCancelled
	t.CompletedAt = &now
	t.UpdatedAt = now
	metrics.TournamentFinished(string(t.Status))

	log.Warn().
		Str("tournament_id", t.ID.String()).
		Int("round", t.CurrentRound).
		Msg("cancelled tournament interrupted by restart")
	payload := tournamentPayload(t, now)
	payload.Reason = "server restarted"
	o.pub.Publish(ctx, broadcast.TournamentTopic(t.ID), events.TournamentStopped, payload)
}

func (o *Orchestrator) resolveSettings(s models.TournamentSettings) (models.TournamentSettings, error) {
	if s.MaxParticipantsPerRoom == 0 {
		s.MaxParticipantsPerRoom = o.defaults.MaxParticipantsPerRoom
	}
	if s.PerformanceTimeSec == 0 {
		s.PerformanceTimeSec = o.defaults.PerformanceTimeSec
	}
	if s.VotingTimeSec == 0 {
		s.VotingTimeSec = o.defaults.VotingTimeSec
	}
	if s.PreparationTimeSec == 0 {
		s.PreparationTimeSec = o.defaults.PreparationTimeSec
	}
	if s.AdvancePerRoom == 0 {
		s.AdvancePerRoom = o.defaults.AdvancePerRoom
	}

	switch {
	case s.MaxParticipantsPerRoom < 2:
		return s, ErrRoomTooSmall
	case s.AdvancePerRoom < 1:
		return s, ErrInvalidAdvance
	case s.PerformanceTimeSec <= 0 || s.VotingTimeSec <= 0 || s.PreparationTimeSec <= 0:
		return s, ErrInvalidDuration
	}
	return s, nil
}

// RegisterParticipant adds userID to an open tournament. A repeated registration
// returns false without error.
func (o *Orchestrator) RegisterParticipant(ctx context.Context, tournamentID uuid.UUID, userID string) (bool, error) {
	if userID == "" {
		return false, ErrUserRequired
	}
	run, err := o.activeRun(ctx, tournamentID)
	if err != nil {
		return false, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	t := run.t
	if t.Status != models.TournamentStatusCreated && t.Status != models.TournamentStatusRegistration {
		return false, ErrRegistrationClosed
	}
	if t.HasParticipant(userID) {
		return false, nil
	}

	t.Participants = append(t.Participants, userID)
	t.Status = models.TournamentStatusRegistration
	t.UpdatedAt = o.clock.Now()
	o.persistLocked(ctx, run)

	log.Info().
		Str("tournament_id", t.ID.String()).
		Str("user_id", userID).
		Int("participants", len(t.Participants)).
		Msg("participant registered")
	o.pub.Publish(ctx, broadcast.TournamentTopic(t.ID), events.TournamentParticipantRegistered, events.ParticipantPayload{
		TournamentID: t.ID.String(),
		UserID:       userID,
	})
	return true, nil
}

// ScheduleStart sets the start instant and cancels a running countdown. A zero at
// schedules the start the configured delay from now.
func (o *Orchestrator) ScheduleStart(ctx context.Context, tournamentID uuid.UUID, at time.Time) (*models.Tournament, error) {
	run, err := o.activeRun(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	t := run.t
	if err := startable(t); err != nil {
		return nil, err
	}
	now := o.clock.Now()
	if at.IsZero() {
		at = now.Add(o.startDelay)
	}

	run.sched.Stop(models.TournamentTimerKey(t.ID))
	t.StartAt = &at
	t.Status = models.TournamentStatusCreated
	t.UpdatedAt = now
	o.persistLocked(ctx, run)

	log.Info().
		Str("tournament_id", t.ID.String()).
		Time("start_at", at).
		Msg("tournament start scheduled")
	o.pub.Publish(ctx, broadcast.TournamentTopic(t.ID), events.TournamentStartRescheduled, events.CountdownPayload{
		TournamentID: t.ID.String(),
		TimeLeftSec:  secondsUntil(now, at),
		StartAt:      at,
	})

	c := t.Clone()
	return &c, nil
}

// StartCountdown runs the tournament timer until StartAt and then starts the
// tournament. A start instant in the past starts it immediately.
func (o *Orchestrator) StartCountdown(ctx context.Context, tournamentID uuid.UUID) error {
	run, err := o.activeRun(ctx, tournamentID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	t := run.t
	if err := startable(t); err != nil {
		run.mu.Unlock()
		return err
	}
	if t.StartAt == nil {
		run.mu.Unlock()
		return ErrStartNotScheduled
	}

	startAt := *t.StartAt
	remaining := secondsUntil(o.clock.Now(), startAt)
	if remaining <= 0 {
		run.mu.Unlock()
		log.Info().Str("tournament_id", tournamentID.String()).Msg("start instant already passed, starting now")
		_, err := o.StartTournament(ctx, tournamentID)
		return err
	}

	key := models.TournamentTimerKey(tournamentID)
	if err := run.sched.Start(key, remaining, func() { o.autoStart(tournamentID) }); err != nil {
		run.mu.Unlock()
		return fmt.Errorf("failed to start countdown: %w", err)
	}
	participants := append([]string(nil), t.Participants...)
	run.mu.Unlock()

	log.Info().
		Str("tournament_id", tournamentID.String()).
		Int("seconds", remaining).
		Msg("tournament countdown started")
	payload := events.CountdownPayload{TournamentID: tournamentID.String(), TimeLeftSec: remaining, StartAt: startAt}
	o.pub.Publish(ctx, broadcast.TournamentTopic(tournamentID), events.TournamentCountdown, payload)
	for _, userID := range participants {
		o.pub.Publish(ctx, broadcast.UserTopic(userID), events.TournamentCountdown, payload)
	}
	return nil
}

func (o *Orchestrator) autoStart(tournamentID uuid.UUID) {
	ctx := context.Background()
	metrics.TimerExpired(string(models.TimerKindCountdown))
	o.pub.Publish(ctx, broadcast.TournamentTopic(tournamentID), events.TournamentAutoStarted, events.TournamentPayload{
		TournamentID: tournamentID.String(),
		Status:       string(models.TournamentStatusRegistration),
		At:           o.clock.Now(),
	})
	if _, err := o.StartTournament(ctx, tournamentID); err != nil {
		log.Error().Err(err).Str("tournament_id", tournamentID.String()).Msg("failed to auto-start tournament")
	}
}

// StartTournament narrows the participants to connected users and starts round one.
func (o *Orchestrator) StartTournament(ctx context.Context, tournamentID uuid.UUID) (*models.Tournament, error) {
	run, err := o.activeRun(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	t := run.t
	if err := startable(t); err != nil {
		run.mu.Unlock()
		return nil, err
	}

	connected := make([]string, 0, len(t.Participants))
	for _, id := range t.Participants {
		if o.conns == nil || o.conns.IsConnected(id) {
			connected = append(connected, id)
		}
	}
	if len(connected) < 2 {
		run.mu.Unlock()
		return nil, ErrNotEnoughParticipants
	}
	if dropped := len(t.Participants) - len(connected); dropped > 0 {
		log.Info().
			Str("tournament_id", t.ID.String()).
			Int("dropped", dropped).
			Msg("dropping disconnected registrants")
	}

	run.sched.Stop(models.TournamentTimerKey(t.ID))
	now := o.clock.Now()
	t.Status = models.TournamentStatusInProgress
	t.StartedAt = &now
	t.CurrentRound = 1
	t.Participants = connected
	t.UpdatedAt = now
	o.persistLocked(ctx, run)

	payload := tournamentPayload(t, now)
	next := o.prepareRoundLocked(ctx, run, connected, t.Settings.MaxParticipantsPerRoom)
	c := t.Clone()
	run.mu.Unlock()

	log.Info().
		Str("tournament_id", tournamentID.String()).
		Int("participants", len(connected)).
		Msg("tournament started")
	o.pub.Publish(ctx, broadcast.TournamentTopic(tournamentID), events.TournamentStarted, payload)
	o.pub.Publish(ctx, broadcast.GlobalTopic, events.TournamentStarted, payload)

	o.startRound(ctx, next)
	return &c, nil
}

// prepareRoundLocked packs participants into rooms and registers a machine for each
// room. Nothing is started; the caller runs startRound after releasing run.mu.
func (o *Orchestrator) prepareRoundLocked(ctx context.Context, run *tournamentRun, participants []string, capacity int) *roundRun {
	t := run.t
	now := o.clock.Now()

	order := append([]string(nil), participants...)
	o.shuffle(order)
	groups := PackRooms(order, capacity)

	round := &models.Round{
		ID:             uuid.New(),
		TournamentID:   t.ID,
		RoundNumber:    t.CurrentRound,
		Status:         models.RoundStatusPending,
		RoomIDs:        make([]uuid.UUID, 0, len(groups)),
		ParticipantIDs: append([]string(nil), participants...),
		CreatedAt:      now,
	}
	rr := &roundRun{round: round}
	deps := room.Deps{
		Scheduler: run.sched,
		Votes:     o.votes,
		Repo:      o.repo,
		Publisher: o.pub,
		Clock:     o.clock,
	}

	refs := make([]*roomRef, 0, len(groups))
	for i, group := range groups {
		r := &models.Room{
			ID:               uuid.New(),
			TournamentID:     t.ID,
			RoundID:          round.ID,
			RoundNumber:      round.RoundNumber,
			RoomNumber:       i + 1,
			Stage:            models.RoomStageWaiting,
			ParticipantIDs:   group,
			PerformanceOrder: append([]string(nil), group...),
			Votes:            []models.VoteRecord{},
			Scores:           []models.ParticipantScore{},
			Winners:          []string{},
			CreatedAt:        now,
		}
		if err := o.repo.SaveRoom(ctx, r); err != nil {
			log.Error().Err(err).Str("room_id", r.ID.String()).Msg("failed to save room")
		}
		metrics.RoomCreated(len(group))

		m := room.NewMachine(r, t.Settings, deps, o.roomCompleted)
		round.RoomIDs = append(round.RoomIDs, r.ID)
		rr.machines = append(rr.machines, m)
		refs = append(refs, &roomRef{run: run, round: rr, machine: m})
	}
	if err := o.repo.SaveRound(ctx, round); err != nil {
		log.Error().Err(err).Str("round_id", round.ID.String()).Msg("failed to save round")
	}
	run.rounds = append(run.rounds, rr)

	o.mu.Lock()
	for _, ref := range refs {
		o.rooms[ref.machine.ID()] = ref
	}
	o.mu.Unlock()

	log.Info().
		Str("tournament_id", t.ID.String()).
		Int("round", round.RoundNumber).
		Int("rooms", len(groups)).
		Int("participants", len(participants)).
		Msg("round created")
	return rr
}

// startRound moves a pending round to in_progress, announces it and starts every
// room concurrently.
func (o *Orchestrator) startRound(ctx context.Context, rr *roundRun) {
	rr.mu.Lock()
	if rr.round.Status != models.RoundStatusPending {
		rr.mu.Unlock()
		return
	}
	now := o.clock.Now()
	rr.round.Status = models.RoundStatusInProgress
	rr.round.StartedAt = &now
	if err := o.repo.SaveRound(ctx, rr.round); err != nil {
		log.Error().Err(err).Str("round_id", rr.round.ID.String()).Msg("failed to save round")
	}
	round := rr.round.Clone()
	machines := rr.machines
	rr.mu.Unlock()

	tournamentTopic := broadcast.TournamentTopic(round.TournamentID)

	roomIDs := make([]string, len(round.RoomIDs))
	for i, id := range round.RoomIDs {
		roomIDs[i] = id.String()
	}
	o.pub.Publish(ctx, tournamentTopic, events.RoundStarted, events.RoundPayload{
		TournamentID: round.TournamentID.String(),
		RoundID:      round.ID.String(),
		RoundNumber:  round.RoundNumber,
		RoomIDs:      roomIDs,
		Participants: round.ParticipantIDs,
	})

	for _, m := range machines {
		snap := m.Snapshot()
		o.pub.Publish(ctx, tournamentTopic, events.RoomCreated, events.RoundPayload{
			TournamentID: round.TournamentID.String(),
			RoundID:      round.ID.String(),
			RoundNumber:  round.RoundNumber,
			RoomIDs:      []string{snap.ID.String()},
			Participants: snap.ParticipantIDs,
		})
		for _, userID := range snap.ParticipantIDs {
			assignment := events.AssignmentPayload{
				TournamentID: round.TournamentID.String(),
				RoundNumber:  round.RoundNumber,
				RoomID:       snap.ID.String(),
				RoomNumber:   snap.RoomNumber,
			}
			o.pub.Publish(ctx, broadcast.UserTopic(userID), events.RoomAssigned, assignment)
			o.pub.Publish(ctx, tournamentTopic, events.TournamentParticipantMoved, events.ParticipantPayload{
				TournamentID: round.TournamentID.String(),
				RoomID:       snap.ID.String(),
				UserID:       userID,
			})
		}
	}

	var wg sync.WaitGroup
	for _, m := range machines {
		wg.Add(1)
		go func(m *room.Machine) {
			defer wg.Done()
			if err := m.Start(ctx); err != nil {
				log.Error().Err(err).Str("room_id", m.ID().String()).Msg("failed to start room")
			}
		}(m)
	}
	wg.Wait()
}

// roomCompleted is the completion callback handed to every room machine.
func (o *Orchestrator) roomCompleted(ctx context.Context, roomID uuid.UUID) {
	if err := o.OnRoomCompleted(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to complete round")
	}
}

// OnRoomCompleted evaluates the completion barrier of the room's round. The round
// completes once, when every room has settled; redundant calls are no-ops.
func (o *Orchestrator) OnRoomCompleted(ctx context.Context, roomID uuid.UUID) error {
	ref, err := o.lookupRoom(roomID)
	if err != nil {
		if o.archived(ctx, roomID) {
			metrics.BarrierEvaluated("already_completed")
			return nil
		}
		return err
	}
	rr := ref.round

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if rr.completed {
		metrics.BarrierEvaluated("already_completed")
		return nil
	}
	for _, m := range rr.machines {
		if !m.Settled() {
			metrics.BarrierEvaluated("pending")
			log.Debug().
				Str("round_id", rr.round.ID.String()).
				Str("room_id", roomID.String()).
				Msg("round still has running rooms")
			return nil
		}
	}
	rr.completed = true
	metrics.BarrierEvaluated("completed")

	return o.completeRound(ctx, ref.run, rr)
}

// completeRound collects the winners of a settled round and either finishes the
// tournament or creates the next round. Caller holds rr.mu.
func (o *Orchestrator) completeRound(ctx context.Context, run *tournamentRun, rr *roundRun) error {
	run.mu.Lock()
	t := run.t
	if t.Status != models.TournamentStatusInProgress {
		run.mu.Unlock()
		log.Warn().
			Str("tournament_id", t.ID.String()).
			Str("status", string(t.Status)).
			Msg("ignoring round completion for inactive tournament")
		return nil
	}
	if rr.round.RoundNumber != t.CurrentRound {
		run.mu.Unlock()
		return fmt.Errorf("round %d of tournament %s: %w", rr.round.RoundNumber, t.ID, ErrRoundOutOfSync)
	}

	now := o.clock.Now()
	snaps := make([]models.Room, len(rr.machines))
	var winners, departed []string
	advanced := make(map[string]bool)
	for i, m := range rr.machines {
		snaps[i] = m.Snapshot()
		for _, w := range snaps[i].Winners {
			if advanced[w] {
				continue
			}
			// a winner who left after their room settled keeps the score but not the place
			if !t.HasParticipant(w) {
				departed = append(departed, w)
				continue
			}
			advanced[w] = true
			winners = append(winners, w)
		}
	}
	var eliminated []string
	for _, id := range rr.round.ParticipantIDs {
		if !advanced[id] {
			eliminated = append(eliminated, id)
		}
	}
	if len(departed) > 0 {
		log.Info().
			Str("tournament_id", t.ID.String()).
			Int("round", rr.round.RoundNumber).
			Strs("departed", departed).
			Msg("dropping room winners who left the tournament")
	}

	rr.round.Status = models.RoundStatusCompleted
	rr.round.CompletedAt = &now
	if err := o.repo.SaveRound(ctx, rr.round); err != nil {
		log.Error().Err(err).Str("round_id", rr.round.ID.String()).Msg("failed to save round")
	}
	for _, m := range rr.machines {
		m.MarkCompleted(ctx)
	}
	// completed rooms are served from the repository from here on
	o.releaseRooms(rr.round.RoomIDs)
	rr.machines = nil
	metrics.RoundCompleted()

	topic := broadcast.TournamentTopic(t.ID)
	roundPayload := events.RoundPayload{
		TournamentID: t.ID.String(),
		RoundID:      rr.round.ID.String(),
		RoundNumber:  rr.round.RoundNumber,
		Participants: rr.round.ParticipantIDs,
		Winners:      winners,
	}
	o.pub.Publish(ctx, topic, events.RoundAllRoomsCompleted, roundPayload)
	o.pub.Publish(ctx, topic, events.RoundCompleted, roundPayload)

	log.Info().
		Str("tournament_id", t.ID.String()).
		Int("round", rr.round.RoundNumber).
		Strs("winners", winners).
		Int("eliminated", len(eliminated)).
		Msg("round completed")

	var next *roundRun
	switch {
	case len(winners) == 1:
		o.completeTournamentLocked(ctx, run, winners[0])
	case len(winners) == 0:
		o.cancelLocked(ctx, run, "no participant advanced")
	case len(eliminated) == 0 && len(snaps) == 1:
		o.completeTournamentLocked(ctx, run, topScorer(snaps[0]))
	default:
		capacity := t.Settings.MaxParticipantsPerRoom
		if len(eliminated) == 0 {
			// every room was at or below the advance count; play the next round in one room
			capacity = len(winners)
		}
		o.notifyAdvancement(ctx, t, rr.round.RoundNumber, winners, eliminated)

		t.CurrentRound++
		t.Participants = winners
		t.UpdatedAt = now
		o.persistLocked(ctx, run)
		o.pub.Publish(ctx, topic, events.TournamentRoundAdvancing, tournamentPayload(t, now))

		next = o.prepareRoundLocked(ctx, run, winners, capacity)
	}
	run.mu.Unlock()

	if next != nil {
		o.startRound(ctx, next)
	}
	return nil
}

func (o *Orchestrator) notifyAdvancement(ctx context.Context, t *models.Tournament, roundNumber int, winners, eliminated []string) {
	topic := broadcast.TournamentTopic(t.ID)
	for _, userID := range eliminated {
		p := events.EliminationPayload{TournamentID: t.ID.String(), RoundNumber: roundNumber, UserID: userID}
		o.pub.Publish(ctx, broadcast.UserTopic(userID), events.RoundParticipantEliminated, p)
		o.pub.Publish(ctx, topic, events.RoundParticipantEliminated, p)
	}
	for _, userID := range winners {
		p := events.EliminationPayload{TournamentID: t.ID.String(), RoundNumber: roundNumber, UserID: userID}
		o.pub.Publish(ctx, broadcast.UserTopic(userID), events.RoundParticipantAdvances, p)
	}
}

func (o *Orchestrator) completeTournamentLocked(ctx context.Context, run *tournamentRun, winnerID string) {
	t := run.t
	now := o.clock.Now()
	t.Status = models.TournamentStatusCompleted
	t.WinnerID = winnerID
	t.Participants = []string{winnerID}
	t.CompletedAt = &now
	t.UpdatedAt = now
	run.sched.StopAll()
	o.persistLocked(ctx, run)
	metrics.TournamentFinished(string(t.Status))

	log.Info().
		Str("tournament_id", t.ID.String()).
		Str("winner_id", winnerID).
		Int("rounds", t.CurrentRound).
		Msg("tournament completed")
	payload := tournamentPayload(t, now)
	o.pub.Publish(ctx, broadcast.TournamentTopic(t.ID), events.TournamentCompleted, payload)
	o.pub.Publish(ctx, broadcast.TournamentTopic(t.ID), events.TournamentWinnerAnnounced, payload)
	o.pub.Publish(ctx, broadcast.GlobalTopic, events.TournamentWinnerAnnounced, payload)
	o.release(run)
}

func (o *Orchestrator) cancelLocked(ctx context.Context, run *tournamentRun, reason string) {
	t := run.t
	now := o.clock.Now()
	t.Status = models.TournamentStatusCancelled
	t.CompletedAt = &now
	t.UpdatedAt = now
	run.sched.StopAll()
	o.persistLocked(ctx, run)
	metrics.TournamentFinished(string(t.Status))

	log.Warn().
		Str("tournament_id", t.ID.String()).
		Str("reason", reason).
		Msg("tournament cancelled")
	payload := tournamentPayload(t, now)
	payload.Reason = reason
	o.pub.Publish(ctx, broadcast.TournamentTopic(t.ID), events.TournamentStopped, payload)
	o.release(run)
}

// release forgets a finished tournament. Reads fall back to the repository.
func (o *Orchestrator) release(run *tournamentRun) {
	o.mu.Lock()
	delete(o.runs, run.id)
	for _, rr := range run.rounds {
		for _, id := range rr.round.RoomIDs {
			delete(o.rooms, id)
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) releaseRooms(ids []uuid.UUID) {
	o.mu.Lock()
	for _, id := range ids {
		delete(o.rooms, id)
	}
	o.mu.Unlock()
}

// archived reports whether a room that is no longer live exists in the repository.
func (o *Orchestrator) archived(ctx context.Context, roomID uuid.UUID) bool {
	_, err := o.repo.GetRoom(ctx, roomID)
	return err == nil
}

// HandleDisconnect removes a user whose last connection closed from the rooms of every
// running tournament they play in.
func (o *Orchestrator) HandleDisconnect(ctx context.Context, userID string) {
	o.mu.RLock()
	runs := make([]*tournamentRun, 0, len(o.runs))
	for _, run := range o.runs {
		runs = append(runs, run)
	}
	o.mu.RUnlock()

	for _, run := range runs {
		if o.dropParticipant(ctx, run, userID, events.ParticipantDisconnected) {
			log.Info().
				Str("tournament_id", run.id.String()).
				Str("user_id", userID).
				Msg("participant disconnected")
		}
	}
}

// KickParticipant removes userID from a tournament that has not finished. Before the
// start it cancels the registration; during play it also removes them from their room.
func (o *Orchestrator) KickParticipant(ctx context.Context, tournamentID uuid.UUID, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	run, err := o.activeRun(ctx, tournamentID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	t := run.t
	switch {
	case t.Status.Finished():
		run.mu.Unlock()
		return ErrTournamentFinished
	case !t.HasParticipant(userID):
		run.mu.Unlock()
		return ErrParticipantNotFound
	}
	inProgress := t.Status == models.TournamentStatusInProgress
	if !inProgress {
		t.Participants = without(t.Participants, userID)
		t.UpdatedAt = o.clock.Now()
		o.persistLocked(ctx, run)
	}
	run.mu.Unlock()

	if inProgress && !o.dropParticipant(ctx, run, userID, events.ParticipantKicked) {
		// finished or lost the user between the check and the drop
		return ErrParticipantNotFound
	}
	if !inProgress {
		o.pub.Publish(ctx, broadcast.TournamentTopic(tournamentID), events.ParticipantKicked, events.ParticipantPayload{
			TournamentID: tournamentID.String(),
			UserID:       userID,
		})
	}

	log.Info().
		Str("tournament_id", tournamentID.String()).
		Str("user_id", userID).
		Bool("in_progress", inProgress).
		Msg("participant kicked")
	o.pub.Publish(ctx, broadcast.UserTopic(userID), events.TournamentRemoved, events.RemovalPayload{
		TournamentID: tournamentID.String(),
		UserID:       userID,
		Reason:       "kicked",
	})
	return nil
}

// dropParticipant takes userID out of a running tournament and the rooms of its
// current round, announcing event on the tournament topic. It reports false when the
// user was not active in run.
func (o *Orchestrator) dropParticipant(ctx context.Context, run *tournamentRun, userID, event string) bool {
	run.mu.Lock()
	t := run.t
	if t.Status != models.TournamentStatusInProgress || !t.HasParticipant(userID) || len(run.rounds) == 0 {
		run.mu.Unlock()
		return false
	}
	t.Participants = without(t.Participants, userID)
	t.UpdatedAt = o.clock.Now()
	o.persistLocked(ctx, run)
	machines := append([]*room.Machine(nil), run.rounds[len(run.rounds)-1].machines...)
	run.mu.Unlock()

	o.pub.Publish(ctx, broadcast.TournamentTopic(run.id), event, events.ParticipantPayload{
		TournamentID: run.id.String(),
		UserID:       userID,
	})

	// the machine may report completion synchronously, so no lock is held here
	for _, m := range machines {
		err := m.HandleDeparture(ctx, userID)
		if errors.Is(err, room.ErrNotParticipant) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("room_id", m.ID().String()).Msg("failed to handle departure")
		}
	}
	return true
}

// PauseRoomTimer pauses the active timer of a room.
func (o *Orchestrator) PauseRoomTimer(ctx context.Context, roomID uuid.UUID) error {
	m, err := o.machine(ctx, roomID)
	if err != nil {
		return err
	}
	return m.PauseTimer(ctx)
}

// ResumeRoomTimer resumes a paused room timer.
func (o *Orchestrator) ResumeRoomTimer(ctx context.Context, roomID uuid.UUID) error {
	m, err := o.machine(ctx, roomID)
	if err != nil {
		return err
	}
	return m.ResumeTimer(ctx)
}

// SkipPreparation starts the current performance without waiting for preparation.
func (o *Orchestrator) SkipPreparation(ctx context.Context, roomID uuid.UUID) error {
	m, err := o.machine(ctx, roomID)
	if err != nil {
		return err
	}
	return m.SkipPreparation(ctx)
}

// SubmitVote records a voter's ballots and reports whether everyone has voted.
func (o *Orchestrator) SubmitVote(ctx context.Context, roomID uuid.UUID, voterID string, ballots []voting.Ballot) (bool, error) {
	m, err := o.machine(ctx, roomID)
	if err != nil {
		return false, err
	}
	return m.SubmitVote(ctx, voterID, ballots)
}

func (o *Orchestrator) JoinRoom(ctx context.Context, roomID uuid.UUID, userID string) error {
	m, err := o.machine(ctx, roomID)
	if err != nil {
		return err
	}
	return m.Join(ctx, userID)
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, roomID uuid.UUID, userID string) error {
	m, err := o.machine(ctx, roomID)
	if err != nil {
		return err
	}
	return m.Leave(ctx, userID)
}

// GetTournament returns a live tournament, or a stored one this process is not running.
func (o *Orchestrator) GetTournament(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	if run, err := o.lookupRun(id); err == nil {
		run.mu.Lock()
		c := run.t.Clone()
		run.mu.Unlock()
		return &c, nil
	}
	t, err := o.repo.GetTournament(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, ErrTournamentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return t, nil
}

// ListTournaments returns stored tournaments, optionally filtered by status.
func (o *Orchestrator) ListTournaments(ctx context.Context, statuses ...models.TournamentStatus) ([]models.Tournament, error) {
	out, err := o.repo.ListTournaments(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	return out, nil
}

// RoundResult is one stored round with its rooms in room order. Each room carries the
// votes and result table stored for it.
type RoundResult struct {
	Round models.Round  `json:"round"`
	Rooms []models.Room `json:"rooms"`
}

// RoundHistory returns the stored rounds of a tournament, oldest first.
func (o *Orchestrator) RoundHistory(ctx context.Context, tournamentID uuid.UUID) ([]RoundResult, error) {
	if _, err := o.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	rounds, err := o.repo.ListRounds(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round history: %w", err)
	}

	out := make([]RoundResult, 0, len(rounds))
	for _, round := range rounds {
		rooms, err := o.repo.ListRooms(ctx, round.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load round history: %w", err)
		}
		for i := range rooms {
			if err := o.attachResults(ctx, &rooms[i]); err != nil {
				return nil, fmt.Errorf("failed to load round history: %w", err)
			}
		}
		out = append(out, RoundResult{Round: round, Rooms: rooms})
	}
	return out, nil
}

// attachResults replaces a room's embedded votes and scores with the records stored
// when its vote finished. Rooms still running keep what they have.
func (o *Orchestrator) attachResults(ctx context.Context, r *models.Room) error {
	votes, err := o.repo.ListVotes(ctx, r.ID)
	if err != nil {
		return err
	}
	scores, err := o.repo.ListScores(ctx, r.ID)
	if err != nil {
		return err
	}
	if len(votes) > 0 {
		r.Votes = votes
	}
	if len(scores) > 0 {
		r.Scores = scores
	}
	return nil
}

// GetRoom returns a live room with current timer values, or a stored one.
func (o *Orchestrator) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	if ref, err := o.lookupRoom(id); err == nil {
		snap := ref.machine.Snapshot()
		return &snap, nil
	}
	r, err := o.repo.GetRoom(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return r, nil
}

// ParticipantStatus reports where userID stands in a running tournament.
func (o *Orchestrator) ParticipantStatus(ctx context.Context, tournamentID uuid.UUID, userID string) (*ParticipantState, error) {
	run, err := o.lookupRun(tournamentID)
	if err != nil {
		return o.storedParticipantStatus(ctx, tournamentID, userID)
	}

	run.mu.Lock()
	t := run.t
	state := &ParticipantState{TournamentID: t.ID, UserID: userID, RoundNumber: t.CurrentRound}
	active := t.HasParticipant(userID)
	played := false
	for _, rr := range run.rounds {
		for _, id := range rr.round.ParticipantIDs {
			if id == userID {
				played = true
			}
		}
	}
	var machines []*room.Machine
	if len(run.rounds) > 0 {
		machines = run.rounds[len(run.rounds)-1].machines
	}
	status := t.Status
	winnerID := t.WinnerID
	run.mu.Unlock()

	switch {
	case status == models.TournamentStatusCompleted && winnerID == userID:
		state.Status = models.ParticipantStatusWinner
		return state, nil
	case !active && !played:
		return nil, ErrParticipantNotFound
	case !active || status.Finished():
		state.Status = models.ParticipantStatusEliminated
		return state, nil
	case status != models.TournamentStatusInProgress:
		state.Status = models.ParticipantStatusRegistered
	default:
		state.Status = models.ParticipantStatusActive
		for _, m := range machines {
			snap := m.Snapshot()
			if !snap.HasParticipant(userID) {
				continue
			}
			id := snap.ID
			state.RoomID = &id
			switch {
			case snap.Stage.Terminal():
				state.Status = models.ParticipantStatusWaitingForRound
			case snap.Stage == models.RoomStageVoting:
				state.Status = models.ParticipantStatusVoting
			case snap.CurrentPerformerID == userID:
				state.Status = models.ParticipantStatusPerforming
			}
			break
		}
	}
	if o.conns != nil && !o.conns.IsConnected(userID) {
		state.Status = models.ParticipantStatusOffline
	}
	return state, nil
}

// storedParticipantStatus answers for a tournament this process no longer runs.
func (o *Orchestrator) storedParticipantStatus(ctx context.Context, tournamentID uuid.UUID, userID string) (*ParticipantState, error) {
	t, err := o.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	state := &ParticipantState{TournamentID: t.ID, UserID: userID, RoundNumber: t.CurrentRound}
	if t.Status == models.TournamentStatusCompleted && t.WinnerID == userID {
		state.Status = models.ParticipantStatusWinner
		return state, nil
	}

	rounds, err := o.repo.ListRounds(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant status: %w", err)
	}
	played := false
	for _, r := range rounds {
		for _, id := range r.ParticipantIDs {
			played = played || id == userID
		}
	}
	switch {
	case !played && !t.HasParticipant(userID):
		return nil, ErrParticipantNotFound
	case t.Status.Finished():
		state.Status = models.ParticipantStatusEliminated
	default:
		state.Status = models.ParticipantStatusRegistered
	}
	return state, nil
}

// Shutdown stops every timer and room of every tournament.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	runs := make([]*tournamentRun, 0, len(o.runs))
	for _, run := range o.runs {
		runs = append(runs, run)
	}
	refs := make([]*roomRef, 0, len(o.rooms))
	for _, ref := range o.rooms {
		refs = append(refs, ref)
	}
	o.mu.RUnlock()

	for _, run := range runs {
		run.sched.StopAll()
	}
	for _, ref := range refs {
		ref.machine.Abandon()
	}
	log.Info().Int("tournaments", len(runs)).Int("rooms", len(refs)).Msg("orchestrator stopped")
}

// tickHandler routes scheduler ticks of one tournament to the right topic.
func (o *Orchestrator) tickHandler(tournamentID uuid.UUID) timer.TickFunc {
	countdownKey := models.TournamentTimerKey(tournamentID)
	return func(key string, remaining int) {
		ctx := context.Background()
		if key == countdownKey {
			o.publishCountdownTick(ctx, tournamentID, remaining)
			return
		}
		raw, ok := strings.CutPrefix(key, "room:")
		if !ok {
			return
		}
		roomID, err := uuid.Parse(raw)
		if err != nil {
			log.Warn().Str("timer_key", key).Msg("tick for unknown timer key")
			return
		}
		o.pub.Publish(ctx, broadcast.RoomTopic(roomID), events.TimerTick, events.TimerPayload{
			OwnerKey:     key,
			RemainingSec: remaining,
		})
	}
}

func (o *Orchestrator) publishCountdownTick(ctx context.Context, tournamentID uuid.UUID, remaining int) {
	run, err := o.lookupRun(tournamentID)
	if err != nil {
		return
	}
	run.mu.Lock()
	participants := append([]string(nil), run.t.Participants...)
	var startAt time.Time
	if run.t.StartAt != nil {
		startAt = *run.t.StartAt
	}
	run.mu.Unlock()

	payload := events.CountdownPayload{TournamentID: tournamentID.String(), TimeLeftSec: remaining, StartAt: startAt}
	o.pub.Publish(ctx, broadcast.TournamentTopic(tournamentID), events.TournamentStartTimerTick, payload)
	for _, userID := range participants {
		o.pub.Publish(ctx, broadcast.UserTopic(userID), events.TournamentStartTimerTick, payload)
	}
}

func (o *Orchestrator) lookupRun(id uuid.UUID) (*tournamentRun, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.runs[id]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return run, nil
}

// activeRun returns the live run of a tournament. A stored tournament that already
// finished reports ErrTournamentFinished.
func (o *Orchestrator) activeRun(ctx context.Context, id uuid.UUID) (*tournamentRun, error) {
	run, err := o.lookupRun(id)
	if err == nil {
		return run, nil
	}
	if t, serr := o.repo.GetTournament(ctx, id); serr == nil && t.Status.Finished() {
		return nil, ErrTournamentFinished
	}
	return nil, err
}

func (o *Orchestrator) lookupRoom(id uuid.UUID) (*roomRef, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ref, ok := o.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return ref, nil
}

func (o *Orchestrator) machine(ctx context.Context, roomID uuid.UUID) (*room.Machine, error) {
	ref, err := o.lookupRoom(roomID)
	if err != nil {
		if o.archived(ctx, roomID) {
			return nil, ErrRoomClosed
		}
		return nil, err
	}
	return ref.machine, nil
}

func (o *Orchestrator) persistLocked(ctx context.Context, run *tournamentRun) {
	if err := o.repo.SaveTournament(ctx, run.t); err != nil {
		log.Error().Err(err).Str("tournament_id", run.id.String()).Msg("failed to persist tournament")
	}
}

func startable(t *models.Tournament) error {
	switch {
	case t.Status == models.TournamentStatusInProgress:
		return ErrAlreadyInProgress
	case t.Status.Finished():
		return ErrTournamentFinished
	}
	return nil
}

func secondsUntil(now, at time.Time) int {
	return int(math.Ceil(at.Sub(now).Seconds()))
}

func topScorer(r models.Room) string {
	for _, s := range r.Scores {
		if s.Rank == 1 {
			return s.UserID
		}
	}
	return r.Winners[0]
}

func tournamentPayload(t *models.Tournament, at time.Time) events.TournamentPayload {
	return events.TournamentPayload{
		TournamentID: t.ID.String(),
		Name:         t.Name,
		Status:       string(t.Status),
		CurrentRound: t.CurrentRound,
		Participants: append([]string(nil), t.Participants...),
		WinnerID:     t.WinnerID,
		At:           at,
	}
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
