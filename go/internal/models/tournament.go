package models

import (
	"time"

	"github.com/google/uuid"
)

// TournamentStatus defines the lifecycle status of a tournament.
type TournamentStatus string

const (
	TournamentStatusCreated      TournamentStatus = "created"
	TournamentStatusRegistration TournamentStatus = "registration"
	TournamentStatusInProgress   TournamentStatus = "in_progress"
	TournamentStatusCompleted    TournamentStatus = "completed"
	TournamentStatusCancelled    TournamentStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s TournamentStatus) Finished() bool {
	return s == TournamentStatusCompleted || s == TournamentStatusCancelled
}

// TournamentSettings holds the per-tournament timing and room configuration.
type TournamentSettings struct {
	MaxParticipantsPerRoom int `json:"max_participants_per_room" yaml:"max_participants_per_room"`
	PerformanceTimeSec     int `json:"performance_time_sec" yaml:"performance_time_sec"`
	VotingTimeSec          int `json:"voting_time_sec" yaml:"voting_time_sec"`
	PreparationTimeSec     int `json:"preparation_time_sec" yaml:"preparation_time_sec"`
	AdvancePerRoom         int `json:"advance_per_room" yaml:"advance_per_room"`
}

// DefaultTournamentSettings returns the settings applied when a tournament is created
// without explicit values.
func DefaultTournamentSettings() TournamentSettings {
	return TournamentSettings{
		MaxParticipantsPerRoom: 5,
		PerformanceTimeSec:     60,
		VotingTimeSec:          20,
		PreparationTimeSec:     10,
		AdvancePerRoom:         2,
	}
}

// Tournament represents a multi-round elimination bracket.
type Tournament struct {
	ID           uuid.UUID          `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	CreatedBy    string             `json:"created_by,omitempty"`
	Status       TournamentStatus   `json:"status"`
	Settings     TournamentSettings `json:"settings"`
	CurrentRound int                `json:"current_round"`
	Participants []string           `json:"participants"`
	StartAt      *time.Time         `json:"start_at,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	WinnerID     string             `json:"winner_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// HasParticipant reports whether userID is registered.
func (t *Tournament) HasParticipant(userID string) bool {
	for _, id := range t.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// RoundStatus defines the lifecycle status of a round.
type RoundStatus string

const (
	RoundStatusPending    RoundStatus = "pending"
	RoundStatusInProgress RoundStatus = "in_progress"
	RoundStatusCompleted  RoundStatus = "completed"
)

// Round is one elimination pass over a set of participants.
type Round struct {
	ID             uuid.UUID   `json:"id"`
	TournamentID   uuid.UUID   `json:"tournament_id"`
	RoundNumber    int         `json:"round_number"`
	Status         RoundStatus `json:"status"`
	RoomIDs        []uuid.UUID `json:"room_ids"`
	ParticipantIDs []string    `json:"participant_ids"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ParticipantStatus describes where a user currently stands in a tournament.
type ParticipantStatus string

const (
	ParticipantStatusRegistered      ParticipantStatus = "registered"
	ParticipantStatusActive          ParticipantStatus = "active"
	ParticipantStatusPerforming      ParticipantStatus = "performing"
	ParticipantStatusVoting          ParticipantStatus = "voting"
	ParticipantStatusWaitingForRound ParticipantStatus = "waiting_for_round_completion"
	ParticipantStatusEliminated      ParticipantStatus = "eliminated"
	ParticipantStatusWinner          ParticipantStatus = "winner"
	ParticipantStatusOffline         ParticipantStatus = "offline"
)

// Clone returns a copy that shares no slices with t.
func (t *Tournament) Clone() Tournament {
	c := *t
	c.Participants = append([]string(nil), t.Participants...)
	return c
}

// Clone returns a copy that shares no slices with r.
func (r *Round) Clone() Round {
	c := *r
	c.RoomIDs = append([]uuid.UUID(nil), r.RoomIDs...)
	c.ParticipantIDs = append([]string(nil), r.ParticipantIDs...)
	return c
}
