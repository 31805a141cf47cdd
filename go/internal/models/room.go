package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStage defines the lifecycle stage of a room.
type RoomStage string

const (
	RoomStageWaiting     RoomStage = "waiting"
	RoomStagePerformance RoomStage = "performance"
	RoomStageVoting      RoomStage = "voting"
	RoomStageResults     RoomStage = "results"
	RoomStageCompleted   RoomStage = "completed"
)

// Terminal reports whether the room has finished its own lifecycle and is only
// waiting on the rest of its round.
func (s RoomStage) Terminal() bool {
	return s == RoomStageResults || s == RoomStageCompleted
}

// Room is a concurrently running match instance inside a round.
type Room struct {
	ID                      uuid.UUID          `json:"id"`
	TournamentID            uuid.UUID          `json:"tournament_id"`
	RoundID                 uuid.UUID          `json:"round_id"`
	RoundNumber             int                `json:"round_number"`
	RoomNumber              int                `json:"room_number"`
	Stage                   RoomStage          `json:"stage"`
	ParticipantIDs          []string           `json:"participant_ids"`
	PerformanceOrder        []string           `json:"performance_order"`
	CurrentPerformanceIndex int                `json:"current_performance_index"`
	CurrentPerformerID      string             `json:"current_performer_id,omitempty"`
	Timer                   *TimerState        `json:"timer,omitempty"`
	PreparationTimer        *TimerState        `json:"preparation_timer,omitempty"`
	Votes                   []VoteRecord       `json:"votes"`
	Scores                  []ParticipantScore `json:"scores"`
	Winners                 []string           `json:"winners"`
	CreatedAt               time.Time          `json:"created_at"`
	StartedAt               *time.Time         `json:"started_at,omitempty"`
	CompletedAt             *time.Time         `json:"completed_at,omitempty"`
}

// HasParticipant reports whether userID is currently in the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, id := range r.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the owning state machine.
func (r *Room) Clone() Room {
	c := *r
	c.ParticipantIDs = append([]string(nil), r.ParticipantIDs...)
	c.PerformanceOrder = append([]string(nil), r.PerformanceOrder...)
	c.Votes = append([]VoteRecord(nil), r.Votes...)
	c.Scores = append([]ParticipantScore(nil), r.Scores...)
	c.Winners = append([]string(nil), r.Winners...)
	if r.Timer != nil {
		t := *r.Timer
		c.Timer = &t
	}
	if r.PreparationTimer != nil {
		t := *r.PreparationTimer
		c.PreparationTimer = &t
	}
	return c
}

// VoteRecord is a single score given by one participant to another.
type VoteRecord struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	RoundID   uuid.UUID `json:"round_id"`
	VoterID   string    `json:"voter_id"`
	TargetID  string    `json:"target_id"`
	Score     int       `json:"score"`
	IsAuto    bool      `json:"is_auto"`
	CreatedAt time.Time `json:"created_at"`
}

// ParticipantScore is the aggregated result of one participant in one room.
type ParticipantScore struct {
	UserID       string    `json:"user_id"`
	RoomID       uuid.UUID `json:"room_id"`
	RoundNumber  int       `json:"round_number"`
	TotalScore   int       `json:"total_score"`
	VoteCount    int       `json:"vote_count"`
	AverageScore float64   `json:"average_score"`
	Rank         int       `json:"rank"`
	Advances     bool      `json:"advances"`
}
