package events

import (
	"time"
)

// Event names published by the tournament core. Clients subscribe to topics and
// switch on these names.
const (
	TournamentCreated               = "tournament:created"
	TournamentParticipantRegistered = "tournament:participant_registered"
	TournamentStartRescheduled      = "tournament:start_rescheduled"
	TournamentStartTimerTick        = "tournament:start:timer:tick"
	TournamentCountdown             = "tournament:countdown"
	TournamentAutoStarted           = "tournament:auto_started"
	TournamentStarted               = "tournament:started"
	TournamentParticipantMoved      = "tournament:participant_moved_to_room"
	TournamentRoundAdvancing        = "tournament:round_advancing"
	TournamentCompleted             = "tournament:completed"
	TournamentWinnerAnnounced       = "tournament:winner_announced"
	TournamentStopped               = "tournament:stopped"

	RoundStarted               = "round:started"
	RoundAllRoomsCompleted     = "round:all_rooms_completed"
	RoundCompleted             = "round:completed"
	RoundParticipantEliminated = "round:participant_eliminated"
	RoundParticipantAdvances   = "round:participant_advances"

	RoomCreated      = "room:created"
	RoomAssigned     = "room:assigned"
	RoomStageChanged = "room:stage_changed"

	PerformancePreparationStarted = "performance:preparation_started"
	PerformanceStarted            = "performance:started"
	PerformanceCompleted          = "performance:completed"
	PerformanceNext               = "performance:next"

	TimerStarted = "timer:started"
	TimerTick    = "timer:tick"
	TimerPaused  = "timer:paused"
	TimerResumed = "timer:resumed"
	TimerStopped = "timer:stopped"

	VotingStarted    = "voting:started"
	VotingReceived   = "voting:received"
	VotingAutoScored = "voting:auto_scored"
	VotingCompleted  = "voting:completed"

	ResultsCalculated       = "results:calculated"
	ResultsWinnersAnnounced = "results:winners_announced"

	ParticipantJoined       = "participant:joined"
	ParticipantLeft         = "participant:left"
	ParticipantDisconnected = "participant:disconnected"
	ParticipantKicked       = "participant:kicked"
	ParticipantMediaChanged = "participant:media_changed"

	TournamentRemoved = "tournament:removed"
)

// TournamentPayload carries the public view of a tournament.
type TournamentPayload struct {
	TournamentID string    `json:"tournament_id"`
	Name         string    `json:"name,omitempty"`
	Status       string    `json:"status"`
	CurrentRound int       `json:"current_round"`
	Participants []string  `json:"participants,omitempty"`
	WinnerID     string    `json:"winner_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// ParticipantPayload is sent when a participant registers, joins, leaves or drops.
type ParticipantPayload struct {
	TournamentID string `json:"tournament_id,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
	UserID       string `json:"user_id"`
}

// RemovalPayload tells a user they were taken out of a tournament.
type RemovalPayload struct {
	TournamentID string `json:"tournament_id"`
	UserID       string `json:"user_id"`
	Reason       string `json:"reason"`
}

// MediaPayload relays a participant's camera or microphone state to their room.
type MediaPayload struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	Media   string `json:"media"`
	Enabled bool   `json:"enabled"`
}

// CountdownPayload is sent every second while a tournament waits for its start.
type CountdownPayload struct {
	TournamentID string    `json:"tournament_id"`
	TimeLeftSec  int       `json:"time_left_sec"`
	StartAt      time.Time `json:"start_at"`
}

// RoundPayload describes a round transition.
type RoundPayload struct {
	TournamentID string   `json:"tournament_id"`
	RoundID      string   `json:"round_id"`
	RoundNumber  int      `json:"round_number"`
	RoomIDs      []string `json:"room_ids,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Winners      []string `json:"winners,omitempty"`
}

// AssignmentPayload tells a user which room they play in.
type AssignmentPayload struct {
	TournamentID string `json:"tournament_id"`
	RoundNumber  int    `json:"round_number"`
	RoomID       string `json:"room_id"`
	RoomNumber   int    `json:"room_number"`
}

// EliminationPayload is sent to a user who leaves the bracket or moves on.
type EliminationPayload struct {
	TournamentID string `json:"tournament_id"`
	RoundNumber  int    `json:"round_number"`
	UserID       string `json:"user_id"`
}

// StagePayload is sent on every room stage change.
type StagePayload struct {
	RoomID    string `json:"room_id"`
	Stage     string `json:"stage"`
	Performer string `json:"performer,omitempty"`
}

// PerformancePayload describes a performer turn.
type PerformancePayload struct {
	RoomID      string `json:"room_id"`
	PerformerID string `json:"performer_id"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// TimerPayload describes a timer start, pause, resume or tick.
type TimerPayload struct {
	OwnerKey     string `json:"owner_key"`
	Kind         string `json:"kind,omitempty"`
	RemainingSec int    `json:"remaining_sec"`
	DurationSec  int    `json:"duration_sec,omitempty"`
}

// VotePayload acknowledges a vote without revealing the scores.
type VotePayload struct {
	RoomID   string `json:"room_id"`
	VoterID  string `json:"voter_id"`
	Count    int    `json:"count"`
	AllVoted bool   `json:"all_voted"`
}

// ScoreEntry is one line of a room's result table.
type ScoreEntry struct {
	UserID     string  `json:"user_id"`
	TotalScore int     `json:"total_score"`
	Average    float64 `json:"average"`
	Rank       int     `json:"rank"`
	Advances   bool    `json:"advances"`
}

// ResultsPayload is sent when a room computes its results.
type ResultsPayload struct {
	RoomID  string       `json:"room_id"`
	Scores  []ScoreEntry `json:"scores"`
	Winners []string     `json:"winners"`
}
