package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerKind identifies which stage a timer drives.
type TimerKind string

const (
	TimerKindPreparation TimerKind = "preparation"
	TimerKindPerformance TimerKind = "performance"
	TimerKindVoting      TimerKind = "voting"
	TimerKindCountdown   TimerKind = "countdown"
)

// TimerState is the persisted view of a countdown timer.
type TimerState struct {
	ID           uuid.UUID  `json:"id"`
	OwnerKey     string     `json:"owner_key"`
	Kind         TimerKind  `json:"kind"`
	DurationSec  int        `json:"duration_sec"`
	RemainingSec int        `json:"remaining_sec"`
	IsRunning    bool       `json:"is_running"`
	IsPaused     bool       `json:"is_paused"`
	StartedAt    time.Time  `json:"started_at"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewTimerState returns a running timer of the given kind.
func NewTimerState(ownerKey string, kind TimerKind, seconds int, now time.Time) *TimerState {
	return &TimerState{
		ID:           uuid.New(),
		OwnerKey:     ownerKey,
		Kind:         kind,
		DurationSec:  seconds,
		RemainingSec: seconds,
		IsRunning:    true,
		StartedAt:    now,
	}
}

// RoomTimerKey is the scheduler key shared by every stage timer of a room.
func RoomTimerKey(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}

// TournamentTimerKey is the scheduler key of a tournament's start countdown.
func TournamentTimerKey(tournamentID uuid.UUID) string {
	return "tournament:" + tournamentID.String()
}
