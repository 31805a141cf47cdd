package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPrepareSeedFillsDefaults(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	defaults := models.DefaultTournamentSettings()

	var tour models.Tournament
	prepareSeed(&tour, defaults, now)

	assert.NotEqual(t, uuid.Nil, tour.ID)
	assert.Equal(t, models.TournamentStatusRegistration, tour.Status)
	assert.Equal(t, defaults, tour.Settings)
	assert.NotNil(t, tour.Participants)
	assert.Equal(t, now, tour.CreatedAt)
	assert.Equal(t, now, tour.UpdatedAt)
}

func TestPrepareSeedKeepsGivenValues(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	settings := models.TournamentSettings{MaxParticipantsPerRoom: 3, PerformanceTimeSec: 30, VotingTimeSec: 10, AdvancePerRoom: 1}
	tour := models.Tournament{
		ID:           id,
		Status:       models.TournamentStatusCreated,
		Settings:     settings,
		Participants: []string{"u1"},
		CreatedAt:    created,
	}

	prepareSeed(&tour, models.DefaultTournamentSettings(), created.Add(time.Hour))

	assert.Equal(t, id, tour.ID)
	assert.Equal(t, models.TournamentStatusCreated, tour.Status)
	assert.Equal(t, settings, tour.Settings)
	assert.Equal(t, []string{"u1"}, tour.Participants)
	assert.Equal(t, created, tour.CreatedAt)
	assert.Equal(t, created.Add(time.Hour), tour.UpdatedAt)
}
