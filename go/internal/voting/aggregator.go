// Package voting collects votes for a room, fills in missing voters and ranks the
// participants. The Aggregator mutates the room it is given and never locks it;
// callers serialize access to a room.
package voting

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showdown/go/internal/models"
)

// Ballot is one score given by a voter to a target.
type Ballot struct {
	TargetID string `json:"target_id"`
	Score    int    `json:"score"`
}

// Aggregator implements the voting rules of a room.
type Aggregator struct {
	clock  clockwork.Clock
	scorer AutoScoreStrategy
}

// NewAggregator creates an aggregator. A nil scorer defaults to a RandomScorer.
func NewAggregator(clock clockwork.Clock, scorer AutoScoreStrategy) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if scorer == nil {
		scorer = NewRandomScorer()
	}
	return &Aggregator{clock: clock, scorer: scorer}
}

// OpenVoting moves a room whose performance order is exhausted into voting and
// returns the voting timer the caller must schedule.
func (a *Aggregator) OpenVoting(room *models.Room, votingSeconds int) (*models.TimerState, error) {
	if room.Stage != models.RoomStagePerformance || room.CurrentPerformanceIndex < len(room.PerformanceOrder) {
		return nil, ErrPerformanceInProgress
	}
	if votingSeconds <= 0 {
		return nil, fmt.Errorf("invalid voting duration %d", votingSeconds)
	}

	room.Stage = models.RoomStageVoting
	room.CurrentPerformerID = ""
	room.PreparationTimer = nil
	room.Timer = models.NewTimerState(models.RoomTimerKey(room.ID), models.TimerKindVoting, votingSeconds, a.clock.Now())
	return room.Timer, nil
}

// SubmitVote records a voter's ballots and reports whether every current participant
// has now voted. A later ballot for the same target replaces the earlier one.
func (a *Aggregator) SubmitVote(room *models.Room, voterID string, ballots []Ballot) (bool, error) {
	if room.Stage != models.RoomStageVoting {
		return false, ErrNotVoting
	}
	if len(ballots) == 0 {
		return false, ErrEmptyBallot
	}
	if !room.HasParticipant(voterID) {
		return false, ErrForeignParticipant
	}
	for _, b := range ballots {
		if b.TargetID == voterID {
			return false, ErrSelfVote
		}
		if !room.HasParticipant(b.TargetID) {
			return false, ErrForeignParticipant
		}
		if b.Score < MinScore || b.Score > MaxScore {
			return false, ErrInvalidScore
		}
	}

	now := a.clock.Now()
	for _, b := range ballots {
		a.record(room, models.VoteRecord{
			ID:        uuid.New(),
			RoomID:    room.ID,
			RoundID:   room.RoundID,
			VoterID:   voterID,
			TargetID:  b.TargetID,
			Score:     b.Score,
			CreatedAt: now,
		})
	}
	return a.AllVoted(room), nil
}

func (a *Aggregator) record(room *models.Room, v models.VoteRecord) {
	for i := range room.Votes {
		if room.Votes[i].VoterID == v.VoterID && room.Votes[i].TargetID == v.TargetID {
			v.ID = room.Votes[i].ID
			room.Votes[i] = v
			return
		}
	}
	room.Votes = append(room.Votes, v)
}

// AllVoted reports whether every current participant has cast at least one vote.
func (a *Aggregator) AllVoted(room *models.Room) bool {
	voted := votersOf(room)
	for _, id := range room.ParticipantIDs {
		if !voted[id] {
			return false
		}
	}
	return true
}

// AutoFillMissing synthesizes votes for every participant who has not voted and
// guarantees every participant at least one inbound vote. It returns the new records.
func (a *Aggregator) AutoFillMissing(room *models.Room) []models.VoteRecord {
	now := a.clock.Now()
	var filled []models.VoteRecord
	add := func(voter, target string) {
		v := models.VoteRecord{
			ID:        uuid.New(),
			RoomID:    room.ID,
			RoundID:   room.RoundID,
			VoterID:   voter,
			TargetID:  target,
			Score:     a.scorer.Score(voter, target),
			IsAuto:    true,
			CreatedAt: now,
		}
		room.Votes = append(room.Votes, v)
		filled = append(filled, v)
	}

	voted := votersOf(room)
	for _, voter := range room.ParticipantIDs {
		if voted[voter] {
			continue
		}
		for _, target := range room.ParticipantIDs {
			if target != voter {
				add(voter, target)
			}
		}
	}

	inbound := make(map[string]bool)
	for _, v := range room.Votes {
		if room.HasParticipant(v.VoterID) {
			inbound[v.TargetID] = true
		}
	}
	for _, target := range room.ParticipantIDs {
		if inbound[target] {
			continue
		}
		for _, voter := range room.ParticipantIDs {
			if voter != target {
				add(voter, target)
				break
			}
		}
	}
	return filled
}

// ComputeResults ranks the current participants by total score, marks the top
// advanceCount as winners and moves the room to the results stage.
func (a *Aggregator) ComputeResults(room *models.Room, advanceCount int) []string {
	totals := make(map[string]int)
	counts := make(map[string]int)
	for _, v := range room.Votes {
		if !room.HasParticipant(v.VoterID) || !room.HasParticipant(v.TargetID) {
			continue
		}
		totals[v.TargetID] += v.Score
		counts[v.TargetID]++
	}

	scores := make([]models.ParticipantScore, 0, len(room.ParticipantIDs))
	for _, id := range room.ParticipantIDs {
		s := models.ParticipantScore{
			UserID:      id,
			RoomID:      room.ID,
			RoundNumber: room.RoundNumber,
			TotalScore:  totals[id],
			VoteCount:   counts[id],
		}
		if s.VoteCount > 0 {
			s.AverageScore = float64(s.TotalScore) / float64(s.VoteCount)
		}
		scores = append(scores, s)
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].TotalScore > scores[j].TotalScore
	})

	if advanceCount > len(scores) {
		advanceCount = len(scores)
	}
	if advanceCount < 0 {
		advanceCount = 0
	}
	winners := make([]string, 0, advanceCount)
	for i := range scores {
		scores[i].Rank = i + 1
		if i < advanceCount {
			scores[i].Advances = true
			winners = append(winners, scores[i].UserID)
		}
	}

	now := a.clock.Now()
	room.Scores = scores
	room.Winners = winners
	room.Stage = models.RoomStageResults
	room.CurrentPerformerID = ""
	if room.Timer != nil {
		room.Timer.IsRunning = false
		room.Timer.RemainingSec = 0
		room.Timer.CompletedAt = &now
	}
	room.CompletedAt = &now
	return winners
}

func votersOf(room *models.Room) map[string]bool {
	voted := make(map[string]bool, len(room.ParticipantIDs))
	for _, v := range room.Votes {
		voted[v.VoterID] = true
	}
	return voted
}
