// Package repository maps tournament documents onto a docstore.Store.
package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/mcdev12/showdown/go/internal/models"
)

// Repository implements tournament data access operations
type Repository struct {
	store docstore.Store
}

// NewRepository creates a new repository over store
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// SaveTournament creates or replaces a tournament
func (r *Repository) SaveTournament(ctx context.Context, t *models.Tournament) error {
	if err := r.store.Set(ctx, docstore.Tournaments, t.ID.String(), t); err != nil {
		return fmt.Errorf("failed to save tournament: %w", err)
	}
	return nil
}

// GetTournament retrieves a tournament by ID
func (r *Repository) GetTournament(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	var t models.Tournament
	if err := r.store.Get(ctx, docstore.Tournaments, id.String(), &t); err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return &t, nil
}

// UpdateTournamentStatus changes only the status and its timestamps.
func (r *Repository) UpdateTournamentStatus(ctx context.Context, id uuid.UUID, status models.TournamentStatus, at time.Time) error {
	fields := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if status.Finished() {
		fields["completed_at"] = at
	}
	if err := r.store.Update(ctx, docstore.Tournaments, id.String(), fields); err != nil {
		return fmt.Errorf("failed to update tournament status: %w", err)
	}
	return nil
}

// ListTournaments returns tournaments ordered by creation time, optionally limited to
// the given statuses.
func (r *Repository) ListTournaments(ctx context.Context, statuses ...models.TournamentStatus) ([]models.Tournament, error) {
	var filters []docstore.Filter
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		filters = append(filters, docstore.In("status", values))
	}

	raws, err := r.store.Query(ctx, docstore.Tournaments, filters...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	out, err := docstore.Decode[models.Tournament](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveRound creates or replaces a round
func (r *Repository) SaveRound(ctx context.Context, round *models.Round) error {
	if err := r.store.Set(ctx, docstore.Rounds, round.ID.String(), round); err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	return nil
}

// ListRounds returns a tournament's rounds in round order
func (r *Repository) ListRounds(ctx context.Context, tournamentID uuid.UUID) ([]models.Round, error) {
	raws, err := r.store.Query(ctx, docstore.Rounds, docstore.Eq("tournament_id", tournamentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	out, err := docstore.Decode[models.Round](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

// SaveRoom creates or replaces a room
func (r *Repository) SaveRoom(ctx context.Context, room *models.Room) error {
	if err := r.store.Set(ctx, docstore.Rooms, room.ID.String(), room); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room by ID
func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := r.store.Get(ctx, docstore.Rooms, id.String(), &room); err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// ListRooms returns the rooms of a round ordered by room number
func (r *Repository) ListRooms(ctx context.Context, roundID uuid.UUID) ([]models.Room, error) {
	raws, err := r.store.Query(ctx, docstore.Rooms, docstore.Eq("round_id", roundID))
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	out, err := docstore.Decode[models.Room](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomNumber < out[j].RoomNumber })
	return out, nil
}

// SaveVotes writes a batch of vote records
func (r *Repository) SaveVotes(ctx context.Context, votes []models.VoteRecord) error {
	if len(votes) == 0 {
		return nil
	}
	docs := make(map[string]any, len(votes))
	for _, v := range votes {
		docs[v.ID.String()] = v
	}
	if err := r.store.SetMany(ctx, docstore.Votes, docs); err != nil {
		return fmt.Errorf("failed to save votes: %w", err)
	}
	return nil
}

// ListVotes returns the vote records of a room
func (r *Repository) ListVotes(ctx context.Context, roomID uuid.UUID) ([]models.VoteRecord, error) {
	raws, err := r.store.Query(ctx, docstore.Votes, docstore.Eq("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	out, err := docstore.Decode[models.VoteRecord](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return out, nil
}

// SaveScores writes a room's result table
func (r *Repository) SaveScores(ctx context.Context, scores []models.ParticipantScore) error {
	if len(scores) == 0 {
		return nil
	}
	docs := make(map[string]any, len(scores))
	for _, s := range scores {
		docs[scoreID(s)] = s
	}
	if err := r.store.SetMany(ctx, docstore.Scores, docs); err != nil {
		return fmt.Errorf("failed to save scores: %w", err)
	}
	return nil
}

// ListScores returns a room's result table ordered by rank
func (r *Repository) ListScores(ctx context.Context, roomID uuid.UUID) ([]models.ParticipantScore, error) {
	raws, err := r.store.Query(ctx, docstore.Scores, docstore.Eq("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	out, err := docstore.Decode[models.ParticipantScore](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func scoreID(s models.ParticipantScore) string {
	return s.RoomID.String() + ":" + s.UserID
}
