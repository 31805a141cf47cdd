// Package broadcast defines the fan-out contract between the tournament core and
// whatever transport delivers events to clients.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Topic scopes an event to a room, a tournament, a user or everyone.
type Topic string

// GlobalTopic reaches every connected client.
const GlobalTopic Topic = "global"

func RoomTopic(roomID uuid.UUID) Topic             { return Topic("room:" + roomID.String()) }
func TournamentTopic(tournamentID uuid.UUID) Topic { return Topic("tournament:" + tournamentID.String()) }
func UserTopic(userID string) Topic                { return Topic("user:" + userID) }

// Envelope is the wire form of every published event.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     Topic           `json:"topic"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(topic Topic, event string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Topic:     topic,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Publisher delivers events without waiting for subscribers. Implementations log
// their own failures.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, event string, payload any)
}

// Fanout publishes every event to each of its publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic Topic, event string, payload any) {
	for _, p := range f {
		p.Publish(ctx, topic, event, payload)
	}
}

// LogPublisher writes events to the debug log. Useful when no transport is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, topic Topic, event string, payload any) {
	log.Debug().
		Str("topic", string(topic)).
		Str("event", event).
		Interface("payload", payload).
		Msg("publishing event")
}

// Recorder keeps every published envelope in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, topic Topic, event string, payload any) {
	env, err := NewEnvelope(topic, event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to record event")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *env)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// Named returns the recorded envelopes with the given event name.
func (r *Recorder) Named(event string) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// On returns the recorded envelopes with the given event name on topic.
func (r *Recorder) On(topic Topic, event string) []Envelope {
	var out []Envelope
	for _, e := range r.Named(event) {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
