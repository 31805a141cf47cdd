package broadcast

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	id := uuid.MustParse("6f1c1d52-1f7a-4a7e-9a53-3c0a2d0f5b10")

	assert.Equal(t, Topic("room:6f1c1d52-1f7a-4a7e-9a53-3c0a2d0f5b10"), RoomTopic(id))
	assert.Equal(t, Topic("tournament:6f1c1d52-1f7a-4a7e-9a53-3c0a2d0f5b10"), TournamentTopic(id))
	assert.Equal(t, Topic("user:alice"), UserTopic("alice"))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "showdown.events.user.a_b", Subject("showdown.events", UserTopic("a.b")))
	assert.Equal(t, "showdown.events.global", Subject("showdown.events", GlobalTopic))
}

func TestFanoutReachesEveryPublisher(t *testing.T) {
	first, second := NewRecorder(), NewRecorder()
	f := Fanout{first, second, LogPublisher{}}

	f.Publish(context.Background(), UserTopic("bob"), "room:assigned", map[string]int{"room_number": 2})

	for _, r := range []*Recorder{first, second} {
		got := r.On(UserTopic("bob"), "room:assigned")
		require.Len(t, got, 1)

		var payload map[string]int
		require.NoError(t, json.Unmarshal(got[0].Data, &payload))
		assert.Equal(t, 2, payload["room_number"])
		assert.NotEmpty(t, got[0].ID)
	}
}

func TestEphemeralEvents(t *testing.T) {
	assert.True(t, Ephemeral("timer:tick"))
	assert.True(t, Ephemeral("tournament:start:timer:tick"))
	assert.True(t, Ephemeral("tournament:countdown"))
	assert.False(t, Ephemeral("round:completed"))
}

func TestNewEnvelopeRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewEnvelope(GlobalTopic, "x", make(chan int))
	assert.Error(t, err)
}
