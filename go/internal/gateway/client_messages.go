package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/events"
	"github.com/rs/zerolog/log"
)

// Client command types
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandPing        = "ping"
	CommandMedia       = "media_toggle"
)

// Media kinds a participant can switch on and off
const (
	MediaAudio = "audio"
	MediaVideo = "video"
)

// Reply types sent back on the same connection
const (
	ReplySubscribed   = "subscribed"
	ReplyUnsubscribed = "unsubscribed"
	ReplyPong         = "pong"
	ReplyError        = "error"
)

// ClientMessage is a command sent by a websocket client.
type ClientMessage struct {
	Type  string          `json:"type"`
	Topic broadcast.Topic `json:"topic,omitempty"`
	// media_toggle only
	Media   string `json:"media,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// Reply answers a ClientMessage.
type Reply struct {
	Type  string          `json:"type"`
	Topic broadcast.Topic `json:"topic,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleClientMessage processes messages received from the client
func (c *Connection) handleClientMessage(message []byte) {
	if !c.limiter.Allow() {
		c.reply(Reply{Type: ReplyError, Error: "rate limit exceeded"})
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(Reply{Type: ReplyError, Error: "malformed message"})
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Str("type", msg.Type).
		Str("topic", string(msg.Topic)).
		Msg("received client message")

	switch msg.Type {
	case CommandPing:
		c.reply(Reply{Type: ReplyPong})
	case CommandSubscribe:
		if !subscribable(msg.Topic) {
			c.reply(Reply{Type: ReplyError, Topic: msg.Topic, Error: "topic not subscribable"})
			return
		}
		if c.Manager.Subscribe(c, msg.Topic) {
			c.reply(Reply{Type: ReplySubscribed, Topic: msg.Topic})
		}
	case CommandUnsubscribe:
		if !subscribable(msg.Topic) {
			c.reply(Reply{Type: ReplyError, Topic: msg.Topic, Error: "topic not subscribable"})
			return
		}
		c.Manager.Unsubscribe(c, msg.Topic)
		c.reply(Reply{Type: ReplyUnsubscribed, Topic: msg.Topic})
	case CommandMedia:
		c.relayMedia(msg)
	default:
		c.reply(Reply{Type: ReplyError, Error: "unknown message type " + msg.Type})
	}
}

// relayMedia tells the rest of a room that this user switched a media track. Only
// rooms the connection watches accept it.
func (c *Connection) relayMedia(msg ClientMessage) {
	raw, ok := strings.CutPrefix(string(msg.Topic), "room:")
	roomID, err := uuid.Parse(raw)
	if !ok || err != nil {
		c.reply(Reply{Type: ReplyError, Topic: msg.Topic, Error: "media changes go to a room topic"})
		return
	}
	if msg.Media != MediaAudio && msg.Media != MediaVideo {
		c.reply(Reply{Type: ReplyError, Topic: msg.Topic, Error: "unknown media " + msg.Media})
		return
	}
	if !c.Manager.Subscribed(c, msg.Topic) {
		c.reply(Reply{Type: ReplyError, Topic: msg.Topic, Error: "not subscribed to topic"})
		return
	}

	c.Manager.relayPublisher().Publish(context.Background(), msg.Topic, events.ParticipantMediaChanged, events.MediaPayload{
		RoomID:  roomID.String(),
		UserID:  c.UserID,
		Media:   msg.Media,
		Enabled: msg.Enabled,
	})
}

func (c *Connection) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	c.Manager.send(c, data)
}

// subscribable limits client subscriptions to room and tournament topics. User
// topics are assigned on connect and never chosen by the client.
func subscribable(topic broadcast.Topic) bool {
	for _, prefix := range []string{"room:", "tournament:"} {
		if rest, ok := strings.CutPrefix(string(topic), prefix); ok {
			_, err := uuid.Parse(rest)
			return err == nil
		}
	}
	return false
}
