package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection and stream settings for the NATS publisher.
type NATSConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // e.g. "showdown.events"
	TickPrefix    string // core NATS subjects kept outside the stream
	MaxAge        time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the settings used when nothing is configured.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		StreamName:    "SHOWDOWN_EVENTS",
		SubjectPrefix: "showdown.events",
		TickPrefix:    "showdown.ticks",
		MaxAge:        time.Hour,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect logging.
func Connect(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("showdown"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject maps a topic onto a NATS subject under prefix.
func Subject(prefix string, topic Topic) string {
	t := strings.NewReplacer(".", "_", " ", "_", ":", ".").Replace(string(topic))
	return prefix + "." + t
}

// NATSPublisher publishes envelopes to a JetStream stream. Timer ticks go over core
// NATS since they are worthless once stale.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig
}

// NewNATSPublisher ensures the stream exists and returns a publisher on nc.
func NewNATSPublisher(ctx context.Context, nc *nats.Conn, cfg NATSConfig) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Tournament events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}

	log.Info().
		Str("stream", cfg.StreamName).
		Str("subjects", cfg.SubjectPrefix+".>").
		Msg("NATS publisher ready")

	return &NATSPublisher{nc: nc, js: js, config: cfg}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic Topic, event string, payload any) {
	env, err := NewEnvelope(topic, event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to build envelope")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal envelope")
		return
	}

	if Ephemeral(event) {
		subject := Subject(p.config.TickPrefix, topic)
		if err := p.nc.Publish(subject, data); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("failed to publish tick")
		}
		return
	}

	subject := Subject(p.config.SubjectPrefix, topic)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.ID)); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event", event).
			Msg("failed to publish event")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("event", event).
		Msg("published event to JetStream")
}

// Ephemeral reports whether event is only meaningful while fresh.
func Ephemeral(event string) bool {
	return strings.HasSuffix(event, ":tick") || event == "tournament:countdown"
}
