package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Deliverer accepts envelopes for local fan-out. ConnectionManager implements it.
type Deliverer interface {
	Deliver(env *broadcast.Envelope)
}

// JetStreamConsumerConfig holds configuration for the JetStream consumer
type JetStreamConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	SubjectFilter string // e.g. "showdown.events.>"
	TickSubject   string // e.g. "showdown.ticks.>"
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// DefaultJetStreamConsumerConfig returns default JetStream consumer configuration
// matching broadcast.DefaultNATSConfig.
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	nc := broadcast.DefaultNATSConfig()
	return JetStreamConsumerConfig{
		StreamName:    nc.StreamName,
		ConsumerName:  "showdown-gateway",
		SubjectFilter: nc.SubjectPrefix + ".>",
		TickSubject:   nc.TickPrefix + ".>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
	}
}

// EventConsumer feeds envelopes published by any orchestrator instance to the local
// connection manager. Durable events come from JetStream, timer ticks from core NATS.
type EventConsumer struct {
	deliverer Deliverer
	nc        *nats.Conn
	js        jetstream.JetStream
	consumer  jetstream.Consumer
	ticks     *nats.Subscription
	config    JetStreamConsumerConfig
}

// NewEventConsumer creates a new JetStream event consumer on an open connection.
func NewEventConsumer(ctx context.Context, nc *nats.Conn, deliverer Deliverer, config JetStreamConsumerConfig) (*EventConsumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ec := &EventConsumer{
		deliverer: deliverer,
		nc:        nc,
		js:        js,
		config:    config,
	}

	if err := ec.ensureConsumer(ctx); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return ec, nil
}

// ensureConsumer creates or gets the JetStream consumer
func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, ec.config.ConsumerName)
	if err == nil {
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("using existing JetStream consumer")
		ec.consumer = consumer
		return nil
	}
	if !errors.Is(err, jetstream.ErrConsumerNotFound) {
		return fmt.Errorf("get consumer: %w", err)
	}

	// Clients only care about what happens after the gateway starts.
	consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Showdown websocket gateway",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("created JetStream consumer")

	ec.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Str("ticks", ec.config.TickSubject).
		Msg("starting event consumer")

	sub, err := ec.nc.Subscribe(ec.config.TickSubject, func(msg *nats.Msg) {
		if err := ec.process(msg.Data); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed tick")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to ticks: %w", err)
	}
	ec.ticks = sub
	defer sub.Unsubscribe()

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	if info, err := ec.GetConsumerInfo(ctx); err == nil {
		log.Info().
			Uint64("pending", info.NumPending).
			Int("ack_pending", info.NumAckPending).
			Msg("event consumer attached")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := ec.process(msg.Data()); err != nil {
				// a malformed envelope never becomes valid, so it is not redelivered
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process message")
				if termErr := msg.Term(); termErr != nil {
					log.Error().Err(termErr).Msg("failed to terminate message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (ec *EventConsumer) process(data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	ec.deliverer.Deliver(env)
	return nil
}

// DecodeEnvelope parses and checks an envelope read from NATS.
func DecodeEnvelope(data []byte) (*broadcast.Envelope, error) {
	var env broadcast.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.Topic == "" || env.Event == "" {
		return nil, fmt.Errorf("envelope %q missing topic or event", env.ID)
	}
	return &env, nil
}

// GetConsumerInfo returns information about the consumer
func (ec *EventConsumer) GetConsumerInfo(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return ec.consumer.Info(ctx)
}
