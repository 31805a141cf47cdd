package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/showdown/go/internal/admin"
	"github.com/mcdev12/showdown/go/internal/auth"
	"github.com/mcdev12/showdown/go/internal/bracket"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/config"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/mcdev12/showdown/go/internal/gateway"
	"github.com/mcdev12/showdown/go/internal/repository"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Services struct {
	Orchestrator *bracket.Orchestrator
	Admin        *admin.Service
	Auth         *auth.Service
	Connections  *gateway.ConnectionManager
	WebSocket    *gateway.WebSocketHandler
	Consumer     *gateway.EventConsumer

	nc *nats.Conn
}

func setupServices(ctx context.Context, cfg *config.Config, store docstore.Store) (*Services, error) {
	// Wire up dependency injection chain
	// Document store → Repository → Orchestrator → Admin service

	authService := auth.NewService(cfg.Auth.JWTSecret)

	connConfig := gateway.DefaultConnectionConfig()
	connConfig.CommandRate = rate.Limit(cfg.Gateway.CommandRate)
	connConfig.CommandBurst = cfg.Gateway.CommandBurst
	connections := gateway.NewConnectionManager(connConfig)

	services := &Services{
		Auth:        authService,
		Connections: connections,
		WebSocket:   gateway.NewWebSocketHandler(connections, authService),
	}

	var publisher broadcast.Publisher = connections
	if cfg.Bus == config.BusNATS {
		natsConfig := broadcast.NATSConfig{
			URL:           cfg.NATS.URL,
			StreamName:    cfg.NATS.StreamName,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			TickPrefix:    cfg.NATS.TickPrefix,
			MaxAge:        cfg.NATS.MaxAge,
			MaxReconnects: -1,
			ReconnectWait: broadcast.DefaultNATSConfig().ReconnectWait,
		}
		nc, err := broadcast.Connect(natsConfig)
		if err != nil {
			return nil, err
		}
		services.nc = nc

		natsPublisher, err := broadcast.NewNATSPublisher(ctx, nc, natsConfig)
		if err != nil {
			nc.Close()
			return nil, err
		}

		// Every instance consumes the stream, so local delivery goes through NATS too.
		consumerConfig := gateway.DefaultJetStreamConsumerConfig()
		consumerConfig.StreamName = natsConfig.StreamName
		consumerConfig.ConsumerName = cfg.NATS.ConsumerName
		consumerConfig.SubjectFilter = natsConfig.SubjectPrefix + ".>"
		consumerConfig.TickSubject = natsConfig.TickPrefix + ".>"
		consumer, err := gateway.NewEventConsumer(ctx, nc, connections, consumerConfig)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		services.Consumer = consumer
		publisher = natsPublisher
	}

	connections.SetRelay(publisher)

	if cfg.LogLevel == "debug" || cfg.LogLevel == "trace" {
		publisher = broadcast.Fanout{publisher, broadcast.LogPublisher{}}
	}

	orch := bracket.NewOrchestrator(bracket.Config{
		Repo:        repository.NewRepository(store),
		Publisher:   publisher,
		Connections: connections,
		Scorer:      voting.NewRandomScorer(),
		Defaults:    cfg.Defaults.Settings,
		StartDelay:  cfg.Defaults.StartDelay,
	})
	if _, err := orch.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore tournaments")
	}
	connections.OnDisconnect(func(userID string) {
		orch.HandleDisconnect(context.Background(), userID)
	})

	services.Orchestrator = orch
	services.Admin = admin.NewService(orch)
	return services, nil
}

// Run starts the background loops. They stop when ctx is cancelled.
func (s *Services) Run(ctx context.Context) {
	go s.Connections.Start(ctx)

	if s.Consumer != nil {
		go func() {
			if err := s.Consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer stopped")
			}
		}()
	}
}

func (s *Services) Close() {
	s.Orchestrator.Shutdown()
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
}
