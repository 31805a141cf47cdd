package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "showdown_active_rooms",
			Help: "Rooms that have started and not reached a terminal stage",
		},
	)

	stageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showdown_room_stage_transitions_total",
			Help: "Room stage transitions by target stage",
		},
		[]string{"stage"},
	)

	timerExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showdown_timer_expirations_total",
			Help: "Timer expirations by timer kind",
		},
		[]string{"kind"},
	)

	votesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showdown_votes_total",
			Help: "Vote records by origin",
		},
		[]string{"origin"},
	)

	barrierEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showdown_round_barrier_evaluations_total",
			Help: "Round completion barrier evaluations by outcome",
		},
		[]string{"outcome"},
	)

	roundsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showdown_rounds_completed_total",
			Help: "Rounds that passed the completion barrier",
		},
	)

	tournamentsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showdown_tournaments_finished_total",
			Help: "Tournaments that reached a terminal status",
		},
		[]string{"status"},
	)

	gatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "showdown_gateway_connections",
			Help: "Open websocket connections",
		},
	)

	gatewayDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showdown_gateway_dropped_messages_total",
			Help: "Messages the gateway could not deliver by reason",
		},
		[]string{"reason"},
	)

	roomSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "showdown_room_size",
			Help:    "Participants per room at creation",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)
)

func RoomStarted()  { activeRooms.Inc() }
func RoomFinished() { activeRooms.Dec() }

func StageEntered(stage string) { stageTransitions.WithLabelValues(stage).Inc() }

func TimerExpired(kind string) { timerExpirations.WithLabelValues(kind).Inc() }

func VotesRecorded(auto bool, n int) {
	origin := "human"
	if auto {
		origin = "auto"
	}
	votesRecorded.WithLabelValues(origin).Add(float64(n))
}

// BarrierEvaluated records whether a barrier check completed the round, found rooms
// still running, or found the round already completed.
func BarrierEvaluated(outcome string) { barrierEvaluations.WithLabelValues(outcome).Inc() }

func RoundCompleted() { roundsCompleted.Inc() }

func TournamentFinished(status string) { tournamentsFinished.WithLabelValues(status).Inc() }

func RoomCreated(participants int) { roomSize.Observe(float64(participants)) }

func ConnectionOpened() { gatewayConnections.Inc() }
func ConnectionClosed() { gatewayConnections.Dec() }

// MessageDropped counts envelopes lost to a full broadcast queue or a slow client.
func MessageDropped(reason string) { gatewayDropped.WithLabelValues(reason).Inc() }
