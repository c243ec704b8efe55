package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway metrics
var (
	// GatewayConnections tracks currently open WebSocket sessions
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections_current",
			Help: "Current number of open gateway sessions",
		},
	)

	// GatewayFramesReceived counts client frames by op
	GatewayFramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "Client frames received by op",
		},
		[]string{"op"},
	)

	// GatewayFramesSent counts server frames by op
	GatewayFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_frames_sent_total",
			Help: "Server frames queued by op",
		},
		[]string{"op"},
	)

	// GatewayClosures counts fatal session closures by reason
	GatewayClosures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_protocol_errors_total",
			Help: "Sessions closed with an error frame, by reason",
		},
		[]string{"reason"},
	)
)

// Tracking metrics
var (
	TrackedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracked_users_current",
			Help: "User identities with at least one subscribed session",
		},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poll_tick_duration_seconds",
			Help:    "Duration of one poll loop tick",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	StatusUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "status_updates_total",
			Help: "Status changes observed by the poll loop",
		},
	)

	// UpstreamErrors counts failed lookups by stage (token, status)
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Failed upstream calls by stage",
		},
		[]string{"stage"},
	)

	// TokenRefreshes counts credential refreshes by result (ok, revoked, error)
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Access token refreshes by result",
		},
		[]string{"result"},
	)

	// Authorizations counts completed logins by kind (new, returning)
	Authorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorizations_total",
			Help: "Completed authorizations by kind",
		},
		[]string{"kind"},
	)
)
