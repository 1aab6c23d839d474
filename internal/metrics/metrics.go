package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// 数据库连接指标
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// ============================================
	// 对账 (reconciliation pass) 指标
	// ============================================
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_reconciliation_passes_total",
			Help: "Total number of reconciliation passes by result",
		},
		[]string{"result"},
	)

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayer_reconciliation_pass_duration_seconds",
		Help:    "Reconciliation pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	PassesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_reconciliation_passes_rejected_total",
		Help: "Triggers rejected because a pass was already running",
	})

	BacklogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_backlog_size",
		Help: "Number of requests examined by the last reconciliation pass",
	})

	NonceCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_nonce_cursor",
		Help: "Nonce the next submission will attempt, as of the last pass",
	})

	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_request_transitions_total",
			Help: "Total number of persisted request status transitions",
		},
		[]string{"status"},
	)

	NonceConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_nonce_conflicts_total",
			Help: "Total number of submissions retried because of a nonce conflict",
		},
		[]string{"kind"},
	)

	// ============================================
	// NATS 连接和消息指标
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"sink", "status"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_failed_total",
			Help: "Total number of lifecycle events that failed to publish",
		},
		[]string{"sink"},
	)

	// ============================================
	// 余额监控指标
	// ============================================
	RelayerBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_wallet_balance_wei",
			Help: "Relayer wallet balance in wei (float approximation)",
		},
		[]string{"chain", "address"},
	)

	// ============================================
	// HTTP 指标
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_ws_clients",
		Help: "Connected websocket stream clients",
	})
)
