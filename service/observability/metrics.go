package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueuePublished counts work items published to the rework queue, by path.
	QueuePublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rework_queue_published_total",
		Help: "Work items published to the rework queue",
	}, []string{"path"}) // path: mass, individual, session

	// QueueSkipped counts users filtered out before publish.
	QueueSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rework_queue_skipped_total",
		Help: "Users skipped during enqueue",
	}, []string{"reason"}) // reason: inactive, duplicate

	// MessagesProcessed counts consumed queue messages by outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rework_messages_processed_total",
		Help: "Queue messages consumed by the processor",
	}, []string{"outcome"}) // outcome: ok, poison, retried

	// ScoresRecalculated counts per-score PP recalculations.
	ScoresRecalculated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rework_scores_recalculated_total",
		Help: "Individual score recalculations performed",
	}, []string{"component"}) // component: processor, deploy

	// ProcessDuration tracks the wall time of one user's recalculation.
	ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rework_process_duration_seconds",
		Help:    "Duration of a single user recalculation",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// BeatmapFetches counts beatmap source lookups by result.
	BeatmapFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rework_beatmap_fetches_total",
		Help: "Beatmap source lookups",
	}, []string{"result"}) // result: cache_hit, cache_miss, not_found, error

	// DeployBeatmaps tracks Phase A progress.
	DeployBeatmaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rework_deploy_beatmaps_total",
		Help: "Beatmaps recalculated by deploy phase A",
	})

	// DeployUsers tracks Phase B progress.
	DeployUsers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rework_deploy_users_total",
		Help: "Users recalculated by deploy phase B",
	})

	// HTTPRequestDuration tracks API latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rework_http_request_duration_seconds",
		Help:    "API request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	// WSClients tracks connected websocket event stream clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rework_ws_clients",
		Help: "Connected websocket event clients",
	})
)
