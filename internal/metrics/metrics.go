// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxeldiagram"

var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Committed transactions by action name",
	}, []string{"action"})

	BlocksChangedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_changed_total",
		Help:      "Blocks removed or added by committed transactions",
	}, []string{"side"})

	Blocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "blocks",
		Help:      "Blocks currently stored in the open diagram",
	})

	UndoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "undo_depth",
		Help:      "Records in the undo history",
	})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Time spent handling one session command in the loop",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25, 1},
	}, []string{"op"})

	CommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "command_errors_total",
		Help:      "Session commands that returned an error",
	}, []string{"op"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Snapshots handed to the writer, by outcome",
	}, []string{"result"})

	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_clients",
		Help:      "Connected websocket clients",
	})

	FeedDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_dropped_total",
		Help:      "Feed messages dropped because a client fell behind",
	})

	IndexDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_dropped_total",
		Help:      "Index writes dropped because the writer queue was full",
	}, []string{"backend"})

	MirrorUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_uploads_total",
		Help:      "Object store uploads by artifact kind and outcome",
	}, []string{"kind", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
