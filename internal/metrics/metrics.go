// Package metrics exposes Prometheus collectors for the sync subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trainingcms"

var (
	// RateLimitRejections counts requests refused by the limiter, per call site
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests refused because the sliding window was full",
	}, []string{"policy"})

	// TrackedIdentifiers is the number of identifiers held by the limiter
	TrackedIdentifiers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "tracked_identifiers",
		Help:      "Identifiers with a live sliding window",
	})

	// SnapshotExports counts export attempts by outcome
	SnapshotExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "exports_total",
		Help:      "Snapshot exports by collection and status",
	}, []string{"collection", "status"})

	// SnapshotLag is set to 1 while a collection's snapshot is behind the database
	SnapshotLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "lagging",
		Help:      "1 when the last export after a mutation failed",
	}, []string{"collection"})

	// ImportChanges counts records touched by snapshot imports
	ImportChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "import_changes_total",
		Help:      "Records inserted, updated or deleted by imports",
	}, []string{"collection", "op"})

	// RecordsExpired counts records soft-deleted by retention
	RecordsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retention",
		Name:      "records_expired_total",
		Help:      "Records marked deleted by the retention scheduler",
	}, []string{"collection"})
)

// ExportStatus values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)
