// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/potato-foundation/potato/lib/catalog"
)

var (
	metricPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "potato_publish_total",
		Help: "Publish attempts by result.",
	}, []string{"result"})

	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "potato_fetch_total",
		Help: "Fetch attempts by result.",
	}, []string{"result"})

	metricPublishBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "potato_publish_bytes_total",
		Help: "Uncompressed bytes accepted by successful publishes.",
	})

	metricDedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "potato_publish_dedup_total",
		Help: "Publishes whose content already existed in the blob store.",
	})

	metricSweepPendingAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "potato_sweep_pending_aborted_total",
		Help: "Stale pending reservations aborted by the reconciliation sweep.",
	})

	metricSweepBlobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "potato_sweep_blobs_reclaimed_total",
		Help: "Unreferenced blobs removed by the collector.",
	})

	metricSweepBytesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "potato_sweep_bytes_reclaimed_total",
		Help: "Uncompressed bytes of the blobs removed by the collector.",
	})

	metricSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "potato_sweep_duration_seconds",
		Help:    "Wall time of one full sweep pass.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)

// Metric result labels.
const (
	resultOK        = "ok"
	resultConflict  = "conflict"
	resultNotFound  = "not_found"
	resultIntegrity = "integrity"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// resultLabel maps an operation outcome onto the small fixed label
// set, keeping the metric cardinality bounded.
func resultLabel(err error) string {
	if err == nil {
		return resultOK
	}
	var (
		conflict   *catalog.ConflictError
		notFound   *catalog.NotFoundError
		integrity  *IntegrityError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return resultConflict
	case errors.As(err, &notFound):
		return resultNotFound
	case errors.As(err, &integrity):
		return resultIntegrity
	case errors.As(err, &validation):
		return resultInvalid
	}
	return resultError
}
