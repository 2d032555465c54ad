// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics across the
// scan pipeline: scans by outcome, fetch volume, dedup hit rate, parser
// rejections, enrichment failures, sweep reclamation, stream drops.
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	scansStarted   atomic.Int64
	scansCompleted atomic.Int64
	scansFailed    atomic.Int64
	scansCanceled  atomic.Int64
	scansCached    atomic.Int64

	fetchRequests atomic.Int64
	fetchBytes    atomic.Int64

	dedupHits   atomic.Int64
	dedupMisses atomic.Int64

	invalidDeclarations atomic.Int64
	unresolvedVariables atomic.Int64

	enrichCalls    atomic.Int64
	enrichFailures atomic.Int64
	enrichSkips    atomic.Int64

	sweepDeleted  atomic.Int64
	eventsDropped atomic.Int64
	votesRecorded atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordScanStart records a scan entering the pipeline.
func (mc *MetricsCollector) RecordScanStart() { mc.scansStarted.Add(1) }

// RecordScanOutcome records a terminal scan state.
func (mc *MetricsCollector) RecordScanOutcome(status string, _ time.Duration) {
	switch status {
	case "completed":
		mc.scansCompleted.Add(1)
	case "canceled":
		mc.scansCanceled.Add(1)
	default:
		mc.scansFailed.Add(1)
	}
}

// RecordCacheServe records a submission short-circuited by revalidation.
func (mc *MetricsCollector) RecordCacheServe() { mc.scansCached.Add(1) }

// RecordFetch records one fetched URL and its byte count.
func (mc *MetricsCollector) RecordFetch(bytes int64) {
	mc.fetchRequests.Add(1)
	mc.fetchBytes.Add(bytes)
}

// RecordDedupHit records a CSS body already present in the store.
func (mc *MetricsCollector) RecordDedupHit() { mc.dedupHits.Add(1) }

// RecordDedupMiss records a CSS body written for the first time.
func (mc *MetricsCollector) RecordDedupMiss() { mc.dedupMisses.Add(1) }

// RecordInvalidDeclarations adds skipped declarations from a parse pass.
func (mc *MetricsCollector) RecordInvalidDeclarations(n int64) { mc.invalidDeclarations.Add(n) }

// RecordUnresolvedVariables adds var() references excluded from consensus.
func (mc *MetricsCollector) RecordUnresolvedVariables(n int64) { mc.unresolvedVariables.Add(n) }

// RecordEnrich records an enrichment attempt. Failures are swallowed by the
// plugin contract, so the counter is their only trace.
func (mc *MetricsCollector) RecordEnrich(err error) {
	mc.enrichCalls.Add(1)
	if err != nil {
		mc.enrichFailures.Add(1)
	}
}

// RecordEnrichSkip records an enrichment skipped by the prompt budget.
func (mc *MetricsCollector) RecordEnrichSkip() { mc.enrichSkips.Add(1) }

// RecordSweep records bodies reclaimed by a sweep pass.
func (mc *MetricsCollector) RecordSweep(deleted int64) { mc.sweepDeleted.Add(deleted) }

// RecordEventDropped records a progress event dropped on a slow subscriber.
func (mc *MetricsCollector) RecordEventDropped() { mc.eventsDropped.Add(1) }

// RecordVote records a confidence vote.
func (mc *MetricsCollector) RecordVote() { mc.votesRecorded.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"scans_started":        mc.scansStarted.Load(),
		"scans_completed":      mc.scansCompleted.Load(),
		"scans_failed":         mc.scansFailed.Load(),
		"scans_canceled":       mc.scansCanceled.Load(),
		"scans_cached":         mc.scansCached.Load(),
		"fetch_requests":       mc.fetchRequests.Load(),
		"fetch_bytes":          mc.fetchBytes.Load(),
		"dedup_hits":           mc.dedupHits.Load(),
		"dedup_misses":         mc.dedupMisses.Load(),
		"invalid_declarations": mc.invalidDeclarations.Load(),
		"unresolved_variables": mc.unresolvedVariables.Load(),
		"enrich_calls":         mc.enrichCalls.Load(),
		"enrich_failures":      mc.enrichFailures.Load(),
		"enrich_skips":         mc.enrichSkips.Load(),
		"sweep_deleted":        mc.sweepDeleted.Load(),
		"events_dropped":       mc.eventsDropped.Load(),
		"votes_recorded":       mc.votesRecorded.Load(),
	}
}

// Stop is a no-op for compatibility.
func (mc *MetricsCollector) Stop() {}
