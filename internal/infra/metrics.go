package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	quoteFetches  atomic.Uint64
	quoteFailures atomic.Uint64
	submits       atomic.Uint64
	submitRetries atomic.Uint64
	submitErrors  atomic.Uint64

	// Latency tracking for submissions
	submitLatencySumNs atomic.Int64
	submitLatencyCount atomic.Uint64

	// Gauges
	feedClients atomic.Int32
}

// RecordQuoteFetch records one quote source hit.
func (m *Metrics) RecordQuoteFetch() {
	m.quoteFetches.Add(1)
}

// RecordQuoteFailure records one unavailable quote source.
func (m *Metrics) RecordQuoteFailure() {
	m.quoteFailures.Add(1)
}

// RecordSubmit records a finished submission with its latency.
func (m *Metrics) RecordSubmit(latencyNs int64) {
	m.submits.Add(1)
	m.submitLatencySumNs.Add(latencyNs)
	m.submitLatencyCount.Add(1)
}

// RecordSubmitRetry records one retried submission attempt.
func (m *Metrics) RecordSubmitRetry() {
	m.submitRetries.Add(1)
}

// RecordSubmitError records a submission that exhausted its retries.
func (m *Metrics) RecordSubmitError() {
	m.submitErrors.Add(1)
}

// IncrementFeedClients increments connected feed clients by 1.
func (m *Metrics) IncrementFeedClients() {
	m.feedClients.Add(1)
}

// DecrementFeedClients decrements connected feed clients by 1.
func (m *Metrics) DecrementFeedClients() {
	m.feedClients.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	QuoteFetches       uint64
	QuoteFailures      uint64
	Submits            uint64
	SubmitRetries      uint64
	SubmitErrors       uint64
	AvgSubmitLatencyNs int64
	FeedClients        int32
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.submitLatencyCount.Load()
	if count > 0 {
		avgLatency = m.submitLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		QuoteFetches:       m.quoteFetches.Load(),
		QuoteFailures:      m.quoteFailures.Load(),
		Submits:            m.submits.Load(),
		SubmitRetries:      m.submitRetries.Load(),
		SubmitErrors:       m.submitErrors.Load(),
		AvgSubmitLatencyNs: avgLatency,
		FeedClients:        m.feedClients.Load(),
		Timestamp:          time.Now(),
	}
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}
