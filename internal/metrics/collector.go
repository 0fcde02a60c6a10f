// Package metrics provides runtime statistics collection, kept in memory and
// mirrored to Prometheus.
package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
	MinInputTokens    int64
	MaxInputTokens    int64
	MinOutputTokens   int64
	MaxOutputTokens   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64
	TotalOutputTokens *int64
	AvgInputTokens    *float64
	AvgOutputTokens   *float64
}

// Snapshot represents the full runtime statistics at a point in time.
type Snapshot struct {
	UptimeSeconds   float64
	Embedding       *OperationSnapshot
	LLMGenerate     *OperationSnapshot
	SchemaFetch     *OperationSnapshot
	Publish         *OperationSnapshot
	AttemptStates   map[string]int64 // terminal target states
	Remediations    map[string]int64 // by action kind
	SchemaCacheHits int64
}

// Operation names for the collector.
const (
	OpEmbedding   = "embedding"
	OpLLMGenerate = "llm_generate"
	OpSchemaFetch = "schema_fetch"
	OpPublish     = "publish"
)

// Prometheus metric names.
const (
	MetricOperationDurationSeconds = "catalogbridge_operation_duration_seconds"
	MetricOperationErrorsTotal     = "catalogbridge_operation_errors_total"
	MetricLLMTokensTotal           = "catalogbridge_llm_tokens_total"
	MetricPublishAttemptsTotal     = "catalogbridge_publish_attempts_total"
	MetricRemediationsTotal        = "catalogbridge_remediations_total"
	MetricSchemaCacheHitsTotal     = "catalogbridge_schema_cache_hits_total"
)

// Collector aggregates runtime statistics.
// All methods are thread-safe and safe to call on a nil *Collector.
type Collector struct {
	mu           sync.RWMutex
	startTime    time.Time
	ops          map[string]*OperationMetrics
	states       map[string]int64
	remediations map[string]int64
	cacheHits    int64

	registry        *prometheus.Registry
	opDuration      *prometheus.HistogramVec
	opErrors        *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	publishAttempts *prometheus.CounterVec
	remediationsVec *prometheus.CounterVec
	schemaCacheHits prometheus.Counter
}

// NewCollector creates a new metrics collector with its own Prometheus
// registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime:    time.Now(),
		ops:          make(map[string]*OperationMetrics),
		states:       make(map[string]int64),
		remediations: make(map[string]int64),
		registry:     prometheus.NewRegistry(),
	}

	c.opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    MetricOperationDurationSeconds,
		Help:    "Duration of external calls by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	c.opErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricOperationErrorsTotal,
		Help: "Failed external calls by operation.",
	}, []string{"op"})
	c.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricLLMTokensTotal,
		Help: "LLM tokens consumed.",
	}, []string{"op", "direction"})
	c.publishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricPublishAttemptsTotal,
		Help: "Per-target publish machines by terminal state.",
	}, []string{"target", "state"})
	c.remediationsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricRemediationsTotal,
		Help: "Remediation actions prescribed by the error classifier.",
	}, []string{"action"})
	c.schemaCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSchemaCacheHitsTotal,
		Help: "Schema lookups served from cache.",
	})

	c.registry.MustRegister(
		c.opDuration,
		c.opErrors,
		c.llmTokens,
		c.publishAttempts,
		c.remediationsVec,
		c.schemaCacheHits,
	)
	return c
}

// Registry returns the Prometheus registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:         time.Duration(math.MaxInt64),
			MinInputTokens:  math.MaxInt64,
			MinOutputTokens: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(duration time.Duration) {
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.getOrCreate(op).observe(duration)
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordError counts a failed call for an operation.
func (c *Collector) RecordError(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.getOrCreate(op).Errors++
	c.mu.Unlock()

	c.opErrors.WithLabelValues(op).Inc()
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
	m.MinInputTokens = min(m.MinInputTokens, inputTokens)
	m.MaxInputTokens = max(m.MaxInputTokens, inputTokens)
	m.MinOutputTokens = min(m.MinOutputTokens, outputTokens)
	m.MaxOutputTokens = max(m.MaxOutputTokens, outputTokens)
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
	c.llmTokens.WithLabelValues(op, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(op, "output").Add(float64(outputTokens))
}

// RecordAttempt counts a target machine reaching a terminal state.
func (c *Collector) RecordAttempt(target, state string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.states[state]++
	c.mu.Unlock()

	c.publishAttempts.WithLabelValues(target, state).Inc()
}

// RecordRemediation counts a prescribed remediation action.
func (c *Collector) RecordRemediation(action string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.remediations[action]++
	c.mu.Unlock()

	c.remediationsVec.WithLabelValues(action).Inc()
}

// RecordSchemaCacheHit counts a schema served without a remote call.
func (c *Collector) RecordSchemaCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()

	c.schemaCacheHits.Inc()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || (m.Count == 0 && m.Errors == 0) {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
	}
	if m.Count > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
		snap.MinTimeMs = m.MinTime.Milliseconds()
		snap.MaxTimeMs = m.MaxTime.Milliseconds()
	}

	if includeTokens && m.Count > 0 && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		avgIn := float64(m.TotalInputTokens) / float64(m.Count)
		avgOut := float64(m.TotalOutputTokens) / float64(m.Count)
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
		snap.AvgInputTokens = &avgIn
		snap.AvgOutputTokens = &avgOut
	}

	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
		Embedding:       snapshotOp(c.ops[OpEmbedding], false),
		LLMGenerate:     snapshotOp(c.ops[OpLLMGenerate], true),
		SchemaFetch:     snapshotOp(c.ops[OpSchemaFetch], false),
		Publish:         snapshotOp(c.ops[OpPublish], false),
		AttemptStates:   copyCounts(c.states),
		Remediations:    copyCounts(c.remediations),
		SchemaCacheHits: c.cacheHits,
	}
}
