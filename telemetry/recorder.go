// Package telemetry implements the Prometheus-backed telemetry sink of C5
// (spec.md §4.5): counters, histograms, and gauges for workflow and
// checkpoint lifecycle events. Grounded on AltairaLabs-PromptKit's
// runtime/metrics/prometheus/metrics.go and exporter.go, adapted from
// package-level global collectors tied to one process-wide registry to an
// instance-scoped Recorder, so a test can build a fresh Recorder (and
// registry) per case without collector-already-registered panics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipelinecore"

// Recorder owns a private Prometheus registry and every metric the
// workflow/checkpoint observer events feed.
type Recorder struct {
	registry *prometheus.Registry

	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowsFailed    *prometheus.CounterVec
	workflowsPaused    *prometheus.CounterVec
	workflowsResumed   *prometheus.CounterVec
	workflowsCancelled *prometheus.CounterVec

	checkpointsSaved    *prometheus.CounterVec
	checkpointsLoaded   *prometheus.CounterVec
	checkpointsDeleted  *prometheus.CounterVec
	checkpointsValidated *prometheus.CounterVec
	checkpointsErrored  *prometheus.CounterVec

	workflowDuration      *prometheus.HistogramVec
	pauseResumeLatency    *prometheus.HistogramVec
	checkpointSaveLatency *prometheus.HistogramVec
	checkpointLoadLatency *prometheus.HistogramVec
	checkpointSize        *prometheus.HistogramVec

	activeWorkflows  prometheus.Gauge
	pausedWorkflows  prometheus.Gauge
	activeCheckpoints prometheus.Gauge
	totalStorageBytes prometheus.Gauge
}

// NewRecorder builds a Recorder with its own registry, so multiple
// Recorders can coexist in one process (one per test, or one per
// independently-served core instance).
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{registry: reg}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
		reg.MustRegister(v)
		return v
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
		reg.MustRegister(v)
		return v
	}
	gauge := func(name, help string) prometheus.Gauge {
		v := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(v)
		return v
	}

	r.workflowsStarted = counter("workflow_started_total", "Total workflows started", "workflow_type")
	r.workflowsCompleted = counter("workflow_completed_total", "Total workflows completed", "workflow_type")
	r.workflowsFailed = counter("workflow_failed_total", "Total workflows failed", "workflow_type")
	r.workflowsPaused = counter("workflow_paused_total", "Total workflows paused", "workflow_type")
	r.workflowsResumed = counter("workflow_resumed_total", "Total workflows resumed", "workflow_type")
	r.workflowsCancelled = counter("workflow_cancelled_total", "Total workflows cancelled", "workflow_type")

	r.checkpointsSaved = counter("checkpoint_saved_total", "Total checkpoints saved", "workflow_type", "automated")
	r.checkpointsLoaded = counter("checkpoint_loaded_total", "Total checkpoints loaded", "workflow_type", "automated")
	r.checkpointsDeleted = counter("checkpoint_deleted_total", "Total checkpoints deleted", "workflow_type", "automated")
	r.checkpointsValidated = counter("checkpoint_validated_total", "Total checkpoints validated", "workflow_type", "automated")
	r.checkpointsErrored = counter("checkpoint_errored_total", "Total checkpoint errors", "workflow_type", "automated")

	r.workflowDuration = histogram("workflow_duration_seconds", "Workflow end-to-end duration",
		[]float64{.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600}, "workflow_type")
	r.pauseResumeLatency = histogram("pause_resume_latency_seconds", "Latency of pause/resume requests taking effect",
		prometheus.DefBuckets, "workflow_type", "action")
	r.checkpointSaveLatency = histogram("checkpoint_save_latency_seconds", "Checkpoint save latency",
		prometheus.DefBuckets, "workflow_type")
	r.checkpointLoadLatency = histogram("checkpoint_load_latency_seconds", "Checkpoint load latency",
		prometheus.DefBuckets, "workflow_type")
	r.checkpointSize = histogram("checkpoint_size_bytes", "Checkpoint snapshot size in bytes",
		[]float64{1024, 8192, 65536, 524288, 1048576, 10485760, 52428800}, "workflow_type")

	r.activeWorkflows = gauge("active_workflows", "Workflows currently Running")
	r.pausedWorkflows = gauge("paused_workflows", "Workflows currently Paused")
	r.activeCheckpoints = gauge("active_checkpoints", "Checkpoints currently stored")
	r.totalStorageBytes = gauge("total_storage_bytes", "Total bytes consumed by stored checkpoints")

	return r
}

// Handler returns an http.Handler serving this Recorder's metrics in the
// Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. to add Go/process collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordWorkflowStarted increments the started counter and the active gauge.
func (r *Recorder) RecordWorkflowStarted(workflowType string) {
	r.workflowsStarted.WithLabelValues(workflowType).Inc()
	r.activeWorkflows.Inc()
}

// RecordWorkflowTerminal handles the three terminal transitions, decrementing
// the active gauge and observing total duration.
func (r *Recorder) RecordWorkflowTerminal(workflowType string, state string, duration time.Duration) {
	r.activeWorkflows.Dec()
	r.workflowDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
	switch state {
	case "Completed":
		r.workflowsCompleted.WithLabelValues(workflowType).Inc()
	case "Failed":
		r.workflowsFailed.WithLabelValues(workflowType).Inc()
	case "Cancelled":
		r.workflowsCancelled.WithLabelValues(workflowType).Inc()
	}
}

// RecordWorkflowPaused increments the paused counter/gauge and observes the
// time since the pause was requested.
func (r *Recorder) RecordWorkflowPaused(workflowType string, latency time.Duration) {
	r.workflowsPaused.WithLabelValues(workflowType).Inc()
	r.pausedWorkflows.Inc()
	r.pauseResumeLatency.WithLabelValues(workflowType, "pause").Observe(latency.Seconds())
}

// RecordWorkflowResumed increments the resumed counter and decrements the
// paused gauge.
func (r *Recorder) RecordWorkflowResumed(workflowType string, latency time.Duration) {
	r.workflowsResumed.WithLabelValues(workflowType).Inc()
	r.pausedWorkflows.Dec()
	r.pauseResumeLatency.WithLabelValues(workflowType, "resume").Observe(latency.Seconds())
}

// RecordCheckpointSaved records a checkpoint save, its latency, and its size.
func (r *Recorder) RecordCheckpointSaved(workflowType string, automated bool, latency time.Duration, sizeBytes int) {
	r.checkpointsSaved.WithLabelValues(workflowType, boolLabel(automated)).Inc()
	r.checkpointSaveLatency.WithLabelValues(workflowType).Observe(latency.Seconds())
	r.checkpointSize.WithLabelValues(workflowType).Observe(float64(sizeBytes))
	r.activeCheckpoints.Inc()
}

// RecordCheckpointLoaded records a checkpoint load and its latency.
func (r *Recorder) RecordCheckpointLoaded(workflowType string, automated bool, latency time.Duration) {
	r.checkpointsLoaded.WithLabelValues(workflowType, boolLabel(automated)).Inc()
	r.checkpointLoadLatency.WithLabelValues(workflowType).Observe(latency.Seconds())
}

// RecordCheckpointDeleted records a checkpoint deletion.
func (r *Recorder) RecordCheckpointDeleted(workflowType string, automated bool) {
	r.checkpointsDeleted.WithLabelValues(workflowType, boolLabel(automated)).Inc()
	r.activeCheckpoints.Dec()
}

// RecordCheckpointValidated records a checkpoint validation.
func (r *Recorder) RecordCheckpointValidated(workflowType string, automated bool) {
	r.checkpointsValidated.WithLabelValues(workflowType, boolLabel(automated)).Inc()
}

// RecordCheckpointErrored records a checkpoint failure event.
func (r *Recorder) RecordCheckpointErrored(workflowType string, automated bool) {
	r.checkpointsErrored.WithLabelValues(workflowType, boolLabel(automated)).Inc()
}

// SetTotalStorageBytes sets the cumulative checkpoint storage gauge. The
// alert sink does not read it; the CLI passes the same Statistics total to
// AlertSink.CheckStorageThreshold separately.
func (r *Recorder) SetTotalStorageBytes(total int64) {
	r.totalStorageBytes.Set(float64(total))
}
