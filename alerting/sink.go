// Package alerting implements the alert sink half of C5 (spec.md §4.5): it
// POSTs Alertmanager-shaped alert objects to an external endpoint. There is
// no alerting client library anywhere in the retrieved pack (the nearest
// analogue, PromptKit's rest_eval.go, POSTs arbitrary JSON via net/http
// directly rather than through a client library), so this is built the same
// way: a plain net/http.Client with an explicit timeout and bytes.Buffer
// body, matching that file's shape.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Alert mirrors the Alertmanager-compatible payload shape spec.md §4.5
// requires: {labels, annotations, startsAt}.
type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// Severity values used by the built-in alert rules.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Sink POSTs alerts to an external endpoint. Transport failures are logged,
// never thrown, per spec.md §4.5.
type Sink struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
	service  string
}

// NewSink creates a Sink that POSTs to endpoint with a bounded timeout.
func NewSink(endpoint, service string, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		service:  service,
	}
}

// Send POSTs a single alert as a one-element list, matching Alertmanager's
// list-of-alerts wire shape.
func (s *Sink) Send(ctx context.Context, alert Alert) {
	if s.endpoint == "" {
		return
	}
	if alert.Labels == nil {
		alert.Labels = map[string]string{}
	}
	alert.Labels["service"] = s.service

	body, err := json.Marshal([]Alert{alert})
	if err != nil {
		s.log.Warn("alert marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.log.Warn("alert request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("alert post failed", "error", err, "endpoint", s.endpoint)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn("alert post returned non-2xx", "status", resp.StatusCode, "endpoint", s.endpoint)
	}
}

// FailedWorkflow builds the critical alert emitted on a Failed transition.
func FailedWorkflow(workflowID, workflowType, reason string) Alert {
	return Alert{
		Labels: map[string]string{
			"alertname":     "WorkflowFailed",
			"severity":      SeverityCritical,
			"workflow_id":   workflowID,
			"workflow_type": workflowType,
		},
		Annotations: map[string]string{
			"summary":     fmt.Sprintf("workflow %s failed", workflowID),
			"description": reason,
		},
		StartsAt: time.Now().UTC(),
	}
}

// LongRunningWorkflow builds the warning alert emitted when a running
// workflow exceeds the configured threshold.
func LongRunningWorkflow(workflowID, workflowType string, elapsed, threshold time.Duration) Alert {
	return Alert{
		Labels: map[string]string{
			"alertname":     "WorkflowLongRunning",
			"severity":      SeverityWarning,
			"workflow_id":   workflowID,
			"workflow_type": workflowType,
		},
		Annotations: map[string]string{
			"summary":     fmt.Sprintf("workflow %s has been running for %s", workflowID, elapsed),
			"description": fmt.Sprintf("exceeds threshold of %s", threshold),
		},
		StartsAt: time.Now().UTC(),
	}
}

// StorageThresholdExceeded builds the warning alert emitted when cumulative
// checkpoint storage exceeds the configured cap.
func StorageThresholdExceeded(totalBytes int64, threshold int64) Alert {
	return Alert{
		Labels: map[string]string{
			"alertname": "CheckpointStorageThresholdExceeded",
			"severity":  SeverityWarning,
		},
		Annotations: map[string]string{
			"summary":     "checkpoint storage exceeds configured threshold",
			"description": fmt.Sprintf("total bytes %d exceeds threshold %d", totalBytes, threshold),
		},
		StartsAt: time.Now().UTC(),
	}
}

// ValidationFailed builds the warning alert emitted on a Failed checkpoint event.
func ValidationFailed(checkpointID, workflowID string) Alert {
	return Alert{
		Labels: map[string]string{
			"alertname":     "CheckpointValidationFailed",
			"severity":      SeverityWarning,
			"checkpoint_id": checkpointID,
			"workflow_id":   workflowID,
		},
		Annotations: map[string]string{
			"summary": fmt.Sprintf("checkpoint %s failed validation", checkpointID),
		},
		StartsAt: time.Now().UTC(),
	}
}
