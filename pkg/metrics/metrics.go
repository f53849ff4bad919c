// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quorumshare.
//
// go-quorumshare is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for quorum
// authorization and share backup operations.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all quorumshare metrics
	Namespace = "quorumshare"

	// Label names
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelSeverity  = "severity"
	LabelKind      = "kind"
	LabelState     = "state"
	LabelResult    = "result"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpBuildChallenge = "build_challenge"
	OpCollect        = "collect_approval"
	OpTally          = "verify_and_tally"
	OpVerifyRequest  = "verify_request"
	OpBackup         = "backup"
	OpRecover        = "recover"
	OpApplyChange    = "apply_membership_change"

	// Approval results
	ResultAccepted = "accepted"
	ResultRefused  = "refused"
)

var (
	// OperationsTotal tracks protocol operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of protocol operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks the duration of protocol operations in seconds.
	// Buckets cover a single ECDSA verify up to a large quorum tally.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of protocol operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelOperation},
	)

	// ErrorsTotal tracks refusals by operation and severity. Severity is
	// "adversarial" for forged signatures and failed authentication,
	// "benign" for replays, expiry and short quorums.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of refused operations by operation and severity",
		},
		[]string{LabelOperation, LabelSeverity},
	)

	// TransitionsTotal counts lifecycle state entries by command kind.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of lifecycle state transitions by command kind and target state",
		},
		[]string{LabelKind, LabelState},
	)

	// ApprovalsTotal counts submitted approvals by outcome.
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "lifecycle",
			Name:      "approvals_total",
			Help:      "Total number of submitted approvals by result",
		},
		[]string{LabelResult},
	)

	// ActiveLifecycles tracks lifecycles that have not reached a terminal state.
	ActiveLifecycles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "lifecycle",
			Name:      "active",
			Help:      "Number of lifecycles not yet authorized, rejected or expired",
		},
	)

	// NoncesPruned counts expired consumed-nonce records removed from storage.
	NoncesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nonces_pruned_total",
			Help:      "Total number of expired consumed-nonce records pruned",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records a protocol operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	qa, err := challenge.VerifyAndTally(c, approvals, q, nonces)
//	metrics.RecordOperation(metrics.OpTally, metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records a refused operation with its severity.
func RecordError(operation, severity string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, severity).Inc()
}

// RecordTransition records a lifecycle entering state.
func RecordTransition(kind, state string) {
	if !enabled.Load() {
		return
	}
	TransitionsTotal.WithLabelValues(kind, state).Inc()
}

// RecordApproval records a submitted approval outcome.
func RecordApproval(result string) {
	if !enabled.Load() {
		return
	}
	ApprovalsTotal.WithLabelValues(result).Inc()
}

// LifecycleStarted increments the active lifecycle gauge.
func LifecycleStarted() {
	if !enabled.Load() {
		return
	}
	ActiveLifecycles.Inc()
}

// LifecycleFinished decrements the active lifecycle gauge.
func LifecycleFinished() {
	if !enabled.Load() {
		return
	}
	ActiveLifecycles.Dec()
}

// RecordNoncesPruned adds n pruned nonce records.
func RecordNoncesPruned(n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	NoncesPruned.Add(float64(n))
}

// Status maps an error to StatusSuccess or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text exposition format, for collection by a node exporter textfile
// collector. Short-lived processes such as the CLI use this instead of
// serving an endpoint.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
