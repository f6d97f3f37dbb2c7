// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-mfa.
//
// go-mfa is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for MFA operations.
// Counters and histograms are labeled by operation and status so
// dashboards can track verification failure rates and rate-limit
// rejections per workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all MFA metrics
	Namespace = "mfa"

	// Label names
	LabelOperation = "operation"
	LabelStatus    = "status"

	// Status values
	StatusSuccess     = "success"
	StatusFailure     = "failure"
	StatusRateLimited = "rate_limited"

	// Operation names
	OpSetupInitiate    = "setup_initiate"
	OpSetupConfirm     = "setup_confirm"
	OpVerifyLogin      = "verify_login"
	OpVerifyBackupCode = "verify_backup_code"
	OpDisable          = "disable"
	OpRegenerateCodes  = "regenerate_codes"
	OpTrustedDevice    = "trusted_device_check"
)

var (
	// OperationsTotal tracks MFA operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of MFA operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks the duration of MFA operations in
	// seconds. Buckets cover the latency range of the code hashing and
	// store round trips these operations perform.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of MFA operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation},
	)

	// RateLimitRejections counts requests rejected by abuse control
	// before any cryptographic check ran.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by abuse control",
		},
		[]string{LabelOperation},
	)
)

// RecordOperation increments the operation counter with the given status.
func RecordOperation(operation, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordRateLimited increments both the operation counter and the
// rate-limit rejection counter.
func RecordRateLimited(operation string) {
	OperationsTotal.WithLabelValues(operation, StatusRateLimited).Inc()
	RateLimitRejections.WithLabelValues(operation).Inc()
}

// Timer measures an operation's duration. Call the returned function when
// the operation completes.
func Timer(operation string) func() {
	start := time.Now()
	return func() {
		OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
