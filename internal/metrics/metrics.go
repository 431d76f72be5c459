/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the Prometheus collectors exposed by each of
// this repo's three binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobMetrics covers the durable job fabric: enqueue, claim, retry, and
// dead-letter.
type JobMetrics struct {
	EnqueuedTotal     *prometheus.CounterVec
	ClaimedTotal      prometheus.Counter
	CompletedTotal    *prometheus.CounterVec
	RetriedTotal      *prometheus.CounterVec
	DeadLetteredTotal *prometheus.CounterVec
	ClaimLatency      prometheus.Histogram
}

// NewJobMetrics registers job-fabric collectors on the default registry.
func NewJobMetrics() *JobMetrics {
	return &JobMetrics{
		EnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by job type.",
		}, []string{"type"}),
		ClaimedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_jobs_claimed_total",
			Help: "Total number of job claims made by worker lease sweeps.",
		}),
		CompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state, by type and outcome.",
		}, []string{"type", "outcome"}),
		RetriedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_jobs_retried_total",
			Help: "Total number of job retries, by job type.",
		}, []string{"type"}),
		DeadLetteredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead-letter table, by job type and reason code.",
		}, []string{"type", "reason_code"}),
		ClaimLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_jobs_claim_latency_seconds",
			Help:    "Time from a job becoming due to being claimed.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// AutomationMetrics covers the automation scheduler.
type AutomationMetrics struct {
	RulesResolvedTotal prometheus.Counter
	RunsMaterialized   *prometheus.CounterVec
}

// NewAutomationMetrics registers automation-scheduler collectors on the
// default registry.
func NewAutomationMetrics() *AutomationMetrics {
	return &AutomationMetrics{
		RulesResolvedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_automation_rules_resolved_total",
			Help: "Total number of automation rules whose next run was resolved.",
		}),
		RunsMaterialized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_automation_runs_materialized_total",
			Help: "Total number of automation runs turned into jobs, by action.",
		}, []string{"action"}),
	}
}

// PrivacyMetrics covers the deletion state machine.
type PrivacyMetrics struct {
	RequestsCreatedTotal   prometheus.Counter
	RequestsCompletedTotal *prometheus.CounterVec
	OverdueRequests        prometheus.Gauge
	ConnectorsRevokedTotal prometheus.Counter
}

// NewPrivacyMetrics registers privacy-deletion collectors on the
// default registry.
func NewPrivacyMetrics() *PrivacyMetrics {
	return &PrivacyMetrics{
		RequestsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_privacy_delete_requests_created_total",
			Help: "Total number of privacy delete requests created.",
		}),
		RequestsCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_privacy_delete_requests_completed_total",
			Help: "Total number of privacy delete requests that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		OverdueRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "assistant_privacy_delete_requests_overdue",
			Help: "Current number of privacy delete requests past their SLA due time.",
		}),
		ConnectorsRevokedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_privacy_connectors_revoked_total",
			Help: "Total number of connectors revoked as part of user deletion.",
		}),
	}
}

// RateLimitMetrics covers the sliding-window limiter.
type RateLimitMetrics struct {
	AllowedTotal   *prometheus.CounterVec
	ThrottledTotal *prometheus.CounterVec
}

// NewRateLimitMetrics registers rate-limiter collectors on the default
// registry.
func NewRateLimitMetrics() *RateLimitMetrics {
	return &RateLimitMetrics{
		AllowedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_ratelimit_allowed_total",
			Help: "Total number of requests allowed through the rate limiter, by endpoint class.",
		}, []string{"endpoint_class"}),
		ThrottledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_ratelimit_throttled_total",
			Help: "Total number of requests throttled by the rate limiter, by endpoint class.",
		}, []string{"endpoint_class"}),
	}
}

// EnclaveMetrics covers the sealed channel and RPC transport the
// enclave terminates.
type EnclaveMetrics struct {
	EnvelopeDecryptErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal           *prometheus.CounterVec
	KMSUnwrapTotal             *prometheus.CounterVec
}

// NewEnclaveMetrics registers enclave-runtime collectors on the default
// registry.
func NewEnclaveMetrics() *EnclaveMetrics {
	return &EnclaveMetrics{
		EnvelopeDecryptErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_envelope_decrypt_errors_total",
			Help: "Total number of envelope decrypt failures, by reason.",
		}, []string{"reason"}),
		RPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_enclave_rpc_requests_total",
			Help: "Total number of signed host-to-enclave RPC requests, by path and outcome.",
		}, []string{"path", "outcome"}),
		KMSUnwrapTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_kms_unwrap_total",
			Help: "Total number of KMS-gated secret unwrap operations, by outcome.",
		}, []string{"outcome"}),
	}
}
