// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the coach bot.
//
// # Description
//
// Metrics cover the update pipeline end to end:
//   - Update counters (by kind and status)
//   - Model call latency histograms (by purpose)
//   - Response cache hit/miss counters
//   - Rate limiter rejection counters
//   - Active training session gauge
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "coach"

// Subsystem for bot pipeline metrics
const botSubsystem = "bot"

// BotMetrics holds all Prometheus metrics for the update pipeline.
//
// # Fields
//
//   - UpdatesTotal: Counter of processed updates by kind and status
//   - LLMCallSeconds: Histogram of model call latency by purpose
//   - ResponseCacheTotal: Counter of response cache lookups by outcome
//   - RateLimitRejectionsTotal: Counter of rate-limited updates
//   - ActiveSessions: Gauge of live training sessions
//
// # Thread Safety
//
// All operations are thread-safe.
type BotMetrics struct {
	// UpdatesTotal counts processed updates.
	// Labels: kind (command, message, callback), status (ok, error, rejected)
	UpdatesTotal *prometheus.CounterVec

	// LLMCallSeconds measures model call latency.
	// Labels: purpose (chat, task, plan)
	LLMCallSeconds *prometheus.HistogramVec

	// ResponseCacheTotal counts response cache lookups.
	// Labels: outcome (hit, miss)
	ResponseCacheTotal *prometheus.CounterVec

	// RateLimitRejectionsTotal counts updates dropped by the limiter.
	RateLimitRejectionsTotal prometheus.Counter

	// ActiveSessions tracks live training sessions.
	ActiveSessions prometheus.Gauge
}

// NewBotMetrics creates and registers all bot metrics with reg.
// Pass prometheus.DefaultRegisterer in production; tests pass a fresh
// registry so repeated construction never collides.
func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	factory := promauto.With(reg)

	return &BotMetrics{
		UpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: botSubsystem,
				Name:      "updates_total",
				Help:      "Processed Telegram updates by kind and status.",
			},
			[]string{"kind", "status"},
		),
		LLMCallSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: botSubsystem,
				Name:      "llm_call_seconds",
				Help:      "Model call latency by purpose.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"purpose"},
		),
		ResponseCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: botSubsystem,
				Name:      "response_cache_total",
				Help:      "Response cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		RateLimitRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: botSubsystem,
				Name:      "rate_limit_rejections_total",
				Help:      "Updates rejected by the per-user rate limiter.",
			},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: botSubsystem,
				Name:      "active_sessions",
				Help:      "Live training sessions.",
			},
		),
	}
}

// ObserveUpdate records one processed update.
func (m *BotMetrics) ObserveUpdate(kind, status string) {
	m.UpdatesTotal.WithLabelValues(kind, status).Inc()
}

// ObserveLLMCall records one model call's duration in seconds.
func (m *BotMetrics) ObserveLLMCall(purpose string, seconds float64) {
	m.LLMCallSeconds.WithLabelValues(purpose).Observe(seconds)
}

// ObserveCacheLookup records a response cache hit or miss.
func (m *BotMetrics) ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ResponseCacheTotal.WithLabelValues(outcome).Inc()
}
