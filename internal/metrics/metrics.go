// Package metrics provides Prometheus instrumentation for the relay. It
// exposes gauges for connections, sessions and queue depth, counters for
// relay outcomes, reports, bans and payments, and latency histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts relay attempts labeled by outcome: "delivered",
	// "blocked_by_safe_mode", "no_session", "rejected", "restricted",
	// "filtered" or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of relay attempts by outcome",
	}, []string{"outcome"})

	// MessageLatency records message processing latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MatchWait records the time a user spent queued before being paired.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_match_wait_seconds",
		Help:    "Time from queue entry to pairing",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
	})

	// MatchesTotal counts pairings labeled by priority: "supporter" when two
	// supporters were paired, "standard" otherwise.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_matches_total",
		Help: "Total number of pairings formed",
	}, []string{"priority"})

	// ActiveSessions tracks the current number of active sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Current number of active sessions",
	})

	// MatchQueueSize tracks the current number of users in the matching queue.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_match_queue_size",
		Help: "Current number of users in matching queue",
	})

	// SessionsEnded counts session teardowns labeled by reason: "stop",
	// "ban", "report", "delivery_failure", "restricted" or "disconnect".
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sessions_ended_total",
		Help: "Total number of sessions ended by reason",
	}, []string{"reason"})

	// ReportsTotal counts accepted user reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_reports_total",
		Help: "Total number of user reports recorded",
	})

	// BansTotal counts bans labeled by source: "auto" or "admin".
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bans_total",
		Help: "Total number of users banned",
	}, []string{"source"})

	// PaymentsTotal counts payment confirmations labeled by result:
	// "applied", "duplicate" or "rejected".
	PaymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_payments_total",
		Help: "Total number of payment confirmations processed",
	}, []string{"result"})

	// SupportAmountTotal sums credited support.
	SupportAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_support_amount_total",
		Help: "Total support amount credited",
	})

	// RateLimited counts requests rejected by the rate limiter, by rule.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Total number of rate-limited requests",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		MessageLatency,
		MatchWait,
		MatchesTotal,
		ActiveSessions,
		MatchQueueSize,
		SessionsEnded,
		ReportsTotal,
		BansTotal,
		PaymentsTotal,
		SupportAmountTotal,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
