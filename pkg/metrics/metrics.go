// Package metrics defines the Prometheus instruments for the withdrawal workflows.
// Counters are registered on the default registry and served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContributionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_contributions_recorded_total",
		Help: "Contributions successfully recorded against group ledgers.",
	})

	DecisionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_group_withdrawal_decisions_total",
		Help: "Member decisions recorded on group withdrawal requests, by resulting outcome.",
	}, []string{"outcome"})

	SettlementsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_settlements_total",
		Help: "Settlements executed against group ledgers, by withdrawal type.",
	}, []string{"type"})

	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_settlement_failures_total",
		Help: "Settlement attempts that rolled back.",
	})

	DisputesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_disputes_opened_total",
		Help: "Group withdrawal disputes escalated to support.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_events_published_total",
		Help: "Workflow events handed to the notification dispatcher, by result.",
	}, []string{"result"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_rate_limit_rejections_total",
		Help: "Requests rejected by the fixed-window rate limiter, by scope.",
	}, []string{"scope"})
)
