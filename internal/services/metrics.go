// Package services – Prometheus instrumentation.
//
// Domain-level counters for the attribution funnel. HTTP-level metrics live
// in the middleware package; these track what actually happened inside the
// engine, with bounded label sets:
//
//   - strategy: reference | short_code | recency | ip
//   - outcome:  claimed | lost_race | expired | miss | error
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// recordsCreated counts attribution records persisted at issuance.
	recordsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_records_created_total",
			Help: "Total number of attribution records created.",
		},
	)

	// resolutions counts resolution attempts by the strategy that produced
	// (or failed to produce) a candidate and the final outcome.
	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_resolutions_total",
			Help: "Total number of attribution resolution attempts.",
		},
		[]string{"strategy", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(recordsCreated, resolutions)
}

const (
	strategyReference = "reference"
	strategyShortCode = "short_code"
	strategyRecency   = "recency"
	strategyIP        = "ip"

	outcomeClaimed  = "claimed"
	outcomeLostRace = "lost_race"
	outcomeExpired  = "expired"
	outcomeMiss     = "miss"
	outcomeError    = "error"
)
