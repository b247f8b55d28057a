package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_passes_total",
			Help: "Total number of dispatcher passes, by outcome.",
		},
		[]string{"outcome"},
	)

	OffersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offers_created_total",
			Help: "Total number of offers created by the dispatcher.",
		},
	)

	OfferConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offer_conflicts_total",
			Help: "Conditional offer writes that lost a race and were skipped.",
		},
	)

	OffersResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offers_resolved_total",
			Help: "Offers resolved, by terminal state.",
		},
		[]string{"state"},
	)

	WaitingTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waiting_tickets",
			Help: "Waiting tickets observed by the last dispatcher pass.",
		},
	)

	RingAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ring_available_operators",
			Help: "Available ring operators observed by the last dispatcher pass.",
		},
	)
)
