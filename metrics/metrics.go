package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gatekeeper collectors.
	Registry = prometheus.NewRegistry()

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "decisions_total",
			Help:      "Decision requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "delivery_failures_total",
			Help:      "Failed post-decision side effects by effect and class (expected/unexpected).",
		},
		[]string{"effect", "class"},
	)

	TicketsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "modmail",
			Name:      "open_requests_total",
			Help:      "Ticket open requests by outcome.",
		},
		[]string{"outcome"},
	)

	TicketsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "modmail",
			Name:      "open_tickets",
			Help:      "Tickets currently tracked in the open ticket index.",
		},
	)

	TranscriptFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "modmail",
			Name:      "transcript_flushes_total",
			Help:      "Transcript flush attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(Decisions, DeliveryFailures, TicketsOpened, TicketsOpen, TranscriptFlushes)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
