package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlanRuns counts planning runs by acceptance policy and outcome
	PlanRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_runs_total", Help: "Planning runs by policy and status."},
		[]string{"policy", "status"},
	)
	// SearchIterations records iterations per search
	SearchIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "search_iterations", Help: "Local search iterations per run.", Buckets: prometheus.ExponentialBuckets(10, 4, 8)},
		[]string{"policy"},
	)
	// SearchImprovement records (initial - best) / initial per search
	SearchImprovement = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "search_cost_improvement_ratio", Help: "Relative cost improvement over the initial solution.", Buckets: []float64{0, 0.01, 0.05, 0.1, 0.2, 0.3, 0.5}},
		[]string{"policy"},
	)
	// Bids counts bid estimates by outcome (priced, declined) and estimation mode
	Bids = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auction_bids_total", Help: "Auction bids by outcome and estimation mode."},
		[]string{"outcome", "mode"},
	)
	// WebhookDeliveries counts plan callback outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlanRuns)
		Registry.MustRegister(SearchIterations)
		Registry.MustRegister(SearchImprovement)
		Registry.MustRegister(Bids)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveSearch records one finished search.
func ObserveSearch(policy, status string, iterations int, initial, best float64) {
	PlanRuns.WithLabelValues(policy, status).Inc()
	if status != "done" {
		return
	}
	SearchIterations.WithLabelValues(policy).Observe(float64(iterations))
	if initial > 0 {
		SearchImprovement.WithLabelValues(policy).Observe((initial - best) / initial)
	}
}
