package api

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "carrierplan/internal/metrics"
)

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
    mux := http.NewServeMux()

    // Planning
    mux.HandleFunc("/v1/plans", s.PlansHandler)
    mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /events/stream, /ws
    mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

    // Auctions
    mux.HandleFunc("/v1/auctions", s.AuctionsHandler)
    mux.HandleFunc("/v1/auctions/", s.AuctionByIDHandler) // includes /bids, /results, /plan

    // Admin
    mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
    mux.HandleFunc("/debug/info", s.DebugJSON)

    // Health and metrics
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    return mux
}

// Handler is the full HTTP stack: routes behind the middleware.
func (s *Server) Handler() http.Handler { return s.Middleware(s.Routes()) }
