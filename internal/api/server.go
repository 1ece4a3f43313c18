package api

import (
    "context"
    "strings"

    log "github.com/sirupsen/logrus"

    "carrierplan/internal/auction"
    "carrierplan/internal/auth"
    "carrierplan/internal/config"
    "carrierplan/internal/metrics"
    "carrierplan/internal/planner"
    "carrierplan/internal/store"
    "carrierplan/internal/webhooks"
)

type Server struct {
    Cfg      config.Config
    Store    store.Store
    Auth     *auth.Verifier
    Broker   EventBroker
    Hooks    *webhooks.Notifier
    Planner  *planner.Service
    Auctions *auction.Registry
    limiter  *limiter
    log      *log.Entry
}

// NewServer wires the service from cfg. Without DATABASE_URL the store is in
// memory; without REDIS_URL, or when Redis is unreachable, events stay in process.
func NewServer(cfg config.Config) (*Server, error) {
    logger := log.WithField("component", "api")
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if cfg.DBMigrate {
            if err := sp.Migrate(context.Background()); err != nil {
                return nil, err
            }
        }
        s = sp
    }
    var broker EventBroker = NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
        } else {
            logger.Warnf("[api] redis broker unavailable, using in-memory events: %v", err)
        }
    }
    metrics.RegisterDefault()
    hooks := webhooks.NewNotifier(cfg.WebhookMaxAttempts)
    srv := &Server{
        Cfg:      cfg,
        Store:    s,
        Auth:     auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
        Broker:   broker,
        Hooks:    hooks,
        Auctions: auction.NewRegistry(nil, log.WithField("component", "auction")),
        limiter:  newLimiter(cfg.RateRPS, cfg.RateBurst),
        log:      logger,
    }
    srv.Planner = planner.New(s, cfg.Optimizer, planner.Options{
        Events:   planEvents{broker},
        Webhooks: hooks,
        Logger:   log.WithField("component", "planner"),
    })
    return srv, nil
}

// Shutdown waits for background plans and webhook deliveries, then releases
// the store and broker connections.
func (s *Server) Shutdown(ctx context.Context) {
    done := make(chan struct{})
    go func() {
        s.Planner.Wait()
        s.Hooks.Wait()
        close(done)
    }()
    select {
    case <-done:
    case <-ctx.Done():
        s.log.Warn("[api] shutdown: background work still running")
    }
    type closer interface{ Close() error }
    if c, ok := s.Store.(closer); ok { _ = c.Close() }
    if c, ok := s.Broker.(closer); ok { _ = c.Close() }
}
