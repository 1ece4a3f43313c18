package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    log "github.com/sirupsen/logrus"

    "carrierplan/internal/api"
    "carrierplan/internal/buildinfo"
    "carrierplan/internal/config"
    "carrierplan/internal/model"
    "carrierplan/internal/planner"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    cfg.ConfigureLogging()

    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvDeps.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    go func() {
        log.WithFields(buildFields()).Infof("API listening on %s", srv.Addr)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatalf("server error: %v", err)
        }
    }()

    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    log.Info("shutting down")

    // in-flight plans may run for their whole time budget
    grace := min(model.Millis(cfg.Optimizer.TimeBudgetMs), planner.MaxTimeBudget) + 10*time.Second
    ctx, cancel := context.WithTimeout(context.Background(), grace)
    defer cancel()
    if err := srv.Shutdown(ctx); err != nil {
        log.Warnf("http shutdown: %v", err)
    }
    srvDeps.Shutdown(ctx)
}

func buildFields() log.Fields {
    f := log.Fields{}
    for k, v := range buildinfo.Info() {
        f[k] = v
    }
    return f
}
