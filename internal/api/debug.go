package api

import (
    "net/http"
    "time"

    "carrierplan/internal/buildinfo"
)

// DebugJSON reports build information and the effective configuration with
// secrets reduced to presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    if p, ok := s.principal(w, r); !ok {
        return
    } else if !p.IsAdmin() {
        writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
        return
    }
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":               s.Cfg.Port,
            "authMode":           s.Auth.Mode,
            "rateRps":            s.Cfg.RateRPS,
            "rateBurst":          s.Cfg.RateBurst,
            "logLevel":           s.Cfg.LogLevel,
            "webhookMaxAttempts": s.Cfg.WebhookMaxAttempts,
            "hasDatabaseUrl":     s.Cfg.DatabaseURL != "",
            "hasRedisUrl":        s.Cfg.RedisURL != "",
            "optimizer":          s.Cfg.Optimizer,
        },
    }
    writeJSON(w, http.StatusOK, info)
}
