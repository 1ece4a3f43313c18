package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "carrierplan/internal/model"
    "carrierplan/internal/opt"
    "carrierplan/internal/planner"
)

// PlansHandler handles POST/GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/plans" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p, ok := s.principal(w, r)
    if !ok { return }
    switch r.Method {
    case http.MethodPost:
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var req model.PlanRequest
        if !decodeJSON(w, r, &req) { return }
        if err := validatePlanRequest(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
            return
        }
        pl, err := s.Planner.Plan(r.Context(), p.Tenant, req)
        if err != nil {
            writeError(w, r, "Plan failed", err)
            return
        }
        if req.Async {
            w.Header().Set("Location", "/v1/plans/"+pl.ID)
            writeJSON(w, http.StatusAccepted, pl)
            return
        }
        writeJSON(w, http.StatusOK, pl)
    case http.MethodGet:
        status := r.URL.Query().Get("status")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" {
            n, err := strconv.Atoi(v)
            if err != nil { writeProblem(w, 400, "Invalid limit", err.Error(), r.URL.Path); return }
            limit = n
        }
        items, next, err := s.Store.ListPlans(r.Context(), p.Tenant, status, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List plans failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// PlanByIDHandler handles GET /v1/plans/{id}, /v1/plans/{id}/events/stream and /v1/plans/{id}/ws
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/plans/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.principal(w, r)
    if !ok { return }
    pl, err := s.Store.GetPlan(r.Context(), p.Tenant, id)
    if err != nil { writeError(w, r, "Get plan failed", err); return }
    switch {
    case len(parts) == 1:
        writeJSON(w, http.StatusOK, pl)
    case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
        s.streamPlanEvents(w, r, pl)
    case len(parts) == 2 && parts[1] == "ws":
        s.PlanWSHandler(w, r, pl)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    }
}

func finished(status string) bool { return status == model.PlanDone || status == model.PlanFailed }

// terminalEvent is the event that closes a plan's stream.
func terminalEvent(pl model.Plan) SSEEvent {
    if pl.Status == model.PlanFailed {
        return SSEEvent{Type: planner.EventFailed, Data: map[string]any{"planId": pl.ID, "error": pl.Error}}
    }
    return SSEEvent{Type: planner.EventCompleted, Data: map[string]any{"planId": pl.ID, "totalCost": pl.TotalCost}}
}

func isTerminal(evt SSEEvent) bool {
    return evt.Type == planner.EventCompleted || evt.Type == planner.EventFailed
}

func (s *Server) streamPlanEvents(w http.ResponseWriter, r *http.Request, pl model.Plan) {
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    send := func(evt SSEEvent) {
        b, _ := json.Marshal(evt.Data)
        fmt.Fprintf(w, "event: %s\n", evt.Type)
        fmt.Fprintf(w, "data: %s\n\n", string(b))
        flusher.Flush()
    }
    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", pl.ID, time.Now().Format(time.RFC3339))
        flusher.Flush()
    }
    // subscribe before re-reading the plan so that completion cannot slip between
    ch := s.Broker.Subscribe(pl.ID)
    defer s.Broker.Unsubscribe(pl.ID, ch)
    if cur, err := s.Store.GetPlan(r.Context(), pl.TenantID, pl.ID); err == nil { pl = cur }
    heartbeat()
    if finished(pl.Status) {
        send(terminalEvent(pl))
        return
    }
    ticker := time.NewTicker(15 * time.Second)
    defer ticker.Stop()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt, ok := <-ch:
            if !ok { return }
            send(evt)
            if isTerminal(evt) { return }
        case <-ticker.C:
            heartbeat()
        }
    }
}

// AuctionsHandler handles POST /v1/auctions
func (s *Server) AuctionsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/auctions" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.principal(w, r)
    if !ok { return }
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req model.AuctionRequest
    if !decodeJSON(w, r, &req) { return }
    cfg, err := s.Planner.Config(r.Context(), p.Tenant)
    if err != nil { writeError(w, r, "Open auction failed", err); return }
    sess, err := s.Auctions.Open(p.Tenant, req, cfg)
    if err != nil { writeError(w, r, "Open auction failed", err); return }
    w.Header().Set("Location", "/v1/auctions/"+sess.ID)
    writeJSON(w, http.StatusCreated, sess.Summary())
}

// AuctionByIDHandler handles /v1/auctions/{id} and its bids, results and plan actions
func (s *Server) AuctionByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/auctions/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    parts := strings.Split(rest, "/")
    p, ok := s.principal(w, r)
    if !ok { return }
    sess, err := s.Auctions.Get(p.Tenant, parts[0])
    if err != nil { writeError(w, r, "Auction", err); return }
    action := ""
    if len(parts) > 1 { action = parts[1] }
    switch {
    case action == "" && r.Method == http.MethodGet:
        writeJSON(w, http.StatusOK, sess.Summary())
    case action == "" && r.Method == http.MethodDelete:
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", path); return }
        if err := s.Auctions.Close(p.Tenant, sess.ID); err != nil { writeError(w, r, "Close auction failed", err); return }
        w.WriteHeader(http.StatusNoContent)
    case action == "bids" && r.Method == http.MethodPost:
        var req model.BidRequest
        if !decodeJSON(w, r, &req) { return }
        if req.TimeoutMs < 0 { writeProblem(w, 400, "Invalid bid request", "timeoutMs must be >= 0", path); return }
        resp, err := sess.Bid(req)
        if err != nil { writeError(w, r, "Bid failed", err); return }
        writeJSON(w, http.StatusOK, resp)
    case action == "results" && r.Method == http.MethodPost:
        var res model.AuctionResult
        if !decodeJSON(w, r, &res) { return }
        if err := sess.Settle(res); err != nil { writeError(w, r, "Settle failed", err); return }
        writeJSON(w, http.StatusOK, sess.Summary())
    case action == "plan" && r.Method == http.MethodPost:
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", path); return }
        var body struct {
            TimeBudgetMs int                   `json:"timeBudgetMs"`
            Acceptance   *opt.AcceptanceConfig `json:"acceptance"`
        }
        if r.ContentLength != 0 && !decodeJSON(w, r, &body) { return }
        if body.TimeBudgetMs < 0 || int64(body.TimeBudgetMs) > planner.MaxTimeBudget.Milliseconds() {
            writeProblem(w, 400, "Invalid plan request", fmt.Sprintf("timeBudgetMs must be in [0,%d]", planner.MaxTimeBudget.Milliseconds()), path)
            return
        }
        if body.Acceptance != nil {
            if err := body.Acceptance.Validate(); err != nil { writeProblem(w, 400, "Invalid plan request", err.Error(), path); return }
        }
        in, best, m, acc := sess.FinalPlan(model.Millis(body.TimeBudgetMs), body.Acceptance)
        pl, err := s.Planner.Record(r.Context(), model.Plan{TenantID: p.Tenant, Source: "auction:" + sess.ID}, in, best, m, acc.Policy, "", "")
        if err != nil { writeError(w, r, "Record plan failed", err); return }
        writeJSON(w, http.StatusOK, pl)
    case action == "" || action == "bids" || action == "results" || action == "plan":
        w.WriteHeader(http.StatusMethodNotAllowed)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    }
}

// OptimizerConfigHandler handles GET|PUT /v1/optimizer/config
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/optimizer/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p, ok := s.principal(w, r)
    if !ok { return }
    switch r.Method {
    case http.MethodGet:
        eff, err := s.Planner.Config(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "Get config failed", err); return }
        override, err := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "Get config failed", err); return }
        writeJSON(w, 200, map[string]any{"defaults": s.Planner.Defaults(), "tenant": override, "effective": eff})
    case http.MethodPut:
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var body struct{ Config *model.OptimizerConfig `json:"config"` }
        if !decodeJSON(w, r, &body) { return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        if err := validateOptimizerConfig(body.Config); err != nil { writeProblem(w, 400, "Invalid config", err.Error(), r.URL.Path); return }
        if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, *body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Admin plan metrics by plan and policy
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/plan-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p, ok := s.principal(w, r)
    if !ok { return }
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    planID := r.URL.Query().Get("planId")
    policy := r.URL.Query().Get("policy")
    includeSnapshots := false
    if v := r.URL.Query().Get("includeSnapshots"); strings.EqualFold(v, "true") || v == "1" { includeSnapshots = true }
    items, err := s.Store.ListPlanMetrics(r.Context(), p.Tenant, planID, policy)
    if err != nil { writeProblem(w, 500, "Metrics failed", err.Error(), r.URL.Path); return }
    if !includeSnapshots {
        for i := range items { items[i].Snapshots = nil }
    }
    writeJSON(w, 200, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB and Redis connectivity when configured
    type pinger interface{ Ping(ctx context.Context) error }
    for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
        pg, ok := dep.(pinger)
        if !ok { continue }
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        err := pg.Ping(ctx)
        cancel()
        if err != nil { writeProblem(w, 503, "Not Ready", name+": "+err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
