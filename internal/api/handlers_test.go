package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gorilla/websocket"

    "carrierplan/internal/auth"
    "carrierplan/internal/config"
    "carrierplan/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg := config.Default()
    cfg.Optimizer.TimeBudgetMs = 50
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func do(t *testing.T, h http.HandlerFunc, method, path, tenant, role string, body any) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { t.Fatalf("marshal: %v", err) }
        rd = bytes.NewReader(b)
    } else {
        rd = bytes.NewReader(nil)
    }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    if tenant != "" { req.Header.Set("X-Tenant-Id", tenant) }
    if role != "" { req.Header.Set("X-Role", role) }
    rr := httptest.NewRecorder()
    h(rr, req)
    return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
    t.Helper()
    var v T
    if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil { t.Fatalf("decode %s: %v", rr.Body.String(), err) }
    return v
}

// instance is four cities on a line with two carriers and three tasks.
func instance() map[string]any {
    return map[string]any{
        "topology": map[string]any{
            "cities": []map[string]any{{"name": "A"}, {"name": "B"}, {"name": "C"}, {"name": "D"}},
            "matrix": [][]float64{{0, 1, 2, 3}, {1, 0, 1, 2}, {2, 1, 0, 1}, {3, 2, 1, 0}},
        },
        "carriers": []map[string]any{
            {"id": "van", "capacity": 5, "costPerDistance": 1, "home": "A"},
            {"id": "truck", "capacity": 20, "costPerDistance": 2, "home": "D"},
        },
        "tasks": []map[string]any{
            {"id": "t1", "pickup": "A", "delivery": "C", "weight": 2},
            {"id": "t2", "pickup": "B", "delivery": "D", "weight": 3},
            {"id": "t3", "pickup": "D", "delivery": "A", "weight": 9},
        },
        "timeBudgetMs": 50,
        "seed":         11,
    }
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestPlanCreateGetList(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "dispatcher", instance())
    if rr.Code != 200 { t.Fatalf("plan: %d %s", rr.Code, rr.Body.String()) }
    pl := decode[model.Plan](t, rr)
    if pl.Status != model.PlanDone || len(pl.Routes) != 2 { t.Fatalf("unexpected plan: %+v", pl) }
    stops := 0
    for _, r := range pl.Routes { stops += len(r.Stops) }
    if stops != 6 { t.Fatalf("want 6 stops, got %d", stops) }

    rr = do(t, s.PlanByIDHandler, http.MethodGet, "/v1/plans/"+pl.ID, "t_test", "viewer", nil)
    if rr.Code != 200 { t.Fatalf("get plan: %d", rr.Code) }
    rr = do(t, s.PlanByIDHandler, http.MethodGet, "/v1/plans/"+pl.ID, "t_other", "admin", nil)
    if rr.Code != 404 { t.Fatalf("other tenant should not see plan: %d", rr.Code) }

    rr = do(t, s.PlansHandler, http.MethodGet, "/v1/plans?limit=5&status=done", "t_test", "viewer", nil)
    if rr.Code != 200 { t.Fatalf("list: %d", rr.Code) }
    list := decode[struct{ Items []model.Plan `json:"items"` }](t, rr)
    if len(list.Items) != 1 || list.Items[0].ID != pl.ID { t.Fatalf("list: %+v", list.Items) }

    rr = do(t, s.PlanMetricsHandler, http.MethodGet, "/v1/admin/plan-metrics?planId="+pl.ID, "t_test", "admin", nil)
    if rr.Code != 200 { t.Fatalf("plan metrics: %d", rr.Code) }
    pms := decode[struct{ Items []model.PlanMetrics `json:"items"` }](t, rr)
    if len(pms.Items) != 1 || pms.Items[0].Policy != "fixed" { t.Fatalf("plan metrics: %+v", pms.Items) }
    if pms.Items[0].BestCost > pms.Items[0].InitialCost { t.Fatalf("best worse than initial: %+v", pms.Items[0]) }
    rr = do(t, s.PlanMetricsHandler, http.MethodGet, "/v1/admin/plan-metrics", "t_test", "viewer", nil)
    if rr.Code != 403 { t.Fatalf("viewer plan metrics: %d", rr.Code) }
}

func TestPlanErrors(t *testing.T) {
    s := newTestServer(t)

    heavy := instance()
    heavy["tasks"] = append(heavy["tasks"].([]map[string]any), map[string]any{"id": "piano", "pickup": "A", "delivery": "B", "weight": 40})
    rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", heavy)
    if rr.Code != http.StatusUnprocessableEntity { t.Fatalf("infeasible: %d %s", rr.Code, rr.Body.String()) }
    prob := decode[Problem](t, rr)
    if prob.TaskID != "piano" { t.Fatalf("problem should name the task: %+v", prob) }

    unknown := instance()
    unknown["tasks"] = []map[string]any{{"id": "x", "pickup": "A", "delivery": "Z", "weight": 1}}
    if rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", unknown); rr.Code != 400 {
        t.Fatalf("unknown city: %d", rr.Code)
    }
    neg := instance()
    neg["timeBudgetMs"] = -1
    if rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", neg); rr.Code != 400 {
        t.Fatalf("negative budget: %d", rr.Code)
    }
    huge := instance()
    huge["timeBudgetMs"] = 9223372036855
    if rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", huge); rr.Code != 400 {
        t.Fatalf("overflowing budget: %d %s", rr.Code, rr.Body.String())
    }
    if err := validateOptimizerConfig(&model.OptimizerConfig{TimeBudgetMs: 9223372036855}); err == nil {
        t.Fatal("overflowing config budget accepted")
    }
    badCb := instance()
    badCb["callbackUrl"] = "ftp://nowhere"
    if rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", badCb); rr.Code != 400 {
        t.Fatalf("bad callback: %d", rr.Code)
    }
    if rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "viewer", instance()); rr.Code != 403 {
        t.Fatalf("viewer create: %d", rr.Code)
    }
    req := httptest.NewRequest(http.MethodPost, "/v1/plans", strings.NewReader("{"))
    rr = httptest.NewRecorder()
    s.PlansHandler(rr, req)
    if rr.Code != 400 { t.Fatalf("bad json: %d", rr.Code) }

    plans, _, _ := s.Store.ListPlans(context.Background(), "t_test", "", "", 0)
    if len(plans) != 0 { t.Fatalf("rejected requests must not create plans: %d", len(plans)) }
}

func TestPlanAsync(t *testing.T) {
    s := newTestServer(t)
    body := instance()
    body["async"] = true
    rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", body)
    if rr.Code != http.StatusAccepted { t.Fatalf("async plan: %d", rr.Code) }
    pl := decode[model.Plan](t, rr)
    if pl.Status != model.PlanQueued { t.Fatalf("want queued, got %s", pl.Status) }
    if loc := rr.Header().Get("Location"); loc != "/v1/plans/"+pl.ID { t.Fatalf("location: %q", loc) }

    s.Planner.Wait()
    rr = do(t, s.PlanByIDHandler, http.MethodGet, "/v1/plans/"+pl.ID, "t_test", "", nil)
    got := decode[model.Plan](t, rr)
    if got.Status != model.PlanDone { t.Fatalf("want done, got %s", got.Status) }
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
    mu   sync.Mutex
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header { if r.hdr == nil { r.hdr = http.Header{} }; return r.hdr }
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { r.mu.Lock(); defer r.mu.Unlock(); return r.buf.Write(p) }
func (r *sseRecorder) Flush() {}
func (r *sseRecorder) contains(s string) bool { r.mu.Lock(); defer r.mu.Unlock(); return strings.Contains(r.buf.String(), s) }

func TestPlanEventsSSE(t *testing.T) {
    s := newTestServer(t)
    pl, err := s.Store.CreatePlan(context.Background(), model.Plan{TenantID: "t_test", Status: model.PlanRunning})
    if err != nil { t.Fatal(err) }

    sseReq := httptest.NewRequest(http.MethodGet, "/v1/plans/"+pl.ID+"/events/stream", nil)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    sseReq = sseReq.WithContext(ctx)
    sseReq.Header.Set("X-Tenant-Id", "t_test")

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        s.PlanByIDHandler(rec, sseReq)
        close(done)
    }()

    // Wait for the heartbeat, which is written after subscribing
    deadline := time.Now().Add(time.Second)
    for !rec.contains("event: heartbeat") && time.Now().Before(deadline) { time.Sleep(5 * time.Millisecond) }
    s.Broker.Publish(pl.ID, SSEEvent{Type: "plan.improved", Data: map[string]any{"cost": 7}})
    s.Broker.Publish(pl.ID, SSEEvent{Type: "plan.completed", Data: map[string]any{"totalCost": 7}})

    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatal("stream did not end after plan.completed")
    }
    if !rec.contains("event: plan.improved") || !rec.contains("event: plan.completed") {
        t.Fatalf("SSE body missing events: %s", rec.buf.String())
    }
}

func TestPlanEventsFinishedPlan(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", instance())
    pl := decode[model.Plan](t, rr)
    rec := &sseRecorder{}
    req := httptest.NewRequest(http.MethodGet, "/v1/plans/"+pl.ID+"/events/stream", nil)
    req.Header.Set("X-Tenant-Id", "t_test")
    s.PlanByIDHandler(rec, req)
    if !rec.contains("event: plan.completed") { t.Fatalf("finished plan should replay completion: %s", rec.buf.String()) }
}

func TestPlanWebSocket(t *testing.T) {
    s := newTestServer(t)
    now := time.Now().UTC()
    pl, err := s.Store.CreatePlan(context.Background(), model.Plan{TenantID: "t_ws", Status: model.PlanDone, TotalCost: 42, CompletedAt: &now})
    if err != nil { t.Fatal(err) }
    ts := httptest.NewServer(s.Handler())
    defer ts.Close()

    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t_ws")
    c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/plans/"+pl.ID+"/ws", hdr)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer func() { _ = c.Close() }()
    _ = c.SetReadDeadline(time.Now().Add(2 * time.Second))

    var msg wsMessage
    if err := c.ReadJSON(&msg); err != nil { t.Fatalf("read: %v", err) }
    if msg.Type != "event" || msg.Event != "plan.completed" { t.Fatalf("got %+v", msg) }
    var data map[string]any
    _ = json.Unmarshal(msg.Payload, &data)
    if data["totalCost"].(float64) != 42 { t.Fatalf("payload: %s", msg.Payload) }
    if err := c.ReadJSON(&msg); err != nil || msg.Type != "complete" { t.Fatalf("want complete, got %+v %v", msg, err) }
}

func TestAuctionFlow(t *testing.T) {
    s := newTestServer(t)
    open := map[string]any{"topology": instance()["topology"], "carriers": instance()["carriers"], "seed": 5}
    rr := do(t, s.AuctionsHandler, http.MethodPost, "/v1/auctions", "t_test", "dispatcher", open)
    if rr.Code != http.StatusCreated { t.Fatalf("open: %d %s", rr.Code, rr.Body.String()) }
    a := decode[model.Auction](t, rr)
    base := "/v1/auctions/" + a.ID

    rr = do(t, s.AuctionByIDHandler, http.MethodPost, base+"/bids", "t_test", "dispatcher",
        map[string]any{"task": map[string]any{"id": "x", "pickup": "A", "delivery": "B", "weight": 1}})
    if rr.Code != 200 { t.Fatalf("bid: %d %s", rr.Code, rr.Body.String()) }
    bid := decode[model.BidResponse](t, rr)
    // truck from D: (3+1)*2 = 8, plus the default 10% markup
    if bid.Bid == nil || bid.Marginal != 8 || bid.Carrier != "truck" { t.Fatalf("bid: %+v", bid) }

    rr = do(t, s.AuctionByIDHandler, http.MethodPost, base+"/results", "t_test", "dispatcher", map[string]any{"taskId": "x", "won": true})
    if rr.Code != 200 { t.Fatalf("settle: %d", rr.Code) }
    sum := decode[model.Auction](t, rr)
    if len(sum.Won) != 1 || sum.Cost != 8 { t.Fatalf("summary: %+v", sum) }

    rr = do(t, s.AuctionByIDHandler, http.MethodPost, base+"/results", "t_test", "dispatcher", map[string]any{"taskId": "x", "won": true})
    if rr.Code != http.StatusConflict { t.Fatalf("settle without pending bid: %d", rr.Code) }

    rr = do(t, s.AuctionByIDHandler, http.MethodPost, base+"/bids", "t_test", "dispatcher",
        map[string]any{"task": map[string]any{"id": "anvil", "pickup": "A", "delivery": "B", "weight": 80}})
    declined := decode[model.BidResponse](t, rr)
    if rr.Code != 200 || declined.Bid != nil || declined.Reason == "" { t.Fatalf("declined bid: %d %+v", rr.Code, declined) }

    rr = do(t, s.AuctionByIDHandler, http.MethodPost, base+"/plan", "t_test", "dispatcher", map[string]any{"timeBudgetMs": 30})
    if rr.Code != 200 { t.Fatalf("final plan: %d %s", rr.Code, rr.Body.String()) }
    pl := decode[model.Plan](t, rr)
    if pl.Source != "auction:"+a.ID || pl.Status != model.PlanDone || pl.TotalCost > 8 { t.Fatalf("final plan: %+v", pl) }

    if rr := do(t, s.AuctionByIDHandler, http.MethodGet, base, "t_other", "admin", nil); rr.Code != 404 {
        t.Fatalf("other tenant: %d", rr.Code)
    }
    if rr := do(t, s.AuctionByIDHandler, http.MethodDelete, base, "t_test", "admin", nil); rr.Code != http.StatusNoContent {
        t.Fatalf("close: %d", rr.Code)
    }
    if rr := do(t, s.AuctionByIDHandler, http.MethodGet, base, "t_test", "admin", nil); rr.Code != 404 {
        t.Fatalf("closed auction: %d", rr.Code)
    }
}

func TestOptimizerConfigHandler(t *testing.T) {
    s := newTestServer(t)
    put := map[string]any{"config": map[string]any{"maxIterations": 7, "acceptance": map[string]any{"policy": "annealing", "initialBeta": 0.1, "betaGrowth": 1.01}}}
    if rr := do(t, s.OptimizerConfigHandler, http.MethodPut, "/v1/optimizer/config", "t_test", "dispatcher", put); rr.Code != 403 {
        t.Fatalf("dispatcher put: %d", rr.Code)
    }
    bad := map[string]any{"config": map[string]any{"acceptance": map[string]any{"policy": "greedy"}}}
    if rr := do(t, s.OptimizerConfigHandler, http.MethodPut, "/v1/optimizer/config", "t_test", "admin", bad); rr.Code != 400 {
        t.Fatalf("bad policy: %d", rr.Code)
    }
    if rr := do(t, s.OptimizerConfigHandler, http.MethodPut, "/v1/optimizer/config", "t_test", "admin", put); rr.Code != 200 {
        t.Fatalf("put: %d %s", rr.Code, rr.Body.String())
    }
    rr := do(t, s.OptimizerConfigHandler, http.MethodGet, "/v1/optimizer/config", "t_test", "viewer", nil)
    got := decode[struct {
        Defaults  model.OptimizerConfig `json:"defaults"`
        Effective model.OptimizerConfig `json:"effective"`
    }](t, rr)
    if got.Effective.MaxIterations != 7 || got.Effective.Acceptance.Policy != "annealing" { t.Fatalf("effective: %+v", got.Effective) }
    if got.Effective.TimeBudgetMs != got.Defaults.TimeBudgetMs { t.Fatalf("unset fields should keep defaults: %+v", got) }

    rr = do(t, s.PlansHandler, http.MethodPost, "/v1/plans", "t_test", "admin", instance())
    pl := decode[model.Plan](t, rr)
    pms, _ := s.Store.ListPlanMetrics(context.Background(), "t_test", pl.ID, "annealing")
    if len(pms) != 1 || pms[0].Iterations > 7 { t.Fatalf("tenant config not applied: %+v", pms) }
}

func TestMiddlewareRateLimit(t *testing.T) {
    cfg := config.Default()
    cfg.RateRPS, cfg.RateBurst = 1, 1
    s, err := NewServer(cfg)
    if err != nil { t.Fatal(err) }
    h := s.Handler()
    codes := []int{}
    for i := 0; i < 2; i++ {
        req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
        req.Header.Set("X-Tenant-Id", "t_rl")
        rr := httptest.NewRecorder()
        h.ServeHTTP(rr, req)
        codes = append(codes, rr.Code)
    }
    if codes[0] != 200 || codes[1] != http.StatusTooManyRequests { t.Fatalf("codes: %v", codes) }

    req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
    req.RemoteAddr = "198.51.100.7:4000"
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), "http_requests_total") { t.Fatalf("metrics: %d", rr.Code) }

    if got := metricPath("/v1/plans/abc/events/stream"); got != "/v1/plans/{id}/events/stream" { t.Fatalf("metricPath: %s", got) }
}

func TestRateLimitIgnoresRotatedTenantHeader(t *testing.T) {
    cfg := config.Default()
    cfg.RateRPS, cfg.RateBurst = 1, 1
    s, err := NewServer(cfg)
    if err != nil { t.Fatal(err) }
    h := s.Handler()
    allowed := 0
    for i := 0; i < 50; i++ {
        req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
        req.RemoteAddr = "203.0.113.9:5000"
        req.Header.Set("X-Tenant-Id", fmt.Sprintf("t_%d", i))
        rr := httptest.NewRecorder()
        h.ServeHTTP(rr, req)
        if rr.Code == 200 { allowed++ }
    }
    if allowed != 1 { t.Fatalf("allowed %d of 50 requests from one address", allowed) }
    if n := s.limiter.size(); n != 1 { t.Fatalf("limiter holds %d clients", n) }
}

func TestRateLimitKeysOnVerifiedToken(t *testing.T) {
    cfg := config.Default()
    cfg.RateRPS, cfg.RateBurst = 1, 1
    cfg.Auth = config.Auth{Mode: "hmac", HMACSecret: "s3cret"}
    s, err := NewServer(cfg)
    if err != nil { t.Fatal(err) }
    tokA, _ := auth.SignHS256("s3cret", map[string]any{"tenant": "t_a", "role": "viewer"})
    tokB, _ := auth.SignHS256("s3cret", map[string]any{"tenant": "t_b", "role": "viewer"})
    key := func(tok string) string {
        req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
        if tok != "" { req.Header.Set("Authorization", "Bearer "+tok) }
        return s.clientKey(req)
    }
    if got := key(tokA); got != "tenant:t_a" { t.Fatalf("key: %s", got) }
    if key(tokA) == key(tokB) { t.Fatal("distinct tenants share a bucket") }
    if got := key("forged.token.value"); got != "ip:192.0.2.1" { t.Fatalf("forged token key: %s", got) }
}

func TestLimiterBoundsClients(t *testing.T) {
    l := newLimiter(1, 1)
    now := time.Unix(0, 0)
    l.now = func() time.Time { return now }
    l.maxClients = 3
    for i := 0; i < 10; i++ { l.allow(fmt.Sprintf("ip:10.0.0.%d", i)) }
    if n := l.size(); n > 4 { t.Fatalf("limiter grew to %d entries", n) }
    if l.allow("ip:10.0.0.99") { t.Fatal("overflow bucket should be drained") }

    now = now.Add(limiterIdle)
    if !l.allow("ip:10.0.0.99") { t.Fatal("idle clients should be swept") }
    if n := l.size(); n != 1 { t.Fatalf("after sweep: %d entries", n) }
}

func TestHMACAuth(t *testing.T) {
    cfg := config.Default()
    cfg.Auth = config.Auth{Mode: "hmac", HMACSecret: "s3cret"}
    s, err := NewServer(cfg)
    if err != nil { t.Fatal(err) }

    rr := do(t, s.PlansHandler, http.MethodGet, "/v1/plans", "t_test", "admin", nil)
    if rr.Code != http.StatusUnauthorized { t.Fatalf("headers must not authenticate in hmac mode: %d", rr.Code) }

    tok, _ := auth.SignHS256("s3cret", map[string]any{"tenant": "t_jwt", "role": "viewer"})
    req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
    req.Header.Set("Authorization", "Bearer "+tok)
    rr = httptest.NewRecorder()
    s.PlansHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("token list: %d", rr.Code) }

    req = httptest.NewRequest(http.MethodGet, "/debug/info", nil)
    req.Header.Set("Authorization", "Bearer "+tok)
    rr = httptest.NewRecorder()
    s.DebugJSON(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer debug: %d", rr.Code) }
}
