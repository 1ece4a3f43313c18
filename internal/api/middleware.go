package api

import (
    "bufio"
    "errors"
    "net"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    log "github.com/sirupsen/logrus"
    "golang.org/x/time/rate"

    "carrierplan/internal/metrics"
)

const (
    maxLimiterClients = 10000
    limiterIdle       = 5 * time.Minute
    overflowKey       = "overflow"
)

type clientLimiter struct {
    lim  *rate.Limiter
    seen time.Time
}

// limiter hands out one token bucket per client key. Idle buckets are swept;
// once maxClients keys are live, unknown keys share one overflow bucket.
type limiter struct {
    mu         sync.Mutex
    rps        rate.Limit
    burst      int
    maxClients int
    idle       time.Duration
    lastSweep  time.Time
    now        func() time.Time
    clients    map[string]*clientLimiter
}

func newLimiter(rps float64, burst int) *limiter {
    if rps <= 0 { return nil }
    if burst <= 0 { burst = int(rps) + 1 }
    return &limiter{rps: rate.Limit(rps), burst: burst, maxClients: maxLimiterClients, idle: limiterIdle, now: time.Now, clients: map[string]*clientLimiter{}}
}

func (l *limiter) allow(key string) bool {
    if l == nil { return true }
    l.mu.Lock()
    defer l.mu.Unlock()
    now := l.now()
    if now.Sub(l.lastSweep) >= l.idle || len(l.clients) >= l.maxClients {
        l.sweep(now)
    }
    c, ok := l.clients[key]
    if !ok {
        if len(l.clients) >= l.maxClients {
            key = overflowKey
            c = l.clients[key]
        }
        if c == nil {
            c = &clientLimiter{lim: rate.NewLimiter(l.rps, l.burst)}
            l.clients[key] = c
        }
    }
    c.seen = now
    return c.lim.AllowN(now, 1)
}

func (l *limiter) sweep(now time.Time) {
    for k, c := range l.clients {
        if now.Sub(c.seen) >= l.idle { delete(l.clients, k) }
    }
    l.lastSweep = now
}

func (l *limiter) size() int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return len(l.clients)
}

// clientKey identifies the caller by the tenant of a verified bearer token,
// else by remote address. Tenant headers are never trusted here.
func (s *Server) clientKey(r *http.Request) string {
    authz := r.Header.Get("Authorization")
    if s.Auth != nil && s.Auth.Mode == "hmac" && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
        if pr, err := s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):])); err == nil && pr.Tenant != "" {
            return "tenant:" + pr.Tenant
        }
    }
    host, _, err := net.SplitHostPort(r.RemoteAddr)
    if err != nil { host = r.RemoteAddr }
    return "ip:" + host
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) { r.status = code; r.ResponseWriter.WriteHeader(code) }

// Flush keeps event streams working behind the recorder.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("api: response writer cannot hijack") }
    r.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// metricPath collapses ids so that label cardinality stays bounded.
func metricPath(p string) string {
    parts := strings.Split(strings.Trim(p, "/"), "/")
    if len(parts) >= 3 && parts[0] == "v1" && (parts[1] == "plans" || parts[1] == "auctions") {
        parts[2] = "{id}"
    }
    return "/" + strings.Join(parts, "/")
}

// Middleware rate limits, logs and measures every request.
func (s *Server) Middleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        if !s.limiter.allow(s.clientKey(r)) {
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
            metrics.HTTPRequests.WithLabelValues(r.Method, metricPath(r.URL.Path), "429").Inc()
            return
        }
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        code := strconv.Itoa(rec.status)
        path := metricPath(r.URL.Path)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
        s.log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path, "status": rec.status, "remote": r.RemoteAddr}).Debugf("[api] %s %s %v", r.Method, r.URL.Path, dur)
    })
}
