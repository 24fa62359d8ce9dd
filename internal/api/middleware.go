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

    "github.com/google/uuid"
    "go.uber.org/zap"
    "golang.org/x/time/rate"

    "recoverydispatch/internal/metrics"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) { r.status = code; r.ResponseWriter.WriteHeader(code) }

func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijack not supported") }
    if r.status == 0 { r.status = http.StatusSwitchingProtocols }
    return h.Hijack()
}

func (r *statusRecorder) code() int {
    if r.status == 0 { return http.StatusOK }
    return r.status
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        reqID := r.Header.Get("X-Request-Id")
        if reqID == "" { reqID = uuid.NewString() }
        w.Header().Set("X-Request-Id", reqID)
        rec := &statusRecorder{ResponseWriter: w}
        next.ServeHTTP(rec, r)
        s.Log.Info("http request",
            zap.String("method", r.Method),
            zap.String("path", r.URL.Path),
            zap.Int("status", rec.code()),
            zap.Duration("duration", time.Since(start)),
            zap.String("request_id", reqID),
            zap.String("remote", r.RemoteAddr),
        )
    })
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w}
        next.ServeHTTP(rec, r)
        labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.code())}
        metrics.HTTPRequests.WithLabelValues(labels...).Inc()
        metrics.HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
    })
}

// routeLabel collapses ids so the path label stays low-cardinality.
func routeLabel(path string) string {
    parts := strings.Split(strings.Trim(path, "/"), "/")
    if len(parts) < 3 || parts[0] != "v1" { return path }
    switch parts[1] {
    case "jobs", "vehicles", "garages", "subscriptions":
        if parts[2] == "add-and-rerun" || parts[2] == "hours-sync" { return path }
        parts[2] = ":id"
    case "admin":
        if len(parts) >= 4 { parts[3] = ":id" }
    }
    return "/" + strings.Join(parts, "/")
}

// clientLimiter hands out one token bucket per client key.
type clientLimiter struct {
    rps   rate.Limit
    burst int

    mu      sync.Mutex
    clients map[string]*limiterEntry
}

type limiterEntry struct {
    lim  *rate.Limiter
    seen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
    if rps <= 0 { return nil }
    if burst <= 0 { burst = int(rps) + 1 }
    return &clientLimiter{rps: rate.Limit(rps), burst: burst, clients: map[string]*limiterEntry{}}
}

func (c *clientLimiter) allow(key string, now time.Time) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.clients[key]
    if !ok {
        e = &limiterEntry{lim: rate.NewLimiter(c.rps, c.burst)}
        c.clients[key] = e
    }
    e.seen = now
    if len(c.clients) > 10000 { c.evict(now.Add(-10 * time.Minute)) }
    return e.lim.AllowN(now, 1)
}

func (c *clientLimiter) evict(before time.Time) {
    for k, e := range c.clients {
        if e.seen.Before(before) { delete(c.clients, k) }
    }
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if s.limiter == nil || r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
            next.ServeHTTP(w, r)
            return
        }
        if !s.limiter.allow(clientKey(r), time.Now()) {
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// clientKey prefers the bearer token so tenants behind one proxy are limited separately.
func clientKey(r *http.Request) string {
    if a := r.Header.Get("Authorization"); a != "" { return "tok:" + a }
    if t := r.Header.Get("X-Tenant-Id"); t != "" { return "tenant:" + t }
    host, _, err := net.SplitHostPort(r.RemoteAddr)
    if err != nil { host = r.RemoteAddr }
    return "ip:" + host
}
