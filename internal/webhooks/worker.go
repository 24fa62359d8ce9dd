package webhooks

import (
    "bytes"
    "context"
    "net/http"
    "strconv"
    "time"

    "go.uber.org/zap"

    "recoverydispatch/internal/metrics"
    "recoverydispatch/internal/store"
)

type Worker struct {
    Store       store.Store
    HTTP        *http.Client
    Log         *zap.Logger
    Stop        chan struct{}
    MaxAttempts int
    Interval    time.Duration
    BatchSize   int
}

func NewWorker(s store.Store, maxAttempts int, log *zap.Logger) *Worker {
    if maxAttempts <= 0 { maxAttempts = 10 }
    if log == nil { log = zap.NewNop() }
    return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Log: log, Stop: make(chan struct{}), MaxAttempts: maxAttempts, Interval: time.Second, BatchSize: 50}
}

func (w *Worker) Start() {
    iv := w.Interval
    if iv <= 0 { iv = time.Second }
    go func() {
        ticker := time.NewTicker(iv)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
    if err != nil {
        w.Log.Warn("fetch due webhook deliveries", zap.Error(err))
        return
    }
    for _, it := range items { w.deliver(ctx, it) }
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
    log := w.Log.With(zap.String("delivery", it.ID), zap.String("event", it.EventType))
    success := false
    next := time.Now().Add(nextBackoff(it.Attempts))
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err != nil {
        _ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
        log.Warn("webhook url rejected", zap.Error(err))
        return
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", it.EventType)
    if it.Secret != "" {
        req.Header.Set(SignatureHeader, Sign(it.Secret, time.Now(), it.Payload))
    }
    start := time.Now()
    resp, err := w.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    code := 0
    if err == nil && resp != nil {
        code = resp.StatusCode
        if resp.Body != nil { _ = resp.Body.Close() }
        if code >= 200 && code < 300 { success = true }
    }
    lastErr := ""
    if !success {
        if err != nil { lastErr = err.Error() } else { lastErr = "status " + strconv.Itoa(code) }
    }
    status := "delivered"
    defer func() {
        metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
        metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
    }()
    if !success && it.Attempts+1 >= w.MaxAttempts {
        status = "failed"
        if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil { log.Error("dead-letter webhook", zap.Error(err)) }
        log.Warn("webhook dead-lettered", zap.Int("attempts", it.Attempts+1), zap.String("lastError", lastErr))
        return
    }
    if !success { status = "retry" }
    if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
        log.Error("mark webhook delivery", zap.Error(err))
    }
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
