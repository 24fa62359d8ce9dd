package metrics

import (
    "net/http"
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "recoverydispatch/internal/model"
    "recoverydispatch/internal/opt"
)

var (
    // Registry is the dedicated Prometheus registry for the API
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

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )

    OptimizerRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimizer_runs_total", Help: "Optimizer runs by outcome."},
        []string{"outcome"},
    )
    OptimizerJobs = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimizer_jobs_total", Help: "Jobs seen by the optimizer by result."},
        []string{"result"},
    )
    // OptimizerAssignments counts assignments by drop decision and route shape (direct|swap)
    OptimizerAssignments = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimizer_assignments_total", Help: "Assignments by drop decision and route kind."},
        []string{"drop_decision", "kind"},
    )
    OptimizerShiftOverruns = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "optimizer_shift_overruns_total", Help: "Assignments flagged as exceeding the vehicle shift."},
    )
    ETALookups = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "eta_lookups_total", Help: "Travel time lookups by status."},
        []string{"status"},
    )
    OptimizerDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "optimizer_run_duration_seconds", Help: "Wall time of one optimizer run.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        Registry.MustRegister(OptimizerRuns, OptimizerJobs, OptimizerAssignments, OptimizerShiftOverruns, ETALookups, OptimizerDuration)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
    RegisterDefault()
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// OptimizerRecorder feeds optimizer outcomes into the collectors above.
type OptimizerRecorder struct{}

func (OptimizerRecorder) ObserveRun(s opt.RunStats) {
    outcome := "ok"
    switch {
    case s.Skipped > 0:
        outcome = "interrupted"
    case s.Lookups > 0 && s.LookupFailures == s.Lookups:
        outcome = "eta_unavailable"
    }
    OptimizerRuns.WithLabelValues(outcome).Inc()
    OptimizerJobs.WithLabelValues("assigned").Add(float64(s.Assigned))
    OptimizerJobs.WithLabelValues("unassigned").Add(float64(s.Unassigned))
    OptimizerJobs.WithLabelValues("skipped").Add(float64(s.Skipped))
    ETALookups.WithLabelValues("ok").Add(float64(s.Lookups - s.LookupFailures))
    ETALookups.WithLabelValues("failed").Add(float64(s.LookupFailures))
    OptimizerDuration.Observe(s.Duration.Seconds())
}

func (OptimizerRecorder) ObserveAssignment(a model.Assignment) {
    kind := "direct"
    if len(a.Legs) > 2 { kind = "swap" }
    OptimizerAssignments.WithLabelValues(string(a.DropDecision), kind).Inc()
    if a.WillExceedShift { OptimizerShiftOverruns.Inc() }
}
