package api

import (
    "net/http"
    "time"

    "go.uber.org/zap"

    "recoverydispatch/internal/auth"
    "recoverydispatch/internal/config"
    "recoverydispatch/internal/eta"
    "recoverydispatch/internal/integrations"
    "recoverydispatch/internal/metrics"
    "recoverydispatch/internal/notify"
    "recoverydispatch/internal/opt"
    "recoverydispatch/internal/store"
    "recoverydispatch/internal/webhooks"
)

type Server struct {
    Config    config.Config
    Store     store.Store
    Pub       *webhooks.Publisher
    Auth      *auth.Verifier
    Broker    EventBroker
    ETA       eta.Provider
    Optimizer *opt.Optimizer
    Notifier  notify.Notifier
    Log       *zap.Logger

    // Optional Google integrations; nil disables geocoding, postcode areas and hours sync.
    Geocoder  integrations.Geocoder
    Postcodes integrations.PostcodeLookup
    Places    integrations.PlacesSource

    // Now is the server clock used for runs that do not pin "now".
    Now func() time.Time

    limiter *clientLimiter
}

// NewServer wires a server around a store and an ETA provider. Broker,
// notifier and integrations default to in-process or no-op implementations
// and may be replaced before Routes is called.
func NewServer(cfg config.Config, st store.Store, provider eta.Provider, log *zap.Logger) *Server {
    if log == nil { log = zap.NewNop() }
    o := opt.New(provider, log.Named("opt"))
    o.Recorder = metrics.OptimizerRecorder{}
    return &Server{
        Config:    cfg,
        Store:     st,
        Pub:       webhooks.NewPublisher(st, log.Named("webhooks")),
        Auth:      auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
        Broker:    NewBroker(),
        ETA:       provider,
        Optimizer: o,
        Notifier:  notify.Nop{},
        Log:       log,
        Now:       time.Now,
        limiter:   newClientLimiter(cfg.RateRPS, cfg.RateBurst),
    }
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts, s.Log.Named("webhook-worker"))
}

// Routes registers every endpoint and wraps the mux in the middleware chain.
func (s *Server) Routes() http.Handler {
    mux := http.NewServeMux()

    // Optimization
    mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
    mux.HandleFunc("/v1/plan/latest", s.LatestPlanHandler)
    mux.HandleFunc("/v1/plan/events", s.PlanEventsHandler)
    mux.HandleFunc("/v1/plan/ws", s.PlanWSHandler)
    mux.HandleFunc("/v1/runs", s.RunsHandler)
    mux.HandleFunc("/v1/eta/matrix", s.ETAMatrixHandler)

    // Fleet inputs
    mux.HandleFunc("/v1/jobs", s.JobsHandler)
    mux.HandleFunc("/v1/jobs/", s.JobByIDHandler)
    mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
    mux.HandleFunc("/v1/vehicles/add-and-rerun", s.AddAndRerunHandler)
    mux.HandleFunc("/v1/vehicles/", s.VehicleByIDHandler)
    mux.HandleFunc("/v1/garages", s.GaragesHandler)
    mux.HandleFunc("/v1/garages/hours-sync", s.GarageHoursSyncHandler)
    mux.HandleFunc("/v1/garages/", s.GarageByIDHandler)
    mux.HandleFunc("/v1/vehicle-requests", s.VehicleRequestsHandler)

    // Policies
    mux.HandleFunc("/v1/policies", s.PoliciesHandler)
    mux.HandleFunc("/v1/admin/policies", s.AdminPoliciesHandler)

    // Webhooks
    mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq/", s.WebhookDLQHandler)

    // Health and ops
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.HandleFunc("/debug/info", s.DebugJSON)
    mux.Handle("/metrics", metrics.Handler())

    return s.logMiddleware(s.metricsMiddleware(s.rateLimitMiddleware(mux)))
}

func (s *Server) now() time.Time {
    if s.Now != nil { return s.Now() }
    return time.Now()
}
