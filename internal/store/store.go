package store

import (
    "context"
    "errors"
    "time"

    "recoverydispatch/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
    // Fleet inputs
    ListJobs(ctx context.Context, tenantID string) ([]model.Job, error)
    UpsertJobs(ctx context.Context, tenantID string, jobs []model.Job) error
    DeleteJob(ctx context.Context, tenantID, id string) error
    ListVehicles(ctx context.Context, tenantID string) ([]model.Vehicle, error)
    UpsertVehicles(ctx context.Context, tenantID string, vehicles []model.Vehicle) error
    DeleteVehicle(ctx context.Context, tenantID, id string) error
    ListGarages(ctx context.Context, tenantID string) ([]model.Garage, error)
    UpsertGarages(ctx context.Context, tenantID string, garages []model.Garage) error
    DeleteGarage(ctx context.Context, tenantID, placeID string) error

    // Policy overrides per tenant; nil patch when none saved
    GetPolicies(ctx context.Context, tenantID string) (*model.PolicyPatch, error)
    SavePolicies(ctx context.Context, tenantID string, patch model.PolicyPatch) error

    // Optimizer runs
    SaveRun(ctx context.Context, run model.Run) error
    LatestRun(ctx context.Context, tenantID string) (model.Run, error)
    ListRuns(ctx context.Context, tenantID, cursor string, limit int) ([]model.Run, string, error)

    // Vehicle requests
    AddVehicleRequests(ctx context.Context, reqs []model.VehicleRequest) error
    ListVehicleRequests(ctx context.Context, tenantID, cursor string, limit int) ([]model.VehicleRequest, string, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

    // Dead-letter queue
    ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]DLQEntry, string, error)
    RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error

    Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")
