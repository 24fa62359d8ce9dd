package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "recoverydispatch/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    jobs     map[string][]model.Job            // tenant -> jobs in insertion order
    vehicles map[string][]model.Vehicle        // tenant -> vehicles
    garages  map[string][]model.Garage         // tenant -> garages
    policies map[string]model.PolicyPatch      // tenant -> overrides
    runs     map[string][]model.Run            // tenant -> runs, oldest first
    vreqs    map[string][]model.VehicleRequest // tenant -> requests
    subs     map[string][]model.Subscription   // tenant -> subscriptions
    // Webhooks queue state
    deliveries  map[string]*memDelivery // id -> delivery state
    deliveryIDs []string                // enqueue order
    dlq         []DLQEntry
}

func NewMemory() *Memory {
    return &Memory{
        jobs: map[string][]model.Job{},
        vehicles: map[string][]model.Vehicle{},
        garages: map[string][]model.Garage{},
        policies: map[string]model.PolicyPatch{},
        runs: map[string][]model.Run{},
        vreqs: map[string][]model.VehicleRequest{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// upsert replaces items with a matching key in place and appends the rest.
func upsert[T any](list []T, items []T, key func(T) string) []T {
    idx := make(map[string]int, len(list))
    for i, it := range list { idx[key(it)] = i }
    for _, it := range items {
        if i, ok := idx[key(it)]; ok { list[i] = it; continue }
        idx[key(it)] = len(list)
        list = append(list, it)
    }
    return list
}

func remove[T any](list []T, id string, key func(T) string) ([]T, bool) {
    for i, it := range list {
        if key(it) == id { return append(list[:i:i], list[i+1:]...), true }
    }
    return list, false
}

// page returns up to limit items after the one whose key equals cursor.
func page[T any](list []T, cursor string, limit int, key func(T) string) ([]T, string) {
    start := 0
    if cursor != "" {
        for i := range list { if key(list[i]) == cursor { start = i + 1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    if start > end { start = end }
    items := append([]T(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = key(list[end-1]) }
    return items, next
}

func jobKey(j model.Job) string                { return j.ID }
func vehicleKey(v model.Vehicle) string        { return v.ID }
func garageKey(g model.Garage) string          { return g.PlaceID }
func runKey(r model.Run) string                { return r.ID }
func vreqKey(r model.VehicleRequest) string    { return r.ID }
func subKey(s model.Subscription) string       { return s.ID }

func (m *Memory) ListJobs(ctx context.Context, tenantID string) ([]model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.Job{}, m.jobs[tenantID]...), nil
}

func (m *Memory) UpsertJobs(ctx context.Context, tenantID string, jobs []model.Job) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.jobs[tenantID] = upsert(m.jobs[tenantID], jobs, jobKey)
    return nil
}

func (m *Memory) DeleteJob(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out, ok := remove(m.jobs[tenantID], id, jobKey)
    if !ok { return ErrNotFound }
    m.jobs[tenantID] = out
    return nil
}

func (m *Memory) ListVehicles(ctx context.Context, tenantID string) ([]model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.Vehicle{}, m.vehicles[tenantID]...), nil
}

func (m *Memory) UpsertVehicles(ctx context.Context, tenantID string, vehicles []model.Vehicle) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.vehicles[tenantID] = upsert(m.vehicles[tenantID], vehicles, vehicleKey)
    return nil
}

func (m *Memory) DeleteVehicle(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out, ok := remove(m.vehicles[tenantID], id, vehicleKey)
    if !ok { return ErrNotFound }
    m.vehicles[tenantID] = out
    return nil
}

func (m *Memory) ListGarages(ctx context.Context, tenantID string) ([]model.Garage, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.Garage{}, m.garages[tenantID]...), nil
}

func (m *Memory) UpsertGarages(ctx context.Context, tenantID string, garages []model.Garage) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.garages[tenantID] = upsert(m.garages[tenantID], garages, garageKey)
    return nil
}

func (m *Memory) DeleteGarage(ctx context.Context, tenantID, placeID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out, ok := remove(m.garages[tenantID], placeID, garageKey)
    if !ok { return ErrNotFound }
    m.garages[tenantID] = out
    return nil
}

func (m *Memory) GetPolicies(ctx context.Context, tenantID string) (*model.PolicyPatch, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if p, ok := m.policies[tenantID]; ok { return &p, nil }
    return nil, nil
}

func (m *Memory) SavePolicies(ctx context.Context, tenantID string, patch model.PolicyPatch) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.policies[tenantID] = patch
    return nil
}

func (m *Memory) SaveRun(ctx context.Context, run model.Run) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    m.runs[run.TenantID] = append(m.runs[run.TenantID], run)
    return nil
}

func (m *Memory) LatestRun(ctx context.Context, tenantID string) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    runs := m.runs[tenantID]
    if len(runs) == 0 { return model.Run{}, ErrNotFound }
    return runs[len(runs)-1], nil
}

// ListRuns pages newest first.
func (m *Memory) ListRuns(ctx context.Context, tenantID, cursor string, limit int) ([]model.Run, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    runs := m.runs[tenantID]
    rev := make([]model.Run, len(runs))
    for i, r := range runs { rev[len(runs)-1-i] = r }
    items, next := page(rev, cursor, limit, runKey)
    return items, next, nil
}

func (m *Memory) AddVehicleRequests(ctx context.Context, reqs []model.VehicleRequest) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, r := range reqs {
        if r.ID == "" { r.ID = uuid.New().String() }
        if r.CreatedAt.IsZero() { r.CreatedAt = time.Now().UTC() }
        m.vreqs[r.TenantID] = append(m.vreqs[r.TenantID], r)
    }
    return nil
}

func (m *Memory) ListVehicleRequests(ctx context.Context, tenantID, cursor string, limit int) ([]model.VehicleRequest, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.vreqs[tenantID], cursor, limit, vreqKey)
    return items, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.subs[tenantID], cursor, limit, subKey)
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out, ok := remove(m.subs[tenantID], id, subKey)
    if !ok { return ErrNotFound }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    dk := computeDedupKey(payload)
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if d.TenantID == tenantID && d.EventType == eventType && d.URL == url && computeDedupKey(d.Payload) == dk { return d.ID, nil }
    }
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Status = "failed"
    d.LastError = lastError
    m.dlq = append(m.dlq, DLQEntry{
        ID: uuid.New().String(), DeliveryID: id, TenantID: d.TenantID, EventType: d.EventType, URL: d.URL,
        Secret: d.Secret, Payload: d.Payload, Attempts: d.Attempts + 1, LastError: lastError,
        ResponseCode: responseCode, LatencyMs: latencyMs, CreatedAt: time.Now().UTC(),
    })
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var matched []*memDelivery
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if d.TenantID == tenantID && (status == "" || d.Status == status) { matched = append(matched, d) }
    }
    items, next := page(matched, cursor, limit, func(d *memDelivery) string { return d.ID })
    out := make([]map[string]any, 0, len(items))
    for _, d := range items {
        item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
        if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
        if d.LastError != "" { item["lastError"] = d.LastError }
        out = append(out, item)
    }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = "pending"
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]DLQEntry, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var matched []DLQEntry
    for _, e := range m.dlq {
        if e.TenantID == tenantID && (eventType == "" || e.EventType == eventType) { matched = append(matched, e) }
    }
    items, next := page(matched, cursor, limit, func(e DLQEntry) string { return e.ID })
    if items == nil { items = []DLQEntry{} }
    return items, next, nil
}

// RequeueWebhookDLQ resets the original delivery and drops the DLQ entry.
func (m *Memory) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for i, e := range m.dlq {
        if e.ID != id || e.TenantID != tenantID { continue }
        if d := m.deliveries[e.DeliveryID]; d != nil {
            d.Status = "pending"
            d.Attempts = 0
            d.NextAttemptAt = time.Now()
        }
        m.dlq = append(m.dlq[:i:i], m.dlq[i+1:]...)
        return nil
    }
    return ErrNotFound
}
