package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "recoverydispatch/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Fleet inputs are kept as one JSONB document per (tenant, id) row.

func listDocs[T any](ctx context.Context, db *sql.DB, table, tenantID string) ([]T, error) {
    rows, err := db.QueryContext(ctx, `SELECT data FROM `+table+` WHERE tenant_id=$1 ORDER BY created_at, id`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []T{}
    for rows.Next() {
        var js []byte
        if err := rows.Scan(&js); err != nil { return nil, err }
        var v T
        if err := json.Unmarshal(js, &v); err != nil { return nil, fmt.Errorf("decode %s row: %w", table, err) }
        out = append(out, v)
    }
    return out, rows.Err()
}

func upsertDocs[T any](ctx context.Context, db *sql.DB, table, tenantID string, items []T, key func(T) string) error {
    tx, err := db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    for _, it := range items {
        js, err := json.Marshal(it)
        if err != nil { return err }
        if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (tenant_id, id, data, created_at) VALUES ($1,$2,$3,now())
            ON CONFLICT (tenant_id, id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`, tenantID, key(it), js); err != nil { return err }
    }
    return tx.Commit()
}

func deleteDoc(ctx context.Context, db *sql.DB, table, tenantID, id string) error {
    res, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) ListJobs(ctx context.Context, tenantID string) ([]model.Job, error) {
    return listDocs[model.Job](ctx, p.db, "jobs", tenantID)
}

func (p *Postgres) UpsertJobs(ctx context.Context, tenantID string, jobs []model.Job) error {
    return upsertDocs(ctx, p.db, "jobs", tenantID, jobs, jobKey)
}

func (p *Postgres) DeleteJob(ctx context.Context, tenantID, id string) error {
    return deleteDoc(ctx, p.db, "jobs", tenantID, id)
}

func (p *Postgres) ListVehicles(ctx context.Context, tenantID string) ([]model.Vehicle, error) {
    return listDocs[model.Vehicle](ctx, p.db, "vehicles", tenantID)
}

func (p *Postgres) UpsertVehicles(ctx context.Context, tenantID string, vehicles []model.Vehicle) error {
    return upsertDocs(ctx, p.db, "vehicles", tenantID, vehicles, vehicleKey)
}

func (p *Postgres) DeleteVehicle(ctx context.Context, tenantID, id string) error {
    return deleteDoc(ctx, p.db, "vehicles", tenantID, id)
}

func (p *Postgres) ListGarages(ctx context.Context, tenantID string) ([]model.Garage, error) {
    return listDocs[model.Garage](ctx, p.db, "garages", tenantID)
}

func (p *Postgres) UpsertGarages(ctx context.Context, tenantID string, garages []model.Garage) error {
    return upsertDocs(ctx, p.db, "garages", tenantID, garages, garageKey)
}

func (p *Postgres) DeleteGarage(ctx context.Context, tenantID, placeID string) error {
    return deleteDoc(ctx, p.db, "garages", tenantID, placeID)
}

func (p *Postgres) GetPolicies(ctx context.Context, tenantID string) (*model.PolicyPatch, error) {
    row := p.db.QueryRowContext(ctx, `SELECT policies FROM tenant_policies WHERE tenant_id=$1`, tenantID)
    var js []byte
    if err := row.Scan(&js); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, nil }
        return nil, err
    }
    var patch model.PolicyPatch
    if err := json.Unmarshal(js, &patch); err != nil { return nil, err }
    return &patch, nil
}

func (p *Postgres) SavePolicies(ctx context.Context, tenantID string, patch model.PolicyPatch) error {
    js, err := json.Marshal(patch)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO tenant_policies (tenant_id, policies, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET policies=$2, updated_at=now()`, tenantID, js)
    return err
}

// runInput is the persisted echo of a run's effective inputs.
type runInput struct {
    Jobs     []model.Job     `json:"jobs"`
    Vehicles []model.Vehicle `json:"vehicles"`
    Garages  []model.Garage  `json:"garages"`
    Policies model.Policies  `json:"policies"`
}

func (p *Postgres) SaveRun(ctx context.Context, run model.Run) error {
    in, err := json.Marshal(runInput{Jobs: run.Jobs, Vehicles: run.Vehicles, Garages: run.Garages, Policies: run.Policies})
    if err != nil { return err }
    res, err := json.Marshal(run.Result)
    if err != nil { return err }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    _, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, tenant_id, run_now, input, result, assigned, unassigned, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, run.ID, run.TenantID, run.Now, in, res, len(run.Result.Assignments), len(run.Result.Unassigned), run.CreatedAt)
    return err
}

const runColumns = `id::text, tenant_id, run_now, input, result, created_at`

func scanRun(sc interface{ Scan(...any) error }) (model.Run, error) {
    var r model.Run
    var in, res []byte
    if err := sc.Scan(&r.ID, &r.TenantID, &r.Now, &in, &res, &r.CreatedAt); err != nil { return model.Run{}, err }
    var ri runInput
    if err := json.Unmarshal(in, &ri); err != nil { return model.Run{}, err }
    if err := json.Unmarshal(res, &r.Result); err != nil { return model.Run{}, err }
    r.Jobs, r.Vehicles, r.Garages, r.Policies = ri.Jobs, ri.Vehicles, ri.Garages, ri.Policies
    return r, nil
}

func (p *Postgres) LatestRun(ctx context.Context, tenantID string) (model.Run, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=$1 ORDER BY created_at DESC LIMIT 1`, tenantID)
    r, err := scanRun(row)
    if errors.Is(err, sql.ErrNoRows) { return model.Run{}, ErrNotFound }
    return r, err
}

// ListRuns pages newest first; the cursor is the last run id seen.
func (p *Postgres) ListRuns(ctx context.Context, tenantID, cursor string, limit int) ([]model.Run, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=$1
            AND created_at < (SELECT created_at FROM runs WHERE tenant_id=$1 AND id::text=$2) ORDER BY created_at DESC LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=$1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Run{}
    for rows.Next() {
        r, err := scanRun(rows)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

func (p *Postgres) AddVehicleRequests(ctx context.Context, reqs []model.VehicleRequest) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    for _, r := range reqs {
        if r.ID == "" { r.ID = uuid.New().String() }
        if r.CreatedAt.IsZero() { r.CreatedAt = time.Now().UTC() }
        if _, err := tx.ExecContext(ctx, `INSERT INTO vehicle_requests (id, tenant_id, job_id, lat, lng, reason, suggested_type, postcode_area, overdue_risk, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, r.ID, r.TenantID, nullIfEmpty(r.JobID), r.Coords.Lat, r.Coords.Lng, r.Reason, r.SuggestedType, nullIfEmpty(r.PostcodeArea), r.OverdueRisk, r.CreatedAt); err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) ListVehicleRequests(ctx context.Context, tenantID, cursor string, limit int) ([]model.VehicleRequest, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, COALESCE(job_id,''), lat, lng, reason, suggested_type, COALESCE(postcode_area,''), overdue_risk, created_at FROM vehicle_requests WHERE tenant_id=$1`
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, q+` AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, q+` ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.VehicleRequest{}
    for rows.Next() {
        r := model.VehicleRequest{TenantID: tenantID}
        if err := rows.Scan(&r.ID, &r.JobID, &r.Coords.Lat, &r.Coords.Lng, &r.Reason, &r.SuggestedType, &r.PostcodeArea, &r.OverdueRisk, &r.CreatedAt); err != nil { return nil, "", err }
        out = append(out, r)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, string(filter))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    return deleteDoc(ctx, p.db, "subscriptions", tenantID, id)
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil { return err }
    // move to DLQ
    if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts+1, $2, $3, $4 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE tenant_id=$1`
    args := []any{tenantID}
    if status != "" { args = append(args, status); q += fmt.Sprintf(` AND status=$%d`, len(args)) }
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]DLQEntry, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, COALESCE(delivery_id::text,''), event_type, url, COALESCE(last_error,''), attempts, created_at, COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_dlq WHERE tenant_id=$1`
    args := []any{tenantID}
    if eventType != "" { args = append(args, eventType); q += fmt.Sprintf(` AND event_type=$%d`, len(args)) }
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []DLQEntry{}
    for rows.Next() {
        e := DLQEntry{TenantID: tenantID}
        if err := rows.Scan(&e.ID, &e.DeliveryID, &e.EventType, &e.URL, &e.LastError, &e.Attempts, &e.CreatedAt, &e.ResponseCode, &e.LatencyMs); err != nil { return nil, "", err }
        out = append(out, e)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

func (p *Postgres) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var delID string
    err = tx.QueryRowContext(ctx, `DELETE FROM webhook_dlq WHERE tenant_id=$1 AND id::text=$2 RETURNING COALESCE(delivery_id::text,'')`, tenantID, id).Scan(&delID)
    if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
    if err != nil { return err }
    if delID != "" {
        if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE id::text=$1`, delID); err != nil { return err }
    }
    return tx.Commit()
}

// computeDedupKey prefers the event id and falls back to a payload hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
