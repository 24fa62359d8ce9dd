package api

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "recoverydispatch/internal/eta"
    "recoverydispatch/internal/model"
    "recoverydispatch/internal/opt"
    "recoverydispatch/internal/store"
    "recoverydispatch/internal/webhooks"
)

// runProblem is returned when the ETA provider failed for the whole run;
// the partial result is still handed back so the caller can decide to retry.
type runProblem struct {
    Problem
    Result *model.RunResult `json:"result,omitempty"`
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !requireDispatcher(w, r, p) { return }
    var req model.RunRequest
    if err := decodeJSON(r, &req); err != nil {
        writeError(w, r, "Invalid JSON", err)
        return
    }
    if req.TenantID == "" || !p.IsAdmin() { req.TenantID = p.Tenant }
    run, err := s.executeRun(r.Context(), req.TenantID, req)
    if err != nil {
        s.writeRunError(w, r, run, err)
        return
    }
    writeJSON(w, http.StatusOK, run.Result)
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, run model.Run, err error) {
    if errors.Is(err, eta.ErrUnavailable) {
        res := run.Result
        writeJSON(w, http.StatusBadGateway, runProblem{
            Problem: Problem{Type: "about:blank", Title: "Travel time provider unavailable", Status: http.StatusBadGateway, Detail: err.Error(), Instance: r.URL.Path},
            Result:  &res,
        })
        return
    }
    writeError(w, r, "Optimize failed", err)
}

// executeRun resolves stored inputs and policies, runs the optimizer,
// persists the run and fans out its events. Runs that fail systemically are
// returned with their partial result but not persisted.
func (s *Server) executeRun(ctx context.Context, tenant string, req model.RunRequest) (model.Run, error) {
    if err := s.fillFromStore(ctx, tenant, &req); err != nil { return model.Run{}, err }
    if err := validateRunRequest(&req); err != nil { return model.Run{}, err }
    base, _, err := s.tenantPolicies(ctx, tenant)
    if err != nil { return model.Run{}, err }

    in := opt.ResolveInput(req, base, s.now())
    res, runErr := s.Optimizer.Run(ctx, in)
    var ve *opt.ValidationError
    if runErr != nil && (errors.As(runErr, &ve) || errors.Is(runErr, opt.ErrNoJobs) || errors.Is(runErr, opt.ErrNoVehicles)) {
        return model.Run{}, runErr
    }

    runID := uuid.NewString()
    res.RunID = runID
    run := model.Run{
        ID: runID, TenantID: tenant, Now: in.Now,
        Jobs: in.Jobs, Vehicles: in.Vehicles, Garages: in.Garages, Policies: in.Policies,
        Result: res, CreatedAt: s.now().UTC(),
    }
    if runErr != nil {
        s.Log.Warn("optimizer run not persisted", zap.String("run", runID), zap.String("tenant", tenant), zap.Error(runErr))
        return run, runErr
    }
    if err := s.Store.SaveRun(ctx, run); err != nil { return run, fmt.Errorf("save run: %w", err) }
    s.afterRun(ctx, run)
    return run, nil
}

// fillFromStore substitutes the tenant's stored lists for any the request omits.
func (s *Server) fillFromStore(ctx context.Context, tenant string, req *model.RunRequest) error {
    if req.Jobs == nil {
        jobs, err := s.Store.ListJobs(ctx, tenant)
        if err != nil { return fmt.Errorf("load jobs: %w", err) }
        req.Jobs = jobs
    }
    if req.Vehicles == nil {
        vs, err := s.Store.ListVehicles(ctx, tenant)
        if err != nil { return fmt.Errorf("load vehicles: %w", err) }
        req.Vehicles = vs
    }
    if req.Garages == nil {
        gs, err := s.Store.ListGarages(ctx, tenant)
        if err != nil { return fmt.Errorf("load garages: %w", err) }
        req.Garages = gs
    }
    return nil
}

// tenantPolicies returns config-level policies with the tenant override applied,
// plus the override itself (nil when none is saved).
func (s *Server) tenantPolicies(ctx context.Context, tenant string) (model.Policies, *model.PolicyPatch, error) {
    patch, err := s.Store.GetPolicies(ctx, tenant)
    if err != nil { return model.Policies{}, nil, fmt.Errorf("load policies: %w", err) }
    return patch.Apply(s.Config.BasePolicies()), patch, nil
}

func (s *Server) afterRun(ctx context.Context, run model.Run) {
    res := run.Result
    summary := map[string]any{
        "runId":      run.ID,
        "assigned":   len(res.Assignments),
        "unassigned": len(res.Unassigned),
        "skipped":    len(res.Skipped),
    }
    s.Broker.Publish(run.TenantID, SSEEvent{Type: EventPlanCompleted, Data: summary})
    for _, id := range res.Unassigned {
        s.Broker.Publish(run.TenantID, SSEEvent{Type: EventJobUnassigned, Data: map[string]any{"runId": run.ID, "jobId": id}})
    }

    payload := map[string]any{"runId": run.ID, "now": run.Now, "assignments": res.Assignments, "unassigned": res.Unassigned}
    s.Pub.Emit(ctx, run.TenantID, webhooks.EventPlanCompleted, payload)
    if err := s.Notifier.Publish(ctx, run.TenantID, webhooks.EventPlanCompleted, run.ID, summary); err != nil {
        s.Log.Warn("notify plan completed", zap.String("run", run.ID), zap.Error(err))
    }

    if len(res.VehicleNeeds) > 0 {
        reqs := make([]model.VehicleRequest, 0, len(res.VehicleNeeds))
        for _, n := range res.VehicleNeeds {
            reqs = append(reqs, model.VehicleRequest{
                ID:            uuid.NewString(),
                TenantID:      run.TenantID,
                JobID:         n.JobID,
                Coords:        n.Pickup,
                Reason:        fmt.Sprintf("no feasible vehicle for %s job", n.IssueType),
                SuggestedType: requestTypeLabel(n.SuggestedType),
                PostcodeArea:  s.postcodeArea(ctx, n.Pickup),
                CreatedAt:     s.now().UTC(),
            })
        }
        if err := s.recordVehicleRequests(ctx, run.TenantID, reqs); err != nil {
            s.Log.Warn("record vehicle requests", zap.String("run", run.ID), zap.Error(err))
        }
    }
}

// LatestPlanHandler handles GET /v1/plan/latest
func (s *Server) LatestPlanHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireTenant(w, r, p) { return }
    run, err := s.Store.LatestRun(r.Context(), p.Tenant)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, http.StatusNotFound, "Not Found", "No plan cached yet.", r.URL.Path); return }
    if err != nil { writeError(w, r, "Load latest plan failed", err); return }
    writeJSON(w, http.StatusOK, run)
}

// RunsHandler handles GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireTenant(w, r, p) { return }
    items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r, 20))
    if err != nil { writeError(w, r, "List runs failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// AddAndRerunHandler handles POST /v1/vehicles/add-and-rerun: the vehicle is
// added to the latest run's fleet and the run is repeated at the current time.
func (s *Server) AddAndRerunHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireDispatcher(w, r, p) { return }
    var body struct {
        Vehicle *model.Vehicle `json:"vehicle"`
    }
    if err := decodeJSON(r, &body); err != nil { writeError(w, r, "Invalid JSON", err); return }
    if body.Vehicle == nil || body.Vehicle.ID == "" { writeProblem(w, http.StatusBadRequest, "Missing vehicle", "vehicle with an id is required", r.URL.Path); return }
    last, err := s.Store.LatestRun(r.Context(), p.Tenant)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, http.StatusBadRequest, "No previous run", "No plan cached yet.", r.URL.Path); return }
    if err != nil { writeError(w, r, "Load latest plan failed", err); return }

    now := s.now()
    patch := last.Policies.Patch()
    req := model.RunRequest{
        TenantID: p.Tenant,
        Now:      &now,
        Jobs:     last.Jobs,
        Vehicles: append(append([]model.Vehicle{}, last.Vehicles...), *body.Vehicle),
        Garages:  last.Garages,
        Policies: &patch,
    }
    run, err := s.executeRun(r.Context(), p.Tenant, req)
    if err != nil { s.writeRunError(w, r, run, err); return }
    if err := s.Store.UpsertVehicles(r.Context(), p.Tenant, []model.Vehicle{*body.Vehicle}); err != nil {
        s.Log.Warn("store added vehicle", zap.String("vehicle", body.Vehicle.ID), zap.Error(err))
    }
    writeJSON(w, http.StatusOK, run.Result)
}

// PoliciesHandler handles GET /v1/policies
func (s *Server) PoliciesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireTenant(w, r, p) { return }
    eff, patch, err := s.tenantPolicies(r.Context(), p.Tenant)
    if err != nil { writeError(w, r, "Load policies failed", err); return }
    if patch == nil { patch = &model.PolicyPatch{} }
    writeJSON(w, http.StatusOK, map[string]any{"defaults": s.Config.BasePolicies(), "tenant": patch, "effective": eff})
}

// AdminPoliciesHandler handles GET/PUT /v1/admin/policies
func (s *Server) AdminPoliciesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !requireAdmin(w, r, p) { return }
    switch r.Method {
    case http.MethodGet:
        patch, err := s.Store.GetPolicies(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "Load policies failed", err); return }
        if patch == nil { patch = &model.PolicyPatch{} }
        writeJSON(w, http.StatusOK, patch)
    case http.MethodPut:
        var patch model.PolicyPatch
        if err := decodeJSON(r, &patch); err != nil { writeError(w, r, "Invalid JSON", err); return }
        if err := validatePolicyPatch(patch); err != nil { writeError(w, r, "Invalid policies", err); return }
        if err := s.Store.SavePolicies(r.Context(), p.Tenant, patch); err != nil { writeError(w, r, "Save policies failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"tenant": patch, "effective": patch.Apply(s.Config.BasePolicies())})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
