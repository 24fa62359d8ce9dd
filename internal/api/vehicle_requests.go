package api

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "regexp"
    "strings"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "recoverydispatch/internal/eta"
    "recoverydispatch/internal/integrations"
    "recoverydispatch/internal/model"
    "recoverydispatch/internal/webhooks"
)

var (
    hiabPattern = regexp.MustCompile(`(?i)hiab`)
    towPattern  = regexp.MustCompile(`(?i)tow|recovery`)
)

// inferRequestType turns a free-text reason and an optional vehicle hint
// into the label shown to whoever hires extra vehicles.
func inferRequestType(reason, hint string) string {
    switch {
    case hiabPattern.MatchString(reason) || model.VehicleType(hint) == model.HiabGrabber:
        return "HIAB"
    case towPattern.MatchString(reason):
        return "Tow Van"
    default:
        return "Van"
    }
}

func requestTypeLabel(t model.VehicleType) string {
    switch t {
    case model.HiabGrabber:
        return "HIAB"
    case model.VanTow:
        return "Tow Van"
    default:
        return "Van"
    }
}

// postcodeArea returns the outward prefix of the postcode at c, or "Unknown"
// when it cannot be looked up.
func (s *Server) postcodeArea(ctx context.Context, c model.Coordinate) string {
    if s.Postcodes == nil { return "Unknown" }
    pc, err := s.Postcodes.Postcode(ctx, c)
    if errors.Is(err, integrations.ErrNoResult) { return "" }
    if err != nil {
        s.Log.Debug("postcode lookup failed", zap.Error(err))
        return "Unknown"
    }
    pc = strings.ToUpper(strings.TrimSpace(pc))
    if len(pc) > 3 { pc = pc[:3] }
    return pc
}

// shortageSummary renders "<n> vehicle(s) needed: <type> in <area>[ (shift risk)]; ...".
func shortageSummary(reqs []model.VehicleRequest) string {
    parts := make([]string, 0, len(reqs))
    for _, r := range reqs {
        p := fmt.Sprintf("%s in %s", r.SuggestedType, r.PostcodeArea)
        if r.OverdueRisk { p += " (shift risk)" }
        parts = append(parts, p)
    }
    return fmt.Sprintf("%d vehicle(s) needed: %s", len(reqs), strings.Join(parts, "; "))
}

// recordVehicleRequests stores reqs and announces them to webhook
// subscribers and the notifier.
func (s *Server) recordVehicleRequests(ctx context.Context, tenant string, reqs []model.VehicleRequest) error {
    if err := s.Store.AddVehicleRequests(ctx, reqs); err != nil { return fmt.Errorf("save vehicle requests: %w", err) }
    summary := shortageSummary(reqs)
    s.Log.Info("vehicle shortage", zap.String("tenant", tenant), zap.Int("count", len(reqs)), zap.String("summary", summary))
    data := map[string]any{"summary": summary, "requests": reqs}
    s.Pub.Emit(ctx, tenant, webhooks.EventVehicleShortage, data)
    key := reqs[0].JobID
    if err := s.Notifier.Publish(ctx, tenant, webhooks.EventVehicleShortage, key, data); err != nil {
        s.Log.Warn("notify vehicle shortage", zap.Error(err))
    }
    return nil
}

// VehicleRequestsHandler handles GET/POST /v1/vehicle-requests
func (s *Server) VehicleRequestsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        if !requireTenant(w, r, p) { return }
        items, next, err := s.Store.ListVehicleRequests(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r, 100))
        if err != nil { writeError(w, r, "List vehicle requests failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    case http.MethodPost:
        if !requireDispatcher(w, r, p) { return }
        var body struct {
            JobID       string            `json:"jobId"`
            Coords      *model.Coordinate `json:"coords"`
            Reason      string            `json:"reason"`
            VehicleHint string            `json:"vehicleHint"`
            ShiftRisk   bool              `json:"shiftRisk"`
        }
        if err := decodeJSON(r, &body); err != nil { writeError(w, r, "Invalid JSON", err); return }
        if body.Coords == nil || !body.Coords.Valid() { writeProblem(w, http.StatusBadRequest, "Invalid vehicle request", "coords required", r.URL.Path); return }
        req := model.VehicleRequest{
            ID:            uuid.NewString(),
            TenantID:      p.Tenant,
            JobID:         body.JobID,
            Coords:        *body.Coords,
            Reason:        body.Reason,
            SuggestedType: inferRequestType(body.Reason, body.VehicleHint),
            PostcodeArea:  s.postcodeArea(r.Context(), *body.Coords),
            OverdueRisk:   body.ShiftRisk,
            CreatedAt:     s.now().UTC(),
        }
        reqs := []model.VehicleRequest{req}
        if err := s.recordVehicleRequests(r.Context(), p.Tenant, reqs); err != nil { writeError(w, r, "Record vehicle request failed", err); return }
        writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "request": req, "summary": shortageSummary(reqs)})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// ETAMatrixHandler handles POST /v1/eta/matrix
func (s *Server) ETAMatrixHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireTenant(w, r, p) { return }
    var body struct {
        Origins      []model.Coordinate `json:"origins"`
        Destinations []model.Coordinate `json:"destinations"`
    }
    if err := decodeJSON(r, &body); err != nil { writeError(w, r, "Invalid JSON", err); return }
    if len(body.Origins) == 0 || len(body.Destinations) == 0 {
        writeProblem(w, http.StatusBadRequest, "Missing coordinates", "origins and destinations are required", r.URL.Path)
        return
    }
    for _, c := range append(append([]model.Coordinate{}, body.Origins...), body.Destinations...) {
        if !c.Valid() { writeProblem(w, http.StatusBadRequest, "Invalid coordinate", "coordinate out of range", r.URL.Path); return }
    }
    m, err := s.ETA.Matrix(r.Context(), body.Origins, body.Destinations)
    if err != nil {
        s.Log.Warn("eta matrix failed", zap.Error(err))
        writeError(w, r, "Travel time lookup failed", fmt.Errorf("%w: %v", eta.ErrUnavailable, err))
        return
    }
    writeJSON(w, http.StatusOK, m)
}
