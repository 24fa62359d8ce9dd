package api

import (
    "context"
    "fmt"
    "net/http"
    "strings"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "recoverydispatch/internal/integrations"
    "recoverydispatch/internal/model"
)

// JobsHandler handles GET/POST /v1/jobs
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        if !requireTenant(w, r, p) { return }
        items, err := s.Store.ListJobs(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "List jobs failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    case http.MethodPost:
        if !requireDispatcher(w, r, p) { return }
        var req struct {
            Jobs []model.Job `json:"jobs"`
        }
        if err := decodeJSON(r, &req); err != nil { writeError(w, r, "Invalid JSON", err); return }
        if len(req.Jobs) == 0 { writeProblem(w, http.StatusBadRequest, "Missing jobs", "at least one job is required", r.URL.Path); return }
        for i := range req.Jobs {
            if err := s.prepareJob(r.Context(), &req.Jobs[i]); err != nil {
                writeError(w, r, fmt.Sprintf("Invalid job %d", i), err)
                return
            }
        }
        if err := s.Store.UpsertJobs(r.Context(), p.Tenant, req.Jobs); err != nil { writeError(w, r, "Save jobs failed", err); return }
        writeJSON(w, http.StatusCreated, map[string]any{"items": req.Jobs})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// prepareJob assigns an id, geocodes addresses without coordinates and
// checks the result.
func (s *Server) prepareJob(ctx context.Context, j *model.Job) error {
    if j.ID == "" { j.ID = uuid.NewString() }
    if j.IssueType == "" { j.IssueType = model.IssueRepair }
    if !j.IssueType.Known() { return badRequest("unknown issue type %q", j.IssueType) }
    var zero model.Coordinate
    if j.Pickup == zero {
        c, err := s.geocode(ctx, j.PickupAddress, "pickupAddress")
        if err != nil { return err }
        j.Pickup = c
    }
    if j.HomeFallback == zero {
        c, err := s.geocode(ctx, j.HomeAddress, "homeAddress")
        if err != nil { return err }
        j.HomeFallback = c
    }
    if !j.Pickup.Valid() { return badRequest("pickup: coordinate out of range") }
    if !j.HomeFallback.Valid() { return badRequest("homeFallback: coordinate out of range") }
    return nil
}

func (s *Server) geocode(ctx context.Context, address, field string) (model.Coordinate, error) {
    if strings.TrimSpace(address) == "" { return model.Coordinate{}, badRequest("%s or coordinates required", field) }
    if s.Geocoder == nil { return model.Coordinate{}, badRequest("%s: geocoding is not configured", field) }
    c, err := s.Geocoder.Geocode(ctx, address)
    if err != nil {
        s.Log.Warn("geocode failed", zap.String("field", field), zap.Error(err))
        return model.Coordinate{}, badRequest("%s: geocoding failed: %v", field, err)
    }
    return c, nil
}

// JobByIDHandler handles DELETE /v1/jobs/{id}
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
    s.deleteByID(w, r, "/v1/jobs/", s.Store.DeleteJob)
}

// VehiclesHandler handles GET/POST /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        if !requireTenant(w, r, p) { return }
        items, err := s.Store.ListVehicles(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "List vehicles failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    case http.MethodPost:
        if !requireDispatcher(w, r, p) { return }
        var req struct {
            Vehicles []model.Vehicle `json:"vehicles"`
        }
        if err := decodeJSON(r, &req); err != nil { writeError(w, r, "Invalid JSON", err); return }
        if len(req.Vehicles) == 0 { writeProblem(w, http.StatusBadRequest, "Missing vehicles", "at least one vehicle is required", r.URL.Path); return }
        for i, v := range req.Vehicles {
            if v.ID == "" { req.Vehicles[i].ID = uuid.NewString() }
            if !v.Type.Known() { writeProblem(w, http.StatusBadRequest, "Invalid vehicle", fmt.Sprintf("vehicles[%d].type: unknown vehicle type %q", i, v.Type), r.URL.Path); return }
            if !v.Location.Valid() { writeProblem(w, http.StatusBadRequest, "Invalid vehicle", fmt.Sprintf("vehicles[%d].location: coordinate out of range", i), r.URL.Path); return }
            if v.ShiftEnd.IsZero() { writeProblem(w, http.StatusBadRequest, "Invalid vehicle", fmt.Sprintf("vehicles[%d].shiftEnd: required", i), r.URL.Path); return }
        }
        if err := s.Store.UpsertVehicles(r.Context(), p.Tenant, req.Vehicles); err != nil { writeError(w, r, "Save vehicles failed", err); return }
        writeJSON(w, http.StatusCreated, map[string]any{"items": req.Vehicles})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// VehicleByIDHandler handles DELETE /v1/vehicles/{id}
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
    s.deleteByID(w, r, "/v1/vehicles/", s.Store.DeleteVehicle)
}

// GaragesHandler handles GET/POST /v1/garages
func (s *Server) GaragesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        if !requireTenant(w, r, p) { return }
        items, err := s.Store.ListGarages(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "List garages failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    case http.MethodPost:
        if !requireDispatcher(w, r, p) { return }
        var req struct {
            Garages []model.Garage `json:"garages"`
        }
        if err := decodeJSON(r, &req); err != nil { writeError(w, r, "Invalid JSON", err); return }
        if len(req.Garages) == 0 { writeProblem(w, http.StatusBadRequest, "Missing garages", "at least one garage is required", r.URL.Path); return }
        for i, g := range req.Garages {
            if g.PlaceID == "" { writeProblem(w, http.StatusBadRequest, "Invalid garage", fmt.Sprintf("garages[%d].placeId: required", i), r.URL.Path); return }
            if g.Coords != nil && !g.Coords.Valid() { writeProblem(w, http.StatusBadRequest, "Invalid garage", fmt.Sprintf("garages[%d].coords: coordinate out of range", i), r.URL.Path); return }
            if err := validateHours(g.OpeningHours); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid garage", fmt.Sprintf("garages[%d].openingHours: %v", i, err), r.URL.Path); return }
        }
        if err := s.Store.UpsertGarages(r.Context(), p.Tenant, req.Garages); err != nil { writeError(w, r, "Save garages failed", err); return }
        writeJSON(w, http.StatusCreated, map[string]any{"items": req.Garages})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// GarageByIDHandler handles DELETE /v1/garages/{placeId}
func (s *Server) GarageByIDHandler(w http.ResponseWriter, r *http.Request) {
    s.deleteByID(w, r, "/v1/garages/", s.Store.DeleteGarage)
}

// GarageHoursSyncHandler handles POST /v1/garages/hours-sync. Places that
// cannot be looked up are stored with default hours and reported as failed.
func (s *Server) GarageHoursSyncHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireDispatcher(w, r, p) { return }
    var req struct {
        PlaceIDs []string `json:"placeIds"`
    }
    if err := decodeJSON(r, &req); err != nil { writeError(w, r, "Invalid JSON", err); return }
    if len(req.PlaceIDs) == 0 { writeProblem(w, http.StatusBadRequest, "Missing placeIds", "at least one place id is required", r.URL.Path); return }

    existing, err := s.Store.ListGarages(r.Context(), p.Tenant)
    if err != nil { writeError(w, r, "List garages failed", err); return }
    known := map[string]model.Garage{}
    for _, g := range existing { known[g.PlaceID] = g }

    var src integrations.PlacesSource = unavailablePlaces{}
    if s.Places != nil { src = s.Places }
    synced := make([]model.Garage, 0, len(req.PlaceIDs))
    failed := []string{}
    for _, id := range req.PlaceIDs {
        g, err := integrations.SyncGarage(r.Context(), src, id)
        if err != nil {
            s.Log.Warn("place hours sync failed", zap.String("place", id), zap.Error(err))
            failed = append(failed, id)
        }
        if old, ok := known[id]; ok {
            if g.Name == "" { g.Name = old.Name }
            if g.Coords == nil { g.Coords = old.Coords }
        }
        synced = append(synced, g)
    }
    if err := s.Store.UpsertGarages(r.Context(), p.Tenant, synced); err != nil { writeError(w, r, "Save garages failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": synced, "failed": failed})
}

type unavailablePlaces struct{}

func (unavailablePlaces) PlaceDetails(context.Context, string) (integrations.PlaceDetails, error) {
    return integrations.PlaceDetails{}, fmt.Errorf("places lookup is not configured")
}

func (s *Server) deleteByID(w http.ResponseWriter, r *http.Request, prefix string, del func(ctx context.Context, tenantID, id string) error) {
    if !strings.HasPrefix(r.URL.Path, prefix) { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !requireDispatcher(w, r, p) { return }
    id := strings.TrimPrefix(r.URL.Path, prefix)
    if id == "" || strings.Contains(id, "/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if err := del(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Delete failed", err); return }
    w.WriteHeader(http.StatusNoContent)
}
