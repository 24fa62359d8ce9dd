package api

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "recoverydispatch/internal/auth"
    "recoverydispatch/internal/config"
    "recoverydispatch/internal/eta"
    "recoverydispatch/internal/integrations"
    "recoverydispatch/internal/model"
    "recoverydispatch/internal/store"
)

// Monday 10:00 UTC.
var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    return newTestServerWith(t, config.Defaults(), eta.NewHaversine())
}

func newTestServerWith(t *testing.T, cfg config.Config, p eta.Provider) *Server {
    t.Helper()
    s := NewServer(cfg, store.NewMemory(), p, nil)
    s.Now = func() time.Time { return testNow }
    return s
}

func do(t *testing.T, h http.Handler, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    switch b := body.(type) {
    case nil:
        rd = bytes.NewReader(nil)
    case string:
        rd = bytes.NewReader([]byte(b))
    default:
        raw, err := json.Marshal(b)
        require.NoError(t, err)
        rd = bytes.NewReader(raw)
    }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Tenant-Id", "t_test")
    for i := 0; i+1 < len(hdr); i += 2 { req.Header.Set(hdr[i], hdr[i+1]) }
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
    t.Helper()
    var v T
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
    return v
}

func coord(lat, lng float64) model.Coordinate { return model.Coordinate{Lat: lat, Lng: lng} }

func fixtureRequest() model.RunRequest {
    garage := coord(51.52, -0.10)
    return model.RunRequest{
        Jobs: []model.Job{
            {ID: "j1", Pickup: coord(51.50, -0.10), IssueType: model.IssueRepair, PreferredDropPlaceID: "g1", HomeFallback: coord(51.45, -0.12)},
            {ID: "j2", Pickup: coord(51.49, -0.11), IssueType: model.IssueRecoveryOnly, HomeFallback: coord(51.46, -0.10)},
        },
        Vehicles: []model.Vehicle{
            {ID: "v1", Type: model.VanOnly, Location: coord(51.51, -0.10), ShiftEnd: testNow.Add(8 * time.Hour)},
        },
        Garages: []model.Garage{
            {PlaceID: "g1", Coords: &garage, OpeningHours: []model.OpeningHours{{Day: 1, Open: "09:00", Close: "17:00"}}},
        },
    }
}

func TestHealthReady(t *testing.T) {
    h := newTestServer(t).Routes()
    assert.Equal(t, 200, do(t, h, http.MethodGet, "/healthz", nil).Code)
    assert.Equal(t, 200, do(t, h, http.MethodGet, "/readyz", nil).Code)
}

func TestOptimizeInlineRequest(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()

    rr := do(t, h, http.MethodPost, "/v1/optimize", fixtureRequest())
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    res := decode[model.RunResult](t, rr)
    assert.NotEmpty(t, res.RunID)
    require.Len(t, res.Assignments, 1)
    assert.Equal(t, "j1", res.Assignments[0].JobID)
    assert.Equal(t, model.DropPreferred, res.Assignments[0].DropDecision)
    assert.Equal(t, []string{"j2"}, res.Unassigned)
    require.Len(t, res.VehicleNeeds, 1)
    assert.Equal(t, model.HiabGrabber, res.VehicleNeeds[0].SuggestedType)

    rr = do(t, h, http.MethodGet, "/v1/plan/latest", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    run := decode[model.Run](t, rr)
    assert.Equal(t, res.RunID, run.ID)
    assert.True(t, run.Now.Equal(testNow))
    assert.Equal(t, model.DefaultPolicies(), run.Policies)

    rr = do(t, h, http.MethodGet, "/v1/runs?limit=5", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    runs := decode[struct{ Items []model.Run }](t, rr)
    assert.Len(t, runs.Items, 1)

    // the unassigned job was recorded as a vehicle request
    rr = do(t, h, http.MethodGet, "/v1/vehicle-requests", nil)
    reqs := decode[struct{ Items []model.VehicleRequest }](t, rr)
    require.Len(t, reqs.Items, 1)
    assert.Equal(t, "j2", reqs.Items[0].JobID)
    assert.Equal(t, "HIAB", reqs.Items[0].SuggestedType)
    assert.Equal(t, "Unknown", reqs.Items[0].PostcodeArea)
}

func TestLatestPlanNotFound(t *testing.T) {
    rr := do(t, newTestServer(t).Routes(), http.MethodGet, "/v1/plan/latest", nil)
    assert.Equal(t, http.StatusNotFound, rr.Code)
    assert.Equal(t, "No plan cached yet.", decode[Problem](t, rr).Detail)
}

func TestOptimizeUsesStoredInputs(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    fx := fixtureRequest()

    rr := do(t, h, http.MethodPost, "/v1/optimize", map[string]any{})
    assert.Equal(t, http.StatusBadRequest, rr.Code, "no stored jobs")

    require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/jobs", map[string]any{"jobs": fx.Jobs[:1]}).Code)
    require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/vehicles", map[string]any{"vehicles": fx.Vehicles}).Code)
    require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/garages", map[string]any{"garages": fx.Garages}).Code)

    rr = do(t, h, http.MethodPost, "/v1/optimize", map[string]any{})
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    res := decode[model.RunResult](t, rr)
    require.Len(t, res.Assignments, 1)
    assert.Empty(t, res.Unassigned)
}

func TestOptimizeMergesTenantAndRequestPolicies(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()

    rr := do(t, h, http.MethodPut, "/v1/admin/policies", map[string]any{"maxLegMiles": 12.5, "serviceMinutes": 5})
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

    req := fixtureRequest()
    svc := 20.0
    req.Policies = &model.PolicyPatch{ServiceMinutes: &svc}
    require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/optimize", req).Code)

    run := decode[model.Run](t, do(t, h, http.MethodGet, "/v1/plan/latest", nil))
    assert.Equal(t, 12.5, run.Policies.MaxLegMiles)
    assert.Equal(t, 20.0, run.Policies.ServiceMinutes)
    assert.Equal(t, 60.0, run.Policies.NoNewJobLastMinutes)

    pol := decode[struct {
        Effective model.Policies `json:"effective"`
    }](t, do(t, h, http.MethodGet, "/v1/policies", nil))
    assert.Equal(t, 12.5, pol.Effective.MaxLegMiles)
    assert.Equal(t, 5.0, pol.Effective.ServiceMinutes)

    rr = do(t, h, http.MethodPut, "/v1/admin/policies", map[string]any{"maxLegMiles": -1})
    assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOptimizeValidation(t *testing.T) {
    h := newTestServer(t).Routes()

    req := fixtureRequest()
    req.Vehicles[0].Type = "spaceship"
    rr := do(t, h, http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    assert.Contains(t, decode[Problem](t, rr).Detail, "vehicles[0].type")

    req = fixtureRequest()
    req.Jobs[0].Pickup = coord(123, 0)
    rr = do(t, h, http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    assert.Contains(t, decode[Problem](t, rr).Detail, "jobs[0].pickup")

    req = fixtureRequest()
    req.Vehicles = []model.Vehicle{}
    rr = do(t, h, http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    rr = do(t, h, http.MethodPost, "/v1/optimize", "{not json")
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    rr = do(t, h, http.MethodGet, "/v1/optimize", nil)
    assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type downProvider struct{}

func (downProvider) Matrix(context.Context, []model.Coordinate, []model.Coordinate) (eta.Matrix, error) {
    return eta.Matrix{}, errors.New("connection refused")
}

func TestOptimizeSystemicETAFailure(t *testing.T) {
    s := newTestServerWith(t, config.Defaults(), downProvider{})
    h := s.Routes()
    rr := do(t, h, http.MethodPost, "/v1/optimize", fixtureRequest())
    require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())
    body := decode[runProblem](t, rr)
    require.NotNil(t, body.Result)
    assert.ElementsMatch(t, []string{"j1", "j2"}, body.Result.Unassigned)

    // a failed run is not cached
    assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/plan/latest", nil).Code)
}

func TestRoleChecks(t *testing.T) {
    h := newTestServer(t).Routes()
    rr := do(t, h, http.MethodPost, "/v1/optimize", fixtureRequest(), "X-Role", "viewer")
    assert.Equal(t, http.StatusForbidden, rr.Code)
    rr = do(t, h, http.MethodGet, "/v1/plan/latest", nil, "X-Role", "viewer")
    assert.Equal(t, http.StatusNotFound, rr.Code)
    rr = do(t, h, http.MethodPut, "/v1/admin/policies", map[string]any{}, "X-Role", "dispatcher")
    assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHMACModeRequiresToken(t *testing.T) {
    cfg := config.Defaults()
    cfg.Auth.Mode = "hmac"
    cfg.Auth.HMACSecret = "s3cret"
    s := newTestServerWith(t, cfg, eta.NewHaversine())
    h := s.Routes()

    assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/jobs", nil).Code)
    assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/jobs", nil, "Authorization", "Bearer junk").Code)

    tok, err := s.Auth.Sign(auth.Principal{Tenant: "t_test", Role: "dispatcher"}, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
    require.NoError(t, err)
    assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/jobs", nil, "Authorization", "Bearer "+tok).Code)
}

func TestJobsCRUD(t *testing.T) {
    h := newTestServer(t).Routes()
    fx := fixtureRequest()

    rr := do(t, h, http.MethodPost, "/v1/jobs", map[string]any{"jobs": fx.Jobs})
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

    list := decode[struct{ Items []model.Job }](t, do(t, h, http.MethodGet, "/v1/jobs", nil))
    assert.Len(t, list.Items, 2)

    assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/jobs/j1", nil).Code)
    assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/jobs/j1", nil).Code)

    list = decode[struct{ Items []model.Job }](t, do(t, h, http.MethodGet, "/v1/jobs", nil))
    require.Len(t, list.Items, 1)
    assert.Equal(t, "j2", list.Items[0].ID)

    assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/jobs", map[string]any{"jobs": []any{}}).Code)
}

type fakeGeocoder map[string]model.Coordinate

func (f fakeGeocoder) Geocode(_ context.Context, address string) (model.Coordinate, error) {
    if c, ok := f[address]; ok { return c, nil }
    return model.Coordinate{}, integrations.ErrNoResult
}

func TestJobGeocoding(t *testing.T) {
    s := newTestServer(t)
    s.Geocoder = fakeGeocoder{"10 Downing St": coord(51.5034, -0.1276), "Home": coord(51.4, -0.2)}
    h := s.Routes()

    rr := do(t, h, http.MethodPost, "/v1/jobs", map[string]any{"jobs": []map[string]any{
        {"id": "g1", "pickupAddress": "10 Downing St", "homeAddress": "Home", "issueType": "repair"},
    }})
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
    list := decode[struct{ Items []model.Job }](t, rr)
    assert.Equal(t, coord(51.5034, -0.1276), list.Items[0].Pickup)
    assert.Equal(t, coord(51.4, -0.2), list.Items[0].HomeFallback)

    rr = do(t, h, http.MethodPost, "/v1/jobs", map[string]any{"jobs": []map[string]any{
        {"id": "g2", "pickupAddress": "Nowhere", "homeAddress": "Home", "issueType": "repair"},
    }})
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    assert.Contains(t, decode[Problem](t, rr).Detail, "pickupAddress")
}

func TestAddAndRerun(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    hiab := model.Vehicle{ID: "v2", Type: model.HiabGrabber, Location: coord(51.48, -0.11), ShiftEnd: testNow.Add(6 * time.Hour)}

    rr := do(t, h, http.MethodPost, "/v1/vehicles/add-and-rerun", map[string]any{"vehicle": hiab})
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/optimize", fixtureRequest()).Code)
    assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/vehicles/add-and-rerun", map[string]any{}).Code)

    rr = do(t, h, http.MethodPost, "/v1/vehicles/add-and-rerun", map[string]any{"vehicle": hiab})
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    res := decode[model.RunResult](t, rr)
    assert.Len(t, res.Assignments, 2)
    assert.Empty(t, res.Unassigned)

    stored := decode[struct{ Items []model.Vehicle }](t, do(t, h, http.MethodGet, "/v1/vehicles", nil))
    require.Len(t, stored.Items, 1)
    assert.Equal(t, "v2", stored.Items[0].ID)
}

type fakePostcodes struct{ pc string; err error }

func (f fakePostcodes) Postcode(context.Context, model.Coordinate) (string, error) { return f.pc, f.err }

func TestVehicleRequests(t *testing.T) {
    s := newTestServer(t)
    s.Postcodes = fakePostcodes{pc: "sw1a 1aa"}
    h := s.Routes()

    rr := do(t, h, http.MethodPost, "/v1/vehicle-requests", map[string]any{
        "jobId": "j7", "coords": coord(51.5, -0.14), "reason": "car in ditch", "vehicleHint": "hiab_grabber", "shiftRisk": true,
    })
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
    body := decode[struct {
        Request model.VehicleRequest `json:"request"`
        Summary string               `json:"summary"`
    }](t, rr)
    assert.Equal(t, "HIAB", body.Request.SuggestedType)
    assert.Equal(t, "SW1", body.Request.PostcodeArea)
    assert.Equal(t, "1 vehicle(s) needed: HIAB in SW1 (shift risk)", body.Summary)

    s.Postcodes = fakePostcodes{err: errors.New("quota")}
    rr = do(t, h, http.MethodPost, "/v1/vehicle-requests", map[string]any{"jobId": "j8", "coords": coord(51.5, -0.14), "reason": "needs a tow"})
    require.Equal(t, http.StatusCreated, rr.Code)
    body = decode[struct {
        Request model.VehicleRequest `json:"request"`
        Summary string               `json:"summary"`
    }](t, rr)
    assert.Equal(t, "Tow Van", body.Request.SuggestedType)
    assert.Equal(t, "1 vehicle(s) needed: Tow Van in Unknown", body.Summary)

    assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/vehicle-requests", map[string]any{"jobId": "x"}).Code)

    list := decode[struct{ Items []model.VehicleRequest }](t, do(t, h, http.MethodGet, "/v1/vehicle-requests", nil))
    assert.Len(t, list.Items, 2)
}

func TestInferRequestType(t *testing.T) {
    cases := []struct{ reason, hint, want string }{
        {"needs HIAB lift", "", "HIAB"},
        {"", "hiab_grabber", "HIAB"},
        {"Recovery to garage", "", "Tow Van"},
        {"tow please", "van_only", "Tow Van"},
        {"flat tyre", "", "Van"},
    }
    for _, c := range cases {
        assert.Equal(t, c.want, inferRequestType(c.reason, c.hint), c.reason)
    }
}

type fakePlaces map[string]integrations.PlaceDetails

func (f fakePlaces) PlaceDetails(_ context.Context, id string) (integrations.PlaceDetails, error) {
    if d, ok := f[id]; ok { return d, nil }
    return integrations.PlaceDetails{}, errors.New("not found upstream")
}

func TestGarageHoursSync(t *testing.T) {
    s := newTestServer(t)
    c := coord(51.6, -0.2)
    s.Places = fakePlaces{"p1": {PlaceID: "p1", Name: "Kwik Fit", Coords: &c, OpeningHours: []model.OpeningHours{{Day: 2, Open: "08:00", Close: "18:00"}}}}
    h := s.Routes()

    rr := do(t, h, http.MethodPost, "/v1/garages/hours-sync", map[string]any{"placeIds": []string{"p1", "p2"}})
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    body := decode[struct {
        Items  []model.Garage `json:"items"`
        Failed []string       `json:"failed"`
    }](t, rr)
    require.Len(t, body.Items, 2)
    assert.Equal(t, "Kwik Fit", body.Items[0].Name)
    assert.Equal(t, []model.OpeningHours{{Day: 2, Open: "08:00", Close: "18:00"}}, body.Items[0].OpeningHours)
    assert.Equal(t, integrations.DefaultHours(), body.Items[1].OpeningHours)
    require.NotNil(t, body.Items[1].IntakeCutoffMinutesBeforeClose)
    assert.Equal(t, 30, *body.Items[1].IntakeCutoffMinutesBeforeClose)
    assert.Equal(t, []string{"p2"}, body.Failed)

    stored := decode[struct{ Items []model.Garage }](t, do(t, h, http.MethodGet, "/v1/garages", nil))
    assert.Len(t, stored.Items, 2)
    assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/garages/p2", nil).Code)
}

func TestETAMatrix(t *testing.T) {
    h := newTestServer(t).Routes()
    rr := do(t, h, http.MethodPost, "/v1/eta/matrix", map[string]any{"origins": []model.Coordinate{}, "destinations": []model.Coordinate{coord(51, 0)}})
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    rr = do(t, h, http.MethodPost, "/v1/eta/matrix", map[string]any{
        "origins":      []model.Coordinate{coord(51, 0), coord(51.1, 0)},
        "destinations": []model.Coordinate{coord(51.2, 0)},
    })
    require.Equal(t, http.StatusOK, rr.Code)
    m := decode[eta.Matrix](t, rr)
    require.Len(t, m.Minutes, 2)
    require.Len(t, m.Minutes[0], 1)
    assert.Greater(t, m.Minutes[0][0], m.Minutes[1][0])
    assert.Greater(t, m.Miles[0][0], m.Miles[1][0])
}

func TestWebhookSubscriptionReceivesPlanCompleted(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()

    rr := do(t, h, http.MethodPost, "/v1/subscriptions", map[string]any{"url": "https://hooks.example.com/x", "events": []string{"plan.completed", "vehicle.shortage"}, "secret": "k"})
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
    assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/subscriptions", map[string]any{"url": "ftp://x", "events": []string{"plan.completed"}}).Code)
    assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/subscriptions", map[string]any{"url": "https://x.example", "events": []string{"route.updated"}}).Code)

    require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/optimize", fixtureRequest()).Code)

    rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    deliveries := decode[struct{ Items []map[string]any }](t, rr)
    types := []any{}
    for _, d := range deliveries.Items { types = append(types, d["eventType"]) }
    assert.ElementsMatch(t, []any{"plan.completed", "vehicle.shortage"}, types)

    subs := decode[struct{ Items []model.Subscription }](t, do(t, h, http.MethodGet, "/v1/subscriptions", nil))
    require.Len(t, subs.Items, 1)
    assert.Empty(t, subs.Items[0].Secret)
    assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/subscriptions/"+subs.Items[0].ID, nil).Code)

    dlq := do(t, h, http.MethodGet, "/v1/admin/webhook-dlq", nil)
    assert.Equal(t, http.StatusOK, dlq.Code)
}

func TestRateLimit(t *testing.T) {
    cfg := config.Defaults()
    cfg.RateRPS = 1
    cfg.RateBurst = 1
    h := newTestServerWith(t, cfg, eta.NewHaversine()).Routes()
    assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/jobs", nil).Code)
    rr := do(t, h, http.MethodGet, "/v1/jobs", nil)
    assert.Equal(t, http.StatusTooManyRequests, rr.Code)
    assert.Equal(t, "1", rr.Header().Get("Retry-After"))
    assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
    h := newTestServer(t).Routes()
    require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/optimize", fixtureRequest()).Code)
    rr := do(t, h, http.MethodGet, "/metrics", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Contains(t, rr.Body.String(), "optimizer_runs_total")
    assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestRouteLabel(t *testing.T) {
    assert.Equal(t, "/v1/jobs/:id", routeLabel("/v1/jobs/abc"))
    assert.Equal(t, "/v1/vehicles/add-and-rerun", routeLabel("/v1/vehicles/add-and-rerun"))
    assert.Equal(t, "/v1/admin/webhook-dlq/:id/requeue", routeLabel("/v1/admin/webhook-dlq/d1/requeue"))
    assert.Equal(t, "/v1/optimize", routeLabel("/v1/optimize"))
}

func TestPlanWebSocketStream(t *testing.T) {
    s := newTestServer(t)
    ts := httptest.NewServer(s.Routes())
    defer ts.Close()

    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t_test")
    conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/plan/ws", hdr)
    require.NoError(t, err)
    defer func() { _ = conn.Close() }()
    _ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

    require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
    var msg wsMessage
    require.NoError(t, conn.ReadJSON(&msg))
    require.Equal(t, "connection_ack", msg.Type)

    require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"events":["plan.completed"]}`)}))
    // the read loop handles messages in order, so the pong means the subscription exists
    require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
    require.NoError(t, conn.ReadJSON(&msg))
    require.Equal(t, "pong", msg.Type)

    raw, _ := json.Marshal(fixtureRequest())
    req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/optimize", bytes.NewReader(raw))
    req.Header.Set("X-Tenant-Id", "t_test")
    resp, err := http.DefaultClient.Do(req)
    require.NoError(t, err)
    _ = resp.Body.Close()
    require.Equal(t, http.StatusOK, resp.StatusCode)

    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "next", msg.Type)
    assert.Equal(t, "1", msg.ID)
    var payload struct {
        Data struct {
            PlanEvent SSEEvent `json:"planEvent"`
        } `json:"data"`
    }
    require.NoError(t, json.Unmarshal(msg.Payload, &payload))
    assert.Equal(t, EventPlanCompleted, payload.Data.PlanEvent.Type)
    assert.EqualValues(t, 1, payload.Data.PlanEvent.Data["assigned"])
}
