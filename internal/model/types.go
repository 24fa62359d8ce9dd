package model

import (
    "math"
    "time"
)

// Core dispatch types shared by the optimizer, store and API.

type Coordinate struct {
    Lat float64 `json:"lat" yaml:"lat"`
    Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether the coordinate lies within WGS84 degree ranges.
func (c Coordinate) Valid() bool {
    return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 && !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}

type VehicleType string

const (
    VanOnly       VehicleType = "van_only"
    VanTow        VehicleType = "van_tow"
    SmallRamp     VehicleType = "small_ramp"
    HiabGrabber   VehicleType = "hiab_grabber"
    LorryRecovery VehicleType = "lorry_recovery"
    MotoRecovery  VehicleType = "moto_recovery"
    MotoRepair    VehicleType = "moto_repair"
)

// VehicleTypes lists the closed set of capability types.
var VehicleTypes = []VehicleType{VanOnly, VanTow, SmallRamp, HiabGrabber, LorryRecovery, MotoRecovery, MotoRepair}

func (t VehicleType) Known() bool {
    for _, v := range VehicleTypes {
        if v == t { return true }
    }
    return false
}

type IssueType string

const (
    IssueRepair                 IssueType = "repair"
    IssueRepairPossibleRecovery IssueType = "repair_possible_recovery"
    IssueRecoveryOnly           IssueType = "recovery_only"
)

func (t IssueType) Known() bool {
    return t == IssueRepair || t == IssueRepairPossibleRecovery || t == IssueRecoveryOnly
}

type Vehicle struct {
    ID            string      `json:"id"`
    Type          VehicleType `json:"type"`
    Location      Coordinate  `json:"location"`
    ShiftStart    *time.Time  `json:"shiftStart,omitempty"`
    ShiftEnd      time.Time   `json:"shiftEnd"`
    AllowOvertime bool        `json:"allowOvertime,omitempty"`
    Capabilities  []string    `json:"capabilities,omitempty"`
}

type Job struct {
    ID                   string      `json:"id"`
    Pickup               Coordinate  `json:"pickup"`
    PickupAddress        string      `json:"pickupAddress,omitempty"`
    IssueType            IssueType   `json:"issueType"`
    VehicleSize          string      `json:"vehicleSize,omitempty"`
    PreferredDropPlaceID string      `json:"preferredDropPlaceId,omitempty"`
    SecondaryDropPlaceID string      `json:"secondaryDropPlaceId,omitempty"`
    HomeFallback         Coordinate  `json:"homeFallback"`
    HomeAddress          string      `json:"homeAddress,omitempty"`
    Priority             int         `json:"priority,omitempty"`
}

// OpeningHours is one weekly entry; Day is 0=Sunday..6=Saturday, times are "HH:MM".
type OpeningHours struct {
    Day   int    `json:"day" yaml:"day"`
    Open  string `json:"open" yaml:"open"`
    Close string `json:"close" yaml:"close"`
}

type Garage struct {
    PlaceID                        string         `json:"placeId"`
    Name                           string         `json:"name,omitempty"`
    Coords                         *Coordinate    `json:"coords,omitempty"`
    OpeningHours                   []OpeningHours `json:"openingHours,omitempty"`
    IntakeCutoffMinutesBeforeClose *int           `json:"intakeCutoffMinutesBeforeClose,omitempty"`
}

// Policies is a fully resolved policy set.
type Policies struct {
    MaxLegMiles                    float64 `json:"maxLegMiles" yaml:"maxLegMiles"`
    NoNewJobLastMinutes            float64 `json:"noNewJobLastMinutes" yaml:"noNewJobLastMinutes"`
    MaxOvertimeMinutes             float64 `json:"maxOvertimeMinutes" yaml:"maxOvertimeMinutes"`
    ServiceMinutes                 float64 `json:"serviceMinutes" yaml:"serviceMinutes"`
    IntakeCutoffMinutesBeforeClose int     `json:"intakeCutoffMinutesBeforeClose" yaml:"intakeCutoffMinutesBeforeClose"`
    EnableMeetAndSwap              bool    `json:"enableMeetAndSwap" yaml:"enableMeetAndSwap"`
}

// DefaultPolicies returns the built-in policy values.
func DefaultPolicies() Policies {
    return Policies{
        MaxLegMiles:                    30,
        NoNewJobLastMinutes:            60,
        MaxOvertimeMinutes:             0,
        ServiceMinutes:                 10,
        IntakeCutoffMinutesBeforeClose: 30,
        EnableMeetAndSwap:              true,
    }
}

// PolicyPatch carries caller overrides; nil fields keep the base value.
type PolicyPatch struct {
    MaxLegMiles                    *float64 `json:"maxLegMiles,omitempty" yaml:"maxLegMiles,omitempty"`
    NoNewJobLastMinutes            *float64 `json:"noNewJobLastMinutes,omitempty" yaml:"noNewJobLastMinutes,omitempty"`
    MaxOvertimeMinutes             *float64 `json:"maxOvertimeMinutes,omitempty" yaml:"maxOvertimeMinutes,omitempty"`
    ServiceMinutes                 *float64 `json:"serviceMinutes,omitempty" yaml:"serviceMinutes,omitempty"`
    IntakeCutoffMinutesBeforeClose *int     `json:"intakeCutoffMinutesBeforeClose,omitempty" yaml:"intakeCutoffMinutesBeforeClose,omitempty"`
    EnableMeetAndSwap              *bool    `json:"enableMeetAndSwap,omitempty" yaml:"enableMeetAndSwap,omitempty"`
}

// Apply returns base with every non-nil field of p written over it.
func (p *PolicyPatch) Apply(base Policies) Policies {
    if p == nil { return base }
    if p.MaxLegMiles != nil { base.MaxLegMiles = *p.MaxLegMiles }
    if p.NoNewJobLastMinutes != nil { base.NoNewJobLastMinutes = *p.NoNewJobLastMinutes }
    if p.MaxOvertimeMinutes != nil { base.MaxOvertimeMinutes = *p.MaxOvertimeMinutes }
    if p.ServiceMinutes != nil { base.ServiceMinutes = *p.ServiceMinutes }
    if p.IntakeCutoffMinutesBeforeClose != nil { base.IntakeCutoffMinutesBeforeClose = *p.IntakeCutoffMinutesBeforeClose }
    if p.EnableMeetAndSwap != nil { base.EnableMeetAndSwap = *p.EnableMeetAndSwap }
    return base
}

// Patch returns a patch that pins every field of p.
func (p Policies) Patch() PolicyPatch {
    return PolicyPatch{
        MaxLegMiles:                    &p.MaxLegMiles,
        NoNewJobLastMinutes:            &p.NoNewJobLastMinutes,
        MaxOvertimeMinutes:             &p.MaxOvertimeMinutes,
        ServiceMinutes:                 &p.ServiceMinutes,
        IntakeCutoffMinutesBeforeClose: &p.IntakeCutoffMinutesBeforeClose,
        EnableMeetAndSwap:              &p.EnableMeetAndSwap,
    }
}

type RouteLeg struct {
    From       Coordinate `json:"from"`
    To         Coordinate `json:"to"`
    Miles      float64    `json:"miles"`
    ETAMinutes float64    `json:"etaMinutes"`
    VehicleID  string     `json:"vehicleId"`
    Note       string     `json:"note,omitempty"`
}

type DropDecision string

const (
    DropPreferred    DropDecision = "preferred"
    DropSecondary    DropDecision = "secondary"
    DropHomeFallback DropDecision = "home_fallback"
)

type Assignment struct {
    JobID           string       `json:"jobId"`
    Legs            []RouteLeg   `json:"legs"`
    DropDecision    DropDecision `json:"dropDecision"`
    WillExceedShift bool         `json:"willExceedShift"`
    Reason          string       `json:"reason"`
}

// TotalMinutes sums travel minutes across all legs.
func (a Assignment) TotalMinutes() float64 {
    t := 0.0
    for _, l := range a.Legs { t += l.ETAMinutes }
    return t
}

// RunRequest is the optimizer input for one run.
type RunRequest struct {
    TenantID string       `json:"tenantId,omitempty"`
    Now      *time.Time   `json:"now,omitempty"`
    Jobs     []Job        `json:"jobs"`
    Vehicles []Vehicle    `json:"vehicles"`
    Garages  []Garage     `json:"garages"`
    Policies *PolicyPatch `json:"policies,omitempty"`
}

type RunResult struct {
    RunID        string        `json:"runId,omitempty"`
    Assignments  []Assignment  `json:"assignments"`
    Unassigned   []string      `json:"unassigned"`
    // Skipped lists jobs never evaluated because the run was interrupted.
    Skipped      []string      `json:"skipped,omitempty"`
    VehicleNeeds []VehicleNeed `json:"vehicleNeeds,omitempty"`
}

// Run is a persisted optimizer run: effective inputs plus the result.
type Run struct {
    ID        string      `json:"id"`
    TenantID  string      `json:"tenantId"`
    Now       time.Time   `json:"now"`
    Jobs      []Job       `json:"jobs"`
    Vehicles  []Vehicle   `json:"vehicles"`
    Garages   []Garage    `json:"garages"`
    Policies  Policies    `json:"policies"`
    Result    RunResult   `json:"result"`
    CreatedAt time.Time   `json:"createdAt"`
}

// VehicleNeed is the shortage signal for one unassigned job.
type VehicleNeed struct {
    JobID         string      `json:"jobId"`
    SuggestedType VehicleType `json:"suggestedType"`
    Pickup        Coordinate  `json:"pickup"`
    IssueType     IssueType   `json:"issueType"`
}

// VehicleRequest is a recorded ask for extra fleet capacity.
type VehicleRequest struct {
    ID            string     `json:"id"`
    TenantID      string     `json:"tenantId"`
    JobID         string     `json:"jobId"`
    Coords        Coordinate `json:"coords"`
    Reason        string     `json:"reason"`
    SuggestedType string     `json:"suggestedType"`
    PostcodeArea  string     `json:"postcodeArea,omitempty"`
    OverdueRisk   bool       `json:"overdueRisk"`
    CreatedAt     time.Time  `json:"createdAt"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
