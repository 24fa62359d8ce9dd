package opt

import (
	"errors"
	"fmt"
)

var (
	ErrNoJobs     = errors.New("at least one job is required")
	ErrNoVehicles = errors.New("at least one vehicle is required")
)

// ValidationError describes one malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks run-level inputs before any lookup is made.
func Validate(in Input) error {
	if len(in.Jobs) == 0 {
		return ErrNoJobs
	}
	if len(in.Vehicles) == 0 {
		return ErrNoVehicles
	}
	if in.Now.IsZero() {
		return invalid("now", "must be set")
	}
	if in.Policies.MaxLegMiles <= 0 {
		return invalid("policies.maxLegMiles", "must be > 0")
	}
	if in.Policies.ServiceMinutes < 0 || in.Policies.MaxOvertimeMinutes < 0 || in.Policies.IntakeCutoffMinutesBeforeClose < 0 {
		return invalid("policies", "durations must be >= 0")
	}

	seenJobs := make(map[string]struct{}, len(in.Jobs))
	for i, j := range in.Jobs {
		if j.ID == "" {
			return invalid(fmt.Sprintf("jobs[%d].id", i), "required")
		}
		if _, dup := seenJobs[j.ID]; dup {
			return invalid(fmt.Sprintf("jobs[%d].id", i), "duplicate id %q", j.ID)
		}
		seenJobs[j.ID] = struct{}{}
		if !j.IssueType.Known() {
			return invalid(fmt.Sprintf("jobs[%d].issueType", i), "unknown issue type %q", j.IssueType)
		}
		if !j.Pickup.Valid() {
			return invalid(fmt.Sprintf("jobs[%d].pickup", i), "coordinate out of range")
		}
		if !j.HomeFallback.Valid() {
			return invalid(fmt.Sprintf("jobs[%d].homeFallback", i), "coordinate out of range")
		}
	}

	seenVehicles := make(map[string]struct{}, len(in.Vehicles))
	for i, v := range in.Vehicles {
		if v.ID == "" {
			return invalid(fmt.Sprintf("vehicles[%d].id", i), "required")
		}
		if _, dup := seenVehicles[v.ID]; dup {
			return invalid(fmt.Sprintf("vehicles[%d].id", i), "duplicate id %q", v.ID)
		}
		seenVehicles[v.ID] = struct{}{}
		if !v.Type.Known() {
			return invalid(fmt.Sprintf("vehicles[%d].type", i), "unknown vehicle type %q", v.Type)
		}
		if !v.Location.Valid() {
			return invalid(fmt.Sprintf("vehicles[%d].location", i), "coordinate out of range")
		}
		if v.ShiftEnd.IsZero() {
			return invalid(fmt.Sprintf("vehicles[%d].shiftEnd", i), "required")
		}
	}

	for i, g := range in.Garages {
		if g.Coords != nil && !g.Coords.Valid() {
			return invalid(fmt.Sprintf("garages[%d].coords", i), "coordinate out of range")
		}
	}
	return nil
}
