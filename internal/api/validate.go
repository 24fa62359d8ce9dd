package api

import (
	"fmt"

	"recoverydispatch/internal/model"
)

// validateRunRequest rejects values the optimizer would otherwise
// silently mis-handle. Coordinate and id checks happen in opt.Validate.
func validateRunRequest(req *model.RunRequest) error {
	for i, j := range req.Jobs {
		if !j.IssueType.Known() {
			return badRequest("jobs[%d].issueType: unknown issue type %q", i, j.IssueType)
		}
	}
	for i, v := range req.Vehicles {
		if !v.Type.Known() {
			return badRequest("vehicles[%d].type: unknown vehicle type %q", i, v.Type)
		}
		if v.ShiftStart != nil && !v.ShiftEnd.IsZero() && v.ShiftEnd.Before(*v.ShiftStart) {
			return badRequest("vehicles[%d].shiftEnd: before shiftStart", i)
		}
	}
	for i, g := range req.Garages {
		if g.PlaceID == "" {
			return badRequest("garages[%d].placeId: required", i)
		}
		if err := validateHours(g.OpeningHours); err != nil {
			return badRequest("garages[%d].openingHours: %v", i, err)
		}
	}
	if req.Policies != nil {
		if err := validatePolicyPatch(*req.Policies); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicyPatch(p model.PolicyPatch) error {
	if p.MaxLegMiles != nil && *p.MaxLegMiles <= 0 {
		return badRequest("policies.maxLegMiles must be > 0")
	}
	nonNeg := map[string]*float64{
		"noNewJobLastMinutes": p.NoNewJobLastMinutes,
		"maxOvertimeMinutes":  p.MaxOvertimeMinutes,
		"serviceMinutes":      p.ServiceMinutes,
	}
	for k, v := range nonNeg {
		if v != nil && *v < 0 {
			return badRequest("policies.%s must be >= 0", k)
		}
	}
	if p.IntakeCutoffMinutesBeforeClose != nil && *p.IntakeCutoffMinutesBeforeClose < 0 {
		return badRequest("policies.intakeCutoffMinutesBeforeClose must be >= 0")
	}
	return nil
}

func validateHours(hours []model.OpeningHours) error {
	for _, h := range hours {
		if h.Day < 0 || h.Day > 6 {
			return fmt.Errorf("day %d out of range 0..6", h.Day)
		}
		if !isHHMM(h.Open) || !isHHMM(h.Close) {
			return fmt.Errorf("day %d: times must be HH:MM", h.Day)
		}
	}
	return nil
}

func isHHMM(s string) bool {
	var hh, mm int
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hh, &mm); err != nil {
		return false
	}
	return (hh >= 0 && hh < 24 && mm >= 0 && mm < 60) || (hh == 24 && mm == 0)
}
