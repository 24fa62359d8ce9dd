package opt

import "recoverydispatch/internal/model"

// SuggestVehicleType picks the vehicle type to request for an unassigned job.
func SuggestVehicleType(issue model.IssueType) model.VehicleType {
	switch issue {
	case model.IssueRecoveryOnly:
		return model.HiabGrabber
	case model.IssueRepairPossibleRecovery:
		return model.VanTow
	default:
		return model.VanOnly
	}
}

// VehicleNeeds builds one shortage entry per unassigned job id, in the order
// given. Ids with no matching job are ignored.
func VehicleNeeds(jobs []model.Job, unassigned []string) []model.VehicleNeed {
	byID := make(map[string]model.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	out := make([]model.VehicleNeed, 0, len(unassigned))
	for _, id := range unassigned {
		j, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, model.VehicleNeed{
			JobID:         j.ID,
			SuggestedType: SuggestVehicleType(j.IssueType),
			Pickup:        j.Pickup,
			IssueType:     j.IssueType,
		})
	}
	return out
}
