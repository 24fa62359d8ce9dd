package opt

import "recoverydispatch/internal/model"

var recoveryCapable = map[model.VehicleType]bool{
	model.VanTow:        true,
	model.SmallRamp:     true,
	model.HiabGrabber:   true,
	model.LorryRecovery: true,
}

// CanRecover reports whether a vehicle type can move a broken-down vehicle.
func CanRecover(t model.VehicleType) bool { return recoveryCapable[t] }

// NeedsRecovery is true for every issue type except plain repair.
func NeedsRecovery(issue model.IssueType) bool { return issue != model.IssueRepair }

// Eligible filters vehicles by the job's recovery requirement, keeping input order.
func Eligible(issue model.IssueType, vehicles []model.Vehicle) []model.Vehicle {
	if !NeedsRecovery(issue) {
		return append([]model.Vehicle(nil), vehicles...)
	}
	out := make([]model.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if CanRecover(v.Type) {
			out = append(out, v)
		}
	}
	return out
}
