package opt

import (
	"time"

	"recoverydispatch/internal/model"
)

// MinutesLeft is the (possibly negative) time until shift end.
func MinutesLeft(v model.Vehicle, now time.Time) float64 {
	return v.ShiftEnd.Sub(now).Minutes()
}

// AcceptsNewJob gates a vehicle before any routing. Vehicles inside the
// no-new-job window are skipped unless they may work overtime.
func AcceptsNewJob(v model.Vehicle, now time.Time, p model.Policies) bool {
	return !(MinutesLeft(v, now) <= p.NoNewJobLastMinutes && !v.AllowOvertime)
}

// WillExceedShift reports whether finishing two legs plus on-site service
// runs past shift end plus permitted overtime. It is advisory only.
func WillExceedShift(v model.Vehicle, now time.Time, firstLegMinutes, secondLegMinutes float64, p model.Policies) bool {
	total := firstLegMinutes + p.ServiceMinutes + secondLegMinutes
	done := now.Add(minutesDuration(total))
	limit := v.ShiftEnd.Add(minutesDuration(p.MaxOvertimeMinutes))
	return done.After(limit)
}

func minutesDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
