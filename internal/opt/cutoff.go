package opt

import (
	"strconv"
	"strings"
	"time"

	"recoverydispatch/internal/model"
)

// Cutoff returns the last instant a garage accepts a new drop on the day of
// now. Opening hours are read in now's location. When there is no entry for
// that weekday, or the close time is unreadable, the result is 1ms before now
// so that callers always see the intake as missed. Close times are same-day only.
func Cutoff(now time.Time, hours []model.OpeningHours, cutoffMinutes int) time.Time {
	missed := now.Add(-time.Millisecond)
	dow := int(now.Weekday())
	for _, h := range hours {
		if h.Day != dow {
			continue
		}
		hh, mm, ok := parseHHMM(h.Close)
		if !ok {
			return missed
		}
		y, m, d := now.Date()
		closeAt := time.Date(y, m, d, hh, mm, 0, 0, now.Location())
		return closeAt.Add(-time.Duration(cutoffMinutes) * time.Minute)
	}
	return missed
}

// IntakeOpen reports whether g can still take a drop at now. The garage's own
// cutoff override wins over defaultCutoff.
func IntakeOpen(now time.Time, g model.Garage, defaultCutoff int) bool {
	mins := defaultCutoff
	if g.IntakeCutoffMinutesBeforeClose != nil {
		mins = *g.IntakeCutoffMinutesBeforeClose
	}
	return !now.After(Cutoff(now, g.OpeningHours, mins))
}

func parseHHMM(s string) (h, m int, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(a)
	m, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
