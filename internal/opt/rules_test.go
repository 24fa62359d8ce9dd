package opt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recoverydispatch/internal/model"
)

// 2024-01-01 is a Monday.
func monday(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

var weekdayHours = []model.OpeningHours{
	{Day: 1, Open: "09:00", Close: "17:00"},
	{Day: 2, Open: "09:00", Close: "17:00"},
}

func intPtr(v int) *int { return &v }

func TestCutoffBeforeClose(t *testing.T) {
	now := monday(16, 25)
	c := Cutoff(now, weekdayHours, 30)
	assert.Equal(t, monday(16, 30), c)
	assert.False(t, now.After(c))

	late := monday(16, 35)
	assert.True(t, late.After(Cutoff(late, weekdayHours, 30)))
}

func TestCutoffExactlyAtCutoffIsOpen(t *testing.T) {
	g := model.Garage{PlaceID: "g", OpeningHours: weekdayHours}
	assert.True(t, IntakeOpen(monday(16, 30), g, 30))
}

func TestCutoffClosedDay(t *testing.T) {
	sunday := time.Date(2024, 1, 7, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, sunday.Add(-time.Millisecond), Cutoff(sunday, weekdayHours, 30))
	assert.Equal(t, sunday.Add(-time.Millisecond), Cutoff(sunday, nil, 30))
}

func TestCutoffUnreadableCloseTime(t *testing.T) {
	now := monday(10, 0)
	hours := []model.OpeningHours{{Day: 1, Open: "09:00", Close: "late"}}
	assert.True(t, Cutoff(now, hours, 30).Before(now))
}

func TestCutoffUsesLocationOfNow(t *testing.T) {
	loc := time.FixedZone("BST", 3600)
	now := time.Date(2024, 1, 1, 16, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 1, 1, 16, 30, 0, 0, loc), Cutoff(now, weekdayHours, 30))
}

func TestIntakeOpenGarageOverride(t *testing.T) {
	g := model.Garage{PlaceID: "g", OpeningHours: weekdayHours, IntakeCutoffMinutesBeforeClose: intPtr(90)}
	assert.False(t, IntakeOpen(monday(16, 0), g, 30))
	assert.True(t, IntakeOpen(monday(15, 30), g, 30))
}

func TestSelectDropCascade(t *testing.T) {
	pref := model.Coordinate{Lat: 51.1, Lng: 0.1}
	sec := model.Coordinate{Lat: 51.2, Lng: 0.2}
	home := model.Coordinate{Lat: 51.3, Lng: 0.3}
	lateHours := []model.OpeningHours{{Day: 1, Open: "09:00", Close: "20:00"}}

	garages := GarageIndex([]model.Garage{
		{PlaceID: "pref", Coords: &pref, OpeningHours: weekdayHours},
		{PlaceID: "sec", Coords: &sec, OpeningHours: lateHours},
		{PlaceID: "nocoords", OpeningHours: lateHours},
	})
	job := model.Job{ID: "j", PreferredDropPlaceID: "pref", SecondaryDropPlaceID: "sec", HomeFallback: home}
	p := model.DefaultPolicies()

	cases := []struct {
		name string
		job  model.Job
		now  time.Time
		want DropChoice
	}{
		{"preferred open", job, monday(12, 0), DropChoice{pref, model.DropPreferred}},
		{"preferred past cutoff", job, monday(16, 45), DropChoice{sec, model.DropSecondary}},
		{"both past cutoff", job, monday(19, 45), DropChoice{home, model.DropHomeFallback}},
		{"preferred without coords", model.Job{ID: "j", PreferredDropPlaceID: "nocoords", SecondaryDropPlaceID: "sec", HomeFallback: home}, monday(12, 0), DropChoice{sec, model.DropSecondary}},
		{"unknown garage", model.Job{ID: "j", PreferredDropPlaceID: "missing", HomeFallback: home}, monday(12, 0), DropChoice{home, model.DropHomeFallback}},
		{"no references", model.Job{ID: "j", HomeFallback: home}, monday(12, 0), DropChoice{home, model.DropHomeFallback}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SelectDrop(tc.job, garages, tc.now, p))
		})
	}
}

func TestEligibleRecoveryExcludesVansAndMotorcycles(t *testing.T) {
	pool := []model.Vehicle{{ID: "a", Type: model.VanOnly}, {ID: "b", Type: model.MotoRepair}}
	assert.Empty(t, Eligible(model.IssueRecoveryOnly, pool))
	assert.Empty(t, Eligible(model.IssueRepairPossibleRecovery, pool))
	assert.Len(t, Eligible(model.IssueRepair, pool), 2)
}

func TestEligibleKeepsOrder(t *testing.T) {
	pool := []model.Vehicle{
		{ID: "1", Type: model.LorryRecovery},
		{ID: "2", Type: model.VanOnly},
		{ID: "3", Type: model.VanTow},
		{ID: "4", Type: model.MotoRecovery},
		{ID: "5", Type: model.SmallRamp},
		{ID: "6", Type: model.HiabGrabber},
	}
	got := Eligible(model.IssueRecoveryOnly, pool)
	ids := make([]string, len(got))
	for i, v := range got {
		ids[i] = v.ID
	}
	assert.Equal(t, []string{"1", "3", "5", "6"}, ids)
}

func TestAcceptsNewJob(t *testing.T) {
	now := monday(12, 0)
	p := model.DefaultPolicies()
	v := model.Vehicle{ID: "v", ShiftEnd: now.Add(45 * time.Minute)}
	assert.False(t, AcceptsNewJob(v, now, p))

	v.AllowOvertime = true
	assert.True(t, AcceptsNewJob(v, now, p))

	v = model.Vehicle{ID: "v", ShiftEnd: now.Add(60 * time.Minute)}
	assert.False(t, AcceptsNewJob(v, now, p), "exactly at the window is excluded")

	v.ShiftEnd = now.Add(61 * time.Minute)
	assert.True(t, AcceptsNewJob(v, now, p))
}

func TestWillExceedShift(t *testing.T) {
	now := monday(12, 0)
	p := model.DefaultPolicies()
	v := model.Vehicle{ID: "v", ShiftEnd: now.Add(100 * time.Minute)}

	assert.False(t, WillExceedShift(v, now, 40, 50, p))
	assert.True(t, WillExceedShift(v, now, 45, 50, p))

	p.MaxOvertimeMinutes = 10
	assert.False(t, WillExceedShift(v, now, 45, 50, p))
}

func TestSuggestVehicleType(t *testing.T) {
	assert.Equal(t, model.HiabGrabber, SuggestVehicleType(model.IssueRecoveryOnly))
	assert.Equal(t, model.VanTow, SuggestVehicleType(model.IssueRepairPossibleRecovery))
	assert.Equal(t, model.VanOnly, SuggestVehicleType(model.IssueRepair))
}

func TestVehicleNeeds(t *testing.T) {
	jobs := []model.Job{
		{ID: "a", IssueType: model.IssueRecoveryOnly, Pickup: model.Coordinate{Lat: 1, Lng: 2}},
		{ID: "b", IssueType: model.IssueRepair, Pickup: model.Coordinate{Lat: 3, Lng: 4}},
	}
	needs := VehicleNeeds(jobs, []string{"b", "a", "zzz"})
	assert.Equal(t, []model.VehicleNeed{
		{JobID: "b", SuggestedType: model.VanOnly, Pickup: model.Coordinate{Lat: 3, Lng: 4}, IssueType: model.IssueRepair},
		{JobID: "a", SuggestedType: model.HiabGrabber, Pickup: model.Coordinate{Lat: 1, Lng: 2}, IssueType: model.IssueRecoveryOnly},
	}, needs)
}

func TestCoordinateAverage(t *testing.T) {
	got := CoordinateAverage(model.Coordinate{Lat: 50, Lng: -1}, model.Coordinate{Lat: 52, Lng: 1})
	assert.Equal(t, model.Coordinate{Lat: 51, Lng: 0}, got)
}
