package opt

import (
	"time"

	"recoverydispatch/internal/model"
)

// DropChoice is where a job will be delivered and which tier produced it.
type DropChoice struct {
	Coord    model.Coordinate
	Decision model.DropDecision
}

// DropRule proposes a drop coordinate for a job, or reports false to pass to
// the next tier.
type DropRule func(job model.Job, garages map[string]model.Garage, now time.Time, p model.Policies) (model.Coordinate, bool)

type dropTier struct {
	decision model.DropDecision
	rule     DropRule
}

// dropCascade is evaluated in order; the first rule that matches wins.
// The last tier always matches.
var dropCascade = []dropTier{
	{model.DropPreferred, garageRule(func(j model.Job) string { return j.PreferredDropPlaceID })},
	{model.DropSecondary, garageRule(func(j model.Job) string { return j.SecondaryDropPlaceID })},
	{model.DropHomeFallback, homeFallback},
}

// garageRule accepts the referenced garage when it has coordinates and its
// intake cutoff has not passed.
func garageRule(ref func(model.Job) string) DropRule {
	return func(job model.Job, garages map[string]model.Garage, now time.Time, p model.Policies) (model.Coordinate, bool) {
		id := ref(job)
		if id == "" {
			return model.Coordinate{}, false
		}
		g, ok := garages[id]
		if !ok || g.Coords == nil {
			return model.Coordinate{}, false
		}
		if !IntakeOpen(now, g, p.IntakeCutoffMinutesBeforeClose) {
			return model.Coordinate{}, false
		}
		return *g.Coords, true
	}
}

func homeFallback(job model.Job, _ map[string]model.Garage, _ time.Time, _ model.Policies) (model.Coordinate, bool) {
	return job.HomeFallback, true
}

// SelectDrop runs the preferred, secondary, home-fallback cascade.
func SelectDrop(job model.Job, garages map[string]model.Garage, now time.Time, p model.Policies) DropChoice {
	for _, t := range dropCascade {
		if c, ok := t.rule(job, garages, now, p); ok {
			return DropChoice{Coord: c, Decision: t.decision}
		}
	}
	return DropChoice{Coord: job.HomeFallback, Decision: model.DropHomeFallback}
}

// GarageIndex keys garages by place id. Later duplicates replace earlier ones.
func GarageIndex(garages []model.Garage) map[string]model.Garage {
	m := make(map[string]model.Garage, len(garages))
	for _, g := range garages {
		m[g.PlaceID] = g
	}
	return m
}
