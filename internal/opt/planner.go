package opt

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recoverydispatch/internal/model"
)

const (
	ReasonDirect       = "Direct within per-leg miles limit."
	ReasonHomeFallback = "Garage cut-off passed; defaulting to customer home."
	ReasonSwap         = "Meet-and-swap planned to keep legs ≤ allowed miles."
)

// jobPlan holds per-job state shared by every candidate vehicle. Legs that
// do not depend on the vehicle are looked up once, on first use.
type jobPlan struct {
	job      model.Job
	drop     DropChoice
	eligible []model.Vehicle
	now      time.Time
	p        model.Policies
	lk       *lookups

	direct     *legResult
	rendezvous *rendezvousPlan
}

type legResult struct {
	leg
	ok bool
}

type rendezvousPlan struct {
	point    model.Coordinate
	toPoint  []legResult // index-aligned with jobPlan.eligible
	fromPick legResult
	toDrop   legResult
}

func newJobPlan(job model.Job, garages map[string]model.Garage, in Input, lk *lookups) *jobPlan {
	return &jobPlan{
		job:      job,
		drop:     SelectDrop(job, garages, in.Now, in.Policies),
		eligible: Eligible(job.IssueType, in.Vehicles),
		now:      in.Now,
		p:        in.Policies,
		lk:       lk,
	}
}

func (jp *jobPlan) pickupToDrop(ctx context.Context) legResult {
	if jp.direct == nil {
		l, ok := jp.lk.pair(ctx, jp.job.Pickup, jp.drop.Coord)
		jp.direct = &legResult{leg: l, ok: ok}
	}
	return *jp.direct
}

// evaluate tries a direct route for v and falls back to meet-and-swap when
// only the pickup-to-drop leg is too long.
func (o *Optimizer) evaluate(ctx context.Context, jp *jobPlan, v model.Vehicle) (model.Assignment, bool) {
	log := jp.lk.log.With(zap.String("job", jp.job.ID), zap.String("vehicle", v.ID))
	if !AcceptsNewJob(v, jp.now, jp.p) {
		log.Debug("vehicle skipped", zap.String("reason", "shift ending"))
		return model.Assignment{}, false
	}

	toPickup, ok := jp.lk.pair(ctx, v.Location, jp.job.Pickup)
	if !ok {
		return model.Assignment{}, false
	}
	if toPickup.Miles > jp.p.MaxLegMiles {
		log.Debug("vehicle rejected", zap.String("reason", "pickup leg too long"), zap.Float64("miles", toPickup.Miles))
		return model.Assignment{}, false
	}

	// A failed pickup-to-drop lookup carries eta.Unreachable miles and so
	// falls through to meet-and-swap like any other over-limit leg.
	direct := jp.pickupToDrop(ctx)
	if direct.ok && direct.Miles <= jp.p.MaxLegMiles {
		reason := ReasonDirect
		if jp.drop.Decision == model.DropHomeFallback {
			reason = ReasonHomeFallback
		}
		return model.Assignment{
			JobID: jp.job.ID,
			Legs: []model.RouteLeg{
				{From: v.Location, To: jp.job.Pickup, Miles: toPickup.Miles, ETAMinutes: toPickup.Minutes, VehicleID: v.ID, Note: "to pickup"},
				{From: jp.job.Pickup, To: jp.drop.Coord, Miles: direct.Miles, ETAMinutes: direct.Minutes, VehicleID: v.ID, Note: "pickup to drop"},
			},
			DropDecision:    jp.drop.Decision,
			WillExceedShift: WillExceedShift(v, jp.now, toPickup.Minutes, direct.Minutes, jp.p),
			Reason:          reason,
		}, true
	}

	if !jp.p.EnableMeetAndSwap {
		log.Debug("vehicle rejected", zap.String("reason", "drop leg too long, swap disabled"), zap.Float64("miles", direct.Miles))
		return model.Assignment{}, false
	}
	a, ok := o.planSwap(ctx, jp, v, toPickup)
	if !ok {
		log.Debug("vehicle rejected", zap.String("reason", "no feasible meet-and-swap"))
	}
	return a, ok
}

// CoordinateAverage is the rendezvous point used by default: the arithmetic
// mean of the two coordinates, not a routed or great-circle midpoint.
func CoordinateAverage(a, b model.Coordinate) model.Coordinate {
	return model.Coordinate{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
}

// rendezvousFor computes the hand-off point and its vehicle-independent legs
// once per job. Travel from every eligible vehicle to the point is looked up
// concurrently and stored by index so selection stays in input order.
func (o *Optimizer) rendezvousFor(ctx context.Context, jp *jobPlan) *rendezvousPlan {
	if jp.rendezvous != nil {
		return jp.rendezvous
	}
	mid := o.Rendezvous
	if mid == nil {
		mid = CoordinateAverage
	}
	rp := &rendezvousPlan{
		point:   mid(jp.job.Pickup, jp.drop.Coord),
		toPoint: make([]legResult, len(jp.eligible)),
	}

	limit := o.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, v := range jp.eligible {
		i, v := i, v
		g.Go(func() error {
			l, ok := jp.lk.pair(ctx, v.Location, rp.point)
			rp.toPoint[i] = legResult{leg: l, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	l, ok := jp.lk.pair(ctx, jp.job.Pickup, rp.point)
	rp.fromPick = legResult{leg: l, ok: ok}
	l, ok = jp.lk.pair(ctx, rp.point, jp.drop.Coord)
	rp.toDrop = legResult{leg: l, ok: ok}

	jp.rendezvous = rp
	return rp
}

// planSwap pairs primary with the other eligible vehicle that reaches the
// rendezvous fastest within the mileage limit, then checks the two handed-off
// legs against the same limit.
func (o *Optimizer) planSwap(ctx context.Context, jp *jobPlan, primary model.Vehicle, toPickup leg) (model.Assignment, bool) {
	rp := o.rendezvousFor(ctx, jp)
	maxMiles := jp.p.MaxLegMiles

	second := -1
	for i, v := range jp.eligible {
		if v.ID == primary.ID {
			continue
		}
		r := rp.toPoint[i]
		if !r.ok || r.Miles > maxMiles {
			continue
		}
		if second < 0 || r.Minutes < rp.toPoint[second].Minutes {
			second = i
		}
	}
	if second < 0 {
		return model.Assignment{}, false
	}
	if !rp.fromPick.ok || !rp.toDrop.ok || rp.fromPick.Miles > maxMiles || rp.toDrop.Miles > maxMiles {
		return model.Assignment{}, false
	}

	v2 := jp.eligible[second]
	toPoint := rp.toPoint[second]
	exceed := WillExceedShift(primary, jp.now, toPickup.Minutes, rp.fromPick.Minutes, jp.p) ||
		WillExceedShift(v2, jp.now, toPoint.Minutes, rp.toDrop.Minutes, jp.p)

	return model.Assignment{
		JobID: jp.job.ID,
		Legs: []model.RouteLeg{
			{From: primary.Location, To: jp.job.Pickup, Miles: toPickup.Miles, ETAMinutes: toPickup.Minutes, VehicleID: primary.ID, Note: "to pickup"},
			{From: jp.job.Pickup, To: rp.point, Miles: rp.fromPick.Miles, ETAMinutes: rp.fromPick.Minutes, VehicleID: primary.ID, Note: "to rendezvous"},
			{From: v2.Location, To: rp.point, Miles: toPoint.Miles, ETAMinutes: toPoint.Minutes, VehicleID: v2.ID, Note: "second vehicle to rendezvous"},
			{From: rp.point, To: jp.drop.Coord, Miles: rp.toDrop.Miles, ETAMinutes: rp.toDrop.Minutes, VehicleID: v2.ID, Note: "to drop (swap)"},
		},
		DropDecision:    jp.drop.Decision,
		WillExceedShift: exceed,
		Reason:          ReasonSwap,
	}, true
}
