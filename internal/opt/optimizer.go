// Package opt assigns breakdown jobs to vehicles.
//
// The optimizer is a greedy, per-job heuristic: for every job it picks a drop
// site, filters vehicles by capability, and keeps the feasible route with the
// lowest total travel minutes. Jobs are evaluated independently against the
// full vehicle pool, so one vehicle may be proposed for several jobs in the
// same run; confirming and de-duplicating is left to the dispatcher.
package opt

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recoverydispatch/internal/eta"
	"recoverydispatch/internal/model"
)

// Input is a fully resolved optimizer run.
type Input struct {
	Now      time.Time
	Jobs     []model.Job
	Vehicles []model.Vehicle
	Garages  []model.Garage
	Policies model.Policies
}

// ResolveInput applies the request's policy patch over base and fills now
// when the request leaves it empty.
func ResolveInput(req model.RunRequest, base model.Policies, now time.Time) Input {
	in := Input{
		Now:      now,
		Jobs:     req.Jobs,
		Vehicles: req.Vehicles,
		Garages:  req.Garages,
		Policies: req.Policies.Apply(base),
	}
	if req.Now != nil && !req.Now.IsZero() {
		in.Now = *req.Now
	}
	return in
}

// RunStats summarises one run for metrics.
type RunStats struct {
	Jobs           int
	Assigned       int
	Unassigned     int
	Skipped        int
	Swaps          int
	Lookups        int64
	LookupFailures int64
	Duration       time.Duration
}

// Recorder receives run outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveRun(s RunStats)
	ObserveAssignment(a model.Assignment)
}

type Optimizer struct {
	ETA      eta.Provider
	Log      *zap.Logger
	Recorder Recorder
	// Concurrency bounds parallel rendezvous lookups within one job.
	Concurrency int
	// Rendezvous picks the hand-off point between pickup and drop.
	Rendezvous func(pickup, drop model.Coordinate) model.Coordinate
}

func New(p eta.Provider, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{ETA: p, Log: log, Concurrency: 4, Rendezvous: CoordinateAverage}
}

// Run plans every job in input order. Assignments keep job order; every job
// ends up in exactly one of Assignments, Unassigned or (when ctx is cancelled
// mid-run) Skipped. Candidate-level lookup failures never abort the run, but
// if every lookup failed the partial result is returned with eta.ErrUnavailable.
func (o *Optimizer) Run(ctx context.Context, in Input) (model.RunResult, error) {
	if err := Validate(in); err != nil {
		return model.RunResult{}, err
	}
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	lk := &lookups{p: o.ETA, log: log}
	garages := GarageIndex(in.Garages)

	res := model.RunResult{Assignments: []model.Assignment{}, Unassigned: []string{}}
	stats := RunStats{Jobs: len(in.Jobs)}
	var runErr error

	for i, job := range in.Jobs {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run interrupted after %d of %d jobs: %w", i, len(in.Jobs), err)
			for _, j := range in.Jobs[i:] {
				res.Skipped = append(res.Skipped, j.ID)
			}
			break
		}

		jp := newJobPlan(job, garages, in, lk)
		a, ok := o.planJob(ctx, jp)

		// A job cut short by cancellation has an incomplete candidate set.
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run interrupted after %d of %d jobs: %w", i, len(in.Jobs), err)
			for _, j := range in.Jobs[i:] {
				res.Skipped = append(res.Skipped, j.ID)
			}
			break
		}

		if ok {
			res.Assignments = append(res.Assignments, a)
			if len(a.Legs) > 2 {
				stats.Swaps++
			}
			if o.Recorder != nil {
				o.Recorder.ObserveAssignment(a)
			}
			log.Debug("job assigned", zap.String("job", job.ID), zap.Int("legs", len(a.Legs)), zap.String("reason", a.Reason))
		} else {
			res.Unassigned = append(res.Unassigned, job.ID)
			log.Debug("job unassigned", zap.String("job", job.ID))
		}
	}

	res.VehicleNeeds = VehicleNeeds(in.Jobs, res.Unassigned)

	stats.Assigned = len(res.Assignments)
	stats.Unassigned = len(res.Unassigned)
	stats.Skipped = len(res.Skipped)
	stats.Lookups = lk.attempts.Load()
	stats.LookupFailures = lk.failures.Load()
	stats.Duration = time.Since(start)
	if o.Recorder != nil {
		o.Recorder.ObserveRun(stats)
	}

	if runErr == nil && lk.systemicFailure() {
		runErr = fmt.Errorf("%w: all %d lookups failed", eta.ErrUnavailable, stats.Lookups)
	}

	log.Info("optimization complete",
		zap.Int("jobs", stats.Jobs),
		zap.Int("assigned", stats.Assigned),
		zap.Int("unassigned", stats.Unassigned),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("lookups", stats.Lookups),
		zap.Int64("lookupFailures", stats.LookupFailures),
		zap.Duration("took", stats.Duration),
		zap.Error(runErr),
	)
	return res, runErr
}

// planJob evaluates every eligible vehicle and keeps the lowest total ETA.
// Ties keep the earliest vehicle in input order.
func (o *Optimizer) planJob(ctx context.Context, jp *jobPlan) (model.Assignment, bool) {
	var best model.Assignment
	found := false
	for _, v := range jp.eligible {
		if ctx.Err() != nil {
			break
		}
		a, ok := o.evaluate(ctx, jp, v)
		if !ok {
			continue
		}
		if !found || a.TotalMinutes() < best.TotalMinutes() {
			best, found = a, true
		}
	}
	return best, found
}
