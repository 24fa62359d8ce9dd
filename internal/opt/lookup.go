package opt

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"recoverydispatch/internal/eta"
	"recoverydispatch/internal/model"
)

// leg is one looked-up travel segment.
type leg struct {
	Minutes float64
	Miles   float64
}

// lookups wraps the provider for one run and counts outcomes. A failed
// lookup is reported as !ok with eta.Unreachable minutes and miles.
type lookups struct {
	p        eta.Provider
	log      *zap.Logger
	attempts atomic.Int64
	failures atomic.Int64
}

func (l *lookups) pair(ctx context.Context, from, to model.Coordinate) (leg, bool) {
	l.attempts.Add(1)
	minutes, miles, err := eta.Pair(ctx, l.p, from, to)
	if err != nil {
		l.failures.Add(1)
		l.log.Warn("eta lookup failed", zap.Any("from", from), zap.Any("to", to), zap.Error(err))
		return leg{Minutes: eta.Unreachable, Miles: eta.Unreachable}, false
	}
	return leg{Minutes: minutes, Miles: miles}, true
}

// systemicFailure is true when lookups were attempted and none succeeded.
func (l *lookups) systemicFailure() bool {
	a := l.attempts.Load()
	return a > 0 && l.failures.Load() == a
}
