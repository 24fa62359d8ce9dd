// Package eta provides travel time and distance lookups between coordinates.
package eta

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"recoverydispatch/internal/model"
)

// Unreachable is the value reported for a pair the provider could not route.
const Unreachable = 9999.0

// ErrUnavailable reports that the provider could not serve any lookup.
var ErrUnavailable = errors.New("eta provider unavailable")

// Matrix holds index-aligned results: Minutes[i][j] is the travel time from
// origins[i] to destinations[j].
type Matrix struct {
	Minutes [][]float64 `json:"minutes"`
	Miles   [][]float64 `json:"miles"`
}

// Provider returns pairwise travel minutes and miles.
// Implementations must be safe for concurrent use.
type Provider interface {
	Matrix(ctx context.Context, origins, destinations []model.Coordinate) (Matrix, error)
}

// NewMatrix allocates an origins x destinations matrix filled with Unreachable.
func NewMatrix(origins, destinations int) Matrix {
	m := Matrix{Minutes: make([][]float64, origins), Miles: make([][]float64, origins)}
	for i := 0; i < origins; i++ {
		m.Minutes[i] = make([]float64, destinations)
		m.Miles[i] = make([]float64, destinations)
		for j := 0; j < destinations; j++ {
			m.Minutes[i][j] = Unreachable
			m.Miles[i][j] = Unreachable
		}
	}
	return m
}

// Cell returns the minutes and miles at (i, j), or Unreachable when the
// matrix is smaller than expected.
func (m Matrix) Cell(i, j int) (minutes, miles float64) {
	minutes, miles = Unreachable, Unreachable
	if i < len(m.Minutes) && j < len(m.Minutes[i]) {
		minutes = m.Minutes[i][j]
	}
	if i < len(m.Miles) && j < len(m.Miles[i]) {
		miles = m.Miles[i][j]
	}
	return minutes, miles
}

// Pair looks up a single origin/destination pair.
func Pair(ctx context.Context, p Provider, from, to model.Coordinate) (minutes, miles float64, err error) {
	m, err := p.Matrix(ctx, []model.Coordinate{from}, []model.Coordinate{to})
	if err != nil {
		return Unreachable, Unreachable, err
	}
	minutes, miles = m.Cell(0, 0)
	return minutes, miles, nil
}

func validate(origins, destinations []model.Coordinate) error {
	if len(origins) == 0 || len(destinations) == 0 {
		return errors.New("origins and destinations required")
	}
	return nil
}

// NewProvider builds the named provider: "google" (requires apiKey) or
// "haversine".
func NewProvider(name, apiKey string, rps float64, log *zap.Logger) (Provider, error) {
	switch name {
	case "", "haversine":
		return NewHaversine(), nil
	case "google":
		return NewGoogle(apiKey, log, WithRateLimit(rps, int(rps)+1))
	default:
		return nil, fmt.Errorf("unknown eta provider %q", name)
	}
}
