package eta

import (
	"context"
	"math"

	"recoverydispatch/internal/model"
)

const earthRadiusMiles = 3958.8

// Haversine estimates road miles as great-circle miles times RoadFactor and
// minutes from an average speed. It never fails and is deterministic.
type Haversine struct {
	RoadFactor float64
	SpeedMPH   float64
}

// NewHaversine returns an estimator with a 1.3 road factor at 40 mph.
func NewHaversine() *Haversine { return &Haversine{RoadFactor: 1.3, SpeedMPH: 40} }

func (h *Haversine) Matrix(ctx context.Context, origins, destinations []model.Coordinate) (Matrix, error) {
	if err := validate(origins, destinations); err != nil {
		return Matrix{}, err
	}
	if err := ctx.Err(); err != nil {
		return Matrix{}, err
	}
	rf, speed := h.RoadFactor, h.SpeedMPH
	if rf <= 0 {
		rf = 1
	}
	if speed <= 0 {
		speed = 40
	}
	out := NewMatrix(len(origins), len(destinations))
	for i, o := range origins {
		for j, d := range destinations {
			miles := GreatCircleMiles(o, d) * rf
			out.Miles[i][j] = miles
			out.Minutes[i][j] = math.Max(1, math.Round(miles/speed*60))
		}
	}
	return out, nil
}

// GreatCircleMiles returns the haversine distance between two coordinates.
func GreatCircleMiles(a, b model.Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
