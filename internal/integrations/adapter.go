package integrations

import (
    "context"
    "errors"

    "recoverydispatch/internal/model"
)

// Geocoder resolves a street address to a coordinate.
type Geocoder interface {
    Geocode(ctx context.Context, address string) (model.Coordinate, error)
}

// PostcodeLookup reverse-geocodes a coordinate to its postal code.
type PostcodeLookup interface {
    Postcode(ctx context.Context, c model.Coordinate) (string, error)
}

// PlaceDetails is what a places provider knows about a garage.
type PlaceDetails struct {
    PlaceID      string
    Name         string
    Coords       *model.Coordinate
    OpeningHours []model.OpeningHours
}

// PlacesSource fetches opening hours and location for a place id.
type PlacesSource interface {
    PlaceDetails(ctx context.Context, placeID string) (PlaceDetails, error)
}

// ErrNoResult is returned when a lookup succeeds but matches nothing.
var ErrNoResult = errors.New("no result")

// DefaultIntakeCutoff applies to garages synced from a places provider.
const DefaultIntakeCutoff = 30

// DefaultHours is used when a place has no usable opening hours: Monday 09:00-17:00.
func DefaultHours() []model.OpeningHours {
    return []model.OpeningHours{{Day: 1, Open: "09:00", Close: "17:00"}}
}

// SyncGarage builds a garage from place details. A failed lookup still
// yields a garage carrying the default hours so that dispatch can proceed.
func SyncGarage(ctx context.Context, src PlacesSource, placeID string) (model.Garage, error) {
    cutoff := DefaultIntakeCutoff
    g := model.Garage{PlaceID: placeID, OpeningHours: DefaultHours(), IntakeCutoffMinutesBeforeClose: &cutoff}
    d, err := src.PlaceDetails(ctx, placeID)
    if err != nil {
        return g, err
    }
    g.Name = d.Name
    g.Coords = d.Coords
    if len(d.OpeningHours) > 0 {
        g.OpeningHours = d.OpeningHours
    }
    return g, nil
}
