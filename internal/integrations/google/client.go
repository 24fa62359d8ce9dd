// Package google talks to the Google Geocoding and Places Details APIs.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"recoverydispatch/internal/integrations"
	"recoverydispatch/internal/model"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api"

type Client struct {
	http    *http.Client
	key     string
	baseURL string
	limiter *rate.Limiter
	log     *zap.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option          { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func New(key string, log *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("google maps: api key is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		key:     key,
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

var (
	_ integrations.Geocoder       = (*Client)(nil)
	_ integrations.PostcodeLookup = (*Client)(nil)
	_ integrations.PlacesSource   = (*Client)(nil)
)

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location model.Coordinate `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

func (c *Client) Geocode(ctx context.Context, address string) (model.Coordinate, error) {
	q := url.Values{"address": {address}}
	var out geocodeResponse
	if err := c.get(ctx, "/geocode/json", q, &out); err != nil {
		return model.Coordinate{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if out.Status != "OK" || len(out.Results) == 0 {
		c.log.Warn("geocoding failed", zap.String("address", address), zap.String("status", out.Status))
		return model.Coordinate{}, fmt.Errorf("geocode %q: %w (status %s)", address, integrations.ErrNoResult, out.Status)
	}
	return out.Results[0].Geometry.Location, nil
}

// Postcode returns the postal_code component of the first reverse-geocode result.
func (c *Client) Postcode(ctx context.Context, at model.Coordinate) (string, error) {
	q := url.Values{"latlng": {fmt.Sprintf("%f,%f", at.Lat, at.Lng)}}
	var out geocodeResponse
	if err := c.get(ctx, "/geocode/json", q, &out); err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if len(out.Results) == 0 {
		return "", integrations.ErrNoResult
	}
	for _, ac := range out.Results[0].AddressComponents {
		for _, t := range ac.Types {
			if t == "postal_code" {
				return ac.LongName, nil
			}
		}
	}
	return "", integrations.ErrNoResult
}

type placeResponse struct {
	Status string `json:"status"`
	Result struct {
		Name     string `json:"name"`
		Geometry *struct {
			Location model.Coordinate `json:"location"`
		} `json:"geometry"`
		OpeningHours *struct {
			Periods []Period `json:"periods"`
		} `json:"opening_hours"`
	} `json:"result"`
}

// Period is one Places opening period; Day is 0=Sunday, Time is "HHMM".
type Period struct {
	Open  *PeriodPoint `json:"open"`
	Close *PeriodPoint `json:"close"`
}

type PeriodPoint struct {
	Day  *int   `json:"day"`
	Time string `json:"time"`
}

func (c *Client) PlaceDetails(ctx context.Context, placeID string) (integrations.PlaceDetails, error) {
	q := url.Values{"place_id": {placeID}, "fields": {"opening_hours,utc_offset_minutes,name,geometry"}}
	var out placeResponse
	if err := c.get(ctx, "/place/details/json", q, &out); err != nil {
		return integrations.PlaceDetails{}, fmt.Errorf("place %s: %w", placeID, err)
	}
	d := integrations.PlaceDetails{PlaceID: placeID, Name: out.Result.Name}
	if out.Result.Geometry != nil {
		loc := out.Result.Geometry.Location
		d.Coords = &loc
	}
	if out.Result.OpeningHours != nil {
		d.OpeningHours = PeriodsToWeekly(out.Result.OpeningHours.Periods)
	}
	return d, nil
}

// PeriodsToWeekly converts Places periods to weekly hours. A period that
// closes on a later day is stored under its open day. Incomplete periods are skipped.
func PeriodsToWeekly(periods []Period) []model.OpeningHours {
	var out []model.OpeningHours
	for _, p := range periods {
		if p.Open == nil || p.Open.Day == nil || p.Close == nil {
			continue
		}
		open, ok1 := hhmm(p.Open.Time)
		closeAt, ok2 := hhmm(p.Close.Time)
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, model.OpeningHours{Day: *p.Open.Day, Open: open, Close: closeAt})
	}
	return out
}

func hhmm(s string) (string, bool) {
	if len(s) != 4 {
		return "", false
	}
	return s[:2] + ":" + s[2:], true
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	q.Set("key", c.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
