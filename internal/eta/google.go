package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"recoverydispatch/internal/model"
)

const (
	metersPerMile = 1609.344

	// Distance Matrix request limits.
	maxPerSide     = 25
	maxElements    = 100
	defaultBaseURL = "https://maps.googleapis.com/maps/api/distancematrix/json"
)

// Google implements Provider using the Google Distance Matrix API with
// traffic-aware durations.
type Google struct {
	client   *http.Client
	apiKey   string
	baseURL  string
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	log      *zap.Logger
}

type GoogleOption func(*Google)

// WithBaseURL points the client at a different endpoint (tests, proxies).
func WithBaseURL(u string) GoogleOption { return func(g *Google) { g.baseURL = u } }

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(c *http.Client) GoogleOption { return func(g *Google) { g.client = c } }

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) GoogleOption {
	return func(g *Google) {
		if rps > 0 {
			if burst <= 0 {
				burst = 1
			}
			g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithRetry sets the attempt count and initial backoff for transient failures.
func WithRetry(attempts int, backoff time.Duration) GoogleOption {
	return func(g *Google) { g.attempts, g.backoff = attempts, backoff }
}

func NewGoogle(apiKey string, log *zap.Logger, opts ...GoogleOption) (*Google, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("google distance matrix: api key is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &Google{
		client:   &http.Client{Timeout: 10 * time.Second},
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		attempts: 4,
		backoff:  200 * time.Millisecond,
		log:      log,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status   string      `json:"status"`
			Distance *googleValue `json:"distance"`
			Duration *googleValue `json:"duration"`
			Traffic  *googleValue `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

type googleValue struct {
	Value float64 `json:"value"`
}

func (g *Google) Matrix(ctx context.Context, origins, destinations []model.Coordinate) (Matrix, error) {
	if err := validate(origins, destinations); err != nil {
		return Matrix{}, err
	}
	out := NewMatrix(len(origins), len(destinations))

	for dStart := 0; dStart < len(destinations); dStart += maxPerSide {
		dEnd := min(dStart+maxPerSide, len(destinations))
		rowsPerCall := max(1, min(maxPerSide, maxElements/(dEnd-dStart)))
		for oStart := 0; oStart < len(origins); oStart += rowsPerCall {
			oEnd := min(oStart+rowsPerCall, len(origins))
			if err := g.fetch(ctx, origins[oStart:oEnd], destinations[dStart:dEnd], out, oStart, dStart); err != nil {
				return Matrix{}, err
			}
		}
	}
	return out, nil
}

// fetch requests one block and writes it into out at (oOff, dOff).
func (g *Google) fetch(ctx context.Context, origins, destinations []model.Coordinate, out Matrix, oOff, dOff int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("origins", joinLatLng(origins))
	params.Set("destinations", joinLatLng(destinations))
	params.Set("departure_time", "now")
	params.Set("key", g.apiKey)
	endpoint := g.baseURL + "?" + params.Encode()

	resp, err := doWithRetry(ctx, g.client, g.attempts, g.backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("distance matrix request: %w", err)
	}
	defer resp.Body.Close()

	var gr googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode distance matrix response: %w", err)
	}
	if gr.Status != "" && gr.Status != "OK" {
		return fmt.Errorf("distance matrix status %s: %s", gr.Status, gr.ErrorMessage)
	}

	for i, row := range gr.Rows {
		if i >= len(origins) {
			break
		}
		for j, el := range row.Elements {
			if j >= len(destinations) {
				break
			}
			secs := -1.0
			switch {
			case el.Traffic != nil:
				secs = el.Traffic.Value
			case el.Duration != nil:
				secs = el.Duration.Value
			}
			if (el.Status != "" && el.Status != "OK") || secs < 0 {
				g.log.Debug("distance matrix element unreachable",
					zap.Int("origin", oOff+i), zap.Int("destination", dOff+j), zap.String("status", el.Status))
				continue
			}
			out.Minutes[oOff+i][dOff+j] = math.Max(1, math.Round(secs/60))
			if el.Distance != nil {
				out.Miles[oOff+i][dOff+j] = el.Distance.Value / metersPerMile
			}
		}
	}
	return nil
}

func joinLatLng(cs []model.Coordinate) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("%g,%g", c.Lat, c.Lng)
	}
	return strings.Join(parts, "|")
}
