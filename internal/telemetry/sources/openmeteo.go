package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

// DefaultWeatherVariables are the Open-Meteo "current" variables recorded
// when none are configured.
var DefaultWeatherVariables = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"precipitation",
	"cloud_cover",
}

// OpenMeteoConfig locates the forecast point.
type OpenMeteoConfig struct {
	Latitude  float64
	Longitude float64
	Timezone  string
	Variables []string
	// CacheTTL reuses the last good reading for this long. Zero disables it.
	CacheTTL time.Duration
}

// OpenMeteo reads current conditions from the Open-Meteo forecast API.
// Fields are rooted at "weather" so they never collide with device fields.
type OpenMeteo struct {
	name    string
	baseURL string
	cfg     OpenMeteoConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time

	mu       sync.Mutex
	cached   telemetry.Reading
	cachedAt time.Time
}

func NewOpenMeteo(client *http.Client, cfg OpenMeteoConfig) *OpenMeteo {
	if len(cfg.Variables) == 0 {
		cfg.Variables = DefaultWeatherVariables
	}
	return &OpenMeteo{
		name:    "weather",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		cfg:     cfg,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: defaultBackoff,
		},
		circuit: newBreaker("openmeteo"),
		now:     time.Now,
	}
}

func (p *OpenMeteo) Name() string {
	return p.name
}

func (p *OpenMeteo) Fetch(ctx context.Context) (telemetry.Reading, error) {
	if r, ok := p.fromCache(); ok {
		return r, nil
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(p.cfg.Latitude, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(p.cfg.Longitude, 'f', -1, 64))
		values.Set("current", strings.Join(p.cfg.Variables, ","))
		if p.cfg.Timezone != "" {
			values.Set("timezone", p.cfg.Timezone)
		}

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: openmeteo: %w", telemetry.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Current map[string]json.RawMessage `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: openmeteo: decode: %w", telemetry.ErrSourceUnavailable, err)
	}
	if payload.Current == nil {
		return nil, fmt.Errorf("%w: openmeteo: response has no current block", telemetry.ErrSourceUnavailable)
	}

	// Open-Meteo reports null for variables it cannot compute.
	leaves := make([]telemetry.Node, 0, len(p.cfg.Variables))
	for _, name := range p.cfg.Variables {
		raw, ok := payload.Current[name]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: openmeteo: %s: %w", telemetry.ErrSourceUnavailable, name, err)
		}
		if v == nil {
			continue
		}
		leaves = append(leaves, telemetry.Leaf(name, *v))
	}

	reading := telemetry.Reading{telemetry.Group(p.name, leaves...)}
	p.store(reading)
	return reading, nil
}

func (p *OpenMeteo) fromCache() (telemetry.Reading, bool) {
	if p.cfg.CacheTTL <= 0 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil || p.now().Sub(p.cachedAt) >= p.cfg.CacheTTL {
		return nil, false
	}
	return p.cached, true
}

func (p *OpenMeteo) store(r telemetry.Reading) {
	if p.cfg.CacheTTL <= 0 {
		return
	}
	p.mu.Lock()
	p.cached = r
	p.cachedAt = p.now()
	p.mu.Unlock()
}
