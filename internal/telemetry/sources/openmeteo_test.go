package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

const currentBody = `{
  "latitude": 45.52,
  "longitude": -122.64,
  "current": {
    "time": "2026-10-14T09:15",
    "interval": 900,
    "temperature_2m": 12.4,
    "relative_humidity_2m": 81,
    "precipitation": 0.0,
    "cloud_cover": null
  }
}`

func newTestOpenMeteo(t *testing.T, handler http.HandlerFunc, cfg OpenMeteoConfig) *OpenMeteo {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewOpenMeteo(srv.Client(), cfg)
	p.baseURL = srv.URL + "/v1/forecast"
	p.httpCfg.Backoff = BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	return p
}

func TestOpenMeteoFetch(t *testing.T) {
	var query string
	p := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(currentBody))
	}, OpenMeteoConfig{Latitude: 45.5157, Longitude: -122.6403, Timezone: "America/Los_Angeles"})

	reading, err := p.Fetch(context.Background())
	require.NoError(t, err)

	rec := telemetry.Flatten(reading, "_")
	assert.Equal(t, []string{
		"weather_temperature_2m",
		"weather_relative_humidity_2m",
		"weather_precipitation",
	}, rec.Keys())
	v, _ := rec.Get("weather_relative_humidity_2m")
	assert.Equal(t, telemetry.FloatValue(81), v)

	assert.Contains(t, query, "latitude=45.5157")
	assert.Contains(t, query, "timezone=America%2FLos_Angeles")
	assert.Contains(t, query, "current=temperature_2m%2Crelative_humidity_2m%2Cprecipitation%2Ccloud_cover")
}

func TestOpenMeteoRetriesServerErrors(t *testing.T) {
	var calls int32
	p := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(currentBody))
	}, OpenMeteoConfig{})

	_, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOpenMeteoClientErrorIsUnavailable(t *testing.T) {
	var calls int32
	p := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":true,"reason":"invalid latitude"}`, http.StatusBadRequest)
	}, OpenMeteoConfig{})

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, telemetry.ErrSourceUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestOpenMeteoCache(t *testing.T) {
	var calls int32
	p := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(currentBody))
	}, OpenMeteoConfig{CacheTTL: 15 * time.Minute})
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	_, err := p.Fetch(context.Background())
	require.NoError(t, err)
	_, err = p.Fetch(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	now = now.Add(16 * time.Minute)
	_, err = p.Fetch(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
