package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "SOLARMON_"

// Sink selects the persistence backend.
const (
	SinkCSV    = "csv"
	SinkInflux = "influx"
)

// AppConfig is built once at startup and passed to every component.
type AppConfig struct {
	// Interval between the start of two cycles.
	Interval  time.Duration `validate:"gte=1s"`
	Separator string        `validate:"required"`

	Sink   string `validate:"oneof=csv influx"`
	Output string `validate:"required_if=Sink csv"`
	Influx InfluxConfig

	Device  DeviceConfig
	Weather WeatherConfig

	// Listen is the status API address; empty disables it.
	Listen     string
	History    int           `validate:"gte=0"`
	HistoryAge time.Duration `validate:"gte=0"`

	LogLevel slog.Level
}

type DeviceConfig struct {
	Enabled bool
	Host    string        `validate:"required_if=Enabled true"`
	Port    int           `validate:"min=1,max=65535"`
	ID      int           `validate:"min=0,max=247"`
	Timeout time.Duration `validate:"gt=0"`
	// Registers is a YAML register map; empty uses the built-in one.
	Registers string
}

type WeatherConfig struct {
	Enabled     bool
	Latitude    float64       `validate:"gte=-90,lte=90"`
	Longitude   float64       `validate:"gte=-180,lte=180"`
	Timezone    string
	Variables   []string
	CacheTTL    time.Duration `validate:"gte=0"`
	HTTPTimeout time.Duration `validate:"gt=0"`
}

type InfluxConfig struct {
	Host        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	User        string
	Password    string
	Database    string `validate:"required"`
	Measurement string `validate:"required"`
	Tags        map[string]string
	Timeout     time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// ErrNoSources is returned when every source is disabled.
var ErrNoSources = errors.New("at least one of -device or -weather must be enabled")

// Load parses command-line arguments with environment variables (and a
// .env file, when present) as defaults.
func Load(args []string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{}
	fs := flag.NewFlagSet("solar-monitor", flag.ContinueOnError)

	intervalSecs := getenvInt("INTERVAL", 10)
	fs.IntVar(&intervalSecs, "interval", intervalSecs, "Data update interval in seconds (env: SOLARMON_INTERVAL)")
	fs.IntVar(&intervalSecs, "i", intervalSecs, "Shorthand for -interval")
	fs.StringVar(&cfg.Separator, "separator", getenvDefault("SEPARATOR", "_"), "Separator joining nested field names")

	fs.StringVar(&cfg.Sink, "sink", getenvDefault("SINK", SinkCSV), "Persistence backend: csv or influx (env: SOLARMON_SINK)")
	fs.StringVar(&cfg.Output, "output", getenvDefault("OUTPUT", "inverter_data.csv"), "Output CSV file path (env: SOLARMON_OUTPUT)")
	fs.StringVar(&cfg.Output, "o", cfg.Output, "Shorthand for -output")

	fs.StringVar(&cfg.Influx.Host, "influx-host", getenvDefault("INFLUX_HOST", "localhost"), "InfluxDB host")
	fs.IntVar(&cfg.Influx.Port, "influx-port", getenvInt("INFLUX_PORT", 8086), "InfluxDB port")
	fs.StringVar(&cfg.Influx.User, "influx-user", getenvDefault("INFLUX_USER", ""), "InfluxDB username (optional)")
	fs.StringVar(&cfg.Influx.Password, "influx-password", getenvDefault("INFLUX_PASSWORD", ""), "InfluxDB password (optional)")
	fs.StringVar(&cfg.Influx.Database, "influx-database", getenvDefault("INFLUX_DATABASE", "solarmon"), "InfluxDB database name")
	fs.StringVar(&cfg.Influx.Measurement, "influx-measurement", getenvDefault("INFLUX_MEASUREMENT", "inverter_data"), "InfluxDB measurement name")
	fs.DurationVar(&cfg.Influx.Timeout, "influx-timeout", getenvDuration("INFLUX_TIMEOUT", 10*time.Second), "InfluxDB request timeout")
	influxTags := getenvDefault("INFLUX_TAGS", "")
	fs.StringVar(&influxTags, "influx-tags", influxTags, "Static point tags as k=v,k=v")

	fs.BoolVar(&cfg.Device.Enabled, "device", getenvBool("DEVICE_ENABLED", true), "Poll the inverter over Modbus TCP")
	fs.StringVar(&cfg.Device.Host, "host", getenvDefault("DEVICE_HOST", "192.168.1.69"), "Modbus TCP host IP address")
	fs.IntVar(&cfg.Device.Port, "port", getenvInt("DEVICE_PORT", 502), "Modbus TCP port")
	fs.IntVar(&cfg.Device.ID, "device-id", getenvInt("DEVICE_ID", 1), "Modbus TCP device ID")
	fs.IntVar(&cfg.Device.ID, "d", cfg.Device.ID, "Shorthand for -device-id")
	fs.DurationVar(&cfg.Device.Timeout, "device-timeout", getenvDuration("DEVICE_TIMEOUT", 5*time.Second), "Modbus request timeout")
	fs.StringVar(&cfg.Device.Registers, "registers", getenvDefault("REGISTERS", ""), "YAML register map (default: built-in SRNE map)")

	fs.BoolVar(&cfg.Weather.Enabled, "weather", getenvBool("WEATHER_ENABLED", false), "Record Open-Meteo current weather")
	fs.Float64Var(&cfg.Weather.Latitude, "latitude", getenvFloat("WEATHER_LATITUDE", 45.5157), "Latitude for weather data")
	fs.Float64Var(&cfg.Weather.Longitude, "longitude", getenvFloat("WEATHER_LONGITUDE", -122.6403), "Longitude for weather data")
	fs.StringVar(&cfg.Weather.Timezone, "timezone", getenvDefault("WEATHER_TIMEZONE", "America/Los_Angeles"), "Timezone for weather data")
	variables := getenvDefault("WEATHER_VARIABLES", "")
	fs.StringVar(&variables, "weather-variables", variables, "Comma separated Open-Meteo current variables")
	fs.DurationVar(&cfg.Weather.CacheTTL, "weather-cache", getenvDuration("WEATHER_CACHE", 15*time.Minute), "Reuse a weather reading for this long, 0 disables")
	fs.DurationVar(&cfg.Weather.HTTPTimeout, "http-timeout", getenvDuration("HTTP_TIMEOUT", 10*time.Second), "Timeout for outbound HTTP calls")

	fs.StringVar(&cfg.Listen, "listen", getenvDefault("LISTEN", ":8080"), "Status API address, empty to disable")
	fs.IntVar(&cfg.History, "history", getenvInt("HISTORY", 360), "Cycle reports kept in memory, 0 for unlimited")
	fs.DurationVar(&cfg.HistoryAge, "history-age", getenvDuration("HISTORY_AGE", time.Hour), "Max age of kept cycle reports, 0 for unlimited")
	logLevel := getenvDefault("LOG_LEVEL", "info")
	fs.StringVar(&logLevel, "log-level", logLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Interval = time.Duration(intervalSecs) * time.Second
	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	tags, err := parseTags(influxTags)
	if err != nil {
		return nil, err
	}
	cfg.Influx.Tags = tags
	cfg.Weather.Variables = splitList(variables)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *AppConfig) Validate() error {
	if !c.Device.Enabled && !c.Weather.Enabled {
		return ErrNoSources
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func parseTags(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	tags := make(map[string]string)
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid tag %q, want key=value", pair)
		}
		tags[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return tags, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
