package sink

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

// InfluxConfig addresses an InfluxDB 1.x server.
type InfluxConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	Measurement string
	Tags        map[string]string
	Timeout     time.Duration
}

// Addr returns the HTTP base URL of the server.
func (c InfluxConfig) Addr() string {
	if strings.HasPrefix(c.Host, "http://") || strings.HasPrefix(c.Host, "https://") {
		return c.Host
	}
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Influx writes each merged record as one point. It accepts records of any
// shape and never writes an empty point.
type Influx struct {
	client client.Client
	cfg    InfluxConfig
	logger *slog.Logger
}

// OpenInflux connects to the server and makes sure the database exists.
func OpenInflux(cfg InfluxConfig, logger *slog.Logger) (*Influx, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", telemetry.ErrSinkConnection, err)
	}

	_, version, err := c.Ping(cfg.Timeout)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", telemetry.ErrSinkConnection, cfg.Addr(), err)
	}
	logger.Info("connected to InfluxDB", "addr", cfg.Addr(), "version", version)

	s := &Influx{client: c, cfg: cfg, logger: logger}
	if err := s.ensureDatabase(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func (s *Influx) ensureDatabase() error {
	exists, err := s.databaseExists()
	if err != nil {
		// Listing may be forbidden for non-admin users; the create is
		// idempotent and also fails harmlessly for them.
		s.logger.Warn("could not list databases", "error", err)
		if err := s.query(fmt.Sprintf("CREATE DATABASE %s", quoteIdent(s.cfg.Database))); err != nil {
			s.logger.Debug("create database failed", "database", s.cfg.Database, "error", err)
		}
		return nil
	}
	if exists {
		return nil
	}
	if err := s.query(fmt.Sprintf("CREATE DATABASE %s", quoteIdent(s.cfg.Database))); err != nil {
		return fmt.Errorf("%w: create database %q: %w", telemetry.ErrSinkConnection, s.cfg.Database, err)
	}
	s.logger.Info("created database", "database", s.cfg.Database)
	return nil
}

func (s *Influx) databaseExists() (bool, error) {
	resp, err := s.client.Query(client.NewQuery("SHOW DATABASES", "", ""))
	if err != nil {
		return false, err
	}
	if err := resp.Error(); err != nil {
		return false, err
	}
	for _, res := range resp.Results {
		for _, row := range res.Series {
			for _, values := range row.Values {
				if len(values) > 0 && values[0] == s.cfg.Database {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (s *Influx) query(cmd string) error {
	resp, err := s.client.Query(client.NewQuery(cmd, "", ""))
	if err != nil {
		return err
	}
	return resp.Error()
}

// Write sends one point. Non-finite floats are left out since line
// protocol cannot encode them.
func (s *Influx) Write(_ context.Context, rec telemetry.FlatRecord, ts time.Time) telemetry.Outcome {
	fields := make(map[string]interface{}, rec.Len())
	for _, f := range rec.Fields() {
		if f.Value.Kind() == telemetry.KindFloat {
			if v := f.Value.Float(); math.IsNaN(v) || math.IsInf(v, 0) {
				s.logger.Debug("non-finite field skipped", "field", f.Name)
				continue
			}
		}
		fields[f.Name] = f.Value.Interface()
	}
	if len(fields) == 0 {
		return telemetry.NothingToPersist()
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.cfg.Database,
		Precision: "ns",
	})
	if err != nil {
		return telemetry.WriteFailed(fmt.Errorf("%w: %w", telemetry.ErrSinkWrite, err))
	}
	pt, err := client.NewPoint(s.cfg.Measurement, s.cfg.Tags, fields, ts.UTC())
	if err != nil {
		return telemetry.WriteFailed(fmt.Errorf("%w: %w", telemetry.ErrSinkWrite, err))
	}
	bp.AddPoint(pt)

	if err := s.client.Write(bp); err != nil {
		return telemetry.WriteFailed(fmt.Errorf("%w: %w", telemetry.ErrSinkWrite, err))
	}
	s.logger.Debug("point written", "database", s.cfg.Database, "measurement", s.cfg.Measurement, "fields", len(fields))
	return telemetry.Persisted(len(fields))
}

func (s *Influx) Close() error {
	return s.client.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), `"`, `\"`) + `"`
}
