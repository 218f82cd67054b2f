package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

const (
	timestampColumn = "timestamp"
	rowTimeLayout   = "2006-01-02 15:04:05"
)

// BootstrapFunc produces the record whose keys become the file's columns.
type BootstrapFunc func(ctx context.Context) (telemetry.FlatRecord, error)

// CSV appends one row per cycle to a file whose columns are fixed when the
// file is created. Rows carry no field names, so values are always written
// in header order, with empty cells for missing fields. Fields that are
// not in the header are dropped.
type CSV struct {
	path   string
	schema []string
	loc    *time.Location
	logger *slog.Logger
}

// OpenCSV prepares the file sink. An existing file keeps the columns of its
// header row; otherwise bootstrap is called once and the file is created
// with a header built from the returned keys.
func OpenCSV(ctx context.Context, path string, bootstrap BootstrapFunc, logger *slog.Logger) (*CSV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CSV{path: path, loc: time.Local, logger: logger}

	schema, err := readSchema(path)
	switch {
	case err == nil:
		s.schema = schema
		logger.Info("appending to existing CSV file", "path", path, "columns", len(schema))
		return s, nil
	case !errors.Is(err, os.ErrNotExist) && !errors.Is(err, io.EOF):
		return nil, err
	}

	rec, err := bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", telemetry.ErrSchemaBootstrap, err)
	}
	if rec.Len() == 0 {
		return nil, fmt.Errorf("%w: initial reading has no fields", telemetry.ErrSchemaBootstrap)
	}
	s.schema = rec.Keys()

	if err := s.create(); err != nil {
		return nil, err
	}
	logger.Info("created CSV file", "path", path, "headers", append([]string{timestampColumn}, s.schema...))
	return s, nil
}

// readSchema returns the fields named by the header row. io.EOF means the
// file exists but is empty.
func readSchema(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", telemetry.ErrSinkConnection, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header of %s: %w", telemetry.ErrSchemaBootstrap, path, err)
	}
	if len(header) < 2 || header[0] != timestampColumn {
		return nil, fmt.Errorf("%w: %s does not start with a %q header", telemetry.ErrSchemaBootstrap, path, timestampColumn)
	}
	return header[1:], nil
}

func (s *CSV) create() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", telemetry.ErrSinkConnection, err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", telemetry.ErrSinkConnection, err)
	}
	if err := writeRow(f, append([]string{timestampColumn}, s.schema...)); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write header: %w", telemetry.ErrSinkConnection, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", telemetry.ErrSinkConnection, err)
	}
	return nil
}

// Schema returns the fixed column names, without the timestamp column.
func (s *CSV) Schema() []string {
	out := make([]string, len(s.schema))
	copy(out, s.schema)
	return out
}

// Write opens the file, appends one row, syncs and closes it again.
func (s *CSV) Write(_ context.Context, rec telemetry.FlatRecord, ts time.Time) telemetry.Outcome {
	if rec.Len() == 0 {
		return telemetry.NothingToPersist()
	}

	row := make([]string, 0, len(s.schema)+1)
	row = append(row, ts.In(s.loc).Format(rowTimeLayout))
	written := 0
	for _, name := range s.schema {
		v, ok := rec.Get(name)
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, v.String())
		written++
	}

	if dropped := rec.Len() - written; dropped > 0 {
		s.logger.Debug("fields not in CSV header dropped", "path", s.path, "dropped", dropped)
	}
	if written == 0 {
		return telemetry.NothingToPersist()
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return telemetry.WriteFailed(fmt.Errorf("%w: %w", telemetry.ErrSinkWrite, err))
	}
	if err := writeRow(f, row); err != nil {
		_ = f.Close()
		return telemetry.WriteFailed(fmt.Errorf("%w: %w", telemetry.ErrSinkWrite, err))
	}
	if err := f.Close(); err != nil {
		return telemetry.WriteFailed(fmt.Errorf("%w: %w", telemetry.ErrSinkWrite, err))
	}

	s.logger.Debug("data saved", "path", s.path)
	return telemetry.Persisted(written)
}

// Close is a no-op: the file is never held open between writes.
func (s *CSV) Close() error { return nil }

func writeRow(f *os.File, row []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
