package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recordOf(fields ...telemetry.Field) telemetry.FlatRecord {
	return telemetry.NewFlatRecord(fields...)
}

func field(name string, raw any) telemetry.Field {
	return telemetry.Field{Name: name, Value: telemetry.Coerce(raw)}
}

func bootstrapWith(rec telemetry.FlatRecord, calls *int) BootstrapFunc {
	return func(context.Context) (telemetry.FlatRecord, error) {
		*calls++
		return rec, nil
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

var ts = time.Date(2026, 10, 14, 9, 30, 5, 0, time.UTC)

func openTestCSV(t *testing.T, path string, rec telemetry.FlatRecord, calls *int) *CSV {
	t.Helper()
	s, err := OpenCSV(context.Background(), path, bootstrapWith(rec, calls), quietLogger())
	require.NoError(t, err)
	s.loc = time.UTC
	return s
}

func TestOpenCSVBootstrapsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "inverter.csv")
	var calls int

	s := openTestCSV(t, path, recordOf(field("x", 1), field("y", 2)), &calls)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"x", "y"}, s.Schema())
	assert.Equal(t, [][]string{{"timestamp", "x", "y"}}, readRows(t, path))
}

func TestCSVWriteKeepsColumnPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inverter.csv")
	var calls int
	s := openTestCSV(t, path, recordOf(field("x", 1), field("y", 2)), &calls)

	out := s.Write(context.Background(), recordOf(field("x", 5)), ts)
	require.Equal(t, telemetry.OutcomePersisted, out.Kind, out.Err)
	out = s.Write(context.Background(), recordOf(field("y", "3.5"), field("z", "extra"), field("x", true)), ts)
	require.Equal(t, telemetry.OutcomePersisted, out.Kind, out.Err)
	assert.Equal(t, 2, out.Fields)

	assert.Equal(t, [][]string{
		{"timestamp", "x", "y"},
		{"2026-10-14 09:30:05", "5", ""},
		{"2026-10-14 09:30:05", "1", "3.5"},
	}, readRows(t, path))
}

func TestCSVWriteEmptyRecordIsNothingToPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inverter.csv")
	var calls int
	s := openTestCSV(t, path, recordOf(field("x", 1)), &calls)

	out := s.Write(context.Background(), telemetry.FlatRecord{}, ts)

	assert.Equal(t, telemetry.OutcomeNothingToPersist, out.Kind)
	assert.Len(t, readRows(t, path), 1)
}

func TestCSVWriteWithoutSchemaFieldsIsNothingToPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inverter.csv")
	var calls int
	s := openTestCSV(t, path, recordOf(field("x", 1)), &calls)

	out := s.Write(context.Background(), recordOf(field("z", 7)), ts)

	assert.Equal(t, telemetry.OutcomeNothingToPersist, out.Kind)
	assert.Len(t, readRows(t, path), 1)
}

func TestOpenCSVReusesExistingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inverter.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,a,b\n2026-10-13 10:00:00,1,2\n"), 0o644))
	var calls int

	s := openTestCSV(t, path, recordOf(field("other", 1)), &calls)

	assert.Zero(t, calls)
	assert.Equal(t, []string{"a", "b"}, s.Schema())

	out := s.Write(context.Background(), recordOf(field("b", 4.0), field("a", 3)), ts)
	require.Equal(t, telemetry.OutcomePersisted, out.Kind)
	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2026-10-14 09:30:05", "3", "4.0"}, rows[2])
}

func TestOpenCSVEmptyFileIsBootstrapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inverter.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	var calls int

	openTestCSV(t, path, recordOf(field("x", 1)), &calls)

	assert.Equal(t, 1, calls)
	assert.Equal(t, [][]string{{"timestamp", "x"}}, readRows(t, path))
}

func TestOpenCSVBootstrapFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenCSV(context.Background(), filepath.Join(dir, "a.csv"), func(context.Context) (telemetry.FlatRecord, error) {
		return telemetry.FlatRecord{}, nil
	}, quietLogger())
	assert.ErrorIs(t, err, telemetry.ErrSchemaBootstrap)

	_, err = OpenCSV(context.Background(), filepath.Join(dir, "b.csv"), func(context.Context) (telemetry.FlatRecord, error) {
		return telemetry.FlatRecord{}, errors.New("all sources unavailable")
	}, quietLogger())
	assert.ErrorIs(t, err, telemetry.ErrSchemaBootstrap)

	bad := filepath.Join(dir, "c.csv")
	require.NoError(t, os.WriteFile(bad, []byte("when,x\n"), 0o644))
	var calls int
	_, err = OpenCSV(context.Background(), bad, bootstrapWith(recordOf(field("x", 1)), &calls), quietLogger())
	assert.ErrorIs(t, err, telemetry.ErrSchemaBootstrap)
	assert.Zero(t, calls)
}

func TestCSVWriteFailureIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inverter.csv")
	var calls int
	s := openTestCSV(t, path, recordOf(field("x", 1)), &calls)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	out := s.Write(context.Background(), recordOf(field("x", 1)), ts)

	assert.Equal(t, telemetry.OutcomeWriteError, out.Kind)
	assert.ErrorIs(t, out.Err, telemetry.ErrSinkWrite)
}
