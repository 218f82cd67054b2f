package telemetry

import (
	"context"
	"io"
)

// Source abstracts one telemetry origin (an inverter, a weather service).
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Reading, error)
}

// AuxiliarySource is implemented by sources with an optional secondary read
// whose failure must not discard the primary reading.
type AuxiliarySource interface {
	Source
	FetchAuxiliary(ctx context.Context) (Reading, error)
}

// SourceStatus is the outcome of polling one source in one cycle.
type SourceStatus struct {
	Source    string
	Available bool
	Record    FlatRecord
	Err       error
	AuxErr    error
}

// Reason describes why the source is unavailable, or "" if it is not.
func (s SourceStatus) Reason() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// closeSource closes sources that hold a connection.
func closeSource(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
