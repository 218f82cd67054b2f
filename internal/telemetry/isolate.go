package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Isolate polls one source and converts every failure, including a panic,
// into an unavailable status. It never returns an error.
func Isolate(ctx context.Context, src Source, sep string) SourceStatus {
	status := SourceStatus{Source: src.Name()}

	reading, err := safeFetch(ctx, src.Fetch)
	if err != nil {
		status.Err = unavailable(err)
		return status
	}
	status.Available = true
	status.Record = Flatten(reading, sep)

	aux, ok := src.(AuxiliarySource)
	if !ok {
		return status
	}
	extra, err := safeFetch(ctx, aux.FetchAuxiliary)
	if err != nil {
		status.AuxErr = unavailable(err)
		return status
	}
	status.Record = appendRecord(status.Record, Flatten(extra, sep))
	return status
}

func safeFetch(ctx context.Context, fetch func(context.Context) (Reading, error)) (r Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return fetch(ctx)
}

func unavailable(err error) error {
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

// appendRecord returns a new record with b's fields after a's.
func appendRecord(a, b FlatRecord) FlatRecord {
	var out recordBuilder
	for _, f := range a.fields {
		out.set(f.Name, f.Value)
	}
	for _, f := range b.fields {
		out.set(f.Name, f.Value)
	}
	return out.record()
}
