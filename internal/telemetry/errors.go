package telemetry

import "errors"

var (
	// ErrSourceUnavailable marks a transport or protocol failure of one
	// source. It is contained within the cycle.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaBootstrap means the file sink could not determine its column
	// set. Fatal at startup.
	ErrSchemaBootstrap = errors.New("schema bootstrap failed")

	// ErrSinkConnection means the persistence backend could not be reached
	// or created at startup. Fatal.
	ErrSinkConnection = errors.New("sink connection failed")

	// ErrSinkWrite marks a failed write of a single cycle.
	ErrSinkWrite = errors.New("sink write failed")
)
