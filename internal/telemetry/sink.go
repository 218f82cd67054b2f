package telemetry

import (
	"context"
	"time"
)

// OutcomeKind classifies the result of one cycle's write.
type OutcomeKind string

const (
	OutcomePersisted        OutcomeKind = "persisted"
	OutcomeNothingToPersist OutcomeKind = "nothing_to_persist"
	OutcomeWriteError       OutcomeKind = "write_error"
	OutcomeCancelled        OutcomeKind = "cancelled"
)

// Outcome is what a sink reports for one write.
type Outcome struct {
	Kind   OutcomeKind
	Fields int
	Err    error
}

func Persisted(fields int) Outcome { return Outcome{Kind: OutcomePersisted, Fields: fields} }

func NothingToPersist() Outcome { return Outcome{Kind: OutcomeNothingToPersist} }

func WriteFailed(err error) Outcome { return Outcome{Kind: OutcomeWriteError, Err: err} }

// Sink persists merged records. Implementations must not retain the record.
type Sink interface {
	Write(ctx context.Context, record FlatRecord, ts time.Time) Outcome
	Close() error
}
