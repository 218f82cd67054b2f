package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SourceResult summarizes one source's contribution to a cycle.
type SourceResult struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Fields    int    `json:"fields"`
	Reason    string `json:"reason,omitempty"`
	AuxError  string `json:"auxError,omitempty"`
}

// CycleReport is the summary of one poll-merge-write iteration.
type CycleReport struct {
	ID       string         `json:"id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Sources  []SourceResult `json:"sources"`
	Outcome  OutcomeKind    `json:"outcome"`
	Fields   int            `json:"fields"`
	Error    string         `json:"error,omitempty"`
	Record   FlatRecord     `json:"record"`
}

// Observer receives every cycle report once the cycle has finished.
type Observer interface {
	ObserveCycle(report CycleReport)
}

// Poller runs cycles over a fixed set of sources and one sink.
type Poller struct {
	sources   []Source
	sink      Sink
	sep       string
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

func WithSeparator(sep string) Option {
	return func(p *Poller) { p.sep = sep }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

func WithObservers(obs ...Observer) Option {
	return func(p *Poller) { p.observers = append(p.observers, obs...) }
}

// WithClock overrides time.Now for cycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// NewPoller creates a Poller. Sources are polled in the order given.
func NewPoller(sources []Source, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		sources: sources,
		sink:    sink,
		sep:     DefaultSeparator,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Collect polls every source sequentially and merges what is available.
func Collect(ctx context.Context, sources []Source, sep string) (FlatRecord, []SourceStatus) {
	statuses := make([]SourceStatus, 0, len(sources))
	for _, src := range sources {
		statuses = append(statuses, Isolate(ctx, src, sep))
	}
	return Merge(statuses, sep), statuses
}

// Collect polls and merges without writing.
func (p *Poller) Collect(ctx context.Context) (FlatRecord, []SourceStatus) {
	return Collect(ctx, p.sources, p.sep)
}

// RunCycle executes one cycle. Cancellation is honoured before the cycle
// and while sources are fetched; a write that has started always completes.
func (p *Poller) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{ID: uuid.NewString(), Started: p.now()}

	if ctx.Err() != nil {
		return p.finish(report, Outcome{Kind: OutcomeCancelled, Err: ctx.Err()})
	}

	merged, statuses := p.Collect(ctx)
	report.Sources = p.summarize(statuses)

	if ctx.Err() != nil {
		return p.finish(report, Outcome{Kind: OutcomeCancelled, Err: ctx.Err()})
	}

	report.Record = merged
	if merged.Len() == 0 {
		return p.finish(report, NothingToPersist())
	}
	return p.finish(report, p.write(context.WithoutCancel(ctx), merged, p.now()))
}

func (p *Poller) write(ctx context.Context, rec FlatRecord, ts time.Time) (out Outcome) {
	if p.sink == nil {
		return WriteFailed(fmt.Errorf("%w: no sink configured", ErrSinkWrite))
	}
	defer func() {
		if r := recover(); r != nil {
			out = WriteFailed(fmt.Errorf("%w: panic: %v", ErrSinkWrite, r))
		}
	}()
	return p.sink.Write(ctx, rec, ts)
}

func (p *Poller) summarize(statuses []SourceStatus) []SourceResult {
	results := make([]SourceResult, 0, len(statuses))
	for _, st := range statuses {
		res := SourceResult{
			Name:      st.Source,
			Available: st.Available,
			Fields:    st.Record.Len(),
			Reason:    st.Reason(),
		}
		if !st.Available {
			p.logger.Warn("source unavailable", "source", st.Source, "error", st.Err)
		}
		if st.AuxErr != nil {
			res.AuxError = st.AuxErr.Error()
			p.logger.Warn("auxiliary read failed", "source", st.Source, "error", st.AuxErr)
		}
		results = append(results, res)
	}
	return results
}

func (p *Poller) finish(report CycleReport, out Outcome) CycleReport {
	report.Finished = p.now()
	report.Outcome = out.Kind
	report.Fields = out.Fields
	if out.Err != nil {
		report.Error = out.Err.Error()
	}

	available := make([]string, 0, len(report.Sources))
	for _, s := range report.Sources {
		if s.Available {
			available = append(available, s.Name)
		}
	}

	switch out.Kind {
	case OutcomePersisted:
		p.logger.Info("cycle complete", "cycle", report.ID, "available", available, "outcome", out.Kind, "fields", out.Fields)
	case OutcomeNothingToPersist:
		p.logger.Info("no data available to save", "cycle", report.ID, "available", available, "outcome", out.Kind)
	case OutcomeWriteError:
		p.logger.Error("cycle write failed", "cycle", report.ID, "available", available, "error", out.Err)
	case OutcomeCancelled:
		p.logger.Info("cycle cancelled", "cycle", report.ID)
	}
	if report.Record.Len() > 0 {
		p.logger.Debug("cycle record", "cycle", report.ID, "record", report.Record)
	}

	for _, o := range p.observers {
		o.ObserveCycle(report)
	}
	return report
}

// Close releases the sink and any source holding a connection.
func (p *Poller) Close() error {
	var errs []error
	if p.sink != nil {
		errs = append(errs, p.sink.Close())
	}
	for _, src := range p.sources {
		errs = append(errs, closeSource(src))
	}
	return errors.Join(errs...)
}
