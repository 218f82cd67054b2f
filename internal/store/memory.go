package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

var (
	// ErrNotFound is returned when no cycle matches the request.
	ErrNotFound = errors.New("no cycle reports")
)

// MemoryStore is a concurrency-safe, bounded history of cycle reports.
// It is fed by the poller and read by the HTTP API.
type MemoryStore struct {
	mu sync.RWMutex

	reports []telemetry.CycleReport
	// latest status per source, in first-seen order
	sources     []telemetry.SourceResult
	sourceIndex map[string]int

	// retention configuration
	maxHistory int           // max number of reports kept
	maxAge     time.Duration // optional max age of reports
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		sourceIndex: make(map[string]int),
		maxHistory:  maxHistory,
		maxAge:      maxAge,
		now:         time.Now,
	}
}

// ObserveCycle appends a report and enforces retention.
func (s *MemoryStore) ObserveCycle(report telemetry.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, report)
	for _, src := range report.Sources {
		if i, ok := s.sourceIndex[src.Name]; ok {
			s.sources[i] = src
			continue
		}
		s.sourceIndex[src.Name] = len(s.sources)
		s.sources = append(s.sources, src)
	}

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.reports) > s.maxHistory {
		over := len(s.reports) - s.maxHistory
		s.reports = append(s.reports[:0:0], s.reports[over:]...)
	}

	// Enforce retention by age, always keeping the newest report.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.reports)-1; i++ {
			if !s.reports[i].Started.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			s.reports = append(s.reports[:0:0], s.reports[i:]...)
		}
	}
}

// GetLatest returns the most recent report.
func (s *MemoryStore) GetLatest() (telemetry.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.reports) == 0 {
		return telemetry.CycleReport{}, ErrNotFound
	}
	return s.reports[len(s.reports)-1], nil
}

// GetRange returns all reports started between from and to (inclusive).
func (s *MemoryStore) GetRange(from, to time.Time) ([]telemetry.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []telemetry.CycleReport
	for _, r := range s.reports {
		if !r.Started.Before(from) && !r.Started.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Sources returns the last known status of every source.
func (s *MemoryStore) Sources() []telemetry.SourceResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.SourceResult, len(s.sources))
	copy(out, s.sources)
	return out
}
