package sink

import "sync"

// MemorySink accumulates Reports in a slice, for tests and for embedding
// scenarios where the caller inspects races programmatically instead of
// parsing a formatted stream.
type MemorySink struct {
	mu      sync.Mutex
	reports []*Report
	closed  bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WriteRace(r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *MemorySink) Flush() error { return nil }

func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Reports returns a copy of the reports accumulated so far.
func (s *MemorySink) Reports() []*Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Report, len(s.reports))
	copy(out, s.reports)
	return out
}

// Closed reports whether Close has been called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
