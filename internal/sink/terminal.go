package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TerminalSink writes races to an io.Writer (typically os.Stderr) in the
// banner format the teacher's RaceReport.Format produces, guarded by a
// mutex so concurrent WriteRace calls never interleave their banners.
// Close closes the writer unless it is os.Stdout or os.Stderr.
type TerminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalSink wraps w as a Sink.
func NewTerminalSink(w io.Writer) *TerminalSink {
	return &TerminalSink{w: w}
}

func (s *TerminalSink) WriteRace(r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.w, "==================\n")
	fmt.Fprintf(s.w, "WARNING: DATA RACE\n")
	fmt.Fprintf(s.w, "%s at 0x%016x by goroutine %d:\n", r.Current.Type, r.Current.Addr, r.Current.ThreadID)
	fmt.Fprint(s.w, FormatStack(r.Current.StackTrace))
	fmt.Fprintf(s.w, "\n")
	fmt.Fprintf(s.w, "Previous %s at 0x%016x by goroutine %d:\n", r.Previous.Type, r.Previous.Addr, r.Previous.ThreadID)
	fmt.Fprint(s.w, FormatStack(r.Previous.StackTrace))
	fmt.Fprintf(s.w, "==================\n")
	return nil
}

func (s *TerminalSink) Flush() error {
	if f, ok := s.w.(interface{ Sync() error }); ok {
		return f.Sync()
	}
	return nil
}

func (s *TerminalSink) Close() error {
	if s.w == io.Writer(os.Stdout) || s.w == io.Writer(os.Stderr) {
		return nil
	}
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
