package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kelenar/hbrace/internal/clock"
	"github.com/kelenar/hbrace/internal/shadow"
)

func sampleRace() *shadow.Race {
	return &shadow.Race{
		First: shadow.AccessSnapshot{
			Tid: clock.ThreadId(10), PC: 0x1000, Addr: 0x100000, Size: 8, IsWrite: true,
		},
		Second: shadow.AccessSnapshot{
			Tid: clock.ThreadId(11), PC: 0x2000, Addr: 0x100000, Size: 8, IsWrite: false,
		},
	}
}

func TestReportFromRaceOrdersCurrentAsSecond(t *testing.T) {
	r := ReportFromRace(sampleRace())
	if r.Current.ThreadID != 11 || r.Previous.ThreadID != 10 {
		t.Errorf("got Current.ThreadID=%d Previous.ThreadID=%d, want 11/10", r.Current.ThreadID, r.Previous.ThreadID)
	}
	if r.Current.Type != AccessRead || r.Previous.Type != AccessWrite {
		t.Errorf("got Current.Type=%v Previous.Type=%v, want Read/Write", r.Current.Type, r.Previous.Type)
	}
}

func TestTerminalSinkWritesBanner(t *testing.T) {
	var buf bytes.Buffer
	s := NewTerminalSink(&buf)
	if err := s.WriteRace(ReportFromRace(sampleRace())); err != nil {
		t.Fatalf("WriteRace: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "WARNING: DATA RACE") {
		t.Errorf("terminal output missing banner: %q", out)
	}
	if !strings.Contains(out, "0x0000000000100000") {
		t.Errorf("terminal output missing address: %q", out)
	}
}

func TestMemorySinkAccumulatesAndCloses(t *testing.T) {
	s := NewMemorySink()
	s.WriteRace(ReportFromRace(sampleRace()))
	s.WriteRace(ReportFromRace(sampleRace()))

	if got := len(s.Reports()); got != 2 {
		t.Fatalf("Reports() len = %d, want 2", got)
	}
	if s.Closed() {
		t.Fatal("Closed() true before Close")
	}
	s.Close()
	if !s.Closed() {
		t.Fatal("Closed() false after Close")
	}
}

func TestXMLSinkProducesValgrindCompatibleSchema(t *testing.T) {
	var buf bytes.Buffer
	s := NewXMLSink(&buf, 4242)
	s.WriteRace(ReportFromRace(sampleRace()))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"<valgrindoutput>",
		"<protocolversion>4</protocolversion>",
		"<protocoltool>helgrind</protocoltool>",
		"<pid>4242</pid>",
		"<kind>Race</kind>",
		`unit="ms"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("xml output missing %q; full output:\n%s", want, out)
		}
	}
}

func TestXMLSinkCloseIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	s := NewXMLSink(&buf, 1)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	firstLen := buf.Len()
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if buf.Len() != firstLen {
		t.Error("second Close wrote additional output")
	}
}
