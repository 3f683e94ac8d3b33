// Package sink implements the Sink capability set from spec §6:
// {write_race, flush, close}, plus three concrete Sinks (XML, terminal,
// in-memory) and the Report shape a Collector hands to them.
//
// The teacher's internal/race/detector/report.go formats directly to
// os.Stderr with fmt.Fprintf inside the detector, with no seam for an
// alternate destination. Sink pulls that formatting out from under the
// detector into its own capability, generalizing the teacher's
// RaceReport/Format idiom into an interface so the XML and in-memory
// variants can reuse the same Report construction.
package sink

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/kelenar/hbrace/internal/shadow"
)

// AccessType mirrors the teacher's detector.AccessType.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
)

func (a AccessType) String() string {
	if a == AccessWrite {
		return "Write"
	}
	return "Read"
}

// AccessReport is one side of a reported race.
type AccessReport struct {
	Type       AccessType
	Addr       uintptr
	ThreadID   uint32
	StackTrace []uintptr
}

// Report is a single, sink-ready race. Field names and shape intentionally
// parallel the teacher's RaceReport so Format logic reads the same way.
type Report struct {
	Current  AccessReport
	Previous AccessReport
}

// ReportFromRace converts a detected shadow.Race into a Sink-facing
// Report. Current is always the race's Second access (the one whose
// check found the race) and Previous its First; the ShadowMap does not
// track wall-clock order between the two accesses beyond that.
func ReportFromRace(r *shadow.Race) *Report {
	toAccess := func(a shadow.AccessSnapshot) AccessReport {
		typ := AccessRead
		if a.IsWrite {
			typ = AccessWrite
		}
		return AccessReport{
			Type:       typ,
			Addr:       a.Addr,
			ThreadID:   uint32(a.Tid),
			StackTrace: a.CapturedStack,
		}
	}
	return &Report{
		Current:  toAccess(r.Second),
		Previous: toAccess(r.First),
	}
}

// FormatStack renders pcs the way the teacher's formatStackTrace does,
// filtering runtime and detector-internal frames.
func FormatStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return "  (no stack trace available)\n"
	}

	frames := runtime.CallersFrames(pcs)
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if strings.HasPrefix(frame.Function, "runtime.") ||
			strings.Contains(frame.Function, "/hbrace/internal/") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&buf, "  %s()\n", frame.Function)
		fmt.Fprintf(&buf, "      %s:%d +0x%x\n", frame.File, frame.Line, frame.PC&0xfff)
		if !more {
			break
		}
	}
	if buf.Len() == 0 {
		return "  (all frames filtered)\n"
	}
	return buf.String()
}

// Sink is the {write_race, flush, close} capability set from spec §6.
// Every Sink implementation must be safe for concurrent WriteRace calls,
// since a Collector may forward from multiple detector goroutines.
type Sink interface {
	WriteRace(r *Report) error
	Flush() error
	Close() error
}
