package gid

import (
	"testing"

	"github.com/kelenar/hbrace/internal/clock"
)

func TestCurrentReturnsPositiveID(t *testing.T) {
	id := Current()
	if id <= 0 {
		t.Errorf("Current() = %d, want a positive goroutine id", id)
	}
}

func TestParseGIDRejectsMalformedHeader(t *testing.T) {
	if got := parseGID([]byte("not a goroutine header")); got != 0 {
		t.Errorf("parseGID(malformed) = %d, want 0", got)
	}
}

func TestParseGIDStopsAtFirstNonDigit(t *testing.T) {
	if got := parseGID([]byte("goroutine 42 [running]:\n")); got != 42 {
		t.Errorf("parseGID = %d, want 42", got)
	}
}

func TestPoolAllocInitialBatchIsAscending(t *testing.T) {
	p := NewPool()
	for i := 0; i < initialPoolSize; i++ {
		if got := p.Alloc(); got != clock.ThreadId(i) {
			t.Fatalf("Alloc()[%d] = %v, want %d", i, got, i)
		}
	}
}

func TestPoolGrowsPastInitialBatch(t *testing.T) {
	p := NewPool()
	for i := 0; i < initialPoolSize; i++ {
		p.Alloc()
	}
	if got := p.Alloc(); got != initialPoolSize {
		t.Errorf("Alloc() past initial batch = %v, want %d", got, initialPoolSize)
	}
}

func TestPoolFreeIsReused(t *testing.T) {
	p := NewPool()
	first := p.Alloc()
	p.Free(first)
	if got := p.Alloc(); got != first {
		t.Errorf("Alloc() after Free = %v, want reused %v", got, first)
	}
}
