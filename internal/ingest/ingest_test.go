package ingest

import "testing"

func TestAppendReportsFullAtCapacity(t *testing.T) {
	cb := NewControlBlock()
	full := false
	for i := 0; i < bufferCapacity; i++ {
		full = cb.Append(MemRef{Addr: uint64(i), Size: 8})
	}
	if !full {
		t.Fatal("expected Append to report full once capacity is reached")
	}
	if cb.Len() != bufferCapacity {
		t.Errorf("Len() = %d, want %d", cb.Len(), bufferCapacity)
	}
}

func TestDrainResetsBuffer(t *testing.T) {
	cb := NewControlBlock()
	cb.Append(MemRef{Addr: 1})
	cb.Append(MemRef{Addr: 2})

	refs := cb.Drain()
	if len(refs) != 2 {
		t.Fatalf("Drain() returned %d refs, want 2", len(refs))
	}
	if cb.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", cb.Len())
	}
	if second := cb.Drain(); second != nil {
		t.Errorf("Drain() on empty buffer = %v, want nil", second)
	}
}

func TestControlWordDisabledBitIndependentOfSamplingBudget(t *testing.T) {
	cb := NewControlBlock()
	cb.SetSamplingBudget(42)
	cb.SetDisabled(true)

	if !cb.Disabled() {
		t.Error("expected Disabled() true after SetDisabled(true)")
	}
	if cb.SamplingBudget() != 42 {
		t.Errorf("SamplingBudget() = %d, want 42 (must survive SetDisabled)", cb.SamplingBudget())
	}

	cb.SetDisabled(false)
	if cb.Disabled() {
		t.Error("expected Disabled() false after SetDisabled(false)")
	}
	if cb.SamplingBudget() != 42 {
		t.Errorf("SamplingBudget() = %d, want 42 (must survive SetDisabled)", cb.SamplingBudget())
	}
}

func TestSetSamplingBudgetOverwritesLow32Bits(t *testing.T) {
	cb := NewControlBlock()
	cb.SetSamplingBudget(100)
	cb.SetSamplingBudget(7)
	if cb.SamplingBudget() != 7 {
		t.Errorf("SamplingBudget() = %d, want 7", cb.SamplingBudget())
	}
}
