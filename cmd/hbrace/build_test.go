package main

import "testing"

func TestOutputFileFlagSpaceForm(t *testing.T) {
	if got := outputFileFlag([]string{"-o", "myapp", "."}); got != "myapp" {
		t.Errorf("outputFileFlag() = %q, want myapp", got)
	}
}

func TestOutputFileFlagEqualsForm(t *testing.T) {
	if got := outputFileFlag([]string{"-o=myapp", "."}); got != "myapp" {
		t.Errorf("outputFileFlag() = %q, want myapp", got)
	}
}

func TestOutputFileFlagAbsent(t *testing.T) {
	if got := outputFileFlag([]string{"-v", "."}); got != "" {
		t.Errorf("outputFileFlag() = %q, want empty", got)
	}
}
