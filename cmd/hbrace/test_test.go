package main

import "testing"

func TestSplitTestArgsPackagesAndFlags(t *testing.T) {
	packages, flags := splitTestArgs([]string{"-v", "-run=TestFoo", "./internal/...", "./cmd/..."})

	wantFlags := []string{"-v", "-run=TestFoo"}
	if len(flags) != len(wantFlags) {
		t.Fatalf("flags = %v, want %v", flags, wantFlags)
	}
	for i := range wantFlags {
		if flags[i] != wantFlags[i] {
			t.Errorf("flags[%d] = %q, want %q", i, flags[i], wantFlags[i])
		}
	}

	wantPackages := []string{"./internal/...", "./cmd/..."}
	if len(packages) != len(wantPackages) {
		t.Fatalf("packages = %v, want %v", packages, wantPackages)
	}
}

func TestSplitTestArgsFlagWithSeparateValue(t *testing.T) {
	packages, flags := splitTestArgs([]string{"-run", "TestFoo", "./..."})

	if len(flags) != 2 || flags[0] != "-run" || flags[1] != "TestFoo" {
		t.Errorf("flags = %v, want [-run TestFoo]", flags)
	}
	if len(packages) != 1 || packages[0] != "./..." {
		t.Errorf("packages = %v, want [./...]", packages)
	}
}

func TestSplitTestArgsNoPackages(t *testing.T) {
	packages, _ := splitTestArgs([]string{"-v"})
	if len(packages) != 0 {
		t.Errorf("packages = %v, want none", packages)
	}
}
