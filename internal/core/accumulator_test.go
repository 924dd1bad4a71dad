package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorAccumulator_Counts(t *testing.T) {
	acc := NewErrorAccumulator(0)

	if got := acc.Add(nil); got != "" {
		t.Errorf("Add(nil) = %q, want empty", got)
	}
	if acc.Counts() != nil {
		t.Errorf("Counts() = %v, want nil before any error", acc.Counts())
	}

	acc.Add(fmt.Errorf("line 1: %w", ErrDuplicateKey))
	acc.Add(fmt.Errorf("line 2: %w", ErrNotNull))
	acc.Add(errors.New("value too long for column"))
	if got := acc.Add(errors.New("boom")); got != CategoryUncategorized {
		t.Errorf("Add(boom) = %q, want %q", got, CategoryUncategorized)
	}

	want := map[ErrorCategory]int{
		CategoryConstraint:    2,
		CategoryTruncation:    1,
		CategoryUncategorized: 1,
	}
	got := acc.Counts()
	if len(got) != len(want) {
		t.Fatalf("Counts() = %v, want %v", got, want)
	}
	for cat, n := range want {
		if got[cat] != n {
			t.Errorf("Counts()[%s] = %d, want %d", cat, got[cat], n)
		}
	}
	if acc.Total() != 4 {
		t.Errorf("Total() = %d, want 4", acc.Total())
	}

	got[CategoryConstraint] = 99
	if acc.Counts()[CategoryConstraint] != 2 {
		t.Error("Counts() should return a copy")
	}
}

func TestErrorAccumulator_WarningCap(t *testing.T) {
	acc := NewErrorAccumulator(2)
	acc.Warn("a")
	acc.Warn("b")
	if got := acc.Warnings(); len(got) != 2 {
		t.Fatalf("Warnings() = %v, want 2", got)
	}

	acc.Warn("c")
	acc.Warn("d")
	got := acc.Warnings()
	if len(got) != 3 {
		t.Fatalf("Warnings() = %v, want 2 kept plus a note", got)
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "... and 2 more warnings" {
		t.Errorf("Warnings() = %q", got)
	}
}
