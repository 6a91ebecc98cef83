package common

import (
	"errors"
	"testing"
)

type staticPauses map[string]bool

func (s staticPauses) IsPaused(module string) bool { return s[module] }

func TestGuardActionModuleWide(t *testing.T) {
	view := staticPauses{"lending": true}
	if err := GuardAction(view, "lending", "deposit"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestGuardActionSingleAction(t *testing.T) {
	view := staticPauses{"lending.borrow": true}
	if err := GuardAction(view, "lending", "borrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected borrow paused, got %v", err)
	}
	if err := GuardAction(view, "lending", "repay"); err != nil {
		t.Fatalf("repay should not be paused: %v", err)
	}
}

func TestPauseSetAnyView(t *testing.T) {
	set := PauseSet{nil, staticPauses{}, staticPauses{"lending.repay": true}}
	if !set.IsPaused("lending.repay") {
		t.Fatalf("expected pause from third view")
	}
	if set.IsPaused("lending") {
		t.Fatalf("module should not be paused")
	}
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
}
