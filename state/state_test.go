package state

import (
	"errors"
	"testing"

	"github.com/wfunc/gamerelay/models"
)

func TestMachine_AddAndUseTransition(t *testing.T) {
	m := NewMachine("test")

	if err := m.AddTransition(models.StatusPending, models.StatusReady); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	if err := m.CanTransition(models.StatusPending, models.StatusReady); err != nil {
		t.Errorf("Expected pending -> ready to be allowed, got: %v", err)
	}

	err := m.CanTransition(models.StatusReady, models.StatusResolved)
	if !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected ErrTransitionNotAllowed, but got: %v", err)
	}
}

func TestMachine_RejectsBackwardEdge(t *testing.T) {
	m := NewMachine("test")

	if err := m.AddTransition(models.StatusReady, models.StatusPending); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected backward edge to be rejected, got: %v", err)
	}
	if err := m.AddTransition(models.StatusReady, models.StatusReady); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected self edge to be rejected, got: %v", err)
	}
}

func TestKindMachines(t *testing.T) {
	tests := []struct {
		kind    models.GameKind
		from    models.Status
		to      models.Status
		allowed bool
	}{
		{models.KindCoinFlip, models.StatusPending, models.StatusResolved, true},
		{models.KindCoinFlip, models.StatusPending, models.StatusReady, false},
		{models.KindRockPaperScissors, models.StatusPending, models.StatusResolved, true},
		{models.KindRockPaperScissors, models.StatusResolved, models.StatusPending, false},
		{models.KindNumberGuess, models.StatusPending, models.StatusReady, true},
		{models.KindNumberGuess, models.StatusReady, models.StatusGuessed, true},
		{models.KindNumberGuess, models.StatusGuessed, models.StatusResolved, true},
		{models.KindNumberGuess, models.StatusPending, models.StatusResolved, false},
		{models.KindNumberGuess, models.StatusReady, models.StatusResolved, false},
		{"unknown", models.StatusPending, models.StatusResolved, false},
	}

	for _, tt := range tests {
		err := Check(tt.kind, tt.from, tt.to)
		if tt.allowed && err != nil {
			t.Errorf("%s %s -> %s: expected allowed, got %v", tt.kind, tt.from, tt.to, err)
		}
		if !tt.allowed && !errors.Is(err, ErrTransitionNotAllowed) {
			t.Errorf("%s %s -> %s: expected ErrTransitionNotAllowed, got %v", tt.kind, tt.from, tt.to, err)
		}
	}
}

func TestResolvedIsTerminal(t *testing.T) {
	for _, kind := range models.Kinds {
		m := For(kind)
		if m == nil {
			t.Fatalf("no machine for %s", kind)
		}
		if !m.Terminal(models.StatusResolved) {
			t.Errorf("%s: resolved should be terminal", kind)
		}
		if m.Terminal(models.StatusPending) {
			t.Errorf("%s: pending should not be terminal", kind)
		}
	}
}
