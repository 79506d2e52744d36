package phase

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Scoring, Continuing, true},
		{Continuing, Planning, true},
		{Continuing, Executing, true},
		{Planning, Executing, true},
		{Executing, Scoring, true},
		{Scoring, Completed, true},
		{Executing, Halted, true},
		{Paused, Planning, true},

		{Planning, Continuing, false},
		{Executing, Continuing, false},
		{Continuing, Scoring, false},
		{Completed, Planning, false},
		{Halted, Executing, false},
		{Failed, Failed, false},
		{Planning, Planning, false},
	}
	for _, tc := range cases {
		if got := IsValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestContinuingOnlyFromScoring(t *testing.T) {
	for from := range transitions {
		if from == Scoring {
			continue
		}
		if IsValidTransition(from, Continuing) {
			t.Errorf("%s must not reach continuing directly", from)
		}
	}
}

func TestCategories(t *testing.T) {
	cases := map[State]Category{
		Planning:   CategoryActive,
		Executing:  CategoryActive,
		Scoring:    CategoryActive,
		Continuing: CategoryActive,
		Paused:     CategoryPaused,
		Completed:  CategoryTerminal,
		Failed:     CategoryTerminal,
		Halted:     CategoryTerminal,
	}
	for s, want := range cases {
		if got := CategoryOf(s); got != want {
			t.Errorf("CategoryOf(%s) = %s, want %s", s, got, want)
		}
	}
}

func TestMachineGuardedTransition(t *testing.T) {
	m := NewMachine()
	if m.Current() != Planning {
		t.Fatalf("fresh machine must start in planning, got %s", m.Current())
	}

	for _, next := range []State{Executing, Scoring, Continuing, Planning} {
		if err := m.To(next); err != nil {
			t.Fatalf("To(%s): %v", next, err)
		}
	}

	err := m.To(Continuing)
	if err == nil {
		t.Fatal("planning -> continuing must be rejected")
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if te.From != Planning || te.To != Continuing {
		t.Errorf("error carries wrong edge: %s -> %s", te.From, te.To)
	}
	if m.Current() != Planning {
		t.Errorf("rejected transition must not mutate state, got %s", m.Current())
	}
}

func TestMachineTerminal(t *testing.T) {
	m := Resume(Halted)
	if !m.Terminal() {
		t.Error("halted machine must report terminal")
	}
	if err := m.To(Planning); err == nil {
		t.Error("terminal states have no outgoing edges")
	}

	if NewMachine().Terminal() {
		t.Error("planning is not terminal")
	}
}
