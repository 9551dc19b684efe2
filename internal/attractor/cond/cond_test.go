package cond

import (
	"testing"

	"github.com/anishkny/attractor/internal/attractor/runtime"
)

func TestEvaluateEmptyConditionIsAlwaysTrue(t *testing.T) {
	ok, err := Evaluate("", runtime.Outcome{}, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("empty condition should evaluate to true")
	}
}

func TestEvaluateOutcomeEquality(t *testing.T) {
	outcome := runtime.Outcome{Status: runtime.StatusSuccess}
	ok, err := Evaluate("outcome=success", outcome, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("outcome=success should match a success outcome")
	}
}

func TestEvaluateOutcomeInequality(t *testing.T) {
	outcome := runtime.Outcome{Status: runtime.StatusFail}
	ok, err := Evaluate("outcome!=success", outcome, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("outcome!=success should match a fail outcome")
	}
}

func TestEvaluateOutcomeAliasCanonicalization(t *testing.T) {
	outcome := runtime.Outcome{Status: runtime.StatusFail}
	ok, err := Evaluate("outcome=failure", outcome, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("outcome=failure should canonicalize to match a fail outcome")
	}
}

func TestEvaluateShortCircuitsAnd(t *testing.T) {
	outcome := runtime.Outcome{Status: runtime.StatusSuccess, PreferredLabel: "retry"}
	ok, err := Evaluate("outcome=success && preferred_label=done", outcome, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Error("expected the second clause to fail the overall AND")
	}
}

func TestEvaluateAndRequiresAllClauses(t *testing.T) {
	outcome := runtime.Outcome{Status: runtime.StatusSuccess, PreferredLabel: "done"}
	ok, err := Evaluate("outcome=success && preferred_label=done", outcome, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("expected both clauses to hold")
	}
}

func TestEvaluateMissingContextKeyResolvesToEmptyString(t *testing.T) {
	ok, err := Evaluate("context.missing=", runtime.Outcome{}, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("a missing context key should resolve to empty string")
	}
}

func TestEvaluateContextKeyLookup(t *testing.T) {
	ctx := runtime.NewContext()
	ctx.Set("owner", "alice")
	ok, err := Evaluate("context.owner=alice", runtime.Outcome{}, ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("context.owner=alice should match")
	}
}

func TestEvaluateBareKeyTruthiness(t *testing.T) {
	ctx := runtime.NewContext()
	ctx.Set("ready", "false")
	ok, err := Evaluate("context.ready", runtime.Outcome{}, ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("context.ready=false is a non-empty value and should be truthy as a bare clause")
	}
}

func TestEvaluateBlankClausesAreIgnored(t *testing.T) {
	outcome := runtime.Outcome{Status: runtime.StatusSuccess}
	ok, err := Evaluate("outcome=success &&  && ", outcome, runtime.NewContext())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("blank clauses between && should be skipped, not fail the match")
	}
}
