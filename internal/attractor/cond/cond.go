package cond

import (
	"fmt"
	"strings"

	"github.com/anishkny/attractor/internal/attractor/runtime"
)

// Evaluate evaluates a minimal AND-only boolean expression used on edges to
// gate routing:
//
//	expr  ::= clause ('&&' clause)*
//	clause ::= key ('=' | '!=') literal | key
//	key    ::= "outcome" | "preferred_label" | "context." path | path
//
// A clause with no operator is a truthiness check: the resolved value is
// eligible unless it is the empty string (matching Python's bool("") rule,
// since every other string - including "0" and "false" - is truthy).
// Missing keys resolve to "". All comparisons are exact string comparisons.
func Evaluate(condition string, outcome runtime.Outcome, ctx *runtime.Context) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	for _, clause := range strings.Split(condition, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		ok, err := evalClause(clause, outcome, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, outcome runtime.Outcome, ctx *runtime.Context) (bool, error) {
	if k, v, ok := splitClause(clause, "!="); ok {
		return resolveKey(k, outcome, ctx) != canonicalizeCompareValue(k, v), nil
	}
	if k, v, ok := splitClause(clause, "="); ok {
		return resolveKey(k, outcome, ctx) == canonicalizeCompareValue(k, v), nil
	}
	return resolveKey(strings.TrimSpace(clause), outcome, ctx) != "", nil
}

func splitClause(clause, op string) (key, value string, ok bool) {
	if !strings.Contains(clause, op) {
		return "", "", false
	}
	parts := strings.SplitN(clause, op, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func resolveKey(key string, outcome runtime.Outcome, ctx *runtime.Context) string {
	switch key {
	case "outcome":
		co, err := outcome.Canonicalize()
		if err != nil {
			return string(outcome.Status)
		}
		return string(co.Status)
	case "preferred_label":
		return outcome.PreferredLabel
	}
	if strings.HasPrefix(key, "context.") {
		if ctx != nil {
			if v, ok := ctx.Get(key); ok && v != nil {
				return fmt.Sprint(v)
			}
			// Also try without "context." prefix for convenience.
			short := strings.TrimPrefix(key, "context.")
			if v, ok := ctx.Get(short); ok && v != nil {
				return fmt.Sprint(v)
			}
		}
		return ""
	}
	if ctx != nil {
		if v, ok := ctx.Get(key); ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// canonicalizeCompareValue normalizes the comparison value for outcome conditions
// so that aliases like "skip"/"skipped" and "failure"/"fail" match correctly.
func canonicalizeCompareValue(key, value string) string {
	if key != "outcome" {
		return value
	}
	if canonical, err := runtime.ParseStageStatus(value); err == nil {
		return string(canonical)
	}
	return value
}
