package model

import (
	"strconv"
	"strings"
	"time"
)

// ValueKind identifies the concrete type carried by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindDuration
)

// Value is a typed attribute value parsed out of raw DOT attribute text.
// DOT attributes are always lexed as strings; Value gives callers a way to
// interpret that text as an int, float, bool, or duration without each
// caller re-implementing the same coercion rules.
type Value struct {
	Kind     ValueKind
	Str      string
	Int      int64
	Float    float64
	Bool     bool
	Duration time.Duration
}

// ParseValue infers a Value's kind from raw attribute text.
//
// Duration suffixes (ms, s, m, h, d) are checked before falling back to
// int/float/bool/string so that "30s" isn't misread as a bare string.
func ParseValue(raw string) Value {
	raw = strings.TrimSpace(raw)
	if d, ok := parseDurationSuffixed(raw); ok {
		return Value{Kind: KindDuration, Str: raw, Duration: d}
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Value{Kind: KindInt, Str: raw, Int: i}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Value{Kind: KindFloat, Str: raw, Float: f}
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return Value{Kind: KindBool, Str: raw, Bool: b}
	}
	return Value{Kind: KindString, Str: raw}
}

var durationSuffixes = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

func parseDurationSuffixed(raw string) (time.Duration, bool) {
	for _, ds := range durationSuffixes {
		if !strings.HasSuffix(raw, ds.suffix) {
			continue
		}
		numPart := strings.TrimSuffix(raw, ds.suffix)
		if numPart == "" {
			continue
		}
		n, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			continue
		}
		return time.Duration(n * float64(ds.unit)), true
	}
	return 0, false
}

// String renders the value back to its canonical text form.
func (v Value) String() string {
	return v.Str
}
