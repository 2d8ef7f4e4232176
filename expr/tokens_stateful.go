package expr

import (
	"sort"
	"time"

	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

// sample is one (value, timestamp) observation kept by a stateful token's
// window.
type sample struct {
	v float64
	t time.Time
}

// AggKind identifies which reduction a windowed aggregate token applies.
type AggKind int

const (
	AggAvg AggKind = iota
	AggSum
	AggMin
	AggMax
	AggCount
	AggMedian
)

// windowAggToken is a running aggregate over a trailing time window: a
// bounded FIFO keyed on timestamps, evicting entries older than the
// window on every update (spec §4.1).
type windowAggToken struct {
	baseToken
	kind   AggKind
	window time.Duration
	buf    []sample
}

func newWindowAgg(kind AggKind, window time.Duration) Token {
	return &windowAggToken{baseToken: baseToken{arity: 1}, kind: kind, window: window}
}

func (t *windowAggToken) HasState() bool { return true }

func (t *windowAggToken) Reset() { t.buf = nil }

func (t *windowAggToken) Apply(stack *Stack, now time.Time) error {
	operand, ok := stack.Pop()
	if !ok {
		return internalerrors.EvalNoOperand(stack.Len())
	}
	f, err := operand.AsFloat()
	if err != nil {
		return internalerrors.EvalTypeMismatch("aggregate")
	}
	stamp := operand.Stamp
	if stamp.IsZero() {
		stamp = now
	}

	cutoff := stamp.Add(-t.window)
	kept := t.buf[:0]
	for _, s := range t.buf {
		if !s.t.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	t.buf = append(kept, sample{v: f, t: stamp})

	stack.Push(NewDouble(reduceSamples(t.kind, t.buf), now))
	return nil
}

func reduceSamples(kind AggKind, buf []sample) float64 {
	if len(buf) == 0 {
		return 0
	}
	switch kind {
	case AggCount:
		return float64(len(buf))
	case AggSum:
		var sum float64
		for _, s := range buf {
			sum += s.v
		}
		return sum
	case AggAvg:
		var sum float64
		for _, s := range buf {
			sum += s.v
		}
		return sum / float64(len(buf))
	case AggMin:
		m := buf[0].v
		for _, s := range buf[1:] {
			if s.v < m {
				m = s.v
			}
		}
		return m
	case AggMax:
		m := buf[0].v
		for _, s := range buf[1:] {
			if s.v > m {
				m = s.v
			}
		}
		return m
	case AggMedian:
		vals := make([]float64, len(buf))
		for i, s := range buf {
			vals[i] = s.v
		}
		sort.Float64s(vals)
		n := len(vals)
		if n%2 == 1 {
			return vals[n/2]
		}
		return (vals[n/2-1] + vals[n/2]) / 2
	}
	return 0
}

// ResetBoundary identifies the recurring calendar boundary a reset
// aggregate clears its window on.
type ResetBoundary int

const (
	ResetHour ResetBoundary = iota
	ResetDay
	ResetMonth
	ResetYear
)

// boundaryKey returns a comparable key identifying which boundary period
// t falls into.
func boundaryKey(b ResetBoundary, t time.Time) [4]int {
	switch b {
	case ResetHour:
		return [4]int{t.Year(), t.YearDay(), t.Hour(), 0}
	case ResetDay:
		return [4]int{t.Year(), t.YearDay(), 0, 0}
	case ResetMonth:
		return [4]int{t.Year(), int(t.Month()), 0, 0}
	case ResetYear:
		return [4]int{t.Year(), 0, 0, 0}
	}
	return [4]int{}
}

// resetAggToken additionally tracks a reset boundary derived from the
// stamp of the last input; crossing the boundary clears the window
// before inserting the new sample (spec §4.1).
type resetAggToken struct {
	baseToken
	kind      AggKind
	boundary  ResetBoundary
	buf       []sample
	lastKey   [4]int
	haveKey   bool
}

func newResetAgg(kind AggKind, boundary ResetBoundary) Token {
	return &resetAggToken{baseToken: baseToken{arity: 1}, kind: kind, boundary: boundary}
}

func (t *resetAggToken) HasState() bool { return true }

func (t *resetAggToken) Reset() {
	t.buf = nil
	t.haveKey = false
}

func (t *resetAggToken) Apply(stack *Stack, now time.Time) error {
	operand, ok := stack.Pop()
	if !ok {
		return internalerrors.EvalNoOperand(stack.Len())
	}
	f, err := operand.AsFloat()
	if err != nil {
		return internalerrors.EvalTypeMismatch("aggregate")
	}
	stamp := operand.Stamp
	if stamp.IsZero() {
		stamp = now
	}

	key := boundaryKey(t.boundary, stamp)
	if !t.haveKey || key != t.lastKey {
		t.buf = nil
		t.lastKey = key
		t.haveKey = true
	}
	t.buf = append(t.buf, sample{v: f, t: stamp})

	stack.Push(NewDouble(reduceSamples(t.kind, t.buf), now))
	return nil
}

// valueAtTimeToken returns the closest sample whose stamp <= the
// requested time; NaN if none exists (spec §4.1 "ValueAtTime").
type valueAtTimeToken struct {
	baseToken
	history []sample
}

func newValueAtTime() Token {
	return &valueAtTimeToken{baseToken: baseToken{arity: 2}}
}

func (t *valueAtTimeToken) HasState() bool { return true }

func (t *valueAtTimeToken) Reset() { t.history = nil }

func (t *valueAtTimeToken) Apply(stack *Stack, now time.Time) error {
	requested, ok1 := stack.Pop()
	value, ok2 := stack.Pop()
	if !ok1 || !ok2 {
		return internalerrors.EvalNoOperand(stack.Len())
	}

	f, err := value.AsFloat()
	if err != nil {
		return internalerrors.EvalTypeMismatch("value_at_time")
	}
	stamp := value.Stamp
	if stamp.IsZero() {
		stamp = now
	}
	t.history = append(t.history, sample{v: f, t: stamp})

	var target time.Time
	switch requested.Kind {
	case KindTimestamp:
		target = requested.Time
	default:
		rf, ferr := requested.AsFloat()
		if ferr != nil {
			return internalerrors.EvalTypeMismatch("value_at_time")
		}
		target = time.Unix(0, int64(rf))
	}

	best := -1
	for i, s := range t.history {
		if s.t.After(target) {
			continue
		}
		if best == -1 || s.t.After(t.history[best].t) {
			best = i
		}
	}
	if best == -1 {
		stack.Push(NewDouble(nanValue(), now))
		return nil
	}
	stack.Push(NewDouble(t.history[best].v, now))
	return nil
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}
