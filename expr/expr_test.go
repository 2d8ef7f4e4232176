package expr

import (
	"math"
	"testing"
	"time"
)

func mustExpr(t *testing.T, text string) (*ExpressionHandler, []Request) {
	t.Helper()
	factory := NewTokenFactory()
	h, reqs, err := factory.MakeExpression(text, Defaults{})
	if err != nil {
		t.Fatalf("MakeExpression(%q): %v", text, err)
	}
	return h, reqs
}

func TestArithmeticAndComparison(t *testing.T) {
	h, _ := mustExpr(t, "Temp > 100")
	now := time.Now()
	h.Variables()[0].Assign(NewDouble(101, now))
	v, err := h.Eval(now)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !v.Truthy() {
		t.Fatalf("expected Temp > 100 to be truthy for Temp=101")
	}

	h.Variables()[0].Assign(NewDouble(99, now))
	v, err = h.Eval(now)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v.Truthy() {
		t.Fatalf("expected Temp > 100 to be falsy for Temp=99")
	}
}

func TestIntegerDivisionByZeroFails(t *testing.T) {
	h, _ := mustExpr(t, "10 / 0")
	if _, err := h.Eval(time.Now()); err == nil {
		t.Fatalf("expected integer division by zero to fail")
	}
}

func TestDoubleDivisionByZeroProducesInf(t *testing.T) {
	h, _ := mustExpr(t, "10.0 / 0")
	v, err := h.Eval(time.Now())
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !math.IsInf(v.Double, 1) {
		t.Fatalf("expected +Inf, got %v", v.Double)
	}
}

func TestComparisonNumericVsStringFails(t *testing.T) {
	h, _ := mustExpr(t, "1 < \"a\"")
	if _, err := h.Eval(time.Now()); err == nil {
		t.Fatalf("expected numeric-vs-string comparison to fail")
	}
}

func TestWindowAggregateEvictsOldSamples(t *testing.T) {
	h, _ := mustExpr(t, "avg(Temp, 60000)")
	base := time.Unix(0, 0)

	v := h.Variables()[0]
	v.Assign(NewDouble(10, base))
	if _, err := h.Eval(base); err != nil {
		t.Fatalf("eval: %v", err)
	}

	v.Assign(NewDouble(20, base.Add(70*time.Second)))
	result, err := h.Eval(base.Add(70 * time.Second))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	// The sample at t=0 (< t+70000ms - 60000ms = t+10000ms) must have
	// been evicted, leaving only the new sample.
	if result.Double != 20 {
		t.Fatalf("expected old sample evicted leaving avg=20, got %v", result.Double)
	}
}

func TestResetStateClearsWindow(t *testing.T) {
	h, _ := mustExpr(t, "avg(Temp, 60000)")
	now := time.Now()
	v := h.Variables()[0]
	v.Assign(NewDouble(5, now))
	if _, err := h.Eval(now); err != nil {
		t.Fatalf("eval: %v", err)
	}
	h.ResetState()
	v.Assign(NewDouble(50, now))
	result, err := h.Eval(now)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.Double != 50 {
		t.Fatalf("expected reset window to contain only the new sample, got %v", result.Double)
	}
}

func TestAnnotateSourceIncludesValue(t *testing.T) {
	h, _ := mustExpr(t, "Temp > 100")
	h.Variables()[0].Assign(NewDouble(101, time.Now()))
	annotated := h.AnnotateSource()
	if annotated == h.Text() {
		t.Fatalf("expected annotation to differ from raw text once a variable is bound")
	}
}

func TestRequestsCompatibleShareOneSubscription(t *testing.T) {
	_, reqs := mustExpr(t, "A + B")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 distinct requests for A and B, got %d", len(reqs))
	}
	_, reqs = mustExpr(t, "A + A")
	if len(reqs) != 1 {
		t.Fatalf("expected 1 shared request for A referenced twice, got %d", len(reqs))
	}
}
