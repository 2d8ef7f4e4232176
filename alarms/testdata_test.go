package alarms

import (
	"testing"
	"time"

	"github.com/campbell-alarms/engine/expr"
)

func mustExpr(t *testing.T, factory *expr.TokenFactory, text string) *expr.ExpressionHandler {
	t.Helper()
	h, _, err := factory.MakeExpression(text, expr.Defaults{})
	if err != nil {
		t.Fatalf("MakeExpression(%q): %v", text, err)
	}
	return h
}

func TestTestDataLatchless(t *testing.T) {
	factory := expr.NewTokenFactory()
	on := mustExpr(t, factory, "Value > 100")
	td := NewTestData("Value > 100", on, "", nil)

	now := time.Now()
	td.OnStarted(now)

	triggered, err := td.OnValue(expr.NewDouble(50, now), now)
	if err != nil || triggered {
		t.Fatalf("expected untriggered at 50, got %v err=%v", triggered, err)
	}

	triggered, err = td.OnValue(expr.NewDouble(101, now), now)
	if err != nil || !triggered {
		t.Fatalf("expected triggered at 101, got %v err=%v", triggered, err)
	}

	triggered, err = td.OnValue(expr.NewDouble(50, now), now)
	if err != nil || triggered {
		t.Fatalf("expected untriggered again once on-expr falls, got %v err=%v", triggered, err)
	}
}

func TestTestDataWithOffExpr(t *testing.T) {
	factory := expr.NewTokenFactory()
	on := mustExpr(t, factory, "Value > 100")
	off := mustExpr(t, factory, "Value > 90")
	td := NewTestData("Value > 100", on, "Value > 90", off)

	now := time.Now()
	td.OnStarted(now)

	if triggered, _ := td.OnValue(expr.NewDouble(101, now), now); !triggered {
		t.Fatalf("expected trigger at 101")
	}
	// Value has fallen below the on-expr but the off-expr is still
	// true, so the alarm stays latched on the off-expr's hysteresis.
	if triggered, _ := td.OnValue(expr.NewDouble(95, now), now); !triggered {
		t.Fatalf("expected to remain triggered while off-expr true at 95")
	}
	if triggered, _ := td.OnValue(expr.NewDouble(50, now), now); triggered {
		t.Fatalf("expected to clear once off-expr false at 50")
	}
}

func TestTestDataEvalErrorPreservesState(t *testing.T) {
	factory := expr.NewTokenFactory()
	on := mustExpr(t, factory, "1 / Value")
	td := NewTestData("1 / Value", on, "", nil)
	now := time.Now()
	td.OnStarted(now)

	if _, err := td.OnValue(expr.NewInt(0, now), now); err == nil {
		t.Fatalf("expected divide-by-zero eval error")
	}
	if td.IsTriggered() {
		t.Fatalf("an eval error must not flip triggered state")
	}
}

func TestFindValueVariablesCaseInsensitive(t *testing.T) {
	factory := expr.NewTokenFactory()
	h := mustExpr(t, factory, "value > 10")
	vars := findValueVariables(h)
	if len(vars) != 1 {
		t.Fatalf("expected one case-insensitive match for 'value', got %d", len(vars))
	}
}
