package alarms

import (
	"strings"
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
)

// valueVariableName is the identifier a data test's on-expr/off-expr use
// to refer to the alarm's current source-expression value, e.g.
// "Value > 100".
const valueVariableName = "Value"

// TestData is the data test variant: an on-expression plus an optional
// off-expression (spec §4.2). Its on/off state machine must be
// preserved exactly as specified — user configurations in the wild
// depend on its precise edge-case behavior (spec §9).
type TestData struct {
	onText, offText string
	onExpr          *expr.ExpressionHandler
	offExpr         *expr.ExpressionHandler // nil if no off-expr configured
	onValueVars     []*expr.Variable
	offValueVars    []*expr.Variable

	wasTriggered bool
	hasOnCond    bool
	lastOnErr    string
}

// NewTestData builds a TestData from already-parsed on/off expression
// handlers. offExpr may be nil.
func NewTestData(onText string, onExpr *expr.ExpressionHandler, offText string, offExpr *expr.ExpressionHandler) *TestData {
	t := &TestData{onText: onText, onExpr: onExpr, offText: offText, offExpr: offExpr}
	t.onValueVars = findValueVariables(onExpr)
	if offExpr != nil {
		t.offValueVars = findValueVariables(offExpr)
	}
	return t
}

func findValueVariables(h *expr.ExpressionHandler) []*expr.Variable {
	if h == nil {
		return nil
	}
	var out []*expr.Variable
	for _, v := range h.Variables() {
		if strings.EqualFold(v.Name, valueVariableName) {
			out = append(out, v)
		}
	}
	return out
}

// OnValue implements the exact state machine spec §4.2 describes:
//
//	was_triggered = false initially.
//	On new value:
//	  if !was_triggered && on_expr != 0 -> was_triggered = true; return true
//	  if was_triggered && off_expr present:
//	      return off_expr != 0 ? stay triggered : was_triggered = false
//	  if was_triggered && no off_expr:
//	      return on_expr != 0; clear on false
func (t *TestData) OnValue(v expr.Value, now time.Time) (bool, error) {
	for _, vv := range t.onValueVars {
		vv.Assign(v)
	}
	for _, vv := range t.offValueVars {
		vv.Assign(v)
	}

	onVal, err := t.onExpr.Eval(now)
	if err != nil {
		t.lastOnErr = err.Error()
		return t.wasTriggered, err
	}
	t.lastOnErr = ""
	onTrue := onVal.Truthy()
	t.hasOnCond = onTrue

	if !t.wasTriggered {
		if onTrue {
			t.wasTriggered = true
			return true, nil
		}
		return false, nil
	}

	if t.offExpr != nil {
		offVal, err := t.offExpr.Eval(now)
		if err != nil {
			return t.wasTriggered, err
		}
		if offVal.Truthy() {
			return true, nil
		}
		t.wasTriggered = false
		return false, nil
	}

	if onTrue {
		return true, nil
	}
	t.wasTriggered = false
	return false, nil
}

// OnRecord is a no-op for TestData: it is a value-mode test, evaluated
// through OnValue against the alarm's source-expression result rather
// than against whole table records.
func (t *TestData) OnRecord(rec *datasource.Record, now time.Time) (bool, error) {
	return t.wasTriggered, nil
}

// OnStarted resets was_triggered and the underlying expression token
// state (spec §4.3 Alarm.start step 1/3).
func (t *TestData) OnStarted(now time.Time) {
	t.wasTriggered = false
	t.hasOnCond = false
	t.onExpr.ResetState()
	if t.offExpr != nil {
		t.offExpr.ResetState()
	}
}

// OnStopped is a no-op: TestData owns no timers.
func (t *TestData) OnStopped() {}

// HasOnCondition reports whether the last on-value was truthy,
// independent of latching (spec §4.2).
func (t *TestData) HasOnCondition() bool { return t.hasOnCond }

// IsTriggered reports the current triggered state.
func (t *TestData) IsTriggered() bool { return t.wasTriggered }

// FormatEntrance annotates the on-expr text with current variable
// values.
func (t *TestData) FormatEntrance() string { return t.onExpr.AnnotateSource() }

// FormatExit annotates the off-expr text (or, absent one, the on-expr
// text) with current variable values.
func (t *TestData) FormatExit() string {
	if t.offExpr != nil {
		return t.offExpr.AnnotateSource()
	}
	return t.onExpr.AnnotateSource()
}

// Kind reports the config XML type attribute for a data test.
func (t *TestData) Kind() string { return "data" }

// OnText returns the on-expr source text (for config round-trip).
func (t *TestData) OnText() string { return t.onText }

// OffText returns the off-expr source text, or "" if none configured.
func (t *TestData) OffText() string { return t.offText }

// HasOffExpr reports whether an off-expr was configured.
func (t *TestData) HasOffExpr() bool { return t.offExpr != nil }
