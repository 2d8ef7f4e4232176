package expr

import (
	"fmt"
	"strings"
	"time"

	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

// ExpressionHandler owns a postfix token stream, a variable table, and
// evaluation state; it evaluates to an operand value (spec §4.1).
type ExpressionHandler struct {
	text   string
	tokens []Token
	vars   []*Variable
}

// Eval pops the postfix stack through an evaluation stack and returns
// the final operand. Fails with an EvalError-wrapped error if any token
// raises; the caller (Alarm) catches this and sets last_error.
func (h *ExpressionHandler) Eval(now time.Time) (Value, error) {
	var stack Stack
	for _, tok := range h.tokens {
		if err := tok.Apply(&stack, now); err != nil {
			return Value{}, err
		}
	}
	if stack.Len() != 1 {
		return Value{}, internalerrors.EvalNoOperand(stack.Len())
	}
	v, _ := stack.Pop()
	return v, nil
}

// ResetState clears every token with state; called on (re)start (spec
// §4.1 reset_state, §4.3 Alarm.start step 1).
func (h *ExpressionHandler) ResetState() {
	for _, tok := range h.tokens {
		if tok.HasState() {
			tok.Reset()
		}
	}
}

// Variables returns the handler's variable table, one per distinct
// identifier referenced in the expression text.
func (h *ExpressionHandler) Variables() []*Variable {
	return h.vars
}

// VariableForRequest returns every variable bound to a Request
// compatible with req (spec §4.3: assign_request_variables binds each
// variable wired to the matching request).
func (h *ExpressionHandler) VariableForRequest(req Request) []*Variable {
	var out []*Variable
	for _, v := range h.vars {
		if v.Request.Compatible(req) {
			out = append(out, v)
		}
	}
	return out
}

// AnnotateSource renders the text with each variable name suffixed by
// its last value; used in log output (spec §4.1 annotate_source).
func (h *ExpressionHandler) AnnotateSource() string {
	out := h.text
	for _, v := range h.vars {
		if !v.Bound() {
			continue
		}
		replacement := fmt.Sprintf("%s(%s)", v.Name, v.Last.String())
		out = strings.ReplaceAll(out, v.Name, replacement)
	}
	return out
}

// Text returns the original expression source text.
func (h *ExpressionHandler) Text() string { return h.text }
