package expr

import (
	"math"
	"time"

	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

// literalToken pushes a constant operand (spec §4.1: tokens have arity,
// precedence, optional state; a literal is arity-0 and stateless).
type literalToken struct {
	baseToken
	value Value
}

func newLiteral(v Value) Token { return literalToken{baseToken: baseToken{arity: 0}, value: v} }

func (t literalToken) Apply(stack *Stack, now time.Time) error {
	v := t.value
	v.Stamp = now
	stack.Push(v)
	return nil
}

// variableToken pushes a variable's last-assigned value.
type variableToken struct {
	baseToken
	variable *Variable
}

func newVariableToken(v *Variable) Token {
	return variableToken{baseToken: baseToken{arity: 0}, variable: v}
}

func (t variableToken) Apply(stack *Stack, now time.Time) error {
	stack.Push(t.variable.Last)
	return nil
}

// nowToken pushes the injected clock's current time (spec §4.1:
// "source-time and system-time tokens read from an injected clock
// abstraction; never from a global clock"). The clock is supplied to
// Apply via the `now` parameter by the owning ExpressionHandler.
type nowToken struct{ baseToken }

func newNowToken() Token { return nowToken{baseToken: baseToken{arity: 0}} }

func (t nowToken) Apply(stack *Stack, now time.Time) error {
	stack.Push(NewTimestamp(now, now))
	return nil
}

// binaryOp identifies which binary operator a binaryToken applies.
type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
	opMod
	opLT
	opLE
	opGT
	opGE
	opEQ
	opNE
	opAnd
	opOr
)

type binaryToken struct {
	baseToken
	op binaryOp
}

func newBinary(op binaryOp, precedence int) Token {
	return binaryToken{baseToken: baseToken{arity: 2, precedence: precedence}, op: op}
}

func (t binaryToken) Apply(stack *Stack, now time.Time) error {
	rhs, ok1 := stack.Pop()
	lhs, ok2 := stack.Pop()
	if !ok1 || !ok2 {
		return internalerrors.EvalNoOperand(stack.Len())
	}

	switch t.op {
	case opAdd, opSub, opMul, opDiv, opMod:
		return applyArithmetic(stack, t.op, lhs, rhs, now)
	case opLT, opLE, opGT, opGE, opEQ, opNE:
		return applyComparison(stack, t.op, lhs, rhs, now)
	case opAnd, opOr:
		return applyLogical(stack, t.op, lhs, rhs, now)
	}
	return internalerrors.EvalFailed(nil)
}

func applyArithmetic(stack *Stack, op binaryOp, lhs, rhs Value, now time.Time) error {
	if lhs.Kind == KindString || rhs.Kind == KindString {
		return internalerrors.EvalTypeMismatch(arithName(op))
	}

	// Integer arithmetic stays integral unless either side is a double;
	// integer division/modulo by zero fails rather than producing
	// Inf/NaN (spec §4.1: "Division and modulo of integers by zero
	// fail; of doubles by zero produce +/-Infinity / NaN").
	if lhs.Kind == KindInt && rhs.Kind == KindInt {
		if (op == opDiv || op == opMod) && rhs.Int == 0 {
			return internalerrors.EvalDivideByZero(arithName(op))
		}
		var result int64
		switch op {
		case opAdd:
			result = lhs.Int + rhs.Int
		case opSub:
			result = lhs.Int - rhs.Int
		case opMul:
			result = lhs.Int * rhs.Int
		case opDiv:
			result = lhs.Int / rhs.Int
		case opMod:
			result = lhs.Int % rhs.Int
		}
		stack.Push(NewInt(result, now))
		return nil
	}

	lf, err := lhs.AsFloat()
	if err != nil {
		return internalerrors.EvalTypeMismatch(arithName(op))
	}
	rf, err := rhs.AsFloat()
	if err != nil {
		return internalerrors.EvalTypeMismatch(arithName(op))
	}

	var result float64
	switch op {
	case opAdd:
		result = lf + rf
	case opSub:
		result = lf - rf
	case opMul:
		result = lf * rf
	case opDiv:
		// Double division/modulo by zero produce +/-Inf or NaN without
		// raising, per spec §4.1.
		result = lf / rf
	case opMod:
		result = math.Mod(lf, rf)
	}
	stack.Push(NewDouble(result, now))
	return nil
}

func arithName(op binaryOp) string {
	switch op {
	case opAdd:
		return "+"
	case opSub:
		return "-"
	case opMul:
		return "*"
	case opDiv:
		return "/"
	case opMod:
		return "%"
	}
	return "?"
}

func applyComparison(stack *Stack, op binaryOp, lhs, rhs Value, now time.Time) error {
	var cmp int
	if lhs.Kind == KindString || rhs.Kind == KindString {
		if lhs.Kind != KindString || rhs.Kind != KindString {
			// Comparisons never throw on numeric vs numeric; they throw
			// on numeric vs string (spec §4.1).
			return internalerrors.EvalTypeMismatch(cmpName(op))
		}
		switch {
		case lhs.Str < rhs.Str:
			cmp = -1
		case lhs.Str > rhs.Str:
			cmp = 1
		default:
			cmp = 0
		}
	} else {
		lf, _ := lhs.AsFloat()
		rf, _ := rhs.AsFloat()
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		default:
			cmp = 0
		}
	}

	var result bool
	switch op {
	case opLT:
		result = cmp < 0
	case opLE:
		result = cmp <= 0
	case opGT:
		result = cmp > 0
	case opGE:
		result = cmp >= 0
	case opEQ:
		result = cmp == 0
	case opNE:
		result = cmp != 0
	}

	if result {
		stack.Push(NewInt(1, now))
	} else {
		stack.Push(NewInt(0, now))
	}
	return nil
}

func cmpName(op binaryOp) string {
	switch op {
	case opLT:
		return "<"
	case opLE:
		return "<="
	case opGT:
		return ">"
	case opGE:
		return ">="
	case opEQ:
		return "=="
	case opNE:
		return "!="
	}
	return "?"
}

func applyLogical(stack *Stack, op binaryOp, lhs, rhs Value, now time.Time) error {
	var result bool
	switch op {
	case opAnd:
		result = lhs.Truthy() && rhs.Truthy()
	case opOr:
		result = lhs.Truthy() || rhs.Truthy()
	}
	if result {
		stack.Push(NewInt(1, now))
	} else {
		stack.Push(NewInt(0, now))
	}
	return nil
}

// unaryOp identifies which unary operator a unaryToken applies.
type unaryOp int

const (
	unaryNeg unaryOp = iota
	unaryNot
)

type unaryToken struct {
	baseToken
	op unaryOp
}

func newUnary(op unaryOp) Token {
	return unaryToken{baseToken: baseToken{arity: 1, precedence: 10}, op: op}
}

func (t unaryToken) Apply(stack *Stack, now time.Time) error {
	v, ok := stack.Pop()
	if !ok {
		return internalerrors.EvalNoOperand(stack.Len())
	}
	switch t.op {
	case unaryNeg:
		switch v.Kind {
		case KindInt:
			stack.Push(NewInt(-v.Int, now))
		case KindDouble:
			stack.Push(NewDouble(-v.Double, now))
		default:
			return internalerrors.EvalTypeMismatch("unary-")
		}
	case unaryNot:
		if v.Truthy() {
			stack.Push(NewInt(0, now))
		} else {
			stack.Push(NewInt(1, now))
		}
	}
	return nil
}
