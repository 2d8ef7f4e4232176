package expr

import (
	"strings"
	"time"

	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

func parseErrAt(line, col int, message string) error {
	return internalerrors.ParseError(line, col, message)
}

// TokenFactory parses textual expressions into postfix token streams and
// resolves identifiers into Requests (spec §4.1). It is stateless except
// for token construction, and thread-unaware: every expression it
// builds runs on its owning manager's single engine thread.
type TokenFactory struct {
	// UnknownIdentifier, if set, is consulted for identifiers that are
	// not recognized built-in functions ("now", "avg", ...); it returns
	// the Request a bare identifier should bind to. When nil, the
	// identifier's own text is used verbatim as the Request URI.
	UnknownIdentifier func(name string) Request
}

// NewTokenFactory constructs a TokenFactory.
func NewTokenFactory() *TokenFactory {
	return &TokenFactory{}
}

// node is the parsed-expression AST, flattened to a postfix Token
// stream by toPostfix.
type node interface {
	toPostfix(out *[]Token)
}

type numberNode struct {
	isInt bool
	i     int64
	f     float64
}

func (n numberNode) toPostfix(out *[]Token) {
	if n.isInt {
		*out = append(*out, newLiteral(Value{Kind: KindInt, Int: n.i}))
	} else {
		*out = append(*out, newLiteral(Value{Kind: KindDouble, Double: n.f}))
	}
}

type stringNode struct{ s string }

func (n stringNode) toPostfix(out *[]Token) {
	*out = append(*out, newLiteral(Value{Kind: KindString, Str: n.s}))
}

type identNode struct {
	variable *Variable
}

func (n identNode) toPostfix(out *[]Token) {
	*out = append(*out, newVariableToken(n.variable))
}

type nowNode struct{}

func (n nowNode) toPostfix(out *[]Token) { *out = append(*out, newNowToken()) }

type binaryNode struct {
	op          binaryOp
	left, right node
}

func (n binaryNode) toPostfix(out *[]Token) {
	n.left.toPostfix(out)
	n.right.toPostfix(out)
	*out = append(*out, newBinary(n.op, 0))
}

type unaryNode struct {
	op      unaryOp
	operand node
}

func (n unaryNode) toPostfix(out *[]Token) {
	n.operand.toPostfix(out)
	*out = append(*out, newUnary(n.op))
}

type callNode struct {
	name string
	args []node
	line int
	col  int
}

func (n callNode) toPostfix(out *[]Token) {
	// Only the first argument (the observed variable) is evaluated at
	// runtime; any remaining arguments (window size, reset boundary,
	// requested timestamp literal) are compile-time configuration baked
	// into the resolved token by resolveToken, not pushed operands —
	// except value_at_time, whose second argument is itself a runtime
	// expression (the point in time to look up).
	if len(n.args) > 0 {
		n.args[0].toPostfix(out)
	}
	if strings.EqualFold(n.name, "value_at_time") && len(n.args) > 1 {
		n.args[1].toPostfix(out)
	}
	*out = append(*out, n.resolveToken())
}

func (n callNode) resolveToken() Token {
	switch strings.ToLower(n.name) {
	case "avg":
		return newWindowAgg(AggAvg, n.windowArg())
	case "sum":
		return newWindowAgg(AggSum, n.windowArg())
	case "min":
		return newWindowAgg(AggMin, n.windowArg())
	case "max":
		return newWindowAgg(AggMax, n.windowArg())
	case "count":
		return newWindowAgg(AggCount, n.windowArg())
	case "median":
		return newWindowAgg(AggMedian, n.windowArg())
	case "reset_avg":
		return newResetAgg(AggAvg, n.boundaryArg())
	case "reset_sum":
		return newResetAgg(AggSum, n.boundaryArg())
	case "reset_min":
		return newResetAgg(AggMin, n.boundaryArg())
	case "reset_max":
		return newResetAgg(AggMax, n.boundaryArg())
	case "value_at_time":
		return newValueAtTime()
	default:
		return newNowToken()
	}
}

// windowArg extracts the literal millisecond window from the call's
// second argument; this factory only supports literal windows, which
// matches every spec §8 scenario.
func (n callNode) windowArg() time.Duration {
	if len(n.args) < 2 {
		return 0
	}
	if num, ok := n.args[1].(numberNode); ok {
		if num.isInt {
			return time.Duration(num.i) * time.Millisecond
		}
		return time.Duration(num.f) * time.Millisecond
	}
	return 0
}

func (n callNode) boundaryArg() ResetBoundary {
	if len(n.args) < 2 {
		return ResetDay
	}
	if s, ok := n.args[1].(stringNode); ok {
		switch strings.ToLower(s.s) {
		case "hour":
			return ResetHour
		case "month":
			return ResetMonth
		case "year":
			return ResetYear
		}
	}
	return ResetDay
}

// parser is a recursive-descent, precedence-climbing parser over the
// lexer's token stream.
type parser struct {
	lex     *lexer
	cur     lexToken
	vars    map[string]*Variable
	defs    Defaults
	factory *TokenFactory
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) parseExpression() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == lexOp && p.cur.text == "||" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: opOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == lexOp && p.cur.text == "&&" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: opAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (node, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == lexOp && (p.cur.text == "==" || p.cur.text == "!=") {
		op := opEQ
		if p.cur.text == "!=" {
			op = opNE
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == lexOp && (p.cur.text == "<" || p.cur.text == "<=" || p.cur.text == ">" || p.cur.text == ">=") {
		var op binaryOp
		switch p.cur.text {
		case "<":
			op = opLT
		case "<=":
			op = opLE
		case ">":
			op = opGT
		case ">=":
			op = opGE
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == lexOp && (p.cur.text == "+" || p.cur.text == "-") {
		op := opAdd
		if p.cur.text == "-" {
			op = opSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == lexOp && (p.cur.text == "*" || p.cur.text == "/" || p.cur.text == "%") {
		var op binaryOp
		switch p.cur.text {
		case "*":
			op = opMul
		case "/":
			op = opDiv
		case "%":
			op = opMod
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.cur.kind == lexOp && p.cur.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: unaryNeg, operand: operand}, nil
	}
	if p.cur.kind == lexOp && p.cur.text == "!" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: unaryNot, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	line, col := p.cur.line, p.cur.col
	switch p.cur.kind {
	case lexNumber:
		n := numberNode{isInt: p.cur.isInt, i: p.cur.intVal, f: p.cur.num}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	case lexString:
		s := stringNode{s: p.cur.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return s, nil
	case lexLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != lexRParen {
			return nil, parseErrAt(line, col, "expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case lexIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == lexLParen {
			return p.parseCall(name, line, col)
		}
		if strings.EqualFold(name, "now") || strings.EqualFold(name, "source_time") {
			return nowNode{}, nil
		}
		return identNode{variable: p.resolveVariable(name)}, nil
	default:
		return nil, parseErrAt(line, col, "unexpected token")
	}
}

func (p *parser) parseCall(name string, line, col int) (node, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []node
	for p.cur.kind != lexRParen {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.kind == lexComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.cur.kind != lexRParen {
		return nil, parseErrAt(line, col, "expected ')' closing call to "+name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	// The first argument to an aggregate/value_at_time call is a bare
	// variable reference whose Request must be registered even though
	// it is buried inside a call rather than a top-level identNode.
	if len(args) > 0 {
		if _, ok := args[0].(identNode); !ok {
			if lit, ok := args[0].(stringNode); ok {
				args[0] = identNode{variable: p.resolveVariable(lit.s)}
			}
		}
	}
	return callNode{name: name, args: args, line: line, col: col}, nil
}

func (p *parser) resolveVariable(name string) *Variable {
	if v, ok := p.vars[name]; ok {
		return v
	}
	req := Request{URI: name, Start: p.defs.Start, Order: p.defs.Order, BackfillInterval: p.defs.BackfillInterval, ReportOffset: p.defs.ReportOffset}
	if p.factory.UnknownIdentifier != nil {
		req = p.factory.UnknownIdentifier(name)
	}
	v := &Variable{Name: name, Request: req}
	p.vars[name] = v
	return v
}

// MakeExpression tokenizes text, resolves identifiers, and emits one
// Request per referenced source column (spec §4.1). Fails with a
// ParseError-wrapped error on malformed input.
func (f *TokenFactory) MakeExpression(text string, defaults Defaults) (*ExpressionHandler, []Request, error) {
	p := &parser{lex: newLexer(text), vars: map[string]*Variable{}, defs: defaults, factory: f}
	if err := p.advance(); err != nil {
		return nil, nil, err
	}
	root, err := p.parseExpression()
	if err != nil {
		return nil, nil, err
	}
	if p.cur.kind != lexEOF {
		return nil, nil, parseErrAt(p.cur.line, p.cur.col, "unexpected trailing input")
	}

	var tokens []Token
	root.toPostfix(&tokens)

	vars := make([]*Variable, 0, len(p.vars))
	reqs := make([]Request, 0, len(p.vars))
	seen := map[Request]bool{}
	for _, v := range p.vars {
		vars = append(vars, v)
		dup := false
		for r := range seen {
			if r.Compatible(v.Request) {
				dup = true
				break
			}
		}
		if !dup {
			seen[v.Request] = true
			reqs = append(reqs, v.Request)
		}
	}

	return &ExpressionHandler{
		text:   text,
		tokens: tokens,
		vars:   vars,
	}, reqs, nil
}
