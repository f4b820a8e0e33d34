package expression

import (
	"fmt"
)

const (
	// MaxLength bounds the size of a formula accepted by Compile.
	MaxLength = 4096

	// MaxDepth bounds the nesting depth of a formula's syntax tree.
	MaxDepth = 64
)

// syntaxError is a parse failure at a byte offset of the source.
type syntaxError struct {
	pos int
	msg string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.pos, e.msg)
}

type parser struct {
	toks  []token
	i     int
	depth int
}

func parse(src string) (Node, error) {
	if len(src) > MaxLength {
		return nil, &syntaxError{pos: MaxLength, msg: fmt.Sprintf("expression exceeds %d bytes", MaxLength)}
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &syntaxError{pos: 0, msg: "empty expression"}
	}

	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if t := p.peek(); t.kind != tokEOF {
		return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) peekAt(offset int) token {
	if p.i+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+offset]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *parser) expect(op string) (token, error) {
	t := p.peek()
	if t.kind != tokOp || t.text != op {
		return t, &syntaxError{pos: t.pos, msg: fmt.Sprintf("expected %q, found %s", op, describeToken(t))}
	}
	return p.next(), nil
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > MaxDepth {
		return &syntaxError{pos: pos, msg: fmt.Sprintf("expression nested deeper than %d", MaxDepth)}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseExpr() (Node, error) {
	if err := p.enter(p.peek().pos); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("||") {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Pos: op.pos, Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isOp("&&") {
		op := p.next()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &Logical{Pos: op.pos, Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (Node, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.isOp("==") || p.isOp("!=") || p.isOp("===") || p.isOp("!==") {
		op := p.next()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		// Strict and loose equality share one semantics; see looseEqual.
		norm := "=="
		if op.text == "!=" || op.text == "!==" {
			norm = "!="
		}
		left = &Binary{Pos: op.pos, Op: norm, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("<") || p.isOp("<=") || p.isOp(">") || p.isOp(">=") {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Pos: op.pos, Op: op.text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("!") || p.isOp("-") {
		op := p.next()
		if err := p.enter(op.pos); err != nil {
			return nil, err
		}
		defer p.leave()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: op.pos, Op: op.text, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.isOp("."), p.isOp("?."):
			dot := p.next()
			optional := dot.text == "?."

			if optional && p.isOp("[") {
				n, err = p.parseIndex(n, true)
				if err != nil {
					return nil, err
				}
				continue
			}

			name := p.peek()
			if name.kind != tokIdent {
				return nil, &syntaxError{pos: name.pos, msg: fmt.Sprintf("expected property name, found %s", describeToken(name))}
			}
			p.next()

			if p.isOp("(") {
				n, err = p.parseMethodCall(n, name, optional)
				if err != nil {
					return nil, err
				}
				continue
			}
			n = &Member{Pos: name.pos, Object: n, Property: name.text, Optional: optional}

		case p.isOp("["):
			n, err = p.parseIndex(n, false)
			if err != nil {
				return nil, err
			}

		default:
			return n, nil
		}
	}
}

func (p *parser) parseIndex(object Node, optional bool) (Node, error) {
	open, err := p.expect("[")
	if err != nil {
		return nil, err
	}
	idx, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return &Index{Pos: open.pos, Object: object, Index: idx, Optional: optional}, nil
}

func (p *parser) parseMethodCall(object Node, name token, optional bool) (Node, error) {
	spec, ok := allowedMethods[name.text]
	if !ok {
		return nil, &syntaxError{pos: name.pos, msg: fmt.Sprintf("method %q is not allowed", name.text)}
	}

	args, err := p.parseArgs(spec.lambda)
	if err != nil {
		return nil, err
	}
	if len(args) != spec.arity {
		return nil, &syntaxError{pos: name.pos, msg: fmt.Sprintf("method %q takes %d argument(s), got %d", name.text, spec.arity, len(args))}
	}
	if spec.lambda {
		if _, ok := args[0].(*Lambda); !ok {
			return nil, &syntaxError{pos: name.pos, msg: fmt.Sprintf("method %q requires an arrow function argument", name.text)}
		}
	}

	return &MethodCall{Pos: name.pos, Object: object, Method: name.text, Args: args, Optional: optional}, nil
}

// parseArgs parses a parenthesised argument list. Arrow functions are only
// accepted when allowLambda is set.
func (p *parser) parseArgs(allowLambda bool) ([]Node, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}

	var args []Node
	for !p.isOp(")") {
		if len(args) > 0 {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}

		var (
			arg Node
			err error
		)
		if p.atLambda() {
			if !allowLambda {
				return nil, &syntaxError{pos: p.peek().pos, msg: "arrow functions are only allowed as predicate arguments"}
			}
			arg, err = p.parseLambda()
		} else {
			arg, err = p.parseExpr()
		}
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return args, nil
}

// atLambda reports whether the upcoming tokens are "x =>" or "(x) =>".
func (p *parser) atLambda() bool {
	t0, t1 := p.peekAt(0), p.peekAt(1)
	if t0.kind == tokIdent && t1.kind == tokOp && t1.text == "=>" {
		return true
	}
	t2, t3 := p.peekAt(2), p.peekAt(3)
	return t0.kind == tokOp && t0.text == "(" &&
		t1.kind == tokIdent &&
		t2.kind == tokOp && t2.text == ")" &&
		t3.kind == tokOp && t3.text == "=>"
}

func (p *parser) parseLambda() (Node, error) {
	start := p.peek().pos
	parens := p.isOp("(")
	if parens {
		p.next()
	}

	param := p.next()
	if isKeyword(param.text) {
		return nil, &syntaxError{pos: param.pos, msg: fmt.Sprintf("%q cannot be used as a parameter name", param.text)}
	}

	if parens {
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect("=>"); err != nil {
		return nil, err
	}

	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Lambda{Pos: start, Param: param.text, Body: body}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()

	switch t.kind {
	case tokNumber:
		p.next()
		return &Literal{Pos: t.pos, Value: t.num}, nil

	case tokString:
		p.next()
		return &Literal{Pos: t.pos, Value: t.text}, nil

	case tokIdent:
		p.next()
		switch t.text {
		case "true":
			return &Literal{Pos: t.pos, Value: true}, nil
		case "false":
			return &Literal{Pos: t.pos, Value: false}, nil
		case "null", "undefined":
			return &Literal{Pos: t.pos, Value: nil}, nil
		}

		if p.isOp("(") {
			arity, ok := allowedFuncs[t.text]
			if !ok {
				return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("function %q is not allowed", t.text)}
			}
			args, err := p.parseArgs(false)
			if err != nil {
				return nil, err
			}
			if len(args) != arity {
				return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("function %q takes %d argument(s), got %d", t.text, arity, len(args))}
			}
			return &Call{Pos: t.pos, Func: t.text, Args: args}, nil
		}
		return &Ident{Pos: t.pos, Name: t.text}, nil

	case tokOp:
		switch t.text {
		case "(":
			p.next()
			n, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil

		case "[":
			return p.parseArray()
		}
	}

	return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected %s", describeToken(t))}
}

func (p *parser) parseArray() (Node, error) {
	open := p.next()
	arr := &Array{Pos: open.pos}

	for !p.isOp("]") {
		if len(arr.Elements) > 0 {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}
		el, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, el)
	}

	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return arr, nil
}

func isKeyword(s string) bool {
	switch s {
	case "true", "false", "null", "undefined":
		return true
	}
	return false
}

func describeToken(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}
