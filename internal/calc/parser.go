package calc

import (
	"toolsandbox/internal/toolerr"
)

const (
	maxExprBytes = 1024
	maxDepth     = 64
)

// node is the closed set of syntax the evaluator accepts. Anything the
// parser cannot express as one of these types is rejected before evaluation.
type node interface {
	isNode()
}

type numberNode struct {
	value float64
}

type constNode struct {
	name string
}

type unaryNode struct {
	op      string
	operand node
}

type binaryNode struct {
	op          string
	left, right node
}

type callNode struct {
	fn   string
	args []node
}

func (numberNode) isNode() {}
func (constNode) isNode()  {}
func (unaryNode) isNode()  {}
func (binaryNode) isNode() {}
func (callNode) isNode()   {}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// parse builds the AST for src. Names are checked against the constant and
// function tables here, so a disallowed identifier never reaches eval.
func parse(src string) (node, error) {
	if len(src) > maxExprBytes {
		return nil, toolerr.Validation("expression longer than %d bytes", maxExprBytes)
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, toolerr.Validation("expression is empty")
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, unexpected(tok)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return toolerr.Validation("expression nested deeper than %d levels", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) expr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/" && tok.text != "//" && tok.text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text, left: left, right: right}
	}
}

// factor handles unary signs, which bind looser than "**": -2**2 == -4.
func (p *parser) factor() (node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "+" || tok.text == "-") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		operand, err := p.factor()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tok.text, operand: operand}, nil
	}
	return p.power()
}

// power is right-associative: 2**3**2 == 2**9.
func (p *parser) power() (node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok.kind != tokOp || tok.text != "**" {
		return base, nil
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	p.next()
	exp, err := p.factor()
	if err != nil {
		return nil, err
	}
	return binaryNode{op: "**", left: base, right: exp}, nil
}

func (p *parser) primary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return numberNode{value: tok.num}, nil
	case tokName:
		if p.peek().kind == tokLParen {
			return p.call(tok)
		}
		if _, ok := constants[tok.text]; !ok {
			return nil, toolerr.Validation("unknown name %q at offset %d", tok.text, tok.pos)
		}
		return constNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, unexpected(closing)
		}
		return inner, nil
	default:
		return nil, unexpected(tok)
	}
}

func (p *parser) call(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, toolerr.Validation("unknown function %q at offset %d", name.text, name.pos)
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	p.next() // (

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, unexpected(closing)
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, toolerr.Validation("%s() takes %s, got %d", name.text, fn.arity(), len(args))
	}
	return callNode{fn: name.text, args: args}, nil
}

func unexpected(tok token) error {
	if tok.kind == tokEOF {
		return toolerr.Validation("unexpected end of expression")
	}
	return toolerr.Validation("unexpected %q at offset %d", tok.text, tok.pos)
}
