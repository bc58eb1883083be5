package alert

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The custom-condition expression language is a closed grammar: arithmetic,
// comparison and boolean operators over named variables and literals. There
// is deliberately no call syntax, no indexing and no assignment, so a stored
// expression can never reach the host process.
//
//	expr   := or
//	or     := and (("or" | "||") and)*
//	and    := cmp (("and" | "&&") cmp)*
//	cmp    := sum (("==" | "!=" | "<" | "<=" | ">" | ">=") sum)?
//	sum    := term (("+" | "-") term)*
//	term   := unary (("*" | "/" | "%") unary)*
//	unary  := ("-" | "!" | "not") unary | primary
//	primary:= number | ident | "true" | "false" | "(" expr ")"

const (
	maxExprLen   = 256
	maxExprNodes = 64
)

// Expr is a parsed, reusable expression.
type Expr struct {
	root   node
	source string
}

// ParseExpr compiles an expression. Parse failures include the offending
// position so bad admin-entered expressions are diagnosable.
func ParseExpr(source string) (*Expr, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if len(source) > maxExprLen {
		return nil, fmt.Errorf("expression longer than %d characters", maxExprLen)
	}

	tokens, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	if p.nodes > maxExprNodes {
		return nil, fmt.Errorf("expression has more than %d operations", maxExprNodes)
	}
	return &Expr{root: root, source: source}, nil
}

// Eval evaluates against the supplied variables. The result must be boolean;
// a bare arithmetic expression is a type error, not a truthiness guess.
func (e *Expr) Eval(vars map[string]float64) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, err
	}
	if !v.isBool {
		return false, fmt.Errorf("expression %q does not produce a boolean", e.source)
	}
	return v.b, nil
}

type value struct {
	num    float64
	b      bool
	isBool bool
}

func numVal(f float64) value { return value{num: f} }
func boolVal(b bool) value   { return value{b: b, isBool: true} }

type node interface {
	eval(vars map[string]float64) (value, error)
}

type numberNode float64

func (n numberNode) eval(map[string]float64) (value, error) { return numVal(float64(n)), nil }

type boolNode bool

func (n boolNode) eval(map[string]float64) (value, error) { return boolVal(bool(n)), nil }

type varNode string

func (n varNode) eval(vars map[string]float64) (value, error) {
	v, ok := vars[string(n)]
	if !ok {
		return value{}, fmt.Errorf("unknown variable %q", string(n))
	}
	return numVal(v), nil
}

type unaryNode struct {
	op    string
	child node
}

func (n unaryNode) eval(vars map[string]float64) (value, error) {
	v, err := n.child.eval(vars)
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case "-":
		if v.isBool {
			return value{}, fmt.Errorf("cannot negate a boolean")
		}
		return numVal(-v.num), nil
	default: // "!" / "not"
		if !v.isBool {
			return value{}, fmt.Errorf("cannot apply %q to a number", n.op)
		}
		return boolVal(!v.b), nil
	}
}

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) eval(vars map[string]float64) (value, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return value{}, err
	}

	// Boolean operators short-circuit.
	switch n.op {
	case "and", "or":
		if !l.isBool {
			return value{}, fmt.Errorf("%q needs boolean operands", n.op)
		}
		if n.op == "and" && !l.b {
			return boolVal(false), nil
		}
		if n.op == "or" && l.b {
			return boolVal(true), nil
		}
		r, err := n.right.eval(vars)
		if err != nil {
			return value{}, err
		}
		if !r.isBool {
			return value{}, fmt.Errorf("%q needs boolean operands", n.op)
		}
		return boolVal(r.b), nil
	}

	r, err := n.right.eval(vars)
	if err != nil {
		return value{}, err
	}
	if l.isBool || r.isBool {
		return value{}, fmt.Errorf("%q needs numeric operands", n.op)
	}

	switch n.op {
	case "+":
		return numVal(l.num + r.num), nil
	case "-":
		return numVal(l.num - r.num), nil
	case "*":
		return numVal(l.num * r.num), nil
	case "/":
		if r.num == 0 {
			return value{}, fmt.Errorf("division by zero")
		}
		return numVal(l.num / r.num), nil
	case "%":
		if r.num == 0 {
			return value{}, fmt.Errorf("division by zero")
		}
		return numVal(float64(int64(l.num) % int64(r.num))), nil
	case "==":
		return boolVal(l.num == r.num), nil
	case "!=":
		return boolVal(l.num != r.num), nil
	case "<":
		return boolVal(l.num < r.num), nil
	case "<=":
		return boolVal(l.num <= r.num), nil
	case ">":
		return boolVal(l.num > r.num), nil
	case ">=":
		return boolVal(l.num >= r.num), nil
	}
	return value{}, fmt.Errorf("unsupported operator %q", n.op)
}

type token struct {
	text string
	pos  int
}

func tokenize(source string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(source) {
		c := rune(source[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(source) && (unicode.IsDigit(rune(source[i])) || source[i] == '.') {
				i++
			}
			tokens = append(tokens, token{text: source[start:i], pos: start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(source) && (unicode.IsLetter(rune(source[i])) || unicode.IsDigit(rune(source[i])) || source[i] == '_') {
				i++
			}
			tokens = append(tokens, token{text: source[start:i], pos: start})
		case strings.ContainsRune("()+-*/%", c):
			tokens = append(tokens, token{text: string(c), pos: i})
			i++
		case strings.ContainsRune("=!<>&|", c):
			start := i
			i++
			if i < len(source) && strings.ContainsRune("=&|", rune(source[i])) {
				i++
			}
			tokens = append(tokens, token{text: source[start:i], pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	idx    int
	nodes  int
}

func (p *parser) atEnd() bool   { return p.idx >= len(p.tokens) }
func (p *parser) peek() token   { return p.tokens[p.idx] }
func (p *parser) advance() token {
	t := p.tokens[p.idx]
	p.idx++
	return t
}

func (p *parser) match(options ...string) (string, bool) {
	if p.atEnd() {
		return "", false
	}
	for _, opt := range options {
		if p.peek().text == opt {
			p.advance()
			return opt, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.match("or", "||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		p.nodes++
		left = binaryNode{op: "or", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.match("and", "&&"); !ok {
			return left, nil
		}
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		p.nodes++
		left = binaryNode{op: "and", left: left, right: right}
	}
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.match("==", "!=", "<", "<=", ">", ">=")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	p.nodes++
	return binaryNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.match("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		p.nodes++
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.match("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		p.nodes++
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.match("-", "!", "not"); ok {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		p.nodes++
		return unaryNode{op: op, child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.advance()

	switch {
	case t.text == "(":
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, ok := p.match(")"); !ok {
			return nil, fmt.Errorf("missing closing parenthesis for group at position %d", t.pos)
		}
		return inner, nil
	case t.text == "true":
		return boolNode(true), nil
	case t.text == "false":
		return boolNode(false), nil
	case unicode.IsDigit(rune(t.text[0])) || t.text[0] == '.':
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", t.text, t.pos)
		}
		return numberNode(f), nil
	case unicode.IsLetter(rune(t.text[0])) || t.text[0] == '_':
		return varNode(t.text), nil
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}
