package expression

import (
	p "github.com/vektah/goparsify"
)

// The grammar separates numeric and boolean productions, so operand type
// mismatches are parse errors and the compiled tree needs no further type
// checking. Numeric expressions appear at the top level, inside arithmetic,
// on both sides of comparisons, and in conditional arms; boolean
// expressions appear only as conditions.
var (
	numericExpr p.Parser
	booleanExpr p.Parser
)

func init() {
	number := p.NumberLit().Map(func(n *p.Result) {
		switch v := n.Result.(type) {
		case int64:
			n.Result = &numberNode{value: float64(v)}
		case float64:
			n.Result = &numberNode{value: v}
		}
	})
	noData := keyword("NODATA").Map(func(n *p.Result) {
		n.Result = &noDataNode{}
	})
	variable := identifier().Map(func(n *p.Result) {
		n.Result = &variableNode{name: n.Token}
	})
	parenthesized := p.Seq("(", &numericExpr, ")").Map(func(n *p.Result) {
		n.Result = n.Child[1].Result
	})

	bracedExpr := p.Seq("{", p.Cut(), &numericExpr, "}").Map(func(n *p.Result) {
		n.Result = n.Child[2].Result
	})
	var conditional p.Parser
	elseTail := p.Any(&conditional, bracedExpr)
	conditional = p.Seq(keyword("if"), p.Cut(), &booleanExpr, bracedExpr, keyword("else"), p.Cut(), elseTail).Map(func(n *p.Result) {
		n.Result = &branchNode{
			condition: n.Child[2].Result.(booleanNode),
			then:      n.Child[3].Result.(numericNode),
			otherwise: n.Child[6].Result.(numericNode),
		}
	})

	var unary p.Parser
	negate := p.Seq("-", &unary).Map(func(n *p.Result) {
		n.Result = &negateNode{operand: n.Child[1].Result.(numericNode)}
	})
	primary := p.Any(conditional, number, noData, parenthesized, variable)
	unary = p.Any(negate, primary)

	multiplicative := p.Seq(unary, p.Some(p.Seq(p.Any("*", "/", "%"), unary))).Map(foldArithmetic)
	numericExpr = p.Seq(multiplicative, p.Some(p.Seq(p.Any("+", "-"), multiplicative))).Map(foldArithmetic)

	comparisonTail := p.Seq(p.Any("<=", ">=", "==", "!=", "<", ">"), &numericExpr).Map(func(n *p.Result) {
		op := n.Child[0].Token
		right := n.Child[1].Result.(numericNode)
		n.Result = func(left numericNode) booleanNode {
			return &comparisonNode{op: op, left: left, right: right}
		}
	})
	noDataTail := p.Seq(keyword("IS"), keyword("NODATA")).Map(func(n *p.Result) {
		n.Result = func(left numericNode) booleanNode {
			return &isNoDataNode{operand: left}
		}
	})
	predicate := p.Seq(&numericExpr, p.Any(comparisonTail, noDataTail)).Map(func(n *p.Result) {
		build := n.Child[1].Result.(func(numericNode) booleanNode)
		n.Result = build(n.Child[0].Result.(numericNode))
	})

	var boolAtom p.Parser
	negation := p.Seq("!", &boolAtom).Map(func(n *p.Result) {
		n.Result = &notNode{operand: n.Child[1].Result.(booleanNode)}
	})
	boolParen := p.Seq("(", &booleanExpr, ")").Map(func(n *p.Result) {
		n.Result = n.Child[1].Result
	})
	boolAtom = p.Any(negation, boolParen, predicate)

	andChain := p.Seq(boolAtom, p.Some(p.Seq("&&", boolAtom))).Map(foldLogical)
	booleanExpr = p.Seq(andChain, p.Some(p.Seq("||", andChain))).Map(foldLogical)
}

func foldArithmetic(n *p.Result) {
	expr := n.Child[0].Result.(numericNode)
	for _, c := range n.Child[1].Child {
		expr = &arithmeticNode{
			op:    c.Child[0].Token,
			left:  expr,
			right: c.Child[1].Result.(numericNode),
		}
	}
	n.Result = expr
}

func foldLogical(n *p.Result) {
	expr := n.Child[0].Result.(booleanNode)
	for _, c := range n.Child[1].Child {
		expr = &logicalNode{
			op:    c.Child[0].Token,
			left:  expr,
			right: c.Child[1].Result.(booleanNode),
		}
	}
	n.Result = expr
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// keyword matches an exact word followed by a word boundary, so a band
// named NODATAX is never half-consumed as a keyword.
func keyword(match string) p.Parser {
	return p.NewParser(match, func(s *p.State, r *p.Result) {
		s.WS(s)
		in := s.Get()
		if len(in) < len(match) || in[:len(match)] != match {
			s.ErrorHere(match)
			return
		}
		if len(in) > len(match) && isIdentChar(in[len(match)]) {
			s.ErrorHere(match)
			return
		}
		r.Token = match
		s.Advance(len(match))
	})
}

var reservedWords = map[string]struct{}{
	"if":     {},
	"else":   {},
	"IS":     {},
	"NODATA": {},
}

// identifier matches a band variable name: a letter or underscore followed
// by letters, digits, or underscores. Keywords are rejected here so that a
// malformed conditional fails loudly instead of parsing "if" as a band.
func identifier() p.Parser {
	return p.NewParser("identifier", func(s *p.State, r *p.Result) {
		s.WS(s)
		in := s.Get()
		if len(in) == 0 || !(in[0] == '_' || (in[0] >= 'a' && in[0] <= 'z') || (in[0] >= 'A' && in[0] <= 'Z')) {
			s.ErrorHere("identifier")
			return
		}
		end := 1
		for end < len(in) && isIdentChar(in[end]) {
			end++
		}
		word := in[:end]
		if _, reserved := reservedWords[word]; reserved {
			s.ErrorHere("identifier")
			return
		}
		r.Token = word
		s.Advance(end)
	})
}
