package expression

import "math"

// ternary is the value domain of boolean subexpressions. No-data reaches
// boolean operators through their numeric operands and has to keep
// propagating, so false/true alone are not enough.
type ternary uint8

const (
	ternaryFalse ternary = iota
	ternaryTrue
	ternaryNoData
)

// resolver maps a band name to its argument index.
type resolver func(name string) (int, error)

// numericNode is a subexpression producing a sample value. NaN is the
// no-data sentinel throughout evaluation.
type numericNode interface {
	evalNumber(args []float64) float64
	bind(resolve resolver) error
}

// booleanNode is a subexpression producing a ternary truth value.
type booleanNode interface {
	evalBool(args []float64) ternary
	bind(resolve resolver) error
}

type numberNode struct {
	value float64
}

func (n *numberNode) evalNumber([]float64) float64 { return n.value }
func (n *numberNode) bind(resolver) error          { return nil }

type noDataNode struct{}

func (*noDataNode) evalNumber([]float64) float64 { return math.NaN() }
func (*noDataNode) bind(resolver) error          { return nil }

type variableNode struct {
	name  string
	index int
}

func (n *variableNode) evalNumber(args []float64) float64 { return args[n.index] }

func (n *variableNode) bind(resolve resolver) error {
	index, err := resolve(n.name)
	if err != nil {
		return err
	}
	n.index = index
	return nil
}

type negateNode struct {
	operand numericNode
}

func (n *negateNode) evalNumber(args []float64) float64 { return -n.operand.evalNumber(args) }
func (n *negateNode) bind(resolve resolver) error       { return n.operand.bind(resolve) }

type arithmeticNode struct {
	op          string
	left, right numericNode
}

func (n *arithmeticNode) evalNumber(args []float64) float64 {
	left := n.left.evalNumber(args)
	right := n.right.evalNumber(args)
	switch n.op {
	case "+":
		return left + right
	case "-":
		return left - right
	case "*":
		return left * right
	case "/":
		// Division by zero is no-data, not a fault and not infinity.
		if right == 0 {
			return math.NaN()
		}
		return left / right
	default: // "%"
		return math.Mod(left, right)
	}
}

func (n *arithmeticNode) bind(resolve resolver) error {
	if err := n.left.bind(resolve); err != nil {
		return err
	}
	return n.right.bind(resolve)
}

type comparisonNode struct {
	op          string
	left, right numericNode
}

func (n *comparisonNode) evalBool(args []float64) ternary {
	left := n.left.evalNumber(args)
	right := n.right.evalNumber(args)
	if math.IsNaN(left) || math.IsNaN(right) {
		return ternaryNoData
	}
	var v bool
	switch n.op {
	case "<":
		v = left < right
	case "<=":
		v = left <= right
	case ">":
		v = left > right
	case ">=":
		v = left >= right
	case "==":
		v = left == right
	default: // "!="
		v = left != right
	}
	if v {
		return ternaryTrue
	}
	return ternaryFalse
}

func (n *comparisonNode) bind(resolve resolver) error {
	if err := n.left.bind(resolve); err != nil {
		return err
	}
	return n.right.bind(resolve)
}

type logicalNode struct {
	op          string
	left, right booleanNode
}

func (n *logicalNode) evalBool(args []float64) ternary {
	// No short circuit: a no-data operand wins over a decided one.
	left := n.left.evalBool(args)
	right := n.right.evalBool(args)
	if left == ternaryNoData || right == ternaryNoData {
		return ternaryNoData
	}
	if n.op == "&&" {
		if left == ternaryTrue && right == ternaryTrue {
			return ternaryTrue
		}
		return ternaryFalse
	}
	if left == ternaryTrue || right == ternaryTrue {
		return ternaryTrue
	}
	return ternaryFalse
}

func (n *logicalNode) bind(resolve resolver) error {
	if err := n.left.bind(resolve); err != nil {
		return err
	}
	return n.right.bind(resolve)
}

type notNode struct {
	operand booleanNode
}

func (n *notNode) evalBool(args []float64) ternary {
	switch n.operand.evalBool(args) {
	case ternaryTrue:
		return ternaryFalse
	case ternaryFalse:
		return ternaryTrue
	default:
		return ternaryNoData
	}
}

func (n *notNode) bind(resolve resolver) error { return n.operand.bind(resolve) }

// isNoDataNode is the one operator that inspects the sentinel instead of
// propagating it. It always yields a decided truth value.
type isNoDataNode struct {
	operand numericNode
}

func (n *isNoDataNode) evalBool(args []float64) ternary {
	if math.IsNaN(n.operand.evalNumber(args)) {
		return ternaryTrue
	}
	return ternaryFalse
}

func (n *isNoDataNode) bind(resolve resolver) error { return n.operand.bind(resolve) }

type branchNode struct {
	condition       booleanNode
	then, otherwise numericNode
}

func (n *branchNode) evalNumber(args []float64) float64 {
	switch n.condition.evalBool(args) {
	case ternaryTrue:
		return n.then.evalNumber(args)
	case ternaryFalse:
		return n.otherwise.evalNumber(args)
	default:
		return math.NaN()
	}
}

func (n *branchNode) bind(resolve resolver) error {
	if err := n.condition.bind(resolve); err != nil {
		return err
	}
	if err := n.then.bind(resolve); err != nil {
		return err
	}
	return n.otherwise.bind(resolve)
}
