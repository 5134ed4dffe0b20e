package strategy

import (
	"strings"
	"unicode"

	"toolsmith/internal/types"
)

// Input shapes a primitive operation accepts.
const (
	ShapeText    = "text"    // exactly one string parameter
	ShapeNumbers = "numbers" // one array parameter, or one or more numeric parameters
)

// SimpleOp is a primitive operation that can be rendered from a template.
type SimpleOp struct {
	Op       string
	Keywords []string
	Returns  []string // acceptable canonical output kinds
	Shape    string
}

// DefaultSimpleOps returns the built-in primitive operations.
func DefaultSimpleOps() []SimpleOp {
	return []SimpleOp{
		{Op: "reverse", Keywords: []string{"reverse", "reverses", "reversed"}, Returns: []string{types.KindString}, Shape: ShapeText},
		{Op: "uppercase", Keywords: []string{"uppercase", "upper case"}, Returns: []string{types.KindString}, Shape: ShapeText},
		{Op: "lowercase", Keywords: []string{"lowercase", "lower case"}, Returns: []string{types.KindString}, Shape: ShapeText},
		{Op: "length", Keywords: []string{"length", "count characters"}, Returns: []string{types.KindInteger}, Shape: ShapeText},
		{Op: "sum", Keywords: []string{"sum", "sums", "total"}, Returns: []string{types.KindNumber, types.KindInteger}, Shape: ShapeNumbers},
		{Op: "product", Keywords: []string{"product", "multiply", "multiplies"}, Returns: []string{types.KindNumber, types.KindInteger}, Shape: ShapeNumbers},
	}
}

func copyOps(ops []SimpleOp) []SimpleOp {
	out := make([]SimpleOp, len(ops))
	for i, op := range ops {
		out[i] = SimpleOp{
			Op:       op.Op,
			Keywords: append([]string(nil), op.Keywords...),
			Returns:  append([]string(nil), op.Returns...),
			Shape:    op.Shape,
		}
	}
	return out
}

// matchOp finds the first op whose keyword appears as a whole word (or
// word sequence) in the purpose and whose types fit the tool.
func matchOp(ops []SimpleOp, spec types.ToolSpecification) (SimpleOp, bool) {
	words := tokenize(spec.Purpose)
	for _, op := range ops {
		if !containsKeyword(words, op.Keywords) {
			continue
		}
		if !returnsFit(op, spec.OutputKind()) || !shapeFits(op.Shape, spec.InputParameters) {
			continue
		}
		return op, true
	}
	return SimpleOp{}, false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsKeyword(words []string, keywords []string) bool {
	for _, kw := range keywords {
		kwWords := tokenize(kw)
		if len(kwWords) == 0 {
			continue
		}
		for i := 0; i+len(kwWords) <= len(words); i++ {
			match := true
			for j, w := range kwWords {
				if words[i+j] != w {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

func returnsFit(op SimpleOp, out string) bool {
	for _, r := range op.Returns {
		if r == out {
			return true
		}
	}
	return false
}

func shapeFits(shape string, params []types.Parameter) bool {
	switch shape {
	case ShapeText:
		return len(params) == 1 && params[0].Kind() == types.KindString
	case ShapeNumbers:
		if len(params) == 1 && params[0].Kind() == types.KindArray {
			return true
		}
		if len(params) == 0 {
			return false
		}
		for _, p := range params {
			if k := p.Kind(); k != types.KindNumber && k != types.KindInteger {
				return false
			}
		}
		return true
	}
	return false
}
