package formula

import (
	"fmt"
	"strings"
)

// Variant names one case of a tagged node: an operand kind or an operation.
// The string value is the JSON key the case is submitted under.
type Variant string

// Operand variants.
const (
	KindMeloOperand        Variant = "meloOperand"
	KindConst              Variant = "const"
	KindFormulaVar         Variant = "formulaVar"
	KindCalculationFormula Variant = "calculationFormula"
)

// Operation variants.
const (
	OpAdd     Variant = "add"
	OpSub     Variant = "sub"
	OpMul     Variant = "mul"
	OpDiv     Variant = "div"
	OpPos     Variant = "pos"
	OpOperand Variant = "operand"
)

var (
	operandVariants = []Variant{KindMeloOperand, KindConst, KindFormulaVar, KindCalculationFormula}
	formulaVariants = []Variant{OpAdd, OpSub, OpMul, OpDiv, OpPos, OpOperand}
)

// populated enumerates, in declaration order, the variants for which present
// holds. The validator and the evaluator both resolve node shape through it.
func populated(variants []Variant, present func(Variant) bool) []Variant {
	var out []Variant
	for _, v := range variants {
		if present(v) {
			out = append(out, v)
		}
	}
	return out
}

// Variants lists the operand cases that are set.
func (o *Operand) Variants() []Variant {
	if o == nil {
		return nil
	}
	return populated(operandVariants, func(v Variant) bool {
		switch v {
		case KindMeloOperand:
			return o.MeloOperand != nil
		case KindConst:
			return o.Const != nil
		case KindFormulaVar:
			return o.FormulaVar != nil
		case KindCalculationFormula:
			return o.CalculationFormula != nil
		}
		return false
	})
}

// Variants lists the operations that are set.
func (f *CalculationFormula) Variants() []Variant {
	if f == nil {
		return nil
	}
	return populated(formulaVariants, func(v Variant) bool {
		switch v {
		case OpAdd:
			return f.Add != nil
		case OpSub:
			return f.Sub != nil
		case OpMul:
			return f.Mul != nil
		case OpDiv:
			return f.Div != nil
		case OpPos:
			return f.Pos != nil
		case OpOperand:
			return f.Operand != nil
		}
		return false
	})
}

// rawVariants lists the cases present in a decoded JSON object. A key holding
// null does not count.
func rawVariants(variants []Variant, doc map[string]any) []Variant {
	return populated(variants, func(v Variant) bool {
		val, ok := doc[string(v)]
		return ok && val != nil
	})
}

// first returns the leading variant, or "" when none is set.
func first(vs []Variant) Variant {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func variantNames(vs []Variant) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

// quotedList renders vs as ['a', 'b'] for diagnostics.
func quotedList(vs []Variant) string {
	quoted := make([]string, len(vs))
	for i, v := range vs {
		quoted[i] = fmt.Sprintf("'%s'", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
