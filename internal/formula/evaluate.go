package formula

import "math"

// DivisionByZeroResult is what a whole div operation evaluates to as soon as
// any divisor after the first operand is exactly zero.
const DivisionByZeroResult = 0.0

// UnboundVariableValue is the value of every formulaVar operand. Variables are
// not bound to anything yet.
const UnboundVariableValue = 0.0

// EvaluateFormula computes f at sample index i. It never fails: missing data,
// unbound variables and zero divisors degrade to the documented defaults, and a
// node without any operation evaluates to 0.
func EvaluateFormula(f *CalculationFormula, series *SeriesSet, i int) float64 {
	if f == nil {
		return 0
	}

	switch first(f.Variants()) {
	case OpAdd:
		total := 0.0
		for k := range f.Add {
			total += EvaluateOperand(&f.Add[k], series, i)
		}
		return total

	case OpSub:
		return EvaluateOperand(f.Sub.Minuend, series, i) - EvaluateOperand(f.Sub.Subtrahend, series, i)

	case OpMul:
		product := 1.0
		for k := range f.Mul {
			product *= EvaluateOperand(&f.Mul[k], series, i)
		}
		return product

	case OpDiv:
		return evaluateDiv(f.Div, series, i)

	case OpPos:
		return math.Abs(EvaluateOperand(f.Pos, series, i))

	case OpOperand:
		return EvaluateOperand(f.Operand, series, i)
	}

	return 0
}

func evaluateDiv(operands []Operand, series *SeriesSet, i int) float64 {
	if len(operands) == 0 {
		return 0
	}
	result := EvaluateOperand(&operands[0], series, i)
	for k := 1; k < len(operands); k++ {
		divisor := EvaluateOperand(&operands[k], series, i)
		if divisor == 0 {
			return DivisionByZeroResult
		}
		result /= divisor
	}
	return result
}

// EvaluateOperand computes op at sample index i.
func EvaluateOperand(op *Operand, series *SeriesSet, i int) float64 {
	if op == nil {
		return 0
	}

	switch first(op.Variants()) {
	case KindMeloOperand:
		return evaluateMelo(op.MeloOperand, series, i)
	case KindConst:
		return op.Const.Float()
	case KindFormulaVar:
		return UnboundVariableValue
	case KindCalculationFormula:
		return EvaluateFormula(op.CalculationFormula, series, i)
	}

	return 0
}

// evaluateMelo scales the raw sample by the loss and distribution factors:
// base * (1 - transformer) * (1 - conduction) * distribution.
func evaluateMelo(m *MeloOperand, series *SeriesSet, i int) float64 {
	base := 0.0
	if samples, ok := series.Get(m.MeloID); ok && i >= 0 && i < len(samples) {
		base = samples[i].Quantity.Float()
	}

	transformer := factor(m.LossFactorTransformer, 0)
	conduction := factor(m.LossFactorConduction, 0)
	distribution := factor(m.DistributionFactorEnergyQuantity, 1)

	return base * (1 - transformer) * (1 - conduction) * distribution
}

func factor(p *Percent, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return p.PercentValue
}
