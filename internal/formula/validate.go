package formula

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

var (
	energyDirections = map[string]bool{string(Consumption): true, string(Production): true}
	sliceQualities   = map[string]bool{QualityValid: true, QualityNoData: true}

	meloRequiredFields  = []string{"meloId", "energyDirection", "lossFactorTransformer", "lossFactorConduction", "distributionFactorEnergyQuantity"}
	meloFactorFields    = []string{"lossFactorTransformer", "lossFactorConduction", "distributionFactorEnergyQuantity"}
	sliceRequiredFields = []string{"timeSliceId", "timeSliceQuality", "periodOfUseFrom", "periodOfUseTo", "calculationFormula"}
)

// DecodeDocument decodes a JSON document for validation. Numbers are kept as
// json.Number so integers and literals keep their original spelling.
func DecodeDocument(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateFormulaLocation checks a decoded FormulaLocation document and returns
// every violation found. An empty result means the document is accepted.
func ValidateFormulaLocation(raw any) []string {
	doc, ok := raw.(map[string]any)
	if !ok {
		return []string{"FormulaLocation must be an object"}
	}

	var errs []string

	hasMalo := truthy(doc["maloId"])
	hasNelo := truthy(doc["neloId"])

	if !hasMalo && !hasNelo {
		errs = append(errs, "FormulaLocation must have either maloId or neloId")
	}
	if hasMalo && hasNelo {
		errs = append(errs, "FormulaLocation must have either maloId OR neloId, not both")
	}
	if hasMalo && !matchString(doc["maloId"], ValidMaloID) {
		errs = append(errs, fmt.Sprintf("Invalid maloId format: %v. Expected: 11 digits", doc["maloId"]))
	}
	if hasNelo && !matchString(doc["neloId"], ValidNeloID) {
		errs = append(errs, fmt.Sprintf("Invalid neloId format: %v. Expected: E + 9 alphanumeric + 1 digit", doc["neloId"]))
	}

	slices, present := doc["calculationFormulaTimeSlices"]
	switch list, isList := slices.([]any); {
	case !present:
		errs = append(errs, "FormulaLocation must have calculationFormulaTimeSlices")
	case !isList:
		errs = append(errs, "calculationFormulaTimeSlices must be an array")
	case len(list) == 0:
		errs = append(errs, "calculationFormulaTimeSlices cannot be empty")
	default:
		for i, ts := range list {
			errs = append(errs, prefixed(fmt.Sprintf("timeSlice[%d]: ", i), ValidateTimeSlice(ts))...)
		}
	}

	return errs
}

// ValidateTimeSlice checks one calculationFormulaTimeSlice.
func ValidateTimeSlice(raw any) []string {
	doc, ok := raw.(map[string]any)
	if !ok {
		return []string{"Time slice must be an object"}
	}

	var errs []string
	for _, field := range sliceRequiredFields {
		if _, ok := doc[field]; !ok {
			errs = append(errs, "Time slice missing required field: "+field)
		}
	}

	if id, ok := doc["timeSliceId"]; ok && !isInteger(id) {
		errs = append(errs, "timeSliceId must be an integer")
	}

	if q, ok := doc["timeSliceQuality"]; ok {
		if s, isString := q.(string); !isString || !sliceQualities[s] {
			errs = append(errs, fmt.Sprintf("Invalid timeSliceQuality: %v. Must be: %s or %s", q, QualityValid, QualityNoData))
		}
	}

	for _, field := range []string{"periodOfUseFrom", "periodOfUseTo"} {
		v, ok := doc[field]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString {
			errs = append(errs, field+" must be ISO 8601 format")
			continue
		}
		if _, err := ParseTimestamp(s); err != nil {
			errs = append(errs, field+" must be ISO 8601 format")
		}
	}

	if f, ok := doc["calculationFormula"]; ok {
		errs = append(errs, ValidateCalculationFormula(f)...)
	}

	return errs
}

// ValidateCalculationFormula checks an operation node and everything below it.
func ValidateCalculationFormula(raw any) []string {
	doc, ok := raw.(map[string]any)
	if !ok {
		return []string{"calculationFormula must be an object"}
	}

	present := rawVariants(formulaVariants, doc)
	switch len(present) {
	case 0:
		return []string{"calculationFormula must have one of: " + variantNames(formulaVariants)}
	case 1:
	default:
		return []string{"calculationFormula must have exactly one operation, found: " + quotedList(present)}
	}

	op := present[0]
	value := doc[string(op)]

	switch op {
	case OpAdd, OpMul, OpDiv:
		list, isList := value.([]any)
		if !isList {
			return []string{fmt.Sprintf("%s operation must be an array of operands", op)}
		}
		var errs []string
		for i, operand := range list {
			errs = append(errs, prefixed(fmt.Sprintf("%s[%d]: ", op, i), ValidateOperand(operand))...)
		}
		return errs

	case OpSub:
		sub, isObject := value.(map[string]any)
		if !isObject {
			return []string{"sub operation must have minuend and subtrahend"}
		}
		var errs []string
		if minuend, ok := sub["minuend"]; ok {
			errs = append(errs, prefixed("sub.minuend: ", ValidateOperand(minuend))...)
		} else {
			errs = append(errs, "sub operation missing minuend")
		}
		if subtrahend, ok := sub["subtrahend"]; ok {
			errs = append(errs, prefixed("sub.subtrahend: ", ValidateOperand(subtrahend))...)
		} else {
			errs = append(errs, "sub operation missing subtrahend")
		}
		return errs

	case OpPos:
		return prefixed("pos: ", ValidateOperand(value))

	default:
		return ValidateOperand(value)
	}
}

// ValidateOperand checks a formula leaf or nested formula.
func ValidateOperand(raw any) []string {
	doc, ok := raw.(map[string]any)
	if !ok {
		return []string{"Operand must be an object"}
	}

	present := rawVariants(operandVariants, doc)
	switch len(present) {
	case 0:
		return []string{"Operand must have one of: " + variantNames(operandVariants)}
	case 1:
	default:
		return []string{"Operand must have exactly one type, found: " + quotedList(present)}
	}

	value := doc[string(present[0])]

	switch present[0] {
	case KindMeloOperand:
		return validateMeloOperand(value)

	case KindConst:
		literal := literalString(value)
		if !ValidConst(literal) {
			return []string{"Invalid const value: " + literal}
		}

	case KindFormulaVar:
		if !matchString(value, ValidFormulaVar) {
			return []string{fmt.Sprintf("formulaVar must start with a letter: %v", value)}
		}

	case KindCalculationFormula:
		return ValidateCalculationFormula(value)
	}

	return nil
}

func validateMeloOperand(raw any) []string {
	melo, ok := raw.(map[string]any)
	if !ok {
		return []string{"meloOperand must be an object"}
	}

	var errs []string
	for _, field := range meloRequiredFields {
		if _, ok := melo[field]; !ok {
			errs = append(errs, "meloOperand missing required field: "+field)
		}
	}

	if id, ok := melo["meloId"]; ok && !matchString(id, ValidMeloID) {
		errs = append(errs, fmt.Sprintf("Invalid meloId format: %v. Expected: DE + 11 digits + 20 alphanumeric", id))
	}

	if dir, ok := melo["energyDirection"]; ok {
		if s, isString := dir.(string); !isString || !energyDirections[s] {
			errs = append(errs, fmt.Sprintf("Invalid energyDirection: %v. Must be: consumption or production", dir))
		}
	}

	for _, field := range meloFactorFields {
		factor, ok := melo[field]
		if !ok {
			continue
		}
		obj, isObject := factor.(map[string]any)
		value, hasValue := obj["percentvalue"]
		if !isObject || !hasValue {
			errs = append(errs, field+" must have percentvalue field")
			continue
		}
		if !validPercentValue(value) {
			errs = append(errs, field+".percentvalue must be between 0.0 and 1.0")
		}
	}

	return errs
}

func validPercentValue(v any) bool {
	switch p := v.(type) {
	case json.Number:
		f, err := p.Float64()
		return err == nil && ValidPercent(f)
	case float64:
		return ValidPercent(p)
	case string:
		return ValidPercentString(p)
	default:
		return false
	}
}

// literalString renders a const value the way it was written.
func literalString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case json.Number:
		return c.String()
	default:
		return fmt.Sprint(c)
	}
}

func matchString(v any, match func(string) bool) bool {
	s, ok := v.(string)
	return ok && match(s)
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case float64:
		return n == math.Trunc(n)
	default:
		return false
	}
}

// truthy mirrors "present and non-empty" for a decoded JSON value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func prefixed(prefix string, errs []string) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = prefix + e
	}
	return out
}
