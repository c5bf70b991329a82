package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMelo = "DE00014545768S0000000000000003054"

func decode(t *testing.T, doc string) any {
	t.Helper()
	v, err := DecodeDocument([]byte(doc))
	require.NoError(t, err)
	return v
}

func validLocation() string {
	return `{
		"maloId": "12345678901",
		"calculationFormulaTimeSlices": [{
			"timeSliceId": 1,
			"timeSliceQuality": "Gültige Daten",
			"periodOfUseFrom": "2024-01-01T00:00:00Z",
			"periodOfUseTo": "2024-12-31T23:59:59Z",
			"calculationFormula": {"add": [
				{"meloOperand": {
					"meloId": "` + testMelo + `",
					"energyDirection": "consumption",
					"lossFactorTransformer": {"percentvalue": 0.015},
					"lossFactorConduction": {"percentvalue": "0.005"},
					"distributionFactorEnergyQuantity": {"percentvalue": 1}
				}},
				{"const": "10.5"}
			]}
		}]
	}`
}

func TestValidateFormulaLocationAccepts(t *testing.T) {
	assert.Empty(t, ValidateFormulaLocation(decode(t, validLocation())))
}

func TestValidateFormulaLocationIdentity(t *testing.T) {
	slices := `"calculationFormulaTimeSlices": [{"timeSliceId": 1, "timeSliceQuality": "Keine Daten",
		"periodOfUseFrom": "2024-01-01", "periodOfUseTo": "2024-02-01", "calculationFormula": {"operand": {"const": 1}}}]`

	errs := ValidateFormulaLocation(decode(t, `{`+slices+`}`))
	assert.Equal(t, []string{"FormulaLocation must have either maloId or neloId"}, errs)

	errs = ValidateFormulaLocation(decode(t, `{"maloId": "12345678901", "neloId": "E1234ABCDE5", `+slices+`}`))
	assert.Equal(t, []string{"FormulaLocation must have either maloId OR neloId, not both"}, errs)

	errs = ValidateFormulaLocation(decode(t, `{"maloId": "123", `+slices+`}`))
	assert.Equal(t, []string{"Invalid maloId format: 123. Expected: 11 digits"}, errs)

	errs = ValidateFormulaLocation(decode(t, `{"neloId": "E1234ABCDE5", `+slices+`}`))
	assert.Empty(t, errs)
}

func TestValidateFormulaLocationTimeSlices(t *testing.T) {
	errs := ValidateFormulaLocation(decode(t, `{"maloId": "12345678901"}`))
	assert.Equal(t, []string{"FormulaLocation must have calculationFormulaTimeSlices"}, errs)

	errs = ValidateFormulaLocation(decode(t, `{"maloId": "12345678901", "calculationFormulaTimeSlices": {}}`))
	assert.Equal(t, []string{"calculationFormulaTimeSlices must be an array"}, errs)

	errs = ValidateFormulaLocation(decode(t, `{"maloId": "12345678901", "calculationFormulaTimeSlices": []}`))
	assert.Equal(t, []string{"calculationFormulaTimeSlices cannot be empty"}, errs)

	assert.Equal(t, []string{"FormulaLocation must be an object"}, ValidateFormulaLocation(decode(t, `[]`)))
}

func TestValidateTimeSliceCollectsEverything(t *testing.T) {
	errs := ValidateFormulaLocation(decode(t, `{
		"maloId": "12345678901",
		"calculationFormulaTimeSlices": [
			{"timeSliceId": "one", "timeSliceQuality": "Gut", "periodOfUseFrom": "yesterday"},
			"nope"
		]
	}`))

	assert.Equal(t, []string{
		"timeSlice[0]: Time slice missing required field: periodOfUseTo",
		"timeSlice[0]: Time slice missing required field: calculationFormula",
		"timeSlice[0]: timeSliceId must be an integer",
		"timeSlice[0]: Invalid timeSliceQuality: Gut. Must be: Gültige Daten or Keine Daten",
		"timeSlice[0]: periodOfUseFrom must be ISO 8601 format",
		"timeSlice[1]: Time slice must be an object",
	}, errs)
}

func TestTimeSliceIDAcceptsIntegralNumbers(t *testing.T) {
	slice := func(id string) string {
		return `{"timeSliceId": ` + id + `, "timeSliceQuality": "Keine Daten",
			"periodOfUseFrom": "2024-01-01T00:00", "periodOfUseTo": "2024-01-02 00:00:00",
			"calculationFormula": {"operand": {"formulaVar": "x"}}}`
	}

	assert.Empty(t, ValidateTimeSlice(decode(t, slice("1"))))
	assert.Empty(t, ValidateTimeSlice(decode(t, slice("0"))))
	for _, id := range []string{"1.0", "1.5", "1e2", `"1"`} {
		assert.Equal(t, []string{"timeSliceId must be an integer"}, ValidateTimeSlice(decode(t, slice(id))), id)
	}
}

func TestOperandOneOf(t *testing.T) {
	assert.Equal(t,
		[]string{"Operand must have one of: meloOperand, const, formulaVar, calculationFormula"},
		ValidateOperand(decode(t, `{}`)))

	assert.Equal(t,
		[]string{"Operand must have exactly one type, found: ['const', 'formulaVar']"},
		ValidateOperand(decode(t, `{"formulaVar": "x", "const": "1"}`)))

	assert.Equal(t, []string{"Operand must be an object"}, ValidateOperand(decode(t, `"1"`)))

	// null does not count as a populated variant
	assert.Empty(t, ValidateOperand(decode(t, `{"const": "1", "formulaVar": null}`)))
}

func TestFormulaOneOf(t *testing.T) {
	assert.Equal(t,
		[]string{"calculationFormula must have one of: add, sub, mul, div, pos, operand"},
		ValidateCalculationFormula(decode(t, `{}`)))

	assert.Equal(t,
		[]string{"calculationFormula must have exactly one operation, found: ['add', 'mul']"},
		ValidateCalculationFormula(decode(t, `{"mul": [], "add": []}`)))

	assert.Equal(t,
		[]string{"div operation must be an array of operands"},
		ValidateCalculationFormula(decode(t, `{"div": {"const": "1"}}`)))

	assert.Empty(t, ValidateCalculationFormula(decode(t, `{"add": []}`)))
}

func TestFormulaErrorPaths(t *testing.T) {
	errs := ValidateCalculationFormula(decode(t, `{"add": [
		{"const": "1"},
		{"const": "abc"},
		{"calculationFormula": {"sub": {"minuend": {"formulaVar": "1x"}}}},
		{"calculationFormula": {"pos": {"const": "x"}}},
		{"calculationFormula": {"operand": {}}}
	]}`))

	assert.Equal(t, []string{
		"add[1]: Invalid const value: abc",
		"add[2]: sub.minuend: formulaVar must start with a letter: 1x",
		"add[2]: sub operation missing subtrahend",
		"add[3]: pos: Invalid const value: x",
		"add[4]: Operand must have one of: meloOperand, const, formulaVar, calculationFormula",
	}, errs)

	assert.Equal(t,
		[]string{"sub operation must have minuend and subtrahend"},
		ValidateCalculationFormula(decode(t, `{"sub": [1, 2]}`)))
}

func TestMeloOperandChecks(t *testing.T) {
	errs := ValidateOperand(decode(t, `{"meloOperand": {
		"meloId": "DE123",
		"energyDirection": "sideways",
		"lossFactorTransformer": {"percentvalue": 1.5},
		"lossFactorConduction": {"value": 0.1}
	}}`))

	assert.Equal(t, []string{
		"meloOperand missing required field: distributionFactorEnergyQuantity",
		"Invalid meloId format: DE123. Expected: DE + 11 digits + 20 alphanumeric",
		"Invalid energyDirection: sideways. Must be: consumption or production",
		"lossFactorTransformer.percentvalue must be between 0.0 and 1.0",
		"lossFactorConduction must have percentvalue field",
	}, errs)

	errs = ValidateOperand(decode(t, `{"meloOperand": {
		"meloId": "`+testMelo+`",
		"energyDirection": "production",
		"lossFactorTransformer": {"percentvalue": "0.1"},
		"lossFactorConduction": {"percentvalue": "1.2"},
		"distributionFactorEnergyQuantity": {"percentvalue": true}
	}}`))
	assert.Equal(t, []string{
		"lossFactorConduction.percentvalue must be between 0.0 and 1.0",
		"distributionFactorEnergyQuantity.percentvalue must be between 0.0 and 1.0",
	}, errs)
}

func TestConstAcceptsNumbers(t *testing.T) {
	assert.Empty(t, ValidateOperand(decode(t, `{"const": 12.50}`)))
	assert.Empty(t, ValidateOperand(decode(t, `{"const": -3e2}`)))
	assert.Equal(t, []string{"Invalid const value: true"}, ValidateOperand(decode(t, `{"const": true}`)))
}
