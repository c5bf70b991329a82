package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFormula = `{
	"neloId": "E1234567890",
	"calculationFormulaTimeSlices": [{
		"timeSliceId": 3,
		"timeSliceQuality": "Gültige Daten",
		"periodOfUseFrom": "2024-01-01T00:00:00Z",
		"periodOfUseTo": "2024-12-31T23:59:59Z",
		"calculationFormula": {"add": [
			{"meloOperand": {"meloId": "DE00014545768S0000000000000003054", "energyDirection": "consumption", "lossFactorTransformer": {"percentvalue": 0}, "lossFactorConduction": {"percentvalue": 0}, "distributionFactorEnergyQuantity": {"percentvalue": 1}}},
			{"meloOperand": {"meloId": "DE00014545768S0000000000000003055", "energyDirection": "production", "lossFactorTransformer": {"percentvalue": 0}, "lossFactorConduction": {"percentvalue": 0}, "distributionFactorEnergyQuantity": {"percentvalue": 1}}}
		]}
	}]
}`

const sampleSeries = `{
	"DE00014545768S0000000000000003054": [
		{"position": 1, "start": "2024-03-01T00:00:00Z", "end": "2024-03-01T00:15:00Z", "quantity": "1.25"},
		{"position": 2, "start": "2024-03-01T00:15:00Z", "end": "2024-03-01T00:30:00Z", "quantity": "2"}
	],
	"DE00014545768S0000000000000003055": [
		{"position": 1, "start": "2024-03-01T00:00:00Z", "end": "2024-03-01T00:15:00Z", "quantity": "0.75"},
		{"position": 2, "start": "2024-03-01T00:15:00Z", "end": "2024-03-01T00:30:00Z", "quantity": "1"}
	]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"validate", writeFile(t, "formula.json", sampleFormula)}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "valid\n", stdout.String())

	stdout.Reset()
	code = run([]string{"validate", writeFile(t, "bad.json", `{"maloId": "123"}`)}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stdout.String())
}

func TestCalcCommand(t *testing.T) {
	formulaPath := writeFile(t, "formula.json", sampleFormula)
	seriesPath := writeFile(t, "series.json", sampleSeries)

	var stdout, stderr bytes.Buffer
	code := run([]string{"calc", "-formula", formulaPath, "-series", seriesPath, "-slice", "3"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var out []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "2.000000", out[0]["quantity"])
	assert.Equal(t, "3.000000", out[1]["quantity"])
	assert.Equal(t, "Gültige Daten", out[0]["quality"])
}

func TestCalcCommandErrors(t *testing.T) {
	formulaPath := writeFile(t, "formula.json", sampleFormula)
	seriesPath := writeFile(t, "series.json", sampleSeries)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"calc", "-formula", formulaPath, "-series", seriesPath, "-slice", "9"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Time slice 9 not found in formula")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"calc", "-formula", formulaPath}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"calc", "-formula", formulaPath, "-series", seriesPath, "-alignment", "middle"}, &stdout, &stderr))
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"explode"}, &stdout, &stderr))
}

func TestCalcCommandSliceZero(t *testing.T) {
	twoSlices := `{
		"maloId": "12345678901",
		"calculationFormulaTimeSlices": [
			{"timeSliceId": 5, "timeSliceQuality": "Gültige Daten", "periodOfUseFrom": "2024-01-01T00:00:00Z",
				"periodOfUseTo": "2024-06-30T23:59:59Z", "calculationFormula": {"operand": {"const": "5"}}},
			{"timeSliceId": 0, "timeSliceQuality": "Keine Daten", "periodOfUseFrom": "2024-07-01T00:00:00Z",
				"periodOfUseTo": "2024-12-31T23:59:59Z", "calculationFormula": {"operand": {"const": "7"}}}
		]
	}`
	formulaPath := writeFile(t, "formula.json", twoSlices)
	seriesPath := writeFile(t, "series.json", sampleSeries)

	quantities := func(args ...string) []any {
		var stdout, stderr bytes.Buffer
		code := run(append([]string{"calc", "-formula", formulaPath, "-series", seriesPath}, args...), &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())
		var out []map[string]any
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
		var qs []any
		for _, iv := range out {
			qs = append(qs, iv["quantity"])
		}
		return qs
	}

	assert.Equal(t, []any{"5.000000", "5.000000"}, quantities())
	assert.Equal(t, []any{"7.000000", "7.000000"}, quantities("-slice", "0"))
}
