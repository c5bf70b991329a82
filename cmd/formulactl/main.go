// Command formulactl validates formula documents and evaluates them offline
// against series read from disk.
//
//	formulactl validate formula.json
//	formulactl calc -formula formula.json -series series.json [-slice 1] [-alignment first]
//
// The series file maps each meloId to its intervals.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"formulaflow/internal/formula"
	"formulaflow/logger"
)

const usage = `usage:
  formulactl validate <formula.json>
  formulactl calc -formula <formula.json> -series <series.json> [-slice N] [-alignment first|longest]`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	switch args[0] {
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "calc":
		return runCalc(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", args[0], usage)
		return 2
	}
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	doc, err := formula.DecodeDocument(data)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid JSON: %v\n", err)
		return 1
	}

	errs := formula.ValidateFormulaLocation(doc)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(stdout, e)
		}
		return 1
	}
	fmt.Fprintln(stdout, "valid")
	return 0
}

func runCalc(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("calc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	formulaPath := fs.String("formula", "", "FormulaLocation document")
	seriesPath := fs.String("series", "", "series file mapping meloId to intervals")
	sliceID := fs.Int("slice", -1, "time slice id (defaults to the first slice)")
	alignment := fs.String("alignment", "first", "output length: first or longest series")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *formulaPath == "" || *seriesPath == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	log := logger.GetLogger().WithComponent("formulactl")

	loc, err := readFormula(*formulaPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(loc.TimeSlices) == 0 {
		fmt.Fprintln(stderr, "formula has no time slices")
		return 1
	}

	ts := &loc.TimeSlices[0]
	if *sliceID >= 0 {
		var ok bool
		if ts, ok = loc.TimeSlice(*sliceID); !ok {
			fmt.Fprintf(stderr, "Time slice %d not found in formula\n", *sliceID)
			return 1
		}
	}

	data, err := os.ReadFile(*seriesPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	series := formula.NewSeriesSet()
	if err := json.Unmarshal(data, series); err != nil {
		fmt.Fprintf(stderr, "decode series: %v\n", err)
		return 1
	}

	align, err := formula.ParseAlignment(*alignment)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	out := formula.Calculator{Alignment: align}.Compute(ts, series)
	log.WithFields(logger.Fields{
		"location_id":   loc.LocationID(),
		"time_slice_id": ts.TimeSliceID,
		"inputs":        series.Len(),
		"intervals":     len(out),
	}).Debug("calculation finished")

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func readFormula(path string) (*formula.FormulaLocation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := formula.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("Invalid JSON: %w", err)
	}
	if errs := formula.ValidateFormulaLocation(doc); len(errs) > 0 {
		return nil, fmt.Errorf("Validation failed: %v", errs)
	}

	var loc formula.FormulaLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("decode formula: %w", err)
	}
	return &loc, nil
}
