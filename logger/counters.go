package logger

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Component families whose warnings and errors are counted for the runtime
// report.
var counterFamilies = []string{"formula", "calculation", "export", "api"}

// familyMarkers maps a component name fragment to its family. The first
// matching marker wins.
var familyMarkers = []struct{ marker, family string }{
	{"formula", "formula"},
	{"calculation", "calculation"},
	{"export", "export"},
	{"series_writer", "export"},
	{"channels", "export"},
	{"cloudwatch", "export"},
	{"api", "api"},
}

type levelCounts struct {
	warns  int64
	errors int64
}

var counters sync.Map // family -> *levelCounts

func family(component string) (string, bool) {
	for _, m := range familyMarkers {
		if strings.Contains(component, m.marker) {
			return m.family, true
		}
	}
	return "", false
}

func countsFor(component string) *levelCounts {
	f, ok := family(component)
	if !ok {
		return nil
	}
	v, _ := counters.LoadOrStore(f, &levelCounts{})
	return v.(*levelCounts)
}

func recordWarn(component string) {
	if c := countsFor(component); c != nil {
		atomic.AddInt64(&c.warns, 1)
	}
}

func recordError(component string) {
	if c := countsFor(component); c != nil {
		atomic.AddInt64(&c.errors, 1)
	}
}

// LevelCounters is a snapshot of warnings and errors logged by one family.
type LevelCounters struct {
	Warns  int64 `json:"warns"`
	Errors int64 `json:"errors"`
}

// Counters returns the warning and error totals per component family.
func Counters() map[string]LevelCounters {
	out := make(map[string]LevelCounters, len(counterFamilies))
	for _, f := range counterFamilies {
		out[f] = LevelCounters{}
	}
	counters.Range(func(k, v any) bool {
		c := v.(*levelCounts)
		out[k.(string)] = LevelCounters{
			Warns:  atomic.LoadInt64(&c.warns),
			Errors: atomic.LoadInt64(&c.errors),
		}
		return true
	})
	return out
}
