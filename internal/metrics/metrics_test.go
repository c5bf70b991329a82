package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"formulaflow/logger"
)

func TestHandlerExposesCounters(t *testing.T) {
	Init()
	IncrementSubmission("accepted")
	IncrementCalculation("COMPLETED", 96)
	IncrementExportFile()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		`formulaflow_formula_submissions_total{result="accepted"}`,
		`formulaflow_calculations_total{status="COMPLETED"}`,
		"formulaflow_intervals_computed_total",
		"formulaflow_export_files_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}

func TestReportWriter(t *testing.T) {
	ReportWriter(logger.GetLogger(), "series_writer", WriterStats{
		SeriesWritten: 4,
		FilesWritten:  4,
		BytesWritten:  2048,
		ErrorsCount:   1,
		QueueLen:      2,
		QueueCap:      64,
	})
}

func TestLogReport(t *testing.T) {
	logReport(logger.GetLogger(), SampleResources())
}
