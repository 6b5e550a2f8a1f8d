package executor

import (
	"encoding/json"
	"encoding/xml"
	"os"
	"regexp"
	"strconv"

	"github.com/testrig-ai/testrig/pkg/models"
)

// Report file names inside the per-session report directory.
const (
	junitFileName      = "junit.xml"
	jsonReportFileName = "report.json"
)

// ParseResults extracts test statistics, trying the machine-readable sources
// in order of fidelity: the JSON report, then JUnit XML, then a summary-line
// regex over captured output. Each source is consulted only if it exists.
// The returned report always has consistent totals and a defined success
// rate, even when every source is missing.
func ParseResults(reportDir, output string) *models.TestReport {
	if report, ok := parseJSONReport(reportDir); ok {
		report.ParsedFrom = "json"
		report.Finalize()
		return report
	}
	if report, ok := parseJUnitXML(reportDir); ok {
		report.ParsedFrom = "junit"
		report.Finalize()
		return report
	}
	if report, ok := parseSummaryLine(output); ok {
		report.ParsedFrom = "regex"
		report.Finalize()
		return report
	}
	report := &models.TestReport{ParsedFrom: "none"}
	report.Finalize()
	return report
}

// jsonReport mirrors the pytest-json-report layout, summary and tests only.
type jsonReport struct {
	Duration float64 `json:"duration"`
	Summary  struct {
		Total   int `json:"total"`
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Error   int `json:"error"`
		Skipped int `json:"skipped"`
	} `json:"summary"`
	Tests []struct {
		NodeID  string `json:"nodeid"`
		Outcome string `json:"outcome"`
		Call    struct {
			Duration float64 `json:"duration"`
		} `json:"call"`
	} `json:"tests"`
}

func parseJSONReport(reportDir string) (*models.TestReport, bool) {
	data, err := os.ReadFile(reportDir + "/" + jsonReportFileName)
	if err != nil {
		return nil, false
	}
	var parsed jsonReport
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, false
	}

	report := &models.TestReport{
		Total:    parsed.Summary.Total,
		Passed:   parsed.Summary.Passed,
		Failed:   parsed.Summary.Failed,
		Errors:   parsed.Summary.Error,
		Skipped:  parsed.Summary.Skipped,
		Duration: parsed.Duration,
	}
	for _, tc := range parsed.Tests {
		report.Cases = append(report.Cases, models.CaseResult{
			Name:       tc.NodeID,
			Outcome:    tc.Outcome,
			DurationMS: tc.Call.Duration * 1000,
		})
	}
	return report, true
}

// junitSuite covers both a bare <testsuite> root and <testsuites> wrapping.
type junitSuite struct {
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
	Suites   []junitSuite    `xml:"testsuite"`
}

type junitTestCase struct {
	Name      string  `xml:"name,attr"`
	ClassName string  `xml:"classname,attr"`
	Time      float64 `xml:"time,attr"`
	Failure   *struct {
		Message string `xml:"message,attr"`
	} `xml:"failure"`
	Error *struct {
		Message string `xml:"message,attr"`
	} `xml:"error"`
	Skipped *struct {
		Message string `xml:"message,attr"`
	} `xml:"skipped"`
}

func parseJUnitXML(reportDir string) (*models.TestReport, bool) {
	data, err := os.ReadFile(reportDir + "/" + junitFileName)
	if err != nil {
		return nil, false
	}
	var root junitSuite
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, false
	}

	report := &models.TestReport{}
	collectSuite(report, &root)
	report.Passed = report.Total - report.Failed - report.Errors - report.Skipped
	if report.Passed < 0 {
		report.Passed = 0
	}
	return report, true
}

func collectSuite(report *models.TestReport, suite *junitSuite) {
	report.Total += suite.Tests
	report.Failed += suite.Failures
	report.Errors += suite.Errors
	report.Skipped += suite.Skipped
	report.Duration += suite.Time
	for _, tc := range suite.Cases {
		result := models.CaseResult{
			Name:       tc.Name,
			ClassName:  tc.ClassName,
			Outcome:    "passed",
			DurationMS: tc.Time * 1000,
		}
		switch {
		case tc.Failure != nil:
			result.Outcome = "failed"
			result.Message = tc.Failure.Message
		case tc.Error != nil:
			result.Outcome = "error"
			result.Message = tc.Error.Message
		case tc.Skipped != nil:
			result.Outcome = "skipped"
			result.Message = tc.Skipped.Message
		}
		report.Cases = append(report.Cases, result)
	}
	for i := range suite.Suites {
		collectSuite(report, &suite.Suites[i])
	}
}

// summaryRe matches the pytest terminal summary, e.g.
// "===== 3 passed, 1 failed, 2 skipped in 1.23s =====".
var summaryRe = regexp.MustCompile(`(\d+)\s+(passed|failed|error|errors|skipped)`)

func parseSummaryLine(output string) (*models.TestReport, bool) {
	matches := summaryRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil, false
	}
	report := &models.TestReport{}
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch m[2] {
		case "passed":
			report.Passed = n
		case "failed":
			report.Failed = n
		case "error", "errors":
			report.Errors = n
		case "skipped":
			report.Skipped = n
		}
	}
	report.Total = report.Passed + report.Failed + report.Errors + report.Skipped
	return report, true
}
