package models

// APIEndpoint is one operation extracted from an API document.
type APIEndpoint struct {
	EndpointID  string            `json:"endpoint_id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Summary     string            `json:"summary,omitempty"`
	Parameters  []EndpointParam   `json:"parameters,omitempty"`
	RequestBody map[string]any    `json:"request_body,omitempty"`
	Responses   map[string]string `json:"responses,omitempty"`
	Auth        string            `json:"auth,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

// EndpointParam describes a single request parameter.
type EndpointParam struct {
	Name     string `json:"name"`
	In       string `json:"in"` // path, query, header, body
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
	Example  string `json:"example,omitempty"`
}

// TestPoint is an analyzer finding: one thing worth testing on an endpoint.
type TestPoint struct {
	EndpointID  string `json:"endpoint_id"`
	Category    string `json:"category"` // happy_path, boundary, auth, error_handling
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// Test case types. Unknown model output normalizes to CaseTypePositive.
const (
	CaseTypePositive    = "positive"
	CaseTypeNegative    = "negative"
	CaseTypeBoundary    = "boundary"
	CaseTypeSecurity    = "security"
	CaseTypePerformance = "performance"
)

// ValidCaseType reports whether t is one of the case type constants.
func ValidCaseType(t string) bool {
	switch t {
	case CaseTypePositive, CaseTypeNegative, CaseTypeBoundary, CaseTypeSecurity, CaseTypePerformance:
		return true
	}
	return false
}

// AssertionKind selects how a generated script checks one assertion.
type AssertionKind string

const (
	AssertStatusCode AssertionKind = "status_code"
	AssertBodyField  AssertionKind = "body_field"
	AssertTiming     AssertionKind = "timing"
)

// Assertion is one typed check a test case demands. Target names the body
// field path for body_field checks; MaxMillis bounds timing checks.
type Assertion struct {
	Kind      AssertionKind `json:"kind"`
	Target    string        `json:"target,omitempty"`
	Expected  any           `json:"expected,omitempty"`
	MaxMillis int           `json:"max_millis,omitempty"`
}

// TestDataItem is one named input value the case exercises.
type TestDataItem struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Notes string `json:"notes,omitempty"`
}

// TestCase is a concrete, executable case derived from a test point.
type TestCase struct {
	CaseID         string            `json:"case_id"`
	EndpointID     string            `json:"endpoint_id,omitempty"`
	Name           string            `json:"name"`
	Type           string            `json:"type,omitempty"`
	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           map[string]any    `json:"body,omitempty"`
	Data           []TestDataItem    `json:"data,omitempty"`
	ExpectedStatus int               `json:"expected_status,omitempty"`
	Assertions     []Assertion       `json:"assertions,omitempty"`
	Setup          []string          `json:"setup,omitempty"`
	Cleanup        []string          `json:"cleanup,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
}

// CoverageSummary reports how much of the endpoint catalog the generated
// cases touch. Percentages are 0 when the catalog is empty, never NaN.
type CoverageSummary struct {
	TotalEndpoints     int     `json:"total_endpoints"`
	CoveredEndpoints   int     `json:"covered_endpoints"`
	TotalCases         int     `json:"total_cases"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// NewCoverageSummary computes coverage, guarding the zero-endpoint divide.
func NewCoverageSummary(totalEndpoints, coveredEndpoints, totalCases int) CoverageSummary {
	cs := CoverageSummary{
		TotalEndpoints:   totalEndpoints,
		CoveredEndpoints: coveredEndpoints,
		TotalCases:       totalCases,
	}
	if totalEndpoints > 0 {
		cs.CoveragePercentage = float64(coveredEndpoints) / float64(totalEndpoints) * 100
	}
	return cs
}

// ScriptLanguage values accepted for generated scripts.
const (
	ScriptLanguagePython = "python"
	ScriptLanguageYAML   = "yaml"
)

// Execution frameworks declared on generated scripts.
const (
	FrameworkPytest     = "pytest"
	FrameworkPlaywright = "playwright"
)

// TestScript is one generated, runnable artifact. Path is relative to the
// workspace root; Dependencies are the runtime packages the script imports
// beyond the interpreter's standard library.
type TestScript struct {
	ScriptID     string   `json:"script_id"`
	Name         string   `json:"name"`
	Path         string   `json:"path,omitempty"`
	Language     string   `json:"language"`
	Framework    string   `json:"framework,omitempty"`
	Content      string   `json:"content"`
	Dependencies []string `json:"dependencies,omitempty"`
	CaseIDs      []string `json:"test_case_ids,omitempty"`
}
