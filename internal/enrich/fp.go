package enrich

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultFPThreshold is the combined confidence above which a finding is
// marked as a likely false positive.
const DefaultFPThreshold = 0.4

// FPAnalysis is the false positive verdict for one finding.
type FPAnalysis struct {
	LikelyFalsePositive bool
	Confidence          float64
	Reasons             []string
	PatternScores       map[string]float64
}

// FPDetector flags findings that match heuristics for non-exploitable code:
// test files, sanitized input, mock data and safe contexts such as logging.
type FPDetector struct {
	threshold float64

	testPathPatterns []*regexp.Regexp
	testCodePatterns []*regexp.Regexp
	sanitizePatterns []*regexp.Regexp
	mockPatterns     []*regexp.Regexp
	loggingPatterns  []*regexp.Regexp
	commentPatterns  []*regexp.Regexp
	errorPatterns    []*regexp.Regexp
}

// NewFPDetector creates a detector with the default threshold.
func NewFPDetector() *FPDetector {
	return NewFPDetectorWithThreshold(DefaultFPThreshold)
}

// NewFPDetectorWithThreshold creates a detector with a custom threshold.
func NewFPDetectorWithThreshold(threshold float64) *FPDetector {
	return &FPDetector{
		threshold: threshold,
		testPathPatterns: compileAll(true,
			`tests?/`, `specs?/`, `__tests__/`,
			`\.test\.`, `\.spec\.`, `_test\.`, `test_`, `fixture`,
		),
		testCodePatterns: compileAll(false,
			`@pytest\.mark\.`, `@unittest\.`, `def test_`, `class Test`,
			`describe\(`, `it\(`, `expect\(`, `assert `,
			`mock\.`, `Mock\(`, `MagicMock\(`, `@patch\(`,
			`fixture`, `setUp\(`, `tearDown\(`,
		),
		sanitizePatterns: compileAll(false,
			`html\.escape\(`, `bleach\.clean\(`, `markupsafe\.escape\(`,
			`urllib\.parse\.quote`, `re\.escape\(`,
			`sanitize\(`, `clean\(`, `validate\(`, `escape\(`,
			`isinstance\(`, `\.isdigit\(`, `\.isalnum\(`,
		),
		mockPatterns: compileAll(true,
			`\bmock_`, `\bfixture_`, `\bstub_`, `\bfake_`, `\bdummy_`, `\bsample_`,
			`_mock\b`, `_fixture\b`, `_stub\b`, `_fake\b`, `_dummy\b`,
			`\bMOCK_`, `\bFIXTURE_`, `\bTEST_`, `\bEXAMPLE_`, `\bDUMMY_`,
			`Mock\(`, `MagicMock\(`, `@patch\(`, `create_autospec\(`,
		),
		loggingPatterns: compileAll(false,
			`logger\.`, `logging\.`, `log\.`, `print\(`,
			`console\.log\(`, `console\.debug\(`, `console\.warn\(`, `console\.error\(`,
		),
		commentPatterns: compileAll(false,
			`^\s*#`, `^\s*//`, `^\s*/\*`, `^\s*\*`, `"""`, `'''`,
		),
		errorPatterns: compileAll(false,
			`raise `, `throw `, `\.error\(`, `\.warning\(`, `\.debug\(`,
		),
	}
}

func compileAll(ignoreCase bool, patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if ignoreCase {
			p = "(?i)" + p
		}
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// FPCandidate is one finding excerpt submitted for batch analysis.
type FPCandidate struct {
	FilePath    string
	CodeSnippet string
	Title       string
}

// AnalyzeBatch scores every candidate. The result map is keyed by candidate
// index and carries an entry for each one.
func (d *FPDetector) AnalyzeBatch(candidates []FPCandidate) map[int]FPAnalysis {
	out := make(map[int]FPAnalysis, len(candidates))
	for i, c := range candidates {
		out[i] = d.Analyze(c.FilePath, c.CodeSnippet)
	}
	return out
}

// Analyze scores one finding. Heuristic weights: test code 50%, mock data
// 30%, sanitization 10%, safe context 10%.
func (d *FPDetector) Analyze(filePath, code string) FPAnalysis {
	scores := map[string]float64{
		"test_code":    d.testCodeScore(filePath, code),
		"sanitization": 0,
		"mock_data":    0,
		"safe_context": 0,
	}
	if code != "" {
		scores["sanitization"] = d.sanitizationScore(code)
		scores["mock_data"] = d.mockDataScore(code)
		scores["safe_context"] = d.safeContextScore(code)
	}

	var reasons []string
	for _, check := range []struct {
		key, label string
	}{
		{"test_code", "Test code detected"},
		{"sanitization", "Input sanitization detected"},
		{"mock_data", "Mock/test data detected"},
		{"safe_context", "Safe context detected"},
	} {
		if scores[check.key] > 0.5 {
			reasons = append(reasons, fmt.Sprintf("%s (confidence: %.2f)", check.label, scores[check.key]))
		}
	}

	confidence := scores["test_code"]*0.5 +
		scores["mock_data"]*0.3 +
		scores["sanitization"]*0.1 +
		scores["safe_context"]*0.1

	return FPAnalysis{
		LikelyFalsePositive: confidence >= d.threshold,
		Confidence:          confidence,
		Reasons:             reasons,
		PatternScores:       scores,
	}
}

func (d *FPDetector) testCodeScore(filePath, code string) float64 {
	score := 0.0
	path := strings.ReplaceAll(filePath, `\`, "/")
	if matchAny(d.testPathPatterns, path) {
		score += 0.5
	}
	if code != "" && matchAny(d.testCodePatterns, code) {
		score += 0.5
	}
	return score
}

func (d *FPDetector) sanitizationScore(code string) float64 {
	score := 0.0
	if matchAny(d.sanitizePatterns, code) {
		score += 0.7
	}
	lower := strings.ToLower(code)
	for _, kw := range []string{"validate", "sanitize", "clean", "escape", "whitelist", "allowed"} {
		if strings.Contains(lower, kw) {
			score += 0.3
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (d *FPDetector) mockDataScore(code string) float64 {
	if matchAny(d.mockPatterns, code) {
		return 1
	}
	return 0
}

func (d *FPDetector) safeContextScore(code string) float64 {
	score := 0.0
	if matchAny(d.loggingPatterns, code) {
		score += 0.4
	}
	if matchAny(d.commentPatterns, code) {
		score += 0.4
	}
	if matchAny(d.errorPatterns, code) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
