package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFPDetector_TestFileIsFlagged(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	analysis := d.Analyze("tests/test_auth.py", "def test_login(): assert user.login()")

	assert.True(t, analysis.LikelyFalsePositive)
	assert.GreaterOrEqual(t, analysis.Confidence, DefaultFPThreshold)
	assert.NotEmpty(t, analysis.Reasons)
	assert.Equal(t, 1.0, analysis.PatternScores["test_code"])
}

func TestFPDetector_ProductionCodeIsNot(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	analysis := d.Analyze("src/auth.py", "cursor.execute(base_query + user_input)")

	assert.False(t, analysis.LikelyFalsePositive)
	assert.Less(t, analysis.Confidence, DefaultFPThreshold)
	assert.Empty(t, analysis.Reasons)
}

func TestFPDetector_MockData(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	analysis := d.Analyze("src/conftest_helpers.py", "MOCK_API_KEY = 'abc123'")

	assert.Equal(t, 1.0, analysis.PatternScores["mock_data"])
	assert.GreaterOrEqual(t, analysis.Confidence, 0.3)
}

func TestFPDetector_Sanitization(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	analysis := d.Analyze("src/render.py", "safe = html.escape(validate(user_input))")

	assert.Equal(t, 1.0, analysis.PatternScores["sanitization"])
	// Sanitization alone carries only 10% weight; not enough to flag.
	assert.False(t, analysis.LikelyFalsePositive)
}

func TestFPDetector_SafeContext(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	analysis := d.Analyze("src/audit.py", "logger.debug('query: ' + query)")

	assert.Positive(t, analysis.PatternScores["safe_context"])
}

func TestFPDetector_EmptySnippet(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	analysis := d.Analyze("requirements.txt", "")

	assert.False(t, analysis.LikelyFalsePositive)
	assert.Zero(t, analysis.PatternScores["mock_data"])
}

func TestFPDetector_AnalyzeBatch(t *testing.T) {
	t.Parallel()

	d := NewFPDetector()
	candidates := []FPCandidate{
		{FilePath: "tests/test_auth.py", CodeSnippet: "def test_login(): assert True", Title: "hardcoded_password_string"},
		{FilePath: "src/auth.py", CodeSnippet: "cursor.execute(base_query + user_input)", Title: "hardcoded_sql_expressions"},
	}

	results := d.AnalyzeBatch(candidates)
	require.Len(t, results, 2)

	assert.True(t, results[0].LikelyFalsePositive)
	assert.False(t, results[1].LikelyFalsePositive)

	// Batch answers match per-candidate analysis exactly.
	for i, c := range candidates {
		assert.Equal(t, d.Analyze(c.FilePath, c.CodeSnippet), results[i])
	}
}

func TestFPDetector_CustomThreshold(t *testing.T) {
	t.Parallel()

	strict := NewFPDetectorWithThreshold(0.9)
	analysis := strict.Analyze("tests/test_auth.py", "x = 1")

	// Path alone scores 0.5 weighted to 0.25; below a 0.9 threshold.
	assert.False(t, analysis.LikelyFalsePositive)
}
