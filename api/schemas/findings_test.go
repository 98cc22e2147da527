package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exhaustively pins the canonical severity ordering. Every consumer relies on
// Rank, so a regression here would silently reorder triage output.
func TestSeverityRank_Ordering(t *testing.T) {
	t.Parallel()

	require.Len(t, AllSeverities, 5)
	for i := 1; i < len(AllSeverities); i++ {
		lower := AllSeverities[i-1]
		higher := AllSeverities[i]
		assert.Less(t, lower.Rank(), higher.Rank(),
			"%s must rank below %s", lower, higher)
		assert.True(t, higher.AtLeast(lower))
		assert.False(t, lower.AtLeast(higher))
	}

	assert.Equal(t, 0, SeverityInfo.Rank())
	assert.Equal(t, 4, SeverityCritical.Rank())
	assert.Equal(t, -1, Severity("BOGUS").Rank(), "unknown severities rank below INFO")
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Severity
	}{
		{"Critical", "CRITICAL", SeverityCritical},
		{"High", "HIGH", SeverityHigh},
		{"Mixed case", "Medium", SeverityMedium},
		{"Lower case", "low", SeverityLow},
		{"Whitespace", "  INFO  ", SeverityInfo},
		{"Unknown defaults to medium", "WARNING", SeverityMedium},
		{"Empty defaults to medium", "", SeverityMedium},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, ParseSeverity(tc.input))
		})
	}
}

func TestUnifiedFinding_LocationKey(t *testing.T) {
	t.Parallel()

	a := UnifiedFinding{FilePath: "a.py", LineStart: 10, LineEnd: 10, Title: "SQLi"}
	b := UnifiedFinding{FilePath: "a.py", LineStart: 10, LineEnd: 10, Title: "SQL Injection"}

	// Same location, different titles: location keys must still collide.
	assert.Equal(t, a.LocationKey(), b.LocationKey())

	c := UnifiedFinding{FilePath: "a.py", LineStart: 10, LineEnd: 12}
	assert.NotEqual(t, a.LocationKey(), c.LocationKey())
}

func TestUnifiedFinding_ContentKey(t *testing.T) {
	t.Parallel()

	a := UnifiedFinding{FilePath: "a.py", LineStart: 10, LineEnd: 10, Title: "SQLi", CodeSnippet: "cursor.execute(q)"}
	b := UnifiedFinding{FilePath: "a.py", LineStart: 20, LineEnd: 20, Title: "SQLi", CodeSnippet: "cursor.execute(q)"}

	// Line numbers are irrelevant to the content key.
	assert.Equal(t, a.ContentKey(), b.ContentKey())

	c := a
	c.CodeSnippet = "db.query(q)"
	assert.NotEqual(t, a.ContentKey(), c.ContentKey())

	d := a
	d.FilePath = "b.py"
	assert.NotEqual(t, a.ContentKey(), d.ContentKey())
}
