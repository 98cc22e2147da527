package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/scanner"
)

func banditResult() *scanner.BanditResult {
	return &scanner.BanditResult{
		Findings: []scanner.BanditFinding{
			{
				TestID:     "B608",
				TestName:   "hardcoded_sql_expressions",
				Severity:   "MEDIUM",
				Confidence: "LOW",
				IssueText:  "Possible SQL injection.",
				Filename:   "app/db.py",
				LineNumber: 42,
				LineRange:  []int{42, 43},
				Code:       "query = base + uid",
				IssueCWE:   &scanner.BanditCWE{ID: 89},
			},
		},
	}
}

func TestConvertBandit(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	findings, err := n.Convert(banditResult())
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, schemas.ScannerBandit, f.Scanner)
	assert.Equal(t, schemas.SeverityMedium, f.Severity)
	assert.Equal(t, "security", f.Category)
	assert.Equal(t, []string{"CWE-89"}, f.CWEIDs)
	assert.Equal(t, "app/db.py", f.FilePath)
	assert.Equal(t, 42, f.LineStart)
	assert.Equal(t, 43, f.LineEnd)
	assert.Equal(t, schemas.ConfidenceLow, f.Confidence)
	assert.Regexp(t, `^bandit-B608-[0-9a-f]{8}$`, f.ID)
}

func TestConvertSemgrep(t *testing.T) {
	t.Parallel()

	res := &scanner.SemgrepResult{Findings: []scanner.SemgrepFinding{{}}}
	f := &res.Findings[0]
	f.CheckID = "python.lang.security.audit.dangerous-subprocess-use"
	f.Path = "app/runner.py"
	f.Start.Line = 10
	f.End.Line = 12
	f.Extra.Message = "Detected subprocess call with shell=True."
	f.Extra.Severity = "ERROR"
	f.Extra.Lines = "subprocess.run(cmd, shell=True)"
	f.Extra.Fix = "subprocess.run(cmd)"
	f.Extra.Metadata.CWE = scanner.StringList{"CWE-78"}
	f.Extra.Metadata.OWASP = scanner.StringList{"A03:2021 - Injection"}
	f.Extra.Metadata.Category = "security"
	f.Extra.Metadata.Confidence = "HIGH"

	n := New(zap.NewNop())
	findings, err := n.Convert(res)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	got := findings[0]
	assert.Equal(t, schemas.SeverityHigh, got.Severity)
	assert.Equal(t, "Dangerous Subprocess Use", got.Title)
	assert.True(t, got.FixAvailable)
	assert.Equal(t, "subprocess.run(cmd)", got.FixGuidance)
	assert.Equal(t, schemas.ConfidenceHigh, got.Confidence)
	assert.Regexp(t, `^semgrep-python\.lang\.security\.audit\.dangerous-subprocess-use-[0-9a-f]{8}$`, got.ID)
}

func TestConvertTrivy(t *testing.T) {
	t.Parallel()

	res := &scanner.TrivyResult{Findings: []scanner.TrivyFinding{
		{
			Kind:             scanner.TrivyVulnerability,
			ID:               "CVE-2021-44228",
			Target:           "requirements.txt",
			PkgName:          "log4j-core",
			InstalledVersion: "2.14.0",
			FixedVersion:     "2.17.1",
			Severity:         "CRITICAL",
			Title:            "Remote code execution in Log4j",
			Description:      "JNDI lookups.",
			CWEIDs:           []string{"CWE-917"},
		},
		{
			Kind:     scanner.TrivySecret,
			ID:       "aws-access-key-id",
			Target:   "conf/app.ini",
			Severity: "UNKNOWN",
			Title:    "AWS Access Key ID",
			Match:    "AKIA****",
			StartLine: 9,
			EndLine:   9,
		},
	}}

	n := New(zap.NewNop())
	findings, err := n.Convert(res)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	vuln := findings[0]
	assert.Equal(t, schemas.SeverityCritical, vuln.Severity)
	assert.Equal(t, "vulnerability", vuln.Category)
	assert.True(t, vuln.FixAvailable)
	assert.Equal(t, "2.17.1", vuln.FixVersion)
	assert.Contains(t, vuln.Description, "log4j-core 2.14.0")

	secret := findings[1]
	assert.Equal(t, "secret", secret.Category)
	// UNKNOWN maps to INFO, not the MEDIUM fallback.
	assert.Equal(t, schemas.SeverityInfo, secret.Severity)
	assert.Equal(t, "AKIA****", secret.CodeSnippet)
}

func TestUnmappedSeverityDefaultsToMedium(t *testing.T) {
	t.Parallel()

	res := banditResult()
	res.Findings[0].Severity = "BLOCKER"

	n := New(zap.NewNop())
	findings, err := n.Convert(res)
	require.NoError(t, err)
	assert.Equal(t, schemas.SeverityMedium, findings[0].Severity)
}

func TestAllIsCompletionOrderInsensitive(t *testing.T) {
	t.Parallel()

	results := map[schemas.ScannerType]scanner.Result{
		schemas.ScannerTrivy: &scanner.TrivyResult{Findings: []scanner.TrivyFinding{
			{Kind: scanner.TrivyVulnerability, ID: "CVE-2024-0001", Target: "go.sum", Severity: "LOW", Title: "t"},
		}},
		schemas.ScannerBandit: banditResult(),
	}

	n := New(zap.NewNop())
	findings := n.All(results)
	require.Len(t, findings, 2)

	// Map iteration order varies; output order follows the canonical scanner
	// order instead.
	assert.Equal(t, schemas.ScannerBandit, findings[0].Scanner)
	assert.Equal(t, schemas.ScannerTrivy, findings[1].Scanner)
}

func TestFindingIDIsDeterministic(t *testing.T) {
	t.Parallel()

	a := findingID(schemas.ScannerBandit, "B101", "a.py", 5)
	b := findingID(schemas.ScannerBandit, "B101", "a.py", 5)
	c := findingID(schemas.ScannerBandit, "B101", "a.py", 6)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
