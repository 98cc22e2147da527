package aggregate

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/executor"
)

type rawResult struct{ tool schemas.ScannerType }

func (r *rawResult) Tool() schemas.ScannerType { return r.tool }
func (r *rawResult) Count() int                { return 1 }
func (r *rawResult) Raw() json.RawMessage      { return json.RawMessage(`{"results":[]}`) }

func TestBuild_HistogramsPartitionFindings(t *testing.T) {
	t.Parallel()

	findings := []schemas.UnifiedFinding{
		{ID: "a", Scanner: schemas.ScannerBandit, Severity: schemas.SeverityCritical},
		{ID: "b", Scanner: schemas.ScannerBandit, Severity: schemas.SeverityHigh},
		{ID: "c", Scanner: schemas.ScannerTrivy, Severity: schemas.SeverityHigh},
		{ID: "d", Scanner: schemas.ScannerSemgrep, Severity: schemas.SeverityLow},
	}

	a := New(zap.NewNop())
	res := a.Build(BatchInput{
		ScanID:    "scan-1",
		Target:    "/src",
		StartedAt: time.Now().Add(-time.Second),
		Findings:  findings,
	})

	assert.Equal(t, 1, res.BySeverity[schemas.SeverityCritical])
	assert.Equal(t, 2, res.BySeverity[schemas.SeverityHigh])
	assert.Equal(t, 1, res.BySeverity[schemas.SeverityLow])

	sevTotal := 0
	for _, n := range res.BySeverity {
		sevTotal += n
	}
	assert.Equal(t, len(findings), sevTotal)

	scannerTotal := 0
	for _, n := range res.ByScanner {
		scannerTotal += n
	}
	assert.Equal(t, len(findings), scannerTotal)
	assert.Equal(t, 2, res.ByScanner[schemas.ScannerBandit])

	assert.True(t, res.HasCriticalOrHigh())
	assert.Positive(t, res.Duration)
}

func TestBuild_ScannerErrorsAndRawResults(t *testing.T) {
	t.Parallel()

	outcomes := map[schemas.ScannerType]executor.Outcome{
		schemas.ScannerBandit: {
			Scanner: schemas.ScannerBandit,
			Result:  &rawResult{tool: schemas.ScannerBandit},
		},
		schemas.ScannerSemgrep: {
			Scanner: schemas.ScannerSemgrep,
			Err:     errors.New("semgrep not installed"),
		},
	}

	a := New(zap.NewNop())
	res := a.Build(BatchInput{ScanID: "scan-2", Target: "/src", StartedAt: time.Now(), Outcomes: outcomes})

	require.Contains(t, res.Errors, schemas.ScannerSemgrep)
	assert.Equal(t, "semgrep not installed", res.Errors[schemas.ScannerSemgrep])
	assert.NotContains(t, res.Errors, schemas.ScannerBandit)

	assert.Contains(t, res.RawResults, schemas.ScannerBandit)
	assert.NotContains(t, res.RawResults, schemas.ScannerSemgrep)
}

func TestBuild_DuplicateAccounting(t *testing.T) {
	t.Parallel()

	all := []schemas.UnifiedFinding{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	kept := []schemas.UnifiedFinding{{ID: "a"}, {ID: "c"}}

	a := New(zap.NewNop())
	res := a.Build(BatchInput{
		ScanID:      "scan-3",
		StartedAt:   time.Now(),
		AllFindings: all,
		Findings:    kept,
		Duplicates:  1,
	})

	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, len(all), len(res.AllFindings))
	assert.Equal(t, len(res.AllFindings)-res.DuplicatesRemoved, len(res.Findings))
}

func TestFailedBatch(t *testing.T) {
	t.Parallel()

	a := New(zap.NewNop())
	res := a.FailedBatch("scan-4", "/missing", time.Now(), errors.New("target does not exist"))

	assert.Equal(t, "target does not exist", res.TargetErr)
	assert.Empty(t, res.Findings)
	assert.Empty(t, res.AllFindings)
	assert.Empty(t, res.Errors)
	assert.False(t, res.HasCriticalOrHigh())
}
