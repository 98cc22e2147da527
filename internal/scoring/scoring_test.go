package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
)

func TestScore_WeightedSum(t *testing.T) {
	t.Parallel()

	s := New(zap.NewNop())

	tests := []struct {
		name    string
		finding schemas.UnifiedFinding
		want    float64
	}{
		{
			name: "everything maxed",
			finding: schemas.UnifiedFinding{
				Severity:     schemas.SeverityCritical,
				Confidence:   schemas.ConfidenceHigh,
				FixAvailable: true,
				CWEIDs:       []string{"CWE-89"},
				Category:     "security",
			},
			// 100*0.4 + 100*0.2 + 100*0.2 + 100*0.1 + 100*0.1
			want: 100,
		},
		{
			name: "medium with defaults",
			finding: schemas.UnifiedFinding{
				Severity: schemas.SeverityMedium,
				Category: "misconfig",
			},
			// 50*0.4 + 50*0.2 + 0 + 0 + 80*0.1
			want: 38,
		},
		{
			name: "info floor",
			finding: schemas.UnifiedFinding{
				Severity: schemas.SeverityInfo,
				Category: "other",
			},
			// 10*0.4 + 50*0.2 + 0 + 0 + 50*0.1
			want: 19,
		},
		{
			name: "vulnerability with fix and low confidence",
			finding: schemas.UnifiedFinding{
				Severity:     schemas.SeverityHigh,
				Confidence:   schemas.ConfidenceLow,
				FixAvailable: true,
				Category:     "vulnerability",
			},
			// 75*0.4 + 40*0.2 + 100*0.2 + 0 + 90*0.1
			want: 67,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := tt.finding
			got := s.Score(context.Background(), &f)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.InDelta(t, tt.want, f.PriorityScore, 1e-9)
		})
	}
}

func TestScore_ActiveExploitPinsToTop(t *testing.T) {
	t.Parallel()

	s := New(zap.NewNop())
	f := schemas.UnifiedFinding{
		Severity:        schemas.SeverityLow,
		IsActiveExploit: true,
	}

	got := s.Score(context.Background(), &f)
	assert.Equal(t, 100.0, got)
	assert.Equal(t, schemas.SeverityCritical, f.Severity)
}

func TestScore_UnreachableHalvesScore(t *testing.T) {
	t.Parallel()

	s := New(zap.NewNop())
	unreachable := false
	reachable := true

	base := schemas.UnifiedFinding{
		Severity:     schemas.SeverityHigh,
		Confidence:   schemas.ConfidenceHigh,
		FixAvailable: true,
		Category:     "vulnerability",
	}

	plain := base
	full := s.Score(context.Background(), &plain)

	halved := base
	halved.IsReachable = &unreachable
	assert.InDelta(t, full/2, s.Score(context.Background(), &halved), 1e-9)

	confirmed := base
	confirmed.IsReachable = &reachable
	assert.InDelta(t, full, s.Score(context.Background(), &confirmed), 1e-9)
}

type stubModel struct {
	score ModelScore
	err   error
	calls int
}

func (m *stubModel) Score(_ context.Context, _ *schemas.UnifiedFinding) (ModelScore, error) {
	m.calls++
	return m.score, m.err
}

func TestScore_ModelPathStoresMetadata(t *testing.T) {
	t.Parallel()

	epss := 0.42
	model := &stubModel{score: ModelScore{
		Score:              87.5,
		ConfidenceInterval: schemas.ConfidenceInterval{Lower: 80, Upper: 95},
		EPSSScore:          &epss,
	}}

	s := New(zap.NewNop()).WithModel(model)
	f := schemas.UnifiedFinding{Severity: schemas.SeverityLow}

	got := s.Score(context.Background(), &f)
	assert.Equal(t, 87.5, got)
	require.NotNil(t, f.MLScore)
	assert.Equal(t, 87.5, *f.MLScore)
	require.NotNil(t, f.MLConfidenceInterval)
	assert.Equal(t, 80.0, f.MLConfidenceInterval.Lower)
	require.NotNil(t, f.EPSSScore)
	assert.Equal(t, 0.42, *f.EPSSScore)
}

func TestScore_ModelFailureFallsBackToRules(t *testing.T) {
	t.Parallel()

	model := &stubModel{err: errors.New("model unavailable")}
	s := New(zap.NewNop()).WithModel(model)

	f := schemas.UnifiedFinding{Severity: schemas.SeverityMedium, Category: "misconfig"}
	got := s.Score(context.Background(), &f)

	assert.InDelta(t, 38, got, 1e-9)
	assert.Nil(t, f.MLScore)
	assert.Equal(t, 1, model.calls)
}

func TestScore_OutOfRangeModelScoreFallsBackToRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		score float64
	}{
		{"above range", 250},
		{"below range", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			model := &stubModel{score: ModelScore{Score: tt.score}}
			s := New(zap.NewNop()).WithModel(model)

			f := schemas.UnifiedFinding{Severity: schemas.SeverityMedium, Category: "misconfig"}
			got := s.Score(context.Background(), &f)

			// The rule-based score for a medium misconfig, not a clamped
			// version of the model output.
			assert.InDelta(t, 38, got, 1e-9)
			assert.Nil(t, f.MLScore)
			assert.Nil(t, f.MLConfidenceInterval)
			assert.Nil(t, f.EPSSScore)
			assert.Equal(t, 1, model.calls)
		})
	}
}

func TestScore_UnreachableDoesNotHalveModelScore(t *testing.T) {
	t.Parallel()

	unreachable := false
	model := &stubModel{score: ModelScore{Score: 80}}
	s := New(zap.NewNop()).WithModel(model)

	f := schemas.UnifiedFinding{IsReachable: &unreachable}
	assert.Equal(t, 80.0, s.Score(context.Background(), &f))
}

func TestScoreBatch_MatchesSingleScoring(t *testing.T) {
	t.Parallel()

	s := New(zap.NewNop())
	findings := []schemas.UnifiedFinding{
		{Severity: schemas.SeverityCritical, Confidence: schemas.ConfidenceHigh, Category: "security"},
		{Severity: schemas.SeverityMedium, Category: "misconfig"},
		{Severity: schemas.SeverityInfo, Category: "other"},
	}

	singles := make([]float64, len(findings))
	for i := range findings {
		f := findings[i]
		singles[i] = s.Score(context.Background(), &f)
	}

	s.ScoreBatch(context.Background(), findings)
	for i := range findings {
		assert.InDelta(t, singles[i], findings[i].PriorityScore, 1e-9, "finding %d", i)
	}
}

func TestScore_UnknownSeverityScoresAsLow(t *testing.T) {
	t.Parallel()

	s := New(zap.NewNop())
	f := schemas.UnifiedFinding{Severity: "BLOCKER", Category: "other"}
	// 25*0.4 + 50*0.2 + 50*0.1
	assert.InDelta(t, 25, s.Score(context.Background(), &f), 1e-9)
}
