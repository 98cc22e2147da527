// Package scoring assigns every finding a 0-100 triage priority. A finding
// on the CISA KEV list pins to the top; otherwise the score is a weighted
// blend of severity, scanner confidence, fix availability, classification
// tags and category, optionally replaced by a learned model's score.
package scoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
)

// Factor weights. They sum to 1.0 so a perfect finding scores exactly 100.
const (
	weightSeverity   = 0.4
	weightConfidence = 0.2
	weightFix        = 0.2
	weightTags       = 0.1
	weightCategory   = 0.1
)

var severityScores = map[schemas.Severity]float64{
	schemas.SeverityCritical: 100,
	schemas.SeverityHigh:     75,
	schemas.SeverityMedium:   50,
	schemas.SeverityLow:      25,
	schemas.SeverityInfo:     10,
}

var confidenceScores = map[schemas.Confidence]float64{
	schemas.ConfidenceHigh:   100,
	schemas.ConfidenceMedium: 70,
	schemas.ConfidenceLow:    40,
}

var categoryScores = map[string]float64{
	"security":      100,
	"secret":        100,
	"vulnerability": 90,
	"misconfig":     80,
}

const (
	defaultConfidenceScore = 50
	defaultCategoryScore   = 50
)

// ModelScore is a learned model's verdict for one finding.
type ModelScore struct {
	Score              float64
	ConfidenceInterval schemas.ConfidenceInterval
	EPSSScore          *float64
}

// ModelScorer scores findings with a trained model. An error or a score
// outside [0, 100] falls the finding back to rule-based scoring.
type ModelScorer interface {
	Score(ctx context.Context, f *schemas.UnifiedFinding) (ModelScore, error)
}

// Scorer computes priority scores.
type Scorer struct {
	model  ModelScorer
	logger *zap.Logger
}

// New creates a rule-based Scorer. Attach a model with WithModel.
func New(logger *zap.Logger) *Scorer {
	return &Scorer{logger: logger.Named("scoring")}
}

// WithModel enables model scoring with rule-based fallback.
func (s *Scorer) WithModel(model ModelScorer) *Scorer {
	s.model = model
	return s
}

// Score computes and stores the priority score for one finding. An actively
// exploited finding is escalated to CRITICAL and scored 100 regardless of
// every other factor.
func (s *Scorer) Score(ctx context.Context, f *schemas.UnifiedFinding) float64 {
	f.PriorityScore = s.compute(ctx, f)
	return f.PriorityScore
}

// ScoreBatch scores findings in place. Each finding is scored exactly as
// Score would alone.
func (s *Scorer) ScoreBatch(ctx context.Context, findings []schemas.UnifiedFinding) {
	for i := range findings {
		s.Score(ctx, &findings[i])
	}
	s.logger.Debug("Scored findings", zap.Int("count", len(findings)))
}

func (s *Scorer) compute(ctx context.Context, f *schemas.UnifiedFinding) float64 {
	if f.IsActiveExploit {
		f.Severity = schemas.SeverityCritical
		s.logger.Info("Actively exploited finding pinned to top priority", zap.String("id", f.ID))
		return 100
	}

	if s.model != nil {
		switch score, err := s.model.Score(ctx, f); {
		case err != nil:
			s.logger.Warn("Model scoring failed, using rule-based score",
				zap.String("id", f.ID), zap.Error(err))
		case !(score.Score >= 0 && score.Score <= 100):
			// Covers NaN too. An out-of-range score means the model output
			// cannot be trusted, so none of its metadata is kept.
			s.logger.Warn("Model returned an out-of-range score, using rule-based score",
				zap.String("id", f.ID), zap.Float64("model_score", score.Score))
		default:
			ms := score.Score
			f.MLScore = &ms
			ci := score.ConfidenceInterval
			f.MLConfidenceInterval = &ci
			f.EPSSScore = score.EPSSScore
			return score.Score
		}
	}

	return s.ruleBased(f)
}

func (s *Scorer) ruleBased(f *schemas.UnifiedFinding) float64 {
	score := severityScore(f.Severity) * weightSeverity
	score += confidenceScore(f.Confidence) * weightConfidence
	if f.FixAvailable {
		score += 100 * weightFix
	}
	if len(f.CWEIDs) > 0 || len(f.OWASPCategories) > 0 {
		score += 100 * weightTags
	}
	score += categoryScore(f.Category) * weightCategory

	// Unreachable code halves the urgency. Confirmed-reachable code keeps
	// its full score; the bonus direction is deliberately one-sided.
	if f.IsReachable != nil && !*f.IsReachable {
		score /= 2
	}

	return clamp(score)
}

func severityScore(sev schemas.Severity) float64 {
	if v, ok := severityScores[sev]; ok {
		return v
	}
	return severityScores[schemas.SeverityLow]
}

func confidenceScore(c schemas.Confidence) float64 {
	if c == "" {
		return defaultConfidenceScore
	}
	if v, ok := confidenceScores[c]; ok {
		return v
	}
	return defaultConfidenceScore
}

func categoryScore(category string) float64 {
	if v, ok := categoryScores[category]; ok {
		return v
	}
	return defaultCategoryScore
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
