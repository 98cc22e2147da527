// Package aggregate assembles the per-stage pipeline outputs into the final
// batch result: histograms, duplicate counts and per-scanner errors.
package aggregate

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/executor"
)

// Aggregator builds ScanBatchResult values.
type Aggregator struct {
	logger *zap.Logger
}

// New creates an Aggregator.
func New(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger.Named("aggregate")}
}

// BatchInput carries everything the pipeline produced for one target.
type BatchInput struct {
	ScanID      string
	Target      string
	StartedAt   time.Time
	Outcomes    map[schemas.ScannerType]executor.Outcome
	AllFindings []schemas.UnifiedFinding
	Findings    []schemas.UnifiedFinding
	Duplicates  int
}

// Build assembles the batch result. The severity and scanner histograms
// partition the deduplicated findings exactly: every finding counts once in
// each histogram.
func (a *Aggregator) Build(in BatchInput) *schemas.ScanBatchResult {
	res := &schemas.ScanBatchResult{
		ScanID:            in.ScanID,
		Target:            in.Target,
		StartedAt:         in.StartedAt,
		Duration:          time.Since(in.StartedAt),
		AllFindings:       in.AllFindings,
		Findings:          in.Findings,
		BySeverity:        make(map[schemas.Severity]int),
		ByScanner:         make(map[schemas.ScannerType]int),
		DuplicatesRemoved: in.Duplicates,
		RawResults:        make(map[schemas.ScannerType]json.RawMessage),
		Errors:            make(map[schemas.ScannerType]string),
	}

	for tool, outcome := range in.Outcomes {
		if outcome.Err != nil {
			res.Errors[tool] = outcome.Err.Error()
			continue
		}
		if outcome.Result != nil {
			res.RawResults[tool] = outcome.Result.Raw()
		}
	}

	for i := range in.Findings {
		f := &in.Findings[i]
		res.BySeverity[f.Severity]++
		res.ByScanner[f.Scanner]++
	}

	a.logger.Info("Scan batch assembled",
		zap.String("scan_id", in.ScanID),
		zap.String("target", in.Target),
		zap.Int("findings", len(in.Findings)),
		zap.Int("duplicates_removed", in.Duplicates),
		zap.Int("scanner_errors", len(res.Errors)),
		zap.Duration("elapsed", res.Duration),
	)
	return res
}

// FailedBatch records a target that could not be scanned at all. The result
// carries only the error; every finding collection stays empty.
func (a *Aggregator) FailedBatch(scanID, target string, startedAt time.Time, err error) *schemas.ScanBatchResult {
	a.logger.Warn("Target failed",
		zap.String("scan_id", scanID),
		zap.String("target", target),
		zap.Error(err),
	)
	return &schemas.ScanBatchResult{
		ScanID:     scanID,
		Target:     target,
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
		BySeverity: make(map[schemas.Severity]int),
		ByScanner:  make(map[schemas.ScannerType]int),
		TargetErr:  err.Error(),
	}
}
