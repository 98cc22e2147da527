// Package orchestrator wires the scan pipeline: parallel scanner execution,
// normalization, deduplication, enrichment, scoring and aggregation.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/aggregate"
	"github.com/hexbolt/aegiscan/internal/config"
	"github.com/hexbolt/aegiscan/internal/dedup"
	"github.com/hexbolt/aegiscan/internal/enrich"
	"github.com/hexbolt/aegiscan/internal/executor"
	"github.com/hexbolt/aegiscan/internal/normalize"
	"github.com/hexbolt/aegiscan/internal/scanner"
	"github.com/hexbolt/aegiscan/internal/scoring"
)

// Orchestrator drives full scans over one or more targets. The scanner fan
// out is the only concurrent stage; everything after the join runs on the
// calling goroutine.
type Orchestrator struct {
	scanners   []scanner.Scanner
	pool       *executor.Pool
	normalizer *normalize.Normalizer
	dedup      *dedup.Deduplicator
	enricher   *enrich.Enricher
	scorer     *scoring.Scorer
	aggregator *aggregate.Aggregator
	logger     *zap.Logger
}

// New builds an Orchestrator from configuration.
func New(cfg *config.Config, logger *zap.Logger) *Orchestrator {
	var scanners []scanner.Scanner
	if cfg.Scanners.Bandit.Enabled {
		scanners = append(scanners, scanner.NewBandit(cfg.Scanners.Bandit, logger))
	}
	if cfg.Scanners.Semgrep.Enabled {
		scanners = append(scanners, scanner.NewSemgrep(cfg.Scanners.Semgrep, logger))
	}
	if cfg.Scanners.Trivy.Enabled {
		scanners = append(scanners, scanner.NewTrivy(cfg.Scanners.Trivy, logger))
	}

	return &Orchestrator{
		scanners:   scanners,
		pool:       executor.NewPool(cfg.Engine.Workers, logger),
		normalizer: normalize.New(logger),
		dedup:      dedup.New(cfg.Dedup.Strategy, logger),
		enricher:   enrich.New(cfg.Enrichment, logger),
		scorer:     scoring.New(logger),
		aggregator: aggregate.New(logger),
		logger:     logger.Named("orchestrator"),
	}
}

// WithScanners replaces the scanner set, primarily for tests.
func (o *Orchestrator) WithScanners(scanners ...scanner.Scanner) *Orchestrator {
	o.scanners = scanners
	return o
}

// WithEnricher replaces the enrichment stage.
func (o *Orchestrator) WithEnricher(e *enrich.Enricher) *Orchestrator {
	o.enricher = e
	return o
}

// WithScorer replaces the scoring stage.
func (o *Orchestrator) WithScorer(s *scoring.Scorer) *Orchestrator {
	o.scorer = s
	return o
}

// ScanDirectory runs the full pipeline over a directory tree.
func (o *Orchestrator) ScanDirectory(ctx context.Context, dir string) (*schemas.ScanBatchResult, error) {
	if err := validateTarget(dir, true); err != nil {
		return nil, err
	}
	return o.scan(ctx, dir, executor.TargetDirectory), nil
}

// ScanFile runs the full pipeline over a single file.
func (o *Orchestrator) ScanFile(ctx context.Context, path string) (*schemas.ScanBatchResult, error) {
	if err := validateTarget(path, false); err != nil {
		return nil, err
	}
	return o.scan(ctx, path, executor.TargetFile), nil
}

// ScanTargets scans each target independently. A target that fails validation
// contributes a batch carrying only its error; the remaining targets still
// run.
func (o *Orchestrator) ScanTargets(ctx context.Context, targets []string) *schemas.BulkScanResult {
	bulk := schemas.NewBulkScanResult()
	for _, target := range targets {
		startedAt := time.Now()

		info, err := os.Stat(target)
		if err != nil {
			bulk.Results[target] = o.aggregator.FailedBatch(uuid.NewString(), target, startedAt, fmt.Errorf("invalid target: %w", err))
			continue
		}

		kind := executor.TargetFile
		if info.IsDir() {
			kind = executor.TargetDirectory
		}
		bulk.Results[target] = o.scan(ctx, target, kind)
	}
	bulk.Duration = time.Since(bulk.StartedAt)

	o.logger.Info("Bulk scan finished",
		zap.Int("targets", len(targets)),
		zap.Int("total_findings", bulk.TotalFindings()),
		zap.Int("critical", bulk.TotalCritical()),
		zap.Int("high", bulk.TotalHigh()),
		zap.Duration("elapsed", bulk.Duration),
	)
	return bulk
}

func (o *Orchestrator) scan(ctx context.Context, target string, kind executor.TargetKind) *schemas.ScanBatchResult {
	startedAt := time.Now()
	scanID := uuid.NewString()
	o.logger.Info("Scan started",
		zap.String("scan_id", scanID),
		zap.String("target", target),
		zap.Int("scanners", len(o.scanners)),
	)

	outcomes := o.pool.Run(ctx, o.scanners, target, kind)

	results := make(map[schemas.ScannerType]scanner.Result, len(outcomes))
	for tool, outcome := range outcomes {
		if outcome.Err == nil {
			results[tool] = outcome.Result
		}
	}

	allFindings := o.normalizer.All(results)
	findings, removed := o.dedup.Apply(allFindings)
	o.enricher.Apply(ctx, target, findings)
	o.scorer.ScoreBatch(ctx, findings)

	return o.aggregator.Build(aggregate.BatchInput{
		ScanID:      scanID,
		Target:      target,
		StartedAt:   startedAt,
		Outcomes:    outcomes,
		AllFindings: allFindings,
		Findings:    findings,
		Duplicates:  removed,
	})
}

// validateTarget rejects missing paths and kind mismatches before any
// scanner runs.
func validateTarget(path string, wantDir bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	if wantDir && !info.IsDir() {
		return fmt.Errorf("invalid target: %s is not a directory", path)
	}
	if !wantDir && info.IsDir() {
		return fmt.Errorf("invalid target: %s is a directory", path)
	}
	return nil
}
