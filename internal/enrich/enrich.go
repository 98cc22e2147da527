// Package enrich augments normalized findings with exploitation intelligence:
// CISA KEV status, false positive heuristics and reachability analysis. Every
// enrichment source is best effort; a failed lookup leaves the finding
// untouched rather than failing the scan.
package enrich

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
)

var cveRe = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)

// ExtractCVEs collects the distinct CVE identifiers mentioned anywhere in a
// finding: its ID, title, description and references.
func ExtractCVEs(f *schemas.UnifiedFinding) []string {
	seen := make(map[string]struct{})
	var out []string
	scan := func(s string) {
		for _, cve := range cveRe.FindAllString(strings.ToUpper(s), -1) {
			if _, dup := seen[cve]; !dup {
				seen[cve] = struct{}{}
				out = append(out, cve)
			}
		}
	}
	scan(f.ID)
	scan(f.Title)
	scan(f.Description)
	for _, ref := range f.References {
		scan(ref)
	}
	return out
}

// ExploitLookup answers whether a CVE is known to be actively exploited.
// *KEVClient is the production implementation.
type ExploitLookup interface {
	IsExploited(ctx context.Context, cveID string) bool
}

// Enricher applies the configured enrichment sources to a finding list.
type Enricher struct {
	cfg          config.EnrichmentConfig
	kev          ExploitLookup
	fp           *FPDetector
	reachability ReachabilityAnalyzer
	logger       *zap.Logger
}

// New wires an Enricher from configuration. Disabled sources stay nil and
// are skipped.
func New(cfg config.EnrichmentConfig, logger *zap.Logger) *Enricher {
	e := &Enricher{cfg: cfg, logger: logger.Named("enrich")}
	if cfg.KEVEnabled {
		e.kev = NewKEVClient(cfg.KEVCacheFile, logger)
	}
	if cfg.FPDetectionEnabled {
		e.fp = NewFPDetector()
	}
	if cfg.ReachabilityEnabled {
		e.reachability = NewStaticReachability(logger)
	}
	return e
}

// WithExploitLookup swaps the KEV source, primarily for tests.
func (e *Enricher) WithExploitLookup(kev ExploitLookup) *Enricher {
	e.kev = kev
	return e
}

// WithReachability swaps the reachability analyzer.
func (e *Enricher) WithReachability(r ReachabilityAnalyzer) *Enricher {
	e.reachability = r
	return e
}

// Apply enriches findings in place. root is the scanned target, used by
// reachability analysis.
func (e *Enricher) Apply(ctx context.Context, root string, findings []schemas.UnifiedFinding) {
	if len(findings) == 0 {
		return
	}

	var exploited, falsePositives int
	for i := range findings {
		f := &findings[i]

		if e.kev != nil {
			for _, cve := range ExtractCVEs(f) {
				if e.kev.IsExploited(ctx, cve) {
					f.IsActiveExploit = true
					exploited++
					break
				}
			}
		}

		if e.reachability != nil {
			verdict := e.reachability.Analyze(ctx, root, f)
			f.IsReachable = verdict.Reachable
			f.ReachabilityConfidence = verdict.Confidence
		}
	}

	if e.fp != nil {
		candidates := make([]FPCandidate, len(findings))
		for i := range findings {
			candidates[i] = FPCandidate{
				FilePath:    findings[i].FilePath,
				CodeSnippet: findings[i].CodeSnippet,
				Title:       findings[i].Title,
			}
		}
		for i, analysis := range e.fp.AnalyzeBatch(candidates) {
			f := &findings[i]
			f.IsFalsePositive = analysis.LikelyFalsePositive
			f.FPConfidence = analysis.Confidence
			f.FPReasons = analysis.Reasons
			if analysis.LikelyFalsePositive {
				falsePositives++
			}
		}
	}

	e.logger.Info("Enrichment complete",
		zap.Int("findings", len(findings)),
		zap.Int("actively_exploited", exploited),
		zap.Int("likely_false_positives", falsePositives),
	)
}
