package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/hexbolt/aegiscan/api/schemas"
)

const toolInfoURI = "https://github.com/hexbolt/aegiscan"

// sarifReporter accumulates one SARIF run per scanned target and emits the
// whole report on Close.
type sarifReporter struct {
	out    io.WriteCloser
	report *sarif.Report
}

func newSARIFReporter(out io.WriteCloser) (*sarifReporter, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("failed to create sarif report: %w", err)
	}
	return &sarifReporter{out: out, report: report}, nil
}

func (r *sarifReporter) WriteBatch(batch *schemas.ScanBatchResult) error {
	run := sarif.NewRunWithInformationURI("aegiscan", toolInfoURI)

	seenRules := make(map[string]bool, len(batch.Findings))
	for i := range batch.Findings {
		f := &batch.Findings[i]
		ruleID := ruleIDOf(f)

		if !seenRules[ruleID] {
			seenRules[ruleID] = true
			run.AddRule(ruleID).
				WithDescription(f.Title).
				WithDefaultConfiguration(&sarif.ReportingConfiguration{
					Level: sarifLevel(f.Severity),
				})
		}

		region := sarif.NewRegion()
		if f.LineStart > 0 {
			region.WithStartLine(f.LineStart)
		}
		if f.LineEnd >= f.LineStart && f.LineEnd > 0 {
			region.WithEndLine(f.LineEnd)
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.FilePath)).
				WithRegion(region),
		)

		result := sarif.NewRuleResult(ruleID).
			WithMessage(sarif.NewTextMessage(resultMessage(f))).
			WithLevel(sarifLevel(f.Severity)).
			WithLocations([]*sarif.Location{location})
		result.PropertyBag = *sarif.NewPropertyBag()
		result.PropertyBag.Add("priority_score", f.PriorityScore)
		result.PropertyBag.Add("category", f.Category)
		if f.IsActiveExploit {
			result.PropertyBag.Add("active_exploit", true)
		}
		run.AddResult(result)
	}

	r.report.AddRun(run)
	return nil
}

// WriteBulk emits runs in lexical target order so the report is stable
// regardless of map iteration.
func (r *sarifReporter) WriteBulk(bulk *schemas.BulkScanResult) error {
	targets := make([]string, 0, len(bulk.Results))
	for target := range bulk.Results {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		if err := r.WriteBatch(bulk.Results[target]); err != nil {
			return err
		}
	}
	return nil
}

func (r *sarifReporter) Close() error {
	if err := r.report.PrettyWrite(r.out); err != nil {
		_ = r.out.Close()
		return fmt.Errorf("failed to write sarif report: %w", err)
	}
	return r.out.Close()
}

// ruleIDOf recovers the scanner-and-rule prefix of a finding ID by trimming
// the location hash suffix, so findings of the same rule share one SARIF rule.
func ruleIDOf(f *schemas.UnifiedFinding) string {
	if idx := strings.LastIndex(f.ID, "-"); idx > 0 {
		return f.ID[:idx]
	}
	return f.ID
}

func resultMessage(f *schemas.UnifiedFinding) string {
	if f.Description != "" {
		return f.Description
	}
	return f.Title
}

func sarifLevel(severity schemas.Severity) string {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return "error"
	case schemas.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
