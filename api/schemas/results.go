package schemas

import (
	"encoding/json"
	"sort"
	"time"
)

// ScanBatchResult is the output of one scan invocation over a single target.
// It is filled in stage by stage while the pipeline runs and treated as an
// immutable snapshot once returned to the caller.
type ScanBatchResult struct {
	ScanID    string        `json:"scan_id"`
	Target    string        `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// AllFindings is the full normalized list before deduplication.
	AllFindings []UnifiedFinding `json:"all_findings,omitempty"`
	// Findings is the deduplicated, enriched, scored list.
	Findings []UnifiedFinding `json:"findings"`

	// RawResults preserves each scanner's original JSON output.
	RawResults map[ScannerType]json.RawMessage `json:"raw_results,omitempty"`

	BySeverity        map[Severity]int    `json:"by_severity"`
	ByScanner         map[ScannerType]int `json:"by_scanner"`
	DuplicatesRemoved int                 `json:"duplicates_removed"`

	// Errors holds one entry per scanner whose run failed. A failed scanner
	// contributes zero findings and exactly one error string.
	Errors map[ScannerType]string `json:"errors,omitempty"`

	// TargetErr is set instead of any findings when the target itself was
	// invalid (bulk scans record the failure here rather than aborting).
	TargetErr string `json:"target_error,omitempty"`
}

// CriticalCount returns the number of CRITICAL findings after deduplication.
func (r *ScanBatchResult) CriticalCount() int { return r.BySeverity[SeverityCritical] }

// HighCount returns the number of HIGH findings after deduplication.
func (r *ScanBatchResult) HighCount() int { return r.BySeverity[SeverityHigh] }

// HasCriticalOrHigh reports whether any CRITICAL or HIGH finding survived
// deduplication.
func (r *ScanBatchResult) HasCriticalOrHigh() bool {
	return r.CriticalCount() > 0 || r.HighCount() > 0
}

// TopPriority returns the n highest-scoring findings in descending score
// order. Ties keep their original relative order; no secondary criteria are
// applied.
func (r *ScanBatchResult) TopPriority(n int) []UnifiedFinding {
	ranked := make([]UnifiedFinding, len(r.Findings))
	copy(ranked, r.Findings)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityScore > ranked[j].PriorityScore
	})
	if n < 0 || n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// BulkScanResult maps each target of a multi-target invocation to its batch
// result. Targets are processed independently; a target that failed stays in
// the map with its error recorded on the batch.
type BulkScanResult struct {
	Results   map[string]*ScanBatchResult `json:"results"`
	StartedAt time.Time                   `json:"started_at"`
	Duration  time.Duration               `json:"duration"`
}

// NewBulkScanResult returns an empty bulk result stamped with the start time.
func NewBulkScanResult() *BulkScanResult {
	return &BulkScanResult{
		Results:   make(map[string]*ScanBatchResult),
		StartedAt: time.Now(),
	}
}

// TotalFindings sums deduplicated finding counts across all targets.
func (b *BulkScanResult) TotalFindings() int {
	total := 0
	for _, r := range b.Results {
		total += len(r.Findings)
	}
	return total
}

// TotalCritical sums CRITICAL counts across all targets.
func (b *BulkScanResult) TotalCritical() int {
	total := 0
	for _, r := range b.Results {
		total += r.CriticalCount()
	}
	return total
}

// TotalHigh sums HIGH counts across all targets.
func (b *BulkScanResult) TotalHigh() int {
	total := 0
	for _, r := range b.Results {
		total += r.HighCount()
	}
	return total
}
