package schemas

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// -- Finding Schemas --

// Severity is the unified severity scale shared by every scanner. Values are
// uppercase to match the vocabulary the underlying tools emit.
type Severity string

// Constants defining the standard severity levels, lowest to highest.
const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AllSeverities lists every severity in ascending order of urgency.
var AllSeverities = []Severity{
	SeverityInfo,
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// severityRanks is the single canonical ordering. Every comparison in the
// codebase goes through Rank; consumers must not re-derive the order.
var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of s on the ordered scale (INFO=0 .. CRITICAL=4).
// Unknown severities rank below INFO.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity normalizes a raw severity string onto the unified scale.
// Unrecognized input maps to MEDIUM so normalization never fails.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := severityRanks[s]; ok {
		return s
	}
	return SeverityMedium
}

// Confidence expresses how certain a scanner is about a finding.
type Confidence string

// Scanner-reported confidence levels. The empty string means "not reported".
const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// ScannerType identifies one of the supported scanning tools.
type ScannerType string

// The fixed set of supported scanners.
const (
	ScannerBandit  ScannerType = "bandit"
	ScannerSemgrep ScannerType = "semgrep"
	ScannerTrivy   ScannerType = "trivy"
)

// AllScanners lists the supported scanners in their canonical iteration order.
// Pipeline stages that fold per-scanner results into a single list walk this
// slice so their output does not depend on goroutine completion order.
var AllScanners = []ScannerType{ScannerBandit, ScannerSemgrep, ScannerTrivy}

// ConfidenceInterval is the (lower, upper) bound a learned model attaches to
// its score.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// UnifiedFinding is the canonical finding record every scanner's output is
// normalized into.
//
// Identity and location fields are immutable once normalization has produced
// the record; only the scoring and enrichment fields below may be written
// afterwards, each by exactly one pipeline stage.
type UnifiedFinding struct {
	// Identity
	ID      string      `json:"id"`
	Scanner ScannerType `json:"scanner"`

	// Classification
	Severity        Severity `json:"severity"`
	Category        string   `json:"category"`
	CWEIDs          []string `json:"cwe_ids,omitempty"`
	OWASPCategories []string `json:"owasp_categories,omitempty"`
	References      []string `json:"references,omitempty"`

	// Location
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`

	// Content
	Title       string `json:"title"`
	Description string `json:"description"`
	CodeSnippet string `json:"code_snippet,omitempty"`

	// Remediation
	FixAvailable bool   `json:"fix_available"`
	FixVersion   string `json:"fix_version,omitempty"`
	FixGuidance  string `json:"fix_guidance,omitempty"`

	// Scoring, written by the priority scorer.
	PriorityScore float64    `json:"priority_score"`
	Confidence    Confidence `json:"confidence,omitempty"`

	// Learned-model scoring metadata, written only when a model scored the
	// finding.
	MLScore              *float64            `json:"ml_score,omitempty"`
	MLConfidenceInterval *ConfidenceInterval `json:"ml_confidence_interval,omitempty"`
	EPSSScore            *float64            `json:"epss_score,omitempty"`

	// Enrichment, written by the enrichment stage.
	IsActiveExploit        bool     `json:"is_active_exploit"`
	IsFalsePositive        bool     `json:"is_false_positive"`
	FPConfidence           float64  `json:"fp_confidence,omitempty"`
	FPReasons              []string `json:"fp_reasons,omitempty"`
	IsReachable            *bool    `json:"is_reachable,omitempty"`
	ReachabilityConfidence float64  `json:"reachability_confidence,omitempty"`
}

// LocationKey returns the key used for location-based deduplication:
// findings sharing file path and line range are considered the same issue.
func (f *UnifiedFinding) LocationKey() string {
	return fmt.Sprintf("%s:%d-%d", f.FilePath, f.LineStart, f.LineEnd)
}

// ContentKey returns the key used for content-based deduplication: title plus
// file plus a hash of the code excerpt, so the same issue reported at shifted
// line numbers still collapses.
func (f *UnifiedFinding) ContentKey() string {
	sum := sha1.Sum([]byte(f.CodeSnippet))
	return fmt.Sprintf("%s:%s:%s", f.Title, f.FilePath, hex.EncodeToString(sum[:8]))
}
