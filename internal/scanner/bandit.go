package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// BanditCWE is the CWE reference bandit attaches to a finding.
type BanditCWE struct {
	ID int `json:"id"`
}

// BanditFinding is one entry of bandit's JSON "results" array.
type BanditFinding struct {
	TestID     string     `json:"test_id"`
	TestName   string     `json:"test_name"`
	Severity   string     `json:"issue_severity"`
	Confidence string     `json:"issue_confidence"`
	IssueText  string     `json:"issue_text"`
	Filename   string     `json:"filename"`
	LineNumber int        `json:"line_number"`
	LineRange  []int      `json:"line_range"`
	Code       string     `json:"code"`
	IssueCWE   *BanditCWE `json:"issue_cwe"`
}

// LineEnd derives the last affected line from bandit's line_range.
func (f *BanditFinding) LineEnd() int {
	if len(f.LineRange) > 0 {
		last := f.LineRange[len(f.LineRange)-1]
		if last > f.LineNumber {
			return last
		}
	}
	return f.LineNumber
}

// BanditResult is the parsed output of one bandit run.
type BanditResult struct {
	Findings []BanditFinding
	raw      json.RawMessage
}

func (r *BanditResult) Tool() schemas.ScannerType { return schemas.ScannerBandit }
func (r *BanditResult) Count() int                { return len(r.Findings) }
func (r *BanditResult) Raw() json.RawMessage      { return r.raw }

// Bandit runs the bandit Python SAST tool.
type Bandit struct {
	cfg    config.ScannerConfig
	logger *zap.Logger
}

// NewBandit creates the bandit adapter.
func NewBandit(cfg config.ScannerConfig, logger *zap.Logger) *Bandit {
	return &Bandit{cfg: cfg, logger: logger.Named("bandit")}
}

func (b *Bandit) Name() schemas.ScannerType { return schemas.ScannerBandit }

// ScanDirectory scans dir recursively.
func (b *Bandit) ScanDirectory(ctx context.Context, dir string) (Result, error) {
	args := []string{"-f", "json", "-ll", "-r"}
	if excl := excludesOrDefault(b.cfg.ExcludeDirs); len(excl) > 0 {
		args = append(args, "-x", strings.Join(excl, ","))
	}
	args = append(args, dir)
	return b.run(ctx, args)
}

// ScanFile scans a single Python file.
func (b *Bandit) ScanFile(ctx context.Context, path string) (Result, error) {
	return b.run(ctx, []string{"-f", "json", path})
}

func (b *Bandit) run(ctx context.Context, args []string) (Result, error) {
	// bandit exits 1 when it reports findings.
	out, err := runTool(ctx, b.logger, schemas.ScannerBandit, b.cfg.Timeout, []int{0, 1}, "bandit", args...)
	if err != nil {
		return nil, err
	}
	return parseBandit(out)
}

func parseBandit(out []byte) (*BanditResult, error) {
	var doc struct {
		Results []BanditFinding `json:"results"`
	}
	if err := jsonAPI.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("malformed bandit output: %w", err)
	}
	for i := range doc.Results {
		doc.Results[i].Code = strings.TrimRight(doc.Results[i].Code, "\n")
	}
	return &BanditResult{Findings: doc.Results, raw: json.RawMessage(out)}, nil
}
