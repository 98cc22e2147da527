package scanner

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
)

// StringList accepts a JSON string or array of strings. Semgrep's metadata
// emits CWE and OWASP labels in both shapes depending on the rule pack.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := jsonAPI.Unmarshal(data, &single); err == nil {
		if single != "" {
			*l = StringList{single}
		}
		return nil
	}
	var many []string
	if err := jsonAPI.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}

// SemgrepFinding is one entry of semgrep's JSON "results" array.
type SemgrepFinding struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	End struct {
		Line int `json:"line"`
	} `json:"end"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Lines    string `json:"lines"`
		Fix      string `json:"fix"`
		Metadata struct {
			CWE        StringList `json:"cwe"`
			OWASP      StringList `json:"owasp"`
			References []string   `json:"references"`
			Category   string     `json:"category"`
			Confidence string     `json:"confidence"`
		} `json:"metadata"`
	} `json:"extra"`
}

// SemgrepResult is the parsed output of one semgrep run.
type SemgrepResult struct {
	Findings []SemgrepFinding
	raw      json.RawMessage
}

func (r *SemgrepResult) Tool() schemas.ScannerType { return schemas.ScannerSemgrep }
func (r *SemgrepResult) Count() int                { return len(r.Findings) }
func (r *SemgrepResult) Raw() json.RawMessage      { return r.raw }

// Semgrep runs the semgrep multi-language SAST tool.
type Semgrep struct {
	cfg    config.ScannerConfig
	logger *zap.Logger
}

// NewSemgrep creates the semgrep adapter.
func NewSemgrep(cfg config.ScannerConfig, logger *zap.Logger) *Semgrep {
	return &Semgrep{cfg: cfg, logger: logger.Named("semgrep")}
}

func (s *Semgrep) Name() schemas.ScannerType { return schemas.ScannerSemgrep }

// ScanDirectory scans dir with the default rule pack.
func (s *Semgrep) ScanDirectory(ctx context.Context, dir string) (Result, error) {
	return s.run(ctx, dir)
}

// ScanFile scans a single file.
func (s *Semgrep) ScanFile(ctx context.Context, path string) (Result, error) {
	return s.run(ctx, path)
}

func (s *Semgrep) run(ctx context.Context, target string) (Result, error) {
	args := []string{"scan", "--config=auto", "--json", "--quiet"}
	for _, excl := range excludesOrDefault(s.cfg.ExcludeDirs) {
		args = append(args, "--exclude", excl)
	}
	args = append(args, target)

	// semgrep exits 1 when blocking findings are reported.
	out, err := runTool(ctx, s.logger, schemas.ScannerSemgrep, s.cfg.Timeout, []int{0, 1}, "semgrep", args...)
	if err != nil {
		return nil, err
	}
	return parseSemgrep(out)
}

func parseSemgrep(out []byte) (*SemgrepResult, error) {
	var doc struct {
		Results []SemgrepFinding `json:"results"`
	}
	if err := jsonAPI.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("malformed semgrep output: %w", err)
	}
	return &SemgrepResult{Findings: doc.Results, raw: json.RawMessage(out)}, nil
}
