package scanner

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
)

// TrivyFindingKind distinguishes the three report sections trivy produces.
type TrivyFindingKind string

const (
	TrivyVulnerability TrivyFindingKind = "vulnerability"
	TrivyMisconfig     TrivyFindingKind = "misconfig"
	TrivySecret        TrivyFindingKind = "secret"
)

// TrivyFinding is one vulnerability, misconfiguration or secret flattened out
// of trivy's nested report.
type TrivyFinding struct {
	Kind             TrivyFindingKind
	ID               string // CVE id, policy id or secret rule id
	Target           string
	PkgName          string
	InstalledVersion string
	FixedVersion     string
	Severity         string
	Title            string
	Description      string
	References       []string
	CWEIDs           []string
	Resolution       string
	Match            string
	StartLine        int
	EndLine          int
}

// TrivyResult is the parsed output of one trivy run.
type TrivyResult struct {
	Findings []TrivyFinding
	raw      json.RawMessage
}

func (r *TrivyResult) Tool() schemas.ScannerType { return schemas.ScannerTrivy }
func (r *TrivyResult) Count() int                { return len(r.Findings) }
func (r *TrivyResult) Raw() json.RawMessage      { return r.raw }

// Trivy runs the trivy filesystem scanner for dependency vulnerabilities,
// IaC misconfigurations and committed secrets.
type Trivy struct {
	cfg    config.ScannerConfig
	logger *zap.Logger
}

// NewTrivy creates the trivy adapter.
func NewTrivy(cfg config.ScannerConfig, logger *zap.Logger) *Trivy {
	return &Trivy{cfg: cfg, logger: logger.Named("trivy")}
}

func (t *Trivy) Name() schemas.ScannerType { return schemas.ScannerTrivy }

// ScanDirectory scans the filesystem tree rooted at dir.
func (t *Trivy) ScanDirectory(ctx context.Context, dir string) (Result, error) {
	return t.run(ctx, dir)
}

// ScanFile scans a single file (lockfile, Dockerfile, config file).
func (t *Trivy) ScanFile(ctx context.Context, path string) (Result, error) {
	return t.run(ctx, path)
}

func (t *Trivy) run(ctx context.Context, target string) (Result, error) {
	args := []string{
		"fs",
		"--format", "json",
		"--quiet",
		"--scanners", "vuln,misconfig,secret",
		target,
	}
	out, err := runTool(ctx, t.logger, schemas.ScannerTrivy, t.cfg.Timeout, []int{0}, "trivy", args...)
	if err != nil {
		return nil, err
	}
	return parseTrivy(out)
}

// trivyReport mirrors the sections of trivy's JSON schema we consume.
type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string   `json:"VulnerabilityID"`
			PkgName          string   `json:"PkgName"`
			InstalledVersion string   `json:"InstalledVersion"`
			FixedVersion     string   `json:"FixedVersion"`
			Severity         string   `json:"Severity"`
			Title            string   `json:"Title"`
			Description      string   `json:"Description"`
			References       []string `json:"References"`
			CweIDs           []string `json:"CweIDs"`
		} `json:"Vulnerabilities"`
		Misconfigurations []struct {
			ID            string   `json:"ID"`
			Title         string   `json:"Title"`
			Description   string   `json:"Description"`
			Severity      string   `json:"Severity"`
			Resolution    string   `json:"Resolution"`
			References    []string `json:"References"`
			CauseMetadata struct {
				StartLine int `json:"StartLine"`
				EndLine   int `json:"EndLine"`
			} `json:"CauseMetadata"`
		} `json:"Misconfigurations"`
		Secrets []struct {
			RuleID    string `json:"RuleID"`
			Title     string `json:"Title"`
			Severity  string `json:"Severity"`
			Match     string `json:"Match"`
			StartLine int    `json:"StartLine"`
			EndLine   int    `json:"EndLine"`
		} `json:"Secrets"`
	} `json:"Results"`
}

func parseTrivy(out []byte) (*TrivyResult, error) {
	var doc trivyReport
	if err := jsonAPI.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("malformed trivy output: %w", err)
	}

	var findings []TrivyFinding
	for _, res := range doc.Results {
		for _, v := range res.Vulnerabilities {
			findings = append(findings, TrivyFinding{
				Kind:             TrivyVulnerability,
				ID:               v.VulnerabilityID,
				Target:           res.Target,
				PkgName:          v.PkgName,
				InstalledVersion: v.InstalledVersion,
				FixedVersion:     v.FixedVersion,
				Severity:         v.Severity,
				Title:            v.Title,
				Description:      v.Description,
				References:       v.References,
				CWEIDs:           v.CweIDs,
			})
		}
		for _, m := range res.Misconfigurations {
			findings = append(findings, TrivyFinding{
				Kind:        TrivyMisconfig,
				ID:          m.ID,
				Target:      res.Target,
				Severity:    m.Severity,
				Title:       m.Title,
				Description: m.Description,
				References:  m.References,
				Resolution:  m.Resolution,
				StartLine:   m.CauseMetadata.StartLine,
				EndLine:     m.CauseMetadata.EndLine,
			})
		}
		for _, s := range res.Secrets {
			findings = append(findings, TrivyFinding{
				Kind:      TrivySecret,
				ID:        s.RuleID,
				Target:    res.Target,
				Severity:  s.Severity,
				Title:     s.Title,
				Match:     s.Match,
				StartLine: s.StartLine,
				EndLine:   s.EndLine,
			})
		}
	}
	return &TrivyResult{Findings: findings, raw: json.RawMessage(out)}, nil
}
