// Package normalize converts scanner-specific results into the unified
// finding schema. Conversion is total: a raw finding with unrecognized
// severity or missing optional fields still yields a valid record.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/scanner"
)

// Per-scanner severity vocabularies. Anything outside these maps falls back
// to MEDIUM via schemas.ParseSeverity semantics.
var (
	banditSeverities = map[string]schemas.Severity{
		"HIGH":   schemas.SeverityHigh,
		"MEDIUM": schemas.SeverityMedium,
		"LOW":    schemas.SeverityLow,
	}
	semgrepSeverities = map[string]schemas.Severity{
		"ERROR":   schemas.SeverityHigh,
		"WARNING": schemas.SeverityMedium,
		"INFO":    schemas.SeverityLow,
	}
	trivySeverities = map[string]schemas.Severity{
		"CRITICAL": schemas.SeverityCritical,
		"HIGH":     schemas.SeverityHigh,
		"MEDIUM":   schemas.SeverityMedium,
		"LOW":      schemas.SeverityLow,
		"UNKNOWN":  schemas.SeverityInfo,
	}
)

// Normalizer folds raw scanner results into unified findings.
type Normalizer struct {
	logger *zap.Logger
}

// New creates a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger.Named("normalize")}
}

// All converts every result in the map, walking schemas.AllScanners so the
// output order is fixed regardless of which scan finished first. A result
// that fails to convert is logged and skipped; it never aborts the batch.
func (n *Normalizer) All(results map[schemas.ScannerType]scanner.Result) []schemas.UnifiedFinding {
	var out []schemas.UnifiedFinding
	for _, tool := range schemas.AllScanners {
		res, ok := results[tool]
		if ok && res != nil {
			converted, err := n.Convert(res)
			if err != nil {
				n.logger.Error("Dropping unconvertible result", zap.String("scanner", string(tool)), zap.Error(err))
				continue
			}
			out = append(out, converted...)
			n.logger.Debug("Converted findings", zap.String("scanner", string(tool)), zap.Int("count", len(converted)))
		}
	}
	return out
}

// Convert normalizes a single scanner result.
func (n *Normalizer) Convert(res scanner.Result) ([]schemas.UnifiedFinding, error) {
	switch r := res.(type) {
	case *scanner.BanditResult:
		return convertBandit(r), nil
	case *scanner.SemgrepResult:
		return convertSemgrep(r), nil
	case *scanner.TrivyResult:
		return convertTrivy(r), nil
	default:
		return nil, fmt.Errorf("unsupported result type %T", res)
	}
}

func convertBandit(res *scanner.BanditResult) []schemas.UnifiedFinding {
	out := make([]schemas.UnifiedFinding, 0, len(res.Findings))
	for i := range res.Findings {
		f := &res.Findings[i]

		var cweIDs []string
		if f.IssueCWE != nil && f.IssueCWE.ID > 0 {
			cweIDs = []string{fmt.Sprintf("CWE-%d", f.IssueCWE.ID)}
		}

		out = append(out, schemas.UnifiedFinding{
			ID:          findingID(schemas.ScannerBandit, f.TestID, f.Filename, f.LineNumber),
			Scanner:     schemas.ScannerBandit,
			Severity:    mapSeverity(banditSeverities, f.Severity),
			Category:    "security",
			CWEIDs:      cweIDs,
			FilePath:    f.Filename,
			LineStart:   f.LineNumber,
			LineEnd:     f.LineEnd(),
			Title:       f.TestName,
			Description: f.IssueText,
			CodeSnippet: f.Code,
			Confidence:  parseConfidence(f.Confidence),
		})
	}
	return out
}

func convertSemgrep(res *scanner.SemgrepResult) []schemas.UnifiedFinding {
	out := make([]schemas.UnifiedFinding, 0, len(res.Findings))
	for i := range res.Findings {
		f := &res.Findings[i]

		category := f.Extra.Metadata.Category
		if category == "" {
			category = "security"
		}

		out = append(out, schemas.UnifiedFinding{
			ID:              findingID(schemas.ScannerSemgrep, f.CheckID, f.Path, f.Start.Line),
			Scanner:         schemas.ScannerSemgrep,
			Severity:        mapSeverity(semgrepSeverities, f.Extra.Severity),
			Category:        category,
			CWEIDs:          f.Extra.Metadata.CWE,
			OWASPCategories: f.Extra.Metadata.OWASP,
			References:      f.Extra.Metadata.References,
			FilePath:        f.Path,
			LineStart:       f.Start.Line,
			LineEnd:         f.End.Line,
			Title:           semgrepTitle(f.CheckID),
			Description:     f.Extra.Message,
			CodeSnippet:     f.Extra.Lines,
			FixAvailable:    f.Extra.Fix != "",
			FixGuidance:     f.Extra.Fix,
			Confidence:      parseConfidence(f.Extra.Metadata.Confidence),
		})
	}
	return out
}

func convertTrivy(res *scanner.TrivyResult) []schemas.UnifiedFinding {
	out := make([]schemas.UnifiedFinding, 0, len(res.Findings))
	for i := range res.Findings {
		f := &res.Findings[i]

		description := f.Description
		if description == "" {
			description = f.Title
		}

		uf := schemas.UnifiedFinding{
			ID:           findingID(schemas.ScannerTrivy, f.ID, f.Target, f.StartLine),
			Scanner:      schemas.ScannerTrivy,
			Severity:     mapSeverity(trivySeverities, f.Severity),
			Category:     trivyCategory(f.Kind),
			CWEIDs:       f.CWEIDs,
			References:   f.References,
			FilePath:     f.Target,
			LineStart:    f.StartLine,
			LineEnd:      f.EndLine,
			Title:        f.Title,
			Description:  description,
			CodeSnippet:  f.Match,
			FixAvailable: f.FixedVersion != "",
			FixVersion:   f.FixedVersion,
			FixGuidance:  f.Resolution,
		}
		if f.PkgName != "" {
			uf.Description = fmt.Sprintf("%s\nPackage: %s %s", description, f.PkgName, f.InstalledVersion)
		}
		out = append(out, uf)
	}
	return out
}

func trivyCategory(kind scanner.TrivyFindingKind) string {
	switch kind {
	case scanner.TrivySecret:
		return "secret"
	case scanner.TrivyMisconfig:
		return "misconfig"
	default:
		return "vulnerability"
	}
}

// findingID builds a stable identifier from the scanner, the rule and a short
// hash of the location. Re-running a scan over unchanged code reproduces the
// same IDs.
func findingID(tool schemas.ScannerType, rule, filePath string, line int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", filePath, line)))
	return fmt.Sprintf("%s-%s-%s", tool, rule, hex.EncodeToString(sum[:])[:8])
}

func mapSeverity(vocab map[string]schemas.Severity, raw string) schemas.Severity {
	if sev, ok := vocab[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return sev
	}
	return schemas.SeverityMedium
}

func parseConfidence(raw string) schemas.Confidence {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LOW":
		return schemas.ConfidenceLow
	case "MEDIUM":
		return schemas.ConfidenceMedium
	case "HIGH":
		return schemas.ConfidenceHigh
	default:
		return ""
	}
}

// semgrepTitle turns the last segment of a rule ID into a readable title,
// e.g. "python.lang.security.dangerous-subprocess-use" becomes
// "Dangerous Subprocess Use".
func semgrepTitle(checkID string) string {
	parts := strings.Split(checkID, ".")
	words := strings.Split(parts[len(parts)-1], "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
