package enrich

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
)

// Reachability is one analyzer's verdict for a finding. Reachable is nil
// when the analyzer cannot tell.
type Reachability struct {
	Reachable  *bool
	Confidence float64
}

// ReachabilityAnalyzer decides whether the vulnerable code can actually be
// reached from the scanned project.
type ReachabilityAnalyzer interface {
	Analyze(ctx context.Context, root string, f *schemas.UnifiedFinding) Reachability
}

// StaticReachability is a lightweight import-based analyzer. Findings in
// first-party source are reachable by definition; dependency findings are
// reachable when the vulnerable package is imported somewhere under the
// scan root.
type StaticReachability struct {
	logger *zap.Logger
}

// NewStaticReachability creates the analyzer.
func NewStaticReachability(logger *zap.Logger) *StaticReachability {
	return &StaticReachability{logger: logger.Named("reachability")}
}

const maxImportScanBytes = 1 << 20

var importLineRe = regexp.MustCompile(`(?m)^\s*(?:from|import)\s+([A-Za-z0-9_.]+)`)

func (a *StaticReachability) Analyze(ctx context.Context, root string, f *schemas.UnifiedFinding) Reachability {
	switch f.Scanner {
	case schemas.ScannerBandit, schemas.ScannerSemgrep:
		// First-party code flagged in place.
		return Reachability{Reachable: boolPtr(true), Confidence: 0.9}
	}

	if f.Category != "vulnerability" {
		return Reachability{}
	}
	pkg := packageFromDescription(f.Description)
	if pkg == "" {
		return Reachability{}
	}
	return a.AnalyzeDependency(ctx, root, pkg)
}

// AnalyzeDependency reports whether the named package is imported anywhere
// under root. The verdict stays unknown when root cannot be inspected.
func (a *StaticReachability) AnalyzeDependency(ctx context.Context, root, pkg string) Reachability {
	imported, scanned := a.packageImported(ctx, root, pkg)
	if !scanned {
		return Reachability{}
	}
	return Reachability{Reachable: boolPtr(imported), Confidence: 0.6}
}

// packageFromDescription pulls the package name the normalizer records for
// dependency findings.
func packageFromDescription(description string) string {
	for _, line := range strings.Split(description, "\n") {
		if rest, ok := strings.CutPrefix(line, "Package: "); ok {
			fields := strings.Fields(rest)
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return ""
}

// packageImported scans source files under root for an import of pkg.
// Returns scanned=false when the root cannot be walked at all.
func (a *StaticReachability) packageImported(ctx context.Context, root string, pkg string) (imported, scanned bool) {
	// Python package names normalize dashes to underscores at import time.
	want := strings.ToLower(strings.ReplaceAll(pkg, "-", "_"))

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirForImportScan(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".py") {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxImportScanBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for _, m := range importLineRe.FindAllStringSubmatch(string(data), -1) {
			mod := strings.ToLower(strings.SplitN(m[1], ".", 2)[0])
			if mod == want {
				imported = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil && err != ctx.Err() {
		a.logger.Debug("Import scan aborted", zap.String("root", root), zap.Error(err))
	}
	if _, statErr := os.Stat(root); statErr != nil {
		return false, false
	}
	return imported, true
}

func skipDirForImportScan(name string) bool {
	switch name {
	case "venv", ".venv", "env", ".env", "node_modules", ".git", "__pycache__", "build", "dist", ".tox":
		return true
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
