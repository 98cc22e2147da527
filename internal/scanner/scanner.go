package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
)

// ErrNotInstalled marks a scanner whose binary cannot be found on PATH. It is
// distinct from a scan that ran and produced zero findings.
var ErrNotInstalled = errors.New("scanner not installed")

// ExecError wraps a tool invocation that started but did not finish cleanly.
type ExecError struct {
	Tool   schemas.ScannerType
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s execution failed: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s execution failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Result is the parsed output of one tool invocation. The concrete types are
// BanditResult, SemgrepResult and TrivyResult; the normalizer switches over
// them, so the set is sealed by construction.
type Result interface {
	// Tool identifies the scanner that produced this result.
	Tool() schemas.ScannerType
	// Count returns the number of raw findings.
	Count() int
	// Raw returns the tool's original JSON output.
	Raw() json.RawMessage
}

// Scanner is one security tool adapter. Implementations invoke the external
// binary, honor the caller's context, and parse its JSON output. A missing
// binary surfaces as ErrNotInstalled; a crashed run as *ExecError.
type Scanner interface {
	Name() schemas.ScannerType
	ScanDirectory(ctx context.Context, dir string) (Result, error)
	ScanFile(ctx context.Context, path string) (Result, error)
}

// runTool executes one external scanner process and returns its stdout.
// Some tools signal "findings present" through their exit code, so okCodes
// lists the codes that still carry a valid report.
func runTool(ctx context.Context, logger *zap.Logger, tool schemas.ScannerType, timeout time.Duration, okCodes []int, bin string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%s: %w", tool, ErrNotInstalled)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	logger.Debug("Running scanner", zap.String("tool", string(tool)), zap.Strings("args", args))

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && codeAllowed(exitErr.ExitCode(), okCodes) {
			err = nil
		}
	}
	if err != nil {
		return nil, &ExecError{Tool: tool, Stderr: truncate(stderr.String(), 512), Err: err}
	}

	logger.Debug("Scanner finished",
		zap.String("tool", string(tool)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	return stdout.Bytes(), nil
}

func codeAllowed(code int, okCodes []int) bool {
	for _, ok := range okCodes {
		if code == ok {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// defaultExcludeDirs are skipped during directory scans unless the
// configuration overrides them.
var defaultExcludeDirs = []string{
	"venv", ".venv", "env", ".env",
	"node_modules", ".git", "__pycache__",
	"build", "dist", ".tox",
}

func excludesOrDefault(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return defaultExcludeDirs
}
