// Package reporting renders scan results to JSON or SARIF 2.1.0.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hexbolt/aegiscan/api/schemas"
)

// Supported output formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// Reporter writes scan results to a destination. Close flushes any buffered
// output and releases the underlying writer; a Reporter must not be used
// after Close.
type Reporter interface {
	WriteBatch(batch *schemas.ScanBatchResult) error
	WriteBulk(bulk *schemas.BulkScanResult) error
	Close() error
}

// New builds a reporter for the given format. An empty outputPath or "-"
// writes to stdout.
func New(format, outputPath string) (Reporter, error) {
	out, err := openOutput(outputPath)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		return newJSONReporter(out), nil
	case FormatSARIF:
		return newSARIFReporter(out)
	default:
		_ = out.Close()
		return nil, fmt.Errorf("unsupported report format: %q", format)
	}
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return f, nil
}

// nopWriteCloser guards stdout from being closed by a reporter.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
