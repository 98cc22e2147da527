package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/hexbolt/aegiscan/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReporter streams each result as an indented JSON document.
type jsonReporter struct {
	out io.WriteCloser
}

func newJSONReporter(out io.WriteCloser) *jsonReporter {
	return &jsonReporter{out: out}
}

func (r *jsonReporter) WriteBatch(batch *schemas.ScanBatchResult) error {
	return r.encode(batch)
}

func (r *jsonReporter) WriteBulk(bulk *schemas.BulkScanResult) error {
	return r.encode(bulk)
}

func (r *jsonReporter) encode(v any) error {
	data, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.out.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error {
	return r.out.Close()
}
