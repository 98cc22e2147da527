// Package dedup collapses findings that report the same underlying issue.
// Multiple scanners routinely flag the same line, and a single scanner can
// flag the same code under several rules.
package dedup

import (
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
)

// Deduplicator filters finding lists by one of the configured strategies.
// The filter is stable and first-seen-wins: survivors keep their input order
// and the earliest finding of each group is the one retained.
type Deduplicator struct {
	strategy string
	logger   *zap.Logger
}

// New creates a Deduplicator. Unknown strategies are rejected by
// config.Validate before this point; here they behave as disabled.
func New(strategy string, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{strategy: strategy, logger: logger.Named("dedup")}
}

// Strategy returns the configured strategy name.
func (d *Deduplicator) Strategy() string { return d.strategy }

// Apply returns the deduplicated list and the number of findings removed.
// The input slice is never mutated.
func (d *Deduplicator) Apply(findings []schemas.UnifiedFinding) ([]schemas.UnifiedFinding, int) {
	if d.strategy == config.DedupDisabled || len(findings) == 0 {
		out := make([]schemas.UnifiedFinding, len(findings))
		copy(out, findings)
		return out, 0
	}

	seenLocation := make(map[string]struct{})
	seenContent := make(map[string]struct{})

	out := make([]schemas.UnifiedFinding, 0, len(findings))
	for i := range findings {
		f := &findings[i]
		if d.isDuplicate(f, seenLocation, seenContent) {
			continue
		}
		d.markSeen(f, seenLocation, seenContent)
		out = append(out, *f)
	}

	removed := len(findings) - len(out)
	if removed > 0 {
		d.logger.Debug("Removed duplicates",
			zap.String("strategy", d.strategy),
			zap.Int("removed", removed),
			zap.Int("kept", len(out)),
		)
	}
	return out, removed
}

// isDuplicate under "both" treats a match on either key as a duplicate, so
// the combined strategy never keeps more than either single strategy would.
func (d *Deduplicator) isDuplicate(f *schemas.UnifiedFinding, seenLocation, seenContent map[string]struct{}) bool {
	switch d.strategy {
	case config.DedupLocation:
		_, dup := seenLocation[f.LocationKey()]
		return dup
	case config.DedupContent:
		_, dup := seenContent[f.ContentKey()]
		return dup
	case config.DedupBoth:
		if _, dup := seenLocation[f.LocationKey()]; dup {
			return true
		}
		_, dup := seenContent[f.ContentKey()]
		return dup
	default:
		return false
	}
}

func (d *Deduplicator) markSeen(f *schemas.UnifiedFinding, seenLocation, seenContent map[string]struct{}) {
	seenLocation[f.LocationKey()] = struct{}{}
	seenContent[f.ContentKey()] = struct{}{}
}
