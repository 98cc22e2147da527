// Package executor runs scanner adapters against a target with bounded
// parallelism. Each adapter failure is isolated to its own outcome; one
// broken tool never discards the others' results.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/scanner"
)

// Outcome is the terminal state of one scanner invocation.
type Outcome struct {
	Scanner  schemas.ScannerType
	Result   scanner.Result
	Err      error
	Duration time.Duration
}

// TargetKind selects which Scanner entry point the pool invokes.
type TargetKind int

const (
	TargetDirectory TargetKind = iota
	TargetFile
)

// Pool fans scanner invocations out across a bounded set of workers.
type Pool struct {
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// NewPool creates a pool running at most workers scans concurrently.
// Workers below 1 are clamped to 1.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger.Named("executor"),
	}
}

// Run executes every scanner against target and blocks until all have
// finished or ctx is cancelled. The returned map has one entry per scanner:
// either a result or the error that stopped it.
func (p *Pool) Run(ctx context.Context, scanners []scanner.Scanner, target string, kind TargetKind) map[schemas.ScannerType]Outcome {
	outcomes := make([]Outcome, len(scanners))

	var wg sync.WaitGroup
	for i, sc := range scanners {
		wg.Add(1)
		go func(i int, sc scanner.Scanner) {
			defer wg.Done()
			outcomes[i] = p.runOne(ctx, sc, target, kind)
		}(i, sc)
	}
	wg.Wait()

	byTool := make(map[schemas.ScannerType]Outcome, len(outcomes))
	for _, o := range outcomes {
		byTool[o.Scanner] = o
	}
	return byTool
}

func (p *Pool) runOne(ctx context.Context, sc scanner.Scanner, target string, kind TargetKind) (out Outcome) {
	out.Scanner = sc.Name()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		out.Err = err
		return out
	}
	defer p.sem.Release(1)

	// A panicking adapter is downgraded to an error outcome so the other
	// scanners still report.
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%s panicked: %v", out.Scanner, r)
			p.logger.Error("Scanner panicked", zap.String("scanner", string(out.Scanner)), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	p.logger.Info("Scanner started", zap.String("scanner", string(out.Scanner)), zap.String("target", target))

	var res scanner.Result
	var err error
	if kind == TargetFile {
		res, err = sc.ScanFile(ctx, target)
	} else {
		res, err = sc.ScanDirectory(ctx, target)
	}

	out.Result = res
	out.Err = err
	out.Duration = time.Since(start)

	if err != nil {
		p.logger.Warn("Scanner failed",
			zap.String("scanner", string(out.Scanner)),
			zap.Duration("elapsed", out.Duration),
			zap.Error(err),
		)
	} else {
		p.logger.Info("Scanner finished",
			zap.String("scanner", string(out.Scanner)),
			zap.Duration("elapsed", out.Duration),
			zap.Int("findings", res.Count()),
		)
	}
	return out
}
