package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
	"github.com/hexbolt/aegiscan/internal/observability"
	"github.com/hexbolt/aegiscan/internal/reporting"
	"github.com/hexbolt/aegiscan/internal/store"
)

// findingStore is the slice of the store the report command needs; tests
// inject a fake instead of a live database.
type findingStore interface {
	GetFindingsByScanID(ctx context.Context, scanID string) ([]schemas.UnifiedFinding, error)
}

// storeOpener connects to the persistence layer and returns a cleanup
// function to release it.
type storeOpener func(ctx context.Context, cfg *config.Config) (findingStore, func(), error)

func openDatabaseStore(ctx context.Context, cfg *config.Config) (findingStore, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (AEGISCAN_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, observability.GetLogger())
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, pool.Close, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(open storeOpener) *cobra.Command {
	var scanID string
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Re-renders the persisted findings of a completed scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), observability.GetLogger(), appCfg, scanID, outputPath, format, open)
		},
	}

	reportCmd.Flags().StringVar(&scanID, "scan-id", "", "The ID of the scan to report on (required)")
	_ = reportCmd.MarkFlagRequired("scan-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the report goes to stdout.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "json", "Report format ('json' or 'sarif').")

	return reportCmd
}

// runReport holds the testable core of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	scanID, outputPath, format string,
	open storeOpener,
) error {
	logger.Info("Generating report for persisted scan", zap.String("scan_id", scanID))

	st, cleanup, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	findings, err := st.GetFindingsByScanID(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to load findings: %w", err)
	}
	if len(findings) == 0 {
		return fmt.Errorf("no findings recorded for scan %s", scanID)
	}

	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}

	writeErr := reporter.WriteBatch(rebuildBatch(scanID, findings))
	if closeErr := reporter.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write report: %w", writeErr)
	}

	logger.Info("Report generated", zap.String("scan_id", scanID), zap.Int("findings", len(findings)))
	return nil
}

// rebuildBatch reassembles a batch result from persisted findings. Histograms
// are recomputed; the raw scanner outputs are not persisted and stay empty.
func rebuildBatch(scanID string, findings []schemas.UnifiedFinding) *schemas.ScanBatchResult {
	batch := &schemas.ScanBatchResult{
		ScanID:     scanID,
		Findings:   findings,
		BySeverity: make(map[schemas.Severity]int),
		ByScanner:  make(map[schemas.ScannerType]int),
	}
	for i := range findings {
		batch.BySeverity[findings[i].Severity]++
		batch.ByScanner[findings[i].Scanner]++
	}
	return batch
}
