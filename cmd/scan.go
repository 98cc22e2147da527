package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
	"github.com/hexbolt/aegiscan/internal/config"
	"github.com/hexbolt/aegiscan/internal/observability"
	"github.com/hexbolt/aegiscan/internal/orchestrator"
	"github.com/hexbolt/aegiscan/internal/reporting"
	"github.com/hexbolt/aegiscan/internal/store"
)

// newScanCmd creates and configures the `scan` command.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Runs every enabled scanner against the targets and aggregates the findings",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Rebind only flags the user actually set, so an untouched flag
			// default cannot shadow config file or environment values.
			if cmd.Flags().Changed("concurrency") {
				if err := viper.BindPFlag("engine.workers", cmd.Flags().Lookup("concurrency")); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("dedup") {
				if err := viper.BindPFlag("dedup.strategy", cmd.Flags().Lookup("dedup")); err != nil {
					return err
				}
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-unmarshal so the flag overrides bound in PreRunE land with
			// the right precedence.
			if err := viper.Unmarshal(appCfg); err != nil {
				return fmt.Errorf("failed to apply flag overrides: %w", err)
			}
			appCfg.Scan.Targets = args
			appCfg.Scan.Output = viper.GetString("output")
			appCfg.Scan.Format = viper.GetString("format")
			appCfg.Scan.TopN = viper.GetInt("top")
			appCfg.Scan.Persist = viper.GetBool("persist")
			if err := appCfg.Validate(); err != nil {
				return err
			}

			orch := orchestrator.New(appCfg, logger)
			bulk := orch.ScanTargets(ctx, appCfg.Scan.Targets)
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("scan aborted by user signal")
				}
				return err
			}

			if err := writeReport(bulk, appCfg.Scan.Format, appCfg.Scan.Output, logger); err != nil {
				return err
			}

			if appCfg.Scan.Persist {
				if err := persistResults(ctx, appCfg, bulk, logger); err != nil {
					return err
				}
			}

			printSummary(cmd, bulk, appCfg.Scan.TopN)
			return nil
		},
	}

	scanCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	scanCmd.Flags().StringP("format", "f", "json", "Report format ('json' or 'sarif').")
	scanCmd.Flags().IntP("concurrency", "j", 0, "Number of scanners run concurrently per target. (Overrides config/env)")
	scanCmd.Flags().String("dedup", "", "Deduplication strategy: location, content, both or disabled. (Overrides config/env)")
	scanCmd.Flags().Int("top", 10, "Number of top-priority findings shown in the summary.")
	scanCmd.Flags().Bool("persist", false, "Persist results to the configured PostgreSQL database.")

	return scanCmd
}

func writeReport(bulk *schemas.BulkScanResult, format, outputPath string, logger *zap.Logger) error {
	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}

	writeErr := reporter.WriteBulk(bulk)
	if closeErr := reporter.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write report: %w", writeErr)
	}

	if outputPath != "" {
		logger.Info("Report written", zap.String("path", outputPath), zap.String("format", format))
	}
	return nil
}

func persistResults(ctx context.Context, cfg *config.Config, bulk *schemas.BulkScanResult, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is not configured (AEGISCAN_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	return st.PersistBulk(ctx, bulk)
}

// printSummary writes a short human-readable digest to the command's stdout,
// separate from the machine-readable report.
func printSummary(cmd *cobra.Command, bulk *schemas.BulkScanResult, topN int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nScan complete: %d finding(s) across %d target(s), %d critical, %d high.\n",
		bulk.TotalFindings(), len(bulk.Results), bulk.TotalCritical(), bulk.TotalHigh())

	targets := make([]string, 0, len(bulk.Results))
	for target := range bulk.Results {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		batch := bulk.Results[target]
		if batch.TargetErr != "" {
			fmt.Fprintf(out, "\n%s: %s\n", target, batch.TargetErr)
			continue
		}

		top := batch.TopPriority(topN)
		if len(top) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s (scan %s):\n", target, batch.ScanID)
		for _, f := range top {
			fmt.Fprintf(out, "  [%5.1f] %-8s %s:%d %s\n",
				f.PriorityScore, f.Severity, f.FilePath, f.LineStart, f.Title)
		}
	}
}
