// Package store persists scan batches and their findings to PostgreSQL.
// Persistence is optional; scans run fine without a database configured.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hexbolt/aegiscan/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence layer.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

var findingColumns = []string{
	"id", "scan_id", "scanner", "severity", "category",
	"file_path", "line_start", "line_end",
	"title", "description", "code_snippet",
	"cwe_ids", "owasp_categories", "refs",
	"fix_available", "fix_version", "fix_guidance",
	"priority_score", "confidence",
	"is_active_exploit", "is_false_positive", "fp_confidence", "is_reachable",
}

// PersistBatch writes one scan batch and its deduplicated findings in a
// single transaction.
func (s *Store) PersistBatch(ctx context.Context, batch *schemas.ScanBatchResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit reports ErrTxClosed; that is the happy path.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const insertScan = `
        INSERT INTO scans (scan_id, target, started_at, duration_ms, duplicates_removed, target_error)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	_, err = tx.Exec(ctx, insertScan,
		batch.ScanID, batch.Target, batch.StartedAt.UTC(),
		batch.Duration.Milliseconds(), batch.DuplicatesRemoved, batch.TargetErr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	if len(batch.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, batch.ScanID, batch.Findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Persisted scan batch",
		zap.String("scan_id", batch.ScanID),
		zap.Int("findings", len(batch.Findings)),
	)
	return nil
}

// PersistBulk writes every batch of a bulk result, including failed targets,
// so the scan history stays complete.
func (s *Store) PersistBulk(ctx context.Context, bulk *schemas.BulkScanResult) error {
	for target, batch := range bulk.Results {
		if err := s.PersistBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to persist batch for %s: %w", target, err)
		}
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, scanID string, findings []schemas.UnifiedFinding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		rows[i] = []interface{}{
			f.ID, scanID, string(f.Scanner), string(f.Severity), f.Category,
			f.FilePath, f.LineStart, f.LineEnd,
			f.Title, f.Description, f.CodeSnippet,
			f.CWEIDs, f.OWASPCategories, f.References,
			f.FixAvailable, f.FixVersion, f.FixGuidance,
			f.PriorityScore, string(f.Confidence),
			f.IsActiveExploit, f.IsFalsePositive, f.FPConfidence, f.IsReachable,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// GetFindingsByScanID loads the persisted findings of one scan, highest
// priority first.
func (s *Store) GetFindingsByScanID(ctx context.Context, scanID string) ([]schemas.UnifiedFinding, error) {
	const query = `
        SELECT id, scanner, severity, category,
               file_path, line_start, line_end,
               title, description, code_snippet,
               cwe_ids, owasp_categories, refs,
               fix_available, fix_version, fix_guidance,
               priority_score, confidence,
               is_active_exploit, is_false_positive, fp_confidence, is_reachable
        FROM findings
        WHERE scan_id = $1
        ORDER BY priority_score DESC;
    `
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.UnifiedFinding
	for rows.Next() {
		var f schemas.UnifiedFinding
		var scannerStr, severityStr, confidenceStr string

		err := rows.Scan(
			&f.ID, &scannerStr, &severityStr, &f.Category,
			&f.FilePath, &f.LineStart, &f.LineEnd,
			&f.Title, &f.Description, &f.CodeSnippet,
			&f.CWEIDs, &f.OWASPCategories, &f.References,
			&f.FixAvailable, &f.FixVersion, &f.FixGuidance,
			&f.PriorityScore, &confidenceStr,
			&f.IsActiveExploit, &f.IsFalsePositive, &f.FPConfidence, &f.IsReachable,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}

		f.Scanner = schemas.ScannerType(scannerStr)
		f.Severity = schemas.Severity(severityStr)
		f.Confidence = schemas.Confidence(confidenceStr)
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
