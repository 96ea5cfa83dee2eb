package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payvat/vat-extraction-service/internal/models"
)

// Store is the Postgres implementation of the processing and API persistence
// ports. All SQL lives here; callers only see domain types and the sentinel
// errors in internal/models.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const documentColumns = `
	id, user_id, COALESCE(file_data, ''), COALESCE(mime_type, ''),
	COALESCE(original_name, ''), COALESCE(category, ''),
	is_scanned, scan_result, invoice_total, COALESCE(extraction_confidence, 0),
	extracted_date, extracted_year, extracted_month,
	COALESCE(date_extraction_confidence, 0), uploaded_at`

// FindDocument loads a document. When ownerID is non-nil the query is scoped
// to documents owned by that user or by no one; a hit on someone else's
// document is indistinguishable from a miss.
func (s *Store) FindDocument(ctx context.Context, id string, ownerID *string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	args := []any{id}
	if ownerID != nil {
		query += ` AND (user_id = $2 OR user_id IS NULL)`
		args = append(args, *ownerID)
	}

	var doc models.Document
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.UserID, &doc.FileData, &doc.MimeType,
		&doc.OriginalName, &doc.Category,
		&doc.IsScanned, &doc.ScanResult, &doc.InvoiceTotal, &doc.ExtractionConfidence,
		&doc.ExtractedDate, &doc.ExtractedYear, &doc.ExtractedMonth,
		&doc.DateExtractionConfidence, &doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

// UpdateDocument applies a partial update. Only non-nil patch fields are
// written; the SET clause is built dynamically.
func (s *Store) UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.IsScanned != nil {
		add("is_scanned", *patch.IsScanned)
	}
	if patch.ScanResult != nil {
		add("scan_result", *patch.ScanResult)
	}
	if patch.InvoiceTotal != nil {
		add("invoice_total", *patch.InvoiceTotal)
	}
	if patch.ExtractionConfidence != nil {
		add("extraction_confidence", *patch.ExtractionConfidence)
	}
	if patch.ExtractedDate != nil {
		add("extracted_date", *patch.ExtractedDate)
	}
	if patch.ExtractedYear != nil {
		add("extracted_year", *patch.ExtractedYear)
	}
	if patch.ExtractedMonth != nil {
		add("extracted_month", *patch.ExtractedMonth)
	}
	if patch.DateExtractionConfidence != nil {
		add("date_extraction_confidence", *patch.DateExtractionConfidence)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE documents SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// UpsertFolder creates the per-user year/month folder row if missing and
// touches its last-document timestamp. Aggregate columns are recomputed by
// the reporting jobs, not here.
func (s *Store) UpsertFolder(ctx context.Context, userID string, year, month int) error {
	const query = `
		INSERT INTO document_folders (user_id, year, month, last_document_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, year, month)
		DO UPDATE SET last_document_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, userID, year, month); err != nil {
		return mapWriteError("upsert folder", err)
	}
	return nil
}

// AppendAuditLog writes one extraction audit row. The extraction snapshot is
// stored as jsonb.
func (s *Store) AppendAuditLog(ctx context.Context, entry models.AuditLogEntry) error {
	snapshot, err := json.Marshal(entry.Extraction)
	if err != nil {
		return fmt.Errorf("marshal audit snapshot: %w", err)
	}

	const query = `
		INSERT INTO extraction_audit_log
			(id, user_id, document_id, file_name, category, confidence, extraction, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		entry.ID, entry.UserID, entry.DocumentID, entry.FileName,
		entry.Category, entry.Confidence, snapshot, entry.CreatedAt)
	if err != nil {
		return mapWriteError("append audit log", err)
	}
	return nil
}

// ListFolders returns a user's folders, newest period first.
func (s *Store) ListFolders(ctx context.Context, userID string) ([]models.DocumentFolder, error) {
	const query = `
		SELECT user_id, year, month,
		       COALESCE(total_sales_amount, 0), COALESCE(total_purchase_amount, 0),
		       COALESCE(total_sales_vat, 0), COALESCE(total_purchase_vat, 0),
		       COALESCE(total_net_vat, 0), COALESCE(document_count, 0),
		       last_document_at
		FROM document_folders
		WHERE user_id = $1
		ORDER BY year DESC, month DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []models.DocumentFolder
	for rows.Next() {
		var f models.DocumentFolder
		if err := rows.Scan(
			&f.UserID, &f.Year, &f.Month,
			&f.TotalSalesAmount, &f.TotalPurchaseAmount,
			&f.TotalSalesVAT, &f.TotalPurchaseVAT,
			&f.TotalNetVAT, &f.DocumentCount,
			&f.LastDocumentAt,
		); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// mapWriteError folds pg constraint errors onto the domain sentinel so the
// orchestrator can retry without the folder link.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23505": // foreign_key_violation, unique_violation
			return fmt.Errorf("%s: %w", op, models.ErrConstraintViolation)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
