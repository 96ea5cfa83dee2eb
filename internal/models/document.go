package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Document is an uploaded business document (invoice or receipt) awaiting or
// holding a VAT extraction result. The upload flow creates it with
// IsScanned=false; the processing pipeline mutates it exactly once per attempt.
type Document struct {
	ID     string  `json:"id"`
	UserID *string `json:"userId,omitempty"` // nil = guest-owned

	FileData     string `json:"-"` // base64-encoded file content
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
	Category     string `json:"category"` // SALES_INVOICE, PURCHASE_INVOICE, ...

	IsScanned            bool             `json:"isScanned"`
	ScanResult           *string          `json:"scanResult,omitempty"`
	InvoiceTotal         *decimal.Decimal `json:"invoiceTotal,omitempty"`
	ExtractionConfidence float64          `json:"extractionConfidence"`

	// ExtractedYear/Month are only ever set when a DocumentFolder row with the
	// matching (user, year, month) key exists; the DB enforces this with a
	// foreign key, so folder upsert must happen before the document update.
	ExtractedDate            *time.Time `json:"extractedDate,omitempty"`
	ExtractedYear            *int       `json:"extractedYear,omitempty"`
	ExtractedMonth           *int       `json:"extractedMonth,omitempty"`
	DateExtractionConfidence float64    `json:"dateExtractionConfidence"`

	UploadedAt time.Time `json:"uploadedAt"`
}

// IsSalesCategory reports whether the caller filed this document on the sales
// side (VAT charged) rather than the purchase side (VAT paid).
func (d *Document) IsSalesCategory() bool {
	return strings.Contains(strings.ToUpper(d.Category), "SALES")
}

// DocumentPatch is a partial update applied to a Document at the end of a
// processing attempt. Nil fields are left untouched.
type DocumentPatch struct {
	IsScanned                *bool
	ScanResult               *string
	InvoiceTotal             *decimal.Decimal
	ExtractionConfidence     *float64
	ExtractedDate            *time.Time
	ExtractedYear            *int
	ExtractedMonth           *int
	DateExtractionConfidence *float64
}

// WithoutFolderLink returns a copy of the patch with the folder-linking fields
// cleared. Used for the reduced-payload retry after a foreign key violation.
func (p DocumentPatch) WithoutFolderLink() DocumentPatch {
	out := p
	out.ExtractedYear = nil
	out.ExtractedMonth = nil
	return out
}

// DocumentFolder is the per-user, per-year-month aggregation bucket. This
// service only creates the row and touches LastDocumentAt; the reporting
// service recomputes the aggregate columns.
type DocumentFolder struct {
	UserID string `json:"userId"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`

	TotalSalesAmount    decimal.Decimal `json:"totalSalesAmount"`
	TotalPurchaseAmount decimal.Decimal `json:"totalPurchaseAmount"`
	TotalSalesVAT       decimal.Decimal `json:"totalSalesVAT"`
	TotalPurchaseVAT    decimal.Decimal `json:"totalPurchaseVAT"`
	TotalNetVAT         decimal.Decimal `json:"totalNetVAT"`
	DocumentCount       int             `json:"documentCount"`

	LastDocumentAt time.Time `json:"lastDocumentAt"`
}

// AuditLogEntry records one successful extraction for an authenticated user.
// Writes are append-only and best-effort.
type AuditLogEntry struct {
	ID         uuid.UUID        `json:"id"`
	UserID     string           `json:"userId"`
	DocumentID string           `json:"documentId"`
	FileName   string           `json:"fileName"`
	Category   string           `json:"category"`
	Confidence float64          `json:"confidence"`
	Extraction ExtractionResult `json:"extraction"`
	CreatedAt  time.Time        `json:"createdAt"`
}
