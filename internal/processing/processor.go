package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/payvat/vat-extraction-service/internal/ai"
	"github.com/payvat/vat-extraction-service/internal/models"
	"github.com/payvat/vat-extraction-service/internal/resilience"
	"github.com/payvat/vat-extraction-service/internal/services"
)

// Store is the persistence port consumed by the orchestrator.
type Store interface {
	// FindDocument returns the document; when ownerID is non-nil the lookup is
	// scoped to that owner. Returns models.ErrDocumentNotFound when absent or
	// not owned.
	FindDocument(ctx context.Context, id string, ownerID *string) (*models.Document, error)
	UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error
	UpsertFolder(ctx context.Context, userID string, year, month int) error
	AppendAuditLog(ctx context.Context, entry models.AuditLogEntry) error
}

// Cache invalidates downstream aggregates after a successful write.
type Cache interface {
	InvalidateUserAggregates(ctx context.Context, userID string) error
}

// Archiver stores a copy of the decoded file after successful processing.
type Archiver interface {
	Archive(ctx context.Context, doc *models.Document) error
}

// User is the optional authenticated identity supplied by the auth middleware.
type User struct {
	ID    string
	Email string
}

// Request is the processing request body.
type Request struct {
	DocumentID     string `json:"documentId"`
	ForceReprocess bool   `json:"forceReprocess"`
	DebugMode      bool   `json:"debugMode"`
}

// Processing types reported in the response.
const (
	ProcessingFull   = "FULL"
	ProcessingCached = "CACHED"
)

// Result is a completed processing pass, cached or fresh.
type Result struct {
	Document       *models.Document
	Extraction     models.ExtractionResult
	Engine         string
	ProcessingType string
	Path           ai.Path
	Status         models.ComplianceStatus
	StatusReason   string
	TotalSource    services.TotalSource
	Warnings       []string
	Duration       time.Duration
}

// Processor sequences one document through validation, extraction,
// normalization, classification and persistence, isolating failures per
// stage. All collaborators are constructor-injected.
type Processor struct {
	store        Store
	primary      ai.Engine
	fallback     ai.Engine
	cache        Cache
	archiver     Archiver
	standardRate decimal.Decimal
	log          zerolog.Logger
	now          func() time.Time
}

// NewProcessor wires a processor. Engines are tried in argument order; the
// default-engine setting is applied by the caller (ai.OrderEngines). cache and
// archiver may be nil when the backing services are not configured; their side
// effects are skipped.
func NewProcessor(store Store, primary, fallback ai.Engine, cache Cache, archiver Archiver, standardRate decimal.Decimal, log zerolog.Logger) *Processor {
	return &Processor{
		store:        store,
		primary:      primary,
		fallback:     fallback,
		cache:        cache,
		archiver:     archiver,
		standardRate: standardRate,
		log:          log,
		now:          time.Now,
	}
}

// scanMetaMarker prefixes the structured metadata blob appended to the
// human-readable scanResult text. Everything after the marker is JSON.
const scanMetaMarker = "[PAYVAT_META]"

// scanErrorMarker tags a scanResult written by a failed processing attempt.
const scanErrorMarker = "[PAYVAT_ERROR:"

// scanMeta is the structured payload folded into scanResult, recovered on
// cache hits.
type scanMeta struct {
	Extraction   models.ExtractionResult `json:"extraction"`
	Engine       string                  `json:"engine"`
	Path         ai.Path                 `json:"path"`
	Status       models.ComplianceStatus `json:"status"`
	StatusReason string                  `json:"statusReason"`
	TotalSource  services.TotalSource    `json:"totalSource"`
	ProcessedAt  time.Time               `json:"processedAt"`
}

// Process runs the full pipeline for one document. A nil user means a guest
// request: processing still happens but no folder link, audit entry or cache
// invalidation is produced.
func (p *Processor) Process(ctx context.Context, user *User, req Request) (result *Result, perr *ProcessingError) {
	start := p.now()
	log := p.log.With().Str("document_id", req.DocumentID).Logger()

	var doc *models.Document
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("processing panicked")
			perr = internal(CodeProcessingException, "unexpected processing failure", fmt.Errorf("panic: %v", r))
			result = nil
			if doc != nil {
				p.markFailed(doc, CodeProcessingException, "unexpected processing failure")
			}
		}
	}()

	var ownerID *string
	if user != nil {
		ownerID = &user.ID
	}

	doc, err := p.store.FindDocument(ctx, req.DocumentID, ownerID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return nil, notFound("document not found or not accessible", err)
		}
		return nil, internal(CodeDatabaseError, "failed to load document", err)
	}

	// Idempotence short-circuit: reprocessing costs an external AI call, so it
	// is opt-in via forceReprocess.
	if doc.IsScanned && doc.ScanResult != nil && !req.ForceReprocess {
		log.Info().Msg("returning cached scan result")
		return p.cachedResult(doc, start), nil
	}

	if _, perr := validateFile(doc); perr != nil {
		if perr.Status == 422 {
			// Document-quality problems count as an attempt; the document must
			// not appear stuck in processing.
			p.markFailed(doc, perr.Code, perr.Message)
		}
		return nil, perr
	}

	raw, engineName, perr := p.extract(ctx, doc, req.DebugMode)
	if perr != nil {
		p.markFailed(doc, perr.Code, perr.Message)
		return nil, perr
	}

	outcome := ai.Normalize(raw, doc.Category)
	extraction := routeByCategory(outcome.Result, doc)
	status, statusReason := services.Classify(extraction)

	extractedDate, dateConfidence := services.ResolveDate(extraction.InvoiceDate, p.now())
	total, totalSource := services.ResolveTotal(extraction, raw, p.standardRate)

	warnings := buildWarnings(outcome.Path, totalSource, status, statusReason)

	res := &Result{
		Document:       doc,
		Extraction:     extraction,
		Engine:         engineName,
		ProcessingType: ProcessingFull,
		Path:           outcome.Path,
		Status:         status,
		StatusReason:   statusReason,
		TotalSource:    totalSource,
		Warnings:       warnings,
	}

	perr = p.persist(ctx, user, doc, res, extractedDate, dateConfidence, total)
	if perr != nil {
		return nil, perr
	}

	p.runSideEffects(ctx, user, doc, res)

	res.Duration = p.now().Sub(start)
	log.Info().
		Str("engine", engineName).
		Str("path", string(outcome.Path)).
		Str("status", string(status)).
		Float64("confidence", extraction.Confidence).
		Dur("duration", res.Duration).
		Msg("document processed")
	return res, nil
}

// validateFile checks the stored payload before any external call.
func validateFile(doc *models.Document) ([]byte, *ProcessingError) {
	if strings.TrimSpace(doc.FileData) == "" {
		return nil, invalidInput(CodeInvalidFileData, "document has no file data", nil)
	}
	decoded, err := base64.StdEncoding.DecodeString(doc.FileData)
	if err != nil {
		return nil, invalidInput(CodeInvalidFileData, "document file data is not valid base64", err)
	}

	switch doc.MimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return decoded, nil
	case "application/pdf":
		if bytes.Contains(decoded, []byte("/Encrypt")) {
			return nil, unprocessable(CodePDFEncrypted,
				"the PDF is password protected and cannot be read",
				"Remove the password from the PDF and re-upload",
				"Export an unprotected copy from your accounting software")
		}
		if bytes.Contains(decoded, []byte("/Image")) && !bytes.Contains(decoded, []byte("/Font")) {
			return nil, unprocessable(CodePDFImageBased,
				"the PDF contains only scanned images with no text layer",
				"Upload the original image (JPEG/PNG) instead of the scanned PDF",
				"Re-export the PDF with a text layer if possible")
		}
		return decoded, nil
	default:
		return nil, unprocessable(CodeUnsupportedFileType,
			fmt.Sprintf("unsupported file type %q", doc.MimeType),
			"Upload a JPEG, PNG, WebP, GIF or PDF document")
	}
}

// extract runs the primary engine, falling back to the second engine on any
// failure. This two-tier fallback is the main resilience mechanism against
// extraction-model regressions.
func (p *Processor) extract(ctx context.Context, doc *models.Document, debug bool) (string, string, *ProcessingError) {
	in := ai.EngineInput{
		FileBase64: doc.FileData,
		MimeType:   doc.MimeType,
		Category:   doc.Category,
		Debug:      debug,
	}

	raw, err := p.primary.Extract(ctx, in)
	if err == nil {
		return raw, p.primary.Name(), nil
	}
	p.log.Warn().Str("document_id", doc.ID).Str("engine", p.primary.Name()).Err(err).
		Msg("primary engine failed, trying fallback engine")

	raw, fallbackErr := p.fallback.Extract(ctx, in)
	if fallbackErr == nil {
		return raw, p.fallback.Name(), nil
	}

	if resilience.IsCircuitOpen(fallbackErr) || errors.Is(fallbackErr, ai.ErrProviderUnavailable) {
		return "", "", unavailable("the extraction service is temporarily unavailable", fallbackErr)
	}
	return "", "", internal(CodeAIServiceError, "both extraction engines failed", fallbackErr)
}

// routeByCategory moves amounts onto the side the caller filed the document
// under. The caller's category is authoritative for the sales/purchase split;
// the model only supplies the amounts.
func routeByCategory(res models.ExtractionResult, doc *models.Document) models.ExtractionResult {
	if doc.IsSalesCategory() {
		if len(res.SalesVAT) == 0 && len(res.PurchaseVAT) > 0 {
			res.SalesVAT, res.PurchaseVAT = res.PurchaseVAT, nil
		}
	} else {
		if len(res.PurchaseVAT) == 0 && len(res.SalesVAT) > 0 {
			res.PurchaseVAT, res.SalesVAT = res.SalesVAT, nil
		}
	}
	return res
}

func buildWarnings(path ai.Path, totalSource services.TotalSource, status models.ComplianceStatus, statusReason string) []string {
	var warnings []string
	if path == ai.PathFallback {
		warnings = append(warnings, "VAT amounts recovered by text scan; structured extraction failed")
	}
	if totalSource == services.TotalEstimated {
		warnings = append(warnings, "invoice total estimated from VAT at the standard rate; verify for mixed-rate invoices")
	}
	if totalSource == services.TotalScanned {
		warnings = append(warnings, "invoice total taken from a text scan of the document")
	}
	if status != models.StatusCompliant {
		warnings = append(warnings, statusReason)
	}
	return warnings
}

// persist writes the processing outcome. Folder upsert happens strictly
// before the document update so the year/month foreign key is satisfiable;
// upsert failure degrades to a date-only write instead of failing the request.
func (p *Processor) persist(ctx context.Context, user *User, doc *models.Document, res *Result, extractedDate time.Time, dateConfidence float64, total *decimal.Decimal) *ProcessingError {
	scanned := true
	scanResult := p.renderScanResult(res, extractedDate)

	patch := models.DocumentPatch{
		IsScanned:                &scanned,
		ScanResult:               &scanResult,
		InvoiceTotal:             total,
		ExtractionConfidence:     &res.Extraction.Confidence,
		ExtractedDate:            &extractedDate,
		DateExtractionConfidence: &dateConfidence,
	}

	if user != nil && dateConfidence >= services.DateConfidenceMatched {
		year, month := extractedDate.Year(), int(extractedDate.Month())
		if err := p.store.UpsertFolder(ctx, user.ID, year, month); err != nil {
			p.log.Warn().Str("document_id", doc.ID).Err(err).
				Msg("folder upsert failed; persisting document without folder link")
			res.Warnings = append(res.Warnings, "document saved without a reporting folder link")
		} else {
			patch.ExtractedYear = &year
			patch.ExtractedMonth = &month
		}
	}

	if err := p.store.UpdateDocument(ctx, doc.ID, patch); err != nil {
		if !errors.Is(err, models.ErrConstraintViolation) {
			return internal(CodeDocumentUpdateError, "failed to save processing result", err)
		}
		// One retry without the folder-linking fields before giving up.
		patch = patch.WithoutFolderLink()
		if err2 := p.store.UpdateDocument(ctx, doc.ID, patch); err2 != nil {
			if errors.Is(err2, models.ErrConstraintViolation) {
				return internal(CodeForeignKeyConstraint, "failed to save processing result", err2)
			}
			return internal(CodeDocumentUpdateError, "failed to save processing result", err2)
		}
		res.Warnings = append(res.Warnings, "document saved without a reporting folder link")
	}

	// Mirror the patch onto the in-memory document for the response.
	doc.IsScanned = true
	doc.ScanResult = &scanResult
	doc.InvoiceTotal = total
	doc.ExtractionConfidence = res.Extraction.Confidence
	doc.ExtractedDate = &extractedDate
	doc.ExtractedYear = patch.ExtractedYear
	doc.ExtractedMonth = patch.ExtractedMonth
	doc.DateExtractionConfidence = dateConfidence
	return nil
}

// runSideEffects performs the best-effort auxiliary writes: audit log, cache
// invalidation, archival. None of them can fail the request.
func (p *Processor) runSideEffects(ctx context.Context, user *User, doc *models.Document, res *Result) {
	log := p.log.With().Str("document_id", doc.ID).Logger()

	if user != nil && res.Extraction.VATSum().IsPositive() {
		resilience.RunBestEffort(log, "audit_log", func() error {
			return p.store.AppendAuditLog(ctx, models.AuditLogEntry{
				ID:         uuid.New(),
				UserID:     user.ID,
				DocumentID: doc.ID,
				FileName:   doc.OriginalName,
				Category:   doc.Category,
				Confidence: res.Extraction.Confidence,
				Extraction: res.Extraction,
				CreatedAt:  p.now(),
			})
		})
	}

	if user != nil && p.cache != nil {
		resilience.RunBestEffort(log, "cache_invalidation", func() error {
			return p.cache.InvalidateUserAggregates(ctx, user.ID)
		})
	}

	if p.archiver != nil {
		resilience.RunBestEffort(log, "archive", func() error {
			return p.archiver.Archive(ctx, doc)
		})
	}
}

// cachedResult reconstructs a Result from the scanResult metadata blob.
func (p *Processor) cachedResult(doc *models.Document, start time.Time) *Result {
	res := &Result{
		Document:       doc,
		ProcessingType: ProcessingCached,
		Engine:         "cached",
		Path:           ai.PathEmpty,
		Status:         models.StatusError,
		StatusReason:   "cached scan result has no structured metadata",
		TotalSource:    services.TotalNone,
	}

	if doc.ScanResult != nil {
		if idx := strings.Index(*doc.ScanResult, scanMetaMarker); idx >= 0 {
			var meta scanMeta
			blob := (*doc.ScanResult)[idx+len(scanMetaMarker):]
			if err := json.Unmarshal([]byte(blob), &meta); err == nil {
				res.Extraction = meta.Extraction
				res.Engine = meta.Engine
				res.Path = meta.Path
				res.Status = meta.Status
				res.StatusReason = meta.StatusReason
				res.TotalSource = meta.TotalSource
			} else {
				res.Warnings = append(res.Warnings, "cached scan metadata could not be parsed")
			}
		} else if strings.Contains(*doc.ScanResult, scanErrorMarker) {
			res.StatusReason = "previous processing attempt failed"
			res.Warnings = append(res.Warnings, "previous processing attempt failed; retry with forceReprocess")
		} else {
			res.Warnings = append(res.Warnings, "cached scan result predates structured metadata")
		}
	}

	res.Duration = p.now().Sub(start)
	return res
}

// renderScanResult builds the human-readable summary plus the trailing
// metadata blob recovered on cache hits.
func (p *Processor) renderScanResult(res *Result, extractedDate time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extracted %d sales and %d purchase VAT amounts (%.0f%% confidence, %s engine, status %s, date %s)",
		len(res.Extraction.SalesVAT), len(res.Extraction.PurchaseVAT),
		res.Extraction.Confidence*100, res.Engine, res.Status,
		extractedDate.Format("2006-01-02"))

	meta := scanMeta{
		Extraction:   res.Extraction,
		Engine:       res.Engine,
		Path:         res.Path,
		Status:       res.Status,
		StatusReason: res.StatusReason,
		TotalSource:  res.TotalSource,
		ProcessedAt:  p.now(),
	}
	if blob, err := json.Marshal(meta); err == nil {
		sb.WriteString("\n")
		sb.WriteString(scanMetaMarker)
		sb.Write(blob)
	}
	return sb.String()
}

// markFailed records a failed attempt on the document so it never appears
// stuck in processing. Best-effort: its own failure is logged and ignored.
func (p *Processor) markFailed(doc *models.Document, code, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scanned := true
	marker := fmt.Sprintf("Processing failed: %s %s%s]", message, scanErrorMarker, code)
	resilience.RunBestEffort(p.log, "failure_marker", func() error {
		return p.store.UpdateDocument(ctx, doc.ID, models.DocumentPatch{
			IsScanned:  &scanned,
			ScanResult: &marker,
		})
	})
}
