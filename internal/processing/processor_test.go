package processing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payvat/vat-extraction-service/internal/ai"
	"github.com/payvat/vat-extraction-service/internal/models"
	"github.com/payvat/vat-extraction-service/internal/services"
)

// --- fakes ---

type fakeStore struct {
	doc     *models.Document
	findErr error

	updateErrs []error // consumed one per UpdateDocument call
	patches    []models.DocumentPatch

	upsertErr error
	upserts   []string // "userID/year/month"

	auditErr error
	audits   []models.AuditLogEntry
}

func (s *fakeStore) FindDocument(ctx context.Context, id string, ownerID *string) (*models.Document, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.doc, nil
}

func (s *fakeStore) UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error {
	s.patches = append(s.patches, patch)
	if len(s.updateErrs) > 0 {
		err := s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
		return err
	}
	return nil
}

func (s *fakeStore) UpsertFolder(ctx context.Context, userID string, year, month int) error {
	s.upserts = append(s.upserts, fmt.Sprintf("%s/%d/%d", userID, year, month))
	return s.upsertErr
}

func (s *fakeStore) AppendAuditLog(ctx context.Context, entry models.AuditLogEntry) error {
	if s.auditErr != nil {
		return s.auditErr
	}
	s.audits = append(s.audits, entry)
	return nil
}

type fakeEngine struct {
	name   string
	output string
	err    error
	calls  int
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) Extract(ctx context.Context, in ai.EngineInput) (string, error) {
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return e.output, nil
}

type fakeCache struct {
	invalidated []string
	err         error
}

func (c *fakeCache) InvalidateUserAggregates(ctx context.Context, userID string) error {
	c.invalidated = append(c.invalidated, userID)
	return c.err
}

type fakeArchiver struct {
	archived int
	err      error
}

func (a *fakeArchiver) Archive(ctx context.Context, doc *models.Document) error {
	a.archived++
	return a.err
}

// --- fixtures ---

const goodOutput = `{"purchaseVAT": [23.00], "confidence": 0.92, "invoiceDate": "15/01/2025", "invoiceTotal": 123.00, "documentType": "INVOICE"}`

func testDoc() *models.Document {
	return &models.Document{
		ID:           "doc-1",
		FileData:     base64.StdEncoding.EncodeToString([]byte("fake image bytes")),
		MimeType:     "image/png",
		OriginalName: "receipt.png",
		Category:     "PURCHASE_INVOICE",
		UploadedAt:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	store    *fakeStore
	enhanced *fakeEngine
	legacy   *fakeEngine
	cache    *fakeCache
	archiver *fakeArchiver
	proc     *Processor
}

func newFixture(doc *models.Document) *fixture {
	f := &fixture{
		store:    &fakeStore{doc: doc},
		enhanced: &fakeEngine{name: "enhanced", output: goodOutput},
		legacy:   &fakeEngine{name: "legacy", output: goodOutput},
		cache:    &fakeCache{},
		archiver: &fakeArchiver{},
	}
	f.proc = NewProcessor(f.store, f.enhanced, f.legacy, f.cache, f.archiver,
		decimal.NewFromFloat(0.23), zerolog.Nop())
	return f
}

var testUser = &User{ID: "user-1", Email: "user@example.ie"}

// --- tests ---

func TestProcessAuthenticatedHappyPath(t *testing.T) {
	f := newFixture(testDoc())

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Equal(t, "enhanced", res.Engine)
	assert.Equal(t, ProcessingFull, res.ProcessingType)
	assert.Equal(t, ai.PathParsed, res.Path)
	assert.Equal(t, models.StatusCompliant, res.Status)
	assert.Equal(t, services.TotalObserved, res.TotalSource)

	// Folder upsert precedes the document write and carries the extracted
	// period.
	require.Equal(t, []string{"user-1/2025/1"}, f.store.upserts)
	require.Len(t, f.store.patches, 1)
	patch := f.store.patches[0]
	require.NotNil(t, patch.ExtractedYear)
	assert.Equal(t, 2025, *patch.ExtractedYear)
	require.NotNil(t, patch.ExtractedMonth)
	assert.Equal(t, 1, *patch.ExtractedMonth)
	require.NotNil(t, patch.IsScanned)
	assert.True(t, *patch.IsScanned)
	require.NotNil(t, patch.InvoiceTotal)
	assert.True(t, patch.InvoiceTotal.Equal(decimal.NewFromInt(123)))

	// Side effects all fired.
	require.Len(t, f.store.audits, 1)
	assert.Equal(t, "user-1", f.store.audits[0].UserID)
	assert.Equal(t, []string{"user-1"}, f.cache.invalidated)
	assert.Equal(t, 1, f.archiver.archived)

	// The in-memory document mirrors the persisted state.
	assert.True(t, res.Document.IsScanned)
	require.NotNil(t, res.Document.ExtractedDate)
	assert.Equal(t, time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), *res.Document.ExtractedDate)
	assert.Equal(t, services.DateConfidenceMatched, res.Document.DateExtractionConfidence)
}

func TestProcessGuestSkipsUserSideEffects(t *testing.T) {
	f := newFixture(testDoc())

	res, perr := f.proc.Process(context.Background(), nil, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Empty(t, f.store.upserts, "guests never get folder links")
	assert.Empty(t, f.store.audits)
	assert.Empty(t, f.cache.invalidated)
	assert.Equal(t, 1, f.archiver.archived, "archival does not require an identity")

	require.Len(t, f.store.patches, 1)
	assert.Nil(t, f.store.patches[0].ExtractedYear)
	assert.Nil(t, f.store.patches[0].ExtractedMonth)
	assert.NotNil(t, res.Document.ExtractedDate)
}

func TestProcessCachedShortCircuit(t *testing.T) {
	doc := testDoc()
	f := newFixture(doc)

	// First pass persists the scan result with its metadata blob.
	first, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})
	require.Nil(t, perr)
	doc.IsScanned = true
	doc.ScanResult = f.store.patches[0].ScanResult

	second, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Equal(t, ProcessingCached, second.ProcessingType)
	assert.Equal(t, 1, f.enhanced.calls, "cached pass must not call the AI engine")
	assert.Equal(t, first.Extraction.PurchaseVAT, second.Extraction.PurchaseVAT)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, "enhanced", second.Engine)
}

func TestProcessForceReprocessBypassesCache(t *testing.T) {
	doc := testDoc()
	doc.IsScanned = true
	cached := "old result"
	doc.ScanResult = &cached
	f := newFixture(doc)

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1", ForceReprocess: true})

	require.Nil(t, perr)
	assert.Equal(t, ProcessingFull, res.ProcessingType)
	assert.Equal(t, 1, f.enhanced.calls)
}

func TestProcessLegacyDefaultEngineTriedFirst(t *testing.T) {
	f := newFixture(testDoc())
	primary, fallback := ai.OrderEngines("legacy", f.enhanced, f.legacy)
	proc := NewProcessor(f.store, primary, fallback, f.cache, f.archiver,
		decimal.NewFromFloat(0.23), zerolog.Nop())

	res, perr := proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Equal(t, "legacy", res.Engine)
	assert.Equal(t, 1, f.legacy.calls)
	assert.Equal(t, 0, f.enhanced.calls, "enhanced engine is the fallback and must not run")
}

func TestProcessCachedFailureRecordWarnsToReprocess(t *testing.T) {
	doc := testDoc()
	f := newFixture(doc)
	f.enhanced.err = errors.New("enhanced down")
	f.legacy.err = errors.New("legacy down")

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})
	require.NotNil(t, perr)
	doc.IsScanned = true
	doc.ScanResult = f.store.patches[0].ScanResult

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Equal(t, ProcessingCached, res.ProcessingType)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "forceReprocess")
	assert.NotContains(t, res.Warnings[0], "predates", "a failure record is not a legacy row")
	assert.Equal(t, "previous processing attempt failed", res.StatusReason)
}

func TestProcessLegacyEngineFallback(t *testing.T) {
	f := newFixture(testDoc())
	f.enhanced.err = errors.New("model overloaded")

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Equal(t, "legacy", res.Engine)
	assert.Equal(t, 1, f.enhanced.calls)
	assert.Equal(t, 1, f.legacy.calls)
}

func TestProcessBothEnginesFail(t *testing.T) {
	f := newFixture(testDoc())
	f.enhanced.err = errors.New("enhanced down")
	f.legacy.err = errors.New("legacy down")

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodeAIServiceError, perr.Code)
	assert.Equal(t, http.StatusInternalServerError, perr.Status)

	// The document is still marked as attempted.
	require.Len(t, f.store.patches, 1)
	require.NotNil(t, f.store.patches[0].IsScanned)
	assert.True(t, *f.store.patches[0].IsScanned)
	require.NotNil(t, f.store.patches[0].ScanResult)
	assert.Contains(t, *f.store.patches[0].ScanResult, CodeAIServiceError)
}

func TestProcessProviderUnavailableMapsTo503(t *testing.T) {
	f := newFixture(testDoc())
	f.enhanced.err = ai.ErrProviderUnavailable
	f.legacy.err = fmt.Errorf("call failed: %w", ai.ErrProviderUnavailable)

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodeAIServiceUnavailable, perr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, perr.Status)
	assert.NotEmpty(t, perr.Suggestions)
}

func TestProcessDocumentNotFound(t *testing.T) {
	f := newFixture(nil)
	f.store.findErr = models.ErrDocumentNotFound

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "missing"})

	require.NotNil(t, perr)
	assert.Equal(t, CodeDocumentAccess, perr.Code)
	assert.Equal(t, http.StatusNotFound, perr.Status)
	assert.Equal(t, 0, f.enhanced.calls)
}

func TestProcessUnsupportedFileType(t *testing.T) {
	doc := testDoc()
	doc.MimeType = "text/plain"
	f := newFixture(doc)

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodeUnsupportedFileType, perr.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, perr.Status)
	assert.Equal(t, 0, f.enhanced.calls)

	// Quality failures still mark the document attempted.
	require.Len(t, f.store.patches, 1)
	assert.Contains(t, *f.store.patches[0].ScanResult, CodeUnsupportedFileType)
}

func TestProcessEncryptedPDF(t *testing.T) {
	doc := testDoc()
	doc.MimeType = "application/pdf"
	doc.FileData = base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 /Encrypt 12 0 R"))
	f := newFixture(doc)

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodePDFEncrypted, perr.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, perr.Status)
}

func TestProcessImageOnlyPDF(t *testing.T) {
	doc := testDoc()
	doc.MimeType = "application/pdf"
	doc.FileData = base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 /XObject /Image /Width 800"))
	f := newFixture(doc)

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodePDFImageBased, perr.Code)
}

func TestProcessInvalidBase64(t *testing.T) {
	doc := testDoc()
	doc.FileData = "not base64 at all!!!"
	f := newFixture(doc)

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodeInvalidFileData, perr.Code)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
}

func TestProcessFolderUpsertFailureDegrades(t *testing.T) {
	f := newFixture(testDoc())
	f.store.upsertErr = errors.New("folders table locked")

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr, "folder failure must not fail the request")
	require.Len(t, f.store.patches, 1)
	assert.Nil(t, f.store.patches[0].ExtractedYear)
	assert.Nil(t, f.store.patches[0].ExtractedMonth)
	assert.NotNil(t, f.store.patches[0].ExtractedDate, "date itself is still persisted")
	assert.NotEmpty(t, res.Warnings)
}

func TestProcessConstraintViolationRetriesWithoutFolderLink(t *testing.T) {
	f := newFixture(testDoc())
	f.store.updateErrs = []error{models.ErrConstraintViolation}

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	require.Len(t, f.store.patches, 2)
	assert.NotNil(t, f.store.patches[0].ExtractedYear)
	assert.Nil(t, f.store.patches[1].ExtractedYear, "retry drops the folder link")
	assert.NotNil(t, f.store.patches[1].ExtractedDate)
	assert.NotEmpty(t, res.Warnings)
}

func TestProcessConstraintViolationTwiceFails(t *testing.T) {
	f := newFixture(testDoc())
	f.store.updateErrs = []error{models.ErrConstraintViolation, models.ErrConstraintViolation}

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.NotNil(t, perr)
	assert.Equal(t, CodeForeignKeyConstraint, perr.Code)
}

func TestProcessAuditFailureIsSwallowed(t *testing.T) {
	f := newFixture(testDoc())
	f.store.auditErr = errors.New("audit table gone")

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr, "audit log failure must never fail the request")
	assert.Equal(t, models.StatusCompliant, res.Status)
}

func TestProcessCacheAndArchiveFailuresAreSwallowed(t *testing.T) {
	f := newFixture(testDoc())
	f.cache.err = errors.New("redis down")
	f.archiver.err = errors.New("bucket missing")

	_, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
}

func TestProcessNoDateFallsBackToNow(t *testing.T) {
	f := newFixture(testDoc())
	f.enhanced.output = `{"purchaseVAT": [23.00], "confidence": 0.9}`
	now := time.Date(2025, time.July, 4, 10, 0, 0, 0, time.UTC)
	f.proc.now = func() time.Time { return now }

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Empty(t, f.store.upserts, "low-confidence dates never create folders")
	require.Len(t, f.store.patches, 1)
	assert.Nil(t, f.store.patches[0].ExtractedYear)
	require.NotNil(t, res.Document.ExtractedDate)
	assert.Equal(t, now, *res.Document.ExtractedDate)
	assert.Equal(t, services.DateConfidenceFallback, res.Document.DateExtractionConfidence)
}

func TestProcessSalesCategoryRoutesAmounts(t *testing.T) {
	doc := testDoc()
	doc.Category = "SALES_INVOICE"
	f := newFixture(doc)
	// The model put the amounts on the purchase side; the filed category wins.
	f.enhanced.output = `{"purchaseVAT": [46.00], "confidence": 0.9, "invoiceTotal": 246.00}`

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	require.Len(t, res.Extraction.SalesVAT, 1)
	assert.Empty(t, res.Extraction.PurchaseVAT)
}

func TestProcessEmptyExtractionStillPersists(t *testing.T) {
	f := newFixture(testDoc())
	f.enhanced.output = "the image is blank"

	res, perr := f.proc.Process(context.Background(), testUser, Request{DocumentID: "doc-1"})

	require.Nil(t, perr)
	assert.Equal(t, ai.PathEmpty, res.Path)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Empty(t, f.store.audits, "zero-VAT extractions produce no audit entry")
	require.Len(t, f.store.patches, 1)
	assert.True(t, *f.store.patches[0].IsScanned)
}
