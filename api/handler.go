package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/payvat/vat-extraction-service/internal/auth"
	"github.com/payvat/vat-extraction-service/internal/models"
	"github.com/payvat/vat-extraction-service/internal/processing"
)

const Version = "1.4.0"

var startTime = time.Now()

// Pinger is the health probe implemented by the database store and the cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the read surface the handlers need beyond the processor.
type Store interface {
	FindDocument(ctx context.Context, id string, ownerID *string) (*models.Document, error)
	ListFolders(ctx context.Context, userID string) ([]models.DocumentFolder, error)
	Ping(ctx context.Context) error
}

// ArchiveLinker issues download links for archived documents.
type ArchiveLinker interface {
	DocumentURL(ctx context.Context, doc *models.Document) (string, error)
}

// Handler exposes the document processing pipeline over HTTP.
type Handler struct {
	config    *models.Config
	processor *processing.Processor
	store     Store
	verifier  *auth.Verifier
	cache     Pinger        // nil when the cache is disabled
	archive   ArchiveLinker // nil when archival is disabled
	log       zerolog.Logger
}

func NewHandler(config *models.Config, processor *processing.Processor, store Store, verifier *auth.Verifier, cache Pinger, archive ArchiveLinker, log zerolog.Logger) *Handler {
	return &Handler{
		config:    config,
		processor: processor,
		store:     store,
		verifier:  verifier,
		cache:     cache,
		archive:   archive,
		log:       log,
	}
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.verifier.Middleware)

	router.HandleFunc("/api/documents/process", h.ProcessDocument).Methods("POST")
	router.HandleFunc("/api/documents/{id}", h.GetDocument).Methods("GET")
	router.HandleFunc("/api/folders", h.GetFolders).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// documentView is the document as returned to clients. File data never leaves
// the service.
type documentView struct {
	ID            string                  `json:"id"`
	FileName      string                  `json:"fileName"`
	Category      string                  `json:"category"`
	IsScanned     bool                    `json:"isScanned"`
	ScanResult    *string                 `json:"scanResult,omitempty"`
	ExtractedData models.ExtractionResult `json:"extractedData"`
}

type processingInfo struct {
	Engine              string   `json:"engine"`
	ProcessingType      string   `json:"processingType"`
	Timestamp           string   `json:"timestamp"`
	TotalProcessingTime string   `json:"totalProcessingTime"`
	TaxComplianceStatus string   `json:"taxComplianceStatus"`
	Warnings            []string `json:"warnings"`
}

type validationCheck struct {
	ExtractedAmounts []float64 `json:"extractedAmounts"`
	Confidence       float64   `json:"confidence"`
	ComplianceStatus string    `json:"complianceStatus"`
}

type aiStatus struct {
	APIEnabled        bool   `json:"apiEnabled"`
	ConnectivityTest  bool   `json:"connectivityTest"`
	DiagnosticMessage string `json:"diagnosticMessage"`
}

type processResponse struct {
	Success        bool                    `json:"success"`
	Document       documentView            `json:"document"`
	ExtractedData  models.ExtractionResult `json:"extractedData"`
	ProcessingInfo processingInfo          `json:"processingInfo"`
	Validation     validationCheck         `json:"validationCheck"`
	OpenAIStatus   aiStatus                `json:"openAIStatus"`
}

type errorResponse struct {
	Success          bool     `json:"success"`
	Error            string   `json:"error"`
	ErrorCode        string   `json:"errorCode"`
	Suggestions      []string `json:"suggestions,omitempty"`
	TechnicalDetails any      `json:"technicalDetails,omitempty"`
}

// ProcessDocument handles POST /api/documents/process.
func (h *Handler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	var req processing.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&req); err != nil || req.DocumentID == "" {
		// Malformed body is rejected before any document lookup.
		h.writeError(w, &processing.ProcessingError{
			Code:    processing.CodeInvalidJSON,
			Status:  http.StatusBadRequest,
			Message: "request body must be JSON with a documentId field",
			Err:     err,
		})
		return
	}

	user := auth.UserFromContext(r.Context())
	result, perr := h.processor.Process(r.Context(), user, req)
	if perr != nil {
		h.writeError(w, perr)
		return
	}

	amounts := make([]float64, 0, len(result.Extraction.SalesVAT)+len(result.Extraction.PurchaseVAT))
	for _, a := range result.Extraction.AllAmounts() {
		amounts = append(amounts, a.InexactFloat64())
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	h.writeJSON(w, http.StatusOK, processResponse{
		Success: true,
		Document: documentView{
			ID:            result.Document.ID,
			FileName:      result.Document.OriginalName,
			Category:      result.Document.Category,
			IsScanned:     result.Document.IsScanned,
			ScanResult:    result.Document.ScanResult,
			ExtractedData: result.Extraction,
		},
		ExtractedData: result.Extraction,
		ProcessingInfo: processingInfo{
			Engine:              result.Engine,
			ProcessingType:      result.ProcessingType,
			Timestamp:           time.Now().Format(time.RFC3339),
			TotalProcessingTime: result.Duration.String(),
			TaxComplianceStatus: string(result.Status),
			Warnings:            warnings,
		},
		Validation: validationCheck{
			ExtractedAmounts: amounts,
			Confidence:       result.Extraction.Confidence,
			ComplianceStatus: string(result.Status),
		},
		OpenAIStatus: aiStatus{
			APIEnabled:        h.aiEnabled(),
			ConnectivityTest:  result.ProcessingType == processing.ProcessingFull,
			DiagnosticMessage: h.aiDiagnostic(result),
		},
	})
}

// GetDocument handles GET /api/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var ownerID *string
	if user := auth.UserFromContext(r.Context()); user != nil {
		ownerID = &user.ID
	}

	doc, err := h.store.FindDocument(r.Context(), id, ownerID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			h.writeError(w, &processing.ProcessingError{
				Code:    processing.CodeDocumentAccess,
				Status:  http.StatusNotFound,
				Message: "document not found or not accessible",
			})
			return
		}
		h.writeError(w, &processing.ProcessingError{
			Code:    processing.CodeDatabaseError,
			Status:  http.StatusInternalServerError,
			Message: "failed to load document",
			Err:     err,
		})
		return
	}

	resp := map[string]any{
		"success":  true,
		"document": doc,
	}
	// Archived documents get a time-limited download link; link failure is not
	// worth failing the read.
	if h.archive != nil && doc.IsScanned {
		if url, err := h.archive.DocumentURL(r.Context(), doc); err == nil {
			resp["downloadUrl"] = url
		} else {
			h.log.Warn().Str("document_id", doc.ID).Err(err).Msg("failed to generate download link")
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetFolders handles GET /api/folders. Folders only exist for authenticated
// users.
func (h *Handler) GetFolders(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{
			Success:   false,
			Error:     "authentication required",
			ErrorCode: processing.CodeDocumentAccess,
		})
		return
	}

	folders, err := h.store.ListFolders(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, &processing.ProcessingError{
			Code:    processing.CodeDatabaseError,
			Status:  http.StatusInternalServerError,
			Message: "failed to load folders",
			Err:     err,
		})
		return
	}
	if folders == nil {
		folders = []models.DocumentFolder{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"folders": folders,
	})
}

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Memory    MemoryStats   `json:"memory"`
	Database  ServiceStatus `json:"database"`
	Cache     ServiceStatus `json:"cache"`
	Storage   ServiceStatus `json:"storage"`
	AI        aiStatus      `json:"ai"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	AllocatedMB float64 `json:"allocatedMB"`
	SystemMB    float64 `json:"systemMB"`
}

// ServiceStatus represents the status of a service dependency.
type ServiceStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Health handles GET /health. The database is the only hard dependency; cache
// and storage being down degrades features, not availability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := probe(ctx, h.store)
	cacheStatus := ServiceStatus{Available: false, Error: "cache disabled"}
	if h.cache != nil {
		cacheStatus = probe(ctx, h.cache)
	}
	storageStatus := ServiceStatus{Available: h.archive != nil}
	if h.archive == nil {
		storageStatus.Error = "archival disabled"
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			AllocatedMB: float64(m.Alloc) / 1024 / 1024,
			SystemMB:    float64(m.Sys) / 1024 / 1024,
		},
		Database: dbStatus,
		Cache:    cacheStatus,
		Storage:  storageStatus,
		AI: aiStatus{
			APIEnabled:        h.aiEnabled(),
			ConnectivityTest:  h.aiEnabled(),
			DiagnosticMessage: "provider " + h.config.AI.DefaultProvider,
		},
	}

	status := http.StatusOK
	if !dbStatus.Available {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

func probe(ctx context.Context, p Pinger) ServiceStatus {
	if err := p.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true}
}

func (h *Handler) aiEnabled() bool {
	return h.config.AI.OpenAI.APIKey != "" || h.config.AI.Gemini.APIKey != ""
}

func (h *Handler) aiDiagnostic(result *processing.Result) string {
	if result.ProcessingType == processing.ProcessingCached {
		return "served from cached scan result, no extraction call made"
	}
	return "extraction completed via " + result.Engine + " engine"
}

func (h *Handler) writeError(w http.ResponseWriter, perr *processing.ProcessingError) {
	resp := errorResponse{
		Success:     false,
		Error:       perr.Message,
		ErrorCode:   perr.Code,
		Suggestions: perr.Suggestions,
	}
	// Underlying error detail is development-only; production clients get the
	// stable code and message.
	if h.config.Development && perr.Err != nil {
		resp.TechnicalDetails = map[string]string{"cause": perr.Err.Error()}
	}

	if perr.Status >= http.StatusInternalServerError {
		h.log.Error().Err(perr).Str("code", perr.Code).Msg("request failed")
	} else {
		h.log.Warn().Str("code", perr.Code).Str("message", perr.Message).Msg("request rejected")
	}
	h.writeJSON(w, perr.Status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}
