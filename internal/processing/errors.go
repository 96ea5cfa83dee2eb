package processing

import (
	"fmt"
	"net/http"
)

// Stable error codes returned to API clients. Codes are programmatic
// contracts; the message text is free to change, the codes are not.
const (
	CodeInvalidJSON          = "INVALID_JSON"
	CodeDocumentAccess       = "DOCUMENT_ACCESS_ERROR"
	CodeInvalidFileData      = "INVALID_FILE_DATA"
	CodeProcessingException  = "PROCESSING_EXCEPTION"
	CodePDFImageBased        = "PDF_IMAGE_BASED"
	CodePDFEncrypted         = "PDF_ENCRYPTED"
	CodeAIServiceUnavailable = "AI_SERVICE_UNAVAILABLE"
	CodeAIServiceError       = "AI_SERVICE_ERROR"
	CodeUnsupportedFileType  = "UNSUPPORTED_FILE_TYPE"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeDocumentUpdateError  = "DOCUMENT_UPDATE_ERROR"
	CodeForeignKeyConstraint = "FOREIGN_KEY_CONSTRAINT_ERROR"
	CodeVATExtractionError   = "VAT_EXTRACTION_ERROR"
	CodeDataProcessingError  = "DATA_PROCESSING_ERROR"
	CodeModuleError          = "MODULE_ERROR"
)

// ProcessingError is the typed failure surfaced by the orchestrator: a stable
// code, an HTTP status, a plain-language message and optional remediation
// suggestions for user-fixable problems.
type ProcessingError struct {
	Code        string
	Status      int
	Message     string
	Suggestions []string
	Err         error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func invalidInput(code, message string, err error) *ProcessingError {
	return &ProcessingError{Code: code, Status: http.StatusBadRequest, Message: message, Err: err}
}

func notFound(message string, err error) *ProcessingError {
	return &ProcessingError{
		Code:    CodeDocumentAccess,
		Status:  http.StatusNotFound,
		Message: message,
		Err:     err,
		Suggestions: []string{
			"Check the documentId belongs to your account",
			"Re-upload the document if it was deleted",
		},
	}
}

func unprocessable(code, message string, suggestions ...string) *ProcessingError {
	return &ProcessingError{
		Code:        code,
		Status:      http.StatusUnprocessableEntity,
		Message:     message,
		Suggestions: suggestions,
	}
}

func internal(code, message string, err error) *ProcessingError {
	return &ProcessingError{Code: code, Status: http.StatusInternalServerError, Message: message, Err: err}
}

func unavailable(message string, err error) *ProcessingError {
	return &ProcessingError{
		Code:    CodeAIServiceUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: message,
		Err:     err,
		Suggestions: []string{
			"Retry in a few minutes",
			"The document is saved and can be reprocessed later",
		},
	}
}
