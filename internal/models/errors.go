package models

import "errors"

// Persistence-layer sentinel errors. The store implementation maps driver
// errors onto these so the orchestrator never inspects pg error codes.
var (
	ErrDocumentNotFound = errors.New("document not found")

	// ErrConstraintViolation covers foreign key and unique violations on
	// writes, in particular the folder-link foreign key on documents.
	ErrConstraintViolation = errors.New("constraint violation")
)
