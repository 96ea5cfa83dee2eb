package services

import (
	"github.com/payvat/vat-extraction-service/internal/models"
)

// Confidence thresholds for compliance classification.
const (
	compliantThreshold   = 0.8
	needsReviewThreshold = 0.5
)

// Classify maps an extraction result to a compliance status. WARNING covers
// two distinct regimes (moderate confidence needing review, and low-confidence
// extraction); the reason string keeps them apart even though the status enum
// collapses them.
func Classify(res models.ExtractionResult) (models.ComplianceStatus, string) {
	if !res.HasAmounts() {
		return models.StatusError, "extraction produced no VAT amounts"
	}

	switch {
	case res.Confidence >= compliantThreshold:
		return models.StatusCompliant, "VAT amounts extracted with high confidence"
	case res.Confidence >= needsReviewThreshold:
		return models.StatusWarning, "VAT amounts extracted but need review"
	default:
		return models.StatusWarning, "low confidence extraction, manual verification recommended"
	}
}
