package services

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/payvat/vat-extraction-service/internal/models"
)

// TotalSource records how an invoice total was derived, so a VAT-derived
// estimate is never mistaken for a figure actually printed on the document.
type TotalSource string

const (
	// TotalObserved came from an explicit total field in the extraction.
	TotalObserved TotalSource = "observed"
	// TotalEstimated was back-calculated from VAT at the standard rate. Only
	// exact for invoices taxed entirely at that one rate.
	TotalEstimated TotalSource = "estimated"
	// TotalScanned came from a regex scan of the raw text (largest labeled
	// amount heuristic).
	TotalScanned TotalSource = "scanned"
	// TotalNone means no total could be derived.
	TotalNone TotalSource = "none"
)

var totalScanRe = regexp.MustCompile(`(?i)(?:invoice\s+total|final\s+amount|total|amount)[:\s]*€?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// ResolveTotal derives a single invoice total from an extraction result.
// Cascade, first success wins:
//  1. explicit fields on the result: totalAmount, transactionData.total,
//     invoiceTotal
//  2. estimate from VAT sum / standardRate (flagged as an estimate)
//  3. regex scan of the raw text, taking the largest positive match
//  4. nothing
func ResolveTotal(res models.ExtractionResult, rawText string, standardRate decimal.Decimal) (*decimal.Decimal, TotalSource) {
	for _, candidate := range observedTotals(res) {
		if candidate != nil && candidate.IsPositive() {
			rounded := candidate.Round(2)
			return &rounded, TotalObserved
		}
	}

	if vatSum := res.VATSum(); vatSum.IsPositive() && standardRate.IsPositive() {
		estimate := vatSum.Div(standardRate).Round(2)
		return &estimate, TotalEstimated
	}

	if scanned, ok := scanForTotal(rawText); ok {
		return &scanned, TotalScanned
	}

	return nil, TotalNone
}

func observedTotals(res models.ExtractionResult) []*decimal.Decimal {
	candidates := []*decimal.Decimal{res.TotalAmount}
	if res.Transaction != nil {
		candidates = append(candidates, res.Transaction.Total)
	}
	return append(candidates, res.InvoiceTotal)
}

// scanForTotal collects every "Total"-like labeled amount in the text and
// returns the largest positive one. Largest-wins is a heuristic: the grand
// total normally dominates subtotals and per-line amounts.
func scanForTotal(rawText string) (decimal.Decimal, bool) {
	best := decimal.Zero
	found := false
	for _, m := range totalScanRe.FindAllStringSubmatch(rawText, -1) {
		d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil || !d.IsPositive() {
			continue
		}
		if !found || d.GreaterThan(best) {
			best, found = d, true
		}
	}
	return best.Round(2), found
}
