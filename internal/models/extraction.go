package models

import (
	"github.com/shopspring/decimal"
)

// DocumentType classifies what kind of document the model believes it read.
type DocumentType string

const (
	DocTypeInvoice    DocumentType = "INVOICE"
	DocTypeReceipt    DocumentType = "RECEIPT"
	DocTypeCreditNote DocumentType = "CREDIT_NOTE"
	DocTypeStatement  DocumentType = "STATEMENT"
	DocTypeOther      DocumentType = "OTHER"
)

// ParseDocumentType maps free-form model output onto the known set.
func ParseDocumentType(s string) DocumentType {
	switch DocumentType(normalizeEnum(s)) {
	case DocTypeInvoice, DocTypeReceipt, DocTypeCreditNote, DocTypeStatement:
		return DocumentType(normalizeEnum(s))
	default:
		return DocTypeOther
	}
}

// ComplianceStatus is the outcome of classifying an extraction result.
type ComplianceStatus string

const (
	StatusCompliant ComplianceStatus = "COMPLIANT"
	StatusWarning   ComplianceStatus = "WARNING"
	StatusError     ComplianceStatus = "ERROR"
)

// TransactionData carries secondary monetary fields the model sometimes nests
// under a transaction object instead of the top level.
type TransactionData struct {
	Total *decimal.Decimal `json:"total,omitempty"`
}

// ExtractionResult is the typed output of one processing pass. It is transient:
// it gets folded into the Document row and the audit log, never stored as-is.
type ExtractionResult struct {
	SalesVAT    []decimal.Decimal `json:"salesVAT"`
	PurchaseVAT []decimal.Decimal `json:"purchaseVAT"`
	Confidence  float64           `json:"confidence"`

	// ExtractedText is raw evidence kept for debugging and the regex fallback;
	// it never drives financial decisions on the primary path.
	ExtractedText []string `json:"extractedText,omitempty"`

	InvoiceDate  string           `json:"invoiceDate,omitempty"` // free text, resolved later
	TotalAmount  *decimal.Decimal `json:"totalAmount,omitempty"`
	InvoiceTotal *decimal.Decimal `json:"invoiceTotal,omitempty"`
	Transaction  *TransactionData `json:"transactionData,omitempty"`

	DocumentType DocumentType `json:"documentType"`
}

// AllAmounts returns the sales and purchase VAT amounts as one list.
func (r ExtractionResult) AllAmounts() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(r.SalesVAT)+len(r.PurchaseVAT))
	out = append(out, r.SalesVAT...)
	out = append(out, r.PurchaseVAT...)
	return out
}

// HasAmounts reports whether the pass produced at least one VAT amount.
func (r ExtractionResult) HasAmounts() bool {
	return len(r.SalesVAT) > 0 || len(r.PurchaseVAT) > 0
}

// VATSum is the sum of every extracted VAT amount.
func (r ExtractionResult) VATSum() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range r.AllAmounts() {
		sum = sum.Add(a)
	}
	return sum
}

func normalizeEnum(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c == ' ' || c == '-':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
