package ai

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/payvat/vat-extraction-service/internal/models"
)

// Path tags which route produced a normalization outcome, so downstream code
// can handle the JSON/regex dual path exhaustively.
type Path string

const (
	// PathParsed means the model's JSON parsed cleanly and carried amounts.
	PathParsed Path = "parsed"
	// PathFallback means regex extraction over the raw text produced the
	// amounts after JSON parsing failed or came back without amounts.
	PathFallback Path = "fallback"
	// PathEmpty means neither route yielded any amount.
	PathEmpty Path = "empty"
)

// NormalizationOutcome is the typed result of normalizing raw model output.
type NormalizationOutcome struct {
	Path   Path
	Result models.ExtractionResult
}

var (
	zeroRateRe = regexp.MustCompile(`(?i)\(\s*0\s*%\s*\)|\b0(?:\.0+)?\s*%|zero[\s-]*rated|zero\s+vat`)
	vatLabelRe = regexp.MustCompile(`(?i)\bvat\b|\btax\b`)
	amountRe   = regexp.MustCompile(`€?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

	labeledTotalRe = regexp.MustCompile(`(?i)(?:total\s+amount\s+vat|total\s+vat|vat\s+total|vat\s+amount)[:\s]*€?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	rateLineRe     = regexp.MustCompile(`(?i)\bvat\b[^\n]*?(?:@|\()?\s*(23|13\.5|9|0)\s*%`)
)

// Normalize parses raw model output into a typed extraction result. The
// primary path locates the first balanced JSON object in the text (models
// sometimes wrap it in prose or markdown fences); when that fails or carries
// no amounts, regex extraction over the raw text takes over. category decides
// which side fallback amounts land on.
func Normalize(raw, category string) NormalizationOutcome {
	cleaned := stripFences(raw)

	if jsonStr, ok := firstJSONObject(cleaned); ok {
		if outcome, ok := normalizeParsed(jsonStr, raw, category); ok {
			return outcome
		}
	}
	return normalizeFallback(raw, category)
}

// rawExtraction mirrors the prompt's JSON contract with flexible numeric
// fields: models return numbers, quoted numbers and comma-grouped strings
// interchangeably.
type rawExtraction struct {
	SalesVAT      []any  `json:"salesVAT"`
	PurchaseVAT   []any  `json:"purchaseVAT"`
	Confidence    any    `json:"confidence"`
	ExtractedText any    `json:"extractedText"`
	InvoiceDate   string `json:"invoiceDate"`
	TotalAmount   any    `json:"totalAmount"`
	InvoiceTotal  any    `json:"invoiceTotal"`
	Transaction   *struct {
		Total any `json:"total"`
	} `json:"transactionData"`
	DocumentType string `json:"documentType"`
}

func normalizeParsed(jsonStr, fullText, category string) (NormalizationOutcome, bool) {
	var raw rawExtraction
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return NormalizationOutcome{}, false
	}

	res := models.ExtractionResult{
		SalesVAT:      parseAmountList(raw.SalesVAT),
		PurchaseVAT:   parseAmountList(raw.PurchaseVAT),
		InvoiceDate:   strings.TrimSpace(raw.InvoiceDate),
		ExtractedText: parseTextList(raw.ExtractedText),
		DocumentType:  models.ParseDocumentType(raw.DocumentType),
	}
	if d, ok := parseAmount(raw.TotalAmount); ok {
		res.TotalAmount = &d
	}
	if d, ok := parseAmount(raw.InvoiceTotal); ok {
		res.InvoiceTotal = &d
	}
	if raw.Transaction != nil {
		if d, ok := parseAmount(raw.Transaction.Total); ok {
			res.Transaction = &models.TransactionData{Total: &d}
		}
	}

	res.SalesVAT = applyZeroRateOverride(fullText, res.SalesVAT)
	res.PurchaseVAT = applyZeroRateOverride(fullText, res.PurchaseVAT)

	if !res.HasAmounts() {
		// Parsed but amount-free: the fallback path decides.
		return NormalizationOutcome{}, false
	}

	modelConf, _ := toFloat(raw.Confidence)
	labeledTotal := res.InvoiceTotal != nil || res.TotalAmount != nil
	switch {
	case labeledTotal && modelConf >= 0.85:
		res.Confidence = clamp(modelConf, 0.85, 1.0)
	case labeledTotal:
		res.Confidence = 0.85
	case modelConf > 0:
		res.Confidence = clamp(modelConf, 0, 0.8)
	default:
		res.Confidence = 0.7
	}

	return NormalizationOutcome{Path: PathParsed, Result: res}, true
}

// normalizeFallback scans the raw text for VAT amounts. Preference order:
// explicitly labeled VAT total, then per-rate breakdown sum, then the largest
// amount on a VAT/Tax-labeled line.
func normalizeFallback(raw, category string) NormalizationOutcome {
	amounts, confidence := fallbackAmounts(raw)
	if len(amounts) == 0 {
		return NormalizationOutcome{
			Path:   PathEmpty,
			Result: models.ExtractionResult{Confidence: 0, DocumentType: models.DocTypeOther},
		}
	}

	res := models.ExtractionResult{
		Confidence:   confidence,
		DocumentType: models.DocTypeOther,
	}
	if strings.Contains(strings.ToUpper(category), "SALES") {
		res.SalesVAT = amounts
	} else {
		res.PurchaseVAT = amounts
	}
	return NormalizationOutcome{Path: PathFallback, Result: res}
}

func fallbackAmounts(raw string) ([]decimal.Decimal, float64) {
	// 1. Explicit labeled total.
	if m := labeledTotalRe.FindStringSubmatch(raw); m != nil {
		line := lineContaining(raw, m[0])
		if zeroRateRe.MatchString(line) {
			return []decimal.Decimal{decimal.Zero}, 0.7
		}
		if d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
			return []decimal.Decimal{d}, 0.7
		}
	}

	// 2. Per-rate breakdown sum.
	var breakdown []decimal.Decimal
	for _, line := range strings.Split(raw, "\n") {
		if !rateLineRe.MatchString(line) {
			continue
		}
		if zeroRateRe.MatchString(line) {
			breakdown = append(breakdown, decimal.Zero)
			continue
		}
		if d, ok := lastAmountOnLine(line); ok {
			breakdown = append(breakdown, d)
		}
	}
	if len(breakdown) > 0 {
		return breakdown, 0.6
	}

	// 3. Largest amount on any VAT/Tax-labeled line.
	best := decimal.Zero
	found := false
	for _, line := range strings.Split(raw, "\n") {
		if !vatLabelRe.MatchString(line) {
			continue
		}
		if zeroRateRe.MatchString(line) {
			best, found = decimal.Zero, true
			continue
		}
		for _, d := range amountsOnLine(line) {
			if !d.IsPositive() {
				continue
			}
			if !found || d.GreaterThan(best) {
				best, found = d, true
			}
		}
	}
	if found {
		return []decimal.Decimal{best}, 0.45
	}
	return nil, 0
}

// applyZeroRateOverride enforces the zero-rate rule on parsed amounts: when
// the evidence text marks every VAT mention zero-rated, the extracted amounts
// collapse to a single 0.00 entry. This prevents an unrelated price being
// mis-read as VAT on zero-rated documents.
func applyZeroRateOverride(text string, amounts []decimal.Decimal) []decimal.Decimal {
	if len(amounts) == 0 || !zeroRateRe.MatchString(text) {
		return amounts
	}
	for _, line := range strings.Split(text, "\n") {
		if !vatLabelRe.MatchString(line) || zeroRateRe.MatchString(line) {
			continue
		}
		if d, ok := lastAmountOnLine(line); ok && d.IsPositive() {
			// A genuine non-zero VAT line exists alongside the zero-rated
			// ones; leave the parsed amounts alone.
			return amounts
		}
	}
	return []decimal.Decimal{decimal.Zero}
}

// firstJSONObject returns the first balanced JSON object embedded in s.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func parseAmountList(vals []any) []decimal.Decimal {
	var out []decimal.Decimal
	for _, v := range vals {
		if d, ok := parseAmount(v); ok {
			out = append(out, d)
		}
	}
	return out
}

// parseAmount coerces the model's flexible numerics: numbers, quoted numbers
// and comma-grouped strings ("1,234.56").
func parseAmount(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(val, ",", ""))
		cleaned = strings.TrimPrefix(cleaned, "€")
		if cleaned == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func parseTextList(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// amountsOnLine extracts monetary amounts from a line, skipping percentages
// ("23%" is a rate, not an amount).
func amountsOnLine(line string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, idx := range amountRe.FindAllStringSubmatchIndex(line, -1) {
		start, end := idx[2], idx[3]
		if end < len(line) && line[end] == '%' {
			continue
		}
		cleaned := strings.ReplaceAll(line[start:end], ",", "")
		if d, err := decimal.NewFromString(cleaned); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func lastAmountOnLine(line string) (decimal.Decimal, bool) {
	amounts := amountsOnLine(line)
	if len(amounts) == 0 {
		return decimal.Decimal{}, false
	}
	return amounts[len(amounts)-1], true
}

// lineContaining returns the full line of text that holds the given substring.
func lineContaining(text, substr string) string {
	idx := strings.Index(text, substr)
	if idx < 0 {
		return substr
	}
	start := strings.LastIndexByte(text[:idx], '\n') + 1
	end := strings.IndexByte(text[idx:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : idx+end]
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
