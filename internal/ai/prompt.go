package ai

import (
	"fmt"
	"strings"
	"time"
)

// BuildPrompt constructs the enhanced-engine instruction text for the vision
// model. Pure string construction: the output depends only on the arguments
// and the current year.
func BuildPrompt(mimeType, category string, debug bool) string {
	side := "PURCHASE (VAT you paid to a supplier)"
	if strings.Contains(strings.ToUpper(category), "SALES") {
		side = "SALES (VAT you charged a customer)"
	}

	prompt := fmt.Sprintf(`You are an EXPERT in Irish VAT compliance reading business documents (invoices, receipts, credit notes, statements). Read EVERY monetary figure carefully.

## DOCUMENT CONTEXT
This document was filed by the user as: %s

## IRISH VAT RATES
- 23%% standard rate (most goods and services)
- 13.5%% reduced rate (fuel, building services, repair)
- 9%% second reduced rate (hospitality, hairdressing, printed matter)
- 0%% zero rate (exports, most food, books, children's clothing)

## FIELD PRIORITY (STRICT ORDER)
1. A line labelled exactly "Total Amount VAT" ALWAYS wins over any other monetary field.
2. Otherwise use a line labelled "Total VAT", "VAT Total" or "VAT Amount".
3. Otherwise sum the per-rate VAT breakdown lines (e.g. "VAT 23%%: ...", "VAT 13.5%%: ...").
4. NEVER report the invoice total, subtotal or a line-item price as the VAT amount.

## ZERO-RATE RULE (CRITICAL)
If the document shows "0%%", "VAT (0%%)", "Zero-rated" or "Zero VAT" next to an amount, the VAT for that line is exactly 0.00. Report 0.00, NOT null, and NEVER substitute a nearby unrelated price.

## KNOWN PROBLEM CASES
- Service charges and tips are NOT VAT.
- "Total incl. VAT" is the gross total, not the VAT amount.
- Card processing fees are VAT-exempt; do not invent VAT for them.
- Credit notes carry negative totals but VAT amounts are reported as positive figures on the note.

## OUTPUT
Return ONLY valid JSON (no markdown, no commentary):
{
  "salesVAT": [list of VAT amounts if this is a sales document, else []],
  "purchaseVAT": [list of VAT amounts if this is a purchase document, else []],
  "confidence": number 0-1 (how certain you are the VAT amounts are correct),
  "extractedText": ["the VAT-relevant lines you read, verbatim"],
  "invoiceDate": "the invoice/receipt date exactly as printed, or null",
  "invoiceTotal": total amount payable as a number, or null if not printed,
  "documentType": "INVOICE" | "RECEIPT" | "CREDIT_NOTE" | "STATEMENT" | "OTHER",
  "currency": "EUR" unless clearly another currency
}

## RULES
1. Amounts are plain numbers (no currency symbols, no thousands separators).
2. Use 0.00 for zero-rated VAT, null only for fields genuinely absent.
3. NEVER invent amounts you cannot read.
4. Dates: report exactly as printed; do not reformat.
5. Default year if the date is partly illegible: %d.`, side, time.Now().Year())

	if strings.Contains(strings.ToLower(mimeType), "pdf") {
		prompt += "\n\n## PDF INPUT\nThis document is a PDF. Read ALL pages; VAT summaries are frequently on the final page."
	}

	if debug {
		prompt += "\n\n## DEBUG MODE\nAdditionally include every line of the document verbatim in extractedText, in reading order."
	}

	return prompt
}

// BuildLegacyPrompt is the compact prompt used by the legacy engine. It
// predates the field-priority rules and is kept as the fallback contract.
func BuildLegacyPrompt(mimeType, category string) string {
	side := "purchaseVAT"
	if strings.Contains(strings.ToUpper(category), "SALES") {
		side = "salesVAT"
	}

	prompt := fmt.Sprintf(`Extract the VAT amounts from this Irish business document. Irish VAT rates are 0%%, 9%%, 13.5%% and 23%%. Zero-rated lines have VAT exactly 0.00.

Return only JSON:
{"%s": [numbers], "confidence": 0-1, "invoiceDate": "as printed or null", "invoiceTotal": number or null, "documentType": "INVOICE|RECEIPT|CREDIT_NOTE|STATEMENT|OTHER"}`, side)

	if strings.Contains(strings.ToLower(mimeType), "pdf") {
		prompt += "\n\nThe document is a PDF; read all pages."
	}
	return prompt
}
