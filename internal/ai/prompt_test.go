package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptContainsRatesAndRules(t *testing.T) {
	prompt := BuildPrompt("image/jpeg", "PURCHASE_INVOICE", false)

	assert.Contains(t, prompt, "23%")
	assert.Contains(t, prompt, "13.5%")
	assert.Contains(t, prompt, "9%")
	assert.Contains(t, prompt, "Total Amount VAT")
	assert.Contains(t, prompt, "ZERO-RATE RULE")
	assert.Contains(t, prompt, "PURCHASE")
	assert.NotContains(t, prompt, "PDF INPUT")
	assert.NotContains(t, prompt, "DEBUG MODE")
}

func TestBuildPromptSalesSide(t *testing.T) {
	prompt := BuildPrompt("image/png", "SALES_RECEIPT", false)

	assert.Contains(t, prompt, "SALES (VAT you charged a customer)")
}

func TestBuildPromptPDFInstruction(t *testing.T) {
	prompt := BuildPrompt("application/pdf", "PURCHASE_INVOICE", false)

	assert.Contains(t, prompt, "Read ALL pages")
}

func TestBuildPromptDebugMode(t *testing.T) {
	prompt := BuildPrompt("image/jpeg", "PURCHASE_INVOICE", true)

	assert.Contains(t, prompt, "DEBUG MODE")
}

func TestBuildLegacyPromptSide(t *testing.T) {
	assert.Contains(t, BuildLegacyPrompt("image/jpeg", "SALES_INVOICE"), `"salesVAT"`)
	assert.Contains(t, BuildLegacyPrompt("image/jpeg", "PURCHASE_INVOICE"), `"purchaseVAT"`)
	assert.Contains(t, BuildLegacyPrompt("application/pdf", "PURCHASE_INVOICE"), "read all pages")
}
