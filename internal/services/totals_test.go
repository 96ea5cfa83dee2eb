package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payvat/vat-extraction-service/internal/models"
)

var standardRate = decimal.NewFromFloat(0.23)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestResolveTotalObservedField(t *testing.T) {
	res := models.ExtractionResult{
		PurchaseVAT: []decimal.Decimal{*dec("23.00")},
		TotalAmount: dec("123.00"),
	}

	total, source := ResolveTotal(res, "", standardRate)

	require.NotNil(t, total)
	assert.True(t, total.Equal(*dec("123.00")))
	assert.Equal(t, TotalObserved, source)
}

func TestResolveTotalTransactionFieldWins(t *testing.T) {
	res := models.ExtractionResult{
		Transaction:  &models.TransactionData{Total: dec("99.50")},
		InvoiceTotal: dec("50.00"),
	}

	total, source := ResolveTotal(res, "", standardRate)

	require.NotNil(t, total)
	assert.True(t, total.Equal(*dec("99.50")))
	assert.Equal(t, TotalObserved, source)
}

func TestResolveTotalEstimatedFromVAT(t *testing.T) {
	res := models.ExtractionResult{
		PurchaseVAT: []decimal.Decimal{*dec("23.00")},
	}

	total, source := ResolveTotal(res, "", standardRate)

	require.NotNil(t, total)
	assert.True(t, total.Equal(*dec("100.00")), "23.00 / 0.23 = 100.00, got %s", total)
	assert.Equal(t, TotalEstimated, source)
}

func TestResolveTotalScannedLargestWins(t *testing.T) {
	raw := "Subtotal: €80.00\nTotal: €98.40\nAmount due: 98.40"
	res := models.ExtractionResult{}

	total, source := ResolveTotal(res, raw, standardRate)

	require.NotNil(t, total)
	assert.True(t, total.Equal(*dec("98.40")))
	assert.Equal(t, TotalScanned, source)
}

func TestResolveTotalNothing(t *testing.T) {
	total, source := ResolveTotal(models.ExtractionResult{}, "no figures here", standardRate)

	assert.Nil(t, total)
	assert.Equal(t, TotalNone, source)
}

func TestResolveTotalIgnoresNonPositiveObserved(t *testing.T) {
	res := models.ExtractionResult{
		TotalAmount: dec("0"),
		PurchaseVAT: []decimal.Decimal{*dec("4.60")},
	}

	total, source := ResolveTotal(res, "", standardRate)

	require.NotNil(t, total)
	assert.True(t, total.Equal(*dec("20.00")))
	assert.Equal(t, TotalEstimated, source)
}
