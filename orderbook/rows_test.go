package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SIDE AND QUANTITY DERIVATION
// =============================================================================

func TestBuildRows_SideFromQuantitySign(t *testing.T) {
	holdings := []HoldingRow{
		{ID: "h1", SecurityID: "sec-1", Quantity: "-5.5"},
		{ID: "h2", SecurityID: "sec-1", Quantity: "0"},
		{ID: "h3", SecurityID: "sec-1", Quantity: "3"},
		{ID: "h4", SecurityID: "sec-1", Quantity: "abc"},
	}

	rows := BuildRows(holdings, []Security{{ID: "sec-1", Name: "Acme Corp", Symbol: "ACM"}}, nil)
	require.Len(t, rows, 4)

	assert.Equal(t, "SELL", rows[0].Side)
	assert.Equal(t, "-5.5", rows[0].TotalQuantity)

	assert.Equal(t, "BUY", rows[1].Side)
	assert.Equal(t, "0", rows[1].TotalQuantity)

	assert.Equal(t, "BUY", rows[2].Side)
	assert.Equal(t, "3", rows[2].TotalQuantity)

	// Non-numeric quantity passes through verbatim with no side
	assert.Equal(t, "-", rows[3].Side)
	assert.Equal(t, "abc", rows[3].TotalQuantity)
}

func TestBuildRows_QuantityRoundedToSixDigits(t *testing.T) {
	holdings := []HoldingRow{
		{ID: "h1", Quantity: "1.23456789"},
		{ID: "h2", Quantity: "-1234.5000"},
	}

	rows := BuildRows(holdings, nil, nil)
	require.Len(t, rows, 2)

	assert.Equal(t, "1.234568", rows[0].TotalQuantity)
	assert.Equal(t, "-1234.5", rows[1].TotalQuantity)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestBuildRows_MissingReferencesDegradeToPlaceholders(t *testing.T) {
	holdings := []HoldingRow{
		{ID: "h1", UserID: "u-unknown", SecurityID: "sec-missing", Quantity: "10"},
	}

	rows := BuildRows(holdings, nil, nil)
	require.Len(t, rows, 1)

	assert.Equal(t, "-", rows[0].InstrumentName)
	assert.Equal(t, "-", rows[0].Ticker)
	assert.Equal(t, "", rows[0].SettlementAccount)
	assert.Equal(t, "", rows[0].BrokerRef)
}

func TestBuildRows_ProfileFeedsSettlementColumns(t *testing.T) {
	holdings := []HoldingRow{
		{ID: "h1", UserID: "u1", SecurityID: "sec-1", Quantity: "10"},
	}
	securities := []Security{{ID: "sec-1", Name: "Acme Corp", Symbol: "ACM"}}
	profiles := []Profile{{UserID: "u1", SettlementAccount: "ACC-9", BrokerRef: "BRK-7"}}

	rows := BuildRows(holdings, securities, profiles)
	require.Len(t, rows, 1)

	assert.Equal(t, "Acme Corp", rows[0].InstrumentName)
	assert.Equal(t, "ACM", rows[0].Ticker)
	assert.Equal(t, "ACC-9", rows[0].SettlementAccount)
	assert.Equal(t, "BRK-7", rows[0].BrokerRef)
}

// =============================================================================
// ORDER TYPE AND ORDERING
// =============================================================================

func TestBuildRows_OrderTypeDerivation(t *testing.T) {
	holdings := []HoldingRow{
		{ID: "h1", Quantity: "1", Status: "Limit"},
		{ID: "h2", Quantity: "1", ExitDate: "2024-04-30"},
		{ID: "h3", Quantity: "1", FillDate: "2024-04-29"},
		{ID: "h4", Quantity: "1"},
	}

	rows := BuildRows(holdings, nil, nil)
	require.Len(t, rows, 4)

	assert.Equal(t, "Limit", rows[0].OrderType)
	assert.Equal(t, "Exit", rows[1].OrderType)
	assert.Equal(t, "Filled", rows[2].OrderType)
	assert.Equal(t, "Market", rows[3].OrderType)
}

func TestBuildRows_PreservesInputOrderAndNumbersLines(t *testing.T) {
	holdings := []HoldingRow{
		{ID: "h3", Quantity: "3"},
		{ID: "h1", Quantity: "1"},
		{ID: "h2", Quantity: "2"},
	}

	rows := BuildRows(holdings, nil, nil)
	require.Len(t, rows, 3)

	for i, row := range rows {
		assert.Equal(t, i+1, row.Line)
	}
	assert.Equal(t, "3", rows[0].TotalQuantity)
	assert.Equal(t, "1", rows[1].TotalQuantity)
	assert.Equal(t, "2", rows[2].TotalQuantity)
}

func TestBuildRows_ISINIsPlaceholder(t *testing.T) {
	rows := BuildRows([]HoldingRow{{ID: "h1", Quantity: "1"}}, nil, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "000", rows[0].ISIN)
}
