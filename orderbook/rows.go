/*
rows.go - Row snapshot builder

PURPOSE:
  Pure transformation from raw holdings plus reference data into the
  normalized report rows that get encoded to CSV. No I/O here; callers load
  the inputs and pass them in.

DERIVATION RULES:
  side:          sign of the quantity (negative SELL, zero-or-positive BUY,
                 non-numeric "-")
  totalQuantity: quantity rounded to at most 6 fractional digits, or the raw
                 text when non-numeric
  orderType:     holding status verbatim when present, else derived from the
                 exit/fill date fields, else "Market"
  isin:          "000" placeholder on every path. Upstream schema suggests a
                 real ISIN lookup was intended but never built; kept as-is
                 pending product confirmation.

REFERENCE DATA:
  Securities and profiles are turned into lookup maps once per call. A
  holding whose reference row is missing degrades to placeholder values
  instead of failing the snapshot.
*/
package orderbook

import (
	"github.com/shopspring/decimal"
)

const placeholderISIN = "000"

// BuildRows turns raw holdings and reference data into report rows.
// Input order is preserved; Line is the 1-based output position.
func BuildRows(holdings []HoldingRow, securities []Security, profiles []Profile) []ReportRow {
	securityByID := make(map[string]Security, len(securities))
	for _, s := range securities {
		securityByID[s.ID] = s
	}
	profileByUser := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		profileByUser[p.UserID] = p
	}

	rows := make([]ReportRow, 0, len(holdings))
	for i, h := range holdings {
		security := securityByID[h.SecurityID]
		profile := profileByUser[h.UserID]

		side, quantity := deriveQuantity(h.Quantity)

		rows = append(rows, ReportRow{
			Line:              i + 1,
			InstrumentName:    orPlaceholder(security.Name),
			Ticker:            orPlaceholder(security.Symbol),
			ISIN:              placeholderISIN,
			Side:              side,
			TotalQuantity:     quantity,
			OrderType:         deriveOrderType(h),
			SettlementAccount: profile.SettlementAccount,
			BrokerRef:         profile.BrokerRef,
		})
	}
	return rows
}

// deriveQuantity parses the stored quantity text. Numeric values yield a
// BUY/SELL side and a value rounded to at most 6 fractional digits;
// non-numeric text passes through verbatim with side "-".
func deriveQuantity(raw string) (side, quantity string) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		if raw == "" {
			return "-", "-"
		}
		return "-", raw
	}
	if d.Sign() < 0 {
		side = "SELL"
	} else {
		side = "BUY"
	}
	return side, d.Round(6).String()
}

func deriveOrderType(h HoldingRow) string {
	if h.Status != "" {
		return h.Status
	}
	if h.ExitDate != "" {
		return "Exit"
	}
	if h.FillDate != "" {
		return "Filled"
	}
	return "Market"
}

func orPlaceholder(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
