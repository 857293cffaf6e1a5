/*
csv.go - Report CSV encoder

PURPOSE:
  Encodes report rows to the fixed 9-column CSV the desk expects. Every
  field is quoted regardless of content, with internal quotes doubled
  (RFC-4180 quoting with an always-quote policy). encoding/csv quotes only
  when necessary, so the quoting is done here instead.

FORMAT:
  Header row, then one line per row in input order, joined with "\n".
*/
package orderbook

import (
	"strconv"
	"strings"
)

var csvHeader = []string{
	"Line",
	"Instrument Name",
	"Ticker",
	"ISIN",
	"Side",
	"Total Quantity",
	"Order Type",
	"Settlement Account",
	"Broker Ref",
}

// EncodeCSV renders rows as CSV text. An empty row set still produces the
// header line.
func EncodeCSV(rows []ReportRow) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, encodeLine(csvHeader))

	for _, row := range rows {
		lines = append(lines, encodeLine([]string{
			strconv.Itoa(row.Line),
			row.InstrumentName,
			row.Ticker,
			row.ISIN,
			row.Side,
			row.TotalQuantity,
			row.OrderType,
			row.SettlementAccount,
			row.BrokerRef,
		}))
	}

	return strings.Join(lines, "\n")
}

func encodeLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}
