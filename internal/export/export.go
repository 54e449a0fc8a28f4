// Package export renders a list of sales records as delimited text or as an
// XLSX workbook.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"salesrecord/internal/core"
)

const (
	MediaTypeCSV  = "text/csv;charset=utf-8"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Header is the fixed column order of every export.
var Header = []string{
	"Date",
	"Client Name",
	"Location",
	"Amount on Invoice",
	"Amount Paid",
	"Carpenters Discount",
	"Marketers Discount",
	"Transport",
	"Installation",
	"Accessories",
	"Balance",
}

// Kind tells writers how to render a cell.
type Kind int

const (
	KindText Kind = iota
	KindDate
	KindAmount
)

// Cell is one exported value. Only KindText cells are quoted in delimited
// output; amounts are plain decimals. Amount holds the value of KindAmount
// cells so numeric writers never re-parse Text.
type Cell struct {
	Text   string
	Kind   Kind
	Amount decimal.Decimal
}

func amountCell(d decimal.Decimal) Cell {
	return Cell{Text: d.String(), Kind: KindAmount, Amount: d}
}

// Rows converts records to cells in Header order, keeping record order.
func Rows(records []core.SalesRecord) [][]Cell {
	rows := make([][]Cell, 0, len(records))
	for _, r := range records {
		rows = append(rows, []Cell{
			{Text: r.Date.String(), Kind: KindDate},
			{Text: r.ClientName, Kind: KindText},
			{Text: r.Location, Kind: KindText},
			amountCell(r.AmountOnInvoice),
			amountCell(r.AmountPaid),
			amountCell(r.CarpentersDiscount),
			amountCell(r.MarketersDiscount),
			amountCell(r.Transport),
			amountCell(r.Installation),
			amountCell(r.Accessories),
			amountCell(r.Balance),
		})
	}
	return rows
}

// WriteDelimited writes the header and one line per record, separated by "\n"
// with no trailing separator.
func WriteDelimited(w io.Writer, records []core.SalesRecord) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(Header, ",")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range Rows(records) {
		bw.WriteByte('\n')
		for i, c := range row {
			if i > 0 {
				bw.WriteByte(',')
			}
			if c.Kind == KindText {
				bw.WriteString(quote(c.Text))
			} else {
				bw.WriteString(c.Text)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// ToDelimitedText is WriteDelimited into a string.
func ToDelimitedText(records []core.SalesRecord) string {
	var sb strings.Builder
	_ = WriteDelimited(&sb, records)
	return sb.String()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Filename is the suggested download name, e.g. sales_2024.csv.
func Filename(year int, ext string) string {
	return fmt.Sprintf("sales_%d.%s", year, strings.TrimPrefix(ext, "."))
}
