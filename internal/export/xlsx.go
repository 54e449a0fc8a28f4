package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"salesrecord/internal/core"
)

// SheetName is the worksheet name used for a year's export.
func SheetName(year int) string {
	return fmt.Sprintf("Sales %d", year)
}

// WriteXLSX writes records as a single-sheet workbook: bold header, one row
// per record, then a Total row for invoice, paid and balance.
func WriteXLSX(w io.Writer, year int, records []core.SalesRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(year)
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	amountFmt := "#,##0.00"
	amount, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFmt})
	if err != nil {
		return fmt.Errorf("create amount style: %w", err)
	}
	totalFmt := amountFmt
	total, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &totalFmt})
	if err != nil {
		return fmt.Errorf("create total style: %w", err)
	}

	for i, h := range Header {
		if err := setCell(f, sheet, i+1, 1, h, 0); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, "A1", cellName(len(Header), 1), bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	row := 2
	for _, cells := range Rows(records) {
		for col, c := range cells {
			var v any = c.Text
			style := 0
			if c.Kind == KindAmount {
				v = c.Amount.InexactFloat64()
				style = amount
			}
			if err := setCell(f, sheet, col+1, row, v, style); err != nil {
				return err
			}
		}
		row++
	}

	sum := core.Summarize(records)
	totals := map[int]any{
		1:  "Total",
		4:  sum.TotalInvoice.InexactFloat64(),
		5:  sum.TotalPaid.InexactFloat64(),
		11: sum.TotalBalance.InexactFloat64(),
	}
	for col, v := range totals {
		if err := setCell(f, sheet, col, row, v, total); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 12); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheet, "B", "C", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheet, "D", "K", 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func setCell(f *excelize.File, sheet string, col, row int, v any, style int) error {
	cell := cellName(col, row)
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		return fmt.Errorf("set %s: %w", cell, err)
	}
	if style != 0 {
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("style %s: %w", cell, err)
		}
	}
	return nil
}
