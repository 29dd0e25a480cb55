// Package export renders reports as CSV or XLSX and reads spreadsheets back
// for imports.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"millops/internal/catalog"
	"millops/internal/database"
	"millops/internal/inventory"
	"millops/internal/ledger"
	"millops/internal/parties"
)

// Formats.
const (
	CSV  = "csv"
	XLSX = "xlsx"
)

// Table is one exportable sheet. Numeric marks columns written as numbers
// in XLSX output.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
	Numeric map[int]bool
}

// Filename returns the download name for t in format.
func (t Table) Filename(format string) string {
	return strings.ToLower(strings.ReplaceAll(t.Name, " ", "_")) + "." + format
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	if format == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Write renders t in format (csv when empty).
func Write(w io.Writer, format string, t Table) error {
	switch format {
	case "", CSV:
		return WriteCSV(w, t)
	case XLSX:
		return WriteXLSX(w, t)
	}
	return fmt.Errorf("unknown export format %q", format)
}

func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// WriteXLSX writes t as a single-sheet workbook with a bold, shaded header
// row.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Name
	if sheet == "" {
		sheet = "Sheet1"
	}
	if len(sheet) > 31 {
		sheet = sheet[:31]
	}
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, h := range t.Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	if len(t.Headers) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(t.Headers), 1)
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return err
		}
		lastCol, _ := excelize.ColumnNumberToName(len(t.Headers))
		if err := f.SetColWidth(sheet, "A", lastCol, 16); err != nil {
			return err
		}
	}

	for r, row := range t.Rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			var value any = v
			if t.Numeric[c] {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					value = n
				}
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

// ReadXLSX returns the rows of the first sheet of a workbook.
func ReadXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// ReadCSV returns every record of a CSV file. Ragged rows are allowed.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

// Read dispatches on format.
func Read(r io.Reader, format string) ([][]string, error) {
	if format == XLSX {
		return ReadXLSX(r)
	}
	return ReadCSV(r)
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func numeric(cols ...int) map[int]bool {
	m := make(map[int]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// Customers exports every customer.
func Customers(ctx context.Context, q database.DBTX, status string) (Table, error) {
	list, _, err := parties.ListCustomers(ctx, q, parties.ListFilter{Status: status})
	if err != nil {
		return Table{}, err
	}
	t := Table{
		Name:    "Customers",
		Headers: []string{"ID", "Name", "Contact", "Email", "Phone", "Address", "Tax Number", "Price Tier", "Credit Limit", "Terms Days", "Status"},
		Rows:    [][]string{},
		Numeric: numeric(8, 9),
	}
	for _, c := range list {
		t.Rows = append(t.Rows, []string{c.ID, c.Name, c.ContactName, c.Email, c.Phone, c.Address, c.TaxNumber,
			c.PriceTier, c.CreditLimit.StringFixed(2), strconv.Itoa(c.PaymentTermsDays), c.Status})
	}
	return t, nil
}

// Suppliers exports every supplier.
func Suppliers(ctx context.Context, q database.DBTX, status string) (Table, error) {
	list, _, err := parties.ListSuppliers(ctx, q, parties.ListFilter{Status: status})
	if err != nil {
		return Table{}, err
	}
	t := Table{
		Name:    "Suppliers",
		Headers: []string{"ID", "Name", "Contact", "Email", "Phone", "Address", "Tax Number", "Terms Days", "Status"},
		Rows:    [][]string{},
		Numeric: numeric(7),
	}
	for _, s := range list {
		t.Rows = append(t.Rows, []string{s.ID, s.Name, s.ContactName, s.Email, s.Phone, s.Address, s.TaxNumber,
			strconv.Itoa(s.PaymentTermsDays), s.Status})
	}
	return t, nil
}

// Products exports the catalog in the column layout ImportProducts reads, so
// an exported sheet can be edited and imported again.
func Products(ctx context.Context, q database.DBTX) (Table, error) {
	list, _, err := catalog.ListProducts(ctx, q, catalog.ProductFilter{})
	if err != nil {
		return Table{}, err
	}
	cats, err := catalog.CategoryNames(ctx, q)
	if err != nil {
		return Table{}, err
	}
	rows := catalog.ProductRows(list, cats)
	return Table{Name: "Products", Headers: rows[0], Rows: rows[1:], Numeric: numeric(4, 5, 6, 7, 8)}, nil
}

// Stock exports stock levels, optionally for one location.
func Stock(ctx context.Context, q database.DBTX, location string) (Table, error) {
	list, err := inventory.ListStock(ctx, q, location, "")
	if err != nil {
		return Table{}, err
	}
	t := Table{
		Name:    "Stock",
		Headers: []string{"Product", "SKU", "Name", "Location", "Qty", "Reorder Point", "Average Cost", "Value"},
		Rows:    [][]string{},
		Numeric: numeric(4, 5, 6, 7),
	}
	for _, s := range list {
		value := s.AverageCost.Mul(decimal.NewFromFloat(s.Qty))
		t.Rows = append(t.Rows, []string{s.ProductID, s.SKU, s.Name, s.Location, num(s.Qty), num(s.ReorderPoint),
			s.AverageCost.StringFixed(4), value.StringFixed(2)})
	}
	return t, nil
}

// TrialBalance exports the trial balance as of asOf with a totals row.
func TrialBalance(ctx context.Context, db *sql.DB, asOf string) (Table, error) {
	tb, err := ledger.TrialBalance(ctx, db, asOf)
	if err != nil {
		return Table{}, err
	}
	t := Table{
		Name:    "Trial Balance",
		Headers: []string{"Account", "Name", "Type", "Debit", "Credit"},
		Rows:    [][]string{},
		Numeric: numeric(3, 4),
	}
	for _, r := range tb.Rows {
		t.Rows = append(t.Rows, []string{r.AccountCode, r.AccountName, r.Type, r.Debit.StringFixed(2), r.Credit.StringFixed(2)})
	}
	t.Rows = append(t.Rows, []string{"", "Total", "", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2)})
	return t, nil
}

// AccountLedger exports one account's lines with running balance, framed by
// opening and closing rows.
func AccountLedger(ctx context.Context, q database.DBTX, code, from, to, party string) (Table, error) {
	al, err := ledger.AccountLedger(ctx, q, code, from, to, party)
	if err != nil {
		return Table{}, err
	}
	t := Table{
		Name:    "Ledger " + al.Account.Code,
		Headers: []string{"Date", "Entry", "Source", "Party", "Description", "Debit", "Credit", "Balance"},
		Rows:    [][]string{{al.From, "", "", "", "Opening balance", "", "", al.OpeningBalance.StringFixed(2)}},
		Numeric: numeric(5, 6, 7),
	}
	for _, l := range al.Lines {
		desc := l.Description
		if desc == "" {
			desc = l.Memo
		}
		t.Rows = append(t.Rows, []string{l.EntryDate, l.EntryID, l.Source, l.PartyID, desc,
			l.Debit.StringFixed(2), l.Credit.StringFixed(2), l.Balance.StringFixed(2)})
	}
	t.Rows = append(t.Rows, []string{al.To, "", "", "", "Closing balance", "", "", al.ClosingBalance.StringFixed(2)})
	return t, nil
}
