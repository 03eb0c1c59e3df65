// Package spreadsheet moves inventory and bill history in and out of xlsx
// workbooks laid out like the billing sheet.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/xuri/excelize/v2"

	"tallybill/internal/domain"
)

const (
	SheetInventory = "Inventory"
	SheetBills     = "Bills"
	SheetLines     = "BillLines"
)

var ErrNoItemColumn = errors.New("no item column in header row")

var inventoryHeader = []string{
	"Item", "Brand", "Model", "Size", "Color", "Stock",
	"Price1", "Unit1", "Price2", "Unit2", "PurchasePrice", "PurchaseUnit", "Party",
}

// columnAliases lists the normalized header texts accepted for each column.
var columnAliases = map[string][]string{
	"item":          {"item", "name", "product", "itemname"},
	"brand":         {"brand", "company"},
	"model":         {"model"},
	"size":          {"size"},
	"color":         {"color", "colour"},
	"stock":         {"stock", "qty", "quantity"},
	"price1":        {"price1", "price", "rate", "mrp"},
	"unit1":         {"unit1", "unit"},
	"price2":        {"price2", "rate2"},
	"unit2":         {"unit2"},
	"purchasePrice": {"purchaseprice", "cost"},
	"purchaseUnit":  {"purchaseunit"},
	"party":         {"party", "supplier", "vendor"},
}

var headerAliases = func() map[string]string {
	out := make(map[string]string)
	for column, aliases := range columnAliases {
		for _, alias := range aliases {
			out[alias] = column
		}
	}
	return out
}()

func ImportProductsFile(path string) ([]domain.Product, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer f.Close()
	return readProducts(f)
}

// ImportProducts reads the first sheet of the workbook in r. Row 1 is the
// header; rows without an item name are skipped.
func ImportProducts(r io.Reader) ([]domain.Product, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel: %w", err)
	}
	defer f.Close()
	return readProducts(f)
}

func readProducts(f *excelize.File) ([]domain.Product, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	columns := mapColumns(rows[0])
	if _, ok := columns["item"]; !ok {
		return nil, ErrNoItemColumn
	}

	products := make([]domain.Product, 0, len(rows)-1)
	for i, row := range rows[1:] {
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		p := domain.Product{
			Item:         cell("item"),
			Brand:        cell("brand"),
			Model:        cell("model"),
			Size:         cell("size"),
			Color:        cell("color"),
			Unit1:        cell("unit1"),
			Unit2:        cell("unit2"),
			PurchaseUnit: cell("purchaseUnit"),
			Party:        cell("party"),
		}
		if p.Item == "" {
			continue
		}

		var parseErr error
		amount := func(name string) domain.Amount {
			a, err := domain.ParseAmount(strings.ReplaceAll(cell(name), ",", ""))
			if err != nil && parseErr == nil {
				parseErr = err
			}
			return a
		}
		stock := amount("stock")
		p.Price1 = amount("price1")
		p.Price2 = amount("price2")
		p.PurchasePrice = amount("purchasePrice")
		if stock.IsPositive() {
			p.Stock = domain.Count(stock.IntPart())
		}

		if parseErr == nil {
			parseErr = p.Validate()
		}
		if parseErr != nil {
			log.Printf("[spreadsheet] WARN: skipping row %d: %v", i+2, parseErr)
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func mapColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, raw := range header {
		key := strings.Map(func(r rune) rune {
			if r == ' ' || r == '_' || r == '-' || r == '.' {
				return -1
			}
			return r
		}, strings.ToLower(strings.TrimSpace(raw)))
		if name, ok := headerAliases[key]; ok {
			if _, taken := columns[name]; !taken {
				columns[name] = i
			}
		}
	}
	return columns
}

// ExportInventory writes products in sheet order to a single-sheet workbook.
func ExportInventory(w io.Writer, products []domain.Product) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetInventory); err != nil {
		return err
	}
	if err := writeRow(f, SheetInventory, 1, toRow(inventoryHeader)); err != nil {
		return err
	}
	for i, p := range products {
		row := []any{
			p.Item, p.Brand, p.Model, p.Size, p.Color, int(p.Stock),
			p.Price1.InexactFloat64(), p.Unit1, p.Price2.InexactFloat64(), p.Unit2,
			p.PurchasePrice.InexactFloat64(), p.PurchaseUnit, p.Party,
		}
		if err := writeRow(f, SheetInventory, i+2, row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// ExportBills writes one row per bill plus a second sheet with every line.
func ExportBills(w io.Writer, bills []domain.Bill) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetBills); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetLines); err != nil {
		return err
	}

	if err := writeRow(f, SheetBills, 1, toRow([]string{"BillNo", "Date", "Customer", "Mobile", "Amount", "Lines"})); err != nil {
		return err
	}
	if err := writeRow(f, SheetLines, 1, toRow([]string{"BillNo", "Item", "Qty", "Unit", "Price", "Amount"})); err != nil {
		return err
	}

	lineRow := 2
	for i, b := range bills {
		row := []any{b.BillNo, b.Date, b.CustomerName, b.Mobile, b.Amount.InexactFloat64(), len(b.Items)}
		if err := writeRow(f, SheetBills, i+2, row); err != nil {
			return err
		}
		for _, line := range b.Items {
			row := []any{b.BillNo, line.Item, line.Qty.InexactFloat64(), line.Unit, line.Price.InexactFloat64(), line.Amount.InexactFloat64()}
			if err := writeRow(f, SheetLines, lineRow, row); err != nil {
				return err
			}
			lineRow++
		}
	}
	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
