package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidProduct = errors.New("invalid product")
	ErrInvalidBill    = errors.New("invalid bill")
	ErrUnknownAction  = errors.New("unknown action")
)

type Product struct {
	RowIndex      RowID  `json:"realRowIndex"`
	ID            string `json:"id,omitempty"`
	Item          string `json:"item"`
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	Size          string `json:"size"`
	Color         string `json:"color"`
	Stock         Count  `json:"stock"`
	Price1        Amount `json:"price1"`
	Unit1         string `json:"unit1"`
	Price2        Amount `json:"price2"`
	Unit2         string `json:"unit2"`
	PurchasePrice Amount `json:"purchasePrice"`
	PurchaseUnit  string `json:"purchaseUnit"`
	Party         string `json:"party"`
}

type productWire struct {
	RowIndex      RowID  `json:"realRowIndex"`
	ID            Cell   `json:"id"`
	Item          Cell   `json:"item"`
	Brand         Cell   `json:"brand"`
	Model         Cell   `json:"model"`
	Size          Cell   `json:"size"`
	Color         Cell   `json:"color"`
	Stock         Count  `json:"stock"`
	Price1        Amount `json:"price1"`
	Unit1         Cell   `json:"unit1"`
	Price2        Amount `json:"price2"`
	Unit2         Cell   `json:"unit2"`
	PurchasePrice Amount `json:"purchasePrice"`
	PurchaseUnit  Cell   `json:"purchaseUnit"`
	Party         Cell   `json:"party"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var w productWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}
	*p = Product{
		RowIndex:      w.RowIndex,
		ID:            string(w.ID),
		Item:          string(w.Item),
		Brand:         string(w.Brand),
		Model:         string(w.Model),
		Size:          string(w.Size),
		Color:         string(w.Color),
		Stock:         w.Stock,
		Price1:        w.Price1,
		Unit1:         string(w.Unit1),
		Price2:        w.Price2,
		Unit2:         string(w.Unit2),
		PurchasePrice: w.PurchasePrice,
		PurchaseUnit:  string(w.PurchaseUnit),
		Party:         string(w.Party),
	}
	return nil
}

// DisplayName joins the descriptive columns the way the billing screen shows
// them: "Bulb Philips 9W LED White".
func (p Product) DisplayName() string {
	parts := make([]string, 0, 5)
	for _, part := range []string{p.Item, p.Brand, p.Size, p.Model, p.Color} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

func (p Product) IsTemporary() bool {
	return p.RowIndex.IsTemporary()
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.Item) == "" {
		return fmt.Errorf("%w: item name required", ErrInvalidProduct)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	if p.Price1.IsNegative() || p.Price2.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	return nil
}

// PriceFor returns the rate configured for unit, falling back to price1.
func (p Product) PriceFor(unit string) Amount {
	if unit != "" && unit == p.Unit2 && p.Unit2 != p.Unit1 {
		return p.Price2
	}
	return p.Price1
}

type LineItem struct {
	RowIndex RowID  `json:"realRowIndex"`
	Item     string `json:"item"`
	Qty      Amount `json:"qty"`
	Unit     string `json:"unit"`
	Price    Amount `json:"price"`
	Amount   Amount `json:"amount"`
}

// LineFor starts a line for product with quantity 1 in the product's first unit.
func LineFor(p Product) LineItem {
	line := LineItem{
		RowIndex: p.RowIndex,
		Item:     p.DisplayName(),
		Qty:      NewAmountFromInt(1),
		Unit:     p.Unit1,
		Price:    p.Price1,
	}
	return line.Recompute()
}

// WithUnit switches the line to unit and picks the matching rate from p.
func (l LineItem) WithUnit(p Product, unit string) LineItem {
	l.Unit = unit
	l.Price = p.PriceFor(unit)
	return l.Recompute()
}

func (l LineItem) Recompute() LineItem {
	l.Amount = l.Qty.Mul(l.Price)
	return l
}

// LineItems is stored on the bill-history sheet as a JSON string cell, while
// a confirmBill body carries a plain array. Both forms decode.
type LineItems []LineItem

func (items LineItems) MarshalJSON() ([]byte, error) {
	if items == nil {
		items = LineItems{}
	}
	raw, err := json.Marshal([]LineItem(items))
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(raw))
}

func (items *LineItems) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			*items = nil
			return nil
		}
		data = []byte(text)
	}
	var out []LineItem
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode bill items: %w", err)
	}
	*items = out
	return nil
}

// Bill is one row of bill history as the remote returns it.
type Bill struct {
	BillNo       string    `json:"billNo"`
	Date         string    `json:"date"`
	CustomerName string    `json:"customerName"`
	Mobile       string    `json:"mobile"`
	Amount       Amount    `json:"amount"`
	Items        LineItems `json:"items"`
}

type billWire struct {
	BillNo       Cell      `json:"billNo"`
	Date         Cell      `json:"date"`
	CustomerName Cell      `json:"customerName"`
	Mobile       Cell      `json:"mobile"`
	Amount       Amount    `json:"amount"`
	Items        LineItems `json:"items"`
}

func (b *Bill) UnmarshalJSON(data []byte) error {
	var w billWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode bill: %w", err)
	}
	*b = Bill{
		BillNo:       string(w.BillNo),
		Date:         string(w.Date),
		CustomerName: string(w.CustomerName),
		Mobile:       string(w.Mobile),
		Amount:       w.Amount,
		Items:        w.Items,
	}
	return nil
}

// BillDraft is the confirmBill body: a complete bill the remote can persist
// and use to decrement stock.
type BillDraft struct {
	BillID       string     `json:"billId"`
	Date         string     `json:"date"`
	CustomerName string     `json:"customerName"`
	Mobile       string     `json:"mobile"`
	Total        Amount     `json:"total"`
	Items        []LineItem `json:"items"`
}

// NewBillDraft validates the header, drops empty rows and recomputes every
// line amount and the total.
func NewBillDraft(billID, date, customerName, mobile string, items []LineItem) (BillDraft, error) {
	draft := BillDraft{
		BillID:       strings.TrimSpace(billID),
		Date:         strings.TrimSpace(date),
		CustomerName: strings.TrimSpace(customerName),
		Mobile:       strings.TrimSpace(mobile),
	}
	if draft.BillID == "" {
		return BillDraft{}, fmt.Errorf("%w: bill number required", ErrInvalidBill)
	}
	if draft.CustomerName == "" {
		return BillDraft{}, fmt.Errorf("%w: customer name required", ErrInvalidBill)
	}
	for _, item := range items {
		if strings.TrimSpace(item.Item) == "" || !item.Qty.IsPositive() {
			continue
		}
		draft.Items = append(draft.Items, item.Recompute())
	}
	if len(draft.Items) == 0 {
		return BillDraft{}, fmt.Errorf("%w: cart is empty", ErrInvalidBill)
	}
	draft.Total = TotalOf(draft.Items)
	return draft, nil
}

func TotalOf(items []LineItem) Amount {
	total := Amount{}
	for _, item := range items {
		total = total.Add(item.Qty.Mul(item.Price))
	}
	return total
}

// HistoryEntry is the shape appended to bill history when the draft is saved.
func (d BillDraft) HistoryEntry() Bill {
	return Bill{
		BillNo:       d.BillID,
		Date:         d.Date,
		CustomerName: d.CustomerName,
		Mobile:       d.Mobile,
		Amount:       d.Total,
		Items:        append(LineItems(nil), d.Items...),
	}
}

// MatchesProduct reports whether term matches the product's display name or
// brand, case-insensitively.
func MatchesProduct(p Product, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.DisplayName()), term) ||
		strings.Contains(strings.ToLower(p.Brand), term)
}

func MatchesBill(b Bill, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.CustomerName), term) ||
		strings.Contains(strings.ToLower(b.BillNo), term) ||
		strings.Contains(b.Mobile, term)
}
