package store

import (
	"context"
	"errors"

	"tallybill/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidAction = errors.New("invalid action")
)

// Repository is the backend's sheet-equivalent storage: an inventory table
// addressed by row index and an append-only bill history.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// AddProduct stores p under a newly assigned row index and returns it.
	AddProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, row domain.RowID) error

	ListBills(ctx context.Context) ([]domain.Bill, error)
	// ConfirmBill appends the bill and decrements stock for each line, never
	// below zero.
	ConfirmBill(ctx context.Context, draft domain.BillDraft) error
	// DeleteBill puts back the stock the bill's sale removed and removes the
	// bill.
	DeleteBill(ctx context.Context, billNo string) error

	RequestSeen(ctx context.Context, requestID string) (bool, error)
	RecordRequest(ctx context.Context, requestID string, action domain.ActionName) error
}

// MatchesRow reports whether p is the product a client addresses as row.
// Clients that added a product offline keep using its temporary marker,
// which the backend stores as the product id.
func MatchesRow(p domain.Product, row domain.RowID) bool {
	if row == "" {
		return false
	}
	if p.RowIndex == row {
		return true
	}
	return p.ID != "" && p.ID == string(row)
}

// StockDelta is the whole-unit stock change a line asks for. Quantities are
// rounded half away from zero, so 0.4 moves nothing and 1.5 moves 2.
func StockDelta(line domain.LineItem) int {
	n := line.Qty.Round(0).IntPart()
	if n < 0 {
		return 0
	}
	return int(n)
}

// RestoreDelta is what deleting a bill puts back for line i: the amount the
// sale actually removed when that was recorded, else the line's StockDelta.
func RestoreDelta(line domain.LineItem, taken []int, i int) int {
	if len(taken) > 0 && i < len(taken) {
		return taken[i]
	}
	return StockDelta(line)
}
