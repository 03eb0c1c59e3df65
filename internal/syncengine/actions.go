package syncengine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"tallybill/internal/domain"
	"tallybill/internal/localstore"
	"tallybill/internal/xid"
)

// ConfirmFunc asks the user to approve deleting a bill.
type ConfirmFunc func(billNo string) bool

// AddProduct shows p in the inventory at once and queues it for the remote.
// A product without an identifier gets a temporary marker, which the next
// snapshot replaces with the server's row index.
func (e *Engine) AddProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.Stock < 0 {
		p.Stock = 0
	}
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	if p.RowIndex == "" {
		marker := domain.RowID(xid.New("tmp"))
		p.RowIndex = marker
		if p.ID == "" {
			p.ID = string(marker)
		}
	}
	e.mutate(ctx, domain.AddProduct{Product: p})
	return p, nil
}

func (e *Engine) UpdateProduct(ctx context.Context, p domain.Product) error {
	if p.RowIndex == "" {
		return fmt.Errorf("%w: row index required", domain.ErrInvalidProduct)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	e.mutate(ctx, domain.UpdateProduct{Product: p})
	return nil
}

func (e *Engine) DeleteProduct(ctx context.Context, row domain.RowID) error {
	if row == "" {
		return fmt.Errorf("%w: row index required", domain.ErrInvalidProduct)
	}
	e.mutate(ctx, domain.DeleteProduct{RowIndex: row})
	return nil
}

// DeleteBill removes a bill from history once confirm approves it. The remote
// restores the bill's stock when the action replays.
func (e *Engine) DeleteBill(ctx context.Context, billNo string, confirm ConfirmFunc) error {
	billNo = strings.TrimSpace(billNo)
	if billNo == "" {
		return fmt.Errorf("%w: bill number required", domain.ErrInvalidBill)
	}
	if confirm == nil || !confirm(billNo) {
		return ErrNotConfirmed
	}
	e.mutate(ctx, domain.DeleteBill{BillID: billNo})
	return nil
}

// SaveBill puts the bill at the top of history and queues it; the remote
// decrements stock when it applies it. Line amounts and the total are
// recomputed from quantities and prices.
func (e *Engine) SaveBill(ctx context.Context, draft domain.BillDraft) (domain.BillDraft, error) {
	draft, err := domain.NewBillDraft(draft.BillID, draft.Date, draft.CustomerName, draft.Mobile, draft.Items)
	if err != nil {
		return domain.BillDraft{}, err
	}
	e.mutate(ctx, domain.ConfirmBill{BillDraft: draft})
	return draft, nil
}

func (e *Engine) ConfirmBill(ctx context.Context, draft domain.BillDraft) (domain.BillDraft, error) {
	return e.SaveBill(ctx, draft)
}

// RefreshData pulls fresh snapshots without raising the loading indicator.
func (e *Engine) RefreshData(ctx context.Context) error {
	return e.Refresh(ctx, true)
}

func (e *Engine) mutate(ctx context.Context, a domain.Action) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	e.mu.Lock()
	e.inventory, e.bills = applyLocal(e.inventory, e.bills, a)
	inventory, bills := e.inventory, e.bills
	e.mu.Unlock()

	switch a.(type) {
	case domain.DeleteBill, domain.ConfirmBill:
		e.persist(ctx, localstore.KeyBills, nonNil(bills))
	default:
		e.persist(ctx, localstore.KeyInventory, nonNil(inventory))
	}

	item := e.queue.Enqueue(ctx, a)
	log.Printf("[syncengine] %s applied locally as #%d", a.Name(), item.ID)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (e *Engine) SearchInventory(term string) []domain.Product {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Product
	for _, p := range e.inventory {
		if domain.MatchesProduct(p, term) {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) SearchBills(term string) []domain.Bill {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Bill
	for _, b := range e.bills {
		if domain.MatchesBill(b, term) {
			out = append(out, b)
		}
	}
	return out
}

// Bill looks up a bill in history, e.g. to reprint it.
func (e *Engine) Bill(billNo string) (domain.Bill, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.bills {
		if b.BillNo == billNo {
			return b, true
		}
	}
	return domain.Bill{}, false
}

// NextBillNo proposes a bill number not already present in history.
func (e *Engine) NextBillNo() string {
	now := e.opts.Now()
	for i := 0; i < 20; i++ {
		candidate := xid.BillNo(now)
		if _, taken := e.Bill(candidate); !taken {
			return candidate
		}
	}
	return xid.New("INV")
}
