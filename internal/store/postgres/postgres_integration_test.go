package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"tallybill/internal/domain"
	"tallybill/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TALLYBILL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TALLYBILL_TEST_DATABASE_URL to run postgres integration test")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestDeleteBillRestocksInventory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	marker := domain.RowID(fmt.Sprintf("tmp-it-%d", stamp))
	billNo := fmt.Sprintf("INV-IT-%d", stamp)

	added, err := s.AddProduct(ctx, domain.Product{
		RowIndex: marker,
		Item:     "Batten",
		Brand:    "Wipro",
		Stock:    10,
		Price1:   domain.NewAmountFromInt(320),
		Unit1:    "pc",
	})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE bill_no = $1`, billNo)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE client_id = $1`, string(marker))
	})
	if added.ID != string(marker) || added.IsTemporary() {
		t.Fatalf("expected server row with client id kept, got %+v", added)
	}

	line := domain.LineItem{RowIndex: marker, Item: "Batten Wipro", Qty: domain.NewAmountFromInt(3), Unit: "pc", Price: domain.NewAmountFromInt(320)}
	draft, err := domain.NewBillDraft(billNo, "16/10/2026", "Ramesh", "9800000000", []domain.LineItem{line})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if err := s.ConfirmBill(ctx, draft); err != nil {
		t.Fatalf("confirm bill: %v", err)
	}
	if err := s.ConfirmBill(ctx, draft); !errors.Is(err, store.ErrInvalidAction) {
		t.Fatalf("expected duplicate bill to be rejected, got %v", err)
	}
	if got := stockOf(t, s, marker); got != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", got)
	}

	bills, err := s.ListBills(ctx)
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if len(bills) == 0 || bills[0].BillNo != billNo || len(bills[0].Items) != 1 {
		t.Fatalf("expected newest bill first with its lines, got %+v", bills)
	}
	if !bills[0].Amount.Equal(domain.NewAmountFromInt(960)) {
		t.Fatalf("expected amount 960, got %s", bills[0].Amount)
	}

	if err := s.DeleteBill(ctx, billNo); err != nil {
		t.Fatalf("delete bill: %v", err)
	}
	if got := stockOf(t, s, marker); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
	if err := s.DeleteBill(ctx, billNo); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestDeleteOversoldBillRestoresOnlyWhatWasTaken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	marker := domain.RowID(fmt.Sprintf("tmp-over-%d", stamp))
	billNo := fmt.Sprintf("INV-OVER-%d", stamp)

	if _, err := s.AddProduct(ctx, domain.Product{RowIndex: marker, Item: "Fuse", Stock: 1, Price1: domain.NewAmountFromInt(15)}); err != nil {
		t.Fatalf("add product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE bill_no = $1`, billNo)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE client_id = $1`, string(marker))
	})

	line := domain.LineItem{RowIndex: marker, Item: "Fuse", Qty: domain.NewAmountFromInt(5), Price: domain.NewAmountFromInt(15)}
	draft, err := domain.NewBillDraft(billNo, "16/10/2026", "Anil", "", []domain.LineItem{line})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if err := s.ConfirmBill(ctx, draft); err != nil {
		t.Fatalf("confirm bill: %v", err)
	}
	if got := stockOf(t, s, marker); got != 0 {
		t.Fatalf("expected stock clamped at 0, got %d", got)
	}
	if err := s.DeleteBill(ctx, billNo); err != nil {
		t.Fatalf("delete bill: %v", err)
	}
	if got := stockOf(t, s, marker); got != 1 {
		t.Fatalf("expected stock back at 1, got %d", got)
	}
}

func TestRequestLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := fmt.Sprintf("req-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM applied_requests WHERE request_id = $1`, id)
	})

	seen, err := s.RequestSeen(ctx, id)
	if err != nil || seen {
		t.Fatalf("expected unseen request, got %v / %v", seen, err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordRequest(ctx, id, domain.ActionDeleteBill); err != nil {
			t.Fatalf("record request: %v", err)
		}
	}
	if seen, err := s.RequestSeen(ctx, id); err != nil || !seen {
		t.Fatalf("expected recorded request, got %v / %v", seen, err)
	}
}

func stockOf(t *testing.T, s *Store, row domain.RowID) domain.Count {
	t.Helper()
	products, err := s.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if store.MatchesRow(p, row) {
			return p.Stock
		}
	}
	t.Fatalf("product %s not found", row)
	return 0
}
