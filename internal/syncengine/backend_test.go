package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tallybill/internal/cache"
	"tallybill/internal/domain"
	"tallybill/internal/httpapi"
	"tallybill/internal/localstore"
	"tallybill/internal/remote"
	"tallybill/internal/service"
	"tallybill/internal/store"
	"tallybill/internal/store/memory"
)

// dropFirstAck applies the first POST on the backend but answers 502, the
// way a response lost on a flaky link looks to the client.
type dropFirstAck struct {
	next http.Handler

	mu      sync.Mutex
	dropped bool
	posts   int
}

func (d *dropFirstAck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		d.next.ServeHTTP(w, r)
		return
	}
	d.mu.Lock()
	d.posts++
	drop := !d.dropped
	d.dropped = true
	d.mu.Unlock()

	if drop {
		d.next.ServeHTTP(httptest.NewRecorder(), r)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	d.next.ServeHTTP(w, r)
}

type backend struct {
	repo   *memory.Store
	client *remote.Client
}

func startBackend(t *testing.T, wrap func(http.Handler) http.Handler) backend {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSnapshotCache{}, time.Second)
	handler := httpapi.New(svc, "*").Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return backend{
		repo:   repo,
		client: remote.NewClient(srv.URL+"/exec", remote.WithHTTPClient(srv.Client())),
	}
}

func (b backend) product(t *testing.T, row domain.RowID) (domain.Product, bool) {
	t.Helper()
	products, err := b.repo.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if store.MatchesRow(p, row) {
			return p, true
		}
	}
	return domain.Product{}, false
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.WaitIdle(ctx); err != nil {
		t.Fatalf("engine did not settle: %v", err)
	}
}

func TestOfflineSaleThenDeleteLeavesBackendStockUnchanged(t *testing.T) {
	b := startBackend(t, nil)
	ctx := context.Background()
	e := New(localstore.NewMemory(), b.client, Options{Online: true, RetryBaseDelay: time.Minute})
	t.Cleanup(e.Close)

	e.Start(ctx)
	waitIdle(t, e)
	inv := e.Inventory()
	if len(inv) != 6 {
		t.Fatalf("expected seeded snapshot, got %d products", len(inv))
	}
	first := inv[0]

	e.SetOnline(false)
	line := domain.LineFor(first)
	line.Qty = domain.NewAmountFromInt(5)
	draft, err := domain.NewBillDraft("INV-9001", "16/10/2026", "Lakshmi", "", []domain.LineItem{line})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if _, err := e.SaveBill(ctx, draft); err != nil {
		t.Fatalf("save bill: %v", err)
	}
	if err := e.DeleteBill(ctx, "INV-9001", func(string) bool { return true }); err != nil {
		t.Fatalf("delete bill: %v", err)
	}
	if len(e.Queue()) != 2 {
		t.Fatalf("expected both actions queued while offline, got %d", len(e.Queue()))
	}

	e.SetOnline(true)
	waitFor(t, "queue drained", func() bool { return len(e.Queue()) == 0 })
	waitIdle(t, e)

	server, ok := b.product(t, first.RowIndex)
	if !ok || server.Stock != first.Stock {
		t.Fatalf("expected backend stock %d after sale and delete, got %+v", first.Stock, server)
	}
	if bills, _ := b.repo.ListBills(ctx); len(bills) != 0 {
		t.Fatalf("expected no bills on the backend, got %+v", bills)
	}
	if got := e.Bills(); len(got) != 0 {
		t.Fatalf("expected local history empty after reconcile, got %+v", got)
	}
}

func TestLostAcknowledgementIsNotAppliedTwice(t *testing.T) {
	proxy := &dropFirstAck{}
	b := startBackend(t, func(next http.Handler) http.Handler {
		proxy.next = next
		return proxy
	})
	ctx := context.Background()
	e := New(localstore.NewMemory(), b.client, Options{
		Online:         true,
		RetryBaseDelay: 20 * time.Millisecond,
		RetryMaxDelay:  40 * time.Millisecond,
	})
	t.Cleanup(e.Close)

	e.Start(ctx)
	waitIdle(t, e)

	added, err := e.AddProduct(ctx, domain.Product{Item: "Bell Push", Stock: 12, Price1: domain.NewAmountFromInt(45), Unit1: "pc"})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}

	waitFor(t, "retry to clear the queue", func() bool {
		if len(e.Queue()) != 0 {
			return false
		}
		for _, p := range e.Inventory() {
			if p.IsTemporary() {
				return false
			}
		}
		return true
	})
	waitIdle(t, e)

	products, _ := b.repo.ListProducts(ctx)
	if len(products) != 7 {
		t.Fatalf("expected exactly one product added on the backend, got %d", len(products))
	}
	if _, ok := b.product(t, added.RowIndex); !ok {
		t.Fatalf("expected backend product reachable by its client marker")
	}
	proxy.mu.Lock()
	posts := proxy.posts
	proxy.mu.Unlock()
	if posts != 2 {
		t.Fatalf("expected one retry after the lost ack, got %d posts", posts)
	}
	if len(e.Inventory()) != 7 {
		t.Fatalf("expected local inventory to match backend, got %d", len(e.Inventory()))
	}
}
