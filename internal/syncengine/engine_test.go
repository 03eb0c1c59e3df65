package syncengine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"tallybill/internal/domain"
	"tallybill/internal/localstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUnreachable = errors.New("dial tcp: connection refused")

// fakeRemote models the backend closely enough to check reconciliation:
// added products get a numeric row index and keep their client id.
type fakeRemote struct {
	mu         sync.Mutex
	inventory  []domain.Product
	bills      []domain.Bill
	nextRow    int
	sent       []domain.ActionName
	failSends  int
	rejectAll  bool
	fetchFails bool
}

func newFakeRemote(products ...domain.Product) *fakeRemote {
	r := &fakeRemote{nextRow: 2}
	for _, p := range products {
		p.RowIndex = domain.RowID(strconv.Itoa(r.nextRow))
		r.nextRow++
		r.inventory = append(r.inventory, p)
	}
	return r
}

func (r *fakeRemote) FetchInventory(context.Context) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchFails {
		return nil, errUnreachable
	}
	return append([]domain.Product{}, r.inventory...), nil
}

func (r *fakeRemote) FetchBills(context.Context) ([]domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchFails {
		return nil, errUnreachable
	}
	return append([]domain.Bill{}, r.bills...), nil
}

func (r *fakeRemote) Send(_ context.Context, a domain.Action, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejectAll {
		return errUnreachable
	}
	if r.failSends > 0 {
		r.failSends--
		return errUnreachable
	}
	r.sent = append(r.sent, a.Name())
	if add, ok := a.(domain.AddProduct); ok {
		p := add.Product
		p.RowIndex = domain.RowID(strconv.Itoa(r.nextRow))
		r.nextRow++
		r.inventory = append(r.inventory, p)
		return nil
	}
	r.inventory, r.bills = applyLocal(r.inventory, r.bills, a)
	return nil
}

func (r *fakeRemote) set(fn func(r *fakeRemote)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *fakeRemote) sentActions() []domain.ActionName {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ActionName(nil), r.sent...)
}

func newEngine(t *testing.T, store localstore.Store, remote Gateway, online bool) *Engine {
	t.Helper()
	e := New(store, remote, Options{Online: online, RetryBaseDelay: time.Minute})
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bulb() domain.Product {
	return domain.Product{Item: "Bulb", Brand: "Philips", Stock: 10, Price1: domain.NewAmountFromInt(50), Unit1: "pc"}
}

func TestAddProductIsVisibleBeforeTheRemoteConfirms(t *testing.T) {
	store := localstore.NewMemory()
	e := newEngine(t, store, newFakeRemote(), false)

	added, err := e.AddProduct(context.Background(), bulb())
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	if !added.IsTemporary() {
		t.Fatalf("expected temporary marker, got %q", added.RowIndex)
	}

	inv := e.Inventory()
	if len(inv) != 1 || inv[0].Item != "Bulb" {
		t.Fatalf("expected optimistic product, got %+v", inv)
	}
	if q := e.Queue(); len(q) != 1 || q[0].Action.Name() != domain.ActionAddProduct {
		t.Fatalf("expected one queued addProduct, got %+v", q)
	}

	persisted, ok := localstore.LoadJSON[[]domain.Product](context.Background(), store, localstore.KeyInventory)
	if !ok || len(persisted) != 1 {
		t.Fatalf("expected inventory persisted, got %+v", persisted)
	}
}

func TestOfflineAddThenReconnect(t *testing.T) {
	remote := newFakeRemote()
	e := newEngine(t, localstore.NewMemory(), remote, false)

	if _, err := e.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if got := remote.sentActions(); len(got) != 0 {
		t.Fatalf("expected nothing sent while offline, got %v", got)
	}

	e.SetOnline(true)

	waitFor(t, "queue to drain and snapshot to land", func() bool {
		st := e.State()
		return len(st.Queue) == 0 && len(st.Inventory) == 1 && !st.Inventory[0].IsTemporary() && !st.LastSync.IsZero()
	})
	if got := remote.sentActions(); len(got) != 1 || got[0] != domain.ActionAddProduct {
		t.Fatalf("expected exactly one addProduct, got %v", got)
	}
}

func TestRefreshKeepsQueuedMutationsVisible(t *testing.T) {
	remote := newFakeRemote(domain.Product{Item: "Switch", Stock: 4})
	remote.set(func(r *fakeRemote) { r.rejectAll = true })
	e := newEngine(t, localstore.NewMemory(), remote, true)

	if _, err := e.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if err := e.Refresh(context.Background(), true); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	inv := e.Inventory()
	if len(inv) != 2 {
		t.Fatalf("expected snapshot plus queued product, got %+v", inv)
	}
	if inv[0].Item != "Switch" || inv[1].Item != "Bulb" {
		t.Fatalf("expected queued product rebased after snapshot, got %+v", inv)
	}
	if len(e.Queue()) != 1 {
		t.Fatalf("expected the action to stay queued")
	}
}

func TestRefreshWithEmptyQueueReplacesState(t *testing.T) {
	store := localstore.NewMemory()
	stale := []domain.Product{{RowIndex: "9", Item: "Old fan"}}
	if err := localstore.SaveJSON(context.Background(), store, localstore.KeyInventory, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}
	remote := newFakeRemote(domain.Product{Item: "Switch"})
	e := newEngine(t, store, remote, false)
	e.Start(context.Background())

	e.mu.Lock()
	e.online = true
	e.mu.Unlock()
	if err := e.Refresh(context.Background(), true); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	inv := e.Inventory()
	if len(inv) != 1 || inv[0].Item != "Switch" {
		t.Fatalf("expected snapshot to replace stale inventory, got %+v", inv)
	}
	persisted, _ := localstore.LoadJSON[[]domain.Product](context.Background(), store, localstore.KeyInventory)
	if len(persisted) != 1 || persisted[0].Item != "Switch" {
		t.Fatalf("expected snapshot persisted, got %+v", persisted)
	}
}

func TestRefreshFailureLeavesStateUntouched(t *testing.T) {
	remote := newFakeRemote(domain.Product{Item: "Switch"})
	e := newEngine(t, localstore.NewMemory(), remote, true)
	if err := e.Refresh(context.Background(), false); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	remote.set(func(r *fakeRemote) { r.fetchFails = true })
	if err := e.Refresh(context.Background(), true); err == nil {
		t.Fatalf("expected refresh error")
	}

	st := e.State()
	if len(st.Inventory) != 1 || st.Inventory[0].Item != "Switch" {
		t.Fatalf("expected inventory to survive a failed refresh, got %+v", st.Inventory)
	}
	if st.LastError == "" || st.Loading || st.Syncing {
		t.Fatalf("unexpected indicators after failure: %+v", st)
	}
}

func TestRefreshWhileOfflineDoesNothing(t *testing.T) {
	remote := newFakeRemote(domain.Product{Item: "Switch"})
	e := newEngine(t, localstore.NewMemory(), remote, false)
	if err := e.Refresh(context.Background(), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(e.Inventory()) != 0 || !e.Loading() {
		t.Fatalf("expected offline refresh to be a no-op")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	store := localstore.NewMemory()
	first := New(store, newFakeRemote(), Options{})
	first.Start(context.Background())

	if _, err := first.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("add product: %v", err)
	}
	draft := domain.BillDraft{BillID: "INV-1", Date: "2026-10-16", CustomerName: "Ravi", Items: []domain.LineItem{
		{Item: "Bulb", Qty: domain.NewAmountFromInt(2), Price: domain.NewAmountFromInt(100)},
		{Item: "Switch", Qty: domain.NewAmountFromInt(1), Price: domain.NewAmountFromInt(50)},
	}}
	saved, err := first.SaveBill(context.Background(), draft)
	if err != nil {
		t.Fatalf("save bill: %v", err)
	}
	if !saved.Total.Equal(domain.NewAmountFromInt(250)) {
		t.Fatalf("expected total 250, got %s", saved.Total)
	}
	first.Close()

	second := newEngine(t, store, newFakeRemote(), false)
	second.Start(context.Background())

	st := second.State()
	if len(st.Inventory) != 1 || len(st.Bills) != 1 || len(st.Queue) != 2 {
		t.Fatalf("expected 1 product, 1 bill, 2 queued; got %d/%d/%d", len(st.Inventory), len(st.Bills), len(st.Queue))
	}
	if st.Loading {
		t.Fatalf("expected restored data to clear the loading indicator")
	}
	if st.Queue[0].Action.Name() != domain.ActionAddProduct || st.Queue[1].Action.Name() != domain.ActionConfirmBill {
		t.Fatalf("expected queue order preserved, got %s then %s", st.Queue[0].Action.Name(), st.Queue[1].Action.Name())
	}
	if len(st.Bills[0].Items) != 2 || !st.Bills[0].Amount.Equal(domain.NewAmountFromInt(250)) {
		t.Fatalf("unexpected restored bill %+v", st.Bills[0])
	}
}

func TestColdStartOnlineRefreshesAndDrains(t *testing.T) {
	store := localstore.NewMemory()
	offline := New(store, newFakeRemote(), Options{})
	if _, err := offline.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("add product: %v", err)
	}
	offline.Close()

	remote := newFakeRemote(domain.Product{Item: "Switch"})
	e := newEngine(t, store, remote, true)
	e.Start(context.Background())

	waitFor(t, "restored queue to drain and reconcile", func() bool {
		st := e.State()
		if len(st.Queue) != 0 || len(st.Inventory) != 2 {
			return false
		}
		for _, p := range st.Inventory {
			if p.IsTemporary() {
				return false
			}
		}
		return true
	})
	if got := remote.sentActions(); len(got) != 1 {
		t.Fatalf("expected the restored action sent once, got %v", got)
	}
}

func TestDeleteBillNeedsConfirmation(t *testing.T) {
	e := newEngine(t, localstore.NewMemory(), newFakeRemote(), false)
	draft := domain.BillDraft{BillID: "INV-7", CustomerName: "Asha", Items: []domain.LineItem{
		{Item: "Bulb", Qty: domain.NewAmountFromInt(1), Price: domain.NewAmountFromInt(50)},
	}}
	if _, err := e.SaveBill(context.Background(), draft); err != nil {
		t.Fatalf("save bill: %v", err)
	}

	err := e.DeleteBill(context.Background(), "INV-7", func(string) bool { return false })
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if len(e.Bills()) != 1 || len(e.Queue()) != 1 {
		t.Fatalf("declined deletion must change nothing")
	}

	var asked string
	if err := e.DeleteBill(context.Background(), "INV-7", func(no string) bool { asked = no; return true }); err != nil {
		t.Fatalf("delete bill: %v", err)
	}
	if asked != "INV-7" || len(e.Bills()) != 0 || len(e.Queue()) != 2 {
		t.Fatalf("expected bill removed and deleteBill queued")
	}
}

func TestSaveBillGoesToTopOfHistory(t *testing.T) {
	e := newEngine(t, localstore.NewMemory(), newFakeRemote(), false)
	for _, no := range []string{"INV-1", "INV-2"} {
		draft := domain.BillDraft{BillID: no, CustomerName: "Ravi", Items: []domain.LineItem{
			{Item: "Bulb", Qty: domain.NewAmountFromInt(1), Price: domain.NewAmountFromInt(50)},
		}}
		if _, err := e.SaveBill(context.Background(), draft); err != nil {
			t.Fatalf("save %s: %v", no, err)
		}
	}
	bills := e.Bills()
	if bills[0].BillNo != "INV-2" {
		t.Fatalf("expected newest bill first, got %s", bills[0].BillNo)
	}
	if _, ok := e.Bill("INV-1"); !ok {
		t.Fatalf("expected lookup by bill number")
	}
	if got := e.SearchBills("inv-2"); len(got) != 1 {
		t.Fatalf("expected one search hit, got %d", len(got))
	}
	if no := e.NextBillNo(); no == "INV-1" || no == "INV-2" || no == "" {
		t.Fatalf("unexpected next bill number %q", no)
	}
}

func TestSaveBillRejectsEmptyCart(t *testing.T) {
	e := newEngine(t, localstore.NewMemory(), newFakeRemote(), false)
	_, err := e.SaveBill(context.Background(), domain.BillDraft{BillID: "INV-1", CustomerName: "Ravi"})
	if !errors.Is(err, domain.ErrInvalidBill) {
		t.Fatalf("expected ErrInvalidBill, got %v", err)
	}
	if len(e.Queue()) != 0 {
		t.Fatalf("rejected bill must not be queued")
	}
}

func TestUpdateAndDeleteProductOptimistically(t *testing.T) {
	e := newEngine(t, localstore.NewMemory(), newFakeRemote(), false)
	added, err := e.AddProduct(context.Background(), bulb())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	added.Stock = 3
	if err := e.UpdateProduct(context.Background(), added); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := e.SearchInventory("philips"); len(got) != 1 || got[0].Stock != 3 {
		t.Fatalf("expected updated stock, got %+v", got)
	}
	if err := e.DeleteProduct(context.Background(), added.RowIndex); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(e.Inventory()) != 0 || len(e.Queue()) != 3 {
		t.Fatalf("expected product gone with three queued actions")
	}
	if err := e.DeleteProduct(context.Background(), ""); !errors.Is(err, domain.ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct, got %v", err)
	}
}

func TestFailedDrainRetriesWithBackoff(t *testing.T) {
	remote := newFakeRemote()
	remote.set(func(r *fakeRemote) { r.failSends = 2 })
	e := New(localstore.NewMemory(), remote, Options{Online: true, RetryBaseDelay: 10 * time.Millisecond, RetryMaxDelay: 40 * time.Millisecond})
	defer e.Close()

	if _, err := e.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, "retries to deliver the action", func() bool {
		return len(remote.sentActions()) == 1 && len(e.Queue()) == 0
	})
	waitFor(t, "retry schedule to reset", func() bool {
		return e.RetryAttempts() == 0
	})
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	base, max := 100*time.Millisecond, 700*time.Millisecond
	want := []time.Duration{100, 200, 400, 700, 700}
	for attempt, w := range want {
		if got := backoffDelay(attempt, base, max); got != w*time.Millisecond {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, w*time.Millisecond)
		}
	}
}

func TestSubscribersSeeChangesAndPanicsAreContained(t *testing.T) {
	e := newEngine(t, localstore.NewMemory(), newFakeRemote(), false)

	var mu sync.Mutex
	var seen []int
	e.Subscribe(func(State) { panic("broken view") })
	unsubscribe := e.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, len(st.Inventory))
		mu.Unlock()
	})

	if _, err := e.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("add: %v", err)
	}
	unsubscribe()
	if _, err := e.AddProduct(context.Background(), bulb()); err != nil {
		t.Fatalf("second add: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != 1 {
		t.Fatalf("expected a notification showing the first product only, got %v", seen)
	}
}

func TestSetOnlineIgnoresRepeats(t *testing.T) {
	remote := newFakeRemote()
	e := newEngine(t, localstore.NewMemory(), remote, true)
	calls := 0
	e.Subscribe(func(State) { calls++ })
	e.SetOnline(true)
	if calls != 0 {
		t.Fatalf("expected repeated online state to be ignored")
	}
	e.SetOnline(false)
	if e.Online() {
		t.Fatalf("expected offline")
	}
}
