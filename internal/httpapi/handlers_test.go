package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tallybill/internal/cache"
	"tallybill/internal/domain"
	"tallybill/internal/service"
	"tallybill/internal/store/memory"
)

// newTestAPI builds the API over a seeded in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	svc := service.New(memory.NewSeeded(), cache.NoopSnapshotCache{}, time.Second)
	return New(svc, "*")
}

func postAction(t *testing.T, handler http.Handler, action domain.Action, requestID string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := domain.EncodeAction(action, requestID)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/exec", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getInventory(t *testing.T, handler http.Handler) []domain.Product {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/exec?action=getInventory", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var products []domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&products); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	return products
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestGetInventoryReturnsNumericRowIndexes(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=getInventory", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"realRowIndex":2`) {
		t.Fatalf("expected sheet-style numeric row index, got %s", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header, got %q", got)
	}
}

func TestGetBillsStartsEmptyArray(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=getBills", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownReadActionIsBadRequest(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=getEverything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPostAddProductThenConfirmBill(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := postAction(t, handler, domain.AddProduct{Product: domain.Product{
		RowIndex: "tmp-1",
		Item:     "Door Bell",
		Brand:    "Anchor",
		Stock:    6,
		Price1:   domain.NewAmountFromInt(380),
		Unit1:    "pc",
	}}, "req-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var added domain.Product
	for _, p := range getInventory(t, handler) {
		if p.ID == "tmp-1" {
			added = p
		}
	}
	if added.RowIndex == "" || added.IsTemporary() {
		t.Fatalf("expected server row for added product, got %+v", added)
	}

	line := domain.LineFor(added)
	line.Qty = domain.NewAmountFromInt(2)
	draft, err := domain.NewBillDraft("INV-0001", "16/10/2026", "Anita", "", []domain.LineItem{line})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if rec := postAction(t, handler, domain.ConfirmBill{BillDraft: draft}, "req-2"); rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	for _, p := range getInventory(t, handler) {
		if p.RowIndex == added.RowIndex && p.Stock != 4 {
			t.Fatalf("expected stock 4 after sale, got %d", p.Stock)
		}
	}
}

func TestPostReplayIsAcknowledged(t *testing.T) {
	handler := newTestAPI(t).Handler()

	first := postAction(t, handler, domain.DeleteProduct{RowIndex: "2"}, "req-del")
	second := postAction(t, handler, domain.DeleteProduct{RowIndex: "2"}, "req-del")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both deliveries acknowledged, got %d and %d", first.Code, second.Code)
	}
	if !strings.Contains(second.Body.String(), `"replayed":true`) {
		t.Fatalf("expected replay flag, got %s", second.Body.String())
	}
}

func TestPostErrorsMapToStatus(t *testing.T) {
	handler := newTestAPI(t).Handler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"unknown action", `{"action":"dropTables"}`, http.StatusBadRequest},
		{"invalid product", `{"action":"addProduct","product":{"item":""}}`, http.StatusBadRequest},
		{"missing row", `{"action":"updateProduct","product":{"realRowIndex":404,"item":"Ghost"}}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/exec", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (body: %s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()

	body := `{"action":"deleteBill","billId":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/exec", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestPreflightAndMethods(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/exec", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/exec", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
