package memory

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"tallybill/internal/domain"
	"tallybill/internal/store"
)

// firstDataRow mirrors a sheet whose row 1 holds the headers.
const firstDataRow = 2

type Store struct {
	mu       sync.RWMutex
	products []domain.Product
	nextRow  int
	bills    []domain.Bill
	// taken holds, per bill, the stock each line actually removed.
	taken    map[string][]int
	requests map[string]domain.ActionName
}

func New() *Store {
	return &Store{
		nextRow:  firstDataRow,
		taken:    make(map[string][]int),
		requests: make(map[string]domain.ActionName),
	}
}

func NewSeeded() *Store {
	s := New()
	seed := []domain.Product{
		{Item: "LED Bulb", Brand: "Philips", Size: "9W", Color: "Cool White", Stock: 120, Price1: domain.NewAmountFromInt(95), Unit1: "pc", Price2: domain.NewAmountFromInt(900), Unit2: "box"},
		{Item: "Switch", Brand: "Anchor", Model: "Roma", Size: "6A", Color: "White", Stock: 200, Price1: domain.NewAmountFromInt(32), Unit1: "pc"},
		{Item: "Copper Wire", Brand: "Finolex", Size: "1.5 sqmm", Color: "Red", Stock: 40, Price1: domain.NewAmountFromInt(24), Unit1: "m", Price2: domain.NewAmountFromInt(1850), Unit2: "roll"},
		{Item: "MCB", Brand: "Havells", Model: "SP", Size: "16A", Stock: 35, Price1: domain.NewAmountFromInt(210), Unit1: "pc"},
		{Item: "Ceiling Fan", Brand: "Crompton", Model: "HS Plus", Size: "1200mm", Color: "Brown", Stock: 8, Price1: domain.NewAmountFromInt(1650), Unit1: "pc"},
		{Item: "Insulation Tape", Brand: "Steelgrip", Color: "Black", Stock: 150, Price1: domain.NewAmountFromInt(12), Unit1: "pc", Price2: domain.NewAmountFromInt(110), Unit2: "pack"},
	}
	for _, p := range seed {
		p.RowIndex = s.takeRowLocked()
		s.products = append(s.products, p)
	}
	log.Printf("[memory-store] seeded %d products", len(seed))
	return s
}

func (s *Store) takeRowLocked() domain.RowID {
	row := domain.RowID(strconv.Itoa(s.nextRow))
	s.nextRow++
	return row
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Product{}, s.products...), nil
}

func (s *Store) AddProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	if err := p.Validate(); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidAction, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IsTemporary() && p.ID == "" {
		p.ID = string(p.RowIndex)
	}
	p.RowIndex = s.takeRowLocked()
	s.products = append(s.products, p)
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidAction, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.productIndexLocked(p.RowIndex)
	if idx < 0 {
		return store.ErrNotFound
	}
	existing := s.products[idx]
	p.RowIndex = existing.RowIndex
	if p.ID == "" {
		p.ID = existing.ID
	}
	s.products[idx] = p
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, row domain.RowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.productIndexLocked(row)
	if idx < 0 {
		return store.ErrNotFound
	}
	s.products = append(s.products[:idx:idx], s.products[idx+1:]...)
	return nil
}

func (s *Store) productIndexLocked(row domain.RowID) int {
	for i, p := range s.products {
		if store.MatchesRow(p, row) {
			return i
		}
	}
	return -1
}

// ListBills returns history newest first.
func (s *Store) ListBills(_ context.Context) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Bill, 0, len(s.bills))
	for i := len(s.bills) - 1; i >= 0; i-- {
		out = append(out, s.bills[i])
	}
	return out, nil
}

func (s *Store) ConfirmBill(_ context.Context, draft domain.BillDraft) error {
	if draft.BillID == "" || len(draft.Items) == 0 {
		return fmt.Errorf("%w: bill number and items required", store.ErrInvalidAction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bills {
		if b.BillNo == draft.BillID {
			return fmt.Errorf("%w: bill %s already exists", store.ErrInvalidAction, draft.BillID)
		}
	}

	taken := make([]int, len(draft.Items))
	for i, line := range draft.Items {
		idx := s.productIndexLocked(line.RowIndex)
		if idx < 0 {
			log.Printf("[memory-store] WARN: bill %s line %q has no matching product", draft.BillID, line.Item)
			continue
		}
		taken[i] = min(store.StockDelta(line), int(s.products[idx].Stock))
		s.products[idx].Stock -= domain.Count(taken[i])
	}
	s.bills = append(s.bills, draft.HistoryEntry())
	s.taken[draft.BillID] = taken
	return nil
}

func (s *Store) DeleteBill(_ context.Context, billNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, b := range s.bills {
		if b.BillNo == billNo {
			idx = i
			break
		}
	}
	if idx < 0 {
		return store.ErrNotFound
	}

	taken := s.taken[billNo]
	for i, line := range s.bills[idx].Items {
		if p := s.productIndexLocked(line.RowIndex); p >= 0 {
			s.products[p].Stock += domain.Count(store.RestoreDelta(line, taken, i))
		}
	}
	s.bills = append(s.bills[:idx:idx], s.bills[idx+1:]...)
	delete(s.taken, billNo)
	return nil
}

func (s *Store) RequestSeen(_ context.Context, requestID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.requests[requestID]
	return ok, nil
}

func (s *Store) RecordRequest(_ context.Context, requestID string, action domain.ActionName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[requestID] = action
	return nil
}
