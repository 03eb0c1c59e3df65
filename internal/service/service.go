package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tallybill/internal/cache"
	"tallybill/internal/domain"
	"tallybill/internal/store"
)

const defaultSnapshotTTL = 30 * time.Second

type Service struct {
	repo      store.Repository
	snapshots cache.SnapshotCache
	ttl       time.Duration

	// mu serializes mutations so a request id is checked and recorded
	// around exactly one application.
	mu sync.Mutex
}

// ApplyResult acknowledges one POSTed action.
type ApplyResult struct {
	Action   domain.ActionName `json:"action"`
	Replayed bool              `json:"replayed,omitempty"`
	Product  *domain.Product   `json:"product,omitempty"`
}

func New(repo store.Repository, snapshots cache.SnapshotCache, ttl time.Duration) *Service {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Service{
		repo:      repo,
		snapshots: snapshots,
		ttl:       ttl,
	}
}

func (s *Service) Inventory(ctx context.Context) ([]domain.Product, error) {
	return cachedSnapshot(ctx, s, cache.KeyInventory, s.repo.ListProducts)
}

func (s *Service) Bills(ctx context.Context) ([]domain.Bill, error) {
	return cachedSnapshot(ctx, s, cache.KeyBills, s.repo.ListBills)
}

// Apply performs action once per request id. A repeated id is acknowledged
// without touching storage.
func (s *Service) Apply(ctx context.Context, action domain.Action, requestID string) (ApplyResult, error) {
	if action == nil {
		return ApplyResult{}, fmt.Errorf("%w: missing action", store.ErrInvalidAction)
	}
	result := ApplyResult{Action: action.Name()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if requestID != "" {
		seen, err := s.repo.RequestSeen(ctx, requestID)
		if err != nil {
			return ApplyResult{}, err
		}
		if seen {
			log.Printf("[service] replayed request=%s action=%s acknowledged", requestID, action.Name())
			result.Replayed = true
			return result, nil
		}
	}

	if err := s.apply(ctx, action, &result); err != nil {
		return ApplyResult{}, err
	}

	if err := s.snapshots.Delete(ctx, cache.KeyInventory, cache.KeyBills); err != nil {
		log.Printf("[service] WARN: failed to invalidate snapshots after %s: %v", action.Name(), err)
	}
	if requestID != "" {
		if err := s.repo.RecordRequest(ctx, requestID, action.Name()); err != nil {
			log.Printf("[service] WARN: failed to record request=%s: %v", requestID, err)
		}
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, action domain.Action, result *ApplyResult) error {
	switch a := action.(type) {
	case domain.AddProduct:
		created, err := s.repo.AddProduct(ctx, a.Product)
		if err != nil {
			return err
		}
		result.Product = &created
		log.Printf("[service] product added row=%s item=%q", created.RowIndex, created.Item)
		return nil

	case domain.UpdateProduct:
		if a.Product.RowIndex == "" {
			return fmt.Errorf("%w: realRowIndex required", store.ErrInvalidAction)
		}
		return s.repo.UpdateProduct(ctx, a.Product)

	case domain.DeleteProduct:
		if a.RowIndex == "" {
			return fmt.Errorf("%w: realRowIndex required", store.ErrInvalidAction)
		}
		err := s.repo.DeleteProduct(ctx, a.RowIndex)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] delete of missing product row=%s treated as applied", a.RowIndex)
			return nil
		}
		return err

	case domain.DeleteBill:
		if a.BillID == "" {
			return fmt.Errorf("%w: billId required", store.ErrInvalidAction)
		}
		err := s.repo.DeleteBill(ctx, a.BillID)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] delete of missing bill=%s treated as applied", a.BillID)
			return nil
		}
		return err

	case domain.ConfirmBill:
		draft, err := domain.NewBillDraft(a.BillID, a.Date, a.CustomerName, a.Mobile, a.Items)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidAction, err)
		}
		if !draft.Total.Equal(a.Total) {
			log.Printf("[service] bill=%s total %s recomputed as %s", draft.BillID, a.Total, draft.Total)
		}
		return s.repo.ConfirmBill(ctx, draft)

	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownAction, action.Name())
	}
}

func cachedSnapshot[T any](ctx context.Context, s *Service, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	if raw, ok, err := s.snapshots.Get(ctx, key); err == nil && ok {
		var out []T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		log.Printf("[service] WARN: discarding unreadable snapshot key=%s", key)
	} else if err != nil {
		log.Printf("[service] WARN: snapshot cache get key=%s: %v", key, err)
	}

	out, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := s.snapshots.Set(ctx, key, raw, s.ttl); err != nil {
			log.Printf("[service] WARN: snapshot cache set key=%s: %v", key, err)
		}
	}
	return out, nil
}
