// Package queue holds the ordered list of mutations the remote has not yet
// confirmed and replays it, front to back, whenever asked to drain.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tallybill/internal/domain"
	"tallybill/internal/localstore"
)

// Sender delivers one action to the remote.
type Sender interface {
	Send(ctx context.Context, action domain.Action, requestID string) error
}

type Hooks struct {
	// OnEnqueue runs after an item is appended and persisted.
	OnEnqueue func(item domain.QueueItem)
	// OnChange runs whenever the pending set changes.
	OnChange func(items []domain.QueueItem)
	// OnDrained runs when a drain that had work left the queue empty.
	OnDrained func()
}

type Result struct {
	Sent      int
	Remaining int
	// Failed is the item that stopped the walk, if any.
	Failed *domain.QueueItem
	// Coalesced is set when another drain was already running; that drain
	// will run once more on this caller's behalf.
	Coalesced bool
}

type Queue struct {
	store  localstore.Store
	sender Sender
	hooks  Hooks
	now    func() time.Time

	mu      sync.Mutex
	items   []domain.QueueItem
	nextID  int64
	loaded  bool
	running bool
	rerun   bool
}

func New(store localstore.Store, sender Sender, hooks Hooks) *Queue {
	return &Queue{
		store:  store,
		sender: sender,
		hooks:  hooks,
		now:    time.Now,
		nextID: 1,
	}
}

// Restore replaces the in-memory queue with the persisted one. It returns the
// restored items; a missing or unreadable entry restores nothing.
func (q *Queue) Restore(ctx context.Context) []domain.QueueItem {
	stored, _ := localstore.LoadJSON[[]domain.QueueItem](ctx, q.store, localstore.KeyQueue)

	q.mu.Lock()
	q.items = append([]domain.QueueItem(nil), stored...)
	q.loaded = true
	q.bumpNextIDLocked()
	items := q.snapshotLocked()
	q.mu.Unlock()

	q.changed(items)
	return items
}

// Enqueue appends action and persists the queue before returning.
func (q *Queue) Enqueue(ctx context.Context, action domain.Action) domain.QueueItem {
	q.mu.Lock()
	if !q.loaded {
		// Never overwrite a persisted queue this process has not seen yet.
		q.mergeStoredLocked(ctx)
	}
	item := domain.QueueItem{
		ID:         q.nextID,
		RequestID:  uuid.NewString(),
		Action:     action,
		EnqueuedAt: q.now().UTC(),
	}
	q.nextID++
	q.items = append(q.items, item)
	q.persistLocked(ctx)
	items := q.snapshotLocked()
	q.mu.Unlock()

	log.Printf("[queue] enqueued #%d %s (pending=%d)", item.ID, action.Name(), len(items))
	q.changed(items)
	if q.hooks.OnEnqueue != nil {
		q.hooks.OnEnqueue(item)
	}
	return item
}

// Drain replays pending items in order and stops at the first failure. Only
// one drain walks the queue at a time; a call made while one is running
// returns immediately with Coalesced set and the running drain makes one more
// pass when it finishes.
func (q *Queue) Drain(ctx context.Context) (Result, error) {
	q.mu.Lock()
	if q.running {
		q.rerun = true
		q.mu.Unlock()
		return Result{Coalesced: true}, nil
	}
	q.running = true
	q.mu.Unlock()

	for {
		res, err := q.drainOnce(ctx)

		q.mu.Lock()
		if !q.rerun || ctx.Err() != nil {
			q.running = false
			q.rerun = false
			q.mu.Unlock()
			return res, err
		}
		q.rerun = false
		q.mu.Unlock()
	}
}

func (q *Queue) drainOnce(ctx context.Context) (Result, error) {
	pending := q.reload(ctx)
	if len(pending) == 0 {
		return Result{}, nil
	}
	log.Printf("[queue] draining %d pending action(s)", len(pending))

	var (
		res     Result
		sendErr error
	)
	for i := range pending {
		item := pending[i]
		err := ctx.Err()
		if err == nil {
			err = q.sender.Send(ctx, item.Action, item.RequestID)
		}
		if err != nil {
			log.Printf("[queue] WARN: #%d %s failed, pausing replay: %v", item.ID, item.Action.Name(), err)
			res.Failed = &item
			sendErr = fmt.Errorf("replay #%d %s: %w", item.ID, item.Action.Name(), err)
			break
		}
		res.Sent++
		q.remove(ctx, item.ID)
	}

	q.mu.Lock()
	res.Remaining = len(q.items)
	q.mu.Unlock()

	if sendErr == nil && res.Remaining == 0 && q.hooks.OnDrained != nil {
		q.hooks.OnDrained()
	}
	return res, sendErr
}

// reload merges the persisted queue into memory and returns the result.
func (q *Queue) reload(ctx context.Context) []domain.QueueItem {
	q.mu.Lock()
	ok := q.mergeStoredLocked(ctx)
	items := q.snapshotLocked()
	q.mu.Unlock()

	if ok {
		q.changed(items)
	}
	return items
}

// mergeStoredLocked folds the persisted queue into memory. Storage order
// wins; items only memory knows about (a write that failed) follow in their
// own order.
func (q *Queue) mergeStoredLocked(ctx context.Context) bool {
	stored, ok := localstore.LoadJSON[[]domain.QueueItem](ctx, q.store, localstore.KeyQueue)
	q.loaded = true
	if !ok {
		return false
	}
	merged := make([]domain.QueueItem, 0, len(stored)+len(q.items))
	seen := make(map[int64]bool, len(stored))
	for _, item := range stored {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		merged = append(merged, item)
	}
	for _, item := range q.items {
		if !seen[item.ID] {
			merged = append(merged, item)
		}
	}
	diverged := len(merged) != len(stored)
	q.items = merged
	q.bumpNextIDLocked()
	if diverged {
		q.persistLocked(ctx)
	}
	return true
}

func (q *Queue) remove(ctx context.Context, id int64) bool {
	q.mu.Lock()
	idx := -1
	for i, item := range q.items {
		if item.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	q.persistLocked(ctx)
	items := q.snapshotLocked()
	q.mu.Unlock()

	q.changed(items)
	return true
}

// Discard drops an item without sending it. It is the manual escape hatch
// for a head item the remote rejects forever.
func (q *Queue) Discard(ctx context.Context, id int64) bool {
	ok := q.remove(ctx, id)
	if ok {
		log.Printf("[queue] discarded #%d", id)
	}
	return ok
}

func (q *Queue) Items() []domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) persistLocked(ctx context.Context) {
	items := q.items
	if items == nil {
		items = []domain.QueueItem{}
	}
	if err := localstore.SaveJSON(ctx, q.store, localstore.KeyQueue, items); err != nil {
		log.Printf("[queue] WARN: failed to persist queue: %v", err)
	}
}

func (q *Queue) bumpNextIDLocked() {
	for _, item := range q.items {
		if item.ID >= q.nextID {
			q.nextID = item.ID + 1
		}
	}
}

func (q *Queue) snapshotLocked() []domain.QueueItem {
	return append([]domain.QueueItem(nil), q.items...)
}

func (q *Queue) changed(items []domain.QueueItem) {
	if q.hooks.OnChange != nil {
		q.hooks.OnChange(items)
	}
}
