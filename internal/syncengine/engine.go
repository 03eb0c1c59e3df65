// Package syncengine owns the client's view of inventory and bill history. It
// applies every mutation locally first, queues it for the remote, and folds
// server snapshots back in without losing anything still queued.
package syncengine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tallybill/internal/connectivity"
	"tallybill/internal/domain"
	"tallybill/internal/localstore"
	"tallybill/internal/queue"
)

var ErrNotConfirmed = errors.New("deletion not confirmed")

type Gateway interface {
	FetchInventory(ctx context.Context) ([]domain.Product, error)
	FetchBills(ctx context.Context) ([]domain.Bill, error)
	queue.Sender
}

type Options struct {
	// Online is the connectivity assumed until the first SetOnline call.
	Online         bool
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Now            func() time.Time
}

// State is a point-in-time copy of everything the UI renders.
type State struct {
	Inventory []domain.Product
	Bills     []domain.Bill
	Queue     []domain.QueueItem
	Loading   bool
	Syncing   bool
	Online    bool
	LastSync  time.Time
	LastError string
}

type subscriber struct {
	id uint64
	fn func(State)
}

type Engine struct {
	store   localstore.Store
	gateway Gateway
	queue   *queue.Queue
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// actionMu orders "apply locally, then enqueue" against reconciliation so
	// a snapshot can never land between the two. Lock order: actionMu, mu.
	actionMu sync.Mutex

	mu           sync.Mutex
	inventory    []domain.Product
	bills        []domain.Bill
	loading      bool
	busy         int
	online       bool
	lastSync     time.Time
	lastErr      string
	refreshSeq   uint64
	appliedSeq   uint64
	closed       bool
	retryTimer   *time.Timer
	retryAttempt int
	inflight     int
	idle         chan struct{}

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

func New(store localstore.Store, gateway Gateway, opts Options) *Engine {
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = DefaultRetryMaxDelay
		if opts.RetryMaxDelay < opts.RetryBaseDelay {
			opts.RetryMaxDelay = opts.RetryBaseDelay
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:   store,
		gateway: gateway,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		loading: true,
		online:  opts.Online,
	}
	e.queue = queue.New(store, gateway, queue.Hooks{
		OnEnqueue: func(domain.QueueItem) {
			if e.Online() {
				e.goDrain()
			}
		},
		OnChange:  func([]domain.QueueItem) { e.notify() },
		OnDrained: func() { e.goRefresh(true) },
	})
	return e
}

// Start restores the persisted collections and queue. When data was found
// the loading indicator clears at once; when online, a background refresh
// follows, plus a drain if anything was still queued.
func (e *Engine) Start(ctx context.Context) {
	inventory, haveInventory := localstore.LoadJSON[[]domain.Product](ctx, e.store, localstore.KeyInventory)
	bills, haveBills := localstore.LoadJSON[[]domain.Bill](ctx, e.store, localstore.KeyBills)
	restored := e.queue.Restore(ctx)
	hasData := haveInventory || haveBills

	e.mu.Lock()
	if haveInventory {
		e.inventory = inventory
	}
	if haveBills {
		e.bills = bills
	}
	if hasData {
		e.loading = false
	}
	online := e.online
	e.mu.Unlock()

	log.Printf("[syncengine] restored %d products, %d bills, %d queued actions", len(inventory), len(bills), len(restored))
	e.notify()

	if online {
		e.goRefresh(hasData)
		if len(restored) > 0 {
			e.goDrain()
		}
	}
}

// SetOnline records a connectivity change. Going online replays the queue and
// refreshes; going offline only flips the flag. Repeats are ignored.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return
	}
	e.online = online
	e.resetRetryLocked()
	e.mu.Unlock()

	if online {
		log.Printf("[syncengine] back online")
	} else {
		log.Printf("[syncengine] offline, actions will queue locally")
	}
	e.notify()

	if online {
		e.goDrain()
		e.goRefresh(true)
	}
}

// Run applies connectivity events until ctx ends or events is closed.
func (e *Engine) Run(ctx context.Context, events <-chan connectivity.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.SetOnline(ev.Online)
		}
	}
}

// Close stops retries, cancels background work and waits for it to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.resetRetryLocked()
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Refresh fetches both snapshots and reconciles them with local state. It is
// a no-op while offline. On failure local state is left as it was.
func (e *Engine) Refresh(ctx context.Context, hasExistingData bool) error {
	e.mu.Lock()
	if !e.online {
		e.mu.Unlock()
		return nil
	}
	if hasExistingData {
		e.busy++
	} else {
		e.loading = true
	}
	e.refreshSeq++
	seq := e.refreshSeq
	e.mu.Unlock()
	e.notify()

	var (
		inventory []domain.Product
		bills     []domain.Bill
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inventory, err = e.gateway.FetchInventory(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		bills, err = e.gateway.FetchBills(gctx)
		return err
	})
	err := g.Wait()

	if err == nil {
		e.reconcile(ctx, seq, inventory, bills)
	} else {
		log.Printf("[syncengine] WARN: refresh failed: %v", err)
	}

	e.mu.Lock()
	if hasExistingData {
		e.busy--
	}
	e.loading = false
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()
	e.notify()
	return err
}

// reconcile installs a snapshot. A snapshot older than one already applied
// is dropped: it may predate actions the remote has since confirmed.
func (e *Engine) reconcile(ctx context.Context, seq uint64, inventory []domain.Product, bills []domain.Bill) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	e.mu.Lock()
	applied := e.appliedSeq
	if seq >= applied {
		e.appliedSeq = seq
	}
	e.mu.Unlock()
	if seq < applied {
		log.Printf("[syncengine] dropping snapshot #%d, #%d already applied", seq, applied)
		return
	}

	pending := e.queue.Items()
	if len(pending) > 0 {
		log.Printf("[syncengine] rebasing %d queued action(s) onto fresh snapshot", len(pending))
		inventory, bills = rebase(inventory, bills, pending)
	}
	if inventory == nil {
		inventory = []domain.Product{}
	}
	if bills == nil {
		bills = []domain.Bill{}
	}

	e.mu.Lock()
	e.inventory = inventory
	e.bills = bills
	e.lastSync = e.opts.Now()
	e.lastErr = ""
	e.mu.Unlock()

	e.persist(ctx, localstore.KeyInventory, inventory)
	e.persist(ctx, localstore.KeyBills, bills)
}

// DrainNow replays the queue in the caller's goroutine and returns the
// outcome. It does nothing while offline.
func (e *Engine) DrainNow(ctx context.Context) (queue.Result, error) {
	if !e.Online() {
		return queue.Result{Remaining: e.queue.Len()}, nil
	}

	e.mu.Lock()
	e.busy++
	e.mu.Unlock()
	e.notify()

	res, err := e.queue.Drain(ctx)

	e.mu.Lock()
	e.busy--
	switch {
	case res.Coalesced:
	case err != nil:
		e.lastErr = err.Error()
		if ctx.Err() == nil {
			e.scheduleRetryLocked()
		}
	default:
		e.resetRetryLocked()
	}
	e.mu.Unlock()
	e.notify()
	return res, err
}

// Discard drops a queued action without sending it.
func (e *Engine) Discard(ctx context.Context, id int64) bool {
	return e.queue.Discard(ctx, id)
}

func (e *Engine) goDrain() {
	e.spawn(func(ctx context.Context) {
		_, _ = e.DrainNow(ctx)
	})
}

func (e *Engine) goRefresh(hasExistingData bool) {
	e.spawn(func(ctx context.Context) {
		_ = e.Refresh(ctx, hasExistingData)
	})
}

func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	if e.inflight == 0 {
		e.idle = make(chan struct{})
	}
	e.inflight++
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.taskDone()
		fn(e.ctx)
	}()
}

func (e *Engine) taskDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--
	if e.inflight == 0 {
		close(e.idle)
	}
}

// WaitIdle blocks until no background drain or refresh is running, including
// any follow-up work they start. A scheduled retry does not count as running.
func (e *Engine) WaitIdle(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.inflight == 0 {
			e.mu.Unlock()
			return nil
		}
		idle := e.idle
		e.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) persist(ctx context.Context, key string, value any) {
	if err := localstore.SaveJSON(ctx, e.store, key, value); err != nil {
		log.Printf("[syncengine] WARN: failed to persist %s: %v", key, err)
	}
}

func (e *Engine) State() State {
	pending := e.queue.Items()

	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Inventory: append([]domain.Product(nil), e.inventory...),
		Bills:     append([]domain.Bill(nil), e.bills...),
		Queue:     pending,
		Loading:   e.loading,
		Syncing:   e.busy > 0,
		Online:    e.online,
		LastSync:  e.lastSync,
		LastError: e.lastErr,
	}
}

func (e *Engine) Inventory() []domain.Product {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Product(nil), e.inventory...)
}

func (e *Engine) Bills() []domain.Bill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Bill(nil), e.bills...)
}

func (e *Engine) Queue() []domain.QueueItem {
	return e.queue.Items()
}

func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy > 0
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Subscribe registers fn to receive a State after every change and returns
// a function that removes it. A panicking subscriber is logged and skipped.
// fn runs synchronously and must not call the engine's mutating actions.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	subs := append([]subscriber(nil), e.subs...)
	e.subMu.Unlock()
	if len(subs) == 0 {
		return
	}

	st := e.State()
	for _, s := range subs {
		callSubscriber(s.fn, st)
	}
}

func callSubscriber(fn func(State), st State) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[syncengine] WARN: subscriber panicked: %v", r)
		}
	}()
	fn(st)
}
