// Package connectivity watches whether the remote endpoint is reachable and
// reports transitions.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

const DefaultInterval = 5 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Event struct {
	Online bool
	At     time.Time
}

// Monitor probes a Pinger on a fixed interval. Only transitions are emitted,
// except that the first probe always reports its result.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	events   chan Event

	mu     sync.Mutex
	known  bool
	online bool
	forced *bool
	closed bool
}

func NewMonitor(pinger Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		events:   make(chan Event, 8),
	}
}

func (m *Monitor) Events() <-chan Event {
	return m.events
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set pins the reported state and stops probing from overriding it until
// Release is called.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	m.forced = &online
	m.mu.Unlock()
	m.report(online)
}

func (m *Monitor) Release() {
	m.mu.Lock()
	m.forced = nil
	m.mu.Unlock()
}

// Run probes until ctx ends, then closes the event channel.
func (m *Monitor) Run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.closed = true
		close(m.events)
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	m.mu.Lock()
	forced := m.forced != nil
	m.mu.Unlock()
	if forced {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.pinger.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.report(err == nil)
}

func (m *Monitor) report(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || (m.known && m.online == online) {
		return
	}
	m.known = true
	m.online = online

	if online {
		log.Printf("[connectivity] remote reachable")
	} else {
		log.Printf("[connectivity] WARN: remote unreachable")
	}

	ev := Event{Online: online, At: time.Now()}
	select {
	case m.events <- ev:
	default:
		// Consumer is behind: drop the oldest pending event so the newest
		// state always gets through.
		select {
		case <-m.events:
		default:
		}
		m.events <- ev
	}
}
