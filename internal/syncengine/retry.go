package syncengine

import (
	"log"
	"time"
)

const (
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultRetryMaxDelay  = 2 * time.Minute
)

// backoffDelay is base doubled attempt times, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// scheduleRetryLocked arms a single timer that drains again after the next backoff
// step. Caller must hold e.mu.
func (e *Engine) scheduleRetryLocked() {
	if e.closed || !e.online || e.retryTimer != nil {
		return
	}
	delay := backoffDelay(e.retryAttempt, e.opts.RetryBaseDelay, e.opts.RetryMaxDelay)
	e.retryAttempt++
	log.Printf("[syncengine] retrying queue in %s (attempt %d)", delay, e.retryAttempt)
	e.retryTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.retryTimer = nil
		e.mu.Unlock()
		e.goDrain()
	})
}

// resetRetryLocked stops any pending retry and restarts the schedule.
// Caller must hold e.mu.
func (e *Engine) resetRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryAttempt = 0
}

// RetryAttempts reports how many retries have been scheduled since the last
// success or reconnect.
func (e *Engine) RetryAttempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryAttempt
}
