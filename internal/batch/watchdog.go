package batch

import (
	"context"
	"sync"
	"time"
)

// Watchdog periodically invokes a fire function with the current time.
// It is the supervised replacement for a re-armed one-shot timer: its
// lifecycle is explicit (Start/Stop), it is restarted alongside the
// subscription it serves, and Stop waits for the loop to exit.
type Watchdog struct {
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatchdog(interval time.Duration) *Watchdog {
	return &Watchdog{interval: interval}
}

// Start launches the ticker loop. Calling Start while running is a
// no-op; after Stop the watchdog can be started again.
func (w *Watchdog) Start(parent context.Context, fire func(now time.Time)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				fire(now)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
}
