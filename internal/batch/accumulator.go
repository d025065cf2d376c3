// Package batch owns the bounded buffer between message ingestion and
// the flush pipeline. The accumulator is the only shared mutable state
// in the consumer: everything downstream of a detach runs on a batch
// no other goroutine can see.
package batch

import (
	"encoding/json"
	"sync"
	"time"

	"breadcrumb-pipeline/internal/model"
)

// Entry pairs a decoded breadcrumb with the raw message bytes (kept
// for archival) and the delivery acknowledgement for its source
// message. Ack must not fire before the entry's batch persisted.
type Entry struct {
	Crumb model.Breadcrumb
	Raw   json.RawMessage
	Ack   func() error
}

// Accumulator buffers entries until the size threshold is reached or
// the idle watchdog forces a flush. The buffer and the last-arrival
// watermark are guarded by one mutex; detaching swaps in a fresh
// buffer under that mutex, so a detached batch has exactly one owner
// and no entry can appear in two batches.
type Accumulator struct {
	mu          sync.Mutex
	buf         []Entry
	lastArrival time.Time

	threshold   int
	idleTimeout time.Duration
}

func NewAccumulator(threshold int, idleTimeout time.Duration) *Accumulator {
	return &Accumulator{
		buf:         make([]Entry, 0, threshold),
		threshold:   threshold,
		idleTimeout: idleTimeout,
	}
}

// Append adds an entry and advances the last-arrival watermark. When
// the buffer reaches the size threshold the batch is detached inside
// the same critical section and returned; otherwise nil. The caller
// processes the returned batch outside the lock, so a slow flush never
// blocks ingestion of the next records.
func (a *Accumulator) Append(e Entry) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, e)
	a.lastArrival = time.Now()
	if len(a.buf) >= a.threshold {
		return a.detachLocked()
	}
	return nil
}

// FlushIfIdle detaches the buffer when it is non-empty and nothing
// arrived for at least the idle timeout. The watchdog calls this
// periodically to bound latency during low-traffic periods.
func (a *Accumulator) FlushIfIdle(now time.Time) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return nil
	}
	if now.Sub(a.lastArrival) < a.idleTimeout {
		return nil
	}
	return a.detachLocked()
}

// Flush unconditionally detaches whatever is buffered. Used on
// shutdown so delivered-but-unflushed records are not left to
// redelivery alone.
func (a *Accumulator) Flush() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return nil
	}
	return a.detachLocked()
}

// Len reports the current buffer size.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func (a *Accumulator) detachLocked() []Entry {
	detached := a.buf
	a.buf = make([]Entry, 0, a.threshold)
	return detached
}
