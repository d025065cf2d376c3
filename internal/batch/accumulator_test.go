package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"breadcrumb-pipeline/internal/model"
)

func entry(trip int64) Entry {
	return Entry{Crumb: model.Breadcrumb{EventNoTrip: trip}}
}

// TestSizeTriggeredFlush appends 150 records with a threshold of 100:
// exactly one flush must fire, at the 100th append, leaving 50 records
// buffered for the next batch.
func TestSizeTriggeredFlush(t *testing.T) {
	acc := NewAccumulator(100, time.Minute)

	var flushes [][]Entry
	for i := 0; i < 150; i++ {
		if detached := acc.Append(entry(int64(100000000 + i))); detached != nil {
			if i != 99 {
				t.Errorf("flush fired at append %d, want 99", i)
			}
			flushes = append(flushes, detached)
		}
	}
	if len(flushes) != 1 {
		t.Fatalf("got %d flushes, want 1", len(flushes))
	}
	if len(flushes[0]) != 100 {
		t.Errorf("detached batch has %d records, want 100", len(flushes[0]))
	}
	if acc.Len() != 50 {
		t.Errorf("buffer holds %d records after flush, want 50", acc.Len())
	}
}

// TestNoRecordInTwoBatches drives appends from several goroutines and
// verifies every record lands in exactly one detached batch plus the
// final buffer, with none duplicated or lost.
func TestNoRecordInTwoBatches(t *testing.T) {
	const workers = 8
	const perWorker = 500
	acc := NewAccumulator(64, time.Minute)

	var mu sync.Mutex
	seen := make(map[int64]int)
	collect := func(entries []Entry) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range entries {
			seen[e.Crumb.EventNoTrip]++
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := int64(w*perWorker + i)
				if detached := acc.Append(Entry{Crumb: model.Breadcrumb{EventNoTrip: id}}); detached != nil {
					collect(detached)
				}
			}
		}(w)
	}
	wg.Wait()
	collect(acc.Flush())

	if len(seen) != workers*perWorker {
		t.Fatalf("saw %d distinct records, want %d", len(seen), workers*perWorker)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %d appeared in %d batches", id, n)
		}
	}
}

// TestFlushIfIdle only detaches when the buffer is non-empty and the
// idle timeout has elapsed since the last arrival.
func TestFlushIfIdle(t *testing.T) {
	acc := NewAccumulator(100, 3*time.Minute)

	if got := acc.FlushIfIdle(time.Now().Add(time.Hour)); got != nil {
		t.Errorf("idle flush on empty buffer returned %d records, want none", len(got))
	}

	acc.Append(entry(100000001))
	if got := acc.FlushIfIdle(time.Now().Add(time.Minute)); got != nil {
		t.Errorf("idle flush before timeout returned %d records, want none", len(got))
	}
	got := acc.FlushIfIdle(time.Now().Add(3 * time.Minute))
	if len(got) != 1 {
		t.Fatalf("idle flush after timeout returned %d records, want 1", len(got))
	}
	if acc.Len() != 0 {
		t.Errorf("buffer holds %d records after idle flush, want 0", acc.Len())
	}
}

// TestAppendResetsIdleClock verifies a fresh arrival pushes the idle
// deadline out.
func TestAppendResetsIdleClock(t *testing.T) {
	acc := NewAccumulator(100, 10*time.Millisecond)
	acc.Append(entry(100000001))
	time.Sleep(15 * time.Millisecond)
	acc.Append(entry(100000002))
	if got := acc.FlushIfIdle(time.Now()); got != nil {
		t.Errorf("idle flush fired immediately after an arrival, got %d records", len(got))
	}
}

// TestWatchdogLifecycle checks the supervised loop fires periodically,
// stops cleanly, and can be restarted after a stop (the resubscription
// case).
func TestWatchdogLifecycle(t *testing.T) {
	w := NewWatchdog(5 * time.Millisecond)

	fired := make(chan time.Time, 16)
	w.Start(context.Background(), func(now time.Time) {
		select {
		case fired <- now:
		default:
		}
	})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire within 1s")
	}
	w.Stop()

	// drain anything in flight, then confirm silence
	for len(fired) > 0 {
		<-fired
	}
	time.Sleep(20 * time.Millisecond)
	if len(fired) != 0 {
		t.Error("watchdog fired after Stop")
	}

	// restart must work
	w.Start(context.Background(), func(now time.Time) {
		select {
		case fired <- now:
		default:
		}
	})
	defer w.Stop()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("restarted watchdog did not fire within 1s")
	}
}
