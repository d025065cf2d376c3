package consume

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"breadcrumb-pipeline/internal/archive"
)

func testPipeline(t *testing.T, store archive.ObjectStore) *Pipeline {
	t.Helper()
	priv, err := archive.GenerateKeypair(2048)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	enc := archive.NewEncoder(store, &priv.PublicKey, priv, archive.Backoff{
		Base:        time.Millisecond,
		Cap:         5 * time.Millisecond,
		MaxAttempts: 2,
	}, nil)
	return NewPipeline(nil, nil, enc, nil, PipelineOptions{
		BatchSize:        100,
		IdleTimeout:      time.Minute,
		WatchdogInterval: time.Minute,
		Location:         time.UTC,
	})
}

// deadStore rejects every operation, simulating an unreachable
// archive directory.
type deadStore struct{}

func (deadStore) Get(context.Context, string) ([]byte, int64, error) {
	return nil, 0, archive.ErrNotExist
}

func (deadStore) Put(context.Context, string, []byte, int64) error {
	return errors.New("store unavailable")
}

// TestQuarantineHoldsAckOnSinkFailure: a rejected record whose sink
// write fails must stay unacked so JetStream redelivers it. Acking
// would drop the record from every sink at once.
func TestQuarantineHoldsAckOnSinkFailure(t *testing.T) {
	p := testPipeline(t, deadStore{})
	acked := false
	p.quarantineWrite(json.RawMessage(`{"VEHICLE_ID":0}`), func() error {
		acked = true
		return nil
	})
	if acked {
		t.Fatal("message acked although the quarantine sink write failed")
	}
}

// TestQuarantineAcksAfterSinkWrite: once the record is durably in the
// quarantine object the message is acked, and the object holds it.
func TestQuarantineAcksAfterSinkWrite(t *testing.T) {
	store, err := archive.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	p := testPipeline(t, store)
	acked := false
	raw := json.RawMessage(`{"VEHICLE_ID":0,"GPS_LATITUDE":null}`)
	p.quarantineWrite(raw, func() error {
		acked = true
		return nil
	})
	if !acked {
		t.Fatal("message not acked after a successful sink write")
	}

	name := archive.ObjectName("quarantine", time.Now().In(time.UTC))
	blob, _, err := store.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Get quarantine object: %v", err)
	}
	plain, err := p.encoder.Open(blob)
	if err != nil {
		t.Fatalf("Open quarantine object: %v", err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(plain, &records); err != nil {
		t.Fatalf("unmarshal quarantine array: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("quarantine object holds %d records, want 1", len(records))
	}
}
