package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	archivist "github.com/avenor/archivist/internal"
)

type fakeAccessStore struct {
	mu      sync.Mutex
	batches [][]archivist.AccessRecord
}

func (s *fakeAccessStore) InsertAccess(_ context.Context, records []archivist.AccessRecord) error {
	s.mu.Lock()
	s.batches = append(s.batches, records)
	s.mu.Unlock()
	return nil
}

func (s *fakeAccessStore) totalRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestAccessRecorder_BatchOnSize(t *testing.T) {
	t.Parallel()
	store := &fakeAccessStore{}
	rec := NewAccessRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	for range accessBatchSize {
		rec.Record(archivist.AccessRecord{Pattern: "/adr/{id}", CacheKey: "adr:001", StatusCode: 200})
	}

	// Wait for batch to be flushed.
	deadline := time.After(2 * time.Second)
	for {
		if store.totalRecords() >= accessBatchSize {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch not flushed; got %d records", store.totalRecords())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestAccessRecorder_DrainOnShutdown(t *testing.T) {
	t.Parallel()
	store := &fakeAccessStore{}
	rec := NewAccessRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(archivist.AccessRecord{Pattern: "/adr", CacheKey: "adr"})
	rec.Record(archivist.AccessRecord{Pattern: "/adr", CacheKey: "adr"})

	cancel()
	<-done

	if got := store.totalRecords(); got != 2 {
		t.Errorf("records after drain = %d, want 2", got)
	}
}

func TestAccessRecorder_AssignsIDs(t *testing.T) {
	t.Parallel()
	store := &fakeAccessStore{}
	rec := NewAccessRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(archivist.AccessRecord{Pattern: "/adr"})
	cancel()
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("batches = %v", store.batches)
	}
	if store.batches[0][0].ID == "" {
		t.Error("flush should assign an ID to records without one")
	}
}

func TestAccessRecorder_DropOnFullChannel(t *testing.T) {
	t.Parallel()
	rec := NewAccessRecorder(&fakeAccessStore{})
	drops := 0
	rec.OnDrop = func() { drops++ }

	// Run is never started, so the channel fills and overflows.
	for range accessChanSize + 3 {
		rec.Record(archivist.AccessRecord{Pattern: "/adr"})
	}
	if drops != 3 {
		t.Errorf("drops = %d, want 3", drops)
	}
}
