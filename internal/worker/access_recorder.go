package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	archivist "github.com/avenor/archivist/internal"
)

const (
	accessChanSize   = 1000
	accessBatchSize  = 100
	accessFlushEvery = 5 * time.Second
	accessDrainTime  = 30 * time.Second
)

// AccessStore is the persistence interface consumed by AccessRecorder.
type AccessStore interface {
	InsertAccess(ctx context.Context, records []archivist.AccessRecord) error
}

// AccessRecorder buffers access records and batch-flushes them to the store.
// Records are dropped if the channel is full (back-pressure on slow DB).
type AccessRecorder struct {
	ch    chan archivist.AccessRecord
	store AccessStore

	// OnDrop, when non-nil, is invoked for every record dropped on a full
	// channel. Set before the first Record call.
	OnDrop func()
}

// NewAccessRecorder creates an AccessRecorder backed by store.
func NewAccessRecorder(store AccessStore) *AccessRecorder {
	return &AccessRecorder{
		ch:    make(chan archivist.AccessRecord, accessChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (a *AccessRecorder) Name() string { return "access_recorder" }

// Record enqueues an access record. It never blocks; drops on full channel.
func (a *AccessRecorder) Record(r archivist.AccessRecord) {
	select {
	case a.ch <- r:
	default:
		slog.Warn("access record dropped, channel full")
		if a.OnDrop != nil {
			a.OnDrop()
		}
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (a *AccessRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(accessFlushEvery)
	defer ticker.Stop()

	buf := make([]archivist.AccessRecord, 0, accessBatchSize)

	for {
		select {
		case r := <-a.ch:
			buf = append(buf, r)
			if len(buf) >= accessBatchSize {
				a.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				a.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining records with a timeout.
			a.drain(buf)
			return nil
		}
	}
}

func (a *AccessRecorder) drain(buf []archivist.AccessRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), accessDrainTime)
	defer cancel()

	for {
		select {
		case r := <-a.ch:
			buf = append(buf, r)
			if len(buf) >= accessBatchSize {
				a.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				a.flush(ctx, buf)
			}
			return
		}
	}
}

func (a *AccessRecorder) flush(ctx context.Context, buf []archivist.AccessRecord) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]archivist.AccessRecord, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := a.store.InsertAccess(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "access flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
