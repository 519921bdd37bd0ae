// Package dispatch is broker's Rate-Limited Upload Dispatcher (spec.md
// §4.5): one instance per integration, pairing a bounded FIFO of
// UploadTasks with a token bucket that releases one upload per minute.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/refstore"
	"github.com/fossas/broker/internal/types"
	"github.com/fossas/broker/internal/uploader"
)

// QueueCapacity is the dispatcher's fixed small FIFO capacity, per
// spec.md §4.5.
const QueueCapacity = 8

// Interval is the token bucket's refill period: one upload per minute.
const Interval = 60 * time.Second

// UploadTask pairs a ScanRecord key with its analysis artifact and
// upload metadata, per spec.md's glossary entry for UploadTask.
type UploadTask struct {
	Reference types.Reference
	Artifact  *analyzer.Artifact
	Metadata  uploader.Metadata
}

// Dispatcher serializes uploads for one integration to at most one per
// Interval, applying backpressure when its queue is full.
type Dispatcher struct {
	integrationID string
	store         *refstore.Store
	upload        *uploader.Client
	limiter       *rate.Limiter
	queue         chan UploadTask

	log *slog.Logger
}

// New returns a Dispatcher for one integration. log may be nil, in
// which case the default slog logger is used; upload failures are
// still logged, not silently dropped, per spec.md §4.4 ("logs and
// drops the task").
func New(integrationID string, store *refstore.Store, upload *uploader.Client, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		integrationID: integrationID,
		store:         store,
		upload:        upload,
		limiter:       rate.NewLimiter(rate.Every(Interval), 1),
		queue:         make(chan UploadTask, QueueCapacity),
		log:           log,
	}
}

// Enqueue adds task to the dispatcher's FIFO. It blocks when the queue
// is full, which is the deliberate backpressure mechanism of spec.md
// §4.5: a blocked Enqueue in turn stalls the Scan Pipeline offering new
// work for this integration, without affecting other integrations.
func (d *Dispatcher) Enqueue(ctx context.Context, task UploadTask) error {
	select {
	case d.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes one task per token until ctx is canceled. Upload order
// within this dispatcher equals enqueue order, per spec.md §4.5.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			d.deliver(ctx, task)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task UploadTask) {
	err := d.upload.Upload(ctx, task.Artifact, task.Metadata)
	if err != nil {
		d.log.Error("upload failed",
			"integration", d.integrationID, "reference", task.Reference.ShortName(),
			"revision", task.Reference.Revision, "error", err)
		return
	}

	if err := d.store.RecordScanned(ctx, d.integrationID, task.Reference.Kind, task.Reference.Name, task.Reference.Revision, time.Now()); err != nil {
		d.log.Error("record_scanned failed",
			"integration", d.integrationID, "reference", task.Reference.ShortName(),
			"revision", task.Reference.Revision, "error", err)
	}
}

// QueueLen reports the number of tasks currently buffered, for tests
// and diagnostics.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// ErrQueueFull is returned by a non-blocking enqueue attempt (TryEnqueue).
var ErrQueueFull = fmt.Errorf("dispatch: queue at capacity (%d)", QueueCapacity)

// TryEnqueue attempts a non-blocking enqueue, returning ErrQueueFull
// immediately rather than applying backpressure. Used by callers (e.g.
// tests) that need to observe a full queue without blocking.
func (d *Dispatcher) TryEnqueue(task UploadTask) error {
	select {
	case d.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}
