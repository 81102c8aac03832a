package convert

import (
	"context"
	"errors"
	"sync"

	"github.com/paperbase/paperbase/internal/observability"
)

// Dispatch errors.
var (
	ErrInFlight  = errors.New("conversion already in flight for document")
	ErrQueueFull = errors.New("conversion queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Dispatcher runs single-document conversion tasks on a fixed-size worker
// pool so callers never block on conversion work. A per-document in-flight
// guard rejects a second dispatch for the same id while the first is still
// running, preventing duplicate work and conflicting store updates.
type Dispatcher struct {
	workers      int
	dpi          int
	newConverter func() PageConverter
	sink         EventSink
	logger       *observability.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
	jobs     chan dispatchJob
	stopped  bool
	wg       sync.WaitGroup
}

type dispatchJob struct {
	docID      int64
	sourcePath string
	outputDir  string
}

// NewDispatcher creates a dispatcher with the given pool size.
func NewDispatcher(workers, dpi int, newConverter func() PageConverter, sink EventSink, logger *observability.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if sink == nil {
		sink = NopSink
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Dispatcher{
		workers:      workers,
		dpi:          dpi,
		newConverter: newConverter,
		sink:         sink,
		logger:       logger.WithComponent("convert.dispatcher"),
		inFlight:     make(map[int64]struct{}),
		jobs:         make(chan dispatchJob, 64),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or
// Shutdown is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.jobs:
					if !ok {
						return
					}
					d.run(ctx, job)
				}
			}
		}()
	}
}

// Dispatch queues one document for conversion. It never blocks: a duplicate
// document returns ErrInFlight and a saturated queue returns ErrQueueFull.
// The buffered send stays under the mutex so it can never race Shutdown's
// close of the job channel.
func (d *Dispatcher) Dispatch(docID int64, sourcePath, outputDir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if _, dup := d.inFlight[docID]; dup {
		return ErrInFlight
	}

	select {
	case d.jobs <- dispatchJob{docID: docID, sourcePath: sourcePath, outputDir: outputDir}:
		d.inFlight[docID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight conversions to
// reach their terminal events.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, job dispatchJob) {
	defer d.clear(job.docID)

	task := NewTask(job.docID, job.sourcePath, job.outputDir, d.dpi, d.newConverter(), d.sink, d.logger)
	task.Run(ctx)
}

func (d *Dispatcher) clear(docID int64) {
	d.mu.Lock()
	delete(d.inFlight, docID)
	d.mu.Unlock()
}
