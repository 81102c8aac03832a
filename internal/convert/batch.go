package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/paperbase/paperbase/internal/observability"
	"github.com/paperbase/paperbase/internal/storage"
)

// convertedSubdir is the fixed per-knowledge-base folder converted
// artifacts land in.
const convertedSubdir = "converted"

// DocumentStore is the slice of the persistence store the batch task needs.
// *storage.DocumentRepository satisfies it.
type DocumentStore interface {
	ListPendingConversions(ctx context.Context) ([]*storage.PendingConversion, error)
	UpdateConversion(ctx context.Context, docID int64, status storage.ConversionStatus, progress *float64, convertedPath *string, pageCount *int) error
}

// BatchTask processes every document pending conversion, one at a time, in
// the store's natural order. Each document's status and progress are
// persisted as the conversion advances, so observers that reconnect mid-run
// see state at least as current as the last page callback. One document
// failing never stops the batch.
type BatchTask struct {
	store        DocumentStore
	newConverter func() PageConverter
	sink         EventSink
	dpi          int
	logger       *observability.Logger

	stopped atomic.Bool
}

// NewBatchTask creates a batch conversion task. newConverter is invoked once
// per document so converters holding per-attempt state start fresh each time.
func NewBatchTask(store DocumentStore, newConverter func() PageConverter, sink EventSink, dpi int, logger *observability.Logger) *BatchTask {
	if sink == nil {
		sink = NopSink
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &BatchTask{
		store:        store,
		newConverter: newConverter,
		sink:         sink,
		dpi:          dpi,
		logger:       logger.WithComponent("convert.batch"),
	}
}

// Stop requests a cooperative stop. The document currently converting runs
// to its terminal state; the remaining queue is dropped.
func (b *BatchTask) Stop() {
	b.stopped.Store(true)
}

// Run processes the pending queue. It returns an error only when the queue
// itself cannot be read; per-document failures surface as error events and
// persisted failed rows, never as a returned error.
func (b *BatchTask) Run(ctx context.Context) error {
	pending, err := b.store.ListPendingConversions(ctx)
	if err != nil {
		return fmt.Errorf("list pending conversions: %w", err)
	}

	b.logger.Info().Int("pending", len(pending)).Msg("batch conversion started")

	processed := 0
	for _, doc := range pending {
		if b.stopped.Load() || ctx.Err() != nil {
			b.logger.Info().Int("processed", processed).Msg("batch conversion stopped")
			return nil
		}

		b.ConvertOne(ctx, doc)
		processed++
	}

	b.logger.Info().Int("processed", processed).Msg("batch conversion finished")
	return nil
}

// ConvertOne runs the full persisted lifecycle for a single queue entry:
// in_progress with progress zero before work starts, per-page progress as it
// is emitted, and a terminal completed or failed row at the end.
func (b *BatchTask) ConvertOne(ctx context.Context, doc *storage.PendingConversion) {
	zero := 0.0
	if err := b.store.UpdateConversion(ctx, doc.DocID, storage.StatusInProgress, &zero, nil, nil); err != nil {
		wrapped := fmt.Errorf("conversion error: mark in progress: %w", err)
		b.logger.Error().Err(err).Int64("doc_id", doc.DocID).Msg("failed to mark document in progress")
		b.sink.Emit(Event{Kind: EventFailed, DocID: doc.DocID, Err: wrapped})
		return
	}

	outputDir := filepath.Join(doc.KBDirectory, convertedSubdir)

	// Page progress is persisted as it is emitted so a crash between
	// events loses at most the current page.
	sink := MultiSink(b.sink, b.persistingSink(doc.DocID))

	task := NewTask(doc.DocID, doc.SourcePath, outputDir, b.dpi, b.newConverter(), sink, b.logger)
	result := task.Run(ctx)

	if result == nil {
		// Progress resets to zero on failure; the partial value would
		// suggest resumable work that does not exist.
		if err := b.store.UpdateConversion(ctx, doc.DocID, storage.StatusFailed, &zero, nil, nil); err != nil {
			b.logger.Error().Err(err).Int64("doc_id", doc.DocID).Msg("failed to persist failed status")
		}
		return
	}

	hundred := 100.0
	if err := b.store.UpdateConversion(ctx, doc.DocID, storage.StatusCompleted, &hundred, &result.OutputPath, &result.PageCount); err != nil {
		b.logger.Error().Err(err).Int64("doc_id", doc.DocID).Msg("failed to persist completed status")
	}
}

// persistingSink returns a sink that mirrors progress events into the store.
// Persistence failures are logged, not fatal: the conversion itself is the
// source of truth and its terminal write will catch the row up.
func (b *BatchTask) persistingSink(docID int64) EventSink {
	return SinkFunc(func(e Event) {
		// The final 100 belongs to the terminal completed write.
		if e.Kind != EventProgress || e.Percent >= 100 {
			return
		}
		progress := e.Percent
		if err := b.store.UpdateConversion(context.Background(), docID, storage.StatusInProgress, &progress, nil, nil); err != nil {
			b.logger.Warn().Err(err).Int64("doc_id", docID).Float64("progress", progress).Msg("failed to persist progress")
		}
	})
}
