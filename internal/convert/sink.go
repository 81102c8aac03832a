package convert

import (
	"context"

	"github.com/paperbase/paperbase/internal/observability"
	"github.com/paperbase/paperbase/internal/storage"
)

// PersistingSink mirrors conversion events into the store, keyed by the
// event's document id, so one shared sink can serve concurrently dispatched
// tasks. Lifecycle writes match the batch task's: started marks the row
// in_progress at zero, progress below 100 updates the running percentage,
// failure resets progress to zero, and completion writes the terminal row
// with output path and page count. Persistence failures are logged, never
// propagated.
func PersistingSink(store DocumentStore, logger *observability.Logger) EventSink {
	if logger == nil {
		logger = observability.Nop()
	}
	logger = logger.WithComponent("convert.sink")

	return SinkFunc(func(e Event) {
		ctx := context.Background()
		var err error

		switch e.Kind {
		case EventStarted:
			zero := 0.0
			err = store.UpdateConversion(ctx, e.DocID, storage.StatusInProgress, &zero, nil, nil)
		case EventProgress:
			if e.Percent >= 100 {
				return
			}
			progress := e.Percent
			err = store.UpdateConversion(ctx, e.DocID, storage.StatusInProgress, &progress, nil, nil)
		case EventFailed:
			zero := 0.0
			err = store.UpdateConversion(ctx, e.DocID, storage.StatusFailed, &zero, nil, nil)
		case EventCompleted:
			hundred := 100.0
			path := e.OutputPath
			pages := e.PageCount
			err = store.UpdateConversion(ctx, e.DocID, storage.StatusCompleted, &hundred, &path, &pages)
		default:
			return
		}

		if err != nil {
			logger.Warn().Err(err).Int64("doc_id", e.DocID).Str("kind", string(e.Kind)).Msg("failed to persist conversion event")
		}
	})
}
