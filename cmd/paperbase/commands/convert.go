package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paperbase/paperbase/cmd/paperbase/ui"
	"github.com/paperbase/paperbase/internal/convert"
	"github.com/paperbase/paperbase/internal/storage"
)

var (
	convertAllWorkers    int
	convertAllResetStale bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <doc-id>",
	Short: "Convert one scanned document into a searchable PDF",
	Long: `Convert one scanned document into a searchable PDF. The document must be
pending conversion. Status and progress are persisted as the conversion
advances; the converted file lands in the knowledge base's converted/
directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var convertAllCmd = &cobra.Command{
	Use:   "convert-all",
	Short: "Convert every document pending conversion",
	Long: `Convert every document pending conversion, one at a time in queue order.
One document failing never stops the rest. Ctrl-C requests a stop: the
document currently converting runs to completion, the remaining queue is
left pending for the next run.

With --workers above 1 the queue is spread over a pool of concurrent
conversions instead of the sequential pass.`,
	Args: cobra.NoArgs,
	RunE: runConvertAll,
}

func init() {
	convertAllCmd.Flags().IntVar(&convertAllWorkers, "workers", 1, "number of concurrent conversions")
	convertAllCmd.Flags().BoolVar(&convertAllResetStale, "reset-stale", false, "requeue documents left in_progress by an earlier abnormal exit")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(convertAllCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	docID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid document id %q", args[0])
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()

	doc, err := e.repos.Documents.GetByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("document %d: %w", docID, err)
	}
	// Pending and failed documents are both eligible; failed rows stay
	// selectable for a manual retry.
	if doc.ConversionStatus != storage.StatusPending && doc.ConversionStatus != storage.StatusFailed {
		return fmt.Errorf("document %d is %s, not eligible for conversion", docID, doc.ConversionStatus)
	}

	owner, err := e.repos.KnowledgeBases.GetByID(ctx, doc.KBID)
	if err != nil {
		return fmt.Errorf("knowledge base %d: %w", doc.KBID, err)
	}

	bar := ui.NewProgressBar(doc.OriginalFilename)
	batch := convert.NewBatchTask(e.repos.Documents, e.newConverter(), progressSink(bar), e.cfg.Conversion.DPI, e.logger)
	batch.ConvertOne(ctx, &storage.PendingConversion{
		DocID:       doc.ID,
		SourcePath:  doc.OriginalPath,
		KBName:      owner.Name,
		KBDirectory: owner.Directory,
	})
	bar.Finish()

	return reportOutcome(ctx, e, docID)
}

func runConvertAll(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()

	if convertAllResetStale {
		n, err := e.repos.Documents.ResetStale(ctx)
		if err != nil {
			return fmt.Errorf("reset stale conversions: %w", err)
		}
		if n > 0 {
			ui.Info("Requeued %d document(s) left in progress", n)
		}
	}

	pending, err := e.repos.Documents.ListPendingConversions(ctx)
	if err != nil {
		return fmt.Errorf("list pending conversions: %w", err)
	}
	if len(pending) == 0 {
		ui.Info("Nothing pending conversion")
		return nil
	}

	ui.Section(fmt.Sprintf("Converting %d document(s)", len(pending)))

	if convertAllWorkers > 1 {
		return runConvertPool(ctx, e, pending)
	}

	bar := ui.NewProgressBar("queue")
	batch := convert.NewBatchTask(e.repos.Documents, e.newConverter(), batchSink(bar, pending), e.cfg.Conversion.DPI, e.logger)

	// Ctrl-C asks the batch to stop after the current document.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	go func() {
		<-stop
		ui.Warning("Stop requested; finishing the current document")
		batch.Stop()
	}()

	if err := batch.Run(ctx); err != nil {
		return err
	}
	bar.Finish()

	return summarize(ctx, e, pending)
}

// runConvertPool spreads the pending queue over a dispatcher pool. Each
// conversion persists its own lifecycle through the shared store-backed sink.
func runConvertPool(ctx context.Context, e *env, pending []*storage.PendingConversion) error {
	sink := convert.MultiSink(
		convert.PersistingSink(e.repos.Documents, e.logger),
		terminalSink(),
	)

	d := convert.NewDispatcher(convertAllWorkers, e.cfg.Conversion.DPI, e.newConverter(), sink, e.logger)
	d.Start(ctx)

	spin := ui.NewSpinner(fmt.Sprintf("converting with %d workers", convertAllWorkers))
	spin.Start()

	for _, doc := range pending {
		outputDir := filepath.Join(doc.KBDirectory, "converted")
		if err := d.Dispatch(doc.DocID, doc.SourcePath, outputDir); err != nil {
			ui.Error("Document %d not queued: %v", doc.DocID, err)
		}
	}
	d.Shutdown()
	spin.Stop()

	return summarize(ctx, e, pending)
}

// progressSink renders a single document's progress events onto one bar.
func progressSink(bar *ui.ProgressBar) convert.EventSink {
	return convert.SinkFunc(func(ev convert.Event) {
		switch ev.Kind {
		case convert.EventProgress:
			bar.Set(ev.Percent)
		case convert.EventPageProcessed:
			if ev.TotalPages > 0 {
				bar.Describe(fmt.Sprintf("page %d/%d", ev.CurrentPage, ev.TotalPages))
			}
		case convert.EventFailed:
			ui.Error("%v", ev.Err)
		}
	})
}

// batchSink renders a sequential batch run: the bar tracks the current
// document, terminal events print a line each.
func batchSink(bar *ui.ProgressBar, pending []*storage.PendingConversion) convert.EventSink {
	names := make(map[int64]string, len(pending))
	for _, doc := range pending {
		names[doc.DocID] = filepath.Base(doc.SourcePath)
	}

	return convert.SinkFunc(func(ev convert.Event) {
		switch ev.Kind {
		case convert.EventStarted:
			bar.Set(0)
			bar.Describe(names[ev.DocID])
		case convert.EventProgress:
			bar.Set(ev.Percent)
		case convert.EventCompleted:
			ui.Success("%s → %s (%d pages)", names[ev.DocID], ev.OutputPath, ev.PageCount)
		case convert.EventFailed:
			ui.Error("%s: %v", names[ev.DocID], ev.Err)
		}
	})
}

// terminalSink prints only terminal events; concurrent conversions make a
// shared progress bar meaningless.
func terminalSink() convert.EventSink {
	return convert.SinkFunc(func(ev convert.Event) {
		switch ev.Kind {
		case convert.EventCompleted:
			ui.Success("Document %d → %s (%d pages)", ev.DocID, ev.OutputPath, ev.PageCount)
		case convert.EventFailed:
			ui.Error("Document %d: %v", ev.DocID, ev.Err)
		}
	})
}

// reportOutcome prints the persisted terminal state of one document and
// returns an error for a failed conversion so the process exits non-zero.
func reportOutcome(ctx context.Context, e *env, docID int64) error {
	doc, err := e.repos.Documents.GetByID(ctx, docID)
	if err != nil {
		return err
	}

	switch doc.ConversionStatus {
	case storage.StatusCompleted:
		ui.Success("Converted %s (%d pages)", doc.OriginalFilename, doc.PageCount)
		if doc.ConvertedPath != nil {
			ui.KeyValue("Output", *doc.ConvertedPath)
		}
		return nil
	case storage.StatusFailed:
		return fmt.Errorf("conversion of document %d failed", docID)
	default:
		return fmt.Errorf("document %d ended in unexpected state %s", docID, doc.ConversionStatus)
	}
}

// summarize tallies the terminal states of the documents a run touched.
func summarize(ctx context.Context, e *env, pending []*storage.PendingConversion) error {
	var completed, failed, remaining int
	for _, p := range pending {
		doc, err := e.repos.Documents.GetByID(ctx, p.DocID)
		if err != nil {
			return err
		}
		switch doc.ConversionStatus {
		case storage.StatusCompleted:
			completed++
		case storage.StatusFailed:
			failed++
		default:
			remaining++
		}
	}

	ui.Newline()
	ui.Info("Completed: %d, failed: %d, still pending: %d", completed, failed, remaining)
	return nil
}
