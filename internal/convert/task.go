package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paperbase/paperbase/internal/observability"
)

// assemblyStartPercent is the progress value reserved for the final PDF
// assembly step. Page processing interpolates from 0 to this value; 100 is
// only reported after the output file is verified on disk.
const assemblyStartPercent = 95.0

// Result is what a successful conversion produced.
type Result struct {
	OutputPath string
	PageCount  int
}

// Task converts one scanned document into a searchable PDF, emitting the
// ordered lifecycle events to its sink. A task never panics and never
// returns an error to its caller: every failure ends in a terminal error
// event, and Run reports nil.
type Task struct {
	DocID      int64
	SourcePath string
	OutputDir  string
	DPI        int

	converter PageConverter
	sink      EventSink
	logger    *observability.Logger
}

// NewTask creates a conversion task for one document.
func NewTask(docID int64, sourcePath, outputDir string, dpi int, converter PageConverter, sink EventSink, logger *observability.Logger) *Task {
	if sink == nil {
		sink = NopSink
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Task{
		DocID:      docID,
		SourcePath: sourcePath,
		OutputDir:  outputDir,
		DPI:        dpi,
		converter:  converter,
		sink:       sink,
		logger:     logger.WithComponent("convert.task").WithDocument(docID),
	}
}

// cleaner is implemented by converters that hold temporary state per attempt.
type cleaner interface {
	Cleanup() error
}

// Run executes the conversion. The emitted event sequence per attempt is:
// started, zero or more progress/page_processed pairs, then exactly one of
// completed or error. Progress within one attempt is non-decreasing.
func (t *Task) Run(ctx context.Context) *Result {
	t.sink.Emit(Event{Kind: EventStarted, DocID: t.DocID})
	t.logger.Info().Str("source", t.SourcePath).Msg("conversion started")

	if c, ok := t.converter.(cleaner); ok {
		defer func() {
			if err := c.Cleanup(); err != nil {
				t.logger.Warn().Err(err).Msg("converter cleanup failed")
			}
		}()
	}

	if err := os.MkdirAll(t.OutputDir, 0o755); err != nil {
		return t.fail(fmt.Errorf("create output directory: %w", err))
	}

	pages, err := t.converter.Discover(ctx, t.SourcePath, t.DPI)
	if err != nil {
		return t.fail(err)
	}

	total := len(pages)
	t.sink.Emit(Event{Kind: EventPageProcessed, DocID: t.DocID, CurrentPage: 0, TotalPages: total})

	results := make([]PageResult, 0, total)
	for i, page := range pages {
		res, err := t.converter.ProcessPage(ctx, page)
		if err != nil {
			return t.fail(err)
		}
		results = append(results, res)

		done := i + 1
		percent := 0.0
		if total > 0 {
			percent = float64(done) / float64(total) * assemblyStartPercent
		}
		t.sink.Emit(Event{Kind: EventProgress, DocID: t.DocID, Percent: percent})
		t.sink.Emit(Event{Kind: EventPageProcessed, DocID: t.DocID, CurrentPage: done, TotalPages: total})
	}

	t.sink.Emit(Event{Kind: EventProgress, DocID: t.DocID, Percent: assemblyStartPercent})

	outputPath, err := t.converter.Assemble(ctx, results, t.outputPath())
	if err != nil {
		return t.fail(err)
	}

	t.sink.Emit(Event{Kind: EventProgress, DocID: t.DocID, Percent: 99})

	// Assembly returning cleanly is not proof of an artifact; trust
	// nothing but the file itself.
	if _, err := os.Stat(outputPath); err != nil {
		return t.fail(fmt.Errorf("output file was not created: %s", outputPath))
	}

	t.sink.Emit(Event{Kind: EventProgress, DocID: t.DocID, Percent: 100})
	t.sink.Emit(Event{
		Kind:       EventCompleted,
		DocID:      t.DocID,
		OutputPath: outputPath,
		PageCount:  total,
	})

	t.logger.Info().
		Str("output", outputPath).
		Int("pages", total).
		Msg("conversion completed")

	return &Result{OutputPath: outputPath, PageCount: total}
}

// fail wraps the error with a human-readable prefix, emits the terminal
// error event, and returns nil.
func (t *Task) fail(err error) *Result {
	wrapped := fmt.Errorf("conversion error: %w", err)
	t.logger.Error().Err(wrapped).Msg("conversion failed")
	t.sink.Emit(Event{Kind: EventFailed, DocID: t.DocID, Err: wrapped})
	return nil
}

// outputPath derives the converted artifact location from the source
// filename: <output_dir>/<stem>_converted.pdf.
func (t *Task) outputPath() string {
	base := filepath.Base(t.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(t.OutputDir, stem+"_converted.pdf")
}
