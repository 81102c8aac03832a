package convert

import "context"

// Page is one rasterized page of a source PDF.
type Page struct {
	Number    int // 1-based
	ImagePath string
	Width     int
	Height    int
}

// PageResult is the outcome of processing one page.
type PageResult struct {
	Page Page
	Text string
}

// PageConverter is the narrow contract the conversion task drives. The three
// call sites let the task account for progress by composition instead of
// requiring the converter to be subclassed or instrumented.
type PageConverter interface {
	// Discover rasterizes the source PDF and returns its pages. The
	// result length is the document's total page count.
	Discover(ctx context.Context, sourcePath string, dpi int) ([]Page, error)

	// ProcessPage extracts text from one page.
	ProcessPage(ctx context.Context, page Page) (PageResult, error)

	// Assemble builds the final searchable PDF at outputPath and returns
	// the artifact's location.
	Assemble(ctx context.Context, results []PageResult, outputPath string) (string, error)
}
