package convert

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/jung-kurt/gofpdf"
	"github.com/otiai10/gosseract/v2"
)

// OCRConverterConfig holds OCR converter settings.
type OCRConverterConfig struct {
	JPEGQuality int
	Language    string // tesseract language code, e.g. "eng"
}

// OCRConverter converts scanned PDFs into searchable PDFs: go-fitz
// rasterizes pages, tesseract extracts text, and the output PDF carries each
// page image with an invisible text layer underneath.
type OCRConverter struct {
	cfg     OCRConverterConfig
	dpi     int
	tempDir string
}

// NewOCRConverter creates an OCR-backed page converter.
func NewOCRConverter(cfg OCRConverterConfig) *OCRConverter {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &OCRConverter{cfg: cfg}
}

// Discover rasterizes the source PDF into per-page JPEGs in a temporary
// directory. A PDF with zero pages yields an empty slice, not an error.
func (c *OCRConverter) Discover(ctx context.Context, sourcePath string, dpi int) ([]Page, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("source file: %w", err)
	}

	doc, err := fitz.New(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	tempDir, err := os.MkdirTemp("", "paperbase-convert-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	c.tempDir = tempDir
	c.dpi = dpi

	pageCount := doc.NumPage()
	pages := make([]Page, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("rasterize page %d: %w", pageNum+1, err)
		}

		outputPath := filepath.Join(tempDir, fmt.Sprintf("page_%03d.jpg", pageNum+1))
		outputFile, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("create page image %d: %w", pageNum+1, err)
		}

		err = jpeg.Encode(outputFile, img, &jpeg.Options{Quality: c.cfg.JPEGQuality})
		outputFile.Close()
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", pageNum+1, err)
		}

		bounds := img.Bounds()
		pages = append(pages, Page{
			Number:    pageNum + 1,
			ImagePath: outputPath,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
		})
	}

	return pages, nil
}

// ProcessPage runs tesseract over one page image. The image is grayscaled
// and sharpened first; scanned pages OCR noticeably better that way.
func (c *OCRConverter) ProcessPage(ctx context.Context, page Page) (PageResult, error) {
	select {
	case <-ctx.Done():
		return PageResult{}, ctx.Err()
	default:
	}

	img, err := imaging.Open(page.ImagePath)
	if err != nil {
		return PageResult{}, fmt.Errorf("open page image %d: %w", page.Number, err)
	}

	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 15)
	gray = imaging.Sharpen(gray, 0.7)

	ocrPath := page.ImagePath + ".ocr.png"
	if err := imaging.Save(gray, ocrPath); err != nil {
		return PageResult{}, fmt.Errorf("save preprocessed page %d: %w", page.Number, err)
	}
	defer os.Remove(ocrPath)

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(c.cfg.Language); err != nil {
		return PageResult{}, fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(ocrPath); err != nil {
		return PageResult{}, fmt.Errorf("set ocr image for page %d: %w", page.Number, err)
	}

	text, err := client.Text()
	if err != nil {
		return PageResult{}, fmt.Errorf("ocr page %d: %w", page.Number, err)
	}

	return PageResult{Page: page, Text: text}, nil
}

// Assemble writes the searchable PDF: each page carries its rasterized image
// with the extracted text placed invisibly behind it so the output is
// selectable and indexable.
func (c *OCRConverter) Assemble(ctx context.Context, results []PageResult, outputPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	dpi := c.dpi
	if dpi <= 0 {
		dpi = 300
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 10)

	// A source with no pages still yields a valid, openable PDF.
	if len(results) == 0 {
		pdf.AddPage()
	}

	for _, res := range results {
		w := pxToMM(res.Page.Width, dpi)
		h := pxToMM(res.Page.Height, dpi)
		orientation := "P"
		if w > h {
			orientation = "L"
		}
		pdf.AddPageFormat(orientation, gofpdf.SizeType{Wd: w, Ht: h})

		// Invisible text layer first, page image on top.
		pdf.SetAlpha(0, "Normal")
		pdf.SetXY(0, 0)
		pdf.MultiCell(w, 4, res.Text, "", "L", false)
		pdf.SetAlpha(1, "Normal")

		pdf.ImageOptions(res.Page.ImagePath, 0, 0, w, h, false,
			gofpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	}

	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return "", fmt.Errorf("write output pdf: %w", err)
	}

	return outputPath, nil
}

// Cleanup removes the temporary page images from the last Discover call.
func (c *OCRConverter) Cleanup() error {
	if c.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(c.tempDir)
	c.tempDir = ""
	return err
}

// pxToMM converts a pixel length at the given DPI to millimeters.
func pxToMM(px, dpi int) float64 {
	return float64(px) / float64(dpi) * 25.4
}
