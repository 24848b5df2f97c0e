// Package render rasterizes document pages into independent page images.
package render

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/MeKo-Tech/docmark/internal/utils"
)

// DefaultDPI is the target rasterization resolution. The zoom factor is
// DPI/72 against the document's native 72-DPI coordinate space.
const DefaultDPI = 144

// Config holds renderer settings.
type Config struct {
	DPI int
}

// DefaultConfig returns renderer defaults.
func DefaultConfig() Config {
	return Config{DPI: DefaultDPI}
}

// Renderer rasterizes PDF pages at a fixed resolution.
type Renderer struct {
	cfg Config
}

// NewRenderer creates a renderer with the given config.
func NewRenderer(cfg Config) *Renderer {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	return &Renderer{cfg: cfg}
}

// DPI returns the configured target resolution.
func (r *Renderer) DPI() int { return r.cfg.DPI }

// ValidateInput rejects files that are not PDFs before any work is done.
func ValidateInput(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fmt.Errorf("unsupported input %q: only PDF files are supported", filepath.Base(path))
	}
	return nil
}

// PageCount returns the number of pages in the document.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count for %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// RenderDocument rasterizes every page of the document in order. Pages
// with an alpha channel are flattened onto a white background; the page
// count of the result always equals the document page count.
func (r *Renderer) RenderDocument(path string) ([]image.Image, error) {
	if err := ValidateInput(path); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = doc.Close() }()

	total := doc.NumPage()
	if total == 0 {
		return nil, errors.New("document has no pages")
	}

	pages := make([]image.Image, 0, total)
	for i := range total {
		img, err := doc.ImageDPI(i, float64(r.cfg.DPI))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		pages = append(pages, Flatten(img))
	}
	return pages, nil
}

// Flatten returns an opaque RGB view of img, compositing translucent
// pages over white.
func Flatten(img image.Image) image.Image {
	if utils.HasAlpha(img) {
		return utils.FlattenOnWhite(img)
	}
	return img
}
