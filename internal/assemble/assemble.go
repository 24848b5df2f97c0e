// Package assemble merges per-page recognition results into the final
// document artifacts: clean markdown, markdown with detections, and a
// combined annotated PDF.
package assemble

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/docmark/internal/refs"
)

// PageSeparator delimits pages in the merged text artifacts.
const PageSeparator = "<--- Page Split --->"

// ImagesDirName is the directory of extracted sub-images, relative to
// the task output directory. Clean-text links are relative to it.
const ImagesDirName = "images"

const jpegQuality = 95

var blankRuns = regexp.MustCompile(`\n{3,}`)

var mathReplacer = strings.NewReplacer(
	`\coloneqq`, ":=",
	`\eqqcolon`, "=:",
)

// Config holds assembler settings.
type Config struct {
	// SkipUnterminated drops pages whose raw text lacks the
	// end-of-output marker from every artifact. When false such pages
	// are kept with the marker simply absent.
	SkipUnterminated bool
}

// DefaultConfig returns assembler defaults.
func DefaultConfig() Config {
	return Config{SkipUnterminated: true}
}

// PageInput is one recognized page ready for assembly.
type PageInput struct {
	Index     int
	RawText   string
	Refs      refs.Result
	Annotated image.Image // nil when annotation is disabled
}

// Artifacts holds the persisted output paths of one assembled document.
type Artifacts struct {
	MarkdownPath   string
	DetectionsPath string
	LayoutPDFPath  string
	ImagesDir      string
}

// Assembler builds document artifacts from recognized pages.
type Assembler struct {
	cfg Config
}

// NewAssembler creates an assembler with the given config.
func NewAssembler(cfg Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// Assemble writes {stem}.mmd, {stem}_det.mmd and {stem}_layouts.pdf
// under outDir, keeping pages in original order. Pages skipped by the
// unterminated-page policy are absent from all three artifacts.
func (a *Assembler) Assemble(pages []PageInput, outDir, stem string) (*Artifacts, error) {
	var clean, detections strings.Builder
	var annotated []image.Image

	for _, page := range pages {
		if !refs.Terminated(page.RawText) && a.cfg.SkipUnterminated {
			continue
		}
		content := refs.StripMarker(page.RawText)

		detections.WriteString(content)
		detections.WriteString("\n" + PageSeparator + "\n")

		clean.WriteString(CleanPage(content, page.Refs, page.Index))
		clean.WriteString("\n" + PageSeparator + "\n")

		if page.Annotated != nil {
			annotated = append(annotated, page.Annotated)
		}
	}

	art := &Artifacts{
		MarkdownPath:   filepath.Join(outDir, stem+".mmd"),
		DetectionsPath: filepath.Join(outDir, stem+"_det.mmd"),
		ImagesDir:      filepath.Join(outDir, ImagesDirName),
	}
	if err := os.WriteFile(art.MarkdownPath, []byte(clean.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}
	if err := os.WriteFile(art.DetectionsPath, []byte(detections.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write detections markdown: %w", err)
	}

	if len(annotated) > 0 {
		path := filepath.Join(outDir, stem+"_layouts.pdf")
		if err := writeImagesPDF(annotated, path); err != nil {
			return nil, fmt.Errorf("write layout pdf: %w", err)
		}
		art.LayoutPDFPath = path
	}
	return art, nil
}

// CleanPage turns one page of raw tagged text into clean prose: image
// references become relative links in ordinal order, other references
// are removed, math notation is normalized and blank-line runs are
// collapsed.
func CleanPage(content string, res refs.Result, pageIndex int) string {
	for i, ref := range res.Images {
		link := fmt.Sprintf("![](%s/%d_%d.jpg)\n", ImagesDirName, pageIndex, i)
		content = strings.Replace(content, ref.Raw, link, 1)
	}
	for _, ref := range res.Others {
		content = strings.ReplaceAll(content, ref.Raw, "")
	}
	content = mathReplacer.Replace(content)
	content = blankRuns.ReplaceAllString(content, "\n\n")
	return norm.NFC.String(content)
}

// writeImagesPDF encodes pages as JPEG and merges them into one PDF,
// preserving order.
func writeImagesPDF(pages []image.Image, outPath string) error {
	tmpDir, err := os.MkdirTemp(filepath.Dir(outPath), "layout-pages-")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	files := make([]string, 0, len(pages))
	for i, page := range pages {
		path := filepath.Join(tmpDir, fmt.Sprintf("page_%04d.jpg", i))
		if err := imaging.Save(page, path, imaging.JPEGQuality(jpegQuality)); err != nil {
			return fmt.Errorf("encode page %d: %w", i, err)
		}
		files = append(files, path)
	}
	if err := api.ImportImagesFile(files, outPath, nil, nil); err != nil {
		return fmt.Errorf("merge pages: %w", err)
	}
	return nil
}
