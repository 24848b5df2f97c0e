// Package pipeline drives one conversion task end-to-end: render pages,
// recognize them in a single batched call, parse and annotate the
// results, and assemble the final artifacts.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/docmark/internal/annotate"
	"github.com/MeKo-Tech/docmark/internal/assemble"
	"github.com/MeKo-Tech/docmark/internal/recognize"
	"github.com/MeKo-Tech/docmark/internal/refs"
)

// PageRenderer rasterizes a document into ordered page images.
type PageRenderer interface {
	RenderDocument(path string) ([]image.Image, error)
}

// Config holds coordinator settings.
type Config struct {
	// PrepWorkers bounds the fan-out of CPU-bound page preparation.
	PrepWorkers int
	// SkipUnterminated is the default unterminated-page policy; it can
	// be overridden per task.
	SkipUnterminated bool
	// Annotate enables region overlays and sub-image extraction by
	// default; it can be overridden per task.
	Annotate bool
}

// DefaultConfig returns coordinator defaults.
func DefaultConfig() Config {
	return Config{
		PrepWorkers:      64,
		SkipUnterminated: true,
		Annotate:         true,
	}
}

// Options are the per-task knobs callers may override at submission.
type Options struct {
	Instruction      string
	SkipUnterminated *bool
	Annotate         *bool
}

// Result describes one completed conversion.
type Result struct {
	Artifacts   *assemble.Artifacts
	Pages       int
	SkippedRefs int
}

// Coordinator wires renderer, recognizer, annotator and assembler
// together for one task at a time. A single coordinator is safe for
// concurrent use; per-task state stays on the stack.
type Coordinator struct {
	cfg        Config
	renderer   PageRenderer
	recognizer recognize.Recognizer
	annotator  *annotate.Annotator
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config, renderer PageRenderer, recognizer recognize.Recognizer) *Coordinator {
	if cfg.PrepWorkers <= 0 {
		cfg.PrepWorkers = DefaultConfig().PrepWorkers
	}
	return &Coordinator{
		cfg:        cfg,
		renderer:   renderer,
		recognizer: recognizer,
		annotator:  annotate.NewAnnotator(),
	}
}

// Process converts the document at inputPath, writing all artifacts
// under outDir. Any render, recognition or assembly failure fails the
// whole task; failures local to a single reference are recovered inside
// the annotator.
func (c *Coordinator) Process(ctx context.Context, inputPath, outDir string, opts Options) (*Result, error) {
	start := time.Now()

	pages, err := c.renderer.RenderDocument(inputPath)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	slog.Info("document rendered", "input", filepath.Base(inputPath), "pages", len(pages))

	prepared, err := c.prepPages(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("prepare pages: %w", err)
	}

	texts, err := c.recognizer.Recognize(ctx, prepared, opts.Instruction)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	if len(texts) != len(prepared) {
		return nil, fmt.Errorf("recognizer returned %d results for %d pages", len(texts), len(prepared))
	}

	imagesDir := filepath.Join(outDir, assemble.ImagesDirName)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	annotateEnabled := c.cfg.Annotate
	if opts.Annotate != nil {
		annotateEnabled = *opts.Annotate
	}
	skip := c.cfg.SkipUnterminated
	if opts.SkipUnterminated != nil {
		skip = *opts.SkipUnterminated
	}

	inputs := make([]assemble.PageInput, 0, len(prepared))
	skippedRefs := 0
	for i, raw := range texts {
		in := assemble.PageInput{Index: i, RawText: raw}
		// A page dropped by the unterminated-page policy contributes
		// nothing to any artifact, including extracted sub-images.
		if skip && !refs.Terminated(raw) {
			slog.Warn("page output unterminated, skipping", "page", i)
			inputs = append(inputs, in)
			continue
		}
		in.Refs = refs.Parse(raw)
		skippedRefs += in.Refs.Skipped
		if annotateEnabled {
			page, err := c.annotator.AnnotatePage(prepared[i], in.Refs.All, i, imagesDir)
			if err != nil {
				return nil, fmt.Errorf("annotate page %d: %w", i, err)
			}
			in.Annotated = page.Annotated
		}
		inputs = append(inputs, in)
	}

	assembler := assemble.NewAssembler(assemble.Config{SkipUnterminated: skip})
	artifacts, err := assembler.Assemble(inputs, outDir, stem(inputPath))
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	slog.Info("conversion completed",
		"input", filepath.Base(inputPath),
		"pages", len(pages),
		"skipped_refs", skippedRefs,
		"duration", time.Since(start))
	return &Result{Artifacts: artifacts, Pages: len(pages), SkippedRefs: skippedRefs}, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
