package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docmark/internal/refs"
	"github.com/MeKo-Tech/docmark/internal/testutil"
)

type stubRenderer struct {
	pages []image.Image
	err   error
}

func (s *stubRenderer) RenderDocument(string) ([]image.Image, error) {
	return s.pages, s.err
}

type stubRecognizer struct {
	texts       []string
	err         error
	calls       int
	gotPages    int
	instruction string
}

func (s *stubRecognizer) Recognize(_ context.Context, pages []image.Image, instruction string) ([]string, error) {
	s.calls++
	s.gotPages = len(pages)
	s.instruction = instruction
	return s.texts, s.err
}

func (s *stubRecognizer) Close() error { return nil }

func terminated(s string) string { return s + refs.EndOfOutput }

func TestProcess_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	rend := &stubRenderer{pages: []image.Image{
		testutil.WhitePage(999, 999),
		testutil.WhitePage(999, 999),
	}}
	rec := &stubRecognizer{texts: []string{
		terminated("# Page one\n<|ref|>image<|/ref|><|det|>[[100, 100, 200, 200]]<|/det|>"),
		terminated("# Page two"),
	}}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	res, err := c.Process(context.Background(), "paper.pdf", dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, rec.calls, "recognition must be one batched call")
	assert.Equal(t, 2, rec.gotPages)

	md, err := os.ReadFile(res.Artifacts.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "![](images/0_0.jpg)")
	assert.Contains(t, string(md), "# Page two")

	_, err = os.Stat(filepath.Join(res.Artifacts.ImagesDir, "0_0.jpg"))
	assert.NoError(t, err, "extracted sub-image should exist on disk")

	_, err = os.Stat(res.Artifacts.LayoutPDFPath)
	assert.NoError(t, err)
}

func TestProcess_ArtifactStemFollowsInput(t *testing.T) {
	dir := t.TempDir()
	rend := &stubRenderer{pages: []image.Image{testutil.WhitePage(100, 100)}}
	rec := &stubRecognizer{texts: []string{terminated("text")}}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	res, err := c.Process(context.Background(), "/uploads/report.pdf", dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.mmd"), res.Artifacts.MarkdownPath)
	assert.Equal(t, filepath.Join(dir, "report_det.mmd"), res.Artifacts.DetectionsPath)
}

func TestProcess_RenderFailureFailsTask(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), &stubRenderer{err: errors.New("corrupt file")}, &stubRecognizer{})
	_, err := c.Process(context.Background(), "bad.pdf", t.TempDir(), Options{})
	assert.ErrorContains(t, err, "render")
}

func TestProcess_RecognizeFailureFailsTask(t *testing.T) {
	rend := &stubRenderer{pages: []image.Image{testutil.WhitePage(10, 10)}}
	rec := &stubRecognizer{err: errors.New("model unavailable")}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	_, err := c.Process(context.Background(), "doc.pdf", t.TempDir(), Options{})
	assert.ErrorContains(t, err, "recognize")
}

func TestProcess_CustomInstructionForwarded(t *testing.T) {
	rend := &stubRenderer{pages: []image.Image{testutil.WhitePage(10, 10)}}
	rec := &stubRecognizer{texts: []string{terminated("x")}}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	_, err := c.Process(context.Background(), "doc.pdf", t.TempDir(), Options{Instruction: "free OCR"})
	require.NoError(t, err)
	assert.Equal(t, "free OCR", rec.instruction)
}

func TestProcess_SkipPolicyOverride(t *testing.T) {
	dir := t.TempDir()
	rend := &stubRenderer{pages: []image.Image{testutil.WhitePage(10, 10)}}
	rec := &stubRecognizer{texts: []string{"unterminated output"}}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	keep := false
	res, err := c.Process(context.Background(), "doc.pdf", dir, Options{SkipUnterminated: &keep})
	require.NoError(t, err)

	md, err := os.ReadFile(res.Artifacts.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "unterminated output")
}

func TestProcess_SkippedPageExtractsNoImages(t *testing.T) {
	dir := t.TempDir()
	rend := &stubRenderer{pages: []image.Image{testutil.WhitePage(999, 999)}}
	rec := &stubRecognizer{texts: []string{
		"<|ref|>image<|/ref|><|det|>[[100, 100, 400, 400]]<|/det|>",
	}}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	res, err := c.Process(context.Background(), "doc.pdf", dir, Options{})
	require.NoError(t, err)

	md, err := os.ReadFile(res.Artifacts.MarkdownPath)
	require.NoError(t, err)
	assert.Empty(t, string(md))
	assert.Empty(t, res.Artifacts.LayoutPDFPath)

	entries, err := os.ReadDir(res.Artifacts.ImagesDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a dropped page must contribute no sub-images")
}

func TestProcess_AnnotationDisabled(t *testing.T) {
	dir := t.TempDir()
	rend := &stubRenderer{pages: []image.Image{testutil.WhitePage(999, 999)}}
	rec := &stubRecognizer{texts: []string{
		terminated("<|ref|>image<|/ref|><|det|>[[100, 100, 200, 200]]<|/det|>"),
	}}
	c := NewCoordinator(DefaultConfig(), rend, rec)

	off := false
	res, err := c.Process(context.Background(), "doc.pdf", dir, Options{Annotate: &off})
	require.NoError(t, err)
	assert.Empty(t, res.Artifacts.LayoutPDFPath)

	entries, err := os.ReadDir(res.Artifacts.ImagesDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no crops without annotation")
}

func TestPrepPages_PreservesOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrepWorkers = 8
	c := NewCoordinator(cfg, &stubRenderer{}, &stubRecognizer{})

	pages := make([]image.Image, 32)
	for i := range pages {
		pages[i] = testutil.SolidPage(4, 4, color.NRGBA{R: uint8(i * 7), G: uint8(i), B: 0, A: 255})
	}
	prepared, err := c.prepPages(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, prepared, len(pages))
	for i, p := range prepared {
		wr, wg, wb, _ := pages[i].At(0, 0).RGBA()
		gr, gg, gb, _ := p.At(0, 0).RGBA()
		require.Equal(t, [3]uint32{wr, wg, wb}, [3]uint32{gr, gg, gb},
			fmt.Sprintf("page %d out of order", i))
	}
}

func TestPrepPages_Cancellation(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), &stubRenderer{}, &stubRecognizer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages := make([]image.Image, 64)
	for i := range pages {
		pages[i] = testutil.WhitePage(4, 4)
	}
	_, err := c.prepPages(ctx, pages)
	assert.Error(t, err)
}
