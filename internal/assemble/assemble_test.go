package assemble

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docmark/internal/refs"
	"github.com/MeKo-Tech/docmark/internal/testutil"
)

func terminated(s string) string { return s + refs.EndOfOutput }

func TestCleanPage_ImageLinkSubstitution(t *testing.T) {
	raw := "Intro\n<|ref|>image<|/ref|><|det|>[[100, 100, 200, 200]]<|/det|>\nOutro"
	res := refs.Parse(raw)
	require.Len(t, res.Images, 1)

	clean := CleanPage(raw, res, 2)
	assert.Contains(t, clean, "![](images/2_0.jpg)")
	assert.NotContains(t, clean, "<|ref|>")
	// The link occupies the ordinal position of the reference.
	assert.Less(t, strings.Index(clean, "Intro"), strings.Index(clean, "![](images/2_0.jpg)"))
	assert.Less(t, strings.Index(clean, "![](images/2_0.jpg)"), strings.Index(clean, "Outro"))
}

func TestCleanPage_RemovesOtherReferences(t *testing.T) {
	raw := "Before<|ref|>table<|/ref|><|det|>[[1, 2, 3, 4]]<|/det|>After"
	clean := CleanPage(raw, refs.Parse(raw), 0)
	assert.Equal(t, "BeforeAfter", clean)
}

func TestCleanPage_MathNormalization(t *testing.T) {
	clean := CleanPage(`x \coloneqq y \eqqcolon z`, refs.Result{}, 0)
	assert.Equal(t, "x := y =: z", clean)
}

func TestCleanPage_CollapsesBlankRuns(t *testing.T) {
	clean := CleanPage("a\n\n\n\n\nb\n\n\nc", refs.Result{}, 0)
	assert.Equal(t, "a\n\nb\n\nc", clean)
}

func TestAssemble_WritesTextArtifacts(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(DefaultConfig())

	pages := []PageInput{
		{Index: 0, RawText: terminated("page one")},
		{Index: 1, RawText: terminated("page two")},
	}
	art, err := a.Assemble(pages, dir, "doc")
	require.NoError(t, err)

	md, err := os.ReadFile(art.MarkdownPath)
	require.NoError(t, err)
	det, err := os.ReadFile(art.DetectionsPath)
	require.NoError(t, err)

	assert.Equal(t, "page one\n"+PageSeparator+"\npage two\n"+PageSeparator+"\n", string(md))
	assert.Equal(t, string(md), string(det), "without references both artifacts agree")
	assert.NotContains(t, string(det), refs.EndOfOutput)
}

func TestAssemble_SkipsUnterminatedPages(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(Config{SkipUnterminated: true})

	pages := []PageInput{
		{Index: 0, RawText: terminated("kept"), Annotated: testutil.WhitePage(50, 50)},
		{Index: 1, RawText: "runaway page without marker", Annotated: testutil.WhitePage(50, 50)},
	}
	art, err := a.Assemble(pages, dir, "doc")
	require.NoError(t, err)

	md, err := os.ReadFile(art.MarkdownPath)
	require.NoError(t, err)
	det, err := os.ReadFile(art.DetectionsPath)
	require.NoError(t, err)
	assert.NotContains(t, string(md), "runaway")
	assert.NotContains(t, string(det), "runaway")
}

func TestAssemble_KeepPolicyRetainsUnterminatedPages(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(Config{SkipUnterminated: false})

	pages := []PageInput{
		{Index: 0, RawText: "no marker here"},
	}
	art, err := a.Assemble(pages, dir, "doc")
	require.NoError(t, err)

	md, err := os.ReadFile(art.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "no marker here")
}

func TestAssemble_MergedLayoutPDF(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(DefaultConfig())

	pages := []PageInput{
		{Index: 0, RawText: terminated("one"), Annotated: testutil.WhitePage(100, 140)},
		{Index: 1, RawText: terminated("two"), Annotated: testutil.WhitePage(100, 140)},
	}
	art, err := a.Assemble(pages, dir, "doc")
	require.NoError(t, err)
	require.NotEmpty(t, art.LayoutPDFPath)
	assert.Equal(t, filepath.Join(dir, "doc_layouts.pdf"), art.LayoutPDFPath)

	info, err := os.Stat(art.LayoutPDFPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestAssemble_NoAnnotatedPagesNoPDF(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(DefaultConfig())

	art, err := a.Assemble([]PageInput{{Index: 0, RawText: terminated("text only")}}, dir, "doc")
	require.NoError(t, err)
	assert.Empty(t, art.LayoutPDFPath)
}
