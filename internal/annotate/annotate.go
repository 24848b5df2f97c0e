// Package annotate draws recognized regions onto page images and
// extracts image-labeled regions as standalone files.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/docmark/internal/refs"
	"github.com/MeKo-Tech/docmark/internal/utils"
)

const (
	fillAlpha      = 20
	titleThickness = 4
	boxThickness   = 2
	jpegQuality    = 95
	labelOffsetY   = 15
)

// Annotator renders region overlays and extracts sub-images.
type Annotator struct {
	rng *rand.Rand
}

// NewAnnotator creates an annotator with its own color source.
func NewAnnotator() *Annotator {
	return &Annotator{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Page is the annotation result for a single page.
type Page struct {
	Annotated *image.RGBA
	// Images holds the file names of extracted sub-images, in
	// occurrence order, relative to the images directory.
	Images []string
}

// AnnotatePage draws every reference onto a copy of img and saves crops
// of image-labeled regions into imagesDir as {pageIndex}_{occurrence}.jpg.
// Failures local to a single reference are logged and skipped; they
// never fail the page.
func (a *Annotator) AnnotatePage(img image.Image, references []refs.Reference, pageIndex int, imagesDir string) (*Page, error) {
	if img == nil {
		return nil, fmt.Errorf("page %d: nil image", pageIndex)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	dst := utils.CloneRGBA(img)

	page := &Page{Annotated: dst}
	occurrence := 0

	for _, ref := range references {
		col := a.nextColor()
		fill := color.NRGBA{R: col.R, G: col.G, B: col.B, A: fillAlpha}

		for _, box := range ref.Boxes {
			scaled := refs.ScaleBox(box, width, height)
			rect := image.Rect(scaled[0], scaled[1], scaled[2], scaled[3])

			if ref.Label == refs.ImageLabel {
				name := fmt.Sprintf("%d_%d.jpg", pageIndex, occurrence)
				if err := saveCrop(img, rect, filepath.Join(imagesDir, name)); err != nil {
					slog.Warn("sub-image extraction failed",
						"page", pageIndex, "region", name, "error", err)
				} else {
					page.Images = append(page.Images, name)
				}
				occurrence++
			}

			thickness := boxThickness
			if ref.Label == "title" {
				thickness = titleThickness
			}
			utils.DrawRect(dst, rect, col, thickness)
			utils.FillRect(dst, rect, fill)
			drawLabel(dst, ref.Label, rect.Min.X, rect.Min.Y, col)
		}
	}
	return page, nil
}

// nextColor picks a fresh color for one drawing invocation so adjacent
// regions stay visually distinguishable.
func (a *Annotator) nextColor() color.NRGBA {
	return color.NRGBA{
		R: uint8(a.rng.Intn(200)),
		G: uint8(a.rng.Intn(200)),
		B: uint8(a.rng.Intn(255)),
		A: 255,
	}
}

// saveCrop extracts rect from img and writes it as a JPEG file.
func saveCrop(img image.Image, rect image.Rectangle, path string) error {
	rect = utils.ClampRect(rect, img.Bounds())
	if rect.Empty() {
		return fmt.Errorf("region %v lies outside the page", rect)
	}
	cropped := imaging.Crop(img, rect)
	return imaging.Save(cropped, path, imaging.JPEGQuality(jpegQuality))
}

// drawLabel renders the label text near the top-left corner of a region,
// over a white backdrop for readability.
func drawLabel(dst *image.RGBA, label string, x, y int, col color.Color) {
	if label == "" {
		return
	}
	textY := max(0, y-labelOffsetY)
	face := basicfont.Face7x13

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, textY+face.Ascent),
	}
	width := d.MeasureString(label).Ceil()
	backdrop := image.Rect(x, textY, x+width, textY+face.Height)
	utils.FillRect(dst, backdrop, color.NRGBA{R: 255, G: 255, B: 255, A: 200})
	d.DrawString(label)
}
