// Package refs parses structural references out of raw grounding-model
// output. The model tags regions as
//
//	<|ref|>label<|/ref|><|det|>[[x1,y1,x2,y2],...]<|/det|>
//
// with coordinates in a normalized 0-999 space.
package refs

import (
	"encoding/json"
	"regexp"
	"strings"
)

// EndOfOutput is the literal marker the model emits when a page was
// recognized to completion. Pages without it are considered unterminated.
const EndOfOutput = "<｜end▁of▁sentence｜>"

// ImageLabel marks references that trigger sub-image extraction.
const ImageLabel = "image"

// CoordSpace is the upper bound of the normalized coordinate space.
const CoordSpace = 999

var refPattern = regexp.MustCompile(`(?s)<\|ref\|>(.*?)<\|/ref\|><\|det\|>(.*?)<\|/det\|>`)

// Reference is one tagged region: a label plus one or more boxes in
// normalized coordinates. Raw holds the full matched tag text so the
// assembler can substitute it in place.
type Reference struct {
	Label string
	Raw   string
	Boxes [][4]int
}

// Result groups the references parsed from one page of raw output.
type Result struct {
	All     []Reference
	Images  []Reference
	Others  []Reference
	Skipped int // malformed references dropped during parsing
}

// Parse extracts all references from raw model output. A malformed
// coordinate payload drops only that reference; parsing continues with
// the remainder and Skipped counts the drops.
func Parse(raw string) Result {
	var res Result
	for _, m := range refPattern.FindAllStringSubmatch(raw, -1) {
		boxes, ok := parseBoxes(m[2])
		if !ok {
			res.Skipped++
			continue
		}
		ref := Reference{
			Label: strings.TrimSpace(m[1]),
			Raw:   m[0],
			Boxes: boxes,
		}
		res.All = append(res.All, ref)
		if ref.Label == ImageLabel {
			res.Images = append(res.Images, ref)
		} else {
			res.Others = append(res.Others, ref)
		}
	}
	return res
}

// parseBoxes decodes a coordinate payload, a literal list of 4-tuples.
func parseBoxes(payload string) ([][4]int, bool) {
	var tuples [][]float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &tuples); err != nil {
		return nil, false
	}
	if len(tuples) == 0 {
		return nil, false
	}
	boxes := make([][4]int, 0, len(tuples))
	for _, t := range tuples {
		if len(t) != 4 {
			return nil, false
		}
		boxes = append(boxes, [4]int{int(t[0]), int(t[1]), int(t[2]), int(t[3])})
	}
	return boxes, true
}

// Terminated reports whether raw contains the end-of-output marker.
func Terminated(raw string) bool {
	return strings.Contains(raw, EndOfOutput)
}

// StripMarker removes every occurrence of the end-of-output marker.
func StripMarker(raw string) string {
	return strings.ReplaceAll(raw, EndOfOutput, "")
}

// ScaleBox rescales a normalized box to pixel coordinates:
// pixel = normalized / 999 * dimension.
func ScaleBox(box [4]int, width, height int) [4]int {
	return [4]int{
		box[0] * width / CoordSpace,
		box[1] * height / CoordSpace,
		box[2] * width / CoordSpace,
		box[3] * height / CoordSpace,
	}
}
