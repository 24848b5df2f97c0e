// Package recognize defines the contract to the external page
// recognition capability: a loaded grounding model that turns a page
// image plus an instruction into raw tagged text.
package recognize

import (
	"context"
	"image"
)

// DefaultInstruction is the prompt used when the caller supplies none.
const DefaultInstruction = "<image>\n<|grounding|>Convert the document to markdown."

// Recognizer converts a batch of page images into raw tagged text, one
// result per page in submission order. Implementations receive exactly
// one call per task; the core performs no retries.
type Recognizer interface {
	Recognize(ctx context.Context, pages []image.Image, instruction string) ([]string, error)
	Close() error
}
