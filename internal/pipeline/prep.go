package pipeline

import (
	"context"
	"image"
	"sync"

	"github.com/MeKo-Tech/docmark/internal/render"
	"github.com/MeKo-Tech/docmark/internal/utils"
)

// pageJob is one page awaiting preparation.
type pageJob struct {
	index int
	image image.Image
}

// pageResult carries a prepared page back to the coordinator.
type pageResult struct {
	index int
	image image.Image
}

// prepPages runs CPU-bound page preparation (alpha flattening and RGBA
// conversion) across a bounded worker pool. Completion order is
// irrelevant: results are re-associated by index before the batched
// recognition call.
func (c *Coordinator) prepPages(ctx context.Context, pages []image.Image) ([]image.Image, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	workers := c.cfg.PrepWorkers
	if workers > len(pages) {
		workers = len(pages)
	}
	if workers <= 1 {
		out := make([]image.Image, len(pages))
		for i, p := range pages {
			out[i] = preparePage(p)
		}
		return out, nil
	}

	jobs := make(chan pageJob, len(pages))
	results := make(chan pageResult, len(pages))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job, ok := <-jobs:
					if !ok {
						return
					}
					select {
					case results <- pageResult{index: job.index, image: preparePage(job.image)}:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, p := range pages {
			select {
			case jobs <- pageJob{index: i, image: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]image.Image, len(pages))
	for res := range results {
		out[res.index] = res.image
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// preparePage guarantees an opaque RGBA page regardless of the renderer
// that produced it.
func preparePage(img image.Image) image.Image {
	return utils.ToRGBA(render.Flatten(img))
}
