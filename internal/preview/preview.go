package preview

import (
	"context"
	"fmt"
	"image"
	"runtime"

	"image-pipeline/internal/blob"
	"image-pipeline/internal/encoder"
	"image-pipeline/internal/engine"
	"image-pipeline/internal/logging"
	"image-pipeline/internal/metrics"
	"image-pipeline/internal/planner"
)

// Stage is one rung of the progressive preview ladder.
type Stage struct {
	Name        string
	LongestEdge int
}

// Stages, coarsest first. Each stage is emitted before the next begins,
// so a consumer can paint tiny immediately and swap in sharper versions
// as they arrive.
var Stages = []Stage{
	{Name: "tiny", LongestEdge: 100},
	{Name: "small", LongestEdge: 400},
	{Name: "medium", LongestEdge: 800},
}

// previewQuality keeps preview encodes fast; the final output gets the
// budget search, previews do not.
const previewQuality = 0.70

// Emit receives one encoded stage. Ownership of the handle transfers to
// the callback; it must Release (or Detach) the handle when done.
type Emit func(stage Stage, h *blob.Handle, width, height int)

// Generate produces the preview ladder sequentially on the caller's
// goroutine, yielding between stages. Stages at or beyond the source's
// longest edge are skipped; previews never upscale. The sequence is
// finite and ordered, and restarting it after an error is safe.
func Generate(ctx context.Context, src *image.NRGBA, emit Emit) error {
	if src == nil {
		return fmt.Errorf("preview: nil source")
	}
	if emit == nil {
		return fmt.Errorf("preview: nil emit callback")
	}

	enc := encoder.Pick("jpeg")
	srcSize := planner.Size{Width: src.Rect.Dx(), Height: src.Rect.Dy()}
	longest := srcSize.Width
	if srcSize.Height > longest {
		longest = srcSize.Height
	}

	for _, stage := range Stages {
		if stage.LongestEdge >= longest {
			break // remaining stages would not shrink the source
		}
		if err := yield(ctx); err != nil {
			return err
		}

		dst := planner.Plan(srcSize, planner.Bounds{MaxWidth: stage.LongestEdge, MaxHeight: stage.LongestEdge})
		img, err := engine.Downscale(engine.StrategyDirect, src, dst.Width, dst.Height, nil)
		if err != nil {
			return fmt.Errorf("preview %s: %w", stage.Name, err)
		}

		data, err := enc.Encode(img, previewQuality)
		if err != nil {
			return fmt.Errorf("preview %s encode: %w", stage.Name, err)
		}

		metrics.PreviewStages.Inc()
		logging.Debug("Preview %s: %dx%d, %d bytes", stage.Name, dst.Width, dst.Height, len(data))
		emit(stage, blob.New(data), dst.Width, dst.Height)
	}
	return nil
}

// yield hands the scheduler a chance to run the consumer of the previous
// stage before the next resample starts.
func yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	runtime.Gosched()
	return nil
}
