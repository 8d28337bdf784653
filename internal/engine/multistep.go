package engine

import (
	"image"

	"golang.org/x/image/draw"
)

// multiStep halves the image repeatedly until it is within 2x of the
// target, then resamples exactly to target size. Halving steps alternate
// between two intermediate buffers allocated at first-step size, so peak
// intermediate memory stays at two buffers no matter how many steps run.
// Large single-pass ratios alias badly; stepping avoids that.
func multiStep(src *image.NRGBA, dstW, dstH int, progress Progress) *image.NRGBA {
	curW, curH := src.Rect.Dx(), src.Rect.Dy()

	// Count halving steps up front for progress reporting.
	steps := 0
	for w, h := curW, curH; w >= dstW*2 && h >= dstH*2; w, h = w/2, h/2 {
		steps++
	}
	report := func(done int) {
		if progress != nil && steps > 0 {
			// Final exact pass is the last 20%.
			progress(done * 80 / steps)
		}
	}

	var bufA, bufB *image.NRGBA
	var cur image.Image = src
	for step := 0; curW >= dstW*2 && curH >= dstH*2; step++ {
		nextW, nextH := curW/2, curH/2

		if bufA == nil {
			bufA = image.NewNRGBA(image.Rect(0, 0, nextW, nextH))
			bufB = image.NewNRGBA(image.Rect(0, 0, nextW, nextH))
		}

		// Later steps are strictly smaller, so a view into the first-step
		// buffer always fits. Alternation keeps source and destination of
		// each step disjoint.
		backing := bufA
		if step%2 == 1 {
			backing = bufB
		}
		dst := backing.SubImage(image.Rect(0, 0, nextW, nextH)).(*image.NRGBA)

		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), cur, cur.Bounds(), draw.Src, nil)

		cur = dst
		curW, curH = nextW, nextH
		report(step + 1)
	}

	out := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(out, out.Bounds(), cur, cur.Bounds(), draw.Src, nil)
	if progress != nil {
		progress(100)
	}
	return out
}
