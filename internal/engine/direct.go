package engine

import (
	"image"

	"github.com/disintegration/imaging"
)

// direct performs a single Lanczos resampling pass. Used for modest scale
// factors where one pass keeps full quality.
func direct(src *image.NRGBA, dstW, dstH int) *image.NRGBA {
	if src.Rect.Dx() == dstW && src.Rect.Dy() == dstH {
		// Same-size request still returns a fresh buffer; callers may
		// transfer ownership of the result independently of the source.
		out := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
		copy(out.Pix, src.Pix)
		return out
	}
	return imaging.Resize(src, dstW, dstH, imaging.Lanczos)
}
