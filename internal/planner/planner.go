package planner

import "math"

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// Pixels returns the total pixel count.
func (s Size) Pixels() int {
	return s.Width * s.Height
}

// Bounds describes the box a source image must fit inside.
type Bounds struct {
	MaxWidth  int
	MaxHeight int
}

// EffectiveBounds folds the observer's display resolution and pixel density
// into the configured maximums. A bound is only ever tightened: rendering
// larger than displayWidth*pixelRatio wastes memory on pixels nobody sees.
// Zero display dimensions or a non-positive ratio leave the configured
// bounds unchanged.
func EffectiveBounds(maxWidth, maxHeight, displayWidth, displayHeight int, pixelRatio float64) Bounds {
	b := Bounds{MaxWidth: maxWidth, MaxHeight: maxHeight}
	if pixelRatio <= 0 || displayWidth <= 0 || displayHeight <= 0 {
		return b
	}
	dw := int(math.Round(float64(displayWidth) * pixelRatio))
	dh := int(math.Round(float64(displayHeight) * pixelRatio))
	if b.MaxWidth <= 0 || dw < b.MaxWidth {
		b.MaxWidth = dw
	}
	if b.MaxHeight <= 0 || dh < b.MaxHeight {
		b.MaxHeight = dh
	}
	return b
}

// Plan computes target dimensions for a source image within bounds.
// The aspect ratio is preserved, the image is never upscaled, and each
// dimension is rounded to the nearest integer with a floor of 1px.
// A non-positive bound constrains nothing, so library callers with a
// zero-value Bounds get the source back unchanged.
// Plan is deterministic and has no failure mode.
func Plan(src Size, bounds Bounds) Size {
	if src.Width <= 0 || src.Height <= 0 {
		return Size{Width: 1, Height: 1}
	}

	scale := math.Min(
		axisScale(bounds.MaxWidth, src.Width),
		axisScale(bounds.MaxHeight, src.Height),
	)
	if scale >= 1 {
		return src
	}

	w := int(math.Round(float64(src.Width) * scale))
	h := int(math.Round(float64(src.Height) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Size{Width: w, Height: h}
}

// axisScale returns the shrink factor one axis demands, or 1 when the
// axis is unbounded.
func axisScale(limit, dim int) float64 {
	if limit <= 0 {
		return 1
	}
	return float64(limit) / float64(dim)
}

// ScaleFactor returns the ratio of source to target along the dominant axis.
// Values above 1 mean downscaling.
func ScaleFactor(src, dst Size) float64 {
	if dst.Width <= 0 || dst.Height <= 0 {
		return 1
	}
	sx := float64(src.Width) / float64(dst.Width)
	sy := float64(src.Height) / float64(dst.Height)
	return math.Max(sx, sy)
}
