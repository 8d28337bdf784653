package engine

import (
	"fmt"
	"image"
)

// Strategy identifies how a downscale is performed.
type Strategy int

const (
	// StrategyNative delegates the full transform to the sandboxed
	// accelerator module (large images, module loaded).
	StrategyNative Strategy = iota
	// StrategyHostResize uses the host's high-quality decode-time resize
	// (large images, accelerator unavailable).
	StrategyHostResize
	// StrategyDirect is a single Lanczos resampling pass.
	StrategyDirect
	// StrategyMultiStep halves repeatedly, then resamples exactly to target.
	StrategyMultiStep
	// StrategyChunked tiles the source and resamples tile by tile.
	StrategyChunked
)

// String returns the strategy name used in logs and metric labels.
func (s Strategy) String() string {
	switch s {
	case StrategyNative:
		return "native"
	case StrategyHostResize:
		return "host-resize"
	case StrategyDirect:
		return "direct"
	case StrategyMultiStep:
		return "multi-step"
	case StrategyChunked:
		return "chunked"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	// LargeImagePixels is the threshold above which the native accelerator
	// (or the host resize primitive) handles the whole transform.
	LargeImagePixels = 30_000_000

	// MediumImagePixels bounds the direct single-pass engine; beyond it a
	// single huge-ratio resample produces visible aliasing.
	MediumImagePixels = 8_000_000
)

// SelectInput captures everything the strategy policy looks at.
type SelectInput struct {
	SrcWidth  int
	SrcHeight int
	DstWidth  int
	DstHeight int

	// AccelReady is true when the native accelerator module is loaded.
	AccelReady bool
	// HostAvailable is true when the host high-quality resize (libvips)
	// is initialized.
	HostAvailable bool
	// Chunked opts in to the tiled engine for sources too large for a
	// single full-resolution intermediate buffer.
	Chunked bool
}

// Select picks a downscale strategy. Rules are evaluated in order; the
// first match wins.
func Select(in SelectInput) Strategy {
	pixels := in.SrcWidth * in.SrcHeight

	if in.AccelReady && pixels >= LargeImagePixels {
		return StrategyNative
	}
	if in.HostAvailable && pixels >= LargeImagePixels {
		return StrategyHostResize
	}
	if in.Chunked {
		return StrategyChunked
	}

	scale := 1.0
	if in.DstWidth > 0 && in.DstHeight > 0 {
		sx := float64(in.SrcWidth) / float64(in.DstWidth)
		sy := float64(in.SrcHeight) / float64(in.DstHeight)
		if sy > sx {
			sx = sy
		}
		scale = sx
	}

	if scale <= 2 && pixels < MediumImagePixels {
		return StrategyDirect
	}
	return StrategyMultiStep
}

// Progress receives a monotonically increasing completion percentage during
// chunked and multi-step execution. May be nil.
type Progress func(percent int)

// Downscale runs one of the software engines. src is never mutated; the
// returned buffer is exactly dstW x dstH; intermediates are garbage by the
// time the call returns. Native and host-resize strategies are carried out
// by their own components, not here.
func Downscale(strategy Strategy, src *image.NRGBA, dstW, dstH int, progress Progress) (*image.NRGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("downscale: nil source buffer")
	}
	if dstW < 1 || dstH < 1 {
		return nil, fmt.Errorf("downscale: invalid target %dx%d", dstW, dstH)
	}

	switch strategy {
	case StrategyDirect:
		return direct(src, dstW, dstH), nil
	case StrategyMultiStep:
		return multiStep(src, dstW, dstH, progress), nil
	case StrategyChunked:
		return chunked(src, dstW, dstH, progress), nil
	default:
		return nil, fmt.Errorf("downscale: strategy %s is not a software engine", strategy)
	}
}
