package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// JPEGEncoder is the universally supported fallback format.
type JPEGEncoder struct{}

func (e *JPEGEncoder) Format() string { return "jpeg" }

func (e *JPEGEncoder) Available() bool { return true }

func (e *JPEGEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
