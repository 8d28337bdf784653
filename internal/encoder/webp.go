package encoder

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
)

// WebPEncoder encodes to lossy WebP, the pipeline's preferred format.
type WebPEncoder struct{}

func (e *WebPEncoder) Format() string { return "webp" }

func (e *WebPEncoder) Available() bool { return true }

func (e *WebPEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	opts := &webp.Options{
		Lossless: false,
		Quality:  float32(clampQuality(quality)),
	}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("webp encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
