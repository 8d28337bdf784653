package encoder

import (
	"fmt"
	"image"

	"image-pipeline/internal/logging"
)

// Encoder turns a pixel surface into compressed bytes at a quality in [0,1].
type Encoder interface {
	// Format returns the output format name ("webp", "jpeg").
	Format() string

	// Encode converts the image to bytes. quality is clamped to [0,1].
	Encode(img image.Image, quality float64) ([]byte, error)

	// Available reports whether the encoder can actually produce output on
	// this build/platform.
	Available() bool
}

// Pick returns the encoder for the preferred format, falling back to JPEG
// when the preferred format's support cannot be confirmed. JPEG is always
// available.
func Pick(preferred string) Encoder {
	for _, enc := range []Encoder{&WebPEncoder{}, &JPEGEncoder{}} {
		if enc.Format() == preferred {
			if enc.Available() {
				return enc
			}
			logging.Warn("encoder: %s unavailable, falling back to jpeg", preferred)
			break
		}
	}
	return &JPEGEncoder{}
}

// clampQuality maps the pipeline's [0,1] quality scale onto the integer
// 1..100 scale most codecs take.
func clampQuality(q float64) int {
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	scaled := int(q*100 + 0.5)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// MimeType returns the media type for a format name.
func MimeType(format string) string {
	switch format {
	case "webp":
		return "image/webp"
	case "jpeg":
		return "image/jpeg"
	default:
		return fmt.Sprintf("image/%s", format)
	}
}
