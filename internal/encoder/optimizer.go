package encoder

import (
	"image"

	"image-pipeline/internal/logging"
	"image-pipeline/internal/metrics"
)

const (
	startingQuality = 0.92
	minQuality      = 0.30
	maxIterations   = 5

	// Early-stop window: a result in [80%, 100%] of the budget is close
	// enough; further iterations would only trade quality for nothing.
	acceptLowRatio = 0.80
)

// BudgetResult is the outcome of a size-targeted encode.
type BudgetResult struct {
	Data       []byte
	Quality    float64
	Iterations int
	HitBudget  bool
}

// EncodeToBudget re-encodes img at decreasing quality until the output fits
// targetBytes, using a bounded binary search over quality. When any attempt
// fits, the returned blob is the last fitting one; when none fits, the
// search returns its last attempt and HitBudget stays false — missing the
// budget is not a failure, just best-effort. targetBytes <= 0 disables the
// search and returns the starting-quality encode.
func EncodeToBudget(img image.Image, targetBytes int64, enc Encoder) (*BudgetResult, error) {
	data, err := enc.Encode(img, startingQuality)
	if err != nil {
		return nil, err
	}
	result := &BudgetResult{
		Data:       data,
		Quality:    startingQuality,
		Iterations: 1,
		HitBudget:  targetBytes <= 0 || int64(len(data)) <= targetBytes,
	}
	if result.HitBudget {
		metrics.EncodeIterations.Observe(float64(result.Iterations))
		return result, nil
	}

	lo, hi := minQuality, startingQuality
	for i := 0; i < maxIterations; i++ {
		mid := (lo + hi) / 2
		data, err := enc.Encode(img, mid)
		if err != nil {
			// Keep the last good blob rather than failing the whole run.
			logging.Warn("optimizer: encode at q=%.2f failed: %v", mid, err)
			break
		}
		result.Iterations++

		size := int64(len(data))
		if size <= targetBytes {
			result.Data = data
			result.Quality = mid
			result.HitBudget = true
			if float64(size) >= float64(targetBytes)*acceptLowRatio {
				break
			}
			// Well under budget: spend remaining iterations on quality.
			lo = mid
		} else {
			// Only keep an over-budget blob while no fitting one exists;
			// once HitBudget is set, Data must stay within the target.
			if !result.HitBudget {
				result.Data = data
				result.Quality = mid
			}
			hi = mid
		}
	}

	logging.Debug("optimizer: %d iterations, q=%.2f, %d bytes (target %d)",
		result.Iterations, result.Quality, len(result.Data), targetBytes)
	metrics.EncodeIterations.Observe(float64(result.Iterations))
	return result, nil
}
