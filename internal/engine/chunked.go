package engine

import (
	"image"
	"runtime"

	"golang.org/x/image/draw"
)

const (
	// tileSize is the source tile edge in pixels.
	tileSize = 2048

	// progressEvery throttles progress callbacks and scheduler yields to
	// once per few tiles; per-tile reporting would dominate small tiles.
	progressEvery = 4
)

// chunked resamples the source tile by tile into the destination, reusing a
// single temporary tile buffer. This is the opt-in path for sources so large
// that a full-resolution intermediate would itself be too big to allocate.
// Minor seam artifacts at tile boundaries are an accepted tradeoff.
func chunked(src *image.NRGBA, dstW, dstH int, progress Progress) *image.NRGBA {
	srcW, srcH := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))

	tilesX := (srcW + tileSize - 1) / tileSize
	tilesY := (srcH + tileSize - 1) / tileSize
	totalTiles := tilesX * tilesY

	// One reused buffer sized for the largest destination tile.
	maxTileW := (tileSize*dstW)/srcW + 2
	maxTileH := (tileSize*dstH)/srcH + 2
	if maxTileW > dstW {
		maxTileW = dstW
	}
	if maxTileH > dstH {
		maxTileH = dstH
	}
	tmp := image.NewNRGBA(image.Rect(0, 0, maxTileW, maxTileH))

	tile := 0
	lastPercent := -1
	for ty := 0; ty < tilesY; ty++ {
		sy0 := ty * tileSize
		sy1 := min(sy0+tileSize, srcH)
		dy0 := sy0 * dstH / srcH
		dy1 := sy1 * dstH / srcH

		for tx := 0; tx < tilesX; tx++ {
			sx0 := tx * tileSize
			sx1 := min(sx0+tileSize, srcW)
			dx0 := sx0 * dstW / srcW
			dx1 := sx1 * dstW / srcW

			tile++
			if dx1 <= dx0 || dy1 <= dy0 {
				continue
			}

			srcTile := src.SubImage(image.Rect(
				src.Rect.Min.X+sx0, src.Rect.Min.Y+sy0,
				src.Rect.Min.X+sx1, src.Rect.Min.Y+sy1,
			))
			dstRect := image.Rect(0, 0, dx1-dx0, dy1-dy0)
			view := tmp.SubImage(dstRect).(*image.NRGBA)

			draw.CatmullRom.Scale(view, view.Bounds(), srcTile, srcTile.Bounds(), draw.Src, nil)
			draw.Draw(out, image.Rect(dx0, dy0, dx1, dy1), view, view.Bounds().Min, draw.Src)

			if tile%progressEvery == 0 || tile == totalTiles {
				if progress != nil {
					percent := tile * 100 / totalTiles
					if percent > lastPercent {
						progress(percent)
						lastPercent = percent
					}
				}
				// Long synchronous runs yield back to the scheduler.
				runtime.Gosched()
			}
		}
	}

	if progress != nil && lastPercent < 100 {
		progress(100)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
