package enhance

import (
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Non-local means parameters.
const (
	DenoiseH              = 15
	DenoiseTemplateWindow = 7
	DenoiseSearchWindow   = 21
)

// weights below this are treated as zero
const nlmWeightCutoff = 0.001

// DenoiseParams configures non-local means denoising.
type DenoiseParams struct {
	// H is the filter strength. Larger values remove more noise and more detail.
	H float64
	// TemplateWindow is the odd side length of the compared patches.
	TemplateWindow int
	// SearchWindow is the odd side length of the area searched for similar patches.
	SearchWindow int
}

// Denoise runs non-local means over src. Each output pixel is the weighted
// average of pixels in its search window, weighted by how similar the patch
// around them is to the patch around the output pixel.
func Denoise(src *image.Gray, p DenoiseParams) *image.Gray {
	src = toGray(src)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return src
	}
	tr := p.TemplateWindow / 2
	sr := p.SearchWindow / 2
	area := int64(p.TemplateWindow * p.TemplateWindow)

	// weight indexed by the mean squared patch difference
	lut := make([]float64, 255*255+1)
	h2 := p.H * p.H
	for d := range lut {
		wt := math.Exp(-float64(d) / h2)
		if wt < nlmWeightCutoff {
			break
		}
		lut[d] = wt
	}

	// pixel lookup with replicated borders
	at := func(x, y int) int64 {
		return int64(src.Pix[clamp(y, 0, h-1)*src.Stride+clamp(x, 0, w-1)])
	}

	dst := image.NewGray(src.Rect)

	bandHeight := 32
	bands := (h + bandHeight - 1) / bandHeight
	g := errgroup.Group{}
	g.SetLimit(runtime.GOMAXPROCS(0))
	for b := 0; b < bands; b++ {
		y0 := b * bandHeight
		y1 := min(y0+bandHeight, h)
		g.Go(func() error {
			denoiseBand(dst, at, w, y0, y1, tr, sr, area, lut)
			return nil
		})
	}
	_ = g.Wait()
	return dst
}

// denoiseBand computes output rows [y0, y1). For every search offset it builds
// a summed-area table of squared differences so each patch distance is four
// lookups.
func denoiseBand(dst *image.Gray, at func(x, y int) int64, w, y0, y1, tr, sr int, area int64, lut []float64) {
	bh := y1 - y0
	// table covers rows y0-tr .. y1+tr-1 and columns -tr .. w+tr-1, plus a zero border
	tw := w + 2*tr + 1
	th := bh + 2*tr + 1
	sat := make([]int64, tw*th)

	sumW := make([]float64, bh*w)
	sumWI := make([]float64, bh*w)

	for oy := -sr; oy <= sr; oy++ {
		for ox := -sr; ox <= sr; ox++ {
			for ty := 1; ty < th; ty++ {
				y := y0 - tr + ty - 1
				var rowSum int64
				for tx := 1; tx < tw; tx++ {
					x := tx - 1 - tr
					d := at(x, y) - at(x+ox, y+oy)
					rowSum += d * d
					sat[ty*tw+tx] = sat[(ty-1)*tw+tx] + rowSum
				}
			}

			for y := y0; y < y1; y++ {
				ty0 := y - y0
				ty1 := ty0 + 2*tr + 1
				for x := 0; x < w; x++ {
					tx0 := x
					tx1 := x + 2*tr + 1
					ssd := sat[ty1*tw+tx1] - sat[ty0*tw+tx1] - sat[ty1*tw+tx0] + sat[ty0*tw+tx0]
					wt := lut[ssd/area]
					if wt == 0 {
						continue
					}
					i := (y-y0)*w + x
					sumW[i] += wt
					sumWI[i] += wt * float64(at(x+ox, y+oy))
				}
			}
		}
	}

	for y := y0; y < y1; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			i := (y-y0)*w + x
			// the zero offset always contributes weight 1
			row[x] = clampUint8(sumWI[i] / sumW[i])
		}
	}
}
