package enhance

import (
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Adaptive threshold parameters.
const (
	ThresholdBlockSize = 31
	ThresholdOffset    = 15
)

// AdaptiveThreshold binarizes src against a Gaussian-weighted local mean.
// A pixel becomes white when it is brighter than its neighbourhood mean minus
// offset, black otherwise. blockSize must be odd.
func AdaptiveThreshold(src *image.Gray, blockSize int, offset float64) *image.Gray {
	src = toGray(src)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	mean := gaussianBlur(src, blockSize, gaussianSigma(blockSize))

	// Integer lookup over src-mean in [-255, 255].
	var tab [511]uint8
	for i := range tab {
		if float64(i-255) > -offset {
			tab[i] = 255
		}
	}

	dst := image.NewGray(src.Rect)
	parallelRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			s := src.Pix[y*src.Stride : y*src.Stride+w]
			m := mean.Pix[y*mean.Stride : y*mean.Stride+w]
			d := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			for x := range d {
				d[x] = tab[int(s[x])-int(m[x])+255]
			}
		}
	})
	return dst
}

// gaussianSigma derives sigma from the kernel size the way OpenCV does when
// sigma is left unspecified.
func gaussianSigma(ksize int) float64 {
	return 0.3*(float64(ksize-1)*0.5-1) + 0.8
}

func gaussianKernel(ksize int, sigma float64) []float64 {
	k := make([]float64, ksize)
	r := ksize / 2
	sum := 0.0
	for i := range k {
		x := float64(i - r)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur is a separable Gaussian blur with replicated borders.
func gaussianBlur(src *image.Gray, ksize int, sigma float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	k := gaussianKernel(ksize, sigma)
	r := ksize / 2

	tmp := make([]float64, w*h)
	parallelRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				acc := 0.0
				for i, kv := range k {
					acc += kv * float64(row[clamp(x+i-r, 0, w-1)])
				}
				tmp[y*w+x] = acc
			}
		}
	})

	dst := image.NewGray(image.Rect(0, 0, w, h))
	parallelRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				acc := 0.0
				for i, kv := range k {
					acc += kv * tmp[clamp(y+i-r, 0, h-1)*w+x]
				}
				dst.Pix[y*dst.Stride+x] = clampUint8(acc)
			}
		}
	})
	return dst
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// parallelRows splits [0, h) into bands and runs fn on each concurrently.
// Bands never overlap so fn may write its rows without locking.
func parallelRows(h int, fn func(y0, y1 int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > h {
		workers = h
	}
	if workers <= 1 {
		fn(0, h)
		return
	}
	band := (h + workers - 1) / workers

	var g errgroup.Group
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(y0+band, h)
		g.Go(func() error {
			fn(y0, y1)
			return nil
		})
	}
	_ = g.Wait()
}
