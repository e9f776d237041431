package enhance

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// sharpenKernel boosts the center against its four neighbours.
var sharpenKernel = [9]float64{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

// Grayscale converts img to 8-bit luma.
func Grayscale(img image.Image) *image.Gray {
	return nrgbaToGray(imaging.Grayscale(img))
}

// Sharpen applies the fixed 3x3 sharpening kernel.
func Sharpen(img *image.Gray) *image.Gray {
	return nrgbaToGray(imaging.Convolve3x3(img, sharpenKernel, nil))
}

// nrgbaToGray keeps the red channel of an image whose channels are already equal.
func nrgbaToGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride:]
		drow := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			drow[x] = srow[x*4]
		}
	}
	return dst
}

// toGray copies any image into a zero-origin *image.Gray.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Median3x3 replaces each pixel with the median of its 3x3 neighbourhood,
// replicating edge pixels.
func Median3x3(src *image.Gray) *image.Gray {
	src = toGray(src)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(src.Rect)

	parallelRows(h, func(y0, y1 int) {
		var win [9]uint8
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				k := 0
				for dy := -1; dy <= 1; dy++ {
					sy := clamp(y+dy, 0, h-1)
					row := src.Pix[sy*src.Stride:]
					for dx := -1; dx <= 1; dx++ {
						win[k] = row[clamp(x+dx, 0, w-1)]
						k++
					}
				}
				dst.Pix[y*dst.Stride+x] = median9(&win)
			}
		}
	})
	return dst
}

func median9(v *[9]uint8) uint8 {
	for i := 1; i < 9; i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
	return v[4]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
