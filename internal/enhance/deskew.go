package enhance

import (
	"image"
	"math"
	"sort"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Pixels darker than this are treated as ink when estimating skew.
const inkThreshold = 128

// Deskew estimates the rotation of the foreground content and rotates src
// about its center to correct it. It returns the corrected image and the
// applied correction in degrees, always in (-45, 45]. An image with no
// foreground is returned unchanged.
func Deskew(src *image.Gray) (*image.Gray, float64) {
	src = toGray(src)
	angle, ok := SkewAngle(src)
	if !ok || angle == 0 {
		return src, 0
	}
	return rotate(src, angle), angle
}

// SkewAngle returns the correction angle in degrees for src. Positive values
// rotate clockwise on screen. ok is false when there is no foreground.
func SkewAngle(src *image.Gray) (float64, bool) {
	pts := foregroundExtremes(src)
	if len(pts) == 0 {
		return 0, false
	}
	hull := convexHull(pts)
	return foldAngle(minAreaRectAngle(hull)), true
}

// foldAngle maps a rectangle edge angle in (-90, 0] to the nearest upright
// correction in (-45, 45].
func foldAngle(a float64) float64 {
	if a == 0 {
		return 0
	}
	if a < -45 {
		return -(90 + a)
	}
	return -a
}

type point struct{ x, y float64 }

// foregroundExtremes returns the leftmost and rightmost ink pixel of each row.
// Their convex hull equals the hull of every ink pixel.
func foregroundExtremes(src *image.Gray) []point {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	var pts []point
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		first, last := -1, -1
		for x, v := range row {
			if v < inkThreshold {
				if first < 0 {
					first = x
				}
				last = x
			}
		}
		if first < 0 {
			continue
		}
		pts = append(pts, point{float64(first), float64(y)})
		if last != first {
			pts = append(pts, point{float64(last), float64(y)})
		}
	}
	return pts
}

func cross(o, a, b point) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

// convexHull is Andrew's monotone chain. Collinear points are dropped.
func convexHull(pts []point) []point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].x != pts[j].x {
			return pts[i].x < pts[j].x
		}
		return pts[i].y < pts[j].y
	})
	if len(pts) < 3 {
		return pts
	}

	hull := make([]point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// minAreaRectAngle finds the minimum-area enclosing rectangle of a convex
// hull with rotating calipers and returns the angle of its edge in (-90, 0].
func minAreaRectAngle(hull []point) float64 {
	if len(hull) < 2 {
		return 0
	}

	best := math.Inf(1)
	bestAngle := 0.0
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		dx, dy := b.x-a.x, b.y-a.y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		ux, uy := dx/l, dy/l

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			u := p.x*ux + p.y*uy
			v := -p.x*uy + p.y*ux
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		area := (maxU - minU) * (maxV - minV)
		if area < best-1e-9 {
			best = area
			// rounded so axis-aligned edges land exactly on multiples of 90
			bestAngle = math.Round(math.Atan2(uy, ux)*180/math.Pi*1e6) / 1e6
		}
	}

	a := math.Mod(bestAngle, 90)
	if a > 0 {
		a -= 90
	}
	return a
}

// rotate turns src by deg degrees (clockwise on screen) about its center using
// bicubic interpolation. Pixels that map outside src take the nearest edge
// pixel.
func rotate(src *image.Gray, deg float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(w)/2, float64(h)/2

	// Edge replication: seed every destination pixel with its clamped
	// nearest source pixel, then let the interpolator overwrite the interior.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := float64(x)+0.5-cx, float64(y)+0.5-cy
			sx := cos*px + sin*py + cx
			sy := -sin*px + cos*py + cy
			v := src.Pix[clamp(int(math.Floor(sy)), 0, h-1)*src.Stride+clamp(int(math.Floor(sx)), 0, w-1)]
			i := y*dst.Stride + x*4
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = v, v, v, 0xff
		}
	}

	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.CatmullRom.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = dst.Pix[y*dst.Stride+x*4]
		}
	}
	return out
}
