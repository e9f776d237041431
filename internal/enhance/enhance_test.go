package enhance

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"

	"github.com/jackzampolin/scanline/internal/normalize"
	"github.com/jackzampolin/scanline/internal/stages"
)

// textPage draws dark horizontal bars on white, like lines of text.
func textPage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{245, 240, 230, 255}
			if y%12 >= 4 && y%12 < 7 && x > 6 && x < w-6 && (x/5)%3 != 0 {
				c = color.RGBA{20, 20, 30, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

type recordingSaver struct {
	mu    sync.Mutex
	steps map[int][]string
	fail  bool
}

func (s *recordingSaver) Save(ordinal int, step string, img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps == nil {
		s.steps = make(map[int][]string)
	}
	s.steps[ordinal] = append(s.steps[ordinal], step)
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestEnhance_Deterministic(t *testing.T) {
	e := New(Config{})
	page := normalize.Page{Ordinal: 1, Image: textPage(64, 48)}

	first, err := e.Enhance(page)
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := e.Enhance(page)
		if err != nil {
			t.Fatalf("Enhance() error = %v", err)
		}
		if !bytes.Equal(first.Image.Pix, again.Image.Pix) {
			t.Fatalf("run %d produced different pixels", i+2)
		}
	}
	if first.Image.Bounds() != image.Rect(0, 0, 64, 48) {
		t.Errorf("bounds = %v", first.Image.Bounds())
	}
}

func TestEnhance_OutputIsBinaryish(t *testing.T) {
	e := New(Config{})
	out, err := e.Enhance(normalize.Page{Ordinal: 1, Image: textPage(48, 36)})
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	var dark, light int
	for _, v := range out.Image.Pix {
		switch {
		case v < 64:
			dark++
		case v > 192:
			light++
		}
	}
	if dark == 0 || light == 0 {
		t.Errorf("expected both ink and paper after enhancement, dark=%d light=%d", dark, light)
	}
}

func TestEnhance_NilImage(t *testing.T) {
	if _, err := New(Config{}).Enhance(normalize.Page{Ordinal: 2}); err == nil {
		t.Error("expected error for page without image")
	}
}

func TestEnhanceAll(t *testing.T) {
	saver := &recordingSaver{}
	e := New(Config{Saver: saver, MaxWorkers: 2})
	pages := []normalize.Page{
		{Ordinal: 1, Image: textPage(30, 20)},
		{Ordinal: 2, Image: textPage(40, 20)},
		{Ordinal: 3, Image: textPage(50, 20)},
	}
	trace := stages.NewTrace()

	out, err := e.EnhanceAll(context.Background(), pages, trace)
	if err != nil {
		t.Fatalf("EnhanceAll() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d", len(out))
	}
	for i, ep := range out {
		if ep.Ordinal != i+1 {
			t.Errorf("out[%d].Ordinal = %d", i, ep.Ordinal)
		}
		if ep.Image.Bounds().Dx() != 30+10*i {
			t.Errorf("out[%d] is not page %d", i, i+1)
		}
	}

	e2, ok := trace.Get(stages.Preprocess)
	if !ok || e2.Status != stages.StatusOK {
		t.Fatalf("preprocess entry = %+v", e2)
	}
	steps, _ := e2.Fields["steps"].([]string)
	if len(steps) != 6 || steps[0] != "grayscale" || steps[5] != "median" {
		t.Errorf("steps = %v", steps)
	}

	for ord := 1; ord <= 3; ord++ {
		if len(saver.steps[ord]) != len(Steps) {
			t.Errorf("page %d saved %v", ord, saver.steps[ord])
		}
	}
}

func TestEnhanceAll_SaverFailureIgnored(t *testing.T) {
	e := New(Config{Saver: &recordingSaver{fail: true}})
	out, err := e.EnhanceAll(context.Background(), []normalize.Page{{Ordinal: 1, Image: textPage(20, 20)}}, stages.NewTrace())
	if err != nil {
		t.Fatalf("EnhanceAll() error = %v", err)
	}
	if len(out) != 1 {
		t.Errorf("len(out) = %d", len(out))
	}
}

func TestEnhanceAll_Error(t *testing.T) {
	e := New(Config{})
	_, err := e.EnhanceAll(context.Background(), []normalize.Page{
		{Ordinal: 1, Image: textPage(20, 20)},
		{Ordinal: 2},
	}, stages.NewTrace())
	se, ok := stages.AsStageError(err)
	if !ok || se.Stage != stages.Preprocess {
		t.Errorf("expected preprocess StageError, got %v", err)
	}
}

func TestFoldAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{-10, 10},
		{-45, 45},
		{-46, -44},
		{-80, -10},
		{-89.5, -0.5},
	}
	for _, tt := range tests {
		got := foldAngle(tt.in)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("foldAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got <= -45 || got > 45 {
			t.Errorf("foldAngle(%v) = %v out of (-45, 45]", tt.in, got)
		}
	}
}

// skewedBar draws a thick dark bar tilted by deg degrees (clockwise on screen
// for positive values).
func skewedBar(w, h int, deg float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	rad := deg * math.Pi / 180
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// rotate back into the bar's frame
			dx, dy := float64(x)-cx, float64(y)-cy
			u := dx*math.Cos(rad) + dy*math.Sin(rad)
			v := -dx*math.Sin(rad) + dy*math.Cos(rad)
			if math.Abs(u) < float64(w)/3 && math.Abs(v) < 6 {
				img.Pix[y*img.Stride+x] = 0
			}
		}
	}
	return img
}

func TestSkewAngle(t *testing.T) {
	tests := []struct {
		name string
		tilt float64
	}{
		{"level", 0},
		{"down to the right", 8},
		{"up to the right", -12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SkewAngle(skewedBar(200, 120, tt.tilt))
			if !ok {
				t.Fatal("expected foreground")
			}
			// correction undoes the tilt
			if math.Abs(got+tt.tilt) > 1.5 {
				t.Errorf("SkewAngle() = %.2f, want about %.2f", got, -tt.tilt)
			}
		})
	}
}

func TestDeskew(t *testing.T) {
	t.Run("blank page is identity", func(t *testing.T) {
		blank := image.NewGray(image.Rect(0, 0, 30, 20))
		for i := range blank.Pix {
			blank.Pix[i] = 255
		}
		out, angle := Deskew(blank)
		if angle != 0 {
			t.Errorf("angle = %v, want 0", angle)
		}
		if !bytes.Equal(out.Pix, blank.Pix) {
			t.Error("blank page was modified")
		}
	})

	t.Run("corrected bar is level", func(t *testing.T) {
		out, angle := Deskew(skewedBar(200, 120, 10))
		if angle == 0 {
			t.Fatal("expected a correction")
		}
		residual, ok := SkewAngle(out)
		if !ok {
			t.Fatal("foreground lost after rotation")
		}
		if math.Abs(residual) > 1.5 {
			t.Errorf("residual skew = %.2f", residual)
		}
	})

	t.Run("corners replicate edges", func(t *testing.T) {
		// white page with ink in the middle; rotated corners must stay white
		out, _ := Deskew(skewedBar(200, 120, 15))
		for _, p := range []image.Point{{0, 0}, {199, 0}, {0, 119}, {199, 119}} {
			if v := out.GrayAt(p.X, p.Y).Y; v < 200 {
				t.Errorf("corner %v = %d, want white", p, v)
			}
		}
	})
}

func TestAdaptiveThreshold(t *testing.T) {
	// Left half dim, right half bright, with a darker stroke in each half.
	img := image.NewGray(image.Rect(0, 0, 80, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 80; x++ {
			v := uint8(90)
			if x >= 40 {
				v = 220
			}
			if y >= 18 && y < 22 && (x%40) > 10 && (x%40) < 30 {
				v -= 60
			}
			img.Pix[y*img.Stride+x] = v
		}
	}
	out := AdaptiveThreshold(img, ThresholdBlockSize, ThresholdOffset)

	for _, v := range out.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("non-binary output value %d", v)
		}
	}
	// Strokes are ink in both lighting regions, background is paper.
	if out.GrayAt(20, 20).Y != 0 || out.GrayAt(60, 20).Y != 0 {
		t.Error("strokes should binarize to black under both lighting conditions")
	}
	if out.GrayAt(20, 5).Y != 255 || out.GrayAt(60, 5).Y != 255 {
		t.Error("background should binarize to white under both lighting conditions")
	}
}

func TestGaussianSigma(t *testing.T) {
	if got := gaussianSigma(31); math.Abs(got-5.0) > 1e-12 {
		t.Errorf("gaussianSigma(31) = %v, want 5", got)
	}
}

func TestDenoise_LightensIsolatedSpeck(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Pix[16*img.Stride+16] = 0

	out := Denoise(img, DenoiseParams{H: DenoiseH, TemplateWindow: DenoiseTemplateWindow, SearchWindow: DenoiseSearchWindow})
	// Distant patches carry a small weight each, which lifts the speck
	// roughly halfway to the background.
	if v := out.GrayAt(16, 16).Y; v < 100 {
		t.Errorf("speck barely lightened: %d", v)
	}
	if v := out.GrayAt(2, 2).Y; v != 255 {
		t.Errorf("flat background changed: %d", v)
	}
}

func TestDenoise_FlatImageUnchanged(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 24, 17))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	out := Denoise(img, DenoiseParams{H: 15, TemplateWindow: 7, SearchWindow: 21})
	if !bytes.Equal(out.Pix, img.Pix) {
		t.Error("flat image changed")
	}
}

func TestSharpen(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	img.Pix[2*img.Stride+2] = 120

	out := Sharpen(img)
	// 5*120 - 4*100 = 200
	if v := out.GrayAt(2, 2).Y; v != 200 {
		t.Errorf("center = %d, want 200", v)
	}
	// 5*100 - 3*100 - 120 = 80
	if v := out.GrayAt(2, 1).Y; v != 80 {
		t.Errorf("neighbour = %d, want 80", v)
	}
	if v := out.GrayAt(0, 0).Y; v != 100 {
		t.Errorf("flat corner = %d, want 100", v)
	}
}

func TestMedian3x3(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Pix[2*img.Stride+2] = 0
	img.Pix[0] = 0

	out := Median3x3(img)
	if v := out.GrayAt(2, 2).Y; v != 255 {
		t.Errorf("isolated pixel = %d, want 255", v)
	}
	if v := out.GrayAt(0, 0).Y; v != 255 {
		t.Errorf("corner pixel = %d, want 255", v)
	}
}

func TestGrayscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	img.Set(1, 0, color.RGBA{255, 0, 0, 255})

	out := Grayscale(img)
	if out.GrayAt(0, 0).Y != 255 {
		t.Errorf("white = %d", out.GrayAt(0, 0).Y)
	}
	// 0.299 * 255
	if v := out.GrayAt(1, 0).Y; v < 75 || v > 77 {
		t.Errorf("red luma = %d, want ~76", v)
	}
}
