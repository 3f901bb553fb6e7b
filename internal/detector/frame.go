// Package detector implements the heuristic Detector Bank.
//
// Every function here is a pure function of the current frame and audio
// buffer. Malformed input yields a neutral result instead of an error so a
// decoding problem can never accuse a clean candidate.
package detector

import (
	"image"
	"image/draw"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// sampleStep is the sub-sampling stride in pixels for all region scans.
const sampleStep = 4

// FromImage converts any decoded image into a packed RGBA frame.
func FromImage(img image.Image) *domain.Frame {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &domain.Frame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    rgba.Pix,
	}
}

// validFrame reports whether f is safe to index.
func validFrame(f *domain.Frame) bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Pix) >= f.Width*f.Height*4
}

func rgbAt(f *domain.Frame, x, y int) (r, g, b int) {
	i := (y*f.Width + x) * 4
	return int(f.Pix[i]), int(f.Pix[i+1]), int(f.Pix[i+2])
}

func luma(r, g, b int) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// region is a half-open pixel rectangle [x0,x1) x [y0,y1).
type region struct {
	name           string
	x0, y0, x1, y1 int
}
