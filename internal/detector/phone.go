package detector

import (
	"math"

	"github.com/eliteGoblin/proctord/internal/domain"
)

const (
	brightLuma    = 200.0
	darkLuma      = 40.0
	edgeDelta     = 30.0
	brightTrigger = 0.25
	darkTrigger   = 0.35
	edgeTrigger   = 0.05
)

// PhoneResult is the output of the peripheral-object heuristic.
type PhoneResult struct {
	Detected    bool
	Region      string
	BrightRatio float64
	DarkRatio   float64
	EdgeRatio   float64
}

// DetectPhone scans the left, right and bottom strips of the frame for a
// bright uniform patch (screen glow) or a dark uniform patch (device back)
// combined with enough neighbor-pixel edges to suggest a device outline.
func DetectPhone(f *domain.Frame) PhoneResult {
	if !validFrame(f) {
		return PhoneResult{}
	}

	regions := []region{
		{name: "left", x0: 0, x1: f.Width * 15 / 100, y0: 0, y1: f.Height},
		{name: "right", x0: f.Width * 85 / 100, x1: f.Width, y0: 0, y1: f.Height},
		{name: "bottom", x0: 0, x1: f.Width, y0: f.Height * 80 / 100, y1: f.Height},
	}

	var strongest PhoneResult
	for _, r := range regions {
		res := scanRegion(f, r)
		if res.Detected {
			return res
		}
		if res.BrightRatio+res.DarkRatio > strongest.BrightRatio+strongest.DarkRatio {
			strongest = res
		}
	}
	return strongest
}

func scanRegion(f *domain.Frame, r region) PhoneResult {
	var bright, dark, edges, sampled int
	for y := r.y0; y < r.y1; y += sampleStep {
		for x := r.x0; x < r.x1; x += sampleStep {
			l := luma(rgbAt(f, x, y))
			sampled++
			switch {
			case l > brightLuma:
				bright++
			case l < darkLuma:
				dark++
			}
			if nx := x + sampleStep; nx < r.x1 {
				if math.Abs(l-luma(rgbAt(f, nx, y))) > edgeDelta {
					edges++
				}
			}
		}
	}
	if sampled == 0 {
		return PhoneResult{Region: r.name}
	}

	res := PhoneResult{
		Region:      r.name,
		BrightRatio: float64(bright) / float64(sampled),
		DarkRatio:   float64(dark) / float64(sampled),
		EdgeRatio:   float64(edges) / float64(sampled),
	}
	res.Detected = (res.BrightRatio > brightTrigger || res.DarkRatio > darkTrigger) &&
		res.EdgeRatio > edgeTrigger
	return res
}
