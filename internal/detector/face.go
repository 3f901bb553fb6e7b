package detector

import (
	"math"

	"github.com/eliteGoblin/proctord/internal/domain"
)

const (
	minSkinRatio = 0.04
	maxSkinRatio = 0.8

	// a column is "skin" when this share of its sampled pixels is skin-toned
	skinColumnDensity = 0.3
)

// FaceResult is the output of the face presence heuristic.
type FaceResult struct {
	Detected   bool
	Count      int
	Confidence float64
	SkinRatio  float64
}

// DetectFace scans the central region of the frame for skin-toned pixels.
// Detected when 0.04 < skinRatio < 0.8; confidence = min(skinRatio*2.5, 1).
func DetectFace(f *domain.Frame) FaceResult {
	if !validFrame(f) {
		return FaceResult{}
	}

	center := region{
		name: "center",
		x0:   f.Width / 4, x1: f.Width * 3 / 4,
		y0: f.Height / 5, y1: f.Height * 4 / 5,
	}

	var skin, sampled int
	for y := center.y0; y < center.y1; y += sampleStep {
		for x := center.x0; x < center.x1; x += sampleStep {
			sampled++
			if isSkin(rgbAt(f, x, y)) {
				skin++
			}
		}
	}
	if sampled == 0 {
		return FaceResult{}
	}

	ratio := float64(skin) / float64(sampled)
	result := FaceResult{
		Detected:   ratio > minSkinRatio && ratio < maxSkinRatio,
		Confidence: math.Min(ratio*2.5, 1),
		SkinRatio:  ratio,
	}
	if result.Detected {
		result.Count = max(countSkinBlobs(f), 1)
	}
	return result
}

// isSkin combines two redundant RGB heuristics so either lighting or skin
// tone variance alone does not hide a face.
func isSkin(r, g, b int) bool {
	return isSkinRGB(r, g, b) || isSkinNormalized(r, g, b)
}

// isSkinRGB is the uniform-daylight RGB rule.
func isSkinRGB(r, g, b int) bool {
	maxC := max(r, g, b)
	minC := min(r, g, b)
	return r > 95 && g > 40 && b > 20 &&
		maxC-minC > 15 &&
		abs(r-g) > 15 && r > g && r > b
}

// isSkinNormalized works on chromaticity, which is stable under brightness changes.
func isSkinNormalized(r, g, b int) bool {
	sum := r + g + b
	if sum < 60 {
		return false
	}
	rn := float64(r) / float64(sum)
	gn := float64(g) / float64(sum)
	return rn > 0.36 && rn < 0.465 && gn > 0.28 && gn < 0.363
}

// countSkinBlobs estimates the number of faces as the number of separated
// runs of skin-dense columns across the full frame width. Runs narrower than
// a tenth of the frame are ignored so hands and noise do not count as faces.
func countSkinBlobs(f *domain.Frame) int {
	y0, y1 := f.Height/5, f.Height*4/5
	minRun := f.Width / 10
	maxGap := f.Width / 20

	blobs := 0
	runStart, lastSkin := -1, -1
	closeRun := func() {
		if runStart >= 0 && lastSkin-runStart+sampleStep >= minRun {
			blobs++
		}
		runStart = -1
	}

	for x := 0; x < f.Width; x += sampleStep {
		var skin, sampled int
		for y := y0; y < y1; y += sampleStep {
			sampled++
			if isSkin(rgbAt(f, x, y)) {
				skin++
			}
		}
		dense := sampled > 0 && float64(skin)/float64(sampled) >= skinColumnDensity
		if dense {
			if runStart < 0 {
				runStart = x
			}
			lastSkin = x
			continue
		}
		if runStart >= 0 && x-lastSkin > maxGap {
			closeRun()
		}
	}
	closeRun()
	return blobs
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
