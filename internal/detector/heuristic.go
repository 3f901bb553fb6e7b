package detector

import (
	"github.com/eliteGoblin/proctord/internal/domain"
)

// FacePresenceGaze is the stand-in gaze estimator: center when a face is
// visible, unknown otherwise.
type FacePresenceGaze struct{}

// Estimate implements domain.GazeEstimator.
func (FacePresenceGaze) Estimate(_ *domain.Frame, faceDetected bool) domain.GazeBucket {
	if faceDetected {
		return domain.GazeCenter
	}
	return domain.GazeUnknown
}

// AudioLevel is the mean frequency-domain energy of the analyser bins,
// normalized to [0,1].
func AudioLevel(buf domain.AudioBuffer) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum int
	for _, v := range buf {
		sum += int(v)
	}
	return float64(sum) / float64(len(buf)) / 255
}

// Neutral is the non-accusatory sample returned whenever detection fails.
func Neutral() domain.DetectorSample {
	return domain.DetectorSample{Gaze: domain.GazeUnknown, Neutral: true}
}

// Heuristic implements domain.Detector with the skin-tone, edge-density and
// audio-energy heuristics.
type Heuristic struct {
	gaze domain.GazeEstimator
}

// Option configures a Heuristic detector.
type Option func(*Heuristic)

// WithGazeEstimator replaces the face-presence gaze stand-in.
func WithGazeEstimator(g domain.GazeEstimator) Option {
	return func(h *Heuristic) {
		h.gaze = g
	}
}

// NewHeuristic creates the default detector bank.
func NewHeuristic(opts ...Option) *Heuristic {
	h := &Heuristic{gaze: FacePresenceGaze{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Sample runs every detector over the frame. Any panic inside a detector,
// or an unusable frame, yields Neutral().
func (h *Heuristic) Sample(frame *domain.Frame, audio domain.AudioBuffer) (sample domain.DetectorSample) {
	defer func() {
		if r := recover(); r != nil {
			sample = Neutral()
		}
	}()

	if !validFrame(frame) {
		return Neutral()
	}

	face := DetectFace(frame)
	phone := DetectPhone(frame)

	return domain.DetectorSample{
		FaceDetected:  face.Detected,
		FaceCount:     face.Count,
		Confidence:    face.Confidence,
		Gaze:          h.gaze.Estimate(frame, face.Detected),
		PhoneDetected: phone.Detected,
		AudioLevel:    AudioLevel(audio),
	}
}

// Ensure Heuristic implements domain.Detector.
var _ domain.Detector = (*Heuristic)(nil)
