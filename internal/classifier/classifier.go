// Package classifier turns raw detector samples and environment events into
// confirmed violations. All debounce memory lives in an explicit State value
// that the caller owns, so the rules themselves are plain functions.
package classifier

import (
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/policy"
)

// Classifier applies the debounce rules of one policy.
type Classifier struct {
	debounce policy.Debounce
	catalog  *policy.Catalog
}

// New creates a classifier using the given thresholds and catalog.
// A nil catalog means the default catalog.
func New(debounce policy.Debounce, catalog *policy.Catalog) *Classifier {
	if catalog == nil {
		catalog = policy.NewCatalog()
	}
	return &Classifier{debounce: debounce, catalog: catalog}
}

// ClassifySample runs the frame-derived rules over one sampler tick.
// Neutral samples, and samples arriving with the camera disabled, leave the
// state untouched.
func (c *Classifier) ClassifySample(st *State, s domain.DetectorSample, cfg domain.MonitoringConfig, now time.Time) []domain.Violation {
	if s.Neutral || !cfg.CameraEnabled {
		return nil
	}

	var out []domain.Violation

	// no_face_detected: consecutive misses, any hit resets.
	noFace := st.counter(domain.ViolationNoFaceDetected)
	if s.FaceDetected {
		noFace.Negative = 0
	} else {
		noFace.Negative++
		if noFace.Negative >= c.debounce.NoFaceLimit {
			out = append(out, c.fire(noFace, domain.ViolationNoFaceDetected, now, map[string]any{
				"consecutiveMisses": noFace.Negative,
			}))
			noFace.Negative = 0
		}
	}

	if s.FaceCount > 1 {
		out = append(out, c.fire(st.counter(domain.ViolationMultipleFaces), domain.ViolationMultipleFaces, now, map[string]any{
			"faceCount":  s.FaceCount,
			"confidence": s.Confidence,
		}))
	}

	// phone_detected: a miss decrements instead of resetting.
	phone := st.counter(domain.ViolationPhoneDetected)
	if s.PhoneDetected {
		phone.Positive++
		if phone.Positive >= c.debounce.PhoneLimit {
			out = append(out, c.fire(phone, domain.ViolationPhoneDetected, now, map[string]any{
				"consecutivePositives": phone.Positive,
			}))
			phone.Positive = 0
		}
	} else if phone.Positive > 0 {
		phone.Positive--
	}

	gaze := s.Gaze
	if gaze == "" {
		gaze = domain.GazeUnknown
	}
	st.pushGaze(gaze, c.debounce.GazeWindow)
	if len(st.gaze) == c.debounce.GazeWindow && cfg.StrictMode {
		offCenter := 0
		for _, b := range st.gaze {
			if b != domain.GazeCenter {
				offCenter++
			}
		}
		if offCenter >= c.debounce.GazeOffCenterLimit {
			out = append(out, c.fire(st.counter(domain.ViolationSuspiciousGaze), domain.ViolationSuspiciousGaze, now, map[string]any{
				"offCenter": offCenter,
				"window":    c.debounce.GazeWindow,
			}))
			st.gaze = st.gaze[:0]
		}
	}

	return out
}

// ClassifyEvent runs the edge-triggered environment rules.
func (c *Classifier) ClassifyEvent(st *State, ev domain.EnvironmentEvent, cfg domain.MonitoringConfig, now time.Time) []domain.Violation {
	switch ev.Kind {
	case domain.EventVisibilityHidden:
		tab := st.counter(domain.ViolationTabSwitch)
		if !tab.LastFired.IsZero() && now.Sub(tab.LastFired) < c.debounce.TabSwitchDebounce {
			return nil
		}
		return []domain.Violation{c.fire(tab, domain.ViolationTabSwitch, now, nil)}

	case domain.EventFullscreenExit:
		if !cfg.FullscreenRequired {
			return nil
		}
		return []domain.Violation{c.fire(st.counter(domain.ViolationFullscreenExit), domain.ViolationFullscreenExit, now, nil)}

	case domain.EventCopy, domain.EventPaste:
		return []domain.Violation{c.fire(st.counter(domain.ViolationCopyPaste), domain.ViolationCopyPaste, now, map[string]any{
			"action": string(ev.Kind),
		})}

	case domain.EventScreenShareEnded:
		if !cfg.ScreenMonitoringEnabled {
			return nil
		}
		return []domain.Violation{c.fire(st.counter(domain.ViolationScreenShareDetected), domain.ViolationScreenShareDetected, now, nil)}

	case domain.EventProbeFinding:
		f := ev.Finding
		if f == nil || st.latched[f.Type] {
			return nil
		}
		if _, ok := c.catalog.Get(f.Type); !ok {
			return nil
		}
		st.latched[f.Type] = true
		evidence := map[string]any{"source": f.Source}
		if f.Detail != "" {
			evidence["detail"] = f.Detail
		}
		return []domain.Violation{c.fire(st.counter(f.Type), f.Type, now, evidence)}
	}
	return nil
}

func (c *Classifier) fire(counter *Counter, t domain.ViolationType, now time.Time, evidence map[string]any) domain.Violation {
	counter.LastFired = now
	return c.catalog.NewViolation(t, evidence, now)
}
