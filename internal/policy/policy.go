// Package policy holds the violation catalog and the tunable scoring and
// debounce thresholds. Weights and thresholds are policy, not law: they are
// loaded from configuration and default to the values below.
package policy

import (
	"fmt"
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// DefaultSampleInterval is the sampler cadence (1 sample/second).
const DefaultSampleInterval = time.Second

// Scoring maps severities to risk points and scores to integrity levels.
type Scoring struct {
	LowWeight              int `json:"lowWeight" toml:"low_weight" yaml:"lowWeight"`
	MediumWeight           int `json:"mediumWeight" toml:"medium_weight" yaml:"mediumWeight"`
	HighWeight             int `json:"highWeight" toml:"high_weight" yaml:"highWeight"`
	Cap                    int `json:"cap" toml:"cap" yaml:"cap"`
	ReviewThreshold        int `json:"reviewThreshold" toml:"review_threshold" yaml:"reviewThreshold"`
	HighSuspicionThreshold int `json:"highSuspicionThreshold" toml:"high_suspicion_threshold" yaml:"highSuspicionThreshold"`
}

// Debounce holds the classifier confirmation thresholds.
type Debounce struct {
	NoFaceLimit        int           `json:"noFaceLimit" toml:"no_face_limit" yaml:"noFaceLimit"`
	PhoneLimit         int           `json:"phoneLimit" toml:"phone_limit" yaml:"phoneLimit"`
	GazeWindow         int           `json:"gazeWindow" toml:"gaze_window" yaml:"gazeWindow"`
	GazeOffCenterLimit int           `json:"gazeOffCenterLimit" toml:"gaze_off_center_limit" yaml:"gazeOffCenterLimit"`
	TabSwitchDebounce  time.Duration `json:"tabSwitchDebounce" toml:"tab_switch_debounce" yaml:"tabSwitchDebounce"`
}

// Policy is the complete tunable rule set a session runs under.
// A running session keeps the policy it started with.
type Policy struct {
	Scoring  Scoring  `json:"scoring" toml:"scoring" yaml:"scoring"`
	Debounce Debounce `json:"debounce" toml:"debounce" yaml:"debounce"`
}

// Default returns the authoritative weight table and thresholds.
func Default() Policy {
	return Policy{
		Scoring: Scoring{
			LowWeight:              2,
			MediumWeight:           5,
			HighWeight:             15,
			Cap:                    100,
			ReviewThreshold:        20,
			HighSuspicionThreshold: 50,
		},
		Debounce: Debounce{
			NoFaceLimit:        15, // ~15s of continuous absence at 1 sample/s
			PhoneLimit:         3,
			GazeWindow:         15,
			GazeOffCenterLimit: 12,
			TabSwitchDebounce:  2000 * time.Millisecond,
		},
	}
}

// Weight returns the risk points contributed by one violation of the severity.
func (s Scoring) Weight(sev domain.Severity) int {
	switch sev {
	case domain.SeverityLow:
		return s.LowWeight
	case domain.SeverityMedium:
		return s.MediumWeight
	case domain.SeverityHigh:
		return s.HighWeight
	default:
		return 0
	}
}

// Validate rejects policies that would break score monotonicity or the
// ordering of integrity levels.
func (p Policy) Validate() error {
	s := p.Scoring
	if s.LowWeight < 0 || s.MediumWeight < 0 || s.HighWeight < 0 {
		return fmt.Errorf("severity weights must be non-negative")
	}
	if s.Cap <= 0 {
		return fmt.Errorf("score cap must be positive, got %d", s.Cap)
	}
	if s.ReviewThreshold <= 0 || s.ReviewThreshold >= s.HighSuspicionThreshold {
		return fmt.Errorf("review threshold %d must be positive and below high-suspicion threshold %d",
			s.ReviewThreshold, s.HighSuspicionThreshold)
	}
	if s.HighSuspicionThreshold > s.Cap {
		return fmt.Errorf("high-suspicion threshold %d exceeds cap %d", s.HighSuspicionThreshold, s.Cap)
	}

	d := p.Debounce
	if d.NoFaceLimit <= 0 || d.PhoneLimit <= 0 {
		return fmt.Errorf("no-face and phone limits must be positive")
	}
	if d.GazeWindow <= 0 || d.GazeOffCenterLimit <= 0 || d.GazeOffCenterLimit > d.GazeWindow {
		return fmt.Errorf("gaze limit %d must be within window %d", d.GazeOffCenterLimit, d.GazeWindow)
	}
	if d.TabSwitchDebounce < 0 {
		return fmt.Errorf("tab switch debounce must be non-negative")
	}
	return nil
}
