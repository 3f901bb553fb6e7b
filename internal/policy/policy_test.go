package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// TestDefault verifies the authoritative weights and thresholds
func TestDefault(t *testing.T) {
	p := Default()

	assert.Equal(t, 2, p.Scoring.Weight(domain.SeverityLow))
	assert.Equal(t, 5, p.Scoring.Weight(domain.SeverityMedium))
	assert.Equal(t, 15, p.Scoring.Weight(domain.SeverityHigh))
	assert.Equal(t, 0, p.Scoring.Weight("critical"))
	assert.Equal(t, 100, p.Scoring.Cap)
	assert.Equal(t, 20, p.Scoring.ReviewThreshold)
	assert.Equal(t, 50, p.Scoring.HighSuspicionThreshold)

	assert.Equal(t, 15, p.Debounce.NoFaceLimit)
	assert.Equal(t, 3, p.Debounce.PhoneLimit)
	assert.Equal(t, 15, p.Debounce.GazeWindow)
	assert.Equal(t, 12, p.Debounce.GazeOffCenterLimit)
	assert.Equal(t, 2*time.Second, p.Debounce.TabSwitchDebounce)

	assert.NoError(t, p.Validate())
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"negative weight", func(p *Policy) { p.Scoring.HighWeight = -1 }},
		{"zero cap", func(p *Policy) { p.Scoring.Cap = 0 }},
		{"thresholds inverted", func(p *Policy) { p.Scoring.ReviewThreshold = 60 }},
		{"threshold above cap", func(p *Policy) { p.Scoring.Cap = 40 }},
		{"zero no-face limit", func(p *Policy) { p.Debounce.NoFaceLimit = 0 }},
		{"gaze limit above window", func(p *Policy) { p.Debounce.GazeOffCenterLimit = 16 }},
		{"negative debounce", func(p *Policy) { p.Debounce.TabSwitchDebounce = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
