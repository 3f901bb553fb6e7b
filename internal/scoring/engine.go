// Package scoring implements the risk scoring engine: a capped, monotonic
// accumulation of violation severities and the integrity level derived from it.
package scoring

import (
	"fmt"

	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/policy"
)

// Engine scores violations under one scoring policy.
type Engine struct {
	policy policy.Scoring
}

// NewEngine creates a scoring engine for the given weights and thresholds.
func NewEngine(p policy.Scoring) *Engine {
	return &Engine{policy: p}
}

// Apply adds the weight of sev to score, capped. Never returns less than score.
func (e *Engine) Apply(score int, sev domain.Severity) int {
	next := score + max(e.policy.Weight(sev), 0)
	if next > e.policy.Cap {
		next = e.policy.Cap
	}
	return max(next, score)
}

// Score replays a whole violation list from zero.
func (e *Engine) Score(violations []domain.Violation) int {
	score := 0
	for _, v := range violations {
		score = e.Apply(score, v.Severity)
	}
	return score
}

// Integrity maps a score onto the three-level classification.
func (e *Engine) Integrity(score int) domain.IntegrityLevel {
	switch {
	case score < e.policy.ReviewThreshold:
		return domain.IntegrityClean
	case score < e.policy.HighSuspicionThreshold:
		return domain.IntegrityReviewRecommended
	default:
		return domain.IntegrityHighSuspicion
	}
}

// Tally recomputes the per-severity stats of a violation list.
func Tally(violations []domain.Violation) domain.Stats {
	var s domain.Stats
	for _, v := range violations {
		s.TotalViolations++
		switch v.Severity {
		case domain.SeverityLow:
			s.LowViolations++
		case domain.SeverityMedium:
			s.MediumViolations++
			s.WarningsIssued++
		case domain.SeverityHigh:
			s.HighViolations++
			s.WarningsIssued++
		}
	}
	return s
}

// WarningMessage returns the banner text the UI should surface for v, or
// "" for low-severity violations.
func WarningMessage(v domain.Violation) string {
	switch v.Severity {
	case domain.SeverityMedium:
		return fmt.Sprintf("Warning: %s. Please stay focused on the assessment.", v.Description)
	case domain.SeverityHigh:
		return fmt.Sprintf("Serious warning: %s. This has been flagged for review.", v.Description)
	default:
		return ""
	}
}

// Summary produces the one-paragraph narrative attached to a report. The
// score is quoted against the configured cap.
func (e *Engine) Summary(level domain.IntegrityLevel, score int, stats domain.Stats) string {
	if stats.TotalViolations == 0 {
		return "No integrity concerns were detected during this session."
	}
	var verdict string
	switch level {
	case domain.IntegrityClean:
		verdict = "Minor integrity concerns were noted; no review is required."
	case domain.IntegrityReviewRecommended:
		verdict = "Several integrity concerns were noted; a manual review is recommended."
	default:
		verdict = "Significant integrity concerns were noted; this session is highly suspicious."
	}
	return fmt.Sprintf("%s Risk score %d/%d from %d violation(s): %d high, %d medium, %d low.",
		verdict, score, e.policy.Cap, stats.TotalViolations, stats.HighViolations, stats.MediumViolations, stats.LowViolations)
}
