package usecase

import (
	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/scoring"
)

// buildReport freezes an ended session into its report.
func buildReport(s domain.Session, scorer *scoring.Engine) *domain.Report {
	stats := scoring.Tally(s.Violations)
	return &domain.Report{
		SessionID:       s.ID,
		SubjectID:       s.SubjectID,
		SessionType:     s.SessionType,
		RiskScore:       s.RiskScore,
		IntegrityStatus: s.IntegrityStatus,
		SessionDuration: s.EndTime.Sub(s.StartTime),
		Stats:           stats,
		Violations:      copyViolations(s.Violations),
		Summary:         scorer.Summary(s.IntegrityStatus, s.RiskScore, stats),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		EndReason:       s.EndReason,
		Review:          s.Review,
	}
}

func copyReport(r *domain.Report) *domain.Report {
	if r == nil {
		return nil
	}
	out := *r
	out.Violations = copyViolations(r.Violations)
	if r.Review != nil {
		review := *r.Review
		out.Review = &review
	}
	return &out
}

func copyViolations(vs []domain.Violation) []domain.Violation {
	out := make([]domain.Violation, len(vs))
	copy(out, vs)
	return out
}
