package infra

import (
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// sessionEvents returns the sink traffic of a short session that records one
// phone violation and ends explicitly.
func sessionEvents(sessionID string) []domain.SessionEvent {
	violation := domain.Violation{
		Type:        domain.ViolationPhoneDetected,
		Severity:    domain.SeverityHigh,
		Description: "Mobile phone detected",
		Timestamp:   testEpoch.Add(30 * time.Second),
		Evidence:    map[string]any{"consecutivePositives": float64(3)},
	}
	stats := domain.Stats{TotalViolations: 1, HighViolations: 1, WarningsIssued: 1}
	report := testReport(sessionID, []domain.Violation{violation})

	base := domain.SessionEvent{
		SessionID:   sessionID,
		SubjectID:   "candidate-7",
		SessionType: "coding_interview",
	}

	started := base
	started.Kind = domain.SessionStarted
	started.At = testEpoch
	started.Status = domain.StatusActive
	started.IntegrityStatus = domain.IntegrityClean

	recorded := base
	recorded.Kind = domain.ViolationRecorded
	recorded.At = violation.Timestamp
	recorded.Status = domain.StatusActive
	recorded.RiskScore = 25
	recorded.IntegrityStatus = domain.IntegrityReviewRecommended
	recorded.Stats = stats
	recorded.Violation = &violation

	ended := base
	ended.Kind = domain.SessionEnded
	ended.At = report.EndTime
	ended.Status = domain.StatusEnded
	ended.RiskScore = 25
	ended.IntegrityStatus = domain.IntegrityReviewRecommended
	ended.Stats = stats
	ended.Report = report

	return []domain.SessionEvent{started, recorded, ended}
}

func testReport(sessionID string, violations []domain.Violation) *domain.Report {
	return &domain.Report{
		SessionID:       sessionID,
		SubjectID:       "candidate-7",
		SessionType:     "coding_interview",
		RiskScore:       25,
		IntegrityStatus: domain.IntegrityReviewRecommended,
		SessionDuration: 10 * time.Minute,
		Stats:           domain.Stats{TotalViolations: len(violations), HighViolations: len(violations), WarningsIssued: len(violations)},
		Violations:      violations,
		Summary:         "Review recommended.",
		StartTime:       testEpoch,
		EndTime:         testEpoch.Add(10 * time.Minute),
		EndReason:       domain.EndExplicit,
	}
}
