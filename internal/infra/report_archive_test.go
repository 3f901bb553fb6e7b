package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/proctord/internal/domain"
)

func newTestArchive(t *testing.T) *ReportArchive {
	t.Helper()
	archive, err := NewReportArchive(filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)
	return archive
}

func TestReportArchive_PublishAndGet(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	for _, e := range sessionEvents("s-1") {
		require.NoError(t, archive.Publish(ctx, e))
	}

	report, err := archive.GetReport(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "candidate-7", report.SubjectID)
	assert.Equal(t, 10*time.Minute, report.SessionDuration)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, domain.ViolationPhoneDetected, report.Violations[0].Type)

	// No stray temp files
	entries, err := os.ReadDir(archive.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	info, err := os.Stat(filepath.Join(archive.Dir(), "s-1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestReportArchive_IgnoresEventsWithoutReport(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	events := sessionEvents("s-1")
	require.NoError(t, archive.Publish(ctx, events[0]))
	require.NoError(t, archive.Publish(ctx, events[1]))

	ids, err := archive.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReportArchive_GetReport_Missing(t *testing.T) {
	archive := newTestArchive(t)
	report, err := archive.GetReport(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestReportArchive_RejectsPathTraversal(t *testing.T) {
	archive := newTestArchive(t)

	tests := []string{"", "../escape", "a/b", ".hidden"}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			_, err := archive.GetReport(context.Background(), id)
			assert.Error(t, err)
			assert.Error(t, archive.Save(&domain.Report{SessionID: id}))
		})
	}
}

func TestReportArchive_SaveReplaces(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	report := testReport("s-1", nil)
	require.NoError(t, archive.Save(report))

	reviewed := *report
	reviewed.Review = &domain.Review{Reviewer: "bob", Decision: "escalated"}
	require.NoError(t, archive.Save(&reviewed))

	got, err := archive.GetReport(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got.Review)
	assert.Equal(t, "escalated", got.Review.Decision)
}

func TestReportArchive_ListAndPrune(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	old := testReport("a-old", nil)
	fresh := testReport("b-fresh", nil)
	fresh.EndTime = testEpoch.Add(48 * time.Hour)
	require.NoError(t, archive.Save(old))
	require.NoError(t, archive.Save(fresh))

	ids, err := archive.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-old", "b-fresh"}, ids)

	removed, err := archive.Prune(ctx, testEpoch.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err = archive.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b-fresh"}, ids)
}
