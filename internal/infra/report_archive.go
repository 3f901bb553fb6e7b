package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
)

const reportExt = ".json"

// ReportArchive keeps one JSON file per ended session so reports survive
// restarts and can be read offline by `proctord report`.
type ReportArchive struct {
	dir string
}

// NewReportArchive creates an archive rooted at dir, creating it if needed.
func NewReportArchive(dir string) (*ReportArchive, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &ReportArchive{dir: dir}, nil
}

// Dir returns the archive directory.
func (a *ReportArchive) Dir() string {
	return a.dir
}

// Name identifies the sink in logs.
func (a *ReportArchive) Name() string { return "archive" }

// Publish writes the report carried by end and review events. Other events are ignored.
func (a *ReportArchive) Publish(_ context.Context, event domain.SessionEvent) error {
	if event.Report == nil {
		return nil
	}
	switch event.Kind {
	case domain.SessionEnded, domain.SessionReviewed:
		return a.Save(event.Report)
	default:
		return nil
	}
}

// Save stores a report, replacing any previous version.
func (a *ReportArchive) Save(report *domain.Report) error {
	path, err := a.path(report.SessionID)
	if err != nil {
		return err
	}
	return atomicWrite(path, report)
}

// GetReport returns the archived report, or nil if none exists.
func (a *ReportArchive) GetReport(_ context.Context, sessionID string) (*domain.Report, error) {
	path, err := a.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

// List returns archived session ids in lexical order.
func (a *ReportArchive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), reportExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), reportExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune deletes reports whose session ended before cutoff.
func (a *ReportArchive) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := a.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		report, err := a.GetReport(ctx, id)
		if err != nil || report == nil {
			continue // Unreadable files are left for an operator
		}
		if !report.EndTime.Before(cutoff) {
			continue
		}
		path, _ := a.path(id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (a *ReportArchive) path(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || strings.HasPrefix(sessionID, ".") {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(a.dir, sessionID+reportExt), nil
}

// atomicWrite writes v as JSON atomically (write + rename).
func atomicWrite(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure ReportArchive implements both interfaces.
var _ domain.EventSink = (*ReportArchive)(nil)
var _ domain.ReportStore = (*ReportArchive)(nil)
