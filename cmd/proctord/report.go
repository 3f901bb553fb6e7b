package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/config"
	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/infra"
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print the stored report of an ended session",
	Long: `Reads a session report from local storage: the encrypted store first, then
the JSON report archive. The service does not need to be running.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var reportJSON bool

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	report, err := findReport(cmd.Context(), cfg, resolvePaths(cfg), args[0], logger)
	if err != nil {
		return err
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(os.Stdout, report)
	return nil
}

// findReport looks the session up in every local store that is enabled.
func findReport(ctx context.Context, cfg *config.Config, paths *infra.Paths, sessionID string, logger *zap.Logger) (*domain.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Storage.Encrypted {
		provider := infra.SelectKeyProvider(paths.DataDir)
		if provider.KeyExists() {
			key, err := provider.GetKey()
			if err != nil {
				return nil, fmt.Errorf("store key: %w", err)
			}
			store, err := infra.NewEncryptedStore(paths.DataDir, key)
			if err != nil {
				logger.Warn("encrypted store unavailable", zap.Error(err))
			} else {
				defer store.Close()
				report, err := store.GetReport(ctx, sessionID)
				if err != nil {
					return nil, err
				}
				if report != nil {
					return report, nil
				}
			}
		}
	}

	if cfg.Storage.Archive {
		archive, err := infra.NewReportArchive(paths.ReportDir)
		if err != nil {
			return nil, err
		}
		report, err := archive.GetReport(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if report != nil {
			return report, nil
		}
	}

	return nil, fmt.Errorf("%w: no stored report for %s", domain.ErrSessionNotFound, sessionID)
}

func printReport(w io.Writer, r *domain.Report) {
	fmt.Fprintln(w, "\n=== Integrity Report ===")
	fmt.Fprintf(w, "Session:   %s (%s)\n", r.SessionID, r.SessionType)
	fmt.Fprintf(w, "Subject:   %s\n", r.SubjectID)
	fmt.Fprintf(w, "Duration:  %s (ended: %s)\n", r.SessionDuration, r.EndReason)
	fmt.Fprintf(w, "Risk:      %d (%s)\n", r.RiskScore, r.IntegrityStatus)
	fmt.Fprintf(w, "Violations: %d total, %d high, %d medium, %d low\n",
		r.Stats.TotalViolations, r.Stats.HighViolations, r.Stats.MediumViolations, r.Stats.LowViolations)
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  - %s [%s] %s\n", v.Timestamp.Format("15:04:05"), v.Severity, v.Type)
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", r.Summary)
	}
	if r.Review != nil {
		fmt.Fprintf(w, "Reviewed by %s: %s\n", r.Review.Reviewer, r.Review.Decision)
		if r.Review.Notes != "" {
			fmt.Fprintf(w, "  %s\n", r.Review.Notes)
		}
	}
	fmt.Fprintln(w, "========================")
}
