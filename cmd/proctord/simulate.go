package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/scenario"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a scripted session on a simulated clock",
	Long: `Replays a YAML scenario (detector samples, browser events and reported
violations at fixed offsets) through the classifier and scorer, then prints
each confirmed violation and the final report. Nothing is persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

var simulateJSON bool

func init() {
	simulateCmd.Flags().BoolVar(&simulateJSON, "json", false, "Print the result as JSON")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	s, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	result, err := scenario.Run(context.Background(), s, logger)
	if err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}

	if simulateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSimulation(os.Stdout, s.Name, result)
	return nil
}

func printSimulation(w io.Writer, name string, result *scenario.Result) {
	fmt.Fprintf(w, "\n=== Scenario: %s ===\n", name)
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No violations confirmed.")
	}
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "  +%-8s %-22s score %d\n", e.Offset, e.Type, e.RiskScore)
	}
	if result.TimeLimitReached {
		fmt.Fprintln(w, "\nTime limit reached; later steps skipped.")
	}
	printReport(w, result.Report)
}
