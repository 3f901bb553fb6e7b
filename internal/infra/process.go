package infra

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// ProcessScannerImpl implements domain.ProcessScanner using gopsutil.
type ProcessScannerImpl struct{}

// NewProcessScanner creates a new process scanner.
func NewProcessScanner() domain.ProcessScanner {
	return &ProcessScannerImpl{}
}

// FindByName returns PIDs of processes matching the pattern (case-insensitive).
func (ps *ProcessScannerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}

		if strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// Ensure ProcessScannerImpl implements domain.ProcessScanner.
var _ domain.ProcessScanner = (*ProcessScannerImpl)(nil)
