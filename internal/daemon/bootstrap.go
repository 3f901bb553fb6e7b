package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// DetachedCommand builds the self-exec command that runs "serve" in the
// background. Output goes to logPath so the detached process never holds
// the parent's terminal.
func DetachedCommand(executable string, serveArgs []string, logPath string) (*exec.Cmd, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	args := append([]string{"serve"}, serveArgs...)
	cmd := exec.Command(executable, args...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	return cmd, logFile, nil
}

// StartDetached spawns the service in the background and returns its PID.
func StartDetached(serveArgs []string, logPath string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd, logFile, err := DetachedCommand(executable, serveArgs, logPath)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Not waited on; the child outlives us.
	_ = cmd.Process.Release()
	return pid, nil
}
