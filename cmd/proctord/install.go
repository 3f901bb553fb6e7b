package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/proctord/internal/infra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install proctord as an auto-started service",
	Long: `Writes a launchd job (macOS) or systemd unit (Linux) that runs
"proctord serve" with the resolved config file, then loads it. Running as
root installs a system service; otherwise a per-user one.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the proctord service",
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}

func serviceManager() (*infra.ServiceManager, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	paths := resolvePaths(cfg)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	paths.ConfigFile = abs
	return infra.NewServiceManager(paths), nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	mgr, err := serviceManager()
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	if mgr.IsInstalled() && !mgr.NeedsUpdate(exe) {
		fmt.Printf("Service already installed: %s\n", mgr.UnitPath())
		return nil
	}
	if mgr.IsInstalled() {
		// Reload with the new definition.
		if err := mgr.Uninstall(); err != nil {
			return fmt.Errorf("failed to remove old service: %w", err)
		}
	}
	if err := mgr.Install(exe); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	fmt.Printf("Service installed: %s\n", mgr.UnitPath())
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	mgr, err := serviceManager()
	if err != nil {
		return err
	}
	if !mgr.IsInstalled() {
		fmt.Println("Service not installed")
		return nil
	}
	if err := mgr.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	fmt.Printf("Service removed: %s\n", mgr.UnitPath())
	return nil
}
