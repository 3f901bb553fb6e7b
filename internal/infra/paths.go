package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the daemon.
type ExecMode string

const (
	// ExecModeUser runs as a regular user with state under the home directory
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with state under /var/lib
	ExecModeSystem ExecMode = "system"
)

// Paths holds the on-disk locations used by the daemon.
type Paths struct {
	Mode       ExecMode
	DataDir    string // Encrypted store and key live here
	ReportDir  string // JSON report archive
	ConfigFile string // Default config file location
	IsRoot     bool
}

// DetectPaths determines locations based on effective UID.
func DetectPaths() *Paths {
	if os.Geteuid() == 0 {
		return &Paths{
			Mode:       ExecModeSystem,
			DataDir:    "/var/lib/proctord",
			ReportDir:  "/var/lib/proctord/reports",
			ConfigFile: "/etc/proctord/config.toml",
			IsRoot:     true,
		}
	}
	return UserPaths()
}

// UserPaths returns user-mode locations regardless of current euid.
// Under sudo, uses SUDO_USER to resolve the invoking user's home directory.
func UserPaths() *Paths {
	home := GetRealUserHome()
	dataDir := filepath.Join(home, ".proctord")
	return &Paths{
		Mode:       ExecModeUser,
		DataDir:    dataDir,
		ReportDir:  filepath.Join(dataDir, "reports"),
		ConfigFile: filepath.Join(home, ".config", "proctord", "config.toml"),
		IsRoot:     os.Geteuid() == 0,
	}
}

// WithDataDir rebases DataDir and ReportDir onto dir. Empty dir is a no-op.
func (p *Paths) WithDataDir(dir string) *Paths {
	if dir == "" {
		return p
	}
	out := *p
	out.DataDir = dir
	out.ReportDir = filepath.Join(dir, "reports")
	return &out
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
