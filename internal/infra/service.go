package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

// ServiceLabel names the launchd job and systemd unit.
const ServiceLabel = "io.proctord.serve"

// launchd plist template. User mode restarts only on crash; system mode
// always keeps the service alive.
const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.ConfigFile}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
{{- if .System}}
    <true/>
{{- else}}
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>
{{- end}}

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=proctord integrity monitor
After=network-online.target

[Service]
ExecStart={{.ExecutablePath}} serve --config {{.ConfigFile}}
Restart=on-failure
RestartSec=10
StandardOutput=append:{{.LogPath}}
StandardError=append:{{.ErrorLogPath}}

[Install]
WantedBy={{if .System}}multi-user.target{{else}}default.target{{end}}
`

type unitConfig struct {
	Label          string
	ExecutablePath string
	ConfigFile     string
	LogPath        string
	ErrorLogPath   string
	System         bool
}

// ServiceManager installs proctord as an auto-started service: a launchd
// job on macOS, a systemd unit elsewhere.
type ServiceManager struct {
	paths    *Paths
	platform string
	unitDir  string
	unitPath string
	run      func(name string, args ...string) error
}

// NewServiceManager creates a manager for the current platform and mode.
func NewServiceManager(paths *Paths) *ServiceManager {
	return newServiceManager(paths, runtime.GOOS, GetRealUserHome(), runCommand)
}

func newServiceManager(paths *Paths, platform, home string, run func(string, ...string) error) *ServiceManager {
	m := &ServiceManager{paths: paths, platform: platform, run: run}
	system := paths.Mode == ExecModeSystem

	switch {
	case platform == "darwin" && system:
		m.unitDir = "/Library/LaunchDaemons"
	case platform == "darwin":
		m.unitDir = filepath.Join(home, "Library", "LaunchAgents")
	case system:
		m.unitDir = "/etc/systemd/system"
	default:
		m.unitDir = filepath.Join(home, ".config", "systemd", "user")
	}

	name := "proctord.service"
	if platform == "darwin" {
		name = ServiceLabel + ".plist"
	}
	m.unitPath = filepath.Join(m.unitDir, name)
	return m
}

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// UnitPath returns the service definition file path.
func (m *ServiceManager) UnitPath() string {
	return m.unitPath
}

// render creates the service definition for the given binary path.
func (m *ServiceManager) render(execPath string) ([]byte, error) {
	tmplStr := systemdTemplate
	if m.platform == "darwin" {
		tmplStr = launchdTemplate
	}

	config := unitConfig{
		Label:          ServiceLabel,
		ExecutablePath: execPath,
		ConfigFile:     m.paths.ConfigFile,
		LogPath:        filepath.Join(m.paths.DataDir, "proctord.out"),
		ErrorLogPath:   filepath.Join(m.paths.DataDir, "proctord.err"),
		System:         m.paths.Mode == ExecModeSystem,
	}

	tmpl, err := template.New("unit").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute service template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the service definition and loads it.
func (m *ServiceManager) Install(execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(m.paths.DataDir, 0700); err != nil {
		return err
	}

	content, err := m.render(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return err
	}
	return m.load()
}

// Uninstall unloads and removes the service definition.
func (m *ServiceManager) Uninstall() error {
	// Unload first (ignore errors if not loaded)
	_ = m.unload()
	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks whether the service definition exists.
func (m *ServiceManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate reports whether an installed definition differs from what
// Install would write for execPath.
func (m *ServiceManager) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}
	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.render(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

func (m *ServiceManager) systemctl(args ...string) error {
	if m.paths.Mode != ExecModeSystem {
		args = append([]string{"--user"}, args...)
	}
	return m.run("systemctl", args...)
}

func (m *ServiceManager) load() error {
	if m.platform == "darwin" {
		return m.run("launchctl", "load", m.unitPath)
	}
	if err := m.systemctl("daemon-reload"); err != nil {
		return err
	}
	return m.systemctl("enable", "--now", "proctord.service")
}

func (m *ServiceManager) unload() error {
	if m.platform == "darwin" {
		return m.run("launchctl", "unload", m.unitPath)
	}
	return m.systemctl("disable", "--now", "proctord.service")
}
