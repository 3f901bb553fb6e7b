package infra

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// DefaultRemoteDesktopProcesses are process name fragments of common
// remote-control tools.
var DefaultRemoteDesktopProcesses = []string{
	"anydesk",
	"teamviewer",
	"rustdesk",
	"vncserver",
	"x11vnc",
	"remoting_host", // Chrome Remote Desktop
	"parsecd",
	"splashtop",
}

// ProbeConfig toggles the individual checks of HostProbe.
type ProbeConfig struct {
	CheckProcesses      bool
	CheckVirtualization bool
	CheckNetwork        bool

	RemoteDesktopProcesses []string
	DataCenterASNs         map[uint]string
}

// DefaultProbeConfig returns a config with all checks enabled.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		CheckProcesses:         true,
		CheckVirtualization:    true,
		CheckNetwork:           true,
		RemoteDesktopProcesses: DefaultRemoteDesktopProcesses,
		DataCenterASNs:         DefaultDataCenterASNs(),
	}
}

// VirtualizationFunc reports the virtualization system and role of the host.
type VirtualizationFunc func(ctx context.Context) (system, role string, err error)

// HostProbe implements domain.EnvironmentProbe. Process and virtualization
// checks inspect the machine proctord runs on (agent deployments); the
// network check inspects the client-reported IP address.
type HostProbe struct {
	config         ProbeConfig
	scanner        domain.ProcessScanner
	asn            ASNLookup
	virtualization VirtualizationFunc
	logger         *zap.Logger
}

// NewHostProbe creates a probe. asn may be nil, which disables the network check.
func NewHostProbe(config ProbeConfig, scanner domain.ProcessScanner, asn ASNLookup, logger *zap.Logger) *HostProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostProbe{
		config:         config,
		scanner:        scanner,
		asn:            asn,
		virtualization: host.VirtualizationWithContext,
		logger:         logger,
	}
}

// Probe runs the enabled checks. Individual check failures are logged and
// skipped; a failing probe never produces a finding.
func (p *HostProbe) Probe(ctx context.Context, info domain.DeviceInfo) ([]domain.ProbeFinding, error) {
	var findings []domain.ProbeFinding

	if p.config.CheckProcesses && p.scanner != nil {
		if f := p.checkRemoteDesktop(); f != nil {
			findings = append(findings, *f)
		}
	}

	if p.config.CheckVirtualization && p.virtualization != nil {
		if f := p.checkVirtualization(ctx); f != nil {
			findings = append(findings, *f)
		}
	}

	if p.config.CheckNetwork && p.asn != nil && info.IPAddress != "" {
		if f := p.checkNetwork(info.IPAddress); f != nil {
			findings = append(findings, *f)
		}
	}

	return findings, ctx.Err()
}

func (p *HostProbe) checkRemoteDesktop() *domain.ProbeFinding {
	var matched []string
	for _, name := range p.config.RemoteDesktopProcesses {
		pids, err := p.scanner.FindByName(name)
		if err != nil {
			p.logger.Warn("process scan failed", zap.String("pattern", name), zap.Error(err))
			return nil
		}
		if len(pids) > 0 {
			matched = append(matched, name)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.Strings(matched)
	return &domain.ProbeFinding{
		Type:   domain.ViolationRemoteDesktop,
		Source: "process_scan",
		Detail: strings.Join(matched, ","),
	}
}

func (p *HostProbe) checkVirtualization(ctx context.Context) *domain.ProbeFinding {
	system, role, err := p.virtualization(ctx)
	if err != nil {
		p.logger.Debug("virtualization check failed", zap.Error(err))
		return nil
	}
	if role != "guest" {
		return nil
	}
	return &domain.ProbeFinding{
		Type:   domain.ViolationVirtualMachine,
		Source: "host_info",
		Detail: system,
	}
}

func (p *HostProbe) checkNetwork(ipAddress string) *domain.ProbeFinding {
	ip := net.ParseIP(ipAddress)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() {
		return nil
	}

	asn, org, err := p.asn.LookupASN(ipAddress)
	if err != nil {
		p.logger.Debug("asn lookup failed", zap.String("ip", ipAddress), zap.Error(err))
		return nil
	}
	provider, blacklisted := p.config.DataCenterASNs[asn]
	if !blacklisted {
		return nil
	}
	if org == "" {
		org = provider
	}
	return &domain.ProbeFinding{
		Type:   domain.ViolationProxySuspected,
		Source: "asn",
		Detail: fmt.Sprintf("AS%d %s", asn, org),
	}
}

// Ensure HostProbe implements domain.EnvironmentProbe.
var _ domain.EnvironmentProbe = (*HostProbe)(nil)
