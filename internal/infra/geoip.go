package infra

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// ASNLookup resolves the autonomous system owning an IP address.
type ASNLookup interface {
	LookupASN(ipAddress string) (uint, string, error)
}

// GeoIPService resolves ASNs from a MaxMind GeoLite2-ASN database.
type GeoIPService struct {
	asnReader *geoip2.Reader
}

// NewGeoIPService opens the .mmdb ASN database at asnDBPath.
func NewGeoIPService(asnDBPath string) (*GeoIPService, error) {
	asnReader, err := geoip2.Open(asnDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ASN database: %w", err)
	}
	return &GeoIPService{asnReader: asnReader}, nil
}

// LookupASN returns the ASN and organisation name for an IP address.
func (s *GeoIPService) LookupASN(ipAddress string) (uint, string, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return 0, "", fmt.Errorf("invalid ip address: %q", ipAddress)
	}

	record, err := s.asnReader.ASN(ip)
	if err != nil {
		return 0, "", err
	}

	return uint(record.AutonomousSystemNumber), record.AutonomousSystemOrganization, nil
}

// Close releases the database.
func (s *GeoIPService) Close() error {
	if s.asnReader != nil {
		return s.asnReader.Close()
	}
	return nil
}

// DefaultDataCenterASNs lists cloud and hosting providers whose address space
// is a strong proxy/VPN signal for a candidate connection.
func DefaultDataCenterASNs() map[uint]string {
	return map[uint]string{
		// Major cloud providers
		16509:  "Amazon.com (AWS)",
		14618:  "Amazon.com (AWS)",
		15169:  "Google Cloud",
		396982: "Google Cloud",
		8075:   "Microsoft Azure",
		14061:  "DigitalOcean",

		// European hosting
		24940: "Hetzner Online GmbH",
		16276: "OVH SAS",
		12876: "Online S.A.S. (Scaleway)",
		49981: "WorldStream",

		// VPN/proxy infrastructure
		20473: "Choopa, LLC (Vultr)",
		60068: "Datacamp Limited (CDN77)",
		9009:  "M247 Europe",
		20940: "Akamai Technologies",
		13335: "Cloudflare",

		// Other hosting
		63949: "Linode",
		46606: "Unified Layer",
		36352: "ColoCrossing",
	}
}

var _ ASNLookup = (*GeoIPService)(nil)
