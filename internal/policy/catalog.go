package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// Descriptor is the fixed severity and description of one violation type.
type Descriptor struct {
	Type        domain.ViolationType
	Severity    domain.Severity
	Description string
}

// Catalog holds the closed set of violation types.
type Catalog struct {
	descriptors map[domain.ViolationType]Descriptor
}

// NewCatalog creates a catalog with the authoritative violation table.
func NewCatalog() *Catalog {
	return NewCatalogWith(defaultDescriptors()...)
}

// NewCatalogWith creates a catalog with custom descriptors (for testing).
func NewCatalogWith(descriptors ...Descriptor) *Catalog {
	c := &Catalog{
		descriptors: make(map[domain.ViolationType]Descriptor),
	}
	for _, d := range descriptors {
		c.Register(d)
	}
	return c
}

// Register adds or replaces a descriptor.
func (c *Catalog) Register(d Descriptor) {
	c.descriptors[d.Type] = d
}

// Get returns the descriptor for a violation type.
func (c *Catalog) Get(t domain.ViolationType) (Descriptor, bool) {
	d, ok := c.descriptors[t]
	return d, ok
}

// MustGet returns the descriptor or panics. Only for types the engine itself emits.
func (c *Catalog) MustGet(t domain.ViolationType) Descriptor {
	d, ok := c.descriptors[t]
	if !ok {
		panic(fmt.Sprintf("violation type %q not in catalog", t))
	}
	return d
}

// All returns every descriptor ordered by severity, then type.
func (c *Catalog) All() []Descriptor {
	result := make([]Descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := severityRank(result[i].Severity), severityRank(result[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return result[i].Type < result[j].Type
	})
	return result
}

// List returns all violation types.
func (c *Catalog) List() []domain.ViolationType {
	all := c.All()
	types := make([]domain.ViolationType, len(all))
	for i, d := range all {
		types[i] = d.Type
	}
	return types
}

// NewViolation builds a violation from the catalog entry for t.
func (c *Catalog) NewViolation(t domain.ViolationType, evidence map[string]any, at time.Time) domain.Violation {
	d := c.MustGet(t)
	return domain.Violation{
		Type:        d.Type,
		Severity:    d.Severity,
		Description: d.Description,
		Timestamp:   at,
		Evidence:    evidence,
	}
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityLow:
		return 0
	case domain.SeverityMedium:
		return 1
	default:
		return 2
	}
}

func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{domain.ViolationTabSwitch, domain.SeverityLow, "Switched away from the assessment tab"},
		{domain.ViolationHeadMovement, domain.SeverityLow, "Frequent head movement away from the screen"},
		{domain.ViolationPostureShift, domain.SeverityLow, "Significant posture shift detected"},
		{domain.ViolationSuspiciousGaze, domain.SeverityLow, "Gaze repeatedly directed away from the screen"},

		{domain.ViolationFullscreenExit, domain.SeverityMedium, "Exited fullscreen mode"},
		{domain.ViolationNoFaceDetected, domain.SeverityMedium, "No face visible in the camera"},
		{domain.ViolationCopyPaste, domain.SeverityMedium, "Copy or paste action detected"},
		{domain.ViolationBackgroundVoice, domain.SeverityMedium, "Background voice detected"},
		{domain.ViolationRestrictedWebsite, domain.SeverityMedium, "Visited a restricted website"},
		{domain.ViolationMouthMovement, domain.SeverityMedium, "Mouth movement without audible speech"},
		{domain.ViolationUnexplainedSilence, domain.SeverityMedium, "Unexplained silence during a spoken answer"},

		{domain.ViolationMultipleFaces, domain.SeverityHigh, "Multiple faces visible in the camera"},
		{domain.ViolationFaceMismatch, domain.SeverityHigh, "Face does not match the registered candidate"},
		{domain.ViolationProxySuspected, domain.SeverityHigh, "Connection originates from a proxy or data center"},
		{domain.ViolationCoachingDetected, domain.SeverityHigh, "Possible coaching by another person"},
		{domain.ViolationPhoneDetected, domain.SeverityHigh, "Phone or secondary device detected"},
		{domain.ViolationRemoteDesktop, domain.SeverityHigh, "Remote desktop software running"},
		{domain.ViolationVirtualMachine, domain.SeverityHigh, "Assessment running inside a virtual machine"},
		{domain.ViolationScreenShareDetected, domain.SeverityHigh, "Screen sharing stopped during the assessment"},
	}
}
