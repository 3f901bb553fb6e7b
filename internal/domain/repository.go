package domain

import "context"

// Detector turns one sampled frame/audio reading into raw signals.
// Implementations must be side-effect free and fail soft: a bug here must
// never accuse a clean candidate.
type Detector interface {
	Sample(frame *Frame, audio AudioBuffer) DetectorSample
}

// GazeEstimator buckets gaze direction. Pluggable so a real estimator can
// replace the face-presence stand-in.
type GazeEstimator interface {
	Estimate(frame *Frame, faceDetected bool) GazeBucket
}

// DeviceState is the health of an acquired capture device.
type DeviceState string

const (
	DeviceLive    DeviceState = "live"
	DeviceStopped DeviceState = "stopped"
	DeviceDenied  DeviceState = "denied"
)

// DeviceRequest carries what the acquirer needs to open devices for a session.
type DeviceRequest struct {
	SessionID  string
	Config     MonitoringConfig
	DeviceInfo DeviceInfo
}

// CameraHandle owns the camera (and microphone) tracks of one session.
// Frames are pushed by the capturing client and buffered until sampled.
type CameraHandle interface {
	// ID identifies the handle in logs.
	ID() string

	// State reports whether the tracks are live, stopped or denied.
	State() DeviceState

	// SetState records a track state change reported by the client.
	SetState(state DeviceState)

	// Push buffers the latest frame and audio analyser reading.
	Push(frame *Frame, audio AudioBuffer) error

	// Latest returns the most recently pushed frame and audio buffer.
	Latest() (*Frame, AudioBuffer, error)

	// Release stops all tracks. Idempotent.
	Release()
}

// ScreenHandle owns the screen-share track of one session.
type ScreenHandle interface {
	ID() string

	// End reports that the share track ended outside our control.
	// Synchronously invokes the onEnded callback given at acquisition.
	End()

	// Release stops the track. Idempotent, and suppresses later End callbacks.
	Release()
}

// StreamAcquirer opens capture devices.
// Permission failures are returned as ErrPermissionDenied / ErrUserCancelled.
type StreamAcquirer interface {
	AcquireCamera(ctx context.Context, req DeviceRequest) (CameraHandle, error)
	AcquireScreen(ctx context.Context, req DeviceRequest, onEnded func()) (ScreenHandle, error)
}

// ProcessScanner handles OS process lookups.
// Implementation: uses gopsutil for cross-platform support.
type ProcessScanner interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)
}

// EnvironmentProbe inspects the host and network for environment violations
// (remote desktop tooling, virtual machines, proxies).
type EnvironmentProbe interface {
	Probe(ctx context.Context, info DeviceInfo) ([]ProbeFinding, error)
}

// EventSink receives session events for remote persistence.
// Delivery is fire-and-forget: failures are logged and swallowed.
type EventSink interface {
	// Name identifies the sink in logs.
	Name() string

	// Publish persists or forwards one event.
	Publish(ctx context.Context, event SessionEvent) error
}

// ReportStore serves reports of sessions no longer held in memory.
type ReportStore interface {
	// GetReport returns nil, nil if the report is unknown.
	GetReport(ctx context.Context, sessionID string) (*Report, error)
}

// KeyProvider abstracts the source of encryption keys for the local store.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// StartRequest is the input to SessionService.StartSession.
type StartRequest struct {
	SessionType string           `json:"sessionType" yaml:"sessionType"`
	SubjectID   string           `json:"subjectId" yaml:"subjectId"`
	Config      MonitoringConfig `json:"config" yaml:"config"`
	DeviceInfo  DeviceInfo       `json:"deviceInfo" yaml:"deviceInfo"`
}

// StartResult is returned once a session has been created.
type StartResult struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
}

// ViolationInput is an externally reported violation.
type ViolationInput struct {
	Type        ViolationType  `json:"type" yaml:"type"`
	Severity    Severity       `json:"severity,omitempty" yaml:"severity,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// LogResult is the state after a violation was (or was not) recorded.
type LogResult struct {
	RiskScore      int            `json:"riskScore"`
	IntegrityLevel IntegrityLevel `json:"integrityLevel"`
	Stats          Stats          `json:"stats"`
	Violation      *Violation     `json:"violation,omitempty"`
	WarningMessage string         `json:"warningMessage,omitempty"`
	Ignored        bool           `json:"ignored,omitempty"`
}

// SessionService is the lifecycle surface consumed by transports and the CLI.
type SessionService interface {
	StartSession(ctx context.Context, req StartRequest) (*StartResult, error)
	LogViolation(ctx context.Context, sessionID string, in ViolationInput) (*LogResult, error)
	PostEvent(ctx context.Context, sessionID string, event EnvironmentEvent) error
	SubmitFrame(ctx context.Context, sessionID string, frame *Frame, audio AudioBuffer) error
	SubmitSample(ctx context.Context, sessionID string, sample DetectorSample) error
	EndSession(ctx context.Context, sessionID string) (*Report, error)
	GetReport(ctx context.Context, sessionID string) (*Report, error)
	ReviewSession(ctx context.Context, sessionID string, review Review) (*Report, error)
	Snapshot(sessionID string) (*Snapshot, error)
}
