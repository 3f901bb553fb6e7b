// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// SessionStatus is the lifecycle state of a proctored session.
type SessionStatus string

const (
	StatusIdle   SessionStatus = "idle"
	StatusSetup  SessionStatus = "setup"
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// Severity classifies how serious a violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ViolationType is the closed set of integrity concerns the engine can confirm.
type ViolationType string

const (
	// Low severity
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationHeadMovement   ViolationType = "head_movement"
	ViolationPostureShift   ViolationType = "posture_shift"
	ViolationSuspiciousGaze ViolationType = "suspicious_gaze"

	// Medium severity
	ViolationFullscreenExit     ViolationType = "fullscreen_exit"
	ViolationNoFaceDetected     ViolationType = "no_face_detected"
	ViolationCopyPaste          ViolationType = "copy_paste"
	ViolationBackgroundVoice    ViolationType = "background_voice"
	ViolationRestrictedWebsite  ViolationType = "restricted_website"
	ViolationMouthMovement      ViolationType = "mouth_movement"
	ViolationUnexplainedSilence ViolationType = "unexplained_silence"

	// High severity
	ViolationMultipleFaces       ViolationType = "multiple_faces"
	ViolationFaceMismatch        ViolationType = "face_mismatch"
	ViolationProxySuspected      ViolationType = "proxy_suspected"
	ViolationCoachingDetected    ViolationType = "coaching_detected"
	ViolationPhoneDetected       ViolationType = "phone_detected"
	ViolationRemoteDesktop       ViolationType = "remote_desktop"
	ViolationVirtualMachine      ViolationType = "virtual_machine"
	ViolationScreenShareDetected ViolationType = "screen_share_detected"
)

// IntegrityLevel is the coarse classification derived from the risk score.
type IntegrityLevel string

const (
	IntegrityClean             IntegrityLevel = "clean"
	IntegrityReviewRecommended IntegrityLevel = "review_recommended"
	IntegrityHighSuspicion     IntegrityLevel = "high_suspicion"
)

// GazeBucket is the coarse direction of the candidate's gaze.
type GazeBucket string

const (
	GazeCenter  GazeBucket = "center"
	GazeLeft    GazeBucket = "left"
	GazeRight   GazeBucket = "right"
	GazeUp      GazeBucket = "up"
	GazeDown    GazeBucket = "down"
	GazeUnknown GazeBucket = "unknown"
)

// EndReason records why a session left the active state.
type EndReason string

const (
	EndExplicit   EndReason = "explicit"
	EndTimeLimit  EndReason = "time_limit"
	EndDeviceLoss EndReason = "device_loss"
	EndSuperseded EndReason = "superseded"
	EndShutdown   EndReason = "shutdown"
)

// Permission is the outcome of a browser device permission prompt.
type Permission string

const (
	PermissionGranted   Permission = "granted"
	PermissionDenied    Permission = "denied"
	PermissionCancelled Permission = "cancelled"
)

// MonitoringConfig toggles which acquirers, detectors and rules run.
// Immutable once the session is created.
type MonitoringConfig struct {
	CameraEnabled           bool          `json:"cameraEnabled" yaml:"cameraEnabled"`
	ScreenMonitoringEnabled bool          `json:"screenMonitoringEnabled" yaml:"screenMonitoringEnabled"`
	AudioMonitoringEnabled  bool          `json:"audioMonitoringEnabled" yaml:"audioMonitoringEnabled"`
	FullscreenRequired      bool          `json:"fullscreenRequired" yaml:"fullscreenRequired"`
	StrictMode              bool          `json:"strictMode" yaml:"strictMode"`
	TimeLimit               time.Duration `json:"timeLimit,omitempty" yaml:"timeLimit,omitempty"` // 0 = no limit
}

// DeviceInfo is what the client reports about its environment at start.
type DeviceInfo struct {
	UserAgent        string     `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Platform         string     `json:"platform,omitempty" yaml:"platform,omitempty"`
	ScreenResolution string     `json:"screenResolution,omitempty" yaml:"screenResolution,omitempty"`
	Timezone         string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	IPAddress        string     `json:"ipAddress,omitempty" yaml:"ipAddress,omitempty"`
	CameraPermission Permission `json:"cameraPermission,omitempty" yaml:"cameraPermission,omitempty"` // empty = granted
	ScreenPermission Permission `json:"screenPermission,omitempty" yaml:"screenPermission,omitempty"` // empty = granted
	FullscreenActive bool       `json:"fullscreenActive" yaml:"fullscreenActive"`
}

// Violation is a confirmed (post-debounce) integrity concern.
// Append-only: never mutated once attached to a session.
type Violation struct {
	Type        ViolationType  `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// Stats is the per-severity tally derived from a violation list.
type Stats struct {
	TotalViolations  int `json:"totalViolations"`
	LowViolations    int `json:"lowViolations"`
	MediumViolations int `json:"mediumViolations"`
	HighViolations   int `json:"highViolations"`
	WarningsIssued   int `json:"warningsIssued"`
}

// Review is the external reviewer annotation applied after a session ended.
type Review struct {
	Reviewer   string    `json:"reviewer"`
	Decision   string    `json:"decision"`
	Notes      string    `json:"notes,omitempty"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

// Session is one timed proctored assessment for one subject.
type Session struct {
	ID              string           `json:"id"`
	SessionType     string           `json:"sessionType"`
	SubjectID       string           `json:"subjectId"`
	Config          MonitoringConfig `json:"config"`
	DeviceInfo      DeviceInfo       `json:"deviceInfo"`
	Status          SessionStatus    `json:"status"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         time.Time        `json:"endTime,omitempty"`
	EndReason       EndReason        `json:"endReason,omitempty"`
	RiskScore       int              `json:"riskScore"`
	IntegrityStatus IntegrityLevel   `json:"integrityStatus"`
	Violations      []Violation      `json:"violations"`
	Review          *Review          `json:"review,omitempty"`
}

// Report is the immutable end-of-session summary handed to reviewers.
type Report struct {
	SessionID       string         `json:"sessionId"`
	SubjectID       string         `json:"subjectId"`
	SessionType     string         `json:"sessionType"`
	RiskScore       int            `json:"riskScore"`
	IntegrityStatus IntegrityLevel `json:"integrityStatus"`
	SessionDuration time.Duration  `json:"sessionDuration"`
	Stats           Stats          `json:"stats"`
	Violations      []Violation    `json:"violations"`
	Summary         string         `json:"summary"`
	StartTime       time.Time      `json:"startTime"`
	EndTime         time.Time      `json:"endTime"`
	EndReason       EndReason      `json:"endReason"`
	Review          *Review        `json:"review,omitempty"`
}

// Snapshot is the live view of a running session for the consuming UI.
type Snapshot struct {
	SessionID       string         `json:"sessionId"`
	SubjectID       string         `json:"subjectId"`
	Status          SessionStatus  `json:"status"`
	RiskScore       int            `json:"riskScore"`
	IntegrityStatus IntegrityLevel `json:"integrityStatus"`
	Stats           Stats          `json:"stats"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// DetectorSample is the ephemeral output of one sampler tick.
// Neutral marks a fail-soft result that must not move any counter.
type DetectorSample struct {
	FaceDetected  bool       `json:"faceDetected" yaml:"faceDetected"`
	FaceCount     int        `json:"faceCount" yaml:"faceCount"`
	Confidence    float64    `json:"confidence" yaml:"confidence"`
	Gaze          GazeBucket `json:"gaze" yaml:"gaze"`
	PhoneDetected bool       `json:"phoneDetected" yaml:"phoneDetected"`
	AudioLevel    float64    `json:"audioLevel" yaml:"audioLevel"`
	Neutral       bool       `json:"neutral,omitempty" yaml:"neutral,omitempty"`
}

// Frame is a decoded video frame in packed RGBA (4 bytes per pixel, row-major).
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// AudioBuffer holds microphone analyser frequency bins (0-255 magnitudes).
type AudioBuffer []uint8

// EnvironmentEventKind enumerates browser-environment signals.
type EnvironmentEventKind string

const (
	EventVisibilityHidden  EnvironmentEventKind = "visibility_hidden"
	EventVisibilityVisible EnvironmentEventKind = "visibility_visible"
	EventFullscreenExit    EnvironmentEventKind = "fullscreen_exit"
	EventFullscreenEnter   EnvironmentEventKind = "fullscreen_enter"
	EventCopy              EnvironmentEventKind = "copy"
	EventPaste             EnvironmentEventKind = "paste"
	EventScreenShareEnded  EnvironmentEventKind = "screen_share_ended"
	EventCameraStopped     EnvironmentEventKind = "camera_stopped"
	EventCameraDenied      EnvironmentEventKind = "camera_denied"
	EventCameraResumed     EnvironmentEventKind = "camera_resumed"
	EventProbeFinding      EnvironmentEventKind = "probe_finding"
)

// EnvironmentEvent is an edge-triggered signal that bypasses the sampler.
// The engine timestamps events on receipt.
type EnvironmentEvent struct {
	Kind    EnvironmentEventKind `json:"kind" yaml:"kind"`
	Finding *ProbeFinding        `json:"finding,omitempty" yaml:"finding,omitempty"`
}

// ProbeFinding is a host or network observation from an environment probe.
type ProbeFinding struct {
	Type   ViolationType `json:"type"`
	Source string        `json:"source"`
	Detail string        `json:"detail,omitempty"`
}

// SessionEventKind enumerates the events published to sinks.
type SessionEventKind string

const (
	SessionStarted    SessionEventKind = "session_started"
	ViolationRecorded SessionEventKind = "violation_recorded"
	SessionEnded      SessionEventKind = "session_ended"
	SessionReviewed   SessionEventKind = "session_reviewed"
)

// SessionEvent is what the engine publishes to remote sinks (fire-and-forget).
type SessionEvent struct {
	Kind            SessionEventKind `json:"kind"`
	SessionID       string           `json:"sessionId"`
	SubjectID       string           `json:"subjectId"`
	SessionType     string           `json:"sessionType,omitempty"`
	At              time.Time        `json:"at"`
	Status          SessionStatus    `json:"status"`
	RiskScore       int              `json:"riskScore"`
	IntegrityStatus IntegrityLevel   `json:"integrityStatus"`
	Stats           Stats            `json:"stats"`
	Violation       *Violation       `json:"violation,omitempty"`
	Report          *Report          `json:"report,omitempty"`
}
