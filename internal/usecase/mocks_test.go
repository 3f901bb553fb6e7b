package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// mockCamera implements domain.CameraHandle for testing
type mockCamera struct {
	mu       sync.Mutex
	state    domain.DeviceState
	frame    *domain.Frame
	audio    domain.AudioBuffer
	releases atomic.Int32
}

func (c *mockCamera) ID() string { return "mock-camera" }

func (c *mockCamera) State() domain.DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mockCamera) SetState(state domain.DeviceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *mockCamera) Push(frame *domain.Frame, audio domain.AudioBuffer) error {
	if c.releases.Load() > 0 {
		return domain.ErrDeviceReleased
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame, c.audio = frame, audio
	return nil
}

func (c *mockCamera) Latest() (*domain.Frame, domain.AudioBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return nil, nil, domain.ErrNoFrame
	}
	return c.frame, c.audio, nil
}

func (c *mockCamera) Release() { c.releases.Add(1) }

// mockScreen implements domain.ScreenHandle for testing
type mockScreen struct {
	onEnded  func()
	ended    atomic.Bool
	releases atomic.Int32
}

func (s *mockScreen) ID() string { return "mock-screen" }

func (s *mockScreen) End() {
	if s.releases.Load() > 0 || s.ended.Swap(true) {
		return
	}
	s.onEnded()
}

func (s *mockScreen) Release() { s.releases.Add(1) }

// mockAcquirer implements domain.StreamAcquirer for testing
type mockAcquirer struct {
	mu        sync.Mutex
	cameraErr error
	screenErr error
	cameras   []*mockCamera
	screens   []*mockScreen
}

func (a *mockAcquirer) AcquireCamera(_ context.Context, _ domain.DeviceRequest) (domain.CameraHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cameraErr != nil {
		return nil, a.cameraErr
	}
	cam := &mockCamera{state: domain.DeviceLive}
	a.cameras = append(a.cameras, cam)
	return cam, nil
}

func (a *mockAcquirer) AcquireScreen(_ context.Context, _ domain.DeviceRequest, onEnded func()) (domain.ScreenHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screenErr != nil {
		return nil, a.screenErr
	}
	screen := &mockScreen{onEnded: onEnded}
	a.screens = append(a.screens, screen)
	return screen, nil
}

func (a *mockAcquirer) camera(i int) *mockCamera {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cameras[i]
}

func (a *mockAcquirer) screen(i int) *mockScreen {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screens[i]
}

// mockSink implements domain.EventSink for testing
type mockSink struct {
	mu     sync.Mutex
	events []domain.SessionEvent
	err    error
	panics bool
}

func (s *mockSink) Name() string { return "mock" }

func (s *mockSink) Publish(_ context.Context, event domain.SessionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	if s.panics {
		panic("sink exploded")
	}
	return s.err
}

func (s *mockSink) kinds() []domain.SessionEventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SessionEventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

// mockDetector implements domain.Detector for testing
type mockDetector struct {
	sample domain.DetectorSample
	calls  atomic.Int32
}

func (d *mockDetector) Sample(*domain.Frame, domain.AudioBuffer) domain.DetectorSample {
	d.calls.Add(1)
	return d.sample
}

// mockProbe implements domain.EnvironmentProbe for testing
type mockProbe struct {
	findings []domain.ProbeFinding
	err      error
}

func (p *mockProbe) Probe(context.Context, domain.DeviceInfo) ([]domain.ProbeFinding, error) {
	return p.findings, p.err
}

// mockReportStore implements domain.ReportStore for testing
type mockReportStore struct {
	reports map[string]*domain.Report
}

func (s *mockReportStore) GetReport(_ context.Context, id string) (*domain.Report, error) {
	return s.reports[id], nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errSinkDown = errors.New("remote store unavailable")

var (
	faceSample  = domain.DetectorSample{FaceDetected: true, FaceCount: 1, Confidence: 0.9, Gaze: domain.GazeCenter}
	phoneSample = domain.DetectorSample{FaceDetected: true, FaceCount: 1, Confidence: 0.9, Gaze: domain.GazeCenter, PhoneDetected: true}
	emptySample = domain.DetectorSample{Gaze: domain.GazeUnknown}
)

func testFrame() *domain.Frame {
	return &domain.Frame{Width: 8, Height: 8, Pix: make([]uint8, 8*8*4)}
}

// panickingDetector implements domain.Detector and always panics
type panickingDetector struct {
	calls atomic.Int32
}

func (d *panickingDetector) Sample(*domain.Frame, domain.AudioBuffer) domain.DetectorSample {
	d.calls.Add(1)
	panic("model crashed")
}

// trippingClock panics on the first call after Trip, then keeps time normally.
type trippingClock struct {
	*fakeClock
	tripped atomic.Bool
}

func (c *trippingClock) Trip() { c.tripped.Store(true) }

func (c *trippingClock) Now() time.Time {
	if c.tripped.CompareAndSwap(true, false) {
		panic("clock failure")
	}
	return c.fakeClock.Now()
}
