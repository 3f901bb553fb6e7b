// Package infra implements infrastructure concerns (devices, probes, storage, transport sinks).
package infra

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// PushAcquirer implements domain.StreamAcquirer for push devices: the
// capturing browser uploads frames, and permission outcomes are the ones the
// client reported in DeviceInfo at session start.
type PushAcquirer struct{}

// NewPushAcquirer creates a new push-device acquirer.
func NewPushAcquirer() domain.StreamAcquirer {
	return &PushAcquirer{}
}

// AcquireCamera opens the camera (and microphone) tracks for a session.
func (a *PushAcquirer) AcquireCamera(ctx context.Context, req domain.DeviceRequest) (domain.CameraHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := permissionError(req.DeviceInfo.CameraPermission); err != nil {
		return nil, err
	}
	return &PushCamera{id: "camera-" + uuid.NewString(), state: domain.DeviceLive}, nil
}

// AcquireScreen opens the screen-share track. onEnded is invoked
// synchronously when the client reports the share ended.
func (a *PushAcquirer) AcquireScreen(ctx context.Context, req domain.DeviceRequest, onEnded func()) (domain.ScreenHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := permissionError(req.DeviceInfo.ScreenPermission); err != nil {
		return nil, err
	}
	return &PushScreen{id: "screen-" + uuid.NewString(), onEnded: onEnded}, nil
}

func permissionError(p domain.Permission) error {
	switch p {
	case domain.PermissionDenied:
		return domain.ErrPermissionDenied
	case domain.PermissionCancelled:
		return domain.ErrUserCancelled
	default:
		return nil
	}
}

// PushCamera buffers the most recent frame and audio reading pushed by the client.
type PushCamera struct {
	id string

	mu       sync.Mutex
	state    domain.DeviceState
	frame    *domain.Frame
	audio    domain.AudioBuffer
	released bool

	releaseOnce sync.Once
}

// ID identifies the handle in logs.
func (c *PushCamera) ID() string { return c.id }

// State reports the track state.
func (c *PushCamera) State() domain.DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState records a client-reported track state change.
func (c *PushCamera) SetState(state domain.DeviceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.state = state
}

// Push replaces the buffered frame and audio reading.
func (c *PushCamera) Push(frame *domain.Frame, audio domain.AudioBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return domain.ErrDeviceReleased
	}
	c.frame = frame
	c.audio = audio
	return nil
}

// Latest returns the buffered frame and audio reading.
func (c *PushCamera) Latest() (*domain.Frame, domain.AudioBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, nil, domain.ErrDeviceReleased
	}
	if c.frame == nil {
		return nil, nil, domain.ErrNoFrame
	}
	return c.frame, c.audio, nil
}

// Release stops the tracks and drops buffered data. Idempotent.
func (c *PushCamera) Release() {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.released = true
		c.state = domain.DeviceStopped
		c.frame = nil
		c.audio = nil
	})
}

// PushScreen is the screen-share track of one session.
type PushScreen struct {
	id      string
	onEnded func()

	mu       sync.Mutex
	ended    bool
	released bool
}

// ID identifies the handle in logs.
func (s *PushScreen) ID() string { return s.id }

// End reports the share track ended. The callback runs at most once and
// never after Release.
func (s *PushScreen) End() {
	s.mu.Lock()
	if s.ended || s.released {
		s.mu.Unlock()
		return
	}
	s.ended = true
	cb := s.onEnded
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Release stops the track. Idempotent.
func (s *PushScreen) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

// Ensure push devices implement the domain interfaces.
var (
	_ domain.StreamAcquirer = (*PushAcquirer)(nil)
	_ domain.CameraHandle   = (*PushCamera)(nil)
	_ domain.ScreenHandle   = (*PushScreen)(nil)
)
