package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied     = errors.New("device permission denied")
	ErrUserCancelled        = errors.New("device selection cancelled by user")
	ErrAlreadyActive        = errors.New("subject already has an active session")
	ErrConfigInvalid        = errors.New("invalid session config")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotEnded      = errors.New("session has not ended")
	ErrSessionClosed        = errors.New("session no longer accepts input")
	ErrUnknownViolationType = errors.New("unknown violation type")
	ErrDeviceReleased       = errors.New("device handle released")
	ErrNoFrame              = errors.New("no frame available")
)

// SetupError reports a device acquisition failure during session start.
// Fatal to session start, never retried automatically.
type SetupError struct {
	Device string // "camera" or "screen"
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed acquiring %s: %v", e.Device, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
