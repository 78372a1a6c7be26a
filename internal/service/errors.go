package service

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionSetup    = errors.New("connection setup failed")
	ErrTransportNotReady  = errors.New("transport not ready")
	ErrSendTimeout        = errors.New("send timed out")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrJobNotFound        = errors.New("job not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidJob         = errors.New("invalid job")
	ErrNoRecipient        = errors.New("target has no recipient")
)

// ConnectionError reports a failed connect attempt. It always matches
// ErrConnectionSetup with errors.Is and unwraps to the underlying cause.
type ConnectionError struct {
	UserID    string
	SessionID string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s/%s: %s: %v", e.UserID, e.SessionID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionSetup
}
