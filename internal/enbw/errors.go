package enbw

import (
	"errors"
	"fmt"

	"github.com/jkaberg/enbw-hass/internal/config"
)

// AuthError means the API rejected the subscription key (HTTP 401).
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid credentials: API returned status %d", e.StatusCode)
}

// RemoteError covers every other failure to obtain a snapshot: non-2xx
// status, transport errors, timeouts and undecodable bodies.
type RemoteError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("error communicating with API (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("error communicating with API: %v", e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Setup validation codes, matching the keys a setup form would display.
const (
	CodeInvalidAuth   = "invalid_auth"
	CodeCannotConnect = "cannot_connect"
	CodeUnknown       = "unknown"
)

// Classify maps an authentication error to a setup validation code.
func Classify(err error) string {
	var authErr *AuthError
	var remoteErr *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr),
		errors.Is(err, config.ErrMissingAPIKey),
		errors.Is(err, config.ErrMissingStationID):
		return CodeInvalidAuth
	case errors.As(err, &remoteErr):
		return CodeCannotConnect
	default:
		return CodeUnknown
	}
}
