package realtime

import (
	"fmt"
	"time"
)

// MediaAccessError means the local capture device could not be acquired.
// Fatal to the connect attempt; callers surface it and do not retry.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	if e.Err == nil {
		return "media access denied"
	}
	return fmt.Sprintf("media access denied: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// AuthFetchError means the credential endpoint failed or returned a non-2xx
// status. Fatal to the connect attempt. Retryable reports whether the
// failure looked transient; the authenticator never retries on its own, so
// this only informs the caller's retry decision.
type AuthFetchError struct {
	Status    int
	Retryable bool
	Err       error
}

func (e *AuthFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("credential fetch failed: status %d", e.Status)
}

func (e *AuthFetchError) Unwrap() error { return e.Err }

// ConnectionTimeoutError means the transport handshake did not complete
// within the configured bound.
type ConnectionTimeoutError struct {
	Timeout time.Duration
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("realtime connect timed out after %s", e.Timeout)
}

// ModelError wraps an error event reported by the realtime endpoint. The
// connection stays open when one of these arrives; many are per-turn.
type ModelError struct {
	Code    string
	Message string
}

func (e *ModelError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("model error: %s", e.Message)
	}
	return fmt.Sprintf("model error (%s): %s", e.Code, e.Message)
}
