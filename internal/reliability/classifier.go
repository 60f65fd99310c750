package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeCode classifies model error events that are transient
// per-turn failures rather than session-fatal conditions.
func IsRetryableRealtimeCode(code string) bool {
	switch code {
	case "rate_limit_exceeded", "server_error", "session_expired_soon",
		"response_cancel_not_active", "input_audio_buffer_commit_empty":
		return true
	default:
		return false
	}
}
