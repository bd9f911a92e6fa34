package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ProviderUnavailable wraps an error from an external provider that is safe
// to retry or to recover from locally (fallback engine, neutral risk score).
type ProviderUnavailable struct {
	Provider   string
	Err        error
	StatusCode int
}

func (e *ProviderUnavailable) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderUnavailable) Unwrap() error {
	return e.Err
}

// Unavailable wraps an error as a recoverable provider failure.
func Unavailable(provider string, err error, statusCode int) *ProviderUnavailable {
	return &ProviderUnavailable{Provider: provider, Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// ProviderUnavailable, or if it matches common transient network patterns
// (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pu *ProviderUnavailable
	if errors.As(err, &pu) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
