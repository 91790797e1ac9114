package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError tags a failure the retry loop may repeat. StatusCode is
// zero when the failure did not come from an HTTP response.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError tags err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{StatusCode: statusCode, Err: err}
}

// transientPatterns are substrings of error messages from HTTP clients and
// database drivers that indicate a retryable condition.
var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"database is locked",
	"sqlite_busy",
	"too many connections",
	"conn closed",
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout, a refused or reset connection, or a
// known transient message from a client or driver.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var tagged *TransientError
	if errors.As(err, &tagged) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a response status is worth
// retrying: timeouts, throttling and gateway failures.
func IsTransientHTTPStatus(statusCode int) bool {
	if statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode == http.StatusInternalServerError ||
		(statusCode >= http.StatusBadGateway && statusCode <= http.StatusGatewayTimeout)
}
