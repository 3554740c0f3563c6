package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// ProbeError describes why a liveness probe failed. Code is the Redis error
// prefix (NOAUTH, WRONGPASS...) or the errno name of a network failure.
type ProbeError struct {
	code    string
	message string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("code: %s, message: %s", e.code, e.message)
}

func (e *ProbeError) Code() string    { return e.code }
func (e *ProbeError) Message() string { return e.message }

var errnoNames = map[syscall.Errno]string{
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
	syscall.ENETUNREACH:  "ENETUNREACH",
}

func newProbeError(err error) *ProbeError {
	return &ProbeError{code: errorCode(err), message: err.Error()}
}

func errorCode(err error) string {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		if code, _, ok := strings.Cut(msg, " "); ok && code == strings.ToUpper(code) {
			return code
		}
		return "ERR"
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := errnoNames[errno]; ok {
			return name
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	return "unknown"
}
