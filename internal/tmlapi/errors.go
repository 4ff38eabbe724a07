package tmlapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/sony/gobreaker"
)

// HTTPError is a completed exchange that returned a non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (e *HTTPError) Reason() string {
	switch {
	case e.Status >= 500:
		return "http_5xx"
	case e.Status == 429:
		return "http_429"
	default:
		return "http_4xx"
	}
}

// TransportError is a request that never produced a response: network
// faults, timeouts and calls rejected by an open breaker.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Reason() string {
	err := e.Err
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection_refused"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection refused"):
		return "connection_refused"
	case strings.Contains(msg, "no such host"):
		return "dns_error"
	}
	return "network"
}

// ConfigError reports a tenant or event family that cannot be sent.
type ConfigError struct {
	TenantID int64
	Detail   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tenant %d: %s", e.TenantID, e.Detail)
}

func (e *ConfigError) Reason() string { return "config" }
