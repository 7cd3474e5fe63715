// Package httperr is the structured error model for the dispatch core.
// Every failure that crosses the engine or transport boundary is an *Error
// with a stable code; raw errors never escape the engine.
package httperr

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"strings"
	"syscall"
)

// Code classifies failure categories. The fine-grained network codes all
// collapse into CategoryNetwork; callers that only care about the coarse
// taxonomy should branch on Category().
type Code string

const (
	CodeNetworkError          Code = "network_error"
	CodeTimeout               Code = "timeout"
	CodeTooManyRedirects      Code = "too_many_redirects"
	CodeProtocolError         Code = "protocol_error"
	CodeEngineNotInitialized  Code = "engine_not_initialized"
	CodeEngineShutdown        Code = "engine_shutdown"
	CodeTransportDecodeError  Code = "transport_decode_error"
	CodeCanceled              Code = "canceled"
	CodeInvalidRequest        Code = "invalid_request"
	CodeUnknown               Code = "unknown"

	// Fine-grained network classification kept for diagnostics.
	CodeDNSError            Code = "dns_error"
	CodeConnectionRefused   Code = "connection_refused"
	CodeConnectionReset     Code = "connection_reset"
	CodeNetworkUnreachable  Code = "network_unreachable"
	CodeTLSUnknownAuthority Code = "tls_unknown_authority"
	CodeTLSHostnameMismatch Code = "tls_hostname_mismatch"
	CodeTLSHandshake        Code = "tls_handshake"
)

// Category is the coarse taxonomy exposed to callers.
type Category string

const (
	CategoryNetwork   Category = "network"
	CategoryTimeout   Category = "timeout"
	CategoryRedirect  Category = "redirect"
	CategoryProtocol  Category = "protocol"
	CategoryTransport Category = "transport"
	CategoryLifecycle Category = "lifecycle"
	CategoryUnknown   Category = "unknown"
)

// Error carries a machine-readable code, a human message, and an optional
// opaque details payload. The original cause is preserved via Unwrap.
type Error struct {
	Code    Code
	Message string
	Details any
	Method  string
	URL     string
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = humanize(e.Code, e.cause)
	}
	if e.Method != "" && e.URL != "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, msg)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s: %s", e.URL, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, &Error{Code: CodeTimeout}) style matching on code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Category collapses the fine-grained code into the coarse taxonomy.
func (e *Error) Category() Category {
	if e == nil {
		return CategoryUnknown
	}
	switch e.Code {
	case CodeNetworkError, CodeDNSError, CodeConnectionRefused, CodeConnectionReset,
		CodeNetworkUnreachable, CodeTLSUnknownAuthority, CodeTLSHostnameMismatch, CodeTLSHandshake:
		return CategoryNetwork
	case CodeTimeout, CodeCanceled:
		return CategoryTimeout
	case CodeTooManyRedirects:
		return CategoryRedirect
	case CodeProtocolError, CodeInvalidRequest:
		return CategoryProtocol
	case CodeTransportDecodeError:
		return CategoryTransport
	case CodeEngineNotInitialized, CodeEngineShutdown:
		return CategoryLifecycle
	default:
		return CategoryUnknown
	}
}

// New constructs an Error with the supplied code, message, and underlying cause.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func humanize(code Code, cause error) string {
	switch code {
	case CodeCanceled:
		return "request was canceled"
	case CodeTimeout:
		return "request timed out"
	case CodeTooManyRedirects:
		return "stopped after too many redirects"
	case CodeProtocolError:
		return "malformed response from server"
	case CodeEngineNotInitialized:
		return "engine is not initialized"
	case CodeEngineShutdown:
		return "engine has been shut down"
	case CodeTransportDecodeError:
		return "malformed cross-boundary payload"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeDNSError:
		var dn *net.DNSError
		if errors.As(cause, &dn) && dn.Name != "" {
			return fmt.Sprintf("DNS lookup failed for %q: %s", dn.Name, dn.Err)
		}
		return "DNS error"
	case CodeConnectionRefused:
		return "connection refused by remote host"
	case CodeConnectionReset:
		return "connection reset by peer"
	case CodeNetworkUnreachable:
		return "network unreachable"
	case CodeTLSUnknownAuthority:
		return "TLS: unknown certificate authority"
	case CodeTLSHostnameMismatch:
		return "TLS: certificate does not match host"
	case CodeTLSHandshake:
		return "TLS handshake failed"
	case CodeNetworkError:
		return "network error"
	default:
		if cause != nil {
			return cause.Error()
		}
		return "unexpected error"
	}
}

// Map converts an arbitrary error into an *Error with a best-effort code,
// keeping the original error as the cause. Already-mapped errors pass through.
func Map(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeCanceled, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, cause: err}
	}

	// url.Error often wraps timeouts, redirect failures, invalid URLs.
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		var t net.Error
		if errors.As(uerr.Err, &t) && t.Timeout() {
			return &Error{Code: CodeTimeout, cause: err}
		}
		lower := strings.ToLower(uerr.Error())
		if strings.Contains(lower, "stopped after") && strings.Contains(lower, "redirect") {
			return &Error{Code: CodeTooManyRedirects, cause: err}
		}
		if strings.Contains(lower, "unsupported protocol scheme") || isInvalidURLMessage(lower) {
			return &Error{Code: CodeInvalidRequest, cause: err}
		}
		err = uerr.Err
	}

	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		return &Error{Code: CodeDNSError, cause: dnserr}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Code: CodeTimeout, cause: nerr}
	}

	var operr *net.OpError
	if errors.As(err, &operr) {
		switch {
		case errors.Is(operr.Err, syscall.ECONNREFUSED):
			return &Error{Code: CodeConnectionRefused, cause: err}
		case errors.Is(operr.Err, syscall.ECONNRESET):
			return &Error{Code: CodeConnectionReset, cause: err}
		case errors.Is(operr.Err, syscall.ENETUNREACH), errors.Is(operr.Err, syscall.EHOSTUNREACH):
			return &Error{Code: CodeNetworkUnreachable, cause: err}
		}
		return &Error{Code: CodeNetworkError, cause: err}
	}

	var ua x509.UnknownAuthorityError
	if errors.As(err, &ua) {
		return &Error{Code: CodeTLSUnknownAuthority, cause: err}
	}
	var hn x509.HostnameError
	if errors.As(err, &hn) {
		return &Error{Code: CodeTLSHostnameMismatch, cause: err}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "tls") || strings.Contains(lower, "handshake failure"):
		return &Error{Code: CodeTLSHandshake, cause: err}
	case strings.Contains(lower, "timeout"):
		return &Error{Code: CodeTimeout, cause: err}
	case strings.Contains(lower, "malformed http") || strings.Contains(lower, "malformed response"):
		return &Error{Code: CodeProtocolError, cause: err}
	case strings.Contains(lower, "refused"):
		return &Error{Code: CodeConnectionRefused, cause: err}
	case strings.Contains(lower, "reset"):
		return &Error{Code: CodeConnectionReset, cause: err}
	case strings.Contains(lower, "no such host"):
		return &Error{Code: CodeDNSError, cause: err}
	}

	return &Error{Code: CodeUnknown, cause: err}
}

// MapRequestError annotates the mapped error with request context.
func MapRequestError(method, urlStr string, err error) *Error {
	if err == nil {
		return nil
	}
	m := Map(err)
	m.Method = method
	m.URL = urlStr
	return m
}

func isInvalidURLMessage(message string) bool {
	return strings.Contains(message, "invalid url") ||
		strings.Contains(message, "invalid uri") ||
		strings.Contains(message, "malformed url") ||
		strings.Contains(message, "missing protocol scheme")
}
