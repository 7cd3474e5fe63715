package mrequest

import (
	"fmt"
	"strings"
	"time"
)

// Priority is an advisory scheduling hint. It is carried on the wire and
// logged, but never reorders the pool's pending queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Defaults applied by New. Tuned for mobile-ish clients: short connect
// window, moderate overall deadline.
const (
	DefaultTimeoutMs        = 15_000
	DefaultConnectTimeoutMs = 5_000
	DefaultReadTimeoutMs    = 10_000
	DefaultWriteTimeoutMs   = 10_000
	DefaultMaxRedirects     = 5
)

// Request is an outbound HTTP request descriptor. Field names are the
// canonical wire shape and must not change.
//
// A Request is treated as immutable once handed to the pool; Clone before
// mutating a shared descriptor.
type Request struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`

	TimeoutMs        uint64 `json:"timeout_ms"`
	ConnectTimeoutMs uint64 `json:"connect_timeout_ms"`
	ReadTimeoutMs    uint64 `json:"read_timeout_ms"`
	WriteTimeoutMs   uint64 `json:"write_timeout_ms"`

	FollowRedirects bool `json:"follow_redirects"`
	MaxRedirects    int  `json:"max_redirects"`
	AutoReferer     bool `json:"auto_referer"`
	Decompress      bool `json:"decompress"`
	// HTTP3Only pins the exchange to the newest protocol version the engine
	// supports. The wire name is kept for compatibility with existing callers.
	HTTP3Only bool `json:"http3_only"`

	ParseResponse      bool     `json:"parse_response"`
	ResponseTypeSchema string   `json:"response_type_schema,omitempty"`
	CacheKey           string   `json:"cache_key,omitempty"`
	Priority           Priority `json:"priority"`
}

// New returns a descriptor for method+url with all defaults applied.
func New(method, url string) *Request {
	return &Request{
		URL:              url,
		Method:           NormalizeMethod(method),
		TimeoutMs:        DefaultTimeoutMs,
		ConnectTimeoutMs: DefaultConnectTimeoutMs,
		ReadTimeoutMs:    DefaultReadTimeoutMs,
		WriteTimeoutMs:   DefaultWriteTimeoutMs,
		FollowRedirects:  true,
		MaxRedirects:     DefaultMaxRedirects,
		Decompress:       true,
		Priority:         PriorityNormal,
	}
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	cp := *r
	if r.Headers != nil {
		cp.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			cp.Headers[k] = v
		}
	}
	if r.QueryParams != nil {
		cp.QueryParams = make(map[string]string, len(r.QueryParams))
		for k, v := range r.QueryParams {
			cp.QueryParams[k] = v
		}
	}
	return &cp
}

func (r *Request) Timeout() time.Duration        { return time.Duration(r.TimeoutMs) * time.Millisecond }
func (r *Request) ConnectTimeout() time.Duration { return time.Duration(r.ConnectTimeoutMs) * time.Millisecond }
func (r *Request) ReadTimeout() time.Duration    { return time.Duration(r.ReadTimeoutMs) * time.Millisecond }
func (r *Request) WriteTimeout() time.Duration   { return time.Duration(r.WriteTimeoutMs) * time.Millisecond }

// BodyBytes returns the body as raw bytes.
func (r *Request) BodyBytes() []byte {
	if r.Body == "" {
		return nil
	}
	return []byte(r.Body)
}

// Header returns the first header whose key matches case-insensitively.
func (r *Request) Header(key string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Validate checks the descriptor invariants: a usable URL, a method token,
// and non-negative redirect cap. Timeouts are unsigned by construction.
func (r *Request) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if r.Method == "" {
		return fmt.Errorf("method cannot be empty")
	}
	if strings.ContainsAny(r.Method, " \t\r\n") {
		return fmt.Errorf("invalid method %q", r.Method)
	}
	if r.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be >= 0, got %d", r.MaxRedirects)
	}
	switch r.Priority {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return fmt.Errorf("invalid priority %q", r.Priority)
	}
	return nil
}

// NormalizeMethod upper-cases the nine standard verbs via a fast path and
// leaves extension tokens untouched.
func NormalizeMethod(method string) string {
	switch method {
	case "GET", "POST", "PUT", "DELETE", "HEAD", "PATCH", "OPTIONS", "TRACE", "CONNECT":
		return method
	case "get", "post", "put", "delete", "head", "patch", "options", "trace", "connect":
		return strings.ToUpper(method)
	}
	return method
}

// MethodHasBody reports whether the verb conventionally carries a body.
func MethodHasBody(method string) bool {
	switch NormalizeMethod(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// IsIdempotentMethod reports whether the verb is idempotent per RFC 9110.
func IsIdempotentMethod(method string) bool {
	switch NormalizeMethod(method) {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE":
		return true
	}
	return false
}
