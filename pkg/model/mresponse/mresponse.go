package mresponse

import (
	"strings"
)

// MultiValueSeparator joins repeated response headers into a single value.
const MultiValueSeparator = ", "

// Response is the result of one completed HTTP exchange. Field names are the
// canonical wire shape. A Response is immutable once constructed.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	// Version is the negotiated protocol, e.g. "HTTP/1.1" or "HTTP/2.0".
	Version string `json:"version"`
	// URL is the effective URL after redirects.
	URL       string `json:"url"`
	ElapsedMs int64  `json:"elapsed_ms"`

	// ParsedData is populated when the request asked for server-side parsing.
	ParsedData any `json:"parsedData,omitempty"`
	// CacheHit marks responses served from the engine's GET cache.
	CacheHit bool `json:"cache_hit,omitempty"`
	// CompressionSaved is the byte count saved by transfer decompression.
	CompressionSaved int64 `json:"compression_saved,omitempty"`
}

// Clone returns a copy with its own Body and Headers, so holders of the
// original and the copy never observe each other's mutations. ParsedData is
// shared; it is treated as read-only once constructed.
func (r *Response) Clone() *Response {
	cp := *r
	if r.Body != nil {
		cp.Body = append([]byte(nil), r.Body...)
	}
	if r.Headers != nil {
		cp.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

// IsSuccess reports whether the status code is in [200, 300). A non-2xx
// response is still a valid response, not an error.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// BodyText returns the body as a string.
func (r *Response) BodyText() string {
	return string(r.Body)
}

// Header returns the first header whose key matches case-insensitively.
func (r *Response) Header(key string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// ContentType returns the Content-Type header, or "".
func (r *Response) ContentType() string {
	v, _ := r.Header("Content-Type")
	return v
}
