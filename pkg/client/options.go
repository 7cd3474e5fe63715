package client

import (
	"time"

	"httpbridge/core/pkg/model/mrequest"

	"github.com/goccy/go-json"
)

// RequestOption mutates one outgoing request before dispatch.
type RequestOption func(*mrequest.Request)

func buildRequest(method, url string, opts []RequestOption) *mrequest.Request {
	req := mrequest.New(method, url)
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// WithHeader sets a single request header.
func WithHeader(key, value string) RequestOption {
	return func(r *mrequest.Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// WithHeaders merges headers into the request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *mrequest.Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			r.Headers[k] = v
		}
	}
}

// WithQuery adds one query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *mrequest.Request) {
		if r.QueryParams == nil {
			r.QueryParams = make(map[string]string)
		}
		r.QueryParams[key] = value
	}
}

// WithBody sets a raw string body.
func WithBody(body string) RequestOption {
	return func(r *mrequest.Request) { r.Body = body }
}

// WithJSONBody marshals v as the body and sets the content type.
func WithJSONBody(v any) RequestOption {
	return func(r *mrequest.Request) {
		data, err := json.Marshal(v)
		if err != nil {
			// Surface at validation time rather than panicking here.
			r.Body = ""
			return
		}
		r.Body = string(data)
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		if _, ok := r.Header("Content-Type"); !ok {
			r.Headers["Content-Type"] = "application/json"
		}
	}
}

// WithTimeout sets the overall deadline.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *mrequest.Request) { r.TimeoutMs = uint64(d.Milliseconds()) }
}

// WithConnectTimeout sets the connection-establishment deadline.
func WithConnectTimeout(d time.Duration) RequestOption {
	return func(r *mrequest.Request) { r.ConnectTimeoutMs = uint64(d.Milliseconds()) }
}

// WithReadTimeout sets the between-reads stall window.
func WithReadTimeout(d time.Duration) RequestOption {
	return func(r *mrequest.Request) { r.ReadTimeoutMs = uint64(d.Milliseconds()) }
}

// WithWriteTimeout sets the between-writes stall window.
func WithWriteTimeout(d time.Duration) RequestOption {
	return func(r *mrequest.Request) { r.WriteTimeoutMs = uint64(d.Milliseconds()) }
}

// WithRedirects sets the follow flag and hop cap together.
func WithRedirects(follow bool, max int) RequestOption {
	return func(r *mrequest.Request) {
		r.FollowRedirects = follow
		r.MaxRedirects = max
	}
}

// WithAutoReferer enables Referer propagation across redirects.
func WithAutoReferer() RequestOption {
	return func(r *mrequest.Request) { r.AutoReferer = true }
}

// WithoutDecompression leaves compressed response bodies untouched.
func WithoutDecompression() RequestOption {
	return func(r *mrequest.Request) { r.Decompress = false }
}

// WithPriority sets the advisory scheduling hint.
func WithPriority(p mrequest.Priority) RequestOption {
	return func(r *mrequest.Request) { r.Priority = p }
}

// WithParseResponse asks the engine to pre-parse a JSON body.
func WithParseResponse() RequestOption {
	return func(r *mrequest.Request) { r.ParseResponse = true }
}

// WithCacheKey overrides the derived response-cache key.
func WithCacheKey(key string) RequestOption {
	return func(r *mrequest.Request) { r.CacheKey = key }
}

// WithRequest applies an arbitrary mutation, the escape hatch for fields
// without a dedicated option.
func WithRequest(fn func(*mrequest.Request)) RequestOption {
	return func(r *mrequest.Request) { fn(r) }
}
