// Package engine executes HTTP requests to completion. An Engine instance
// owns its own connection pool, response cache, and timeout machinery; no
// fault escapes it uncaught — every failure path funnels into the structured
// error model of pkg/httperr.
package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"httpbridge/core/pkg/compress"
	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Engine is the request-execution contract. HTTPEngine is the network-backed
// implementation; tests use the stub in mockengine.
type Engine interface {
	// Init performs one-time setup. It is idempotent: a second call is a
	// no-op returning the cached result. Execution against an uninitialized
	// engine fails.
	Init(ctx context.Context) error
	// ExecuteOne runs a single request. Non-2xx statuses are successful
	// executions; the returned error is always a *httperr.Error.
	ExecuteOne(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error)
	// ExecuteBatch runs requests with bounded internal concurrency and
	// returns results positionally. One failing element never aborts the
	// others.
	ExecuteBatch(ctx context.Context, reqs []*mrequest.Request) []Result
	// Shutdown releases pooled connections. Safe to call more than once;
	// execution after shutdown fails with engine_shutdown.
	Shutdown()
}

// Result pairs a response with a structured error; exactly one is set.
type Result struct {
	Response *mresponse.Response
	Err      *httperr.Error
}

// Config tunes one engine instance. Zero values take the defaults below,
// which are sized for client-side use: modest pools, short connect window.
type Config struct {
	// BatchConcurrency bounds parallelism inside one ExecuteBatch call.
	// It composes with, and is independent of, the worker pool size.
	BatchConcurrency    int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TCPKeepAlive        time.Duration
	// ConnectTimeout applies when a request does not carry its own.
	ConnectTimeout      time.Duration
	TLSHandshakeTimeout time.Duration
	// CacheSize bounds the per-engine GET response cache. Zero disables it.
	CacheSize int
	Logger    *slog.Logger
}

const (
	DefaultBatchConcurrency    = 8
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 30 * time.Second
	DefaultTCPKeepAlive        = 30 * time.Second
	DefaultConnectTimeout      = 5 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultCacheSize           = 500
)

func (c Config) withDefaults() Config {
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if c.TCPKeepAlive <= 0 {
		c.TCPKeepAlive = DefaultTCPKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if c.CacheSize < 0 {
		c.CacheSize = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// HTTPEngine executes requests over its own http.Transport. Instances are
// not shared between pool workers; each worker owns one.
type HTTPEngine struct {
	cfg Config
	log *slog.Logger

	initOnce    sync.Once
	initialized atomic.Bool
	closed      atomic.Bool

	transport *http.Transport
	h2        *http2.Transport
	cache     *responseCache
	inflight  singleflight.Group
}

var _ Engine = (*HTTPEngine)(nil)

func New(cfg Config) *HTTPEngine {
	cfg = cfg.withDefaults()
	return &HTTPEngine{cfg: cfg, log: cfg.Logger}
}

func (e *HTTPEngine) Init(_ context.Context) error {
	if e.closed.Load() {
		return httperr.New(httperr.CodeEngineShutdown, "init after shutdown", nil)
	}
	e.initOnce.Do(func() {
		e.transport = &http.Transport{
			DialContext:         e.dialContext,
			MaxIdleConnsPerHost: e.cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     e.cfg.IdleConnTimeout,
			TLSHandshakeTimeout: e.cfg.TLSHandshakeTimeout,
			ForceAttemptHTTP2:   true,
			// Accept-Encoding and decompression are driven by the request's
			// decompress flag, not the transport.
			DisableCompression: true,
		}
		// Dedicated transport for version-pinned requests.
		e.h2 = &http2.Transport{}
		if e.cfg.CacheSize > 0 {
			e.cache = newResponseCache(e.cfg.CacheSize)
		}
		e.initialized.Store(true)
		e.log.Info("http engine initialized",
			"max_idle_per_host", e.cfg.MaxIdleConnsPerHost,
			"batch_concurrency", e.cfg.BatchConcurrency,
			"cache_size", e.cfg.CacheSize,
		)
	})
	return nil
}

func (e *HTTPEngine) Shutdown() {
	if e.closed.Swap(true) {
		return
	}
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	if e.h2 != nil {
		e.h2.CloseIdleConnections()
	}
	if e.cache != nil {
		e.cache.clear()
	}
	e.log.Info("http engine shut down")
}

func (e *HTTPEngine) ExecuteOne(ctx context.Context, req *mrequest.Request) (resp *mresponse.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = httperr.Newf(httperr.CodeUnknown, "engine fault: %v", r)
		}
	}()

	if e.closed.Load() {
		return nil, httperr.New(httperr.CodeEngineShutdown, "", nil)
	}
	if !e.initialized.Load() {
		return nil, httperr.New(httperr.CodeEngineNotInitialized, "", nil)
	}
	if verr := req.Validate(); verr != nil {
		return nil, httperr.New(httperr.CodeInvalidRequest, verr.Error(), verr)
	}

	execID := ulid.Make().String()
	e.logDispatch(ctx, execID, req)

	method := mrequest.NormalizeMethod(req.Method)
	if method != http.MethodGet || e.cache == nil {
		return e.execute(ctx, req)
	}

	key := cacheKey(req)
	if cached, ok := e.cache.get(key); ok {
		hit := cached.Clone()
		hit.CacheHit = true
		e.log.DebugContext(ctx, "cache hit", "execution_id", execID, "url", req.URL)
		return hit, nil
	}

	// Concurrent identical GETs collapse onto one exchange; the cache keeps
	// its own copy so callers can mutate what they get back.
	v, ferr, shared := e.inflight.Do(key, func() (any, error) {
		r, err := e.execute(ctx, req)
		if err == nil && r.StatusCode == http.StatusOK {
			e.cache.put(key, r.Clone())
		}
		return r, err
	})
	if ferr != nil {
		return nil, httperr.Map(ferr)
	}
	fresh := v.(*mresponse.Response)
	if shared {
		dup := fresh.Clone()
		dup.CacheHit = true
		return dup, nil
	}
	return fresh, nil
}

func (e *HTTPEngine) ExecuteBatch(ctx context.Context, reqs []*mrequest.Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if req == nil {
				results[i] = Result{Err: httperr.New(httperr.CodeInvalidRequest, "nil request", nil)}
				return nil
			}
			resp, err := e.ExecuteOne(ctx, req)
			if err != nil {
				results[i] = Result{Err: httperr.Map(err)}
			} else {
				results[i] = Result{Response: resp}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *HTTPEngine) execute(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error) {
	start := time.Now()

	if overall := req.Timeout(); overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, overall)
		defer cancel()
	}
	ctx = withDialParams(ctx, dialParams{connectTimeout: req.ConnectTimeout()})
	// Separate cancel scope for the idle-timeout readers so a stalled stream
	// aborts the exchange without tearing down the caller's context.
	ctx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	rawBody := req.BodyBytes()
	var bodyReader io.Reader
	var writeGuard *idleTimeoutReader
	if len(rawBody) > 0 {
		bodyReader = bytes.NewReader(rawBody)
		if wt := req.WriteTimeout(); wt > 0 {
			writeGuard = newIdleTimeoutReader(bodyReader, wt, cancelStream)
			bodyReader = writeGuard
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, mrequest.NormalizeMethod(req.Method), req.URL, bodyReader)
	if err != nil {
		return nil, httperr.New(httperr.CodeInvalidRequest, "cannot build request", err)
	}
	if len(rawBody) > 0 {
		httpReq.ContentLength = int64(len(rawBody))
		httpReq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(rawBody)), nil
		}
	}

	if len(req.QueryParams) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Decompress {
		if _, ok := req.Header("Accept-Encoding"); !ok {
			httpReq.Header.Set("Accept-Encoding", compress.AcceptEncoding)
		}
	}

	rt, err := e.roundTripper(req, httpReq.URL.Scheme)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport:     rt,
		CheckRedirect: redirectPolicy(req),
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if writeGuard != nil && writeGuard.stalled() {
			return nil, httperr.MapRequestError(req.Method, req.URL,
				httperr.New(httperr.CodeTimeout, "request body write stalled", err))
		}
		return nil, httperr.MapRequestError(req.Method, req.URL, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var respReader io.Reader = httpResp.Body
	var readGuard *idleTimeoutReader
	if rd := req.ReadTimeout(); rd > 0 {
		readGuard = newIdleTimeoutReader(respReader, rd, cancelStream)
		respReader = readGuard
	}
	wireBody, err := io.ReadAll(respReader)
	if readGuard != nil {
		readGuard.stop()
	}
	if err != nil {
		if readGuard != nil && readGuard.stalled() {
			return nil, httperr.MapRequestError(req.Method, req.URL,
				httperr.New(httperr.CodeTimeout, "response body read stalled", err))
		}
		return nil, httperr.MapRequestError(req.Method, req.URL, err)
	}

	body := wireBody
	if req.Decompress {
		encoding := strings.ToLower(httpResp.Header.Get("Content-Encoding"))
		if encoding != "" && encoding != "identity" {
			body, err = compress.DecompressContentEncoding(wireBody, encoding)
			if err != nil {
				return nil, httperr.MapRequestError(req.Method, req.URL,
					httperr.New(httperr.CodeProtocolError, "cannot decode response body", err))
			}
		}
	}

	// Normalize to UTF-8 when the server declared a charset.
	if contentType := httpResp.Header.Get("Content-Type"); contentType != "" {
		if reader, cerr := charset.NewReader(bytes.NewReader(body), contentType); cerr == nil {
			if normalized, rerr := io.ReadAll(reader); rerr == nil {
				body = normalized
			}
		}
	}

	var parsed any
	if req.ParseResponse {
		parsed = parseJSONBody(body)
	}

	var saved int64
	if delta := len(body) - len(wireBody); delta > 0 {
		saved = int64(delta)
	}

	resp := &mresponse.Response{
		StatusCode:       httpResp.StatusCode,
		Headers:          flattenHeaders(httpResp.Header),
		Body:             body,
		Version:          httpResp.Proto,
		URL:              httpResp.Request.URL.String(),
		ElapsedMs:        time.Since(start).Milliseconds(),
		ParsedData:       parsed,
		CompressionSaved: saved,
	}
	return resp, nil
}

// roundTripper selects the shared transport, or the version-pinned one when
// the request asks for it. Pinning rides the HTTP/2 transport: it is the
// newest version this engine can force end to end.
func (e *HTTPEngine) roundTripper(req *mrequest.Request, scheme string) (http.RoundTripper, error) {
	if !req.HTTP3Only {
		return e.transport, nil
	}
	if scheme != "https" {
		return nil, httperr.New(httperr.CodeInvalidRequest, "version pinning requires https", nil)
	}
	return e.h2, nil
}

// redirectPolicy enforces the request's follow flag, hop cap, and
// auto-referer behavior. Exceeding the cap is a too_many_redirects error,
// which Map recognizes through the url.Error wrapping applied by net/http.
func redirectPolicy(req *mrequest.Request) func(r *http.Request, via []*http.Request) error {
	return func(r *http.Request, via []*http.Request) error {
		if !req.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) > req.MaxRedirects {
			return httperr.Newf(httperr.CodeTooManyRedirects,
				"stopped after %d redirects", req.MaxRedirects)
		}
		if req.AutoReferer {
			prev := *via[len(via)-1].URL
			prev.User = nil
			prev.Fragment = ""
			r.Header.Set("Referer", prev.String())
		} else {
			// net/http sets Referer on its own; the flag is authoritative.
			r.Header.Del("Referer")
		}
		return nil
	}
}

// parseJSONBody decodes a JSON body into a generic value, preserving number
// precision. A non-JSON body leaves parsed data absent.
func parseJSONBody(body []byte) any {
	if !json.Valid(body) {
		return nil
	}
	var parsed any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil
	}
	return parsed
}

// flattenHeaders joins repeated headers with the canonical separator.
func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for key, values := range h {
		result[key] = strings.Join(values, mresponse.MultiValueSeparator)
	}
	return result
}
