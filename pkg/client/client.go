// Package client is the caller-facing surface. A Client owns (or borrows) a
// worker pool and moves every request through the serialization boundary, so
// callers deal only in request/response values and structured errors.
package client

import (
	"context"
	"fmt"
	"log/slog"

	"httpbridge/core/pkg/engine"
	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"
	"httpbridge/core/pkg/pool"
	"httpbridge/core/pkg/wire"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Framing selects how requests cross the execution boundary.
type Framing int

const (
	// FramingEncoded passes serialized messages as byte slices.
	FramingEncoded Framing = iota
	// FramingBuffer passes tracked buffers with explicit ownership transfer;
	// better for large bodies since the result is written in place.
	FramingBuffer
)

// Client dispatches requests through a worker pool. Construct with New and
// release with Close; there is no package-level instance.
type Client struct {
	pool     *pool.Pool
	ownsPool bool
	framing  Framing
	log      *slog.Logger
}

type config struct {
	pool       *pool.Pool
	poolSize   int
	engineCfg  engine.Config
	logger     *slog.Logger
	framing    Framing
	newEngine  pool.EngineFactory
}

// Option configures a Client at construction.
type Option func(*config)

// WithPool uses an existing pool instead of building one. The caller keeps
// ownership: Close on the client will not close a borrowed pool.
func WithPool(p *pool.Pool) Option { return func(c *config) { c.pool = p } }

// WithPoolSize sets the worker count for the pool the client builds.
func WithPoolSize(n int) Option { return func(c *config) { c.poolSize = n } }

// WithEngineConfig tunes the engines of the pool the client builds.
func WithEngineConfig(cfg engine.Config) Option { return func(c *config) { c.engineCfg = cfg } }

// WithLogger sets the structured logger for the client and its pool.
func WithLogger(log *slog.Logger) Option { return func(c *config) { c.logger = log } }

// WithFraming selects the boundary framing for all requests on this client.
func WithFraming(f Framing) Option { return func(c *config) { c.framing = f } }

// WithEngineFactory overrides engine construction, mainly for tests.
func WithEngineFactory(f pool.EngineFactory) Option { return func(c *config) { c.newEngine = f } }

// New builds a client. Without WithPool it constructs and owns a pool of
// network-backed engines.
func New(opts ...Option) (*Client, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	c := &Client{framing: cfg.framing, log: cfg.logger}
	if cfg.pool != nil {
		c.pool = cfg.pool
		return c, nil
	}

	factory := cfg.newEngine
	if factory == nil {
		engCfg := cfg.engineCfg
		if engCfg.Logger == nil {
			engCfg.Logger = cfg.logger
		}
		factory = func() engine.Engine { return engine.New(engCfg) }
	}
	p, err := pool.New(pool.Config{Size: cfg.poolSize, Factory: factory, Logger: cfg.logger})
	if err != nil {
		return nil, err
	}
	c.pool = p
	c.ownsPool = true
	return c, nil
}

// Close shuts down the pool if the client owns it. Idempotent.
func (c *Client) Close() {
	if c.ownsPool {
		c.pool.Close()
	}
}

// Request validates req and executes it through the boundary. The returned
// error, when non-nil, is always a *httperr.Error.
func (c *Client) Request(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, httperr.New(httperr.CodeInvalidRequest, err.Error(), err)
	}
	switch c.framing {
	case FramingBuffer:
		return c.requestBuffer(ctx, req)
	default:
		return c.requestEncoded(ctx, req)
	}
}

func (c *Client) requestEncoded(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error) {
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "request serialization failed", err)
	}
	out, err := c.pool.RunEncoded(ctx, payload)
	if err != nil {
		return nil, httperr.Map(err)
	}
	res, err := wire.DecodeResult(out)
	if err != nil {
		return nil, httperr.Map(err)
	}
	resp, herr := res.Unpack()
	if herr != nil {
		return nil, herr
	}
	return resp, nil
}

func (c *Client) requestBuffer(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error) {
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "request serialization failed", err)
	}
	alloc := c.pool.Allocator()
	in, err := alloc.Allocate(len(payload))
	if err != nil {
		return nil, httperr.Map(err)
	}
	if err := in.Write(payload); err != nil {
		_ = alloc.Release(in)
		return nil, httperr.Map(err)
	}

	// RunBuffer consumes in; we own out from here.
	out, err := c.pool.RunBuffer(ctx, in)
	if err != nil {
		return nil, httperr.Map(err)
	}
	res, readErr := wire.ReadResult(out)
	if relErr := alloc.Release(out); relErr != nil {
		return nil, httperr.Map(relErr)
	}
	if readErr != nil {
		return nil, httperr.Map(readErr)
	}
	resp, herr := res.Unpack()
	if herr != nil {
		return nil, herr
	}
	return resp, nil
}

// Get issues a GET request built from the per-call options.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*mresponse.Response, error) {
	return c.Request(ctx, buildRequest("GET", url, opts))
}

// Post issues a POST request built from the per-call options.
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*mresponse.Response, error) {
	return c.Request(ctx, buildRequest("POST", url, opts))
}

// Put issues a PUT request built from the per-call options.
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*mresponse.Response, error) {
	return c.Request(ctx, buildRequest("PUT", url, opts))
}

// Delete issues a DELETE request built from the per-call options.
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*mresponse.Response, error) {
	return c.Request(ctx, buildRequest("DELETE", url, opts))
}

// BatchResult pairs one batch element's outcome with its input position.
type BatchResult = engine.Result

// Batch executes the requests concurrently across the pool and returns
// results in input order. One failing element never aborts the others.
func (c *Client) Batch(ctx context.Context, reqs []*mrequest.Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	g := new(errgroup.Group)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := c.Request(ctx, req)
			if err != nil {
				results[i] = BatchResult{Err: httperr.Map(err)}
				return nil
			}
			results[i] = BatchResult{Response: resp}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BatchGet is Batch over plain GET requests.
func (c *Client) BatchGet(ctx context.Context, urls []string, opts ...RequestOption) []BatchResult {
	reqs := make([]*mrequest.Request, len(urls))
	for i, u := range urls {
		reqs[i] = buildRequest("GET", u, opts)
	}
	return c.Batch(ctx, reqs)
}

// DecodeJSON unmarshals a response body into T. This replaces any global
// type registry: the target type is named at the call site.
func DecodeJSON[T any](resp *mresponse.Response) (T, error) {
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return v, fmt.Errorf("decoding response body: %w", err)
	}
	return v, nil
}

// Decode unmarshals a response body into v for callers that already hold a
// target value.
func Decode(resp *mresponse.Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
