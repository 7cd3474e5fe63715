// Package pool runs requests on a fixed set of workers, each owning one
// initialized engine. A worker executes one job at a time; callers that find
// no free worker wait in a strict FIFO queue. The pool is also where the
// framing boundary lives: RunEncoded and RunBuffer accept serialized requests
// and return serialized results, so a caller never touches an engine directly.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"httpbridge/core/pkg/engine"
	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"
	"httpbridge/core/pkg/wire"

	"github.com/oklog/ulid/v2"
)

// EngineFactory builds one engine per worker. Workers never share an engine,
// so factories must return a fresh instance on every call.
type EngineFactory func() engine.Engine

// Config tunes one pool. Factory is required; everything else has defaults.
type Config struct {
	// Size is the number of workers, each with its own engine.
	Size    int
	Factory EngineFactory
	Logger  *slog.Logger
	// Allocator backs the raw-buffer framing entry points. A fresh one is
	// created when nil.
	Allocator *wire.Allocator
}

const DefaultSize = 4

type worker struct {
	id  int
	eng engine.Engine
}

// Pool owns its workers and their engines. Close shuts the engines down;
// after that every dispatch and queued waiter fails fast.
type Pool struct {
	log   *slog.Logger
	alloc *wire.Allocator

	mu      sync.Mutex
	free    []*worker
	waiters []chan *worker
	closed  bool
	workers []*worker

	dispatched atomic.Int64
	queuedHits atomic.Int64
	inflight   atomic.Int64
	peak       atomic.Int64
}

// New initializes Size workers up front. If any engine fails to initialize,
// the ones already up are shut down and the error is returned: the pool is
// all-or-nothing, never partially alive.
func New(cfg Config) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, httperr.New(httperr.CodeInvalidRequest, "pool requires an engine factory", nil)
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Allocator == nil {
		cfg.Allocator = wire.NewAllocator()
	}

	p := &Pool{log: cfg.Logger, alloc: cfg.Allocator}
	ctx := context.Background()
	for i := 0; i < cfg.Size; i++ {
		w := &worker{id: i, eng: cfg.Factory()}
		if err := w.eng.Init(ctx); err != nil {
			for _, up := range p.workers {
				up.eng.Shutdown()
			}
			return nil, httperr.New(httperr.CodeEngineNotInitialized, "worker engine init failed", err)
		}
		p.workers = append(p.workers, w)
		p.free = append(p.free, w)
	}
	p.log.Info("worker pool started", "size", cfg.Size)
	return p, nil
}

// Allocator returns the allocator backing the raw-buffer framing entry
// points, so callers can allocate request buffers from the same registry.
func (p *Pool) Allocator() *wire.Allocator { return p.alloc }

// acquire takes a free worker or joins the FIFO wait queue. Cancellation and
// pool close fail the wait; a worker handed over concurrently with
// cancellation is put back rather than leaked.
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, httperr.New(httperr.CodeEngineShutdown, "pool is closed", nil)
	}
	if n := len(p.free); n > 0 {
		w := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return w, nil
	}
	wait := make(chan *worker, 1)
	p.waiters = append(p.waiters, wait)
	p.queuedHits.Add(1)
	p.mu.Unlock()

	select {
	case w, ok := <-wait:
		if !ok {
			return nil, httperr.New(httperr.CodeEngineShutdown, "pool closed while waiting for a worker", nil)
		}
		return w, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, c := range p.waiters {
			if c == wait {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return nil, httperr.Map(ctx.Err())
			}
		}
		p.mu.Unlock()
		// Not in the queue anymore: release already handed us a worker (the
		// channel is buffered) or Close closed the channel.
		if w, ok := <-wait; ok {
			p.release(w)
		}
		return nil, httperr.Map(ctx.Err())
	}
}

// release hands the worker directly to the queue head, preserving FIFO
// order, and falls back to the free list when nobody is waiting.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 {
		c := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		c <- w
		return
	}
	p.free = append(p.free, w)
	p.mu.Unlock()
}

// Do runs fn with exclusive use of one worker's engine. A panic inside fn is
// recovered and surfaced as an error; the worker always returns to the pool.
func (p *Pool) Do(ctx context.Context, fn func(eng engine.Engine) error) (err error) {
	w, aerr := p.acquire(ctx)
	if aerr != nil {
		return aerr
	}
	defer p.release(w)

	cur := p.inflight.Add(1)
	for {
		prev := p.peak.Load()
		if cur <= prev || p.peak.CompareAndSwap(prev, cur) {
			break
		}
	}
	defer p.inflight.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			err = httperr.Newf(httperr.CodeUnknown, "panic in dispatched call: %v", r)
		}
	}()
	return fn(w.eng)
}

// Dispatch executes one request on the next available worker. The priority
// hint on the request is logged but never reorders the queue.
func (p *Pool) Dispatch(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error) {
	execID := ulid.Make().String()
	p.dispatched.Add(1)
	p.log.InfoContext(ctx, "pool dispatch",
		"execution_id", execID,
		"method", req.Method,
		"url", req.URL,
		"priority", req.Priority,
	)

	var resp *mresponse.Response
	err := p.Do(ctx, func(eng engine.Engine) error {
		r, execErr := eng.ExecuteOne(ctx, req)
		if execErr != nil {
			return execErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DispatchBatch runs a whole batch on a single worker, which applies its own
// bounded concurrency internally. Results are positional.
func (p *Pool) DispatchBatch(ctx context.Context, reqs []*mrequest.Request) ([]engine.Result, error) {
	execID := ulid.Make().String()
	p.dispatched.Add(1)
	p.log.InfoContext(ctx, "pool batch dispatch", "execution_id", execID, "count", len(reqs))

	var results []engine.Result
	err := p.Do(ctx, func(eng engine.Engine) error {
		results = eng.ExecuteBatch(ctx, reqs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RunEncoded is the serialized-message boundary: payload holds one encoded
// request, the return value holds one encoded result. Failures at any stage,
// including a malformed payload, travel back inside the result envelope; the
// error return covers only result serialization itself.
func (p *Pool) RunEncoded(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := wire.DecodeRequest(payload)
	if err != nil {
		return wire.EncodeResult(wire.NewErrorResult(err))
	}
	resp, err := p.Dispatch(ctx, req)
	if err != nil {
		return wire.EncodeResult(wire.NewErrorResult(err))
	}
	return wire.EncodeResult(wire.NewResult(resp))
}

// RunEncodedBatch is the batch counterpart of RunEncoded: an encoded request
// list in, an encoded positional result list out.
func (p *Pool) RunEncodedBatch(ctx context.Context, payload []byte) ([]byte, error) {
	reqs, err := wire.DecodeBatch(payload)
	if err != nil {
		return wire.EncodeResults([]wire.Result{wire.NewErrorResult(err)})
	}
	results, err := p.DispatchBatch(ctx, reqs)
	if err != nil {
		out := make([]wire.Result, len(reqs))
		for i := range out {
			out[i] = wire.NewErrorResult(err)
		}
		return wire.EncodeResults(out)
	}
	out := make([]wire.Result, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = wire.NewErrorResult(res.Err)
		} else {
			out[i] = wire.NewResult(res.Response)
		}
	}
	return wire.EncodeResults(out)
}

// RunBuffer is the raw-buffer boundary. Ownership of in transfers to the
// pool, which releases it after decoding; ownership of the returned buffer
// transfers to the caller, who must release it exactly once.
func (p *Pool) RunBuffer(ctx context.Context, in *wire.Buffer) (*wire.Buffer, error) {
	data, err := in.Bytes()
	if err != nil {
		return nil, err
	}
	req, decErr := wire.DecodeRequest(data)
	if relErr := p.alloc.Release(in); relErr != nil {
		return nil, relErr
	}

	var res wire.Result
	if decErr != nil {
		res = wire.NewErrorResult(decErr)
	} else if resp, execErr := p.Dispatch(ctx, req); execErr != nil {
		res = wire.NewErrorResult(execErr)
	} else {
		res = wire.NewResult(resp)
	}

	encoded, err := wire.EncodeResult(res)
	if err != nil {
		return nil, err
	}
	out, err := p.alloc.Allocate(len(encoded))
	if err != nil {
		return nil, err
	}
	if err := out.Write(encoded); err != nil {
		_ = p.alloc.Release(out)
		return nil, err
	}
	return out, nil
}

// Close shuts every worker engine down and fails all queued waiters. It is
// idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.free = nil
	workers := p.workers
	p.mu.Unlock()

	for _, c := range waiters {
		close(c)
	}
	for _, w := range workers {
		w.eng.Shutdown()
	}
	p.log.Info("worker pool closed", "dispatched", p.dispatched.Load())
}

// Dispatched reports how many jobs were handed to the pool.
func (p *Pool) Dispatched() int64 { return p.dispatched.Load() }

// Queued reports how many acquisitions had to wait for a worker.
func (p *Pool) Queued() int64 { return p.queuedHits.Load() }

// PeakInflight reports the maximum observed concurrent jobs.
func (p *Pool) PeakInflight() int64 { return p.peak.Load() }
