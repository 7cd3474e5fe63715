// Package mockengine provides an in-process engine.Engine stub for pool and
// client tests: no network, scripted responses, call accounting.
package mockengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"httpbridge/core/pkg/engine"
	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"
)

type Stub struct {
	// InitErr, when set, makes Init fail (once and on every later call,
	// matching the cached-result contract).
	InitErr error
	// Respond produces the result for one request. Nil defaults to a 200
	// echo of the request URL.
	Respond func(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error)
	// Delay is applied before each execution to simulate network latency.
	Delay time.Duration

	initCalls   atomic.Int64
	execCalls   atomic.Int64
	inflight    atomic.Int64
	peak        atomic.Int64
	initialized atomic.Bool
	closed      atomic.Bool
}

var _ engine.Engine = (*Stub)(nil)

func (s *Stub) Init(_ context.Context) error {
	s.initCalls.Add(1)
	if s.InitErr != nil {
		return s.InitErr
	}
	s.initialized.Store(true)
	return nil
}

func (s *Stub) Shutdown() { s.closed.Store(true) }

func (s *Stub) ExecuteOne(ctx context.Context, req *mrequest.Request) (*mresponse.Response, error) {
	if s.closed.Load() {
		return nil, httperr.New(httperr.CodeEngineShutdown, "", nil)
	}
	if !s.initialized.Load() {
		return nil, httperr.New(httperr.CodeEngineNotInitialized, "", nil)
	}
	s.execCalls.Add(1)

	cur := s.inflight.Add(1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	defer s.inflight.Add(-1)

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, httperr.Map(ctx.Err())
		}
	}

	if s.Respond != nil {
		resp, err := s.Respond(ctx, req)
		if err != nil {
			return nil, httperr.Map(err)
		}
		return resp, nil
	}
	return &mresponse.Response{
		StatusCode: 200,
		Body:       []byte(req.URL),
		URL:        req.URL,
		Version:    "HTTP/1.1",
	}, nil
}

func (s *Stub) ExecuteBatch(ctx context.Context, reqs []*mrequest.Request) []engine.Result {
	results := make([]engine.Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.ExecuteOne(ctx, req)
			if err != nil {
				results[i] = engine.Result{Err: httperr.Map(err)}
				return
			}
			results[i] = engine.Result{Response: resp}
		}()
	}
	wg.Wait()
	return results
}

// InitCalls reports how many times Init ran.
func (s *Stub) InitCalls() int64 { return s.initCalls.Load() }

// ExecCalls reports how many requests executed.
func (s *Stub) ExecCalls() int64 { return s.execCalls.Load() }

// PeakInflight reports the maximum observed concurrent executions.
func (s *Stub) PeakInflight() int64 { return s.peak.Load() }

// Closed reports whether Shutdown ran.
func (s *Stub) Closed() bool { return s.closed.Load() }
