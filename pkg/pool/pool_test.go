package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"httpbridge/core/pkg/engine"
	"httpbridge/core/pkg/engine/mockengine"
	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/logger/mocklogger"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"
	"httpbridge/core/pkg/pool"
	"httpbridge/core/pkg/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubFactory(delay time.Duration) (pool.EngineFactory, *sync.Map) {
	var stubs sync.Map
	var n int
	var mu sync.Mutex
	return func() engine.Engine {
		mu.Lock()
		id := n
		n++
		mu.Unlock()
		s := &mockengine.Stub{Delay: delay}
		stubs.Store(id, s)
		return s
	}, &stubs
}

func newPool(t *testing.T, size int, delay time.Duration) *pool.Pool {
	t.Helper()
	factory, _ := stubFactory(delay)
	p, err := pool.New(pool.Config{Size: size, Factory: factory})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := pool.New(pool.Config{Size: 2})
	require.Error(t, err)
	assert.Equal(t, httperr.CodeInvalidRequest, httperr.Map(err).Code)
}

func TestNewTearsDownOnInitFailure(t *testing.T) {
	var created []*mockengine.Stub
	var mu sync.Mutex
	factory := func() engine.Engine {
		mu.Lock()
		defer mu.Unlock()
		s := &mockengine.Stub{}
		if len(created) == 2 {
			s.InitErr = errors.New("no sockets left")
		}
		created = append(created, s)
		return s
	}

	_, err := pool.New(pool.Config{Size: 4, Factory: factory})
	require.Error(t, err)
	assert.Equal(t, httperr.CodeEngineNotInitialized, httperr.Map(err).Code)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, created, 3, "construction stops at the failing worker")
	assert.True(t, created[0].Closed(), "already-initialized workers are torn down")
	assert.True(t, created[1].Closed())
}

func TestDispatchMoreJobsThanWorkers(t *testing.T) {
	const size, jobs = 4, 10
	p := newPool(t, size, 20*time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := mrequest.New("GET", fmt.Sprintf("https://example.com/%d", i))
			resp, err := p.Dispatch(context.Background(), req)
			if err == nil && resp.BodyText() != req.URL {
				err = fmt.Errorf("wrong response %q for %q", resp.BodyText(), req.URL)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "job %d", i)
	}
	assert.LessOrEqual(t, p.PeakInflight(), int64(size), "parallelism bounded by pool size")
	assert.GreaterOrEqual(t, p.Queued(), int64(jobs-size), "excess jobs must queue")
	assert.Equal(t, int64(jobs), p.Dispatched())
}

func TestWorkerExclusivity(t *testing.T) {
	// One worker, many callers: the single engine must never see two
	// executions at once.
	factory, stubs := stubFactory(5 * time.Millisecond)
	p, err := pool.New(pool.Config{Size: 1, Factory: factory})
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Dispatch(context.Background(), mrequest.New("GET", "https://example.com"))
		}()
	}
	wg.Wait()

	v, ok := stubs.Load(0)
	require.True(t, ok)
	stub := v.(*mockengine.Stub)
	assert.Equal(t, int64(8), stub.ExecCalls())
	assert.Equal(t, int64(1), stub.PeakInflight())
}

func TestAcquireCancellationWhileQueued(t *testing.T) {
	p := newPool(t, 1, 100*time.Millisecond)

	// Occupy the only worker.
	go func() {
		_, _ = p.Dispatch(context.Background(), mrequest.New("GET", "https://example.com/busy"))
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Dispatch(ctx, mrequest.New("GET", "https://example.com/waiting"))
	require.Error(t, err)
	assert.Equal(t, httperr.CodeTimeout, httperr.Map(err).Code)
}

func TestPanicInDispatchedCallReturnsWorker(t *testing.T) {
	p := newPool(t, 1, 0)

	err := p.Do(context.Background(), func(engine.Engine) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, httperr.CodeUnknown, httperr.Map(err).Code)
	assert.Contains(t, err.Error(), "boom")

	// The single worker must have been returned despite the panic.
	resp, err := p.Dispatch(context.Background(), mrequest.New("GET", "https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestCloseFailsWaitersAndLaterDispatches(t *testing.T) {
	factory, _ := stubFactory(200 * time.Millisecond)
	p, err := pool.New(pool.Config{Size: 1, Factory: factory})
	require.NoError(t, err)

	go func() {
		_, _ = p.Dispatch(context.Background(), mrequest.New("GET", "https://example.com/busy"))
	}()
	time.Sleep(10 * time.Millisecond)

	waitErr := make(chan error, 1)
	go func() {
		_, err := p.Dispatch(context.Background(), mrequest.New("GET", "https://example.com/queued"))
		waitErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	p.Close()
	p.Close() // idempotent

	select {
	case err := <-waitErr:
		require.Error(t, err)
		assert.Equal(t, httperr.CodeEngineShutdown, httperr.Map(err).Code)
	case <-time.After(time.Second):
		t.Fatal("queued waiter not failed by Close")
	}

	_, err = p.Dispatch(context.Background(), mrequest.New("GET", "https://example.com"))
	require.Error(t, err)
	assert.Equal(t, httperr.CodeEngineShutdown, httperr.Map(err).Code)
}

func TestDispatchBatchPositional(t *testing.T) {
	p := newPool(t, 2, 0)

	reqs := []*mrequest.Request{
		mrequest.New("GET", "https://example.com/0"),
		mrequest.New("GET", "https://example.com/1"),
		mrequest.New("GET", "https://example.com/2"),
	}
	results, err := p.DispatchBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		require.NotNil(t, res.Response)
		assert.Equal(t, reqs[i].URL, res.Response.BodyText())
	}
}

func TestRunEncodedRoundTrip(t *testing.T) {
	p := newPool(t, 2, 0)

	payload, err := wire.EncodeRequest(mrequest.New("GET", "https://example.com/enc"))
	require.NoError(t, err)

	out, err := p.RunEncoded(context.Background(), payload)
	require.NoError(t, err)

	res, err := wire.DecodeResult(out)
	require.NoError(t, err)
	resp, herr := res.Unpack()
	require.Nil(t, herr)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "https://example.com/enc", resp.BodyText())
}

func TestRunEncodedMalformedPayloadTravelsAsErrorResult(t *testing.T) {
	p := newPool(t, 1, 0)

	out, err := p.RunEncoded(context.Background(), []byte(`{not json`))
	require.NoError(t, err, "decode failures travel inside the envelope")

	res, err := wire.DecodeResult(out)
	require.NoError(t, err)
	require.True(t, res.IsError())
	_, herr := res.Unpack()
	require.NotNil(t, herr)
	assert.Equal(t, httperr.CodeTransportDecodeError, herr.Code)
}

func TestRunEncodedBatchPartialFailure(t *testing.T) {
	factory := func() engine.Engine {
		return &mockengine.Stub{
			Respond: func(_ context.Context, req *mrequest.Request) (*mresponse.Response, error) {
				if req.URL == "https://example.com/bad" {
					return nil, httperr.New(httperr.CodeDNSError, "name not known", nil)
				}
				return &mresponse.Response{StatusCode: 200, Body: []byte(req.URL)}, nil
			},
		}
	}
	p, err := pool.New(pool.Config{Size: 2, Factory: factory})
	require.NoError(t, err)
	defer p.Close()

	payload, err := wire.EncodeBatch([]*mrequest.Request{
		mrequest.New("GET", "https://example.com/a"),
		mrequest.New("GET", "https://example.com/bad"),
		mrequest.New("GET", "https://example.com/c"),
	})
	require.NoError(t, err)

	out, err := p.RunEncodedBatch(context.Background(), payload)
	require.NoError(t, err)

	results, err := wire.DecodeResults(out)
	require.NoError(t, err)
	require.Len(t, results, 3)

	respA, errA := results[0].Unpack()
	require.Nil(t, errA)
	assert.Equal(t, "https://example.com/a", respA.BodyText())

	_, errB := results[1].Unpack()
	require.NotNil(t, errB)
	assert.Equal(t, httperr.CodeDNSError, errB.Code)

	respC, errC := results[2].Unpack()
	require.Nil(t, errC)
	assert.Equal(t, "https://example.com/c", respC.BodyText())
}

func TestRunBufferOwnership(t *testing.T) {
	p := newPool(t, 1, 0)
	alloc := p.Allocator()

	payload, err := wire.EncodeRequest(mrequest.New("GET", "https://example.com/buf"))
	require.NoError(t, err)

	in, err := alloc.Allocate(len(payload))
	require.NoError(t, err)
	require.NoError(t, in.Write(payload))

	out, err := p.RunBuffer(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, alloc.Outstanding(), "input released, output live")

	res, err := wire.ReadResult(out)
	require.NoError(t, err)
	resp, herr := res.Unpack()
	require.Nil(t, herr)
	assert.Equal(t, "https://example.com/buf", resp.BodyText())

	require.NoError(t, alloc.Release(out))
	assert.Equal(t, 0, alloc.Outstanding())
	allocated, released := alloc.Counters()
	assert.Equal(t, allocated, released, "every allocation released exactly once")
}

func TestRunBufferRejectsReleasedInput(t *testing.T) {
	p := newPool(t, 1, 0)
	alloc := p.Allocator()

	in, err := alloc.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, alloc.Release(in))

	_, err = p.RunBuffer(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, httperr.CodeTransportDecodeError, httperr.Map(err).Code)
}

func TestDispatchLogsPriorityAndExecutionID(t *testing.T) {
	handler, log := mocklogger.New()
	factory, _ := stubFactory(0)
	p, err := pool.New(pool.Config{Size: 1, Factory: factory, Logger: log})
	require.NoError(t, err)
	defer p.Close()

	req := mrequest.New("GET", "https://example.com/logged")
	req.Priority = mrequest.PriorityHigh
	_, err = p.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, handler.Messages(), "pool dispatch")
	v, ok := handler.Attr("pool dispatch", "priority")
	require.True(t, ok)
	assert.Equal(t, string(mrequest.PriorityHigh), v.String())
	id, ok := handler.Attr("pool dispatch", "execution_id")
	require.True(t, ok)
	assert.Len(t, id.String(), 26, "execution ids are ulids")
}
