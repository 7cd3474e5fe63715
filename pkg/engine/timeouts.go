package engine

import (
	"context"
	"io"
	"net"
	"sync"
	"time"
)

// dialParams carries the per-request connect timeout down to the shared
// transport's dialer via the request context. Only new connections are
// affected; reused pooled connections never re-dial.
type dialParams struct {
	connectTimeout time.Duration
}

type dialParamsKey struct{}

func withDialParams(ctx context.Context, p dialParams) context.Context {
	return context.WithValue(ctx, dialParamsKey{}, p)
}

func (e *HTTPEngine) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	timeout := e.cfg.ConnectTimeout
	if p, ok := ctx.Value(dialParamsKey{}).(dialParams); ok && p.connectTimeout > 0 {
		timeout = p.connectTimeout
	}
	d := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: e.cfg.TCPKeepAlive,
	}
	return d.DialContext(ctx, network, addr)
}

// idleTimeoutReader aborts a stream when the gap between successive reads
// exceeds the window, by canceling the request context. It is used on the
// response body (read timeout: the server stalls mid-body) and on the
// outbound request body (write timeout: the transport stops consuming what
// we feed it). The engine inspects stalled() afterwards to classify the
// resulting context error as a timeout rather than a cancellation.
type idleTimeoutReader struct {
	r      io.Reader
	window time.Duration
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	expired bool
}

func newIdleTimeoutReader(r io.Reader, window time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	return &idleTimeoutReader{r: r, window: window, cancel: cancel}
}

func (t *idleTimeoutReader) Read(p []byte) (int, error) {
	t.mu.Lock()
	if t.timer == nil {
		t.timer = time.AfterFunc(t.window, t.expire)
	} else {
		t.timer.Reset(t.window)
	}
	t.mu.Unlock()

	n, err := t.r.Read(p)

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	return n, err
}

func (t *idleTimeoutReader) expire() {
	t.mu.Lock()
	t.expired = true
	t.mu.Unlock()
	t.cancel()
}

func (t *idleTimeoutReader) stalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

func (t *idleTimeoutReader) stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
}
