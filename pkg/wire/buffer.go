package wire

import (
	"fmt"
	"sync"

	"httpbridge/core/pkg/httperr"
)

// Buffer is a lifetime-scoped region owned by exactly one caller. The engine
// side writes a serialized result into it; the reading side copies the data
// out into owned values and then releases it. A Buffer must never be read
// after release, and every allocation must be released exactly once.
type Buffer struct {
	alloc    *Allocator
	data     []byte
	length   int
	released bool
}

// Len returns the number of valid bytes. Zero after release.
func (b *Buffer) Len() int {
	if b.released {
		return 0
	}
	return b.length
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Write replaces the buffer contents. The reported length never exceeds
// capacity; oversized payloads are rejected rather than grown, matching the
// fixed-capacity ownership contract.
func (b *Buffer) Write(p []byte) error {
	if b.released {
		return httperr.New(httperr.CodeTransportDecodeError, "write to released buffer", nil)
	}
	if len(p) > cap(b.data) {
		return httperr.Newf(httperr.CodeTransportDecodeError,
			"payload of %d bytes exceeds buffer capacity %d", len(p), cap(b.data))
	}
	copy(b.data[:len(p)], p)
	b.length = len(p)
	return nil
}

// Bytes returns the valid region. Reading a released buffer is a framing bug
// and reports as such instead of returning stale memory.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.released {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "read of released buffer", nil)
	}
	return b.data[:b.length], nil
}

// Allocator hands out Buffers and enforces the pairing contract. It keeps a
// tracked-handle registry so tests (and debug builds) can assert that no
// buffer leaks and none is released twice.
type Allocator struct {
	mu          sync.Mutex
	outstanding map[*Buffer]struct{}
	allocated   uint64
	released    uint64
}

func NewAllocator() *Allocator {
	return &Allocator{outstanding: make(map[*Buffer]struct{})}
}

// Allocate returns a zero-length Buffer with the given capacity.
func (a *Allocator) Allocate(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", size)
	}
	b := &Buffer{alloc: a, data: make([]byte, size)}
	a.mu.Lock()
	a.outstanding[b] = struct{}{}
	a.allocated++
	a.mu.Unlock()
	return b, nil
}

// Release returns the buffer to the allocator. Exactly one Release per
// Allocate; a second release is reported, not ignored.
func (a *Allocator) Release(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("release of nil buffer")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.released {
		return fmt.Errorf("double release of buffer")
	}
	if _, ok := a.outstanding[b]; !ok {
		return fmt.Errorf("release of buffer not owned by this allocator")
	}
	delete(a.outstanding, b)
	b.released = true
	b.data = nil
	b.length = 0
	a.released++
	return nil
}

// Outstanding returns the number of live (unreleased) buffers.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outstanding)
}

// Counters returns total allocate and release counts.
func (a *Allocator) Counters() (allocated, released uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated, a.released
}

// WithBuffer allocates size bytes, runs fn, and releases the buffer on every
// exit path, including panics. This is the scoped-acquisition entry point the
// rest of the repo uses; manual Allocate/Release pairs are for callers that
// need to hold a buffer across call boundaries.
func WithBuffer(a *Allocator, size int, fn func(*Buffer) error) error {
	b, err := a.Allocate(size)
	if err != nil {
		return err
	}
	defer func() { _ = a.Release(b) }()
	return fn(b)
}

// WriteResult serializes a result envelope directly into buf (raw-buffer
// framing). The caller still owns buf and must release it.
func WriteResult(buf *Buffer, res Result) error {
	data, err := EncodeResult(res)
	if err != nil {
		return httperr.New(httperr.CodeTransportDecodeError, "result serialization failed", err)
	}
	return buf.Write(data)
}

// ReadResult decodes a result envelope out of buf into owned values. A
// zero-length buffer indicates a framing bug upstream and is reported as a
// transport decode error, distinct from any engine-reported error.
func ReadResult(buf *Buffer) (Result, error) {
	data, err := buf.Bytes()
	if err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, httperr.New(httperr.CodeTransportDecodeError, "empty result buffer", nil)
	}
	// Copy out before the caller releases the buffer; DecodeResult unmarshals
	// into freshly owned values.
	owned := make([]byte, len(data))
	copy(owned, data)
	return DecodeResult(owned)
}

// ReadResults is the batch counterpart of ReadResult.
func ReadResults(buf *Buffer) ([]Result, error) {
	data, err := buf.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "empty results buffer", nil)
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	return DecodeResults(owned)
}

// WriteResults serializes a batch result list into buf.
func WriteResults(buf *Buffer, results []Result) error {
	data, err := EncodeResults(results)
	if err != nil {
		return httperr.New(httperr.CodeTransportDecodeError, "results serialization failed", err)
	}
	return buf.Write(data)
}
