package wire_test

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mresponse"
	"httpbridge/core/pkg/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteRead(t *testing.T) {
	alloc := wire.NewAllocator()
	buf, err := alloc.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, buf.Write([]byte("hello")))
	data, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 5, buf.Len())
	assert.Equal(t, 64, buf.Cap())

	require.NoError(t, alloc.Release(buf))
	assert.Equal(t, 0, alloc.Outstanding())
}

func TestBufferUseAfterRelease(t *testing.T) {
	alloc := wire.NewAllocator()
	buf, err := alloc.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, alloc.Release(buf))

	_, err = buf.Bytes()
	require.Error(t, err)
	var he *httperr.Error
	require.True(t, errors.As(err, &he))
	assert.Equal(t, httperr.CodeTransportDecodeError, he.Code)

	assert.Error(t, buf.Write([]byte("x")))
}

func TestBufferDoubleRelease(t *testing.T) {
	alloc := wire.NewAllocator()
	buf, err := alloc.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, alloc.Release(buf))
	assert.Error(t, alloc.Release(buf))

	allocated, released := alloc.Counters()
	assert.Equal(t, uint64(1), allocated)
	assert.Equal(t, uint64(1), released)
}

func TestBufferCapacityCeiling(t *testing.T) {
	alloc := wire.NewAllocator()
	buf, err := alloc.Allocate(4)
	require.NoError(t, err)
	defer func() { _ = alloc.Release(buf) }()

	err = buf.Write([]byte("too large for four"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
	assert.Equal(t, 0, buf.Len(), "failed write must not report a partial length")
}

func TestWithBufferReleasesOnPanic(t *testing.T) {
	alloc := wire.NewAllocator()

	assert.Panics(t, func() {
		_ = wire.WithBuffer(alloc, 32, func(b *wire.Buffer) error {
			panic("boom")
		})
	})
	assert.Equal(t, 0, alloc.Outstanding(), "buffer must be released on the panic path")
}

func TestWithBufferReleasesOnError(t *testing.T) {
	alloc := wire.NewAllocator()
	wantErr := errors.New("downstream failure")

	err := wire.WithBuffer(alloc, 32, func(b *wire.Buffer) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, alloc.Outstanding())
}

// Every allocate is paired with exactly one release across randomized
// success, error, and panic paths, concurrently.
func TestAllocatorPairingProperty(t *testing.T) {
	alloc := wire.NewAllocator()
	const goroutines = 16
	const iterations = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < iterations; i++ {
				mode := rng.Intn(3)
				func() {
					defer func() { _ = recover() }()
					_ = wire.WithBuffer(alloc, 8+rng.Intn(120), func(b *wire.Buffer) error {
						payload := []byte(fmt.Sprintf("payload-%d", i))
						if err := b.Write(payload); err != nil {
							return err
						}
						switch mode {
						case 1:
							return errors.New("simulated failure")
						case 2:
							panic("simulated fault")
						}
						_, err := b.Bytes()
						return err
					})
				}()
			}
		}(int64(g))
	}
	wg.Wait()

	allocated, released := alloc.Counters()
	assert.Equal(t, allocated, released, "allocate/release counts must match")
	assert.Equal(t, 0, alloc.Outstanding())
}

func TestWriteReadResultRoundTrip(t *testing.T) {
	alloc := wire.NewAllocator()
	err := wire.WithBuffer(alloc, 4096, func(b *wire.Buffer) error {
		res := wire.NewResult(&mresponse.Response{StatusCode: 200, Body: []byte("ok"), URL: "https://e/x"})
		if err := wire.WriteResult(b, res); err != nil {
			return err
		}
		got, err := wire.ReadResult(b)
		if err != nil {
			return err
		}
		resp, structured := got.Unpack()
		require.Nil(t, structured)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, []byte("ok"), resp.Body)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, alloc.Outstanding())
}

func TestReadResultEmptyBufferIsDecodeError(t *testing.T) {
	alloc := wire.NewAllocator()
	err := wire.WithBuffer(alloc, 16, func(b *wire.Buffer) error {
		_, err := wire.ReadResult(b)
		return err
	})
	require.Error(t, err)
	assert.True(t, wire.IsDecodeError(err))
}
