// Package compress handles transfer decoding of response bodies. The engine
// negotiates gzip, zstd and brotli explicitly (transparent decompression on
// the transport is disabled) so that the decompress flag on a request stays
// authoritative.
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

type Type int8

const (
	TypeNone Type = 0
	TypeGzip Type = 1
	TypeZstd Type = 2
	TypeBr   Type = 3
)

// AcceptEncoding is the value the engine sends when a request opts into
// response decompression.
const AcceptEncoding = "gzip, zstd, br"

var encodingLookup = map[string]Type{
	"":         TypeNone,
	"identity": TypeNone,
	"gzip":     TypeGzip,
	"zstd":     TypeZstd,
	"br":       TypeBr,
}

// TypeForContentEncoding maps a Content-Encoding token to a Type.
func TypeForContentEncoding(token string) (Type, bool) {
	t, ok := encodingLookup[token]
	return t, ok
}

var (
	gzipWriterPool = sync.Pool{
		New: func() any {
			return gzip.NewWriter(io.Discard)
		},
	}
	brotliWriterPool = sync.Pool{
		New: func() any {
			return brotli.NewWriter(io.Discard)
		},
	}
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func Compress(data []byte, compressType Type) ([]byte, error) {
	var buf bytes.Buffer
	switch compressType {
	case TypeGzip:
		z := gzipWriterPool.Get().(*gzip.Writer)
		defer gzipWriterPool.Put(z)

		z.Reset(&buf)
		if _, err := z.Write(data); err != nil {
			return nil, err
		}
		if err := z.Close(); err != nil {
			return nil, err
		}
	case TypeZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case TypeBr:
		w := brotliWriterPool.Get().(*brotli.Writer)
		defer brotliWriterPool.Put(w)

		w.Reset(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case TypeNone:
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %v", compressType)
	}
	return buf.Bytes(), nil
}

func Decompress(data []byte, compressType Type) ([]byte, error) {
	switch compressType {
	case TypeGzip:
		z, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = z.Close() }()
		return io.ReadAll(z)
	case TypeZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case TypeBr:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case TypeNone:
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %v", compressType)
	}
}

// DecompressContentEncoding decodes data according to a Content-Encoding
// response header token.
func DecompressContentEncoding(data []byte, contentEncoding string) ([]byte, error) {
	compressType, ok := TypeForContentEncoding(contentEncoding)
	if !ok {
		return nil, fmt.Errorf("%s encoding not supported", contentEncoding)
	}
	return Decompress(data, compressType)
}
