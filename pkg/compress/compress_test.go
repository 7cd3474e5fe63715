package compress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress(t *testing.T) {
	data := []byte("Hello, world! This is a test string to compress.")

	tests := []struct {
		name string
		algo Type
	}{
		{name: "Gzip", algo: TypeGzip},
		{name: "Zstd", algo: TypeZstd},
		{name: "Brotli", algo: TypeBr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(data, tt.algo)
			require.NoError(t, err)
			assert.NotEmpty(t, compressed)

			decompressed, err := Decompress(compressed, tt.algo)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestDecompressContentEncoding(t *testing.T) {
	data := []byte("Hello, Content-Encoding!")

	tests := []struct {
		name     string
		encoding string
		algo     Type
	}{
		{"gzip", "gzip", TypeGzip},
		{"zstd", "zstd", TypeZstd},
		{"br", "br", TypeBr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(data, tt.algo)
			require.NoError(t, err)

			decompressed, err := DecompressContentEncoding(compressed, tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestDecompressContentEncodingIdentity(t *testing.T) {
	data := []byte("plain")
	out, err := DecompressContentEncoding(data, "identity")
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressContentEncodingUnknown(t *testing.T) {
	_, err := DecompressContentEncoding([]byte("x"), "lzma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}
