package wire_test

import (
	"errors"
	"testing"

	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"
	"httpbridge/core/pkg/wire"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireFieldNames(t *testing.T) {
	req := mrequest.New("GET", "https://example.com/a")
	req.QueryParams = map[string]string{"q": "1"}

	data, err := wire.EncodeRequest(req)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	// The wire names are a compatibility contract; renaming any of these
	// breaks existing native callers.
	for _, want := range []string{
		"url", "method", "query_params", "timeout_ms", "follow_redirects",
		"max_redirects", "connect_timeout_ms", "read_timeout_ms",
		"write_timeout_ms", "auto_referer", "decompress", "http3_only",
		"parse_response", "priority",
	} {
		assert.Contains(t, fields, want)
	}
}

func TestResultErrorMarker(t *testing.T) {
	ok := wire.NewResult(&mresponse.Response{StatusCode: 404, Body: []byte(`{"error":"not found"}`)})
	assert.False(t, ok.IsError(), "non-2xx status is a response, not an error")

	failed := wire.NewErrorResult(httperr.New(httperr.CodeTimeout, "request timed out", nil))
	assert.True(t, failed.IsError())

	data, err := wire.EncodeResult(failed)
	require.NoError(t, err)
	decoded, err := wire.DecodeResult(data)
	require.NoError(t, err)
	require.True(t, decoded.IsError())

	_, structured := decoded.Unpack()
	require.NotNil(t, structured)
	assert.Equal(t, httperr.CodeTimeout, structured.Code)
}

func TestResultUnpackResponse(t *testing.T) {
	resp := &mresponse.Response{
		StatusCode: 201,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"id":7}`),
		Version:    "HTTP/1.1",
		URL:        "https://example.com/items",
		ElapsedMs:  12,
	}
	data, err := wire.EncodeResult(wire.NewResult(resp))
	require.NoError(t, err)

	decoded, err := wire.DecodeResult(data)
	require.NoError(t, err)
	got, structured := decoded.Unpack()
	require.Nil(t, structured)
	assert.Equal(t, resp.StatusCode, got.StatusCode)
	assert.Equal(t, resp.Body, got.Body)
	assert.Equal(t, resp.URL, got.URL)
	assert.Equal(t, resp.Version, got.Version)
	assert.True(t, got.ElapsedMs >= 12)
}

func TestDecodeRequestMalformed(t *testing.T) {
	_, err := wire.DecodeRequest([]byte(`{"url": 12`))
	require.Error(t, err)
	assert.True(t, wire.IsDecodeError(err))

	_, err = wire.DecodeRequest(nil)
	require.Error(t, err)
	assert.True(t, wire.IsDecodeError(err))
}

func TestDecodeBatchRejectsNullElements(t *testing.T) {
	_, err := wire.DecodeBatch([]byte(`[{"url":"https://a","method":"GET"}, null]`))
	require.Error(t, err)
	assert.True(t, wire.IsDecodeError(err))
}

func TestBatchOrderPreserved(t *testing.T) {
	reqs := []*mrequest.Request{
		mrequest.New("GET", "https://example.com/1"),
		mrequest.New("POST", "https://example.com/2"),
		mrequest.New("DELETE", "https://example.com/3"),
	}
	data, err := wire.EncodeBatch(reqs)
	require.NoError(t, err)

	decoded, err := wire.DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i := range reqs {
		assert.Equal(t, reqs[i].URL, decoded[i].URL)
		assert.Equal(t, reqs[i].Method, decoded[i].Method)
	}
}

func TestIsDecodeErrorDistinguishesEngineErrors(t *testing.T) {
	assert.False(t, wire.IsDecodeError(httperr.New(httperr.CodeNetworkError, "", nil)))
	assert.False(t, wire.IsDecodeError(errors.New("plain")))
	assert.True(t, wire.IsDecodeError(httperr.New(httperr.CodeTransportDecodeError, "", nil)))
}
