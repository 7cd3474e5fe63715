// Package wire is the framing layer between dispatch callers and the engine.
// Requests and results cross the boundary either as self-describing JSON
// messages or serialized into explicitly-owned buffers (see buffer.go).
// Field names are fixed for compatibility and must not change.
package wire

import (
	"errors"

	"httpbridge/core/pkg/httperr"
	"httpbridge/core/pkg/model/mrequest"
	"httpbridge/core/pkg/model/mresponse"

	"github.com/goccy/go-json"
)

// WireError is the serialized form of a structured error. The presence of an
// "error" field in a result is the marker the receiving side branches on.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Result is the envelope returned for one executed request: either the
// response fields or an error object, never both.
type Result struct {
	StatusCode       int               `json:"status_code,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	Version          string            `json:"version,omitempty"`
	URL              string            `json:"url,omitempty"`
	ElapsedMs        int64             `json:"elapsed_ms,omitempty"`
	ParsedData       any               `json:"parsedData,omitempty"`
	CacheHit         bool              `json:"cache_hit,omitempty"`
	CompressionSaved int64             `json:"compression_saved,omitempty"`

	Error *WireError `json:"error,omitempty"`
}

// NewResult wraps a successful response.
func NewResult(resp *mresponse.Response) Result {
	return Result{
		StatusCode:       resp.StatusCode,
		Headers:          resp.Headers,
		Body:             string(resp.Body),
		Version:          resp.Version,
		URL:              resp.URL,
		ElapsedMs:        resp.ElapsedMs,
		ParsedData:       resp.ParsedData,
		CacheHit:         resp.CacheHit,
		CompressionSaved: resp.CompressionSaved,
	}
}

// NewErrorResult wraps a failure. Arbitrary errors are classified first.
func NewErrorResult(err error) Result {
	mapped := httperr.Map(err)
	if mapped == nil {
		mapped = httperr.New(httperr.CodeUnknown, "unknown failure", nil)
	}
	return Result{Error: &WireError{
		Code:    string(mapped.Code),
		Message: mapped.Error(),
		Details: mapped.Details,
	}}
}

// IsError reports whether the envelope carries an error marker.
func (r Result) IsError() bool { return r.Error != nil }

// Unpack splits the envelope into a response or a structured error.
func (r Result) Unpack() (*mresponse.Response, *httperr.Error) {
	if r.Error != nil {
		return nil, &httperr.Error{
			Code:    httperr.Code(r.Error.Code),
			Message: r.Error.Message,
			Details: r.Error.Details,
		}
	}
	return &mresponse.Response{
		StatusCode:       r.StatusCode,
		Headers:          r.Headers,
		Body:             []byte(r.Body),
		Version:          r.Version,
		URL:              r.URL,
		ElapsedMs:        r.ElapsedMs,
		ParsedData:       r.ParsedData,
		CacheHit:         r.CacheHit,
		CompressionSaved: r.CompressionSaved,
	}, nil
}

func EncodeRequest(req *mrequest.Request) ([]byte, error) {
	return json.Marshal(req)
}

func DecodeRequest(data []byte) (*mrequest.Request, error) {
	if len(data) == 0 {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "empty request payload", nil)
	}
	var req mrequest.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "malformed request payload", err)
	}
	return &req, nil
}

func EncodeBatch(reqs []*mrequest.Request) ([]byte, error) {
	return json.Marshal(reqs)
}

func DecodeBatch(data []byte) ([]*mrequest.Request, error) {
	if len(data) == 0 {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "empty batch payload", nil)
	}
	var reqs []*mrequest.Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "malformed batch payload", err)
	}
	for i, r := range reqs {
		if r == nil {
			return nil, httperr.Newf(httperr.CodeTransportDecodeError, "batch element %d is null", i)
		}
	}
	return reqs, nil
}

func EncodeResult(res Result) ([]byte, error) {
	return json.Marshal(res)
}

func DecodeResult(data []byte) (Result, error) {
	var res Result
	if len(data) == 0 {
		return res, httperr.New(httperr.CodeTransportDecodeError, "empty result payload", nil)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, httperr.New(httperr.CodeTransportDecodeError, "malformed result payload", err)
	}
	return res, nil
}

// EncodeResults serializes a batch result list; positional order is the
// contract, so the list is encoded as a JSON array.
func EncodeResults(results []Result) ([]byte, error) {
	return json.Marshal(results)
}

func DecodeResults(data []byte) ([]Result, error) {
	if len(data) == 0 {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "empty results payload", nil)
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, httperr.New(httperr.CodeTransportDecodeError, "malformed results payload", err)
	}
	return results, nil
}

// IsDecodeError reports whether err is a transport framing failure as opposed
// to an engine-reported error.
func IsDecodeError(err error) bool {
	var e *httperr.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == httperr.CodeTransportDecodeError
}
