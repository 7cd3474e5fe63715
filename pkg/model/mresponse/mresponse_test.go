package mresponse_test

import (
	"testing"

	"httpbridge/core/pkg/model/mresponse"

	"github.com/stretchr/testify/assert"
)

func TestIsSuccess(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{199, false},
		{200, true},
		{204, true},
		{299, true},
		{300, false},
		{404, false},
		{500, false},
	}
	for _, tt := range tests {
		resp := &mresponse.Response{StatusCode: tt.status}
		assert.Equal(t, tt.want, resp.IsSuccess(), "status %d", tt.status)
	}
}

func TestHeaderLookup(t *testing.T) {
	resp := &mresponse.Response{
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
	v, ok := resp.Header("CONTENT-TYPE")
	assert.True(t, ok)
	assert.Equal(t, "text/html; charset=utf-8", v)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType())
}

func TestBodyText(t *testing.T) {
	resp := &mresponse.Response{Body: []byte(`{"ok":true}`)}
	assert.Equal(t, `{"ok":true}`, resp.BodyText())
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &mresponse.Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       []byte("pristine"),
		URL:        "https://example.com",
	}

	cp := orig.Clone()
	cp.Body[0] = 'X'
	cp.Headers["Content-Type"] = "mangled"
	cp.StatusCode = 500

	assert.Equal(t, "pristine", orig.BodyText())
	assert.Equal(t, "text/plain", orig.ContentType())
	assert.Equal(t, 200, orig.StatusCode)
}
