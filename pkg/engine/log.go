package engine

import (
	"context"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"httpbridge/core/pkg/model/mrequest"
)

const logBodyLimit = 2048

func (e *HTTPEngine) logDispatch(ctx context.Context, execID string, req *mrequest.Request) {
	e.log.InfoContext(ctx, "dispatching HTTP request",
		"execution_id", execID,
		"method", req.Method,
		"url", req.URL,
		"priority", req.Priority,
		"headers", sanitizeHeadersForLog(req.Headers),
		"body", formatBodyForLog(req.BodyBytes()),
	)
}

func sanitizeHeadersForLog(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for key, value := range headers {
		if strings.EqualFold(key, "Authorization") {
			value = "[REDACTED]"
		}
		result[key] = value
	}
	return result
}

func formatBodyForLog(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		encoded := base64.StdEncoding.EncodeToString(body)
		if len(encoded) > logBodyLimit {
			return "[base64]" + encoded[:logBodyLimit] + "...(truncated)"
		}
		return "[base64]" + encoded
	}
	text := string(body)
	if len(text) > logBodyLimit {
		return text[:logBodyLimit] + "...(truncated)"
	}
	return text
}
