package sse

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

// LevelTrace is a custom log level for detailed HTTP traffic.
const LevelTrace = slog.Level(-8)

// NewLoggingTransport wraps base so that requests and responses are dumped
// when the default logger is enabled at LevelTrace. Streaming bodies are
// never read by the dump.
func NewLoggingTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base}
}

type loggingTransport struct {
	base http.RoundTripper
}

var redactedHeaders = []string{"Authorization", "X-Api-Key", "X-Goog-Api-Key"}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	dumpReq := req.Clone(req.Context())
	for _, h := range redactedHeaders {
		if dumpReq.Header.Get(h) != "" {
			dumpReq.Header.Set(h, "REDACTED")
		}
	}
	reqDump, err := httputil.DumpRequestOut(dumpReq, false)
	if err != nil {
		slog.Debug("Failed to dump provider request", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Provider request", "url", req.URL.String(), "dump", string(reqDump))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump provider response", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Provider response", "isStream", isStream, "dump", string(respDump))
	}
	return resp, nil
}
