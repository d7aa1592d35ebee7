package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddlewareKeepsValidCallerID(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "  trace-7f3a  ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "trace-7f3a" || rec.Header().Get(requestIDHeader) != "trace-7f3a" {
		t.Fatalf("expected caller id to be kept, context=%q header=%q", seen, rec.Header().Get(requestIDHeader))
	}
}

func TestRequestIDMiddlewareReplacesUnsafeCallerID(t *testing.T) {
	cases := []string{
		"",
		"two words",
		"lineébreak",
		strings.Repeat("a", maxRequestIDLength+1),
	}
	for _, incoming := range cases {
		var seen string
		handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(requestIDHeader, incoming)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen == "" || seen == strings.TrimSpace(incoming) {
			t.Fatalf("expected generated id for %q, got %q", incoming, seen)
		}
	}
}

func TestStatusRecorderCountsBytesAndStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)
	n, err := rec.Write([]byte("short and stout"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.statusCode != http.StatusTeapot || rec.bytesWritten != n {
		t.Fatalf("unexpected recorder state: status=%d bytes=%d", rec.statusCode, rec.bytesWritten)
	}
}
