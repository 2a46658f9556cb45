package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusClass(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   string
	}{
		{status: 101, want: "1xx"},
		{status: 200, want: "2xx"},
		{status: 302, want: "3xx"},
		{status: 404, want: "4xx"},
		{status: 503, want: "5xx"},
	}
	for _, tc := range cases {
		if got := statusClass(tc.status); got != tc.want {
			t.Errorf("statusClass(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestWithRequestLoggingPassthrough(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
	if got := rr.Body.String(); got != "short and stout" {
		t.Fatalf("body = %q", got)
	}
}

func TestLoggingResponseWriterPreservesHijacker(t *testing.T) {
	t.Parallel()

	// WebSocket upgrades need http.Hijacker to survive the wrapper.
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	var w http.ResponseWriter = lrw
	if _, ok := w.(http.Hijacker); !ok {
		t.Fatal("wrapper does not expose Hijack")
	}
	if _, ok := w.(http.Flusher); !ok {
		t.Fatal("wrapper does not expose Flush")
	}
	if _, ok := w.(io.ReaderFrom); !ok {
		t.Fatal("wrapper does not expose ReadFrom")
	}
}
