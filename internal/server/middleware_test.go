package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingMiddleware_KeepsFlusher(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	var flusherOK bool
	var controllerErr error
	h := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flusherOK = w.(http.Flusher)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("data: x\n\n"))
		controllerErr = http.NewResponseController(w).Flush()
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/stream", nil))

	if !flusherOK {
		t.Error("wrapped writer does not implement http.Flusher")
	}
	if controllerErr != nil {
		t.Errorf("ResponseController.Flush: %v", controllerErr)
	}
	if !w.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if !strings.Contains(logs.String(), "status=202") {
		t.Errorf("log = %q, want status=202", logs.String())
	}
}

func TestLoggingMiddleware_DefaultStatus(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	h := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(logs.String(), "status=200") || !strings.Contains(logs.String(), "bytes=2") {
		t.Errorf("log = %q, want status=200 bytes=2", logs.String())
	}
}
