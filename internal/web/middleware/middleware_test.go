package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"k1", "k2"})(http.HandlerFunc(okHandler))

	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    int
	}{
		{"missing", "/api/imports", nil, http.StatusUnauthorized},
		{"header", "/api/imports", map[string]string{"X-API-Key": "k2"}, http.StatusOK},
		{"bearer", "/api/imports", map[string]string{"Authorization": "Bearer k1"}, http.StatusOK},
		{"wrong", "/api/imports", map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"basic auth ignored", "/api/imports", map[string]string{"Authorization": "Basic azE6"}, http.StatusUnauthorized},
		{"query on stream", "/api/imports/abc/progress?api_key=k1", nil, http.StatusOK},
		{"query elsewhere ignored", "/api/imports?api_key=k1", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth_NoKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when auth is disabled", rec.Code)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down"))
	})

	tests := []struct {
		name    string
		handler http.Handler
		target  string
		want    []string
	}{
		{"ok", http.HandlerFunc(okHandler), "/api/tables", []string{"level=INFO", "status=200", "bytes=2", "path=/api/tables"}},
		{"server error", failing, "/healthz", []string{"level=ERROR", "status=503", "bytes=4"}},
		{"stream", http.HandlerFunc(okHandler), "/api/imports/abc/progress", []string{"progress stream opened", "stream=true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			Logger(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
		})
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	w.WriteHeader(http.StatusAccepted)
	w.WriteHeader(http.StatusInternalServerError)
	w.Flush()

	if w.status != http.StatusAccepted || rec.Code != http.StatusAccepted {
		t.Errorf("status = %d/%d, want 202", w.status, rec.Code)
	}
	if !rec.Flushed {
		t.Error("Flush() should reach the underlying writer")
	}
	if w.Unwrap() != rec {
		t.Error("Unwrap() should return the wrapped writer")
	}
}
