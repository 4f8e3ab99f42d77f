package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	const id = "7b0e3a52-5f3c-4c1e-9a43-2f1d6f3b9a10"

	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/events", "/api/v1/events"},
		{"/api/v1/files/" + id, "/api/v1/files/{id}"},
		{"/api/v1/files/not-a-uuid", "/api/v1/files/{id}"},
		{"/api/v1/files/" + id + "/sha1/recalculate", "/api/v1/files/{id}/sha1/recalculate"},
		{"/api/v1/files/" + id + "/download", "other"},
		{"/api/v1/files/", "other"},
		{"/random/" + id, "other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидался %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files", http.NoBody))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}

	rw := newMetricsResponseWriter(httptest.NewRecorder())
	if rw.statusCode != http.StatusOK {
		t.Errorf("статус по умолчанию = %d", rw.statusCode)
	}
	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d", rw.statusCode)
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		header    string
		wantLevel string
		wantLog   bool
	}{
		{"успешный API запрос", "/api/v1/files", http.StatusOK, "req-1", "INFO", true},
		{"клиентская ошибка", "/api/v1/files", http.StatusBadRequest, "", "WARN", true},
		{"серверная ошибка", "/api/v1/events", http.StatusInternalServerError, "", "ERROR", true},
		{"health на DEBUG скрыт", "/health/live", http.StatusOK, "", "", false},
		{"неуспешный health", "/health/ready", http.StatusServiceUnavailable, "", "ERROR", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.header != "" {
				req.Header.Set("X-Request-Id", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			if !tt.wantLog {
				if out != "" {
					t.Errorf("ожидалось отсутствие записи, получено: %s", out)
				}
				return
			}
			if !strings.Contains(out, "level="+tt.wantLevel) {
				t.Errorf("ожидался уровень %s: %s", tt.wantLevel, out)
			}
			if !strings.Contains(out, "bytes=4") {
				t.Errorf("размер ответа не записан: %s", out)
			}
			if tt.header != "" && !strings.Contains(out, "request_id="+tt.header) {
				t.Errorf("request_id не записан: %s", out)
			}
		})
	}
}
