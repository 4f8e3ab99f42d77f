package adminclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(srv.URL+"/", "", 5*time.Second, "hash-index", "secret", logger)
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	return c
}

// TestGetToken_CachesToken проверяет повторное использование действующего токена.
func TestGetToken_CachesToken(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/auth/token" {
			t.Errorf("path = %s, ожидался /auth/token", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "hash-index" {
			t.Errorf("форма = %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","expires_in":300}`)
	})

	for i := 0; i < 3; i++ {
		token, err := c.GetToken(context.Background())
		if err != nil {
			t.Fatalf("GetToken ошибка: %v", err)
		}
		if token != "tok-1" {
			t.Errorf("token = %q, ожидался tok-1", token)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("запросов к token endpoint = %d, ожидался 1", calls.Load())
	}
}

// TestGetToken_RefreshesExpired проверяет повторный запрос при коротком сроке жизни.
func TestGetToken_RefreshesExpired(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		// expires_in меньше запаса обновления: токен сразу считается истёкшим
		_, _ = io.WriteString(w, `{"access_token":"short","expires_in":10}`)
	})

	for i := 0; i < 2; i++ {
		if _, err := c.GetToken(context.Background()); err != nil {
			t.Fatalf("GetToken ошибка: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("запросов к token endpoint = %d, ожидалось 2", calls.Load())
	}
}

// TestGetToken_Errors проверяет обработку ошибочных ответов.
func TestGetToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_client"}`},
		{"пустой токен", http.StatusOK, `{"access_token":"","expires_in":300}`},
		{"невалидный JSON", http.StatusOK, `not-json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			if _, err := c.GetToken(context.Background()); err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}
