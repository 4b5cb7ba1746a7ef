package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		cfg    Config
		header string
		want   int
	}{
		{"disabled", Config{}, "", http.StatusNoContent},
		{"missing header", Config{Enabled: true, Token: "s3cret"}, "", http.StatusUnauthorized},
		{"wrong scheme", Config{Enabled: true, Token: "s3cret"}, "Basic s3cret", http.StatusUnauthorized},
		{"empty token", Config{Enabled: true, Token: "s3cret"}, "Bearer ", http.StatusUnauthorized},
		{"wrong token", Config{Enabled: true, Token: "s3cret"}, "Bearer nope", http.StatusUnauthorized},
		{"valid", Config{Enabled: true, Token: "s3cret"}, "Bearer s3cret", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Require(tt.cfg)(ok).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}
