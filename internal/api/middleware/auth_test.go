package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authedHandler(token string) http.Handler {
	return InternalAuth(token)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestInternalAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"valid token", "secret", "Bearer secret", http.StatusOK},
		{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"malformed header", "secret", "Basic secret", http.StatusUnauthorized},
		{"no token configured", "", "Bearer anything", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/failed", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			authedHandler(tt.configured).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
