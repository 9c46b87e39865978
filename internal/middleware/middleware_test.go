package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]string

func (s stubValidator) ValidateJWT(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware(stubValidator{"good": "u1"})(echoUser())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer good", status: http.StatusOK, body: "u1"},
		{name: "lowercase scheme", header: "bearer good", status: http.StatusOK, body: "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestValidateWebSocketToken(t *testing.T) {
	_, err := ValidateWebSocketToken("", stubValidator{})
	assert.Error(t, err)

	id, err := ValidateWebSocketToken("good", stubValidator{"good": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestRateLimiter_PerKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(60, 2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token refills per second at 60/min")
}

func TestRateLimiter_ForgetsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(2 * time.Minute)
	l.Allow("b")
	assert.NotContains(t, l.visitors, "a")
}

func TestRateLimiter_SweepsAtIntervals(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l := NewRateLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	assert.Equal(t, start, l.lastSweep)

	now = start.Add(40 * time.Second)
	l.Allow("b")
	assert.Equal(t, now, l.lastSweep)
	assert.Contains(t, l.visitors, "a")

	// a is idle past the ttl, but the last sweep is too recent to run another
	now = start.Add(65 * time.Second)
	l.Allow("b")
	assert.Equal(t, start.Add(40*time.Second), l.lastSweep)
	assert.Contains(t, l.visitors, "a")

	now = start.Add(71 * time.Second)
	l.Allow("b")
	assert.Equal(t, now, l.lastSweep)
	assert.NotContains(t, l.visitors, "a")
	assert.Contains(t, l.visitors, "b")
}

func TestRateLimit_Middleware(t *testing.T) {
	l := NewRateLimiter(1, 1, time.Minute)
	handler := RateLimit(l)(echoUser())

	req := httptest.NewRequest(http.MethodPost, "/poll", nil)
	req = req.WithContext(WithUserID(req.Context(), "u1"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
