package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func protectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("clientID"))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	r := protectedRouter()
	valid := signed(t, jwt.MapClaims{"client_id": "alice", "exp": time.Now().Add(time.Hour).Unix()}, secret)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + valid, "", http.StatusOK},
		{"query token", "", "?access_token=" + valid, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed header", "Token", "", http.StatusUnauthorized},
		{"wrong key", "Bearer " + signed(t, jwt.MapClaims{"client_id": "a", "exp": time.Now().Add(time.Hour).Unix()}, []byte("other")), "", http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, jwt.MapClaims{"client_id": "a", "exp": time.Now().Add(-time.Hour).Unix()}, secret), "", http.StatusUnauthorized},
		{"missing client", "Bearer " + signed(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, secret), "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(Rule{Prefix: "/api/v1/auth", PerMinute: 1}, Rule{Prefix: "/api/v1/labs", PerMinute: 0})
	r := gin.New()
	r.Use(rl.Handler())
	r.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/labs/sessions", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(method, path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit(http.MethodPost, "/api/v1/auth/token"))
	assert.Equal(t, http.StatusTooManyRequests, hit(http.MethodPost, "/api/v1/auth/token"))
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, hit(http.MethodGet, "/api/v1/labs/sessions"))
	}

	assert.Equal(t, 0, rl.sweep(time.Now()))
	assert.Equal(t, 2, rl.sweep(time.Now().Add(4*time.Minute)))
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRateLimiterKeysByAuthenticatedClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(Rule{Prefix: "/api/v1/labs", PerMinute: 1})
	r := gin.New()
	r.GET("/api/v1/labs/sessions", JWTAuth(secret), rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	token := func(client string) string {
		return signed(t, jwt.MapClaims{"client_id": client, "exp": time.Now().Add(time.Hour).Unix()}, secret)
	}
	hit := func(tok string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/labs/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	alice, bob := token("alice"), token("bob")
	// both callers share the test recorder's IP
	assert.Equal(t, http.StatusOK, hit(alice))
	assert.Equal(t, http.StatusTooManyRequests, hit(alice))
	assert.Equal(t, http.StatusOK, hit(bob))
}
