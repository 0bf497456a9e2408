package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/skyline-api/internal/metrics"
	"github.com/ksred/skyline-api/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Rule limits requests whose path starts with Prefix to PerMinute per client.
// A PerMinute of 0 leaves the prefix unlimited.
type Rule struct {
	Prefix    string
	PerMinute int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller and route. The caller is the
// authenticated client when JWTAuth ran earlier in the chain, otherwise the
// client IP, so mount it after JWTAuth on protected routes.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rules    []Rule
	idle     time.Duration
}

// NewRateLimiter creates a limiter. The first rule whose prefix matches wins;
// unmatched paths are not limited.
func NewRateLimiter(rules ...Rule) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rules:    rules,
		idle:     3 * time.Minute,
	}
}

func (rl *RateLimiter) limitFor(path string) rate.Limit {
	for _, r := range rl.rules {
		if strings.HasPrefix(path, r.Prefix) {
			if r.PerMinute <= 0 {
				return rate.Inf
			}
			return rate.Limit(float64(r.PerMinute) / 60.0)
		}
	}
	return rate.Inf
}

func (rl *RateLimiter) getLimiter(path, clientKey string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := clientKey + ":" + path
	v, exists := rl.visitors[key]
	if !exists {
		limit := rl.limitFor(path)
		burst := 1
		if limit != rate.Inf && limit > 1 {
			burst = int(limit)
		}
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops visitors idle for more than three minutes, once a minute,
// until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Handler returns the gin middleware
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !rl.getLimiter(path, clientID).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates HMAC-signed bearer tokens. Browsers cannot set headers on
// websocket upgrades, so an access_token query parameter is accepted too.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			response.Unauthorized(c, "Invalid token claims")
			c.Abort()
			return
		}

		// Ensure required claims exist
		for _, claim := range []string{"client_id", "exp"} {
			if _, exists := claims[claim]; !exists {
				response.Unauthorized(c, fmt.Sprintf("Missing required claim: %s", claim))
				c.Abort()
				return
			}
		}

		c.Set("claims", claims)
		if clientID, ok := claims["client_id"].(string); ok {
			c.Set("clientID", clientID)
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// RequestLogger logs each request with zerolog and records its latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).
			Observe(elapsed.Seconds())

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("component", "http").
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", elapsed).
			Str("client", c.GetString("clientID")).
			Msg("request")
	}
}
