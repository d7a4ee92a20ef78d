package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/fraud-governance/fraud-governance/internal/config"
)

// The limiter is Redis-backed; unit tests exercise the fail-open path by
// pointing it at an address nothing listens on. Limit enforcement itself is
// redis_rate's contract and is covered by integration tests against a real
// Redis.

func TestRateLimit_FailsOpenWhenRedisUnreachable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
		RedisAddr:         "127.0.0.1:1", // nothing listens here
	}, logger)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Well past the configured burst; every request must still get through.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should fail open", i)
	}
}
