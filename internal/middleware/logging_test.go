package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLoggingRouter(buf *bytes.Buffer, status int) *gin.Engine {
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.GET("/things/:id", func(c *gin.Context) { c.Status(status) })
	return r
}

func TestRequestLogger_LogsMethodPathStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggingRouter(&buf, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/things/42", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	assert.Contains(t, out, `"method":"GET"`)
	assert.Contains(t, out, `"path":"/things/42"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"level":"INFO"`)
}

func TestRequestLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggingRouter(&buf, http.StatusInternalServerError)

	req := httptest.NewRequest(http.MethodGet, "/things/1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestRequestLogger_ClientErrorsLogAtWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggingRouter(&buf, http.StatusNotFound)

	req := httptest.NewRequest(http.MethodGet, "/things/1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Contains(t, buf.String(), `"level":"WARN"`)
}
