package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"uow/config"
	"uow/coordinator"
	"uow/infrastructure/persistence"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	phase, err := parsePhase("before_transaction")
	require.NoError(t, err)
	assert.Equal(t, coordinator.PhaseBeforeTransaction, phase)

	phase, err = parsePhase("after_success")
	require.NoError(t, err)
	assert.Equal(t, coordinator.PhaseAfterSuccess, phase)

	phase, err = parsePhase("after_failure")
	require.NoError(t, err)
	assert.Equal(t, coordinator.PhaseAfterFailure, phase)

	_, err = parsePhase("during")
	require.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		seen = persistence.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	// Caller-provided id is propagated to context and echoed back.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", seen)
	assert.Equal(t, "req-abc", w.Header().Get(RequestIDHeader))

	// Missing id gets generated.
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimitMiddleware(config.RateLimitConfig{Enabled: true, Rate: 0, Burst: 1}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Burst exhausted, zero refill rate.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCommitReply(t *testing.T) {
	staged := fmt.Errorf("unknown operation kind %q", "merge")
	status, _ := commitReply(nil, staged)
	assert.Equal(t, http.StatusBadRequest, status)

	// A transaction that fails at its own COMMIT rolled back everything
	// the attempt reported as written; the staged response must not
	// reach the caller as a success.
	commitErr := fmt.Errorf("Error 1213: Deadlock found when trying to get lock")
	status, _ = commitReply(&CommitResponse{Successful: true, Records: map[string]string{"a": "id-1"}}, commitErr)
	assert.Equal(t, http.StatusInternalServerError, status)

	status, body := commitReply(&CommitResponse{Successful: false, Errors: []string{"row failed"}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, &CommitResponse{Successful: false, Errors: []string{"row failed"}}, body)

	status, _ = commitReply(&CommitResponse{Successful: true}, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCommitRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHandler(nil, &config.Config{})
	r := gin.New()
	r.POST("/v1/commits", h.Commit)

	req := httptest.NewRequest(http.MethodPost, "/v1/commits", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
