package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "mirrorctl/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newErrorRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	return router
}

func TestErrorHandler_RendersAppError(t *testing.T) {
	router := newErrorRouter()
	router.GET("/boom", func(c *gin.Context) {
		c.Error(apperrors.NewNotFoundError("session").WithContext("device_id", "dev-1"))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Error   string                 `json:"error"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeNotFound), body.Error)
	assert.Equal(t, "session not found", body.Message)
	assert.Equal(t, "dev-1", body.Details["device_id"])
}

func TestErrorHandler_WrapsUnknownErrorsAsInternal(t *testing.T) {
	router := newErrorRouter()
	router.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeInternal), body.Error)
	// The raw error text must not leak to the client.
	assert.NotContains(t, body.Message, "disk on fire")
}

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	router := newErrorRouter()
	router.GET("/panic", func(c *gin.Context) {
		panic("encode overflow")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/panic", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
