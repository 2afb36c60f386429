package middleware

import (
	"net/http"

	apperrors "mirrorctl/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders errors attached by handlers as structured
// JSON keyed by the application error code. Client errors (4xx) log at info,
// server errors at error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			writeAppError(c, apperrors.NewInternalError("internal server error"))
			return
		}

		fields := []interface{}{
			"code", appErr.Code,
			"message", appErr.Message,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if len(appErr.Context) > 0 {
			fields = append(fields, "context", appErr.Context)
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
		} else {
			logger.Infow("request rejected", fields...)
		}

		writeAppError(c, appErr)
	}
}

// RecoveryMiddleware converts handler panics into 500 responses so one bad
// request cannot take the server down.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				writeAppError(c, apperrors.NewInternalError("internal server error"))
				c.Abort()
			}
		}()

		c.Next()
	}
}

func writeAppError(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.JSON(appErr.HTTPStatus, body)
}
