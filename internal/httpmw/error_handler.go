package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/telemetry"
)

// Recovery turns a panic into a 500 AppError response instead of killing
// the server, mirroring the teacher's panic-to-AppError conversion.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.Request.Context()
				correlationID := telemetry.GetCorrelationID(ctx)
				stackTrace := string(debug.Stack())

				telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
					"operation":   "panic_recovery",
					"panic_value": fmt.Sprintf("%v", r),
					"stack_trace": stackTrace,
				}).Error("panic recovered in request handler")

				err := apperrors.NewAppError(apperrors.ErrorTypeFatal, "PANIC",
					fmt.Sprintf("internal error: %v", r)).WithCorrelationID(correlationID)
				writeError(c, err)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// ErrorHandler converts the last gin.Error attached to the context (via
// c.Error(err)) into the JSON error envelope, logging at a level that
// matches the AppError's type.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		appErr := toAppError(err, telemetry.GetCorrelationID(c.Request.Context()))
		logError(c, appErr)
		if !c.Writer.Written() {
			writeError(c, appErr)
		}
	}
}

// Fail is the helper handlers call to report an error: it attaches the
// error to the gin context so ErrorHandler writes the response.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

func toAppError(err error, correlationID string) *apperrors.AppError {
	if appErr, ok := err.(*apperrors.AppError); ok {
		if appErr.CorrelationID == "" {
			appErr = appErr.WithCorrelationID(correlationID)
		}
		return appErr
	}
	return apperrors.NewAppErrorWithCause(apperrors.ErrorTypeTransient, "INTERNAL_ERROR",
		"an unexpected error occurred", err).WithCorrelationID(correlationID)
}

func logError(c *gin.Context, appErr *apperrors.AppError) {
	logger := telemetry.GetContextualLogger(c.Request.Context()).WithFields(map[string]interface{}{
		"operation":  "http_error",
		"error_type": string(appErr.Type),
		"error_code": appErr.Code,
		"path":       c.Request.URL.Path,
	})
	for k, v := range appErr.Metadata {
		logger = logger.WithField(k, v)
	}
	switch appErr.Type {
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeAuth:
		logger.Warn(appErr.Message)
	case apperrors.ErrorTypeNotFound, apperrors.ErrorTypeConflict:
		logger.Info(appErr.Message)
	default:
		logger.Error(appErr.Message)
	}
}

func writeError(c *gin.Context, appErr *apperrors.AppError) {
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":           appErr.Code,
			"message":        appErr.Message,
			"correlation_id": appErr.CorrelationID,
		},
	})
}
