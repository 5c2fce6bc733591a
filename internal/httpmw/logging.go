// Package httpmw holds the gin middleware chain the server wires in front
// of every route: request logging, error recovery, tenant authentication,
// and per-caller rate limiting.
package httpmw

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/metahub/integrationhub/internal/telemetry"
)

// LoggingConfig holds the configuration for request logging.
type LoggingConfig struct {
	SkipPaths   []string
	LogBody     bool
	LogHeaders  bool
	MaxBodySize int
}

// DefaultLoggingConfig skips the paths that would otherwise dominate the
// log with health-check noise.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		SkipPaths:   []string{"/health", "/metrics"},
		LogBody:     false,
		LogHeaders:  true,
		MaxBodySize: 1024,
	}
}

// Logging logs every request/response pair with a correlation ID, carried
// through context.Context so downstream handlers and the Event Log share it.
func Logging(config *LoggingConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultLoggingConfig()
	}

	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = telemetry.NewCorrelationID()
		}
		c.Header("X-Correlation-ID", correlationID)

		ctx := telemetry.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		logger := telemetry.LogFromContext(ctx)

		requestFields := logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"query":     c.Request.URL.RawQuery,
			"remote_ip": c.ClientIP(),
		}
		if config.LogHeaders {
			headers := make(map[string]string)
			for name, values := range c.Request.Header {
				if name == "Authorization" || name == "Cookie" || name == "X-Api-Key" {
					headers[name] = "[REDACTED]"
				} else if len(values) > 0 {
					headers[name] = values[0]
				}
			}
			requestFields["headers"] = headers
		}
		if config.LogBody && c.Request.Body != nil {
			bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(config.MaxBodySize)))
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
				requestFields["body"] = string(bodyBytes)
			}
		}
		logger.WithFields(requestFields).Info("incoming request")

		c.Next()

		duration := time.Since(start)
		responseFields := logrus.Fields{
			"status":      c.Writer.Status(),
			"duration_ms": float64(duration.Nanoseconds()) / 1e6,
			"size":        c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			errs := make([]string, len(c.Errors))
			for i, e := range c.Errors {
				errs[i] = e.Error()
			}
			responseFields["errors"] = errs
		}

		logEntry := logger.WithFields(responseFields)
		switch {
		case c.Writer.Status() >= 500:
			logEntry.Error("request completed with server error")
		case c.Writer.Status() >= 400:
			logEntry.Warn("request completed with client error")
		case duration > 5*time.Second:
			logEntry.Warn("request completed (slow)")
		default:
			logEntry.Info("request completed")
		}
	}
}
