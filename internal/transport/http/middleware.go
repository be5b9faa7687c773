package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type requestMetrics struct {
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

func newRequestMetrics() (*requestMetrics, error) {
	meter := otel.Meter("meetbook/backend/internal/transport/http")
	count, err := meter.Int64Counter("http.server.request.count", metric.WithDescription("Number of HTTP requests"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &requestMetrics{count: count, duration: duration}, nil
}

// requestLogger logs and measures every request and turns panics into a 500
// envelope.
func requestLogger(log *slog.Logger, metrics *requestMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("panic serving request",
					slog.Any("panic", recovered),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
				)
				fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
			}

			elapsed := time.Since(start)
			status := c.Writer.Status()
			if metrics != nil {
				attrs := metric.WithAttributes(
					attribute.String("http.method", c.Request.Method),
					attribute.String("http.route", c.FullPath()),
					attribute.Int("http.status_code", status),
				)
				metrics.count.Add(c.Request.Context(), 1, attrs)
				metrics.duration.Record(c.Request.Context(), float64(elapsed.Milliseconds()), attrs)
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.Log(c.Request.Context(), level, "http request",
				slog.String("method", c.Request.Method),
				slog.String("route", c.FullPath()),
				slog.Int("status", status),
				slog.Duration("latency", elapsed),
				slog.String("client_ip", c.ClientIP()),
			)
		}()

		c.Next()
	}
}
