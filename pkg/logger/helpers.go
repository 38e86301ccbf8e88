package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs one remote API call
func LogRequest(l Logger, endpoint string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"endpoint":    endpoint,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		l.DebugWithFields("API request completed", fields)
	case statusCode >= 500:
		l.ErrorWithFields("API request server error", fields)
	default:
		l.WarnWithFields("API request client error", fields)
	}
}

// LogRateWait logs a pause imposed by the rate gate
func LogRateWait(l Logger, class string, wait time.Duration) {
	if wait <= 0 {
		return
	}
	l.DebugWithFields("Waiting for rate gate", map[string]interface{}{
		"class": class,
		"wait":  wait,
	})
}

// LogSentinel logs an item that was marked as permanently unavailable
func LogSentinel(l Logger, job, id, sentinel string) {
	l.WarnWithFields("Item marked with sentinel", map[string]interface{}{
		"job":      job,
		"id":       id,
		"sentinel": sentinel,
	})
}

// LogJobProgress logs periodic progress of a crawl job
func LogJobProgress(l Logger, job string, processed, line int64, cursor string) {
	l.InfoWithFields("Crawl progress", map[string]interface{}{
		"job":       job,
		"processed": processed,
		"line":      line,
		"cursor":    cursor,
	})
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, settings map[string]interface{}) {
	l.WithField("component", component).InfoWithFields("Component started", settings)
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.InfoWithFields("Component stopped", map[string]interface{}{
		"component": component,
		"reason":    reason,
	})
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
