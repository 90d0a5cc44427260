// Package logging provides structured logging with trace ID support.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for a cycle's trace ID.
	TraceIDKey ContextKey = "trace_id"
	// ComponentKey is the context key for the reporting component name.
	ComponentKey ContextKey = "component"
)

// Logger wraps logrus.Logger with pipeline-specific helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance for the named component.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.ToLower(format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext creates an entry carrying the component name and trace ID, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithFields creates an entry with custom fields plus the component name.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates an entry carrying an error plus the component name.
// The error text is passed through Redact first, since it may embed an
// upstream response that echoed a request header or query string.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     Redact(err.Error()),
	})
}

// SetOutput redirects the logger's output (used by tests).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// WithTraceID adds a cycle trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the cycle trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// LogCycleStart logs the beginning of an orchestrator cycle.
func (l *Logger) LogCycleStart(ctx context.Context, cycleID string) {
	l.WithContext(ctx).WithField("cycle_id", cycleID).Info("cycle started")
}

// LogCycleComplete logs the end of a successful orchestrator cycle.
func (l *Logger) LogCycleComplete(ctx context.Context, cycleID string, duration time.Duration, entities, events int) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"cycle_id":    cycleID,
		"duration_ms": duration.Milliseconds(),
		"entities":    entities,
		"events":      events,
	}).Info("cycle complete")
}

// LogStageError logs a per-stage failure with its classification.
func (l *Logger) LogStageError(ctx context.Context, stage string, err error, kind string) {
	fields := logrus.Fields{
		"stage":    stage,
		"err_kind": kind,
	}
	if err != nil {
		fields[logrus.ErrorKey] = Redact(err.Error())
	}
	l.WithContext(ctx).WithFields(fields).Warn("stage failed")
}

// LogCircuitTransition logs a circuit breaker state change.
func (l *Logger) LogCircuitTransition(name string, from, to string) {
	l.WithFields(map[string]interface{}{
		"breaker": name,
		"from":    from,
		"to":      to,
	}).Warn("circuit breaker state changed")
}
