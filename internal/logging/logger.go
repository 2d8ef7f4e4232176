// Package logging provides structured logging for the alarms engine.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for a per-record-batch trace ID
	TraceIDKey ContextKey = "trace_id"
	// AlarmIDKey is the context key for the alarm a log line concerns
	AlarmIDKey ContextKey = "alarm_id"
	// ConditionKey is the context key for the condition name
	ConditionKey ContextKey = "condition_name"
	// ComponentKey is the context key for the component name
	ComponentKey ContextKey = "component"
)

// Logger wraps logrus.Logger with alarms-domain structured helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
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

	return &Logger{
		Logger:    logger,
		component: component,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment variables.
// Defaults to "info" and "json" when unset.
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

// WithComponent returns a logger scoped to a sub-component name, sharing
// the underlying logrus.Logger (and therefore its level/output/formatter).
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if alarmID := ctx.Value(AlarmIDKey); alarmID != nil {
		entry = entry.WithField("alarm_id", alarmID)
	}
	if condition := ctx.Value(ConditionKey); condition != nil {
		entry = entry.WithField("condition_name", condition)
	}

	return entry
}

// WithTraceID creates a new logger entry with trace ID
func (l *Logger) WithTraceID(traceID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"trace_id":  traceID,
	})
}

// WithAlarm creates a new logger entry scoped to one alarm
func (l *Logger) WithAlarm(alarmID, alarmName string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component":  l.component,
		"alarm_id":   alarmID,
		"alarm_name": alarmName,
	})
}

// WithFields creates a new logger entry with custom fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry with error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// SetOutput sets the logger output
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Context helper functions

// NewTraceID generates a new trace ID, one per record-batch dispatch.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithAlarmID adds an alarm ID to the context
func WithAlarmID(ctx context.Context, alarmID string) context.Context {
	return context.WithValue(ctx, AlarmIDKey, alarmID)
}

// GetAlarmID retrieves the alarm ID from context
func GetAlarmID(ctx context.Context) string {
	if alarmID, ok := ctx.Value(AlarmIDKey).(string); ok {
		return alarmID
	}
	return ""
}

// WithCondition adds a condition name to the context
func WithCondition(ctx context.Context, condition string) context.Context {
	return context.WithValue(ctx, ConditionKey, condition)
}

// GetCondition retrieves the condition name from context
func GetCondition(ctx context.Context) string {
	if condition, ok := ctx.Value(ConditionKey).(string); ok {
		return condition
	}
	return ""
}

// Structured logging helpers for the alarms domain

// LogAlarmTransition logs a state transition of an alarm (on/off/ack).
func (l *Logger) LogAlarmTransition(ctx context.Context, alarmName, condition, from, to, reason string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"alarm_name": alarmName,
		"condition":  condition,
		"from_state": from,
		"to_state":   to,
		"reason":     reason,
	}).Info("alarm state transition")
}

// LogActionOutcome logs the completion of an action instance.
func (l *Logger) LogActionOutcome(ctx context.Context, actionType, alarmName string, success bool, lastError string, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"action_type": actionType,
		"alarm_name":  alarmName,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	})
	if success {
		entry.Info("action complete")
	} else {
		entry.WithField("last_error", lastError).Warn("action failed")
	}
}

// LogSmtpOutcome logs the terminal outcome of one SmtpSender run.
func (l *Logger) LogSmtpOutcome(ctx context.Context, outcome, peer string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"smtp_outcome": outcome,
		"peer":         peer,
	})
	if err != nil {
		entry.WithError(err).Warn("smtp outcome")
	} else {
		entry.Info("smtp outcome")
	}
}

// LogConfigError logs one accumulated configuration error encountered
// while loading the alarms XML document.
func (l *Logger) LogConfigError(ctx context.Context, path string, err error) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"config_path": path,
	}).WithError(err).Warn("config error")
}

// LogEvalError logs an expression evaluation failure, which is recorded
// on the owning alarm's last_error but must never propagate.
func (l *Logger) LogEvalError(ctx context.Context, alarmName, expr string, err error) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"alarm_name": alarmName,
		"expression": expr,
	}).WithError(err).Warn("expression evaluation error")
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(ctx context.Context, message string, err error) {
	l.WithContext(ctx).WithError(err).Fatal(message)
}

// Panic logs a panic and panics
func (l *Logger) Panic(ctx context.Context, message string, err error) {
	l.WithContext(ctx).WithError(err).Panic(message)
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	if l.Logger.Level >= logrus.DebugLevel {
		l.WithContext(ctx).WithFields(fields).Debug(message)
	}
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

// Global logger instance (initialized once at process startup)
var defaultLogger *Logger

// InitDefault initializes the default logger
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the default logger
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("alarms-engine", "info", "json")
	}
	return defaultLogger
}

// InfoDefault logs an info message using the default logger
func InfoDefault(ctx context.Context, message string) {
	Default().WithContext(ctx).Info(message)
}

// ErrorDefault logs an error message using the default logger
func ErrorDefault(ctx context.Context, message string, err error) {
	Default().WithContext(ctx).WithError(err).Error(message)
}

// WarnDefault logs a warning message using the default logger
func WarnDefault(ctx context.Context, message string) {
	Default().WithContext(ctx).Warn(message)
}

// DebugDefault logs a debug message using the default logger
func DebugDefault(ctx context.Context, message string) {
	Default().WithContext(ctx).Debug(message)
}

// FormatDuration formats a duration in milliseconds for log messages.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
