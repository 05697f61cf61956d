package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"plural-api/internal/shared/contextkeys"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Constants for configuration
const (
	// Log levels
	logLevelDebug = "DEBUG"
	logLevelInfo  = "INFO"
	logLevelWarn  = "WARN"
	logLevelError = "ERROR"
	logLevelFatal = "FATAL"

	// Log formats
	logFormatJSON = "json"

	// Environment types
	envProduction = "production"
	envProd       = "prod"

	// Timestamp format
	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	textTimestamp   = "2006-01-02 15:04:05"
)

// Logger defines the interface for structured logging operations.
// Plain methods accept zap.Field values mixed with message parts; fields are
// attached to the entry instead of being printed.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// LogrusLogger implements the Logger interface using logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger instance with default configuration
func NewLogger() Logger {
	logger := logrus.New()

	logger.SetLevel(getLogLevel())
	logger.SetFormatter(getLogFormatter())
	logger.SetOutput(os.Stdout)

	return &LogrusLogger{
		entry: logrus.NewEntry(logger),
	}
}

// NewLoggerWithConfig creates a logger with custom configuration
func NewLoggerWithConfig(level string, format string) Logger {
	logger := logrus.New()

	if parsedLevel, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsedLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	switch format {
	case logFormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	logger.SetOutput(os.Stdout)

	return &LogrusLogger{
		entry: logrus.NewEntry(logger),
	}
}

// NewLoggerFromLogrus wraps an existing logrus logger. Tests use it to capture output.
func NewLoggerFromLogrus(l *logrus.Logger) Logger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// Debug logs a debug message
func (l *LogrusLogger) Debug(args ...interface{}) {
	entry, msg := l.split(args)
	entry.Debug(msg)
}

// Info logs an info message
func (l *LogrusLogger) Info(args ...interface{}) {
	entry, msg := l.split(args)
	entry.Info(msg)
}

// Warn logs a warning message
func (l *LogrusLogger) Warn(args ...interface{}) {
	entry, msg := l.split(args)
	entry.Warn(msg)
}

// Error logs an error message
func (l *LogrusLogger) Error(args ...interface{}) {
	entry, msg := l.split(args)
	entry.Error(msg)
}

// Fatal logs a fatal message and exits
func (l *LogrusLogger) Fatal(args ...interface{}) {
	entry, msg := l.split(args)
	entry.Fatal(msg)
}

// Debugf logs a formatted debug message
func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Infof logs a formatted info message
func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warnf logs a formatted warning message
func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Errorf logs a formatted error message
func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Fatalf logs a formatted fatal message and exits
func (l *LogrusLogger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

// WithFields adds structured fields to the logger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{
		entry: l.entry.WithFields(logrus.Fields(fields)),
	}
}

// WithContext adds context information to the logger using proper context keys
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	fields := logrus.Fields{}

	l.addContextField(ctx, contextkeys.UserIDKey, "user_id", fields)
	l.addContextField(ctx, contextkeys.ConnectionIDKey, "connection_id", fields)
	l.addContextField(ctx, contextkeys.CollectionKey, "collection", fields)
	l.addContextField(ctx, contextkeys.RequestIDKey, "request_id", fields)
	l.addContextField(ctx, contextkeys.ComponentKey, "component", fields)

	return &LogrusLogger{
		entry: l.entry.WithFields(fields),
	}
}

// addContextField extracts a value from context and adds it to fields if present
func (l *LogrusLogger) addContextField(ctx context.Context, key interface{}, fieldName string, fields logrus.Fields) {
	if val := ctx.Value(key); val != nil {
		if strVal, ok := val.(string); ok && strVal != "" {
			fields[fieldName] = strVal
		}
	}
}

// WithComponent adds component name to the logger
func (l *LogrusLogger) WithComponent(component string) Logger {
	return &LogrusLogger{
		entry: l.entry.WithField("component", component),
	}
}

// split separates zap fields from message parts. Message parts are joined
// with spaces; fields become logrus fields on the returned entry.
func (l *LogrusLogger) split(args []interface{}) (*logrus.Entry, string) {
	var enc *zapcore.MapObjectEncoder
	parts := make([]string, 0, len(args))

	for _, arg := range args {
		field, ok := arg.(zap.Field)
		if !ok {
			parts = append(parts, fmt.Sprint(arg))
			continue
		}
		if enc == nil {
			enc = zapcore.NewMapObjectEncoder()
		}
		field.AddTo(enc)
	}

	if enc == nil {
		return l.entry, strings.Join(parts, " ")
	}
	return l.entry.WithFields(logrus.Fields(enc.Fields)), strings.Join(parts, " ")
}

// getLogLevel determines the log level from environment
func getLogLevel() logrus.Level {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case logLevelDebug, "debug":
		return logrus.DebugLevel
	case logLevelInfo, "info":
		return logrus.InfoLevel
	case logLevelWarn, "warn", "WARNING", "warning":
		return logrus.WarnLevel
	case logLevelError, "error":
		return logrus.ErrorLevel
	case logLevelFatal, "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// getLogFormatter determines the log formatter from environment
func getLogFormatter() logrus.Formatter {
	env := os.Getenv("ENVIRONMENT")
	format := os.Getenv("LOG_FORMAT")

	if format == logFormatJSON || env == envProduction || env == envProd {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}

	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: textTimestamp,
		ForceColors:     true,
	}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(args ...interface{})                  {}
func (nopLogger) Info(args ...interface{})                   {}
func (nopLogger) Warn(args ...interface{})                   {}
func (nopLogger) Error(args ...interface{})                  {}
func (nopLogger) Fatal(args ...interface{})                  {}
func (nopLogger) Debugf(format string, args ...interface{})  {}
func (nopLogger) Infof(format string, args ...interface{})   {}
func (nopLogger) Warnf(format string, args ...interface{})   {}
func (nopLogger) Errorf(format string, args ...interface{})  {}
func (nopLogger) Fatalf(format string, args ...interface{})  {}
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }
func (n nopLogger) WithContext(context.Context) Logger       { return n }
func (n nopLogger) WithComponent(string) Logger              { return n }
