// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps logrus so the rest of the code base logs through a small printf-style API.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var defaultLogger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}

// Init initializes the default logger with the specified level and format.
// Unknown levels fall back to info; any format other than "text" is JSON.
func Init(level string, format string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	defaultLogger.SetLevel(lvl)

	if strings.ToLower(format) == "text" {
		defaultLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		defaultLogger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// WithField returns an entry carrying a structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return defaultLogger.WithField(key, value)
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

// Fatal logs a message at FatalLevel and exits
func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}
