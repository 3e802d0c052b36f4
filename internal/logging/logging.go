// Package logging provides the structured logger used across the storefront.
//
// Every component owns a named logger created with NewLoggerV2. Calls take a
// message and an optional Fields map:
//
//	logger.Info("Order created", logging.Fields{"order_id": id})
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields carries structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Configure sets the global level and output format. Format "json" selects
// the JSON formatter, anything else the text formatter.
func Configure(level, format string) {
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		base.SetLevel(lvl)
	}
	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetOutput redirects all loggers. Tests use it to silence output.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// LoggerV2 is a named structured logger.
type LoggerV2 struct {
	entry *logrus.Entry
}

// NewLoggerV2 creates a logger that stamps every entry with the service name.
func NewLoggerV2(service string) *LoggerV2 {
	return &LoggerV2{entry: base.WithField("service", service)}
}

// WithFields returns a child logger carrying the given fields.
func (l *LoggerV2) WithFields(fields Fields) *LoggerV2 {
	return &LoggerV2{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *LoggerV2) with(fields []Fields) *logrus.Entry {
	e := l.entry
	for _, f := range fields {
		e = e.WithFields(logrus.Fields(f))
	}
	return e
}

func (l *LoggerV2) Debug(msg string, fields ...Fields) { l.with(fields).Debug(msg) }
func (l *LoggerV2) Info(msg string, fields ...Fields)  { l.with(fields).Info(msg) }
func (l *LoggerV2) Warn(msg string, fields ...Fields)  { l.with(fields).Warn(msg) }
func (l *LoggerV2) Error(msg string, fields ...Fields) { l.with(fields).Error(msg) }
func (l *LoggerV2) Fatal(msg string, fields ...Fields) { l.with(fields).Fatal(msg) }

// Info logs through the root logger.
func Info(msg string, fields ...Fields) {
	e := logrus.NewEntry(base)
	for _, f := range fields {
		e = e.WithFields(logrus.Fields(f))
	}
	e.Info(msg)
}

// Infof logs a formatted message through the root logger.
func Infof(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warnf logs a formatted warning through the root logger.
func Warnf(format string, args ...interface{}) {
	base.Warnf(format, args...)
}
