// Package logger is the process-wide logrus setup. Warn and Error calls
// through an Entry are counted per component for the runtime report.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]interface{}

type Log struct {
	*logrus.Logger
}

// Entry is a logrus entry whose Warn and Error calls are counted against
// the entry's component.
type Entry struct {
	*logrus.Entry
}

const rotateMaxSizeMB = 100

var process = Logger()

// Logger returns a fresh logger at LOG_LEVEL (info when unset).
func Logger() *Log {
	base := logrus.New()
	base.SetReportCaller(true)
	base.SetFormatter(jsonFormatter())
	base.AddHook(callerHook{})
	lvl, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	return &Log{Logger: base}
}

func GetLogger() *Log { return process }

// Discard returns a logger that writes nowhere.
func Discard() *Log {
	l := Logger()
	l.SetOutput(io.Discard)
	return l
}

// parseLevel accepts logrus level names plus "report", which logs at info
// and additionally turns on the periodic report. Empty means info.
func parseLevel(s string) (logrus.Level, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "", "report":
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level '%s'", s)
	}
	return lvl, nil
}

func shortCaller(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat:  time.RFC3339Nano,
		CallerPrettyfier: shortCaller,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

func formatterFor(format string) (logrus.Formatter, error) {
	switch format {
	case "", "json":
		return jsonFormatter(), nil
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: shortCaller,
		}, nil
	}
	return nil, fmt.Errorf("invalid log format '%s'", format)
}

// outputFor maps stdout, stderr or a file path to a writer. Files rotate
// when maxAgeDays is positive.
func outputFor(output string, maxAgeDays int) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if maxAgeDays > 0 {
		return &lumberjack.Logger{
			Filename: output,
			MaxAge:   maxAgeDays,
			MaxSize:  rotateMaxSizeMB,
			Compress: true,
		}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file '%s': %w", output, err)
	}
	return f, nil
}

// Configure applies the logging section of the config. A non-empty
// LOG_LEVEL wins over level. Nothing is changed when any value is invalid.
func (l *Log) Configure(level, format, output string, maxAgeDays int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	formatter, err := formatterFor(format)
	if err != nil {
		return err
	}
	w, err := outputFor(output, maxAgeDays)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	l.SetFormatter(formatter)
	l.SetOutput(w)
	l.SetReportCaller(true)
	return nil
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return e.WithField("component", component)
}

// WithVenue tags the entry with the venue it concerns.
func (e *Entry) WithVenue(venue string) *Entry {
	return e.WithField("venue", venue)
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{e.Entry.WithField(key, value)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{e.Entry.WithError(err)}
}

func (e *Entry) component() (string, bool) {
	c, ok := e.Data["component"].(string)
	return c, ok
}

func (e *Entry) Warn(args ...interface{}) {
	if c, ok := e.component(); ok {
		recordWarn(c)
	}
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	if c, ok := e.component(); ok {
		recordError(c)
	}
	e.Entry.Error(args...)
}
