// Package logger provides the process-wide logrus logger for restime.
//
// Reports go to stdout, so log output defaults to stderr to keep the two apart.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/restime/pkg/types"
)

var (
	log            *logrus.Logger
	mu             sync.RWMutex
	currentLogFile io.Closer
)

func init() {
	log = logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
}

// Initialize replaces the global logger. It may be called more than once;
// a previously opened log file is flushed and closed.
//   - level: debug, info, warn or error
//   - format: json or text
//   - output: stdout, stderr or file
//   - outputFile: path used when output is "file"
func Initialize(level, format, output, outputFile string) error {
	mu.Lock()
	defer mu.Unlock()

	if currentLogFile != nil {
		if err := currentLogFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close previous log file: %v\n", err)
		}
		currentLogFile = nil
	}

	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", format)
	}

	switch output {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if outputFile == "" {
			return fmt.Errorf("logFile must be specified when logOutput is 'file'")
		}
		file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", outputFile, err)
		}
		w := &bufferedFileWriter{Writer: bufio.NewWriterSize(file, 64*1024), file: file}
		currentLogFile = w
		l.SetOutput(w)
	default:
		return fmt.Errorf("invalid log output %q: must be stdout, stderr, or file", output)
	}

	log = l
	return nil
}

// InitializeFromSettings configures the logger from the settings section of
// the configuration file.
func InitializeFromSettings(s types.GlobalSettings) error {
	return Initialize(s.LogLevel, s.LogFormat, s.LogOutput, s.LogFile)
}

// bufferedFileWriter flushes before closing the file.
type bufferedFileWriter struct {
	*bufio.Writer
	file *os.File
}

func (w *bufferedFileWriter) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	return w.file.Close()
}

// Get returns the global logger.
func Get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetOutput redirects the global logger (tests use this to capture output).
func SetOutput(w io.Writer) {
	Get().SetOutput(w)
}

// ForRun returns an entry tagged with a run ID and the node the run targets.
// Every log line of a restart or scan session carries these fields.
func ForRun(runID, node string) *logrus.Entry {
	fields := logrus.Fields{"run_id": runID}
	if node != "" {
		fields["node"] = node
	}
	return Get().WithFields(fields)
}

// WithFields returns an entry with structured fields:
//
//	logger.WithFields(logrus.Fields{
//	    "kind":    "warm",
//	    "attempt": 2,
//	}).Info("Restart started")
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

// WithField returns an entry with a single structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Get().WithField(key, value)
}

// WithError returns an entry with an error field.
func WithError(err error) *logrus.Entry {
	return Get().WithError(err)
}

// Debugf logs at level Debug.
func Debugf(format string, args ...interface{}) {
	Get().Debugf(format, args...)
}

// Infof logs at level Info.
func Infof(format string, args ...interface{}) {
	Get().Infof(format, args...)
}

// Warnf logs at level Warn.
func Warnf(format string, args ...interface{}) {
	Get().Warnf(format, args...)
}

// Errorf logs at level Error.
func Errorf(format string, args ...interface{}) {
	Get().Errorf(format, args...)
}

// SetLevel sets the log level.
func SetLevel(level logrus.Level) {
	Get().SetLevel(level)
}

// GetLevel returns the current log level.
func GetLevel() logrus.Level {
	return Get().GetLevel()
}

// Close flushes and closes the log file, if any. Safe to call more than once.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if currentLogFile != nil {
		err := currentLogFile.Close()
		currentLogFile = nil
		return err
	}
	return nil
}

// Flush writes any buffered log data.
func Flush() error {
	mu.RLock()
	defer mu.RUnlock()

	if flusher, ok := log.Out.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
