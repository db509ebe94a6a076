package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Format selects how log lines are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures Init.
type Options struct {
	Enabled bool
	Level   string
	File    string
	Console bool
	Format  string
}

// Logger is a basic logger wrapper.
type Logger struct {
	level   Level
	format  Format
	logger  *log.Logger
	closer  io.Closer
	enabled bool
}

type jsonLine struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"msg"`
}

var (
	mu           sync.RWMutex
	globalLogger *Logger
)

// Init initializes the logger.
func Init(opts Options) error {
	if !opts.Enabled {
		swap(&Logger{enabled: false})
		return nil
	}

	var writers []io.Writer
	var closer io.Closer

	if opts.File != "" {
		dir := filepath.Dir(opts.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	if opts.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	swap(&Logger{
		level:   parseLevel(opts.Level),
		format:  parseFormat(opts.Format),
		logger:  log.New(io.MultiWriter(writers...), "", 0),
		closer:  closer,
		enabled: true,
	})
	return nil
}

// InitWriter routes log output to w. Used by tests and embedded sessions.
func InitWriter(w io.Writer, levelStr, formatStr string) {
	swap(&Logger{
		level:   parseLevel(levelStr),
		format:  parseFormat(formatStr),
		logger:  log.New(w, "", 0),
		enabled: true,
	})
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil || globalLogger.closer == nil {
		return nil
	}
	err := globalLogger.closer.Close()
	globalLogger.closer = nil
	return err
}

func swap(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil && globalLogger.closer != nil {
		_ = globalLogger.closer.Close()
	}
	globalLogger = l
}

func parseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func parseFormat(formatStr string) Format {
	if strings.EqualFold(formatStr, string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

func levelName(level Level) string {
	switch level {
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

func formatMessage(format Format, level Level, msgFormat string, args ...interface{}) string {
	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(msgFormat, args...)
	if format == FormatJSON {
		out, err := sonic.MarshalString(jsonLine{Timestamp: ts, Level: levelName(level), Message: msg})
		if err == nil {
			return out
		}
	}
	return fmt.Sprintf("[%s] [%s] %s", ts, levelName(level), msg)
}

func emit(level Level, format string, args ...interface{}) {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l == nil || !l.enabled || l.level > level {
		return
	}
	l.logger.Println(formatMessage(l.format, level, format, args...))
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	emit(Debug, format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	emit(Info, format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	emit(Warn, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	emit(Error, format, args...)
}
