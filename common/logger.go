// Package common provides shared constants, types, and utilities
// used across the management client.
package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config value (debug, info, warn, error) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
	}
}

// AppLogger writes "time [LEVEL] file:line: msg" lines to stderr and,
// once EnableFileLogging succeeds, to a size-rotated file.
type AppLogger struct {
	mu      sync.Mutex
	level   LogLevel
	logger  *log.Logger
	console io.Writer
	file    *rotatingFile

	logDir      string
	maxFileSize int64
	maxBackups  int
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	Dir         string // defaults to ~/.config/ovpn-mgmt/logs
	MaxFileSize int64  // bytes before rotation, default 5MB
	MaxBackups  int    // compressed backups kept, default 5
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

const (
	defaultMaxFileSize = 5 * 1024 * 1024
	defaultMaxBackups  = 5
)

// GetLogger returns the process-wide logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = NewAppLogger(os.Stderr, LevelInfo)
	})
	return defaultLogger
}

// NewAppLogger creates a standalone logger writing to w.
func NewAppLogger(w io.Writer, level LogLevel) *AppLogger {
	return &AppLogger{
		level:       level,
		console:     w,
		logger:      log.New(w, "", 0),
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
	}
}

// InitLogger applies config to the process-wide logger.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)

	logger.mu.Lock()
	if config.MaxFileSize > 0 {
		logger.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		logger.maxBackups = config.MaxBackups
	}
	if config.Dir != "" {
		logger.logDir = config.Dir
	}
	logger.mu.Unlock()

	if !config.EnableFile {
		return nil
	}
	return logger.EnableFileLogging()
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput replaces the console writer. The log file is unaffected.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	l.rebuildLocked()
}

// DetachConsole stops writing to the console. The log file, when enabled,
// keeps receiving lines.
func (l *AppLogger) DetachConsole() {
	l.SetOutput(io.Discard)
}

func (l *AppLogger) rebuildLocked() {
	var w io.Writer = l.console
	if l.file != nil {
		w = io.MultiWriter(l.console, l.file)
	}
	l.logger = log.New(w, "", 0)
}

// EnableFileLogging adds the rotated log file under the log directory.
func (l *AppLogger) EnableFileLogging() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.logDir
	if dir == "" {
		if dir = GetLogDir(); dir == "" {
			return fmt.Errorf("cannot resolve log directory")
		}
	}

	f, err := openRotatingFile(filepath.Join(dir, LogFileName), l.maxFileSize, l.maxBackups)
	if err != nil {
		return err
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.rebuildLocked()
	return nil
}

// GetLogDir returns the default log directory.
func GetLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

// write formats and emits one log line. depth is the number of frames
// between the public API call and write.
func (l *AppLogger) write(depth int, level LogLevel, prefix, msg string, args ...interface{}) {
	l.mu.Lock()
	min := l.level
	l.mu.Unlock()
	if level < min {
		return
	}

	_, file, line, ok := runtime.Caller(depth)
	caller := "???"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	timestamp := time.Now().Format("2006/01/02 15:04:05")
	formattedMsg := msg
	if len(args) > 0 {
		formattedMsg = fmt.Sprintf(msg, args...)
	}
	if prefix != "" {
		formattedMsg = "[" + prefix + "] " + formattedMsg
	}

	logLine := fmt.Sprintf("%s [%s] %s: %s", timestamp, level.String(), caller, formattedMsg)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(logLine)
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.write(2, LevelDebug, "", msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.write(2, LevelInfo, "", msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.write(2, LevelWarn, "", msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.write(2, LevelError, "", msg, args...)
}

// Named returns a Logger that tags every message with component.
func (l *AppLogger) Named(component string) Logger {
	return &componentLogger{base: l, component: component}
}

type componentLogger struct {
	base      *AppLogger
	component string
}

func (c *componentLogger) Debug(msg string, args ...interface{}) {
	c.base.write(2, LevelDebug, c.component, msg, args...)
}

func (c *componentLogger) Info(msg string, args ...interface{}) {
	c.base.write(2, LevelInfo, c.component, msg, args...)
}

func (c *componentLogger) Warn(msg string, args ...interface{}) {
	c.base.write(2, LevelWarn, c.component, msg, args...)
}

func (c *componentLogger) Error(msg string, args ...interface{}) {
	c.base.write(2, LevelError, c.component, msg, args...)
}

// Named returns a component logger backed by the default logger.
func Named(component string) Logger {
	return GetLogger().Named(component)
}

// Shorthand functions for default logger.

// LogDebug logs a debug message to the default logger.
func LogDebug(msg string, args ...interface{}) {
	GetLogger().write(2, LevelDebug, "", msg, args...)
}

// LogInfo logs an info message to the default logger.
func LogInfo(msg string, args ...interface{}) {
	GetLogger().write(2, LevelInfo, "", msg, args...)
}

// LogWarn logs a warning message to the default logger.
func LogWarn(msg string, args ...interface{}) {
	GetLogger().write(2, LevelWarn, "", msg, args...)
}

// LogError logs an error message to the default logger.
func LogError(msg string, args ...interface{}) {
	GetLogger().write(2, LevelError, "", msg, args...)
}

// Close closes the log file. Console output continues.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.rebuildLocked()
	return err
}

// CloseLogger closes the default logger.
func CloseLogger() error {
	return GetLogger().Close()
}
