package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddielth/vmstats-trans/fileutil"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

// String representation of log levels
var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[LogLevel]string{
	DEBUG: "\033[90m", // Gray
	INFO:  "\033[32m", // Green
	WARN:  "\033[33m", // Yellow
	ERROR: "\033[31m", // Red
}

const resetColor = "\033[0m"

// Logger writes leveled, timestamped lines to a date-prefixed log file and
// optionally mirrors them to a console writer.
type Logger struct {
	level       LogLevel
	file        *os.File
	console     io.Writer
	filePath    string
	maxSize     int64 // Unit: bytes
	maxBackups  int
	currentSize int64
	retry       fileutil.RetryPolicy
	mu          sync.Mutex
}

// LoggerConfig represents the configuration for the logger
type LoggerConfig struct {
	// Log level
	Level LogLevel
	// Directory the log file lives in. Empty disables the file.
	Dir string
	// Base name, the current day is prefixed and .log appended
	Name string
	// Maximum log file size in MB before rotation
	MaxSize int
	// Maximum number of rotated files, 0 keeps all
	MaxBackups int
	// Files older than this many days are removed on start, 0 keeps all
	RetentionDays int
	// Console receives a colored copy of every line when set
	Console io.Writer
	// Now is used for the file name and retention, defaults to time.Now
	Now func() time.Time
}

// DefaultConfig returns default logger configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:   INFO,
		Dir:     "./logs",
		Name:    "vmstats_trans",
		MaxSize: 50,
	}
}

// New creates a new logger
func New(config LoggerConfig) (*Logger, error) {
	l := &Logger{
		level:      config.Level,
		console:    config.Console,
		maxSize:    int64(config.MaxSize) * 1024 * 1024, // Convert to bytes
		maxBackups: config.MaxBackups,
		retry:      fileutil.LogRetry,
	}
	if config.Dir == "" {
		return l, nil
	}

	now := time.Now
	if config.Now != nil {
		now = config.Now
	}

	// Ensure log directory exists
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := config.Name
	if name == "" {
		name = DefaultConfig().Name
	}
	if _, err := fileutil.Prune(config.Dir, name, config.RetentionDays, now()); err != nil {
		return nil, fmt.Errorf("failed to prune old log files: %w", err)
	}

	l.filePath = filepath.Join(config.Dir, fileutil.DatePrefixed(name, ".log", now()))
	if err := l.open(); err != nil {
		return nil, err
	}

	return l, nil
}

// Path returns the current log file path, empty when logging to console only.
func (l *Logger) Path() string {
	return l.filePath
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) open() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to get log file info: %w", err)
	}

	l.file = file
	l.currentSize = info.Size()
	return nil
}

// log is the internal method for logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Check log level
	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
		line = 0
	}
	file = filepath.Base(file)

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	levelStr := levelNames[level]
	msg := fmt.Sprintf(format, args...)

	if l.console != nil {
		fmt.Fprintf(l.console, "%s [%s%s%s] %s:%d: %s\n", timestamp, levelColors[level], levelStr, resetColor, file, line, msg)
	}
	if l.filePath == "" {
		return
	}

	entry := fmt.Sprintf("%s [%s] %s:%d: %s\n", timestamp, levelStr, file, line, msg)
	err := fileutil.Retry(context.Background(), l.retry, func() error {
		if l.file == nil {
			if err := l.open(); err != nil {
				return err
			}
		}
		n, err := io.WriteString(l.file, entry)
		if err != nil {
			l.file.Close()
			l.file = nil
			return err
		}
		l.currentSize += int64(n)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log to %s: %v\n", l.filePath, err)
		return
	}

	// Check if log rotation is needed
	if l.maxSize > 0 && l.currentSize >= l.maxSize {
		l.rotate()
	}
}

// rotate moves the current file to the first free _N suffix and starts a new one
func (l *Logger) rotate() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	ext := filepath.Ext(l.filePath)
	stem := strings.TrimSuffix(l.filePath, ext)
	counter := 0
	for {
		if _, err := os.Stat(backupName(stem, ext, counter)); os.IsNotExist(err) {
			break
		}
		counter++
	}
	if err := os.Rename(l.filePath, backupName(stem, ext, counter)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
	}

	l.cleanOldLogs(stem, ext)

	if err := l.open(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create new log file: %v\n", err)
	}
}

func backupName(stem, ext string, n int) string {
	return stem + "_" + strconv.Itoa(n) + ext
}

// cleanOldLogs deletes the oldest rotated files beyond maxBackups
func (l *Logger) cleanOldLogs(stem, ext string) {
	if l.maxBackups <= 0 {
		return
	}

	matches, err := filepath.Glob(stem + "_*" + ext)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find old log files: %v\n", err)
		return
	}
	if len(matches) <= l.maxBackups {
		return
	}

	type fileInfo struct {
		path string
		time time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{match, info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].time.Before(files[j].time) })

	for i := 0; i < len(files)-l.maxBackups; i++ {
		os.Remove(files[i].path)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Close closes the logger
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
