package logger

import (
	"fmt"
	"io"
	"strings"
)

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{level: ERROR + 1}
}

// NewConsole returns a file-less logger writing to w.
func NewConsole(w io.Writer, level LogLevel) *Logger {
	return &Logger{level: level, console: w}
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}
