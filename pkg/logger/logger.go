// Package logger provides the leveled, component-tagged logger used across
// meshclaw. Output goes to stderr and, when configured, to a rotating-free
// append-only log file.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	mu       sync.Mutex
	level    = INFO
	logFile  *os.File
	timeFunc = time.Now
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetLogFile opens path for appending and mirrors all log lines into it.
func SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	return nil
}

func emit(l Level, component, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	line := fmt.Sprintf("%s [%s] [%s] %s",
		timeFunc().Format("2006-01-02 15:04:05"), l, component, msg)
	if len(fields) > 0 {
		line += " " + formatFields(fields)
	}

	fmt.Fprintln(os.Stderr, line)
	if logFile != nil {
		fmt.Fprintln(logFile, line)
	}
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		switch val := v.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s=%s", k, val))
		case error:
			parts = append(parts, fmt.Sprintf("%s=%s", k, val.Error()))
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, raw))
		}
	}
	return strings.Join(parts, " ")
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { emit(DEBUG, component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]any) { emit(DEBUG, component, msg, fields) }

// InfoC logs an info message for a component.
func InfoC(component, msg string) { emit(INFO, component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]any) { emit(INFO, component, msg, fields) }

// WarnC logs a warning for a component.
func WarnC(component, msg string) { emit(WARN, component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]any) { emit(WARN, component, msg, fields) }

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { emit(ERROR, component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]any) { emit(ERROR, component, msg, fields) }
