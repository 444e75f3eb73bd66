// Package logging provides leveled, key/value logging for agentstack. Each
// run, request and store operation logs through a Logger carrying context
// fields such as the task id and agent id.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Level is the severity of a log line.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	// LevelWarn covers failures a run survives: one agent, one score write.
	LevelWarn
	// LevelError covers failures that abort a run or a request.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a config value such as "info" or "WARN" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger writes lines of the form "LEVEL: msg | k=v ...", keys sorted.
// Derived loggers share the parent's level and output; their fields are
// copies.
type Logger struct {
	level  *atomic.Int32
	out    *log.Logger
	fields map[string]any
}

var defaultLogger = NewWithWriter(os.Stderr, LevelInfo)

// NewWithWriter creates a Logger writing timestamped lines to w.
func NewWithWriter(w io.Writer, level Level) *Logger {
	return newLogger(w, level, log.LstdFlags)
}

func newLogger(w io.Writer, level Level, flags int) *Logger {
	l := &Logger{level: new(atomic.Int32), out: log.New(w, "", flags)}
	l.level.Store(int32(level))
	return l
}

// Default returns the process-wide logger used when no Logger is injected.
func Default() *Logger {
	return defaultLogger
}

// SetLevel changes the minimum level for l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *Logger) With(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, out: l.out, fields: merged}
}

func (l *Logger) Debug(msg string, kv ...any) { l.write(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.write(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.write(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.write(LevelError, msg, kv) }

func (l *Logger) write(level Level, msg string, kv []any) {
	if int32(level) < l.level.Load() {
		return
	}

	fields := l.fields
	if len(kv) > 1 {
		fields = make(map[string]any, len(l.fields)+len(kv)/2)
		for k, v := range l.fields {
			fields[k] = v
		}
		// A trailing key without a value is dropped, as are non-string keys.
		for i := 0; i+1 < len(kv); i += 2 {
			if key, ok := kv[i].(string); ok {
				fields[key] = kv[i+1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(level.String())
	sb.WriteString(": ")
	sb.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%s", k, formatValue(fields[k]))
		}
	}
	l.out.Print(sb.String())
}

// formatValue quotes strings that would break key=value parsing.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, " \t\n\"=") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		return fmt.Sprintf("%q", val.Error())
	case fmt.Stringer:
		return formatValue(val.String())
	default:
		return fmt.Sprint(v)
	}
}
