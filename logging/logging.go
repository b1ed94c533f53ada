// Package logging provides real-time console output for heartbeat activity.
// Lines are written as: LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// ParseLevel converts a case-insensitive level name. Unknown names yield INFO
// and ok=false.
func ParseLevel(s string) (Level, bool) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if lvl == "WARNING" {
		lvl = LevelWarn
	}
	if _, ok := levelPriority[lvl]; !ok {
		return LevelInfo, false
	}
	return lvl, true
}

// WithComponent returns a new logger with the given component name.
// The derived logger shares the parent's output lock.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Heartbeat event helpers ---

// CheckupSent logs an outbound health check probe.
func (l *Logger) CheckupSent(seq uint64, timestamp int64, latency int64) {
	l.Debug("checkup_sent", map[string]interface{}{
		"seq":        seq,
		"timestamp":  timestamp,
		"latency_ms": latency,
	})
}

// CheckupAcked logs a processed acknowledgement.
func (l *Logger) CheckupAcked(seq uint64, rtt int64, next time.Duration) {
	l.Debug("checkup_acked", map[string]interface{}{
		"seq":    seq,
		"rtt_ms": rtt,
		"next":   next.String(),
	})
}

// LatencyChanged logs a latency transition.
func (l *Logger) LatencyChanged(previous, current int64) {
	l.Info("latency_changed", map[string]interface{}{
		"from_ms": previous,
		"to_ms":   current,
	})
}

// StaleAck logs an acknowledgement that was ignored. err carries the
// STALE_ACK code and the reason.
func (l *Logger) StaleAck(timestamp int64, err error) {
	l.Debug("stale_ack", map[string]interface{}{
		"timestamp": timestamp,
		"code":      errors.Code(err),
		"reason":    err.Error(),
	})
}

// AckTimeout logs a probe that was abandoned for lack of an acknowledgement.
func (l *Logger) AckTimeout(seq uint64, waited, retryIn time.Duration) {
	l.Warn("ack_timeout", map[string]interface{}{
		"seq":      seq,
		"waited":   waited.String(),
		"retry_in": retryIn.String(),
	})
}

// ConnState logs a connection lifecycle transition.
func (l *Logger) ConnState(state string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["state"] = state
	l.Info("conn_state", fields)
}
