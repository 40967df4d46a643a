package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the structured logger used process-wide. It writes
// JSON when running under a container orchestrator (KUBERNETES_SERVICE_HOST
// set) or when explicitly configured, and human-readable text otherwise.
type ProductionLogger struct {
	mu        sync.RWMutex
	level     string
	format    string
	service   string
	component string
	output    io.Writer
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// NewProductionLogger builds a logger for the named service. level is one
// of DEBUG/INFO/WARN/ERROR (case-insensitive); format is "json" or "text".
func NewProductionLogger(service, level, format string) *ProductionLogger {
	if level == "" {
		level = "INFO"
	}
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		}
	}
	return &ProductionLogger{
		level:   strings.ToUpper(level),
		format:  format,
		service: service,
		output:  os.Stdout,
	}
}

// SetOutput redirects log output; primarily used by tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// WithComponent returns a logger that tags every line with component,
// without mutating the receiver (so tiers sharing one base logger don't
// clobber each other's component tag).
func (l *ProductionLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ProductionLogger{
		level:     l.level,
		format:    l.format,
		service:   l.service,
		component: component,
		output:    l.output,
	}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) { l.log("ERROR", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) { l.log("DEBUG", msg, fields) }

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withTraceFields(ctx, fields))
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withTraceFields(ctx, fields))
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, withTraceFields(ctx, fields))
}
func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, withTraceFields(ctx, fields))
}

type traceIDKey struct{}

// ContextWithTraceID stashes a trace id for ...WithContext log calls to pick up.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	if traceID == "" {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["trace_id"] = traceID
	return merged
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if levelRank[level] < levelRank[l.level] {
		return
	}

	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"service":   l.service,
			"message":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	comp := l.component
	if comp == "" {
		comp = l.service
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s %s\n", ts, level, comp, msg, b.String())
}
