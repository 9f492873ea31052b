// Package logger emits structured JSON log lines for process-level events
// (startup, shutdown, dependency failures). Workers keep using stdlib log
// with a [Component] prefix for their operational chatter; this package is
// for the entries an operator greps or ships to a collector.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level orders log severities. Entries below the configured level drop.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	minLvl           = LevelInfo
	redact           = true
)

// SetLevel sets the minimum severity that gets written.
func SetLevel(l Level) {
	mu.Lock()
	minLvl = l
	mu.Unlock()
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetRedactPII toggles address masking in field values.
func SetRedactPII(on bool) {
	mu.Lock()
	redact = on
	mu.Unlock()
}

// Debug writes a debug entry with alternating key, value fields.
func Debug(msg string, fields ...interface{}) { write(LevelDebug, msg, fields) }

// Info writes an info entry with alternating key, value fields.
func Info(msg string, fields ...interface{}) { write(LevelInfo, msg, fields) }

// Warn writes a warn entry with alternating key, value fields.
func Warn(msg string, fields ...interface{}) { write(LevelWarn, msg, fields) }

// Error writes an error entry with alternating key, value fields.
func Error(msg string, fields ...interface{}) { write(LevelError, msg, fields) }

func write(lvl Level, msg string, fields []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl < minLvl {
		return
	}

	entry := map[string]string{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": lvl.String(),
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		k := fmt.Sprintf("%v", fields[i])
		v := fmt.Sprintf("%v", fields[i+1])
		if redact {
			v = maskValue(k, v)
		}
		entry[k] = v
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(out, `{"level":"error","msg":"log marshal failed: %v"}`+"\n", err)
		return
	}
	fmt.Fprintln(out, string(line))
}

var addrPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// maskValue redacts recipient addresses. Ids (contact_id, job_id) stay
// loggable; only address-bearing keys are masked outright, and embedded
// addresses in free-form values are masked in place.
func maskValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "email") || strings.Contains(k, "recipient") || strings.Contains(k, "address") {
		return RedactEmail(val)
	}
	return addrPattern.ReplaceAllStringFunc(val, RedactEmail)
}
