// Package logging provides the structured logger used by bulkgc.
//
// Every line carries the command id of the bulk run that produced it (when
// there is one) and the HTTP request id of the API call that triggered it,
// so a single command can be followed from submission to completion.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

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
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the output format for log messages.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat converts a string to a Format. Unknown values map to FormatJSON.
func ParseFormat(s string) Format {
	if s == "text" {
		return FormatText
	}
	return FormatJSON
}

// Entry is a single log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	CommandID string         `json:"commandId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Config holds configuration for a Logger.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddCaller  bool
	CallerSkip int
}

// sink is shared by a logger and every logger derived from it, so writes
// from different derived loggers never interleave within a line.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger writes structured entries. Derived loggers (With, WithCommandID,
// ...) are cheap copies; the zero-allocation path is a filtered level.
type Logger struct {
	sink       *sink
	level      Level
	format     Format
	addCaller  bool
	callerSkip int

	component string
	commandID string
	requestID string
	fields    map[string]any
}

// New creates a Logger.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		sink:       &sink{out: out},
		level:      cfg.Level,
		format:     cfg.Format,
		addCaller:  cfg.AddCaller,
		callerSkip: cfg.CallerSkip,
	}
}

// DefaultLogger returns an info-level JSON logger on stderr.
func DefaultLogger() *Logger {
	return New(Config{Level: LevelInfo, Format: FormatJSON})
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

// Level returns the minimum level this logger emits.
func (l *Logger) Level() Level {
	return l.level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) clone() *Logger {
	c := *l
	if len(l.fields) > 0 {
		c.fields = make(map[string]any, len(l.fields))
		for k, v := range l.fields {
			c.fields[k] = v
		}
	}
	return &c
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	c := l.clone()
	if c.fields == nil {
		c.fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

// Named returns a logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithCommandID returns a logger bound to a bulk command.
func (l *Logger) WithCommandID(id string) *Logger {
	c := l.clone()
	c.commandID = id
	return c
}

// WithRequestID returns a logger bound to an API request.
func (l *Logger) WithRequestID(id string) *Logger {
	c := l.clone()
	c.requestID = id
	return c
}

func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, msg, nil) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarn, msg, nil) }
func (l *Logger) Error(msg string) { l.log(LevelError, msg, nil) }

// Debugf logs a debug message with fields.
func (l *Logger) Debugf(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }

// Infof logs an info message with fields.
func (l *Logger) Infof(msg string, fields map[string]any) { l.log(LevelInfo, msg, fields) }

// Warnf logs a warning message with fields.
func (l *Logger) Warnf(msg string, fields map[string]any) { l.log(LevelWarn, msg, fields) }

// Errorf logs an error message with fields.
func (l *Logger) Errorf(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra map[string]any) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
		CommandID: l.commandID,
		RequestID: l.requestID,
	}

	if l.addCaller {
		if _, file, line, ok := runtime.Caller(2 + l.callerSkip); ok {
			entry.Caller = file + ":" + strconv.Itoa(line)
		}
	}

	if len(l.fields) > 0 || len(extra) > 0 {
		entry.Fields = make(map[string]any, len(l.fields)+len(extra))
		for k, v := range l.fields {
			entry.Fields[k] = v
		}
		for k, v := range extra {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			entry.Fields[k] = v
		}
	}

	var data []byte
	if l.format == FormatText {
		data = formatText(entry)
	} else {
		data, _ = json.Marshal(entry)
		data = append(data, '\n')
	}

	l.sink.mu.Lock()
	_, _ = l.sink.out.Write(data)
	l.sink.mu.Unlock()
}

func formatText(e Entry) []byte {
	buf := make([]byte, 0, 256)
	buf = e.Timestamp.AppendFormat(buf, time.RFC3339)
	buf = append(buf, " ["...)
	buf = append(buf, e.Level...)
	buf = append(buf, "] "...)
	if e.Component != "" {
		buf = append(buf, e.Component...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, e.Message...)

	if e.CommandID != "" {
		buf = append(buf, " commandId="...)
		buf = append(buf, e.CommandID...)
	}
	if e.RequestID != "" {
		buf = append(buf, " requestId="...)
		buf = append(buf, e.RequestID...)
	}
	if e.Caller != "" {
		buf = append(buf, " caller="...)
		buf = append(buf, e.Caller...)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, ' ')
		buf = append(buf, k...)
		buf = append(buf, '=')
		switch val := e.Fields[k].(type) {
		case string:
			buf = append(buf, val...)
		default:
			data, _ := json.Marshal(val)
			buf = append(buf, data...)
		}
	}
	buf = append(buf, '\n')
	return buf
}
