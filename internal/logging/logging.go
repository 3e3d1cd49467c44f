// Package logging provides the structured logger used across the runtime.
package logging

import (
	"encoding/json"
	"log"
	"time"
)

// Logger is a simple structured logger interface.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// StdLogger implements Logger using the standard log package with JSON output.
type StdLogger struct{}

func (l *StdLogger) Info(msg string, fields map[string]interface{}) {
	l.emit("info", msg, fields)
}

func (l *StdLogger) Warn(msg string, fields map[string]interface{}) {
	l.emit("warn", msg, fields)
}

func (l *StdLogger) Error(msg string, fields map[string]interface{}) {
	l.emit("error", msg, fields)
}

func (l *StdLogger) emit(level, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["level"] = level
	fields["msg"] = msg
	fields["ts"] = time.Now().Format(time.RFC3339)
	b, _ := json.Marshal(fields)
	log.Println(string(b))
}

// Nop discards everything. Used in tests.
type Nop struct{}

func (Nop) Info(msg string, fields map[string]interface{})  {}
func (Nop) Warn(msg string, fields map[string]interface{})  {}
func (Nop) Error(msg string, fields map[string]interface{}) {}
