// Package telemetry emits structured agent events to pluggable sinks
// with runtime-adjustable level filtering.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level orders event severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ParseLevel reads a level name, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return LevelDebug
	case "WARNING", "warning", "WARN", "warn":
		return LevelWarning
	case "ERROR", "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// EventType categorizes events.
type EventType string

const (
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventConversation EventType = "conversation"
	EventSystem       EventType = "system"
	EventError        EventType = "error"
	EventNetwork      EventType = "network"
	EventPerformance  EventType = "performance"
)

// Event is one telemetry record.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Type    EventType      `json:"type"`
	Source  string         `json:"source"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Sink receives events that pass the level filter.
type Sink interface {
	Emit(Event) error
	Close() error
}

// Logger filters by level and fans out to sinks. Safe for concurrent
// use; SetLevel takes effect immediately.
type Logger struct {
	level atomic.Int32
	mu    sync.Mutex
	sinks []Sink
}

// New builds a logger at the given level.
func New(level Level, sinks ...Sink) *Logger {
	l := &Logger{sinks: sinks}
	l.level.Store(int32(level))
	return l
}

// SetLevel changes the filter at runtime.
func (l *Logger) SetLevel(level Level) { l.level.Store(int32(level)) }

// GetLevel returns the current filter level.
func (l *Logger) GetLevel() Level { return Level(l.level.Load()) }

// AddSink attaches another sink.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Emit sends one event to every sink when it passes the filter.
func (l *Logger) Emit(level Level, typ EventType, source, message string, data map[string]any) {
	if l == nil || level < l.GetLevel() {
		return
	}
	ev := Event{
		Time:    time.Now().UTC(),
		Level:   level.String(),
		Type:    typ,
		Source:  source,
		Message: message,
		Data:    data,
	}
	l.mu.Lock()
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()
	for _, s := range sinks {
		_ = s.Emit(ev)
	}
}

func (l *Logger) Debug(typ EventType, source, message string, data map[string]any) {
	l.Emit(LevelDebug, typ, source, message, data)
}

func (l *Logger) Info(typ EventType, source, message string, data map[string]any) {
	l.Emit(LevelInfo, typ, source, message, data)
}

func (l *Logger) Warning(typ EventType, source, message string, data map[string]any) {
	l.Emit(LevelWarning, typ, source, message, data)
}

func (l *Logger) Error(source, message string, data map[string]any) {
	l.Emit(LevelError, EventError, source, message, data)
}

// Close closes every sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	sinks := l.sinks
	l.sinks = nil
	l.mu.Unlock()
	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriterSink renders events as single formatted lines, for stderr.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps a writer. Pass os.Stderr for console output.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %-7s %-12s %s: %s\n",
		ev.Time.Format(time.RFC3339), ev.Level, ev.Type, ev.Source, ev.Message)
	return err
}

func (s *WriterSink) Close() error { return nil }

// FileSink appends events as newline-delimited JSON.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) the log file for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Emit(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(b, '\n'))
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
