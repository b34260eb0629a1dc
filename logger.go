package zfs

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
)

// Logger is an interface for logging
type Logger interface {
	WithField(k string, v interface{}) Logger
	WithFields(data map[string]interface{}) Logger
	WithError(err error) Logger
	Info(msg string)
	Infof(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
}

// NoopLogger implements the Logger by doing nothing
type NoopLogger struct{}

func (n NoopLogger) WithField(k string, v interface{}) Logger {
	return n
}

func (n NoopLogger) WithFields(data map[string]interface{}) Logger {
	return n
}

func (n NoopLogger) WithError(err error) Logger {
	return n
}
func (n NoopLogger) Info(msg string)                           {}
func (n NoopLogger) Infof(format string, args ...interface{})  {}
func (n NoopLogger) Error(msg string)                          {}
func (n NoopLogger) Errorf(format string, args ...interface{}) {}

// StderrLogger is the production Logger, writing structured lines to stderr.
type StderrLogger struct {
	log *slog.Logger
}

// NewStderrLogger returns a Logger backed by slog's text handler on stderr.
func NewStderrLogger(level slog.Level) Logger {
	return &StderrLogger{
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

func (s *StderrLogger) WithField(k string, v interface{}) Logger {
	return &StderrLogger{log: s.log.With(k, v)}
}

func (s *StderrLogger) WithFields(data map[string]interface{}) Logger {
	args := make([]any, 0, len(data)*2)
	for k, v := range data {
		args = append(args, k, v)
	}
	return &StderrLogger{log: s.log.With(args...)}
}

func (s *StderrLogger) WithError(err error) Logger {
	return &StderrLogger{log: s.log.With("error", err)}
}

func (s *StderrLogger) Info(msg string) {
	s.log.Info(msg)
}

func (s *StderrLogger) Infof(format string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(format, args...))
}

func (s *StderrLogger) Error(msg string) {
	s.log.Error(msg)
}

func (s *StderrLogger) Errorf(format string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(format, args...))
}

// TestLogger is a logger for testing
type TestLogger struct {
	t      *testing.T
	fields map[string]interface{}
}

func NewTestLogger(t *testing.T) Logger {
	return &TestLogger{
		t:      t,
		fields: make(map[string]interface{}),
	}
}

func (t *TestLogger) cloneFields() map[string]interface{} {
	fields := make(map[string]interface{}, len(t.fields))
	for k, v := range t.fields {
		fields[k] = v
	}
	return fields
}

func (t *TestLogger) WithField(k string, v interface{}) Logger {
	fields := t.cloneFields()
	fields[k] = v
	return &TestLogger{
		t:      t.t,
		fields: fields,
	}
}

func (t *TestLogger) WithFields(data map[string]interface{}) Logger {
	fields := t.cloneFields()
	for k, v := range data {
		fields[k] = v
	}
	return &TestLogger{
		t:      t.t,
		fields: fields,
	}
}

func (t *TestLogger) WithError(err error) Logger {
	fields := t.cloneFields()
	fields["error"] = err
	return &TestLogger{
		t:      t.t,
		fields: fields,
	}
}

func (t *TestLogger) Info(msg string) {
	t.Infof(msg)
}

func (t *TestLogger) Infof(format string, args ...interface{}) {
	t.t.Logf("[INF] "+format+" [%#v]", append(args, t.fields)...)
}

func (t *TestLogger) Error(msg string) {
	t.Errorf(msg)
}

func (t *TestLogger) Errorf(format string, args ...interface{}) {
	t.t.Logf("[ERR] "+format+" [%#v]", append(args, t.fields)...)
}
