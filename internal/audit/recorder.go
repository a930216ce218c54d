package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Recorder is the per-dispatch, concurrency-safe attempt log buffer.
type Recorder struct {
	dest   Destination
	fields Fields
	errors *ErrorSink

	mu      sync.Mutex
	lines   []string
	flushed int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithErrorSink replaces the default error sink.
func WithErrorSink(e *ErrorSink) Option {
	return func(r *Recorder) { r.errors = e }
}

// NewRecorder creates an empty recorder for one dispatch.
func NewRecorder(dest Destination, fields Fields, opts ...Option) *Recorder {
	r := &Recorder{dest: dest, fields: fields}
	for _, opt := range opts {
		opt(r)
	}
	if r.errors == nil {
		r.errors = NewErrorSink(dest, fields, nil)
	}
	return r
}

// Path returns the audit file the recorder flushes to.
func (r *Recorder) Path() string { return r.dest.Path() }

// Errors returns the recorder's independent error-only sink.
func (r *Recorder) Errors() *ErrorSink { return r.errors }

// Record appends one attempt line. Safe for concurrent use.
func (r *Recorder) Record(a AttemptLine) {
	r.append(encodeLine(r.fields.attemptRecord(a)))
}

// RecordReport appends the consolidated summary line.
func (r *Recorder) RecordReport(rep ReportLine) {
	r.append(encodeLine(r.fields.reportRecord(rep)))
}

func (r *Recorder) append(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

// Len returns the number of buffered lines, flushed or not.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// Lines returns a copy of every buffered line.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Flush appends the lines not yet written to the audit file and returns how many were
// written. Flushing an unmodified buffer again writes nothing.
func (r *Recorder) Flush() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.lines[r.flushed:]
	if len(pending) == 0 {
		return 0, nil
	}

	if err := appendFile(r.dest.Path(), strings.Join(pending, "\n")+"\n"); err != nil {
		return 0, err
	}
	r.flushed = len(r.lines)
	return len(pending), nil
}

// ErrorSink appends internal fault lines straight to the audit file, independently of
// any Recorder buffer.
type ErrorSink struct {
	path   string
	fields Fields
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	count int
}

// NewErrorSink creates an error sink writing next to dest's attempt lines.
func NewErrorSink(dest Destination, fields Fields, logger *slog.Logger) *ErrorSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ErrorSink{
		path:   dest.Path(),
		fields: fields,
		logger: logger,
		now:    time.Now,
	}
}

// Log records an unexpected internal fault. It never returns an error; a failure to
// write the line is reported to the structured logger only.
func (e *ErrorSink) Log(err error) {
	if e == nil || err == nil {
		return
	}
	e.logger.Error("internal fault", "error", err)

	line := encodeLine(e.fields.errorRecord(e.now(), err.Error())) + "\n"

	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++
	if werr := appendFile(e.path, line); werr != nil {
		e.logger.Error("failed to write error log", "path", e.path, "error", werr)
	}
}

// Count returns how many faults were logged.
func (e *ErrorSink) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func appendFile(path, data string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.WriteString(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}
