// logging.go - structured logging for the scheduler core.
//
// The scheduler logs through the logiface package (the same structured
// logging library used by its sibling logiface-stumpy/-zerolog/-logrus
// adapters), rather than a hand-rolled formatter: call sites build a
// logiface.Builder chain, and the configured Writer decides how that
// becomes bytes. schedEvent/schedWriter below are this package's own
// Writer/Event pair -- plain, buffer-per-event key=value lines -- since nothing
// in this retrieval pack ships a complete io.Writer-backed logiface Writer.
package stagesched

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Level is the scheduler's log severity type, a direct alias of logiface's
// syslog-derived Level.
type Level = logiface.Level

const (
	LevelDebug = logiface.LevelDebug
	LevelInfo  = logiface.LevelInformational
	LevelWarn  = logiface.LevelWarning
	LevelError = logiface.LevelError
)

// Logger is the narrow structured-logging surface the scheduler core calls
// into: stage rebalances, migrations, and reaper activity. Assertion
// failures are not logged; assertInvariant panics without a logger.
type Logger interface {
	Log(level Level, category, message string, fields map[string]any)
	Enabled(level Level) bool
}

// schedEvent is this package's logiface.Event implementation: a single
// growable byte buffer per event, in the same spirit as the sibling
// logiface-stumpy package's direct-buffer approach, but minimal.
type schedEvent struct {
	logiface.UnimplementedEvent
	level logiface.Level
	buf   []byte
}

func (e *schedEvent) Level() logiface.Level { return e.level }

func (e *schedEvent) AddField(key string, val any) {
	e.buf = append(e.buf, ' ')
	e.buf = append(e.buf, key...)
	e.buf = append(e.buf, '=')
	fmt.Fprint(sliceWriter{&e.buf}, val)
}

func (e *schedEvent) AddMessage(msg string) bool {
	e.buf = append(e.buf, " msg="...)
	e.buf = append(e.buf, msg...)
	return true
}

func (e *schedEvent) AddError(err error) bool {
	e.buf = append(e.buf, " err="...)
	e.buf = append(e.buf, err.Error()...)
	return true
}

func (e *schedEvent) AddString(key, val string) bool        { e.AddField(key, val); return true }
func (e *schedEvent) AddInt(key string, val int) bool        { e.AddField(key, val); return true }
func (e *schedEvent) AddInt64(key string, val int64) bool    { e.AddField(key, val); return true }
func (e *schedEvent) AddUint64(key string, val uint64) bool  { e.AddField(key, val); return true }
func (e *schedEvent) AddBool(key string, val bool) bool      { e.AddField(key, val); return true }
func (e *schedEvent) AddDuration(key string, val time.Duration) bool {
	e.AddField(key, val)
	return true
}

// sliceWriter lets fmt.Fprint append directly into schedEvent's buffer
// without an intermediate allocation.
type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// schedWriter is this package's logiface.Writer: one line per event,
// serialized under a mutex.
type schedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *schedWriter) Write(e *schedEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%s [%s]%s\n", time.Now().Format(time.RFC3339Nano), e.level, e.buf)
	return err
}

func newSchedEvent(level logiface.Level) *schedEvent { return &schedEvent{level: level} }

func releaseSchedEvent(e *schedEvent) { e.buf = e.buf[:0] }

// logifaceLogger adapts a logiface.Logger[*schedEvent] to this package's
// narrower Logger interface (category + field map + message), matching the
// shape the scheduler's own call sites want.
type logifaceLogger struct {
	inner *logiface.Logger[*schedEvent]
}

// NewLogger builds a Logger that writes level-filtered structured lines to
// out. See also WithLogger.
func NewLogger(out io.Writer, level Level) Logger {
	return &logifaceLogger{inner: logiface.New[*schedEvent](
		logiface.WithLevel[*schedEvent](level),
		logiface.WithEventFactory[*schedEvent](logiface.NewEventFactoryFunc(newSchedEvent)),
		logiface.WithEventReleaser[*schedEvent](logiface.NewEventReleaserFunc(releaseSchedEvent)),
		logiface.WithWriter[*schedEvent](&schedWriter{out: out}),
	)}
}

// NewStdLogger is a convenience wrapper around NewLogger writing to stderr.
func NewStdLogger(level Level) Logger { return NewLogger(os.Stderr, level) }

func (l *logifaceLogger) Log(level Level, category, message string, fields map[string]any) {
	b := l.inner.Build(level)
	if !b.Enabled() {
		b.Release()
		return
	}
	b = b.Str("category", category)
	for k, v := range fields {
		b = b.Field(k, v)
	}
	b.Log(message)
}

func (l *logifaceLogger) Enabled(level Level) bool {
	b := l.inner.Build(level)
	enabled := b.Enabled()
	b.Release()
	return enabled
}

// NoOpLogger discards everything; it is the default when no WithLogger
// option is supplied.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (*NoOpLogger) Log(Level, string, string, map[string]any) {}
func (*NoOpLogger) Enabled(Level) bool                        { return false }

// The following are the scheduler core's own log call sites, kept as
// package-private helpers so every log line they emit carries a consistent
// category and field set.

func logMigration(l Logger, t *Thread, from, to int) {
	if !l.Enabled(LevelDebug) {
		return
	}
	l.Log(LevelDebug, "migration", "thread relocated", map[string]any{
		"thread": t.id,
		"from":   from,
		"to":     to,
	})
}

func logRebalance(l Logger, stage *Stage, cpus []*CPU) {
	if !l.Enabled(LevelDebug) {
		return
	}
	ids := make([]int, len(cpus))
	for i, c := range cpus {
		ids[i] = c.id
	}
	l.Log(LevelDebug, "rebalance", "stage assignment updated", map[string]any{
		"stage": stage.name,
		"cpus":  fmt.Sprint(ids),
	})
}

func logReaperFinalize(l Logger, t *Thread) {
	if !l.Enabled(LevelDebug) {
		return
	}
	l.Log(LevelDebug, "reaper", "thread finalized", map[string]any{"thread": t.id})
}
