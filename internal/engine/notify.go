package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/spendsync/internal/ir"
)

// NoticeLevel is the severity of a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-facing message about a mutation or sync outcome.
// A UI would render it as a snackbar.
type Notice struct {
	Level    NoticeLevel
	Action   string // "create", "update", "delete", "sync"
	Kind     ir.EntityKind
	EntityID string
	Message  string
	Err      error
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// logNotifier writes notices to slog.
type logNotifier struct{}

func (logNotifier) Notify(n Notice) {
	attrs := []any{"action", n.Action, "kind", n.Kind, "id", n.EntityID}
	if n.Level == NoticeError {
		attrs = append(attrs, "error", n.Err)
		slog.Error(n.Message, attrs...)
		return
	}
	slog.Info(n.Message, attrs...)
}

// Recorder receives engine measurements.
// The metrics package provides the Prometheus implementation.
type Recorder interface {
	QueueDepth(n int)
	Enqueued(kind ir.EntityKind, method ir.Method)
	Dispatched(kind ir.EntityKind, method ir.Method, result string)
	DrainCompleted(d time.Duration)
	DrainSkipped()
}

// Dispatch results reported to Recorder.Dispatched.
const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultFailed  = "failed"
)

type nopRecorder struct{}

func (nopRecorder) QueueDepth(int) {}
func (nopRecorder) Enqueued(ir.EntityKind, ir.Method) {}
func (nopRecorder) Dispatched(ir.EntityKind, ir.Method, string) {}
func (nopRecorder) DrainCompleted(time.Duration) {}
func (nopRecorder) DrainSkipped() {}
