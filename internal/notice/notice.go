// Package notice delivers user-facing messages raised by background work.
package notice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level is the severity of a Notice.
type Level string

// Notice levels.
const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Notice is one message for the user.
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Time    time.Time `json:"time"`
}

// New returns a Notice stamped with a fresh id and the current time.
func New(level Level, message string) Notice {
	now := time.Now()
	return Notice{ID: ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(), Level: level, Message: message, Time: now}
}

// Notifier receives notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Log writes notices to slog.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(ctx context.Context, n Notice) {
	level := slog.LevelInfo
	switch n.Level {
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	}
	slog.Log(ctx, level, n.Message, "notice", n.ID, "code", n.Code)
}

// Recorder keeps the most recent notices until they are drained.
type Recorder struct {
	max int

	mu      sync.Mutex
	pending []Notice
}

// NewRecorder returns a Recorder holding at most max notices. Older notices
// are dropped first.
func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 100
	}
	return &Recorder{max: max}
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, n)
	if over := len(r.pending) - r.max; over > 0 {
		r.pending = append(r.pending[:0:0], r.pending[over:]...)
	}
}

// Drain returns and forgets the pending notices, oldest first.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}
