// Package notify collects the transient messages shown to an admin after
// an action succeeds or fails.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notification struct {
	ID      uint64    `json:"id"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(n Notification)
}

func Success(title, message string) Notification {
	return Notification{Level: LevelSuccess, Title: title, Message: message}
}

// Failure builds an error notification whose message is safe to show.
func Failure(title string, err error) Notification {
	return Notification{Level: LevelError, Title: title, Message: Describe(err)}
}

// Describe turns an error from the editing stack into a user-facing message.
func Describe(err error) string {
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	if errors.Is(err, repository.ErrNotFound) {
		return "The item no longer exists."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The content backend did not respond in time. Please try again."
	}
	switch repository.KindOf(err) {
	case repository.KindNetwork:
		return "Could not reach the content backend. Please try again."
	case repository.KindAuth:
		return "You are not allowed to make this change."
	case repository.KindConstraint:
		return "The change conflicts with existing content."
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Queue keeps the most recent notifications until they are drained.
type Queue struct {
	mu    sync.Mutex
	items []Notification
	next  uint64
	max   int
	now   func() time.Time
}

func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 50
	}
	return &Queue{max: max, now: time.Now}
}

func (q *Queue) Notify(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	n.ID = q.next
	if n.At.IsZero() {
		n.At = q.now().UTC()
	}
	q.items = append(q.items, n)
	if len(q.items) > q.max {
		q.items = q.items[len(q.items)-q.max:]
	}
}

// Drain returns the queued notifications oldest first and empties the queue.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Logged forwards every notification to next and records failures on
// logger.
func Logged(next Notifier, logger zerolog.Logger) Notifier {
	return logged{next: next, logger: logger}
}

type logged struct {
	next   Notifier
	logger zerolog.Logger
}

func (l logged) Notify(n Notification) {
	if n.Level == LevelError {
		l.logger.Warn().Str("title", n.Title).Str("message", n.Message).Msg("action failed")
	}
	l.next.Notify(n)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Notification) {}
