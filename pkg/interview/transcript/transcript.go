// Package transcript maintains the append-only conversation record for an
// interview session.
package transcript

import (
	"sync"
	"time"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

// Entry is a single finalized utterance or system annotation.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StampFormat is the wire format for entry timestamps.
const StampFormat = "2006-01-02T15:04:05.000Z07:00"

// Log is an append-only transcript. Timestamps are monotonically
// non-decreasing: appends observed with an earlier clock reading are clamped
// forward to the previous entry's timestamp.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	last    time.Time
	now     func() time.Time
	onEntry func(Entry)
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithObserver registers a callback invoked after every append, outside the
// log's lock ordering guarantees only that observations arrive in append order.
func WithObserver(fn func(Entry)) Option {
	return func(l *Log) { l.onEntry = fn }
}

func NewLog(opts ...Option) *Log {
	l := &Log{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a finalized entry and returns it with its assigned timestamp.
func (l *Log) Append(role Role, content string) Entry {
	l.mu.Lock()
	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	e := Entry{Role: role, Content: content, Timestamp: ts}
	l.entries = append(l.entries, e)
	fn := l.onEntry
	l.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	return e
}

// AppendSystem records a system annotation (interview lifecycle events,
// human-intervention transitions).
func (l *Log) AppendSystem(content string) Entry {
	return l.Append(RoleSystem, content)
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Last returns the most recent entry, if any.
func (l *Log) Last() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// LastByRole returns the most recent entry authored by role, if any.
func (l *Log) LastByRole(role Role) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Role == role {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}
