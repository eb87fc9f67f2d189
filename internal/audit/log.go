package audit

import (
	"context"
	"time"
)

// Log is the append-only record of committed mutations. It uses the
// storage layer for persistence so tests can swap sinks easily, and
// optionally mirrors entries to a stream channel for external sinks.
type Log struct {
	store  Store
	stream chan<- Entry
}

type LogOption func(*Log)

// WithStream mirrors every appended entry onto ch. The mirror is
// best-effort: a full channel drops the copy, never the stored entry.
func WithStream(ch chan<- Entry) LogOption {
	return func(l *Log) { l.stream = ch }
}

func NewLog(store Store, opts ...LogOption) *Log {
	l := &Log{store: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	stored, err := l.store.Append(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	if l.stream != nil {
		select {
		case l.stream <- stored:
		default:
		}
	}
	return stored, nil
}

func (l *Log) ListByRecord(ctx context.Context, recordID uint64) ([]Entry, error) {
	return l.store.ListByRecord(ctx, recordID)
}

func (l *Log) Length(ctx context.Context) (uint64, error) {
	return l.store.Length(ctx)
}
