package audit

import (
	"context"
	"log/slog"
)

// Publisher forwards audit entries to an external sink.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
}

// Worker consumes audit entries from a channel and forwards them to a
// publisher. It keeps background processing testable without wiring
// broker implementations into the domain layer.
type Worker struct {
	publisher Publisher
	inbox     <-chan Entry
	logger    *slog.Logger
}

func NewWorker(publisher Publisher, inbox <-chan Entry, logger *slog.Logger) *Worker {
	return &Worker{publisher: publisher, inbox: inbox, logger: logger}
}

// Run forwards entries until ctx is cancelled. Publish failures are
// logged and skipped; the log store already holds the entry.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			if err := w.publisher.Publish(ctx, entry); err != nil {
				w.logger.Error("audit publish failed",
					"seq", entry.Sequence,
					"action", string(entry.Action),
					"error", err,
				)
			}
		}
	}
}
