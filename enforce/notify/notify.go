// Operator notifications for conditions that need a human: persistence running in degraded mode, actions that exhausted their retries.
package notify

import (
	"context"
	"log/slog"
)

type Level string

const (
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Notice struct {
	Level Level
	Title string
	Body  string
	// Optional key/value context, rendered in order.
	Fields []Field
}

type Field struct {
	Key   string
	Value string
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Writes notices to the log. Used when no webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"title", n.Title, "body", n.Body}
	for _, f := range n.Fields {
		args = append(args, f.Key, f.Value)
	}
	lvl := slog.LevelWarn
	if n.Level == LevelError {
		lvl = slog.LevelError
	}
	logger.Log(ctx, lvl, "operator notice", args...)
	return nil
}

// Sends each notice to every notifier, returning the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var first error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
