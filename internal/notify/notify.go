// Package notify presents sync outcomes to the user, either in the log or
// through an external desktop notification command.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaz8081/scale-sync/internal/domain"
)

const (
	titleSuccess = "Sync complete"
	titleFailure = "Sync failed"
)

// Title returns the notification title for an outcome.
func Title(success bool) string {
	if success {
		return titleSuccess
	}
	return titleFailure
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ domain.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger means slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the outcome at info level, or warn on failure.
func (n *LogNotifier) Notify(success bool, message string) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, "[NOTIFY] "+Title(success), "message", message)
}

// New builds the notifier for a configured method ("log" or "exec").
func New(method, command string, logger *slog.Logger) (domain.Notifier, error) {
	switch method {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "exec":
		return NewExecNotifier(command, nil, logger)
	default:
		return nil, fmt.Errorf("notify: unknown method %q", method)
	}
}
