package notify

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/chaz8081/scale-sync/internal/domain"
)

// execTimeout bounds a single notification command.
const execTimeout = 10 * time.Second

// CommandRunner runs an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type osRunner struct{}

func (osRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// ExecNotifier runs a command with the title and message appended as the
// last two arguments, e.g. "notify-send -a scale-sync".
type ExecNotifier struct {
	name   string
	args   []string
	runner CommandRunner
	logger *slog.Logger
}

var _ domain.Notifier = (*ExecNotifier)(nil)

// NewExecNotifier parses command into program and leading arguments.
// A nil runner executes real processes.
func NewExecNotifier(command string, runner CommandRunner, logger *slog.Logger) (*ExecNotifier, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("notify: exec method requires a command")
	}
	if runner == nil {
		runner = osRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecNotifier{
		name:   fields[0],
		args:   fields[1:],
		runner: runner,
		logger: logger,
	}, nil
}

// Notify runs the command. Failures are logged, never returned.
func (n *ExecNotifier) Notify(success bool, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()

	args := append(append([]string{}, n.args...), Title(success), message)
	if err := n.runner.Run(ctx, n.name, args...); err != nil {
		n.logger.Warn("[NOTIFY] command failed", "command", n.name, "error", err)
	}
}
