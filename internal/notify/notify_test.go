package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// mockRunner records Run calls.
type mockRunner struct {
	calls [][]string
	err   error
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) error {
	m.calls = append(m.calls, append([]string{name}, args...))
	return m.err
}

func TestLogNotifier(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		want    []string
	}{
		{"success", true, []string{"level=INFO", "Sync complete", "Read 72.35 kg."}},
		{"failure", false, []string{"level=WARN", "Sync failed", "Read 72.35 kg."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))
			n.Notify(tt.success, "Read 72.35 kg.")
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("log %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestExecNotifierArgs(t *testing.T) {
	mock := &mockRunner{}
	n, err := NewExecNotifier("notify-send -a scale-sync", mock, nil)
	if err != nil {
		t.Fatalf("NewExecNotifier() error = %v", err)
	}

	n.Notify(true, "Read 70.00 kg.")
	n.Notify(false, "Could not connect to the scale.")

	want := [][]string{
		{"notify-send", "-a", "scale-sync", "Sync complete", "Read 70.00 kg."},
		{"notify-send", "-a", "scale-sync", "Sync failed", "Could not connect to the scale."},
	}
	if len(mock.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", mock.calls, want)
	}
	for i := range want {
		if strings.Join(mock.calls[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("call %d = %v, want %v", i, mock.calls[i], want[i])
		}
	}
}

func TestExecNotifierLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockRunner{err: errors.New("exit status 1")}
	n, err := NewExecNotifier("notify-send", mock, slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("NewExecNotifier() error = %v", err)
	}

	n.Notify(true, "x")
	if !strings.Contains(buf.String(), "command failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestExecNotifierEmptyCommand(t *testing.T) {
	if _, err := NewExecNotifier("   ", &mockRunner{}, nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		method  string
		command string
		wantErr bool
	}{
		{"", "", false},
		{"log", "", false},
		{"exec", "notify-send", false},
		{"exec", "", true},
		{"toast", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.command, func(t *testing.T) {
			n, err := New(tt.method, tt.command, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && n == nil {
				t.Error("New() returned nil notifier")
			}
		})
	}
}
