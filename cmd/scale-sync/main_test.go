package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/scale-sync/internal/config"
	"github.com/chaz8081/scale-sync/internal/credential"
	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/chaz8081/scale-sync/internal/upload"
)

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No measurements") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	synced := domain.NewMeasurement(72.35, time.Date(2026, 3, 2, 7, 0, 0, 0, time.Local))
	synced.Synced = true
	pending := domain.NewMeasurement(72.1, time.Date(2026, 3, 1, 7, 0, 0, 0, time.Local))
	printHistory(&buf, []domain.Measurement{synced, pending})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "72.35 kg") || !strings.HasSuffix(lines[0], "synced") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "2026-03-01 07:00:00") || !strings.HasSuffix(lines[1], "pending") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestRunLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"issued"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	creds := credential.NewFileStore(filepath.Join(dir, "token"), filepath.Join(dir, "secret"))
	client := upload.NewClient(srv.URL, time.Second)

	if err := runLogin(context.Background(), client, creds, "ola", strings.NewReader("pw\n")); err != nil {
		t.Fatalf("runLogin() error = %v", err)
	}
	tok, err := creds.Token(context.Background())
	if err != nil || tok != "issued" {
		t.Errorf("stored token = %q, %v", tok, err)
	}
}

func TestRunLoginEmptyPassword(t *testing.T) {
	dir := t.TempDir()
	creds := credential.NewFileStore(filepath.Join(dir, "token"), filepath.Join(dir, "secret"))
	if err := runLogin(context.Background(), upload.NewClient("http://127.0.0.1:1", time.Second), creds, "ola", strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestOpenHistoryFileDriverPersists(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "history.json")}

	store, closeStore, err := openHistory(ctx, cfg)
	if err != nil {
		t.Fatalf("openHistory() error = %v", err)
	}
	m := domain.NewMeasurement(72.35, time.Now())
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	closeStore()

	// A later run sees the earlier reading.
	again, closeAgain, err := openHistory(ctx, cfg)
	if err != nil {
		t.Fatalf("openHistory() error = %v", err)
	}
	defer closeAgain()
	list, err := again.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != m.ID {
		t.Errorf("history after reopen = %+v, want %v", list, m.ID)
	}
}
