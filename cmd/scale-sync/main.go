// Command scale-sync reads weight measurements from a Bluetooth body scale,
// keeps them in local history and uploads them to the backend.
//
// Usage:
//
//	scale-sync [-config path] [-once]
//	scale-sync -login <user>
//	scale-sync -logout
//	scale-sync -history
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/scale-sync/internal/ble"
	"github.com/chaz8081/scale-sync/internal/config"
	"github.com/chaz8081/scale-sync/internal/credential"
	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/chaz8081/scale-sync/internal/history"
	"github.com/chaz8081/scale-sync/internal/notify"
	"github.com/chaz8081/scale-sync/internal/syncer"
	"github.com/chaz8081/scale-sync/internal/upload"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/scale-sync/config.yaml)")
	once := flag.Bool("once", false, "run a single sync cycle and exit")
	login := flag.String("login", "", "log in to the backend as `user` (password read from stdin)")
	logout := flag.Bool("logout", false, "forget the stored backend token")
	showHistory := flag.Bool("history", false, "print stored measurements, newest first")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := credential.NewFileStore(cfg.Upload.CredentialFile, cfg.Upload.SecretFile)
	client := upload.NewClient(cfg.Upload.BaseURL, cfg.Upload.Timeout)

	switch {
	case *logout:
		if err := creds.Clear(); err != nil {
			log.Fatalf("logout: %v", err)
		}
		fmt.Println("Logged out.")
		return
	case *login != "":
		if err := runLogin(ctx, client, creds, *login, os.Stdin); err != nil {
			log.Fatalf("login: %v", err)
		}
		fmt.Println("Logged in.")
		return
	}

	store, closeStore, err := openHistory(ctx, cfg.History)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	defer closeStore()

	if *showHistory {
		if cfg.History.Driver == "memory" {
			log.Fatalf("history: the memory driver keeps nothing between runs; use the file or postgres driver")
		}
		list, err := store.List(ctx)
		if err != nil {
			log.Fatalf("history: %v", err)
		}
		printHistory(os.Stdout, list)
		return
	}

	notifier, err := notify.New(cfg.Notify.Method, cfg.Notify.Command, slog.Default())
	if err != nil {
		log.Fatalf("notify: %v", err)
	}

	printBanner(cfg)

	adapter := ble.NewTinyGoAdapter()
	opts := ble.DefaultSessionOptions()
	opts.Timeout = cfg.Scale.Timeout
	opts.StageTimeout = cfg.Scale.StageTimeout

	coord := syncer.NewCoordinator(syncer.Deps{
		NewSession:  func() syncer.Runner { return ble.NewSession(adapter, opts) },
		Store:       store,
		Uploader:    client,
		Credentials: creds,
		Notifier:    notifier,
	})

	if *once {
		res, err := coord.Sync(ctx)
		if err != nil {
			log.Fatalf("sync: %v", err)
		}
		if !res.Measured() {
			closeStore()
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, coord, cfg.Sync.Interval)
}

// runDaemon syncs at startup, on every interval tick and on SIGHUP, until ctx
// is cancelled. A running cycle is waited for before returning.
func runDaemon(ctx context.Context, coord *syncer.Coordinator, interval time.Duration) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	trigger := func(reason string) {
		if !coord.Start(ctx, nil) {
			slog.Info("[SYNC] cycle already running, trigger ignored", "trigger", reason)
		}
	}

	slog.Info("Ready", "interval", interval)
	trigger("startup")
	for {
		select {
		case <-tick:
			trigger("interval")
		case <-hup:
			trigger("SIGHUP")
		case <-ctx.Done():
			slog.Info("Shutting down...")
			coord.Wait()
			slog.Info("Goodbye!")
			return
		}
	}
}

func runLogin(ctx context.Context, client *upload.Client, creds *credential.FileStore, user string, in io.Reader) error {
	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	password, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	token, err := client.Login(ctx, user, password)
	if err != nil {
		return err
	}
	return creds.Save(token)
}

// openHistory opens the configured store. The returned close func is safe to
// call more than once.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (domain.HistoryStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := history.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		closed := false
		return pg, func() {
			if !closed {
				closed = true
				_ = pg.Close()
			}
		}, nil
	case "file":
		fileStore, err := history.OpenFile(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return fileStore, func() {}, nil
	default:
		return history.NewMemoryStore(), func() {}, nil
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, writing a commented default file on first run.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	written, err := config.WriteDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not write default config: %v\n", err)
	} else if written != "" {
		fmt.Fprintf(os.Stderr, "Wrote default config to %s\n", written)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

func printHistory(w io.Writer, list []domain.Measurement) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No measurements stored.")
		return
	}
	for _, m := range list {
		state := "pending"
		if m.Synced {
			state = "synced"
		}
		fmt.Fprintf(w, "%s  %7.2f kg  %s\n", m.Timestamp.Local().Format("2006-01-02 15:04:05"), m.WeightKg, state)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	backend := cfg.Upload.BaseURL
	if backend == "" {
		backend = "(not configured)"
	}
	fmt.Println("=== scale-sync ===")
	fmt.Printf("  Scale:    timeout %s\n", cfg.Scale.Timeout)
	fmt.Printf("  Interval: %s\n", cfg.Sync.Interval)
	fmt.Printf("  History:  %s\n", cfg.History.Driver)
	fmt.Printf("  Backend:  %s\n", backend)
	fmt.Printf("  Notify:   %s\n", cfg.Notify.Method)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
