// Command test-scale is a manual test for the scale session.
// It runs a single session against the real Bluetooth adapter and prints
// the outcome. Step on the scale once scanning starts.
//
// Usage:
//
//	go run ./cmd/test-scale [--timeout 20s] [--stage-timeout 0s] [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/scale-sync/internal/ble"
)

func main() {
	timeout := flag.Duration("timeout", 20*time.Second, "session deadline")
	stageTimeout := flag.Duration("stage-timeout", 0, "per-stage limit after connect (0 disables)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := ble.DefaultSessionOptions()
	opts.Timeout = *timeout
	opts.StageTimeout = *stageTimeout

	fmt.Printf("Scanning for a weight scale for up to %s. Step on the scale now!\n", *timeout)

	start := time.Now()
	out := ble.NewSession(ble.NewTinyGoAdapter(), opts).Run(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)

	if !out.Measured() {
		fmt.Printf("\nFailed after %s: %v\n", elapsed, out.Err)
		stop()
		os.Exit(1)
	}

	fmt.Printf("\nRead %.2f kg from %s (%s, RSSI %d) in %s\n",
		out.Measurement.WeightKg, out.Device.Address, out.Device.Name, out.Device.RSSI, elapsed)
}
