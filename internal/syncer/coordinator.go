// Package syncer runs one scale session at a time and pushes its result
// through local history, the backend upload and the user notification.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/scale-sync/internal/ble"
	"github.com/chaz8081/scale-sync/internal/credential"
	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/chaz8081/scale-sync/internal/upload"
)

// persistTimeout bounds the history and upload work after a measurement.
const persistTimeout = time.Minute

// ErrBusy is returned by Sync while another cycle is running.
var ErrBusy = errors.New("syncer: a sync cycle is already running")

// Runner is a single-use scale session.
type Runner interface {
	Run(ctx context.Context) ble.Outcome
}

// SessionFactory builds a fresh session for each cycle.
type SessionFactory func() Runner

// Result is the outcome of one sync cycle.
type Result struct {
	// Measurement is set when the scale produced a reading. Its Synced flag
	// reports whether the upload was confirmed.
	Measurement *domain.Measurement
	// Err is the session failure, nil when measured.
	Err error
	// StoreErr is a local history failure.
	StoreErr error
	// UploadErr is the credential or upload failure.
	UploadErr error
}

// Measured reports whether the cycle produced a reading.
func (r Result) Measured() bool { return r.Measurement != nil }

// Deps are the collaborators of a Coordinator.
type Deps struct {
	NewSession  SessionFactory
	Store       domain.HistoryStore
	Uploader    domain.Uploader
	Credentials domain.CredentialProvider
	Notifier    domain.Notifier
}

// Coordinator enforces the one-session-at-a-time rule.
type Coordinator struct {
	deps    Deps
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
// Panics if any dependency is nil (programmer error).
func NewCoordinator(deps Deps) *Coordinator {
	if deps.NewSession == nil || deps.Store == nil || deps.Uploader == nil ||
		deps.Credentials == nil || deps.Notifier == nil {
		panic("syncer: NewCoordinator called with nil dependency")
	}
	return &Coordinator{deps: deps}
}

// Running reports whether a cycle is in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Start begins a cycle in the background and returns true. If a cycle is
// already running it returns false and completion is never called.
// completion may be nil.
func (c *Coordinator) Start(ctx context.Context, completion func(Result)) bool {
	if !c.running.CompareAndSwap(false, true) {
		slog.Debug("[SYNC] start ignored, cycle already running")
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := c.cycle(ctx)
		c.running.Store(false)
		if completion != nil {
			completion(res)
		}
	}()
	return true
}

// Sync runs a cycle and blocks until it completes.
func (c *Coordinator) Sync(ctx context.Context) (Result, error) {
	done := make(chan Result, 1)
	if !c.Start(ctx, func(r Result) { done <- r }) {
		return Result{}, ErrBusy
	}
	return <-done, nil
}

// Wait blocks until every started cycle has delivered its completion.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) cycle(ctx context.Context) Result {
	slog.Info("[SYNC] cycle started")

	outcome := c.deps.NewSession().Run(ctx)
	if !outcome.Measured() {
		slog.Warn("[SYNC] no measurement", "error", outcome.Err)
		c.deps.Notifier.Notify(false, failureMessage(outcome.Err))
		return Result{Err: outcome.Err}
	}

	m := *outcome.Measurement
	res := Result{Measurement: &m}

	// A reading in hand is persisted even if shutdown cancelled ctx meanwhile.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	// Local history first, so an upload failure never loses the reading.
	if err := c.deps.Store.Insert(ctx, m); err != nil {
		slog.Error("[SYNC] history insert failed", "id", m.ID, "error", err)
		res.StoreErr = err
	}

	res.UploadErr = c.upload(ctx, m)
	if res.UploadErr == nil {
		m.Synced = true
		if res.StoreErr == nil {
			if err := c.deps.Store.MarkSynced(ctx, m.ID); err != nil {
				slog.Error("[SYNC] mark synced failed", "id", m.ID, "error", err)
				res.StoreErr = err
			}
		}
		slog.Info("[SYNC] measurement uploaded", "id", m.ID, "kg", m.WeightKg)
	} else {
		slog.Warn("[SYNC] upload failed, kept locally", "id", m.ID, "error", res.UploadErr)
	}

	msg := successMessage(m, res.UploadErr)
	if res.StoreErr != nil {
		msg += " Not saved in local history."
	}
	c.deps.Notifier.Notify(true, msg)
	return res
}

func (c *Coordinator) upload(ctx context.Context, m domain.Measurement) error {
	token, err := c.deps.Credentials.Token(ctx)
	if err != nil {
		return err
	}
	return c.deps.Uploader.Upload(ctx, m, token)
}

func successMessage(m domain.Measurement, uploadErr error) string {
	msg := fmt.Sprintf("Read %.2f kg.", m.WeightKg)
	if uploadErr == nil {
		return msg
	}
	return msg + " Saved locally, " + uploadReason(uploadErr) + "."
}

func uploadReason(err error) string {
	switch {
	case errors.Is(err, credential.ErrNoCredential):
		return "not logged in"
	case errors.Is(err, upload.ErrUnauthorized):
		return "login expired"
	case errors.Is(err, upload.ErrNotConfigured):
		return "backend not configured"
	case errors.Is(err, upload.ErrNetwork):
		return "backend unreachable"
	default:
		return "upload failed"
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ble.ErrTimeout), errors.Is(err, ble.ErrStageTimeout):
		return "No data received from the scale."
	case errors.Is(err, ble.ErrConnect):
		return "Could not connect to the scale."
	case errors.Is(err, ble.ErrAdapterUnavailable):
		return "Bluetooth is unavailable."
	case errors.Is(err, ble.ErrCancelled):
		return "Sync cancelled."
	default:
		return fmt.Sprintf("Sync error: %v.", err)
	}
}
