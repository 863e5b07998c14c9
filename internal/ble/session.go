package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/scale-sync/internal/ble/protocol"
	"github.com/chaz8081/scale-sync/internal/domain"
)

// Session-fatal failure reasons, delivered as Outcome.Err.
var (
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")
	ErrConnect            = errors.New("ble: connection failed")
	ErrTimeout            = errors.New("ble: no measurement before deadline")
	ErrStageTimeout       = errors.New("ble: stage timed out")
	ErrCancelled          = errors.New("ble: session cancelled")
	ErrSessionReused      = errors.New("ble: session already run")
)

// State is the position of a Session in its state machine.
type State int32

const (
	StateIdle State = iota
	StateAwaitingAdapter
	StateScanning
	StateConnecting
	StateDiscoveringService
	StateDiscoveringCharacteristic
	StateSubscribing
	StateAwaitingNotification
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAdapter:
		return "awaiting-adapter"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringService:
		return "discovering-service"
	case StateDiscoveringCharacteristic:
		return "discovering-characteristic"
	case StateSubscribing:
		return "subscribing"
	case StateAwaitingNotification:
		return "awaiting-notification"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is the terminal result of a session: exactly one of Measurement
// and Err is set.
type Outcome struct {
	Measurement *domain.Measurement
	Device      DiscoveredDevice
	Err         error
}

// Measured reports whether the session produced a measurement.
func (o Outcome) Measured() bool { return o.Measurement != nil }

// SessionOptions configures a Session.
type SessionOptions struct {
	Timeout      time.Duration // absolute deadline from Run
	StageTimeout time.Duration // per-stage limit after connect; 0 disables
	Now          func() time.Time
}

// DefaultSessionOptions returns the production defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Timeout: 20 * time.Second,
		Now:     time.Now,
	}
}

// Session is a single attempt to read one measurement from a scale. It is
// built fresh for every attempt and cannot be run twice.
//
// All adapter callbacks and blocking BLE calls report back as events on one
// channel, consumed by the goroutine inside Run. Only that goroutine reads or
// writes the state fields.
type Session struct {
	adapter Adapter
	opts    SessionOptions

	started atomic.Bool
	state   atomic.Int32 // mirrors current for State()

	events chan event
	cancel chan struct{}
	done   chan struct{} // closed at teardown; late events are dropped

	// Owned by the Run goroutine.
	current  State
	scanning bool
	device   DiscoveredDevice
	conn     Connection
	stage    *time.Timer
	opCtx    context.Context
	opCancel context.CancelFunc
	outcome  *Outcome
}

// NewSession creates a session against adapter.
func NewSession(adapter Adapter, opts SessionOptions) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		adapter: adapter,
		opts:    opts,
		events:  make(chan event, 16),
		cancel:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// State returns the current state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Cancel forces the session to end with ErrCancelled. It is a no-op once the
// session is terminal. Safe for concurrent use.
func (s *Session) Cancel() {
	select {
	case s.cancel <- struct{}{}:
	default:
	}
}

// Run drives the state machine until it reaches a terminal state and returns
// the outcome. It blocks for at most the configured timeout.
func (s *Session) Run(ctx context.Context) Outcome {
	if !s.started.CompareAndSwap(false, true) {
		return Outcome{Err: ErrSessionReused}
	}

	s.opCtx, s.opCancel = context.WithCancel(ctx)
	deadline := time.NewTimer(s.opts.Timeout)
	defer deadline.Stop()

	s.transition(StateAwaitingAdapter)
	if err := s.adapter.Enable(func(st AdapterState) { s.post(adapterStateEvent{st}) }); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrAdapterUnavailable, err))
	}

	for s.outcome == nil {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case <-deadline.C:
			s.fail(ErrTimeout)
		case <-s.stageC():
			s.fail(fmt.Errorf("%w: %s", ErrStageTimeout, s.current))
		case <-s.cancel:
			s.fail(ErrCancelled)
		case <-ctx.Done():
			s.fail(fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}
	}

	s.teardown()
	return *s.outcome
}

// post hands an event to the Run goroutine. It reports false if the session
// already ended.
func (s *Session) post(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// dispatch applies one event to the current state. Events the current state
// does not expect are stale and ignored.
func (s *Session) dispatch(ev event) {
	switch ev := ev.(type) {
	case adapterStateEvent:
		if s.current != StateAwaitingAdapter {
			s.reject(ev)
			return
		}
		if ev.state != AdapterPoweredOn {
			s.fail(fmt.Errorf("%w: adapter is %s", ErrAdapterUnavailable, ev.state))
			return
		}
		s.startScan()

	case scanErrorEvent:
		if s.current != StateScanning {
			s.reject(ev)
			return
		}
		s.scanning = false
		s.fail(fmt.Errorf("%w: %v", ErrAdapterUnavailable, ev.err))

	case advertisementEvent:
		if s.current != StateScanning {
			s.reject(ev)
			return
		}
		if !ev.device.HasService(WeightServiceUUID) {
			return
		}
		s.stopScan()
		s.device = ev.device
		s.transition(StateConnecting)
		slog.Info("[BLE] scale found", "address", ev.device.Address, "name", ev.device.Name, "rssi", ev.device.RSSI)
		s.connect(ev.device.Address)

	case connectedEvent:
		if s.current != StateConnecting {
			s.reject(ev)
			return
		}
		if ev.err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrConnect, ev.err))
			return
		}
		s.conn = ev.conn
		s.conn.OnDisconnect(func() { s.post(disconnectedEvent{}) })
		s.transition(StateDiscoveringService)
		s.discoverServices()

	case disconnectedEvent:
		if s.conn == nil {
			s.reject(ev)
			return
		}
		// The peer is gone; nothing left to disconnect at teardown.
		s.conn = nil
		s.fail(fmt.Errorf("%w: peripheral disconnected during %s", ErrConnect, s.current))

	case servicesEvent:
		if s.current != StateDiscoveringService {
			s.reject(ev)
			return
		}
		if ev.err != nil {
			slog.Warn("[BLE] service discovery failed, waiting", "error", ev.err)
			return
		}
		for _, svc := range ev.services {
			if sameUUID(svc.UUID(), WeightServiceUUID) {
				s.transition(StateDiscoveringCharacteristic)
				s.discoverCharacteristics(svc)
				return
			}
		}
		slog.Debug("[BLE] weight service not among discovered services, waiting", "count", len(ev.services))

	case characteristicsEvent:
		if s.current != StateDiscoveringCharacteristic {
			s.reject(ev)
			return
		}
		if ev.err != nil {
			slog.Warn("[BLE] characteristic discovery failed, waiting", "error", ev.err)
			return
		}
		for _, ch := range ev.chars {
			if sameUUID(ch.UUID(), WeightMeasurementUUID) {
				s.transition(StateSubscribing)
				s.subscribe(ch)
				return
			}
		}
		slog.Debug("[BLE] weight measurement characteristic not found, waiting", "count", len(ev.chars))

	case subscribedEvent:
		if s.current != StateSubscribing {
			s.reject(ev)
			return
		}
		if ev.err != nil {
			slog.Warn("[BLE] subscribe failed, waiting", "error", ev.err)
			return
		}
		s.transition(StateAwaitingNotification)

	case notificationEvent:
		switch s.current {
		case StateSubscribing:
			// A value can only arrive on a live subscription.
			s.transition(StateAwaitingNotification)
		case StateAwaitingNotification:
		default:
			s.reject(ev)
			return
		}
		reading, err := protocol.DecodeWeight(ev.data)
		if err != nil {
			slog.Debug("[BLE] dropping undecodable notification", "error", err, "len", len(ev.data))
			return
		}
		if reading.Kilograms <= 0 {
			slog.Debug("[BLE] dropping non-positive reading", "raw", reading.Raw)
			return
		}
		m := domain.NewMeasurement(reading.Kilograms, s.opts.Now())
		s.finish(Outcome{Measurement: &m, Device: s.device})
	}
}

func (s *Session) reject(ev event) {
	slog.Debug("[BLE] ignoring stale event", "event", fmt.Sprintf("%T", ev), "state", s.current)
}

func (s *Session) transition(next State) {
	slog.Debug("[BLE] session state", "from", s.current, "to", next)
	s.current = next
	s.state.Store(int32(next))

	switch next {
	case StateDiscoveringService, StateDiscoveringCharacteristic, StateSubscribing:
		s.armStage()
	default:
		s.disarmStage()
	}
}

func (s *Session) armStage() {
	if s.opts.StageTimeout <= 0 {
		return
	}
	s.disarmStage()
	s.stage = time.NewTimer(s.opts.StageTimeout)
}

func (s *Session) disarmStage() {
	if s.stage != nil {
		s.stage.Stop()
		s.stage = nil
	}
}

// stageC returns the stage timer channel, or nil (blocks forever) when no
// stage timer is armed.
func (s *Session) stageC() <-chan time.Time {
	if s.stage == nil {
		return nil
	}
	return s.stage.C
}

func (s *Session) startScan() {
	s.transition(StateScanning)
	s.scanning = true
	go func() {
		err := s.adapter.Scan(WeightServiceUUID, func(d DiscoveredDevice) {
			if !s.post(advertisementEvent{d}) {
				// Scan started after teardown already stopped it.
				_ = s.adapter.StopScan()
			}
		})
		if err != nil {
			s.post(scanErrorEvent{err})
		}
	}()
}

func (s *Session) stopScan() {
	if !s.scanning {
		return
	}
	s.scanning = false
	if err := s.adapter.StopScan(); err != nil {
		slog.Warn("[BLE] stop scan failed", "error", err)
	}
}

func (s *Session) connect(address string) {
	go func() {
		conn, err := s.adapter.Connect(s.opCtx, address)
		if !s.post(connectedEvent{conn: conn, err: err}) && conn != nil {
			// The session ended while we were connecting.
			_ = conn.Disconnect()
		}
	}()
}

func (s *Session) discoverServices() {
	conn := s.conn
	go func() {
		svcs, err := conn.DiscoverServices([]string{WeightServiceUUID})
		s.post(servicesEvent{services: svcs, err: err})
	}()
}

func (s *Session) discoverCharacteristics(svc Service) {
	go func() {
		chars, err := svc.DiscoverCharacteristics([]string{WeightMeasurementUUID})
		s.post(characteristicsEvent{chars: chars, err: err})
	}()
}

func (s *Session) subscribe(ch Characteristic) {
	go func() {
		err := ch.Subscribe(func(data []byte) {
			buf := make([]byte, len(data))
			copy(buf, data)
			s.post(notificationEvent{buf})
		})
		s.post(subscribedEvent{err})
	}()
}

func (s *Session) fail(err error) {
	s.finish(Outcome{Err: err, Device: s.device})
}

func (s *Session) finish(o Outcome) {
	if s.outcome != nil {
		return
	}
	s.outcome = &o
	s.transition(StateTerminal)
	if o.Err != nil {
		slog.Warn("[BLE] session failed", "error", o.Err)
	} else {
		slog.Info("[BLE] measurement received", "kg", o.Measurement.WeightKg)
	}
}

// teardown runs once, after the loop exits.
func (s *Session) teardown() {
	close(s.done)
	s.opCancel()
	s.disarmStage()
	s.stopScan()
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect failed", "error", err)
		}
		s.conn = nil
	}
}

type event interface{}

type adapterStateEvent struct{ state AdapterState }

type scanErrorEvent struct{ err error }

type advertisementEvent struct{ device DiscoveredDevice }

type connectedEvent struct {
	conn Connection
	err  error
}

type disconnectedEvent struct{}

type servicesEvent struct {
	services []Service
	err      error
}

type characteristicsEvent struct {
	chars []Characteristic
	err   error
}

type subscribedEvent struct{ err error }

type notificationEvent struct{ data []byte }
