package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"viva/alert"
	"viva/debounce"
	"viva/log"
	"viva/speaking"
)

type State int

const (
	Stopped State = iota
	Starting
	Active
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Active:
		return "active"
	}
	return "stopped"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "starting":
		*s = Starting
	case "active":
		*s = Active
	default:
		*s = Stopped
	}
	return nil
}

type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

type Config struct {
	Throttle         time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	RestartDelay     time.Duration
	MaxStartAttempts int
	Options          Options
}

const (
	keyUnsupported = "recognition-unsupported"
	keyPermission  = "recognition-permission"
	keyFailed      = "recognition-failed"
)

// Supervisor owns every start and stop of the engine.
//
//	Stopped --start, permitted, not speaking--> Starting --engine ok--> Active
//	Active  --stop, pause, or engine halt-->    Stopped
type Supervisor struct {
	engine   Engine
	speaking *speaking.Monitor
	clock    clockwork.Clock
	cfg      Config
	alerts   *alert.Once
	throttle *debounce.Throttle

	// OnReset runs during a restart, after the engine stopped and before
	// its transcript is cleared.
	OnReset func()

	op sync.Mutex // serializes engine Start/Stop

	mu         sync.Mutex
	state      State
	permission Permission
	attempts   int
	wanted     bool
	paused     bool
	pending    clockwork.Timer
	gen        uint64
	restarts   int
}

func NewSupervisor(engine Engine, monitor *speaking.Monitor, clock clockwork.Clock, cfg Config, alerts *alert.Once) *Supervisor {
	if alerts == nil {
		alerts = alert.NewOnce(nil)
	}
	if cfg.MaxStartAttempts <= 0 {
		cfg.MaxStartAttempts = 5
	}
	return &Supervisor{
		engine:   engine,
		speaking: monitor,
		clock:    clock,
		cfg:      cfg,
		alerts:   alerts,
		throttle: debounce.NewThrottle(clock, cfg.Throttle),
	}
}

func (s *Supervisor) unsupported() error {
	s.alerts.ReportOnce(keyUnsupported, alert.Alert{
		Kind:    alert.Capability,
		Message: "Speech recognition is unavailable; the interview will continue without it",
	})
	return ErrUnsupported
}

// StartListening starts the engine unless a start was attempted within the
// throttle window.
func (s *Supervisor) StartListening(ctx context.Context) error {
	if !s.engine.Supported() {
		return s.unsupported()
	}
	if !s.throttle.Allow() {
		return nil
	}
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return nil
	}
	if s.speaking.IsSpeaking() {
		// resumed by SyncTurn once playback ends
		s.paused = true
		s.mu.Unlock()
		return nil
	}
	perm := s.permission
	s.mu.Unlock()

	if perm != PermissionGranted {
		ok, err := s.engine.RequestPermission(ctx)
		if err != nil || !ok {
			s.mu.Lock()
			s.permission = PermissionDenied
			s.attempts++
			s.mu.Unlock()
			s.alerts.ReportOnce(keyPermission, alert.Alert{
				Kind:    alert.Permission,
				Message: "Microphone access is required for speech recognition",
				Err:     err,
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			}
			return ErrPermissionDenied
		}
		s.mu.Lock()
		s.permission = PermissionGranted
		s.mu.Unlock()
		s.alerts.Clear(keyPermission)
	}

	s.mu.Lock()
	s.state = Starting
	s.mu.Unlock()

	err := s.engine.Start(ctx, s.cfg.Options)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Stopped
		s.attempts++
		log.RecognitionEvent("start_failed", s.attempts)
		return fmt.Errorf("start recognition: %w", err)
	}
	s.state = Active
	s.attempts = 0
	s.paused = false
	log.RecognitionEvent("started", 0)
	return nil
}

// StopListening halts the engine. It is a no-op unless the engine is
// running or starting.
func (s *Supervisor) StopListening() error {
	return s.stop(false)
}

func (s *Supervisor) stop(pause bool) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopped
	s.paused = pause
	s.mu.Unlock()

	if err := s.engine.Stop(); err != nil {
		return fmt.Errorf("stop recognition: %w", err)
	}
	return nil
}

// Activate marks recognition as wanted for the running session.
func (s *Supervisor) Activate() {
	s.mu.Lock()
	s.wanted = true
	s.mu.Unlock()
	s.alerts.Clear(keyFailed)
}

// Deactivate cancels any scheduled start and stops wanting recognition.
// It does not stop a running engine; call StopListening for that.
func (s *Supervisor) Deactivate() {
	s.mu.Lock()
	s.wanted = false
	s.paused = false
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
}

// ScheduleStart starts the engine after the backoff delay for the current
// attempt count, and keeps retrying on failure up to MaxStartAttempts.
func (s *Supervisor) ScheduleStart(ctx context.Context) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := debounce.Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, s.attempts)
	s.schedule(ctx, delay)
	return delay
}

// schedule must be called with mu held.
func (s *Supervisor) schedule(ctx context.Context, delay time.Duration) {
	if s.pending != nil {
		s.pending.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = s.clock.AfterFunc(delay, func() { s.autoStart(ctx, gen) })
}

func (s *Supervisor) autoStart(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	wanted := s.wanted
	s.mu.Unlock()

	if !wanted || ctx.Err() != nil {
		return
	}
	if !s.engine.Supported() {
		s.unsupported()
		return
	}
	s.throttle.Mark()
	err := s.start(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, ErrPermissionDenied) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts >= s.cfg.MaxStartAttempts {
		log.Errorf("recognition: giving up after %d attempts: %v", s.attempts, err)
		s.alerts.ReportOnce(keyFailed, alert.Alert{
			Kind:    alert.Recognition,
			Message: "Speech recognition keeps failing to start",
			Err:     err,
		})
		return
	}
	if s.wanted {
		s.schedule(ctx, debounce.Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, s.attempts))
	}
}

// Restart stops the engine, clears its transcript, and starts it again
// after RestartDelay. It returns before the new start happens.
func (s *Supervisor) Restart(ctx context.Context) {
	s.mu.Lock()
	s.restarts++
	n := s.restarts
	s.mu.Unlock()
	log.RecognitionEvent("restart", n)

	if err := s.stop(false); err != nil {
		log.Warnf("recognition restart: %v", err)
	}
	if s.OnReset != nil {
		s.OnReset()
	}
	s.engine.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wanted {
		return
	}
	s.schedule(ctx, s.cfg.RestartDelay)
}

// Watchdog restarts the engine when the session wants it running but it
// has silently stopped. It reports whether a restart was triggered.
func (s *Supervisor) Watchdog(ctx context.Context, processing bool) bool {
	if processing || s.speaking.IsSpeaking() {
		return false
	}
	s.mu.Lock()
	idle := s.wanted && s.pending == nil && s.state != Starting
	s.mu.Unlock()
	if !idle || s.engine.Listening() {
		return false
	}
	log.Info("recognition: watchdog found engine idle")
	s.Restart(ctx)
	return true
}

// SyncTurn enforces turn-taking: pause while the interviewer speaks,
// resume as soon as it stops.
func (s *Supervisor) SyncTurn(ctx context.Context) {
	talking := s.speaking.IsSpeaking()

	s.mu.Lock()
	state, paused, wanted := s.state, s.paused, s.wanted
	s.mu.Unlock()

	switch {
	case talking && state != Stopped:
		if err := s.stop(true); err != nil {
			log.Warnf("recognition pause: %v", err)
		}
	case !talking && paused && wanted && state == Stopped:
		s.throttle.Mark()
		if err := s.start(ctx); err != nil && !errors.Is(err, ErrPermissionDenied) {
			log.Warnf("recognition resume: %v", err)
			s.ScheduleStart(ctx)
		}
	}
}

// Observe reconciles with the engine's own listening flag.
func (s *Supervisor) Observe(listening bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !listening && s.state == Active {
		s.state = Stopped
		log.RecognitionEvent("engine_halted", s.attempts)
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Supervisor) LastStart() time.Time {
	return s.throttle.Last()
}
