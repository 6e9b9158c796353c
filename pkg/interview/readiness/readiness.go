// Package readiness sequences an interview's startup dependencies and decides
// when the session is presentable.
package readiness

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hirekruit/interviewkit/pkg/interview/identity"
)

// Dep names one tracked startup dependency.
type Dep string

const (
	DepCompletionCheck Dep = "completion_check"
	DepConferencing    Dep = "conferencing"
	DepVoiceAgent      Dep = "voice_agent"
	DepPermissions     Dep = "permissions"
	DepConnection      Dep = "connection"
	DepRenderTarget    Dep = "render_target"
	DepAudioContext    Dep = "audio_context"
	DepBridge          Dep = "bridge"
)

// All lists every tracked dependency.
var All = []Dep{
	DepCompletionCheck,
	DepConferencing,
	DepVoiceAgent,
	DepPermissions,
	DepConnection,
	DepRenderTarget,
	DepAudioContext,
	DepBridge,
}

// hrGate and candidateGate are the dependencies that must hold before the
// session counts as ready for each role. DepBridge is tracked for diagnostics
// but never gates.
var (
	hrGate        = []Dep{DepConferencing, DepConnection, DepRenderTarget}
	candidateGate = []Dep{DepCompletionCheck, DepConferencing, DepVoiceAgent, DepPermissions, DepRenderTarget, DepAudioContext}
)

// Phase is the sequencer's lifecycle phase. ReadyRendered and Error are
// terminal; readiness never reverts.
type Phase string

const (
	PhasePreparing     Phase = "preparing"
	PhaseReady         Phase = "ready"
	PhaseReadyRendered Phase = "ready-rendered"
	PhaseError         Phase = "error"
)

// Dependencies wires a Sequencer to its collaborators.
type Dependencies struct {
	Logger *slog.Logger
	// OnPhase observes phase transitions, in order.
	OnPhase func(Phase)
	// AfterFunc schedules the settle and fallback timers. Tests inject a
	// manual scheduler; nil selects time.AfterFunc.
	AfterFunc func(time.Duration, func()) *time.Timer
}

// Config bounds a Sequencer.
type Config struct {
	Role identity.Role
	// SettleDelay is the pause between ready and ready-rendered.
	SettleDelay time.Duration
	// Fallback forces every dependency ready this long after Start, so a
	// stuck dependency cannot hold the session hostage.
	Fallback time.Duration
}

const (
	DefaultSettleDelay = 1500 * time.Millisecond
	DefaultFallback    = 10 * time.Second
)

// Sequencer aggregates dependency readiness into a one-way phase progression.
type Sequencer struct {
	deps Dependencies
	cfg  Config

	mu            sync.Mutex
	states        map[Dep]bool
	phase         Phase
	errMsg        string
	started       bool
	forced        bool
	settleTimer   *time.Timer
	fallbackTimer *time.Timer
}

func New(deps Dependencies, cfg Config) (*Sequencer, error) {
	if cfg.Role != identity.RoleHR && cfg.Role != identity.RoleCandidate {
		return nil, fmt.Errorf("readiness: unknown role %q", cfg.Role)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = time.AfterFunc
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = DefaultFallback
	}
	states := make(map[Dep]bool, len(All))
	for _, d := range All {
		states[d] = false
	}
	return &Sequencer{
		deps:   deps,
		cfg:    cfg,
		states: states,
		phase:  PhasePreparing,
	}, nil
}

// Start arms the global fallback. Dependency updates before Start still
// count; the fallback clock runs from Start.
func (s *Sequencer) Start() {
	s.mu.Lock()
	if s.started || s.terminalLocked() {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.fallbackTimer = s.deps.AfterFunc(s.cfg.Fallback, s.fireFallback)
	s.mu.Unlock()
}

// Set records a dependency state and re-evaluates readiness. Once the
// session is ready, later flips to false are recorded but never revert it.
func (s *Sequencer) Set(dep Dep, ok bool) {
	s.mu.Lock()
	if _, known := s.states[dep]; !known {
		s.mu.Unlock()
		s.deps.Logger.Warn("unknown readiness dependency", "dep", string(dep))
		return
	}
	s.states[dep] = ok
	notify := s.evaluateLocked()
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// evaluateLocked advances preparing to ready when the role's gate holds.
// It returns the phase notification to run outside the lock.
func (s *Sequencer) evaluateLocked() func() {
	if s.phase != PhasePreparing {
		return nil
	}
	gate := candidateGate
	if s.cfg.Role == identity.RoleHR {
		gate = hrGate
	}
	for _, d := range gate {
		if !s.states[d] {
			return nil
		}
	}

	s.phase = PhaseReady
	s.settleTimer = s.deps.AfterFunc(s.cfg.SettleDelay, s.fireSettle)
	s.deps.Logger.Info("session ready, settling", "settle", s.cfg.SettleDelay)
	return s.notifier(PhaseReady)
}

func (s *Sequencer) fireSettle() {
	s.mu.Lock()
	if s.phase != PhaseReady {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseReadyRendered
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
	}
	notify := s.notifier(PhaseReadyRendered)
	s.mu.Unlock()

	s.deps.Logger.Info("session ready-rendered")
	if notify != nil {
		notify()
	}
}

func (s *Sequencer) fireFallback() {
	s.mu.Lock()
	if s.phase != PhasePreparing {
		s.mu.Unlock()
		return
	}
	var stuck []string
	for _, d := range All {
		if !s.states[d] {
			stuck = append(stuck, string(d))
			s.states[d] = true
		}
	}
	s.forced = true
	notify := s.evaluateLocked()
	s.mu.Unlock()

	s.deps.Logger.Warn("readiness fallback fired, forcing dependencies ready",
		"after", s.cfg.Fallback,
		"stuck", stuck,
	)
	if notify != nil {
		notify()
	}
}

// Fail moves the sequencer to its error terminal. Calls after a terminal
// phase are ignored.
func (s *Sequencer) Fail(message string) {
	s.mu.Lock()
	if s.terminalLocked() {
		s.mu.Unlock()
		s.deps.Logger.Debug("readiness failure after terminal phase", "message", message)
		return
	}
	s.phase = PhaseError
	s.errMsg = message
	s.stopTimersLocked()
	notify := s.notifier(PhaseError)
	s.mu.Unlock()

	s.deps.Logger.Error("session startup failed", "message", message)
	if notify != nil {
		notify()
	}
}

// Stop cancels pending timers without changing phase.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.mu.Unlock()
}

func (s *Sequencer) stopTimersLocked() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
	}
}

func (s *Sequencer) terminalLocked() bool {
	return s.phase == PhaseReadyRendered || s.phase == PhaseError
}

func (s *Sequencer) notifier(p Phase) func() {
	if s.deps.OnPhase == nil {
		return nil
	}
	fn := s.deps.OnPhase
	return func() { fn(p) }
}

// Phase returns the current phase.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Forced reports whether the fallback had to force dependencies ready.
func (s *Sequencer) Forced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

// Err returns the failure message for the error terminal, empty otherwise.
func (s *Sequencer) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Snapshot returns a copy of the dependency states.
func (s *Sequencer) Snapshot() map[Dep]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Dep]bool, len(s.states))
	for d, ok := range s.states {
		out[d] = ok
	}
	return out
}
