// Package bridge republishes the AI interviewer's synthesized voice into the
// conferencing session so remote observers hear it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/conference"
)

// Output is a candidate playback output the agent's voice may be routed from.
type Output interface {
	Label() string
	Autoplaying() bool
	Playing() bool
	Volume() float64
	HasRemoteSource() bool
	// CaptureTrack routes the output through a capture destination and
	// returns it as a publishable local track.
	CaptureTrack() (conference.LocalTrack, error)
}

// OutputRegistry enumerates playback outputs in registration order.
type OutputRegistry interface {
	Outputs() []Output
}

// Locate picks the agent's active output. An output tagged with the agent
// label wins outright; otherwise the first autoplaying output with no remote
// source, then the first playing output with audible volume. Ties resolve by
// registration order.
func Locate(reg OutputRegistry, agentLabel string) (Output, bool) {
	outputs := reg.Outputs()

	if agentLabel != "" {
		for _, o := range outputs {
			if o.Label() == agentLabel {
				return o, true
			}
		}
	}
	for _, o := range outputs {
		if o.Autoplaying() && !o.HasRemoteSource() {
			return o, true
		}
	}
	for _, o := range outputs {
		if o.Playing() && o.Volume() > 0 {
			return o, true
		}
	}
	return nil, false
}

// TrackPublisher publishes an extra local track on the conferencing session.
// *conference.Manager satisfies it.
type TrackPublisher interface {
	PublishTrack(ctx context.Context, track conference.LocalTrack, name string, source conference.TrackSource) (conference.Publication, error)
}

// Dependencies wires a Publisher to its collaborators.
type Dependencies struct {
	Registry OutputRegistry
	Session  TrackPublisher
	Logger   *slog.Logger
}

// Config bounds a Publisher.
type Config struct {
	// AgentLabel tags the agent's own output for deterministic discovery.
	AgentLabel string
	// TrackName names the republished track.
	TrackName string
	// Schedule holds the waits between attempts. The first attempt is
	// immediate; attempts total len(Schedule)+1.
	Schedule []time.Duration
}

// DefaultSchedule is the post-call-start attempt spacing.
var DefaultSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// errNotReady marks an attempt that found no output yet. It is an internal
// pacing signal, not a failure.
var errNotReady = errors.New("agent output not ready")

// Publisher locates the agent's voice output and republishes it once.
type Publisher struct {
	deps Dependencies
	cfg  Config

	mu        sync.Mutex
	published bool
	attempts  int
}

func New(deps Dependencies, cfg Config) (*Publisher, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("bridge: output registry is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("bridge: session publisher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.TrackName == "" {
		cfg.TrackName = "ai_interviewer_voice"
	}
	if cfg.Schedule == nil {
		cfg.Schedule = DefaultSchedule
	}
	return &Publisher{deps: deps, cfg: cfg}, nil
}

// Run drives the attempt schedule until the voice is republished or the
// schedule is exhausted. Exhaustion is absorbed: remote observers lose the
// agent audio, the interview continues. Run after success is a no-op.
func (p *Publisher) Run(ctx context.Context) error {
	if p.Published() {
		return nil
	}

	err := retry.Do(ctx, fixedSchedule(p.cfg.Schedule), func(ctx context.Context) error {
		return p.attempt(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	p.deps.Logger.Warn("agent voice bridge gave up",
		"attempts", p.Attempts(),
		"err", err,
	)
	return nil
}

func (p *Publisher) attempt(ctx context.Context) error {
	p.mu.Lock()
	if p.published {
		p.mu.Unlock()
		return nil
	}
	p.attempts++
	attempt := p.attempts
	p.mu.Unlock()

	out, ok := Locate(p.deps.Registry, p.cfg.AgentLabel)
	if !ok {
		p.deps.Logger.Debug("agent output not located yet", "attempt", attempt)
		return retry.RetryableError(errNotReady)
	}

	track, err := out.CaptureTrack()
	if err != nil {
		return retry.RetryableError(core.NewBridgeError(
			fmt.Sprintf("capture agent output %q: %v", out.Label(), err), err))
	}
	if _, err := p.deps.Session.PublishTrack(ctx, track, p.cfg.TrackName, conference.SourceAgentVoice); err != nil {
		if stopErr := track.Stop(); stopErr != nil {
			p.deps.Logger.Debug("bridge track stop after failed publish", "err", stopErr)
		}
		return retry.RetryableError(core.NewBridgeError(
			fmt.Sprintf("publish agent voice: %v", err), err))
	}

	p.mu.Lock()
	p.published = true
	p.mu.Unlock()
	p.deps.Logger.Info("agent voice republished", "output", out.Label(), "attempt", attempt)
	return nil
}

// Published reports whether the voice track is live.
func (p *Publisher) Published() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// Attempts returns how many attempts have run.
func (p *Publisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// fixedSchedule yields each delay once, then stops retrying.
func fixedSchedule(delays []time.Duration) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(delays) {
			return 0, true
		}
		d := delays[i]
		i++
		return d, false
	})
}
