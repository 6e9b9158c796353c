// Package intervene implements the human-takeover protocol: an HR participant
// can pause the AI interviewer, speak to the candidate directly, and hand the
// interview back.
package intervene

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

// AgentControl opens and closes the agent's fragment gate.
// *agent.Manager satisfies it.
type AgentControl interface {
	SetListening(listening bool)
}

// HumanChannel mutes and unmutes the HR audio path.
type HumanChannel interface {
	SetMuted(muted bool) error
}

// Flags is the intervention state.
type Flags struct {
	AgentActive bool
	HandRaised  bool
	AIPaused    bool
	HRSpeaking  bool
}

// Listening is the single place the gate is derived from the flags: the
// agent listens except while paused or while HR holds the floor.
func (f Flags) Listening() bool {
	return !(f.AIPaused || f.HRSpeaking)
}

// Dependencies wires a Controller to its collaborators.
type Dependencies struct {
	Agent      AgentControl
	Human      HumanChannel // optional
	Transcript *transcript.Log
	Logger     *slog.Logger
}

// Controller serializes HR intervention transitions and keeps the agent's
// listening gate consistent with them.
type Controller struct {
	deps Dependencies

	mu    sync.Mutex
	flags Flags
}

func New(deps Dependencies) (*Controller, error) {
	if deps.Agent == nil {
		return nil, fmt.Errorf("intervene: agent control is required")
	}
	if deps.Transcript == nil {
		return nil, fmt.Errorf("intervene: transcript log is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{deps: deps}, nil
}

// SetAgentActive tracks whether the interviewer call is live. Interventions
// are only valid while it is. Deactivation clears any intervention in flight.
func (c *Controller) SetAgentActive(active bool) {
	c.mu.Lock()
	c.flags.AgentActive = active
	if !active {
		c.flags.HandRaised = false
		c.flags.AIPaused = false
		c.flags.HRSpeaking = false
	}
	c.mu.Unlock()
}

// RaiseHand pauses the AI interviewer so HR can take over.
func (c *Controller) RaiseHand() error {
	c.mu.Lock()
	if !c.flags.AgentActive {
		c.mu.Unlock()
		return core.NewAgentError("cannot raise hand before the interview starts")
	}
	if c.flags.HandRaised {
		c.mu.Unlock()
		return nil
	}
	c.flags.HandRaised = true
	c.flags.AIPaused = true
	listening := c.flags.Listening()
	c.mu.Unlock()

	c.deps.Agent.SetListening(listening)
	c.deps.Transcript.AppendSystem("HR has raised their hand. AI interviewer is paused.")
	c.deps.Logger.Info("hr hand raised, agent paused")
	return nil
}

// StartSpeaking gives HR the floor: the agent stops listening and the HR
// audio channel is unmuted. Taking the floor consumes a raised hand.
func (c *Controller) StartSpeaking() error {
	c.mu.Lock()
	if !c.flags.AgentActive {
		c.mu.Unlock()
		return core.NewAgentError("cannot take the floor before the interview starts")
	}
	if c.flags.HRSpeaking {
		c.mu.Unlock()
		return nil
	}
	c.flags.HRSpeaking = true
	c.flags.HandRaised = false
	listening := c.flags.Listening()
	c.mu.Unlock()

	c.deps.Agent.SetListening(listening)
	if c.deps.Human != nil {
		if err := c.deps.Human.SetMuted(false); err != nil {
			c.deps.Logger.Warn("unmute hr channel failed", "err", err)
		}
	}
	c.deps.Transcript.AppendSystem("HR is now speaking to the candidate.")
	c.deps.Logger.Info("hr speaking started")
	return nil
}

// StopSpeaking returns the floor and unpauses the agent, so candidate
// fragments are recorded again immediately.
func (c *Controller) StopSpeaking() error {
	c.mu.Lock()
	if !c.flags.HRSpeaking {
		c.mu.Unlock()
		return nil
	}
	c.flags.HRSpeaking = false
	c.flags.AIPaused = false
	listening := c.flags.Listening()
	c.mu.Unlock()

	c.deps.Agent.SetListening(listening)
	if c.deps.Human != nil {
		if err := c.deps.Human.SetMuted(true); err != nil {
			c.deps.Logger.Warn("mute hr channel failed", "err", err)
		}
	}
	c.deps.Transcript.AppendSystem("HR has stopped speaking.")
	c.deps.Logger.Info("hr speaking stopped")
	return nil
}

// ResumeAI hands the interview back to the AI interviewer. Valid only while
// paused; it also closes an HR floor left open.
func (c *Controller) ResumeAI() error {
	c.mu.Lock()
	if !c.flags.AIPaused {
		c.mu.Unlock()
		return core.NewAgentError("AI interviewer is not paused")
	}
	c.flags.AIPaused = false
	c.flags.HandRaised = false
	c.flags.HRSpeaking = false
	listening := c.flags.Listening()
	c.mu.Unlock()

	c.deps.Agent.SetListening(listening)
	c.deps.Transcript.AppendSystem("AI interviewer has resumed.")
	c.deps.Logger.Info("agent resumed")
	return nil
}

// Snapshot returns the current intervention flags.
func (c *Controller) Snapshot() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}
