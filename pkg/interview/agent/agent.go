// Package agent supervises the AI interviewer's voice session: lifecycle,
// event handling, and the listening/mute gates that decide which transcript
// fragments become part of the interview record.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

// State is the lifecycle state of a voice-agent session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateErrored    State = "errored"
)

// StartConfig is the session start request sent to the agent transport.
type StartConfig struct {
	Model        string
	Voice        string
	SystemPrompt string
	// Prior seeds the agent with earlier exchanges when a session resumes.
	Prior []transcript.Entry
}

// Transport carries the voice-agent session. Events() remains readable until
// the transport closes it after Stop or failure.
type Transport interface {
	Start(ctx context.Context, cfg StartConfig) error
	Stop(ctx context.Context) error
	Events() <-chan Event
}

// MuteControl is implemented by transports that can drop the user's audio at
// the source in addition to the manager's fragment gate.
type MuteControl interface {
	SetMuted(muted bool) error
}

// AudioEnvironment prepares local playback before the agent speaks.
type AudioEnvironment interface {
	EnsureResumed(ctx context.Context) error
	SetOutputMuted(muted bool) error
}

// Handlers receives agent session events after the manager's gates.
// All fields are optional.
type Handlers struct {
	OnTranscript func(transcript.Entry)
	OnPartial    func(role SpeakerRole, text string)
	OnSpeaking   func(speaking bool)
	OnCallStart  func(callID string)
	OnCallEnd    func(callID string)
	OnError      func(err error)
}

// Dependencies wires a Manager to its collaborators.
type Dependencies struct {
	Transport  Transport
	Audio      AudioEnvironment // optional
	Transcript *transcript.Log
	Handlers   Handlers
	Logger     *slog.Logger
}

// Config bounds a Manager.
type Config struct {
	Model string
	Voice string
}

// InitParams are the admission facts the manager validates before it will
// create a session.
type InitParams struct {
	Role           identity.Role
	RoundCompleted bool
	Credential     string
	ReferenceText  string // candidate resume text driving the system prompt
}

// Manager owns the voice-agent session for one interview. Exactly one session
// exists per Manager; Initialize is idempotent and Start may follow it once.
type Manager struct {
	deps Dependencies
	cfg  Config

	closed atomic.Bool

	mu            sync.Mutex
	initialized   bool
	started       bool
	state         State
	listening     bool
	muted         bool
	callID        string
	credential    string
	referenceText string
	lastQuestion  string

	pumpDone chan struct{}
}

func New(deps Dependencies, cfg Config) (*Manager, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("agent: transport is required")
	}
	if deps.Transcript == nil {
		return nil, fmt.Errorf("agent: transcript log is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Voice == "" {
		cfg.Voice = "11labs"
	}
	return &Manager{
		deps:  deps,
		cfg:   cfg,
		state: StateIdle,
	}, nil
}

// Initialize validates that a session is allowed and records its inputs.
// It refuses completed rounds, HR participants, and missing credentials or
// reference text. Calling it again after success is a no-op.
func (m *Manager) Initialize(p InitParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.deps.Logger.Debug("agent initialize skipped, session exists")
		return nil
	}
	if p.RoundCompleted {
		return core.NewAgentError("interview round already completed")
	}
	if p.Role == identity.RoleHR {
		return core.NewAgentError("voice agent is not created for HR participants")
	}
	if strings.TrimSpace(p.Credential) == "" {
		return core.NewAgentError("missing voice-agent credential")
	}
	if strings.TrimSpace(p.ReferenceText) == "" {
		return core.NewAgentError("missing candidate reference text")
	}

	m.credential = p.Credential
	m.referenceText = p.ReferenceText
	m.initialized = true
	return nil
}

// Initialized reports whether the session inputs have been accepted.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Start opens the agent session. prior seeds the conversation when resuming
// a reloaded interview. Start is a no-op once the session is running.
func (m *Manager) Start(ctx context.Context, prior []transcript.Entry) error {
	if m.closed.Load() {
		return core.NewAgentError("voice agent stopped")
	}
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return core.NewAgentError("voice agent not initialized")
	}
	if m.started {
		m.mu.Unlock()
		m.deps.Logger.Debug("agent start skipped, session running")
		return nil
	}
	m.started = true
	m.state = StateConnecting
	ref := m.referenceText
	m.mu.Unlock()

	// Playback must be unlocked before the agent produces audio.
	if m.deps.Audio != nil {
		if err := m.deps.Audio.EnsureResumed(ctx); err != nil {
			m.deps.Logger.Warn("audio environment resume failed", "err", err)
		}
		if err := m.deps.Audio.SetOutputMuted(false); err != nil {
			m.deps.Logger.Warn("audio environment unmute failed", "err", err)
		}
	}

	err := m.deps.Transport.Start(ctx, StartConfig{
		Model:        m.cfg.Model,
		Voice:        m.cfg.Voice,
		SystemPrompt: buildSystemPrompt(ref),
		Prior:        prior,
	})
	if err != nil {
		m.mu.Lock()
		m.started = false
		m.state = StateErrored
		m.mu.Unlock()
		return core.NewAgentError(fmt.Sprintf("start voice agent: %v", err))
	}

	done := make(chan struct{})
	m.mu.Lock()
	if m.closed.Load() {
		// Stop won the race while the transport was connecting; do not leave
		// an event pump behind.
		m.state = StateEnded
		m.mu.Unlock()
		_ = m.deps.Transport.Stop(ctx)
		return core.NewAgentError("voice agent stopped")
	}
	m.pumpDone = done
	m.mu.Unlock()
	go m.pump(done)
	return nil
}

// pump drains transport events until the channel closes.
func (m *Manager) pump(done chan struct{}) {
	defer close(done)
	for ev := range m.deps.Transport.Events() {
		m.handle(ev)
	}
}

func (m *Manager) handle(ev Event) {
	if m.closed.Load() {
		return
	}
	switch ev.Type {
	case EventTranscript:
		m.handleTranscript(ev)
	case EventSpeakingStart:
		if m.deps.Handlers.OnSpeaking != nil {
			m.deps.Handlers.OnSpeaking(true)
		}
	case EventSpeakingEnd:
		if m.deps.Handlers.OnSpeaking != nil {
			m.deps.Handlers.OnSpeaking(false)
		}
	case EventCallStart:
		m.mu.Lock()
		m.state = StateActive
		m.listening = true
		m.callID = ev.CallID
		if m.callID == "" {
			m.callID = uuid.NewString()
		}
		m.lastQuestion = ""
		callID := m.callID
		m.mu.Unlock()
		m.deps.Logger.Info("agent call started", "call_id", callID)
		if m.deps.Handlers.OnCallStart != nil {
			m.deps.Handlers.OnCallStart(callID)
		}
	case EventCallEnd:
		m.mu.Lock()
		m.state = StateEnded
		m.listening = false
		callID := m.callID
		m.mu.Unlock()
		m.deps.Logger.Info("agent call ended", "call_id", callID)
		if m.deps.Handlers.OnCallEnd != nil {
			m.deps.Handlers.OnCallEnd(callID)
		}
	case EventError:
		m.mu.Lock()
		m.state = StateErrored
		m.mu.Unlock()
		err := core.NewAgentError(ev.Message)
		m.deps.Logger.Error("agent session error", "err", ev.Message)
		if m.deps.Handlers.OnError != nil {
			m.deps.Handlers.OnError(err)
		}
	}
}

// handleTranscript applies the listening and mute gates. User fragments are
// dropped unless the agent is listening, and dropped while the user is muted
// even when it is. Assistant fragments pass whenever the agent is listening.
func (m *Manager) handleTranscript(ev Event) {
	m.mu.Lock()
	listening := m.listening
	muted := m.muted
	m.mu.Unlock()

	if !listening {
		return
	}
	if ev.Role == SpeakerUser && muted {
		return
	}

	if !ev.Final {
		if m.deps.Handlers.OnPartial != nil {
			m.deps.Handlers.OnPartial(ev.Role, ev.Text)
		}
		return
	}

	role := transcript.RoleUser
	if ev.Role == SpeakerAssistant {
		role = transcript.RoleAssistant
		m.mu.Lock()
		m.lastQuestion = ev.Text
		m.mu.Unlock()
	}
	entry := m.deps.Transcript.Append(role, ev.Text)
	if m.deps.Handlers.OnTranscript != nil {
		m.deps.Handlers.OnTranscript(entry)
	}
}

// SetListening opens or closes the agent's fragment gate. The intervention
// controller drives this during human takeover.
func (m *Manager) SetListening(listening bool) {
	m.mu.Lock()
	m.listening = listening
	m.mu.Unlock()
}

// UpdateMuteState records the user's microphone mute so in-flight fragments
// finalized afterward are dropped, and forwards it to the transport when the
// transport can drop audio at the source.
func (m *Manager) UpdateMuteState(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()

	if mc, ok := m.deps.Transport.(MuteControl); ok {
		if err := mc.SetMuted(muted); err != nil {
			m.deps.Logger.Warn("transport mute update failed", "muted", muted, "err", err)
		}
	}
}

// Stop ends the agent session and waits for the event stream to drain.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	started := m.started
	m.state = StateEnded
	m.listening = false
	pumpDone := m.pumpDone
	m.mu.Unlock()

	if !started {
		return nil
	}
	err := m.deps.Transport.Stop(ctx)
	if pumpDone != nil {
		select {
		case <-pumpDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return core.NewAgentError(fmt.Sprintf("stop voice agent: %v", err))
	}
	return nil
}

// State returns the session lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Listening reports whether the fragment gate is open.
func (m *Manager) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// Muted reports the recorded user mute state.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// CurrentQuestion returns the agent's most recent finalized utterance.
func (m *Manager) CurrentQuestion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuestion
}

// CallID returns the active call identifier, empty before call start.
func (m *Manager) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID
}

func buildSystemPrompt(referenceText string) string {
	return "You are a professional interviewer conducting a live technical interview. " +
		"Ask one question at a time, follow up on the candidate's answers, and keep a courteous tone. " +
		"The candidate's resume follows.\n\n" + referenceText
}
