// Package orchestrator owns one interview instance end to end: staged
// startup, the readiness sequence, agent lifecycle, HR intervention, and
// teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/agent"
	"github.com/hirekruit/interviewkit/pkg/interview/completion"
	"github.com/hirekruit/interviewkit/pkg/interview/conference"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
	"github.com/hirekruit/interviewkit/pkg/interview/intervene"
	"github.com/hirekruit/interviewkit/pkg/interview/metrics"
	"github.com/hirekruit/interviewkit/pkg/interview/readiness"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

// ConferenceSession is the conferencing surface the orchestrator drives.
// *conference.Manager satisfies it.
type ConferenceSession interface {
	Initialize(ctx context.Context, d identity.Descriptor) error
	Permission() conference.PermissionState
	SetAudioMuted(muted bool) error
	SetVideoMuted(muted bool) error
	StopCamera()
	Close()
}

// AgentSession is the voice-agent surface the orchestrator drives.
// *agent.Manager satisfies it.
type AgentSession interface {
	Initialize(p agent.InitParams) error
	Start(ctx context.Context, prior []transcript.Entry) error
	Stop(ctx context.Context) error
	UpdateMuteState(muted bool)
	SetListening(listening bool)
	State() agent.State
}

// CompletionChecker fetches candidate round records.
// *completion.Client satisfies it.
type CompletionChecker interface {
	Fetch(ctx context.Context, candidateRef string) (completion.CandidateRecord, error)
}

// VoiceBridge republishes the agent's voice into the session.
// *bridge.Publisher satisfies it.
type VoiceBridge interface {
	Run(ctx context.Context) error
	Attempts() int
	Published() bool
}

// Dependencies wires an Orchestrator to its collaborators. Completion and
// Bridge are candidate-side; HR instances leave them nil.
type Dependencies struct {
	Conference ConferenceSession
	Completion CompletionChecker
	Bridge     VoiceBridge
	Transcript *transcript.Log
	Metrics    *metrics.Metrics // optional
	Logger     *slog.Logger
}

// Config bounds an Orchestrator.
type Config struct {
	Role           identity.Role
	SettleDelay    time.Duration
	Fallback       time.Duration
	AutoStartDelay time.Duration
}

// Params carries the per-interview inputs to Start.
type Params struct {
	Descriptor      identity.Descriptor
	AgentCredential string
	ReferenceText   string
	// Prior seeds the agent when resuming a reloaded interview.
	Prior []transcript.Entry
}

// Orchestrator sequences one interview. Events arriving after Close are
// dropped; the first fatal error wins the error surface.
type Orchestrator struct {
	deps Dependencies
	cfg  Config

	sequencer  *readiness.Sequencer
	intervener *intervene.Controller

	closed atomic.Bool

	mu        sync.Mutex
	agent     AgentSession
	params    Params
	startedAt time.Time
	errMsg    string
	bridgeCtx context.CancelFunc
}

func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Conference == nil {
		return nil, fmt.Errorf("orchestrator: conference session is required")
	}
	if deps.Transcript == nil {
		return nil, fmt.Errorf("orchestrator: transcript log is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Role == "" {
		cfg.Role = identity.RoleCandidate
	}
	if cfg.Role == identity.RoleCandidate && deps.Completion == nil {
		return nil, fmt.Errorf("orchestrator: completion checker is required for candidates")
	}
	if cfg.AutoStartDelay <= 0 {
		cfg.AutoStartDelay = time.Second
	}

	o := &Orchestrator{deps: deps, cfg: cfg}

	seq, err := readiness.New(readiness.Dependencies{
		Logger:  deps.Logger,
		OnPhase: o.onPhase,
	}, readiness.Config{
		Role:        cfg.Role,
		SettleDelay: cfg.SettleDelay,
		Fallback:    cfg.Fallback,
	})
	if err != nil {
		return nil, err
	}
	o.sequencer = seq
	return o, nil
}

// BindAgent attaches the voice-agent session. The agent is constructed with
// Handlers() after New, so binding is a separate step. Candidates must bind
// before Start.
func (o *Orchestrator) BindAgent(a AgentSession) {
	o.mu.Lock()
	o.agent = a
	o.mu.Unlock()

	ctl, err := intervene.New(intervene.Dependencies{
		Agent:      a,
		Human:      hrChannel{o.deps.Conference},
		Transcript: o.deps.Transcript,
		Logger:     o.deps.Logger,
	})
	if err != nil {
		// Only reachable with a nil agent, which this path cannot produce.
		panic(err)
	}
	o.mu.Lock()
	o.intervener = ctl
	o.mu.Unlock()
}

// Handlers returns the agent event handlers that route into this
// orchestrator. Pass them to the agent manager's Dependencies.
func (o *Orchestrator) Handlers() agent.Handlers {
	return agent.Handlers{
		OnTranscript: func(e transcript.Entry) {
			o.deps.Metrics.RecordTranscript(string(e.Role))
		},
		OnCallStart: o.onCallStart,
		OnCallEnd:   o.onCallEnd,
		OnError:     o.onAgentError,
	}
}

// Start runs the staged startup: completion check, conferencing join, agent
// validation. The readiness sequence decides when the interview actually
// begins; for candidates the agent auto-starts after ready-rendered.
func (o *Orchestrator) Start(ctx context.Context, p Params) error {
	if o.closed.Load() {
		return core.NewConnectionError("interview session is closed", nil)
	}

	o.mu.Lock()
	o.params = p
	o.startedAt = time.Now()
	agentBound := o.agent != nil
	o.mu.Unlock()

	if o.cfg.Role == identity.RoleCandidate && !agentBound {
		return core.NewAgentError("no voice-agent session bound")
	}

	o.sequencer.Start()
	o.deps.Metrics.RecordSessionStart()

	roundCompleted := false
	if o.cfg.Role == identity.RoleCandidate {
		rec, err := o.deps.Completion.Fetch(ctx, p.Descriptor.CandidateRef)
		if err != nil {
			return o.fail(err)
		}
		roundCompleted = rec.Completed(p.Descriptor.Category)
		if roundCompleted {
			return o.fail(core.NewAgentError("interview round already completed"))
		}
		o.sequencer.Set(readiness.DepCompletionCheck, true)
	}

	if err := o.deps.Conference.Initialize(ctx, p.Descriptor); err != nil {
		return o.fail(err)
	}
	o.sequencer.Set(readiness.DepConferencing, true)
	o.sequencer.Set(readiness.DepConnection, true)
	// The permission flow has resolved either way; denial degrades, it does
	// not block readiness.
	o.sequencer.Set(readiness.DepPermissions, true)
	if o.deps.Conference.Permission() == conference.PermissionDenied {
		o.deps.Logger.Warn("continuing without capture devices")
	}

	if o.cfg.Role == identity.RoleCandidate {
		o.mu.Lock()
		a := o.agent
		o.mu.Unlock()
		err := a.Initialize(agent.InitParams{
			Role:           p.Descriptor.Role,
			RoundCompleted: roundCompleted,
			Credential:     p.AgentCredential,
			ReferenceText:  p.ReferenceText,
		})
		if err != nil {
			return o.fail(err)
		}
		o.sequencer.Set(readiness.DepVoiceAgent, true)
	}
	return nil
}

// ReportRenderTarget marks the presentation mount ready.
func (o *Orchestrator) ReportRenderTarget() {
	o.sequencer.Set(readiness.DepRenderTarget, true)
}

// ReportAudioContext marks local playback unlocked.
func (o *Orchestrator) ReportAudioContext() {
	o.sequencer.Set(readiness.DepAudioContext, true)
}

func (o *Orchestrator) onPhase(p readiness.Phase) {
	if o.closed.Load() {
		return
	}
	switch p {
	case readiness.PhaseReadyRendered:
		o.mu.Lock()
		latency := time.Since(o.startedAt)
		o.mu.Unlock()
		o.deps.Metrics.RecordReadiness(string(o.cfg.Role), o.sequencer.Forced(), latency)
		if o.cfg.Role == identity.RoleCandidate {
			go o.autoStart()
		}
	case readiness.PhaseError:
		o.deps.Logger.Error("interview startup entered error state", "err", o.sequencer.Err())
	}
}

// autoStart launches the agent shortly after the session is presentable.
func (o *Orchestrator) autoStart() {
	time.Sleep(o.cfg.AutoStartDelay)
	if o.closed.Load() {
		return
	}
	o.mu.Lock()
	a := o.agent
	prior := o.params.Prior
	o.mu.Unlock()
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Start(ctx, prior); err != nil {
		o.fail(err)
	}
}

func (o *Orchestrator) onCallStart(callID string) {
	if o.closed.Load() {
		return
	}
	o.mu.Lock()
	ctl := o.intervener
	o.mu.Unlock()
	if ctl != nil {
		ctl.SetAgentActive(true)
	}
	o.deps.Transcript.AppendSystem("Interview started.")

	if o.deps.Bridge != nil {
		ctx, cancel := context.WithCancel(context.Background())
		o.mu.Lock()
		o.bridgeCtx = cancel
		o.mu.Unlock()
		go func() {
			defer cancel()
			if err := o.deps.Bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.deps.Logger.Warn("voice bridge run ended", "err", err)
			}
			o.deps.Metrics.RecordBridgeAttempts(o.deps.Bridge.Attempts())
			o.sequencer.Set(readiness.DepBridge, o.deps.Bridge.Published())
		}()
	}
	o.deps.Logger.Info("interview call live", "call_id", callID)
}

func (o *Orchestrator) onCallEnd(callID string) {
	if o.closed.Load() {
		return
	}
	o.mu.Lock()
	ctl := o.intervener
	cancel := o.bridgeCtx
	o.bridgeCtx = nil
	o.mu.Unlock()
	if ctl != nil {
		ctl.SetAgentActive(false)
	}
	if cancel != nil {
		cancel()
	}
	o.deps.Transcript.AppendSystem("Interview ended.")
	o.deps.Logger.Info("interview call ended", "call_id", callID)
}

func (o *Orchestrator) onAgentError(err error) {
	if o.closed.Load() {
		return
	}
	o.fail(err)
}

// fail records the first fatal error on the single error surface and moves
// the readiness sequence to its error terminal. Non-fatal taxonomy classes
// are logged and absorbed.
func (o *Orchestrator) fail(err error) error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		o.deps.Metrics.RecordError(string(coreErr.Type))
		if !coreErr.IsFatal() {
			o.deps.Logger.Warn("absorbed non-fatal failure", "err", err)
			return nil
		}
	}

	msg := errorMessage(err)
	o.mu.Lock()
	if o.errMsg == "" {
		o.errMsg = msg
	}
	o.mu.Unlock()

	o.sequencer.Fail(msg)
	return err
}

// errorMessage flattens an error to the single human-readable string shown
// to the participant.
func errorMessage(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr.Message
	}
	return err.Error()
}

// Err returns the surfaced error message, empty while healthy.
func (o *Orchestrator) Err() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// Phase returns the readiness phase.
func (o *Orchestrator) Phase() readiness.Phase {
	return o.sequencer.Phase()
}

// SetAudioMuted flips the user microphone on both surfaces: the published
// conferencing track and the agent's fragment gate.
func (o *Orchestrator) SetAudioMuted(muted bool) error {
	o.mu.Lock()
	a := o.agent
	o.mu.Unlock()
	if a != nil {
		a.UpdateMuteState(muted)
	}
	return o.deps.Conference.SetAudioMuted(muted)
}

// SetVideoMuted flips the published camera track.
func (o *Orchestrator) SetVideoMuted(muted bool) error {
	return o.deps.Conference.SetVideoMuted(muted)
}

// StopCamera stops local capture outright.
func (o *Orchestrator) StopCamera() {
	o.deps.Conference.StopCamera()
}

// RaiseHand pauses the AI interviewer for HR takeover.
func (o *Orchestrator) RaiseHand() error {
	return o.intervention("raise_hand", func(c *intervene.Controller) error { return c.RaiseHand() })
}

// HRStartSpeaking gives HR the floor.
func (o *Orchestrator) HRStartSpeaking() error {
	return o.intervention("hr_start_speaking", func(c *intervene.Controller) error { return c.StartSpeaking() })
}

// HRStopSpeaking returns the floor.
func (o *Orchestrator) HRStopSpeaking() error {
	return o.intervention("hr_stop_speaking", func(c *intervene.Controller) error { return c.StopSpeaking() })
}

// ResumeAI hands the interview back to the AI interviewer.
func (o *Orchestrator) ResumeAI() error {
	return o.intervention("resume_ai", func(c *intervene.Controller) error { return c.ResumeAI() })
}

func (o *Orchestrator) intervention(name string, fn func(*intervene.Controller) error) error {
	o.mu.Lock()
	ctl := o.intervener
	o.mu.Unlock()
	if ctl == nil {
		return core.NewAgentError("no voice-agent session bound")
	}
	if err := fn(ctl); err != nil {
		return err
	}
	o.deps.Metrics.RecordIntervention(name)
	return nil
}

// Intervention returns the current intervention flags.
func (o *Orchestrator) Intervention() intervene.Flags {
	o.mu.Lock()
	ctl := o.intervener
	o.mu.Unlock()
	if ctl == nil {
		return intervene.Flags{}
	}
	return ctl.Snapshot()
}

// Close tears the interview down exactly once: agent stopped, capture
// stopped, session disconnected.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.sequencer.Stop()

	o.mu.Lock()
	a := o.agent
	cancel := o.bridgeCtx
	o.bridgeCtx = nil
	startedAt := o.startedAt
	errMsg := o.errMsg
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var agentErr error
	if a != nil {
		agentErr = a.Stop(ctx)
	}
	o.deps.Conference.StopCamera()
	o.deps.Conference.Close()

	outcome := "completed"
	if errMsg != "" {
		outcome = "errored"
	}
	if !startedAt.IsZero() {
		o.deps.Metrics.RecordSessionEnd(string(o.cfg.Role), outcome, time.Since(startedAt))
	}
	o.deps.Logger.Info("interview session closed", "outcome", outcome)
	return agentErr
}

// hrChannel adapts the conferencing microphone to the intervention
// controller's human channel.
type hrChannel struct {
	conf ConferenceSession
}

func (h hrChannel) SetMuted(muted bool) error {
	return h.conf.SetAudioMuted(muted)
}
