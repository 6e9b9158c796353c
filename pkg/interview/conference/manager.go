package conference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

// Admission exchanges a participant descriptor for a session credential.
type Admission interface {
	Exchange(ctx context.Context, d identity.Descriptor) (identity.Grant, error)
}

// Dependencies wires a Manager to its collaborators.
type Dependencies struct {
	Admission  Admission
	Connector  Connector
	Media      MediaProvider
	Render     RenderTarget // optional; camera preview is skipped when nil
	Transcript *transcript.Log
	Logger     *slog.Logger
}

// Config bounds a Manager.
type Config struct {
	Profile CaptureProfile
}

// Manager owns the conferencing session for one interview: admission,
// connection, capture, and publication. Initialize is idempotent; exactly one
// session exists per Manager.
type Manager struct {
	deps Dependencies
	cfg  Config

	closed atomic.Bool

	mu           sync.Mutex
	initializing bool
	initialized  bool
	state        State
	grant        identity.Grant
	room         Room
	permission   PermissionState
	videoTrack   LocalTrack
	audioTrack   LocalTrack
	videoPub      Publication
	audioPub      Publication
	participants  map[string]ParticipantInfo
	subscriptions map[string]map[TrackKind]bool
}

func New(deps Dependencies, cfg Config) (*Manager, error) {
	if deps.Admission == nil {
		return nil, fmt.Errorf("conference: admission client is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("conference: connector is required")
	}
	if deps.Media == nil {
		return nil, fmt.Errorf("conference: media provider is required")
	}
	if deps.Transcript == nil {
		return nil, fmt.Errorf("conference: transcript log is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Profile == (CaptureProfile{}) {
		cfg.Profile = DefaultCaptureProfile
	}
	return &Manager{
		deps:          deps,
		cfg:           cfg,
		state:         StateNew,
		permission:    PermissionUnknown,
		participants:  make(map[string]ParticipantInfo),
		subscriptions: make(map[string]map[TrackKind]bool),
	}, nil
}

// Initialize admits the participant, joins the room, and publishes local
// capture. Calling it again while a session exists, or while a previous call
// is still in flight, is a no-op. A failed attempt resets the manager so the
// caller may try again; retry policy is the caller's.
func (m *Manager) Initialize(ctx context.Context, d identity.Descriptor) error {
	if m.closed.Load() {
		return core.NewConnectionError("conferencing session is closed", nil)
	}

	m.mu.Lock()
	if m.initialized || m.initializing {
		m.mu.Unlock()
		m.deps.Logger.Debug("conferencing initialize skipped", "initialized", m.initialized)
		return nil
	}
	m.initializing = true
	m.state = StateConnecting
	m.mu.Unlock()

	grant, err := m.deps.Admission.Exchange(ctx, d)
	if err != nil {
		m.reset()
		return err
	}

	room, err := m.deps.Connector.Connect(ctx, grant, Callbacks{
		OnParticipantJoined:   m.onParticipantJoined,
		OnParticipantLeft:     m.onParticipantLeft,
		OnTrackSubscribed:     m.onTrackSubscribed,
		OnTrackUnsubscribed:   m.onTrackUnsubscribed,
		OnLocalTrackPublished: m.onLocalTrackPublished,
		OnDisconnected:        m.onDisconnected,
	})
	if err != nil {
		m.reset()
		var coreErr *core.Error
		if !errors.As(err, &coreErr) {
			return core.NewConnectionError(err.Error(), err)
		}
		return err
	}

	// The session may have been torn down while the join was in flight.
	if m.closed.Load() || ctx.Err() != nil {
		room.Disconnect()
		m.reset()
		if err := ctx.Err(); err != nil {
			return err
		}
		return core.NewConnectionError("conferencing session closed during connect", nil)
	}

	capture, videoPub, audioPub, permission := m.publishCapture(ctx, room, grant)

	m.mu.Lock()
	m.grant = grant
	m.room = room
	m.videoTrack = capture.Video
	m.audioTrack = capture.Audio
	m.videoPub = videoPub
	m.audioPub = audioPub
	m.permission = permission
	m.initialized = true
	m.initializing = false
	m.state = StateConnected
	m.mu.Unlock()

	if m.deps.Render != nil && capture.Video != nil {
		m.deps.Render.Attach(capture.Video)
	}
	return nil
}

// publishCapture requests local devices and publishes what it gets. Device
// denial degrades to an audio/video-less session instead of failing the join.
func (m *Manager) publishCapture(ctx context.Context, room Room, grant identity.Grant) (Capture, Publication, Publication, PermissionState) {
	capture, err := m.deps.Media.Capture(ctx, m.cfg.Profile)
	if err != nil {
		if m.deps.Media.IsPermissionDenied(err) {
			m.deps.Logger.Warn("capture devices denied, continuing without local media",
				"identity", grant.Identity, "err", err)
			return Capture{}, nil, nil, PermissionDenied
		}
		m.deps.Logger.Error("capture devices unavailable, continuing without local media",
			"identity", grant.Identity, "err", err)
		return Capture{}, nil, nil, PermissionDenied
	}

	var videoPub, audioPub Publication
	if capture.Audio != nil {
		audioPub, err = room.Publish(ctx, capture.Audio, grant.Identity+"_mic", SourceMicrophone)
		if err != nil {
			m.deps.Logger.Error("publish microphone failed", "err", err)
		}
	}
	if capture.Video != nil {
		videoPub, err = room.Publish(ctx, capture.Video, grant.Identity+"_camera", SourceCamera)
		if err != nil {
			m.deps.Logger.Error("publish camera failed", "err", err)
		}
	}
	return capture, videoPub, audioPub, PermissionGranted
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.initializing = false
	m.initialized = false
	m.state = StateNew
	m.mu.Unlock()
}

func (m *Manager) onParticipantJoined(p ParticipantInfo) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	m.participants[p.Identity] = p
	announce := m.initialized && p.Role == identity.RoleHR
	m.mu.Unlock()

	m.deps.Logger.Info("participant joined", "identity", p.Identity, "role", string(p.Role))
	if announce {
		m.deps.Transcript.AppendSystem(fmt.Sprintf("HR %s joined the interview", displayName(p)))
	}
}

func (m *Manager) onParticipantLeft(p ParticipantInfo) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	delete(m.participants, p.Identity)
	delete(m.subscriptions, p.Identity)
	announce := m.initialized && p.Role == identity.RoleHR
	m.mu.Unlock()

	m.deps.Logger.Info("participant left", "identity", p.Identity, "role", string(p.Role))
	if announce {
		m.deps.Transcript.AppendSystem(fmt.Sprintf("HR %s left the interview", displayName(p)))
	}
}

func (m *Manager) onTrackSubscribed(p ParticipantInfo, kind TrackKind) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	set := m.subscriptions[p.Identity]
	if set == nil {
		set = make(map[TrackKind]bool)
		m.subscriptions[p.Identity] = set
	}
	set[kind] = true
	m.mu.Unlock()
	m.deps.Logger.Info("remote track subscribed", "identity", p.Identity, "kind", string(kind))
}

func (m *Manager) onTrackUnsubscribed(p ParticipantInfo, kind TrackKind) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	if set := m.subscriptions[p.Identity]; set != nil {
		delete(set, kind)
		if len(set) == 0 {
			delete(m.subscriptions, p.Identity)
		}
	}
	m.mu.Unlock()
	m.deps.Logger.Info("remote track unsubscribed", "identity", p.Identity, "kind", string(kind))
}

func (m *Manager) onLocalTrackPublished(name string, kind TrackKind) {
	if m.closed.Load() {
		return
	}
	m.deps.Logger.Info("local track published", "name", name, "kind", string(kind))
}

func (m *Manager) onDisconnected(reason string) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.deps.Logger.Warn("conferencing session disconnected", "reason", reason)
}

// StopCamera stops the local camera and clears the preview. It never fails:
// already-stopped tracks are logged and skipped.
func (m *Manager) StopCamera() {
	m.mu.Lock()
	track := m.videoTrack
	m.videoTrack = nil
	m.videoPub = nil
	m.mu.Unlock()

	if track != nil {
		if err := track.Stop(); err != nil {
			m.deps.Logger.Debug("camera track already stopped", "err", err)
		}
	}
	if m.deps.Render != nil {
		m.deps.Render.Clear()
	}
}

// SetVideoMuted mutes or unmutes the published camera track without stopping
// capture, and mirrors the state onto the preview.
func (m *Manager) SetVideoMuted(muted bool) error {
	m.mu.Lock()
	pub := m.videoPub
	m.mu.Unlock()

	if pub == nil {
		return core.NewConnectionError("no camera track published", nil)
	}
	if err := pub.SetMuted(muted); err != nil {
		return core.NewConnectionError(fmt.Sprintf("set camera muted=%v: %v", muted, err), err)
	}
	if m.deps.Render != nil {
		m.deps.Render.SetVisible(!muted)
	}
	return nil
}

// SetAudioMuted mutes or unmutes the published microphone track.
func (m *Manager) SetAudioMuted(muted bool) error {
	m.mu.Lock()
	pub := m.audioPub
	m.mu.Unlock()

	if pub == nil {
		return core.NewConnectionError("no microphone track published", nil)
	}
	if err := pub.SetMuted(muted); err != nil {
		return core.NewConnectionError(fmt.Sprintf("set microphone muted=%v: %v", muted, err), err)
	}
	return nil
}

// PublishTrack publishes an additional local track on the session, for
// callers that synthesize media (the agent-voice bridge).
func (m *Manager) PublishTrack(ctx context.Context, track LocalTrack, name string, source TrackSource) (Publication, error) {
	m.mu.Lock()
	room := m.room
	ok := m.initialized
	m.mu.Unlock()

	if !ok || room == nil {
		return nil, core.NewConnectionError("conferencing session not initialized", nil)
	}
	return room.Publish(ctx, track, name, source)
}

// Close tears the session down: local tracks stopped, room disconnected.
// Events arriving after Close are dropped.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	video, audio, room := m.videoTrack, m.audioTrack, m.room
	m.videoTrack, m.audioTrack, m.room = nil, nil, nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if video != nil {
		if err := video.Stop(); err != nil {
			m.deps.Logger.Debug("camera track already stopped", "err", err)
		}
	}
	if audio != nil {
		if err := audio.Stop(); err != nil {
			m.deps.Logger.Debug("microphone track already stopped", "err", err)
		}
	}
	if m.deps.Render != nil {
		m.deps.Render.Clear()
	}
	if room != nil {
		room.Disconnect()
	}
	m.deps.Logger.Info("conferencing session closed")
}

// State returns the session lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialized reports whether a session is established.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Permission returns the capture-device permission outcome.
func (m *Manager) Permission() PermissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

// Grant returns the admission grant for the established session.
func (m *Manager) Grant() identity.Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grant
}

// TrackSubscribed reports whether a remote track of the given kind is
// currently subscribed for the participant.
func (m *Manager) TrackSubscribed(participantIdentity string, kind TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[participantIdentity][kind]
}

// Participants returns a snapshot of the remote participant mirror.
func (m *Manager) Participants() []ParticipantInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ParticipantInfo, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p)
	}
	return out
}

func displayName(p ParticipantInfo) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Identity
}
