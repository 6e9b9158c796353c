package conference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

type fakeAdmission struct {
	calls atomic.Int64
	err   error
}

func (f *fakeAdmission) Exchange(ctx context.Context, d identity.Descriptor) (identity.Grant, error) {
	f.calls.Add(1)
	if f.err != nil {
		return identity.Grant{}, f.err
	}
	id, err := identity.Derive(d, nil)
	if err != nil {
		return identity.Grant{}, err
	}
	return identity.Grant{
		Credential:   "tok",
		TransportURL: "wss://conf.test",
		SessionName:  "interview_" + d.CandidateRef + "_" + d.Category,
		Identity:     id,
		Role:         d.Role,
	}, nil
}

type fakeRoom struct {
	mu           sync.Mutex
	published    []string
	disconnected bool
	publishErr   error
}

func (r *fakeRoom) Publish(ctx context.Context, track LocalTrack, name string, source TrackSource) (Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return nil, r.publishErr
	}
	r.published = append(r.published, name+"/"+string(source))
	return &fakePublication{}, nil
}

func (r *fakeRoom) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

type fakePublication struct {
	muted atomic.Bool
}

func (p *fakePublication) SetMuted(muted bool) error {
	p.muted.Store(muted)
	return nil
}

type fakeConnector struct {
	calls atomic.Int64
	room  *fakeRoom
	err   error
	cb    Callbacks
}

func (c *fakeConnector) Connect(ctx context.Context, grant identity.Grant, cb Callbacks) (Room, error) {
	c.calls.Add(1)
	c.cb = cb
	if c.err != nil {
		return nil, c.err
	}
	return c.room, nil
}

type fakeTrack struct {
	kind  TrackKind
	stops atomic.Int64
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Stop() error {
	if t.stops.Add(1) > 1 {
		return errors.New("already stopped")
	}
	return nil
}

type fakeMedia struct {
	denied     bool
	captureErr error
	video      *fakeTrack
	audio      *fakeTrack
}

func (m *fakeMedia) Capture(ctx context.Context, profile CaptureProfile) (Capture, error) {
	if m.captureErr != nil {
		return Capture{}, m.captureErr
	}
	if m.video == nil {
		m.video = &fakeTrack{kind: TrackKindVideo}
	}
	if m.audio == nil {
		m.audio = &fakeTrack{kind: TrackKindAudio}
	}
	return Capture{Video: m.video, Audio: m.audio}, nil
}

func (m *fakeMedia) IsPermissionDenied(err error) bool { return m.denied }

type fakeRender struct {
	mu       sync.Mutex
	attached LocalTrack
	visible  bool
	clears   int
}

func (r *fakeRender) Attach(track LocalTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = track
	r.visible = true
}

func (r *fakeRender) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = nil
	r.clears++
}

func (r *fakeRender) SetVisible(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visible = visible
}

func newTestManager(t *testing.T) (*Manager, *fakeAdmission, *fakeConnector, *fakeMedia, *fakeRender, *transcript.Log) {
	t.Helper()
	adm := &fakeAdmission{}
	conn := &fakeConnector{room: &fakeRoom{}}
	media := &fakeMedia{}
	render := &fakeRender{}
	log := transcript.NewLog()
	m, err := New(Dependencies{
		Admission:  adm,
		Connector:  conn,
		Media:      media,
		Render:     render,
		Transcript: log,
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, adm, conn, media, render, log
}

func candidateDesc() identity.Descriptor {
	return identity.Descriptor{Role: identity.RoleCandidate, CandidateRef: "dc42", Category: "technical"}
}

func TestManager_Initialize_PublishesAndAttaches(t *testing.T) {
	m, _, conn, media, render, _ := newTestManager(t)

	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("state=%v, want connected", m.State())
	}
	if m.Permission() != PermissionGranted {
		t.Fatalf("permission=%v, want granted", m.Permission())
	}
	if got := len(conn.room.published); got != 2 {
		t.Fatalf("published=%d, want 2", got)
	}
	for _, p := range conn.room.published {
		if !strings.HasPrefix(p, "candidate_dc42_") {
			t.Fatalf("publication %q not named for identity", p)
		}
	}
	if render.attached != media.video {
		t.Fatalf("render target not attached to camera track")
	}
}

func TestManager_Initialize_Idempotent(t *testing.T) {
	m, adm, conn, _, _, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if adm.calls.Load() != 1 || conn.calls.Load() != 1 {
		t.Fatalf("exchange=%d connect=%d, want 1/1", adm.calls.Load(), conn.calls.Load())
	}
}

func TestManager_Initialize_AdmissionFailureResets(t *testing.T) {
	m, adm, conn, _, _, _ := newTestManager(t)
	adm.err = core.NewAdmissionError("interview not found", 404)

	err := m.Initialize(context.Background(), candidateDesc())
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrAdmission {
		t.Fatalf("err=%v, want admission error", err)
	}
	if m.State() != StateNew || m.Initialized() {
		t.Fatalf("state=%v initialized=%v, want new/false", m.State(), m.Initialized())
	}

	// A later attempt runs the full sequence again.
	adm.err = nil
	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if adm.calls.Load() != 2 || conn.calls.Load() != 1 {
		t.Fatalf("exchange=%d connect=%d, want 2/1", adm.calls.Load(), conn.calls.Load())
	}
}

func TestManager_Initialize_PermissionDeniedIsNonFatal(t *testing.T) {
	m, _, conn, media, render, _ := newTestManager(t)
	media.captureErr = errors.New("NotAllowedError")
	media.denied = true

	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.Permission() != PermissionDenied {
		t.Fatalf("permission=%v, want denied", m.Permission())
	}
	if m.State() != StateConnected {
		t.Fatalf("state=%v, want connected (denial must not fail the join)", m.State())
	}
	if len(conn.room.published) != 0 {
		t.Fatalf("published=%d, want 0", len(conn.room.published))
	}
	if render.attached != nil {
		t.Fatalf("render target attached without camera")
	}
}

func TestManager_Initialize_ClosedDuringConnect(t *testing.T) {
	m, _, conn, _, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Initialize(ctx, candidateDesc()); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	// Connector short-circuits on a dead context in production; here the fake
	// connected, so the room must have been released.
	if conn.calls.Load() == 1 && !conn.room.disconnected {
		t.Fatalf("room not disconnected after cancelled connect")
	}
	if m.Initialized() {
		t.Fatalf("manager initialized after cancelled connect")
	}
}

func TestManager_StopCamera_Idempotent(t *testing.T) {
	m, _, _, media, render, _ := newTestManager(t)
	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.StopCamera()
	m.StopCamera()
	if media.video.stops.Load() != 1 {
		t.Fatalf("stops=%d, want 1", media.video.stops.Load())
	}
	if render.clears < 1 {
		t.Fatalf("render target not cleared")
	}
}

func TestManager_Toggles(t *testing.T) {
	m, _, _, _, render, _ := newTestManager(t)
	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := m.SetVideoMuted(true); err != nil {
		t.Fatalf("SetVideoMuted: %v", err)
	}
	if render.visible {
		t.Fatalf("preview visible while camera muted")
	}
	if err := m.SetVideoMuted(false); err != nil {
		t.Fatalf("SetVideoMuted: %v", err)
	}
	if !render.visible {
		t.Fatalf("preview hidden while camera unmuted")
	}
	if err := m.SetAudioMuted(true); err != nil {
		t.Fatalf("SetAudioMuted: %v", err)
	}
}

func TestManager_HRJoinLeaveAnnounced(t *testing.T) {
	m, _, conn, _, _, log := newTestManager(t)
	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	hr := ParticipantInfo{Identity: "hr_priya_1764000000123", Name: "Priya", Role: identity.RoleHR}
	conn.cb.OnParticipantJoined(hr)
	conn.cb.OnParticipantLeft(hr)

	entries := log.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want 2", len(entries))
	}
	if entries[0].Role != transcript.RoleSystem || !strings.Contains(entries[0].Content, "joined") {
		t.Fatalf("entry=%+v, want system joined", entries[0])
	}
	if !strings.Contains(entries[1].Content, "left") {
		t.Fatalf("entry=%+v, want system left", entries[1])
	}
}

func TestManager_TrackEventsMirrored(t *testing.T) {
	m, _, conn, _, _, _ := newTestManager(t)
	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if conn.cb.OnTrackSubscribed == nil || conn.cb.OnTrackUnsubscribed == nil || conn.cb.OnLocalTrackPublished == nil {
		t.Fatalf("track callbacks not registered with the connector")
	}

	hr := ParticipantInfo{Identity: "hr_priya_1764000000123", Name: "Priya", Role: identity.RoleHR}
	conn.cb.OnTrackSubscribed(hr, TrackKindAudio)
	conn.cb.OnTrackSubscribed(hr, TrackKindVideo)
	if !m.TrackSubscribed(hr.Identity, TrackKindAudio) || !m.TrackSubscribed(hr.Identity, TrackKindVideo) {
		t.Fatalf("subscribed tracks not mirrored")
	}

	conn.cb.OnTrackUnsubscribed(hr, TrackKindVideo)
	if m.TrackSubscribed(hr.Identity, TrackKindVideo) {
		t.Fatalf("video still mirrored after unsubscribe")
	}
	if !m.TrackSubscribed(hr.Identity, TrackKindAudio) {
		t.Fatalf("audio dropped by video unsubscribe")
	}

	conn.cb.OnParticipantLeft(hr)
	if m.TrackSubscribed(hr.Identity, TrackKindAudio) {
		t.Fatalf("subscriptions survive participant departure")
	}

	// Local publication events only log; delivery must not panic.
	conn.cb.OnLocalTrackPublished("candidate_dc42_mic", TrackKindAudio)
}

func TestManager_Close_StopsTracksOnce(t *testing.T) {
	m, _, conn, media, _, _ := newTestManager(t)
	if err := m.Initialize(context.Background(), candidateDesc()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.Close()
	m.Close()
	if media.video.stops.Load() != 1 || media.audio.stops.Load() != 1 {
		t.Fatalf("stops=%d/%d, want 1/1", media.video.stops.Load(), media.audio.stops.Load())
	}
	if !conn.room.disconnected {
		t.Fatalf("room not disconnected")
	}

	// Late events after close must be dropped.
	conn.cb.OnParticipantJoined(ParticipantInfo{Identity: "hr_x_1", Role: identity.RoleHR})
	if len(m.Participants()) != 0 {
		t.Fatalf("participant recorded after close")
	}
}
