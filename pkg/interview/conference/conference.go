// Package conference supervises the multi-party conferencing session for an
// interview: admission, room connection, local capture, and publication.
package conference

import (
	"context"

	"github.com/hirekruit/interviewkit/pkg/interview/identity"
)

// State is the lifecycle state of a conferencing session.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// TrackKind distinguishes local media tracks.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackSource labels what a published track carries.
type TrackSource string

const (
	SourceCamera     TrackSource = "camera"
	SourceMicrophone TrackSource = "microphone"
	// SourceAgentVoice marks the republished synthesized interviewer voice.
	SourceAgentVoice TrackSource = "agent_voice"
)

// PermissionState records the outcome of the capture-device request.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// CaptureProfile is the requested camera capture quality.
type CaptureProfile struct {
	Width     int
	Height    int
	FrameRate int
}

// DefaultCaptureProfile is the interview-grade capture request.
var DefaultCaptureProfile = CaptureProfile{Width: 1280, Height: 720, FrameRate: 30}

// LocalTrack is a captured local media track. Stop releases the underlying
// device and is safe to call more than once.
type LocalTrack interface {
	Kind() TrackKind
	Stop() error
}

// Publication is a track the session has published to the room.
type Publication interface {
	SetMuted(muted bool) error
}

// MediaProvider captures local devices. Implementations are platform
// specific; a capture failure caused by a denied device request must be
// reported via IsPermissionDenied.
type MediaProvider interface {
	Capture(ctx context.Context, profile CaptureProfile) (Capture, error)
	IsPermissionDenied(err error) bool
}

// Capture is the result of a successful device request.
type Capture struct {
	Video LocalTrack
	Audio LocalTrack
}

// RenderTarget is the opaque mount the local camera preview attaches to.
type RenderTarget interface {
	Attach(track LocalTrack)
	Clear()
	SetVisible(visible bool)
}

// ParticipantInfo mirrors a remote participant.
type ParticipantInfo struct {
	Identity string
	Name     string
	Role     identity.Role
}

// Callbacks receives room events. Delivery happens on transport goroutines.
type Callbacks struct {
	OnParticipantJoined   func(ParticipantInfo)
	OnParticipantLeft     func(ParticipantInfo)
	OnTrackSubscribed     func(participant ParticipantInfo, kind TrackKind)
	OnTrackUnsubscribed   func(participant ParticipantInfo, kind TrackKind)
	OnLocalTrackPublished func(name string, kind TrackKind)
	OnDisconnected        func(reason string)
}

// Room is a connected conferencing session.
type Room interface {
	Publish(ctx context.Context, track LocalTrack, name string, source TrackSource) (Publication, error)
	Disconnect()
}

// Connector establishes rooms from admission grants.
type Connector interface {
	Connect(ctx context.Context, grant identity.Grant, cb Callbacks) (Room, error)
}
