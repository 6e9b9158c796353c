package conference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
)

// NativeTrack is implemented by local tracks backed by a WebRTC sender.
// Tracks published to a LiveKit room must expose their native track.
type NativeTrack interface {
	Native() webrtc.TrackLocal
}

// LiveKitConnector establishes conferencing rooms over the LiveKit transport.
type LiveKitConnector struct {
	Logger *slog.Logger
}

var _ Connector = (*LiveKitConnector)(nil)

func (c *LiveKitConnector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Connect joins the room named in the grant using its credential. Remote
// events are delivered through cb on SDK goroutines.
func (c *LiveKitConnector) Connect(ctx context.Context, grant identity.Grant, cb Callbacks) (Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	roomCB := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if cb.OnTrackSubscribed == nil {
					return
				}
				cb.OnTrackSubscribed(participantInfo(rp), remoteTrackKind(track))
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if cb.OnTrackUnsubscribed == nil {
					return
				}
				cb.OnTrackUnsubscribed(participantInfo(rp), remoteTrackKind(track))
			},
			OnLocalTrackPublished: func(pub *lksdk.LocalTrackPublication, lp *lksdk.LocalParticipant) {
				if cb.OnLocalTrackPublished == nil {
					return
				}
				kind := TrackKindAudio
				if pub.Kind() == lksdk.TrackKindVideo {
					kind = TrackKindVideo
				}
				cb.OnLocalTrackPublished(pub.Name(), kind)
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			if cb.OnParticipantJoined != nil {
				cb.OnParticipantJoined(participantInfo(rp))
			}
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			if cb.OnParticipantLeft != nil {
				cb.OnParticipantLeft(participantInfo(rp))
			}
		},
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			if cb.OnDisconnected != nil {
				cb.OnDisconnected(fmt.Sprintf("%v", reason))
			}
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(
		grant.TransportURL,
		grant.Credential,
		roomCB,
		lksdk.WithAutoSubscribe(true),
	)
	if err != nil {
		return nil, core.NewConnectionError(fmt.Sprintf("join session %q: %v", grant.SessionName, err), err)
	}

	c.logger().Info("conferencing session joined",
		"session", grant.SessionName,
		"identity", grant.Identity,
	)
	return &liveRoom{room: room, logger: c.logger()}, nil
}

func remoteTrackKind(track *webrtc.TrackRemote) TrackKind {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		return TrackKindVideo
	}
	return TrackKindAudio
}

func participantInfo(rp *lksdk.RemoteParticipant) ParticipantInfo {
	return ParticipantInfo{
		Identity: rp.Identity(),
		Name:     rp.Name(),
		Role:     identity.FromIdentity(rp.Identity()),
	}
}

type liveRoom struct {
	room   *lksdk.Room
	logger *slog.Logger
}

func (r *liveRoom) Publish(ctx context.Context, track LocalTrack, name string, source TrackSource) (Publication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, ok := track.(NativeTrack)
	if !ok {
		return nil, core.NewConnectionError(fmt.Sprintf("track %q has no native sender", name), nil)
	}

	pub, err := r.room.LocalParticipant.PublishTrack(native.Native(), &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: protocolSource(source),
	})
	if err != nil {
		return nil, core.NewConnectionError(fmt.Sprintf("publish track %q: %v", name, err), err)
	}
	r.logger.Debug("track published", "name", name, "source", string(source))
	return &livePublication{pub: pub}, nil
}

func (r *liveRoom) Disconnect() {
	r.room.Disconnect()
}

func protocolSource(source TrackSource) livekit.TrackSource {
	switch source {
	case SourceCamera:
		return livekit.TrackSource_CAMERA
	case SourceMicrophone, SourceAgentVoice:
		return livekit.TrackSource_MICROPHONE
	default:
		return livekit.TrackSource_UNKNOWN
	}
}

type livePublication struct {
	pub *lksdk.LocalTrackPublication
}

func (p *livePublication) SetMuted(muted bool) error {
	p.pub.SetMuted(muted)
	return nil
}
