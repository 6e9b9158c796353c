package bridge

import (
	"fmt"
	"sync/atomic"

	media "github.com/livekit/media-sdk"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"

	"github.com/hirekruit/interviewkit/pkg/interview/conference"
)

// Opus at these settings lands near the 64 kbps budget for voice.
const (
	DefaultSampleRate  = 48000
	DefaultNumChannels = 1
)

// PCMTrack adapts a synthesized PCM stream to a publishable local track.
type PCMTrack struct {
	track   *lkmedia.PCMLocalTrack
	stopped atomic.Bool
}

var (
	_ conference.LocalTrack  = (*PCMTrack)(nil)
	_ conference.NativeTrack = (*PCMTrack)(nil)
)

func NewPCMTrack(sampleRate, numChannels int) (*PCMTrack, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if numChannels <= 0 {
		numChannels = DefaultNumChannels
	}
	track, err := lkmedia.NewPCMLocalTrack(sampleRate, numChannels, nil)
	if err != nil {
		return nil, fmt.Errorf("create pcm track: %w", err)
	}
	return &PCMTrack{track: track}, nil
}

func (t *PCMTrack) Kind() conference.TrackKind { return conference.TrackKindAudio }

// WriteSample queues synthesized samples for encoding and send.
func (t *PCMTrack) WriteSample(samples media.PCM16Sample) error {
	if t.stopped.Load() {
		return fmt.Errorf("pcm track stopped")
	}
	return t.track.WriteSample(samples)
}

// ClearQueue drops buffered samples, for barge-in.
func (t *PCMTrack) ClearQueue() {
	t.track.ClearQueue()
}

func (t *PCMTrack) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return fmt.Errorf("pcm track already stopped")
	}
	t.track.Close()
	return nil
}

func (t *PCMTrack) Native() webrtc.TrackLocal { return t.track }
