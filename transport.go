package voicecall

import (
	"context"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Connector opens a room connection. Implementations must return promptly
// once ctx is cancelled and tear down any room that resolves afterwards.
type Connector interface {
	Connect(ctx context.Context, serverURL, token string) (Room, error)
}

// Room is a live connection as seen by the session.
type Room interface {
	// Subscribe installs handlers. Events that happened before the first
	// Subscribe are replayed to it; after cancel nothing is delivered.
	Subscribe(handlers RoomHandlers) (cancel func())
	// PublishAudio publishes the captured audio and keeps pumping samples
	// into the room until ctx is done or the audio is closed.
	PublishAudio(ctx context.Context, audio LocalAudio) error
	// Disconnect requests teardown. OnDisconnected follows, exactly once.
	Disconnect()
}

// RoomHandlers must not block; they run on transport goroutines.
type RoomHandlers struct {
	OnTrackSubscribed      func(track RemoteTrack)
	OnParticipantConnected func(identity string)
	OnDisconnected         func(reason string)
}

type RemoteTrack interface {
	SID() string
	Kind() webrtc.RTPCodecType
	Participant() string
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, error)
}

type SampleWriter interface {
	WriteSample(sample media.Sample) error
}

// LocalAudio is a captured microphone stream. Close releases the device.
type LocalAudio interface {
	Codec() webrtc.RTPCodecCapability
	Pump(ctx context.Context, w SampleWriter)
	Close() error
}

type AudioSource interface {
	Capture(ctx context.Context) (LocalAudio, error)
}

// Renderer turns a remote track into audible output. Closing the returned
// handle stops playback.
type Renderer interface {
	Attach(ctx context.Context, track RemoteTrack) (io.Closer, error)
}

// AudioElement is one rendered remote track.
type AudioElement struct {
	TrackSID    string
	Participant string
	AgentAudio  bool
	Output      io.Closer
}

// Presenter is the UI side of a CallSession. Its methods may be invoked with
// the session lock held and must not call back into the session.
type Presenter interface {
	SetState(state State)
	SetStatus(text string)
	MountAudio(el *AudioElement)
	RemoveAgentAudio()
}
